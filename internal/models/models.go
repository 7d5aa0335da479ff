package models

import (
	"cmp"
	"fmt"
	"slices"
)

// Identifying columns of a shape file. Every other column holds one
// state's hourly load in MW.
const (
	ColSector          = "sector"
	ColSubsector       = "subsector"
	ColWeatherDatetime = "weather_datetime"
)

// DefaultHours is the hour count of a non-leap model year.
const DefaultHours = 8760

// Unit is one scenario/year shape file.
type Unit struct {
	Scenario string
	Year     int
	Path     string
}

func (u Unit) String() string {
	return fmt.Sprintf("%s/%d", u.Scenario, u.Year)
}

type LoadRow struct {
	Sector          string
	Subsector       string
	WeatherDatetime string
	Values          []float64 // aligned with LoadTable.States
}

// LoadTable is the hourly load of one scenario/year in the long layout of
// the source data: one row per (subsector, hour), one column per state.
type LoadTable struct {
	Scenario string
	Year     int
	Header   []string // original column order
	States   []string // value columns in header order
	Rows     []LoadRow
}

// StateIndex returns the value column index of state, or -1.
func (t *LoadTable) StateIndex(state string) int {
	return slices.Index(t.States, state)
}

// SubsectorRows returns row indices per subsector in row order.
func (t *LoadTable) SubsectorRows() map[string][]int {
	idx := make(map[string][]int)
	for i, r := range t.Rows {
		idx[r.Subsector] = append(idx[r.Subsector], i)
	}
	return idx
}

// Subsectors returns the distinct subsectors in first-seen order.
func (t *LoadTable) Subsectors() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range t.Rows {
		if !seen[r.Subsector] {
			seen[r.Subsector] = true
			out = append(out, r.Subsector)
		}
	}
	return out
}

// Clone returns a deep copy whose values can be modified independently.
func (t *LoadTable) Clone() *LoadTable {
	c := &LoadTable{
		Scenario: t.Scenario,
		Year:     t.Year,
		Header:   slices.Clone(t.Header),
		States:   slices.Clone(t.States),
		Rows:     make([]LoadRow, len(t.Rows)),
	}
	for i, r := range t.Rows {
		r.Values = slices.Clone(r.Values)
		c.Rows[i] = r
	}
	return c
}

type SubsectorGroup struct {
	Name    string
	Members []string
}

type TargetKey struct {
	Scenario string
	Group    string
	Year     int
	State    string
}

func (k TargetKey) String() string {
	return fmt.Sprintf("%s/%q/%d/%s", k.Scenario, k.Group, k.Year, k.State)
}

// Compare orders keys by scenario, year, group, state.
func (k TargetKey) Compare(o TargetKey) int {
	switch {
	case k.Scenario != o.Scenario:
		return cmp.Compare(k.Scenario, o.Scenario)
	case k.Year != o.Year:
		return cmp.Compare(k.Year, o.Year)
	case k.Group != o.Group:
		return cmp.Compare(k.Group, o.Group)
	default:
		return cmp.Compare(k.State, o.State)
	}
}

type ScalingTarget struct {
	Key TargetKey
	MWh float64
	// Interpolated is set when the target was derived from neighbouring years.
	Interpolated bool
}

type ScaleFactor struct {
	Key        TargetKey
	CurrentMWh float64
	TargetMWh  float64
	Factor     float64
}

const (
	KindSubsector = "subsector"
	KindGroup     = "group"
)

type SummaryRow struct {
	Scenario string
	Year     int
	Kind     string // KindSubsector or KindGroup
	Name     string
	State    string
	TotalMWh float64
}
