// Package testutil builds small load tables and input trees for tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lox/loadscale/internal/models"
)

// Sub describes one subsector of a generated table. Load returns the MW value
// for a state and 0-based hour; nil means all zeros.
type Sub struct {
	Sector string
	Name   string
	Load   func(state string, hour int) float64
}

// Constant returns a load function yielding v everywhere.
func Constant(v float64) func(string, int) float64 {
	return func(string, int) float64 { return v }
}

// FirstHours returns a load function yielding v for hours < n and 0 after.
func FirstHours(n int, v float64) func(string, int) float64 {
	return func(_ string, h int) float64 {
		if h < n {
			return v
		}
		return 0
	}
}

// Datetime renders hour h of the weather year the way the source data does.
func Datetime(h int) string {
	return time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(h) * time.Hour).Format("2006-01-02 15:04:05")
}

// BuildTable returns a table in the source layout with hours rows per subsector.
func BuildTable(scenario string, year, hours int, states []string, subs ...Sub) *models.LoadTable {
	t := &models.LoadTable{
		Scenario: scenario,
		Year:     year,
		Header:   append([]string{models.ColWeatherDatetime, models.ColSector, models.ColSubsector}, states...),
		States:   append([]string(nil), states...),
	}
	for _, s := range subs {
		sector := s.Sector
		if sector == "" {
			sector = "commercial"
		}
		for h := 0; h < hours; h++ {
			row := models.LoadRow{
				Sector:          sector,
				Subsector:       s.Name,
				WeatherDatetime: Datetime(h),
				Values:          make([]float64, len(states)),
			}
			if s.Load != nil {
				for j, st := range states {
					row.Values[j] = s.Load(st, h)
				}
			}
			t.Rows = append(t.Rows, row)
		}
	}
	return t
}

// ColumnSum sums the state column of every row of subsector.
func ColumnSum(t *models.LoadTable, subsector, state string) float64 {
	j := t.StateIndex(state)
	var sum float64
	for _, r := range t.Rows {
		if r.Subsector == subsector {
			sum += r.Values[j]
		}
	}
	return sum
}

// WriteFile writes content under dir, creating parents.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// TargetsCSV renders a scaling targets file from a header of states and
// rows of (scenario, group, year, values...). Empty strings stay blank.
func TargetsCSV(states []string, rows ...[]string) string {
	var b strings.Builder
	b.WriteString("scenario,subsector_group,year")
	for _, s := range states {
		b.WriteString("," + s)
	}
	b.WriteString("\n")
	for _, r := range rows {
		for i, c := range r {
			if i > 0 {
				b.WriteString(",")
			}
			if strings.ContainsAny(c, ",\"") {
				c = fmt.Sprintf("%q", c)
			}
			b.WriteString(c)
		}
		b.WriteString("\n")
	}
	return b.String()
}
