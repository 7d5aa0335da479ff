// Package summary derives annual and hourly totals from scaled load tables
// and writes the per-scenario summary files.
package summary

import (
	"cmp"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/lox/loadscale/internal/fsutil"
	"github.com/lox/loadscale/internal/models"
	"github.com/lox/loadscale/internal/shape"
)

const (
	SummaryFile  = "summary.csv"
	ShapesFile   = "summary_shapes.csv"
	BaselineFile = "original_energy_values.csv"
)

var summaryHeader = []string{"scenario", "year", "kind", "name", "state", "total_mwh"}

// Unit holds everything the scenario summaries need from one scaled table,
// so the table itself can be released once the unit is written.
type Unit struct {
	Scenario string
	Year     int
	Rows     []models.SummaryRow
	Shapes   *Shapes
}

// Summarize computes the annual totals of t per subsector and state, per
// group and state for the given groups, and the hourly sector shapes.
func Summarize(t *models.LoadTable, groups []models.SubsectorGroup) *Unit {
	return &Unit{
		Scenario: t.Scenario,
		Year:     t.Year,
		Rows:     Build(t, groups),
		Shapes:   BuildShapes(t),
	}
}

// Build returns one row per (subsector, state) and one per (group, state).
// Groups with a member missing from t are skipped.
func Build(t *models.LoadTable, groups []models.SubsectorGroup) []models.SummaryRow {
	totals := make(map[string][]float64)
	for _, r := range t.Rows {
		sums, ok := totals[r.Subsector]
		if !ok {
			sums = make([]float64, len(t.States))
			totals[r.Subsector] = sums
		}
		for j, v := range r.Values {
			sums[j] += v
		}
	}

	var rows []models.SummaryRow
	add := func(kind, name string, sums []float64) {
		for j, st := range t.States {
			rows = append(rows, models.SummaryRow{
				Scenario: t.Scenario,
				Year:     t.Year,
				Kind:     kind,
				Name:     name,
				State:    st,
				TotalMWh: sums[j],
			})
		}
	}

	for _, sub := range t.Subsectors() {
		add(models.KindSubsector, sub, totals[sub])
	}

groups:
	for _, g := range groups {
		sums := make([]float64, len(t.States))
		for _, m := range g.Members {
			memberSums, ok := totals[m]
			if !ok {
				continue groups
			}
			for j := range sums {
				sums[j] += memberSums[j]
			}
		}
		add(models.KindGroup, g.Name, sums)
	}

	SortRows(rows)
	return rows
}

// SortRows orders rows by scenario, year, kind, name and state.
func SortRows(rows []models.SummaryRow) {
	slices.SortStableFunc(rows, func(a, b models.SummaryRow) int {
		return cmp.Or(
			cmp.Compare(a.Scenario, b.Scenario),
			cmp.Compare(a.Year, b.Year),
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.State, b.State),
		)
	})
}

// Scenario accumulates unit summaries of one scenario across years.
type Scenario struct {
	Name  string
	units []*Unit
}

func NewScenario(name string) *Scenario {
	return &Scenario{Name: name}
}

func (s *Scenario) Add(u *Unit) {
	s.units = append(s.units, u)
	slices.SortFunc(s.units, func(a, b *Unit) int { return cmp.Compare(a.Year, b.Year) })
}

// Rows returns every summary row of the scenario, sorted.
func (s *Scenario) Rows() []models.SummaryRow {
	var rows []models.SummaryRow
	for _, u := range s.units {
		rows = append(rows, u.Rows...)
	}
	SortRows(rows)
	return rows
}

// WriteSummary replaces the annual totals file at path.
func (s *Scenario) WriteSummary(path string) error {
	return fsutil.WriteAtomic(path, func(w io.Writer) error {
		return EncodeRows(w, s.Rows())
	})
}

// EncodeRows writes rows as CSV with a header.
func EncodeRows(w io.Writer, rows []models.SummaryRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		rec := []string{r.Scenario, strconv.Itoa(r.Year), r.Kind, r.Name, r.State, shape.FormatValue(r.TotalMWh)}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteShapes replaces the hourly shape summary file at path.
func (s *Scenario) WriteShapes(path string) error {
	byYear := make(map[int]*Shapes, len(s.units))
	for _, u := range s.units {
		byYear[u.Year] = u.Shapes
	}
	return fsutil.WriteAtomic(path, func(w io.Writer) error {
		return EncodeShapes(w, byYear)
	})
}
