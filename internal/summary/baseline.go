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

// BaselineRow is the unscaled annual energy of one group in one
// scenario/year, keyed by state.
type BaselineRow struct {
	Scenario string
	Group    string
	Year     int
	Totals   map[string]float64
}

// Baseline returns the pre-scaling totals of each group in t. Members absent
// from t contribute nothing, so a group with no members present totals zero.
func Baseline(t *models.LoadTable, groups []models.SubsectorGroup) []BaselineRow {
	rowsBySub := t.SubsectorRows()
	out := make([]BaselineRow, 0, len(groups))
	for _, g := range groups {
		row := BaselineRow{Scenario: t.Scenario, Group: g.Name, Year: t.Year, Totals: make(map[string]float64, len(t.States))}
		for j, st := range t.States {
			var sum float64
			for _, m := range g.Members {
				for _, r := range rowsBySub[m] {
					sum += t.Rows[r].Values[j]
				}
			}
			row.Totals[st] = sum
		}
		out = append(out, row)
	}
	return out
}

// WriteBaseline replaces path with rows in the layout of the scaling targets
// file, so the two can be compared column by column.
func WriteBaseline(path string, states []string, rows []BaselineRow) error {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b BaselineRow) int {
		return cmp.Or(
			cmp.Compare(a.Scenario, b.Scenario),
			cmp.Compare(a.Group, b.Group),
			cmp.Compare(a.Year, b.Year),
		)
	})

	return fsutil.WriteAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(append([]string{"scenario", "subsector_group", "year"}, states...)); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for _, r := range sorted {
			rec := []string{r.Scenario, r.Group, strconv.Itoa(r.Year)}
			for _, st := range states {
				if v, ok := r.Totals[st]; ok {
					rec = append(rec, shape.FormatValue(v))
				} else {
					rec = append(rec, "")
				}
			}
			if err := cw.Write(rec); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}
		cw.Flush()
		return cw.Error()
	})
}
