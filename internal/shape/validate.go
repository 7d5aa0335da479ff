package shape

import (
	"fmt"
	"math"

	"github.com/lox/loadscale/internal/models"
)

const (
	FlagNegativeLoad  = "negative_load"
	FlagNonFiniteLoad = "non_finite_load"
	FlagHourCount     = "hour_count"
)

// Issue is a single structural defect found in a load table.
type Issue struct {
	Flag      string
	Subsector string
	State     string
	Row       int // 0-based data row, -1 when not row specific
	Detail    string
}

func (i Issue) String() string {
	if i.Row >= 0 {
		return fmt.Sprintf("%s: row %d subsector %q state %s: %s", i.Flag, i.Row+1, i.Subsector, i.State, i.Detail)
	}
	return fmt.Sprintf("%s: subsector %q: %s", i.Flag, i.Subsector, i.Detail)
}

// ValidateTable checks that every subsector has exactly hours rows and that
// every value is finite and non-negative.
func ValidateTable(t *models.LoadTable, hours int) []Issue {
	var issues []Issue

	for i, r := range t.Rows {
		for j, v := range r.Values {
			switch {
			case math.IsNaN(v) || math.IsInf(v, 0):
				issues = append(issues, Issue{Flag: FlagNonFiniteLoad, Subsector: r.Subsector, State: t.States[j], Row: i, Detail: fmt.Sprint(v)})
			case v < 0:
				issues = append(issues, Issue{Flag: FlagNegativeLoad, Subsector: r.Subsector, State: t.States[j], Row: i, Detail: fmt.Sprint(v)})
			}
		}
	}

	if len(t.Rows) == 0 && hours > 0 {
		issues = append(issues, Issue{
			Flag:   FlagHourCount,
			Row:    -1,
			Detail: fmt.Sprintf("no rows, want %d per subsector", hours),
		})
	}

	counts := make(map[string]int)
	for _, r := range t.Rows {
		counts[r.Subsector]++
	}
	for _, sub := range t.Subsectors() {
		if counts[sub] != hours {
			issues = append(issues, Issue{
				Flag:      FlagHourCount,
				Subsector: sub,
				Row:       -1,
				Detail:    fmt.Sprintf("%d rows, want %d", counts[sub], hours),
			})
		}
	}

	return issues
}
