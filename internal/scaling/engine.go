// Package scaling rescales the hourly load of subsector groups so that each
// group's annual energy in a state matches its target, keeping the hourly
// shape: every value of a group's members in that state is multiplied by the
// same factor. Subsectors and states without a target pass through untouched.
//
// Scale is a pure function of its inputs. Targets are applied in key order
// and sums accumulate in row order, so identical inputs give bit-identical
// results.
package scaling

import (
	"fmt"
	"slices"

	"github.com/hashicorp/go-multierror"

	"github.com/lox/loadscale/internal/errors"
	"github.com/lox/loadscale/internal/models"
)

// GroupResolver maps a subsector group name to its members.
type GroupResolver func(name string) (models.SubsectorGroup, bool)

type cell struct {
	subsector string
	state     string
}

type plan struct {
	target  models.ScalingTarget
	rows    []int
	column  int
	current float64
}

// Scale returns a scaled copy of table and the factor applied per target.
// The input table is not modified.
func Scale(table *models.LoadTable, targets []models.ScalingTarget, groups GroupResolver) (*models.LoadTable, []models.ScaleFactor, error) {
	plans, err := buildPlans(table, targets, groups)
	if err != nil {
		return nil, nil, err
	}

	factors := make([]models.ScaleFactor, 0, len(plans))
	var zeroBase *multierror.Error
	for _, p := range plans {
		f, err := Factor(p.current, p.target.MWh)
		if err != nil {
			var se *errors.ScaleError
			if errors.As(err, &se) {
				k := p.target.Key
				se.WithUnit(k.Scenario, k.Year).WithState(k.State).WithGroup(k.Group)
			}
			zeroBase = multierror.Append(zeroBase, err)
			continue
		}
		factors = append(factors, models.ScaleFactor{
			Key:        p.target.Key,
			CurrentMWh: p.current,
			TargetMWh:  p.target.MWh,
			Factor:     f,
		})
	}
	if err := zeroBase.ErrorOrNil(); err != nil {
		return nil, nil, err
	}

	out := table.Clone()
	for i, p := range plans {
		f := factors[i].Factor
		if f == 1 {
			continue
		}
		for _, r := range p.rows {
			out.Rows[r].Values[p.column] *= f
		}
	}
	return out, factors, nil
}

// Factor returns target/current. A zero baseline scales only to a zero
// target, with factor 1.
func Factor(current, target float64) (float64, error) {
	if current == 0 {
		if target == 0 {
			return 1, nil
		}
		return 0, errors.Newf(errors.ErrZeroBaseScaling, "target %v MWh over a zero baseline", target)
	}
	return target / current, nil
}

func buildPlans(table *models.LoadTable, targets []models.ScalingTarget, groups GroupResolver) ([]plan, error) {
	sorted := slices.Clone(targets)
	slices.SortFunc(sorted, func(a, b models.ScalingTarget) int { return a.Key.Compare(b.Key) })

	rowsBySub := table.SubsectorRows()
	owner := make(map[cell]string)
	plans := make([]plan, 0, len(sorted))

	for i, tg := range sorted {
		k := tg.Key
		fail := func(kind error, format string, args ...any) error {
			return errors.Newf(kind, format, args...).WithUnit(k.Scenario, k.Year).WithState(k.State).WithGroup(k.Group)
		}

		if k.Scenario != table.Scenario || k.Year != table.Year {
			return nil, fmt.Errorf("target %s does not belong to %s/%d", k, table.Scenario, table.Year)
		}
		if i > 0 && sorted[i-1].Key == k {
			return nil, fail(errors.ErrDuplicateTargetKey, "target given twice")
		}

		g, ok := groups(k.Group)
		if !ok || len(g.Members) == 0 {
			return nil, fail(errors.ErrMalformedShape, "subsector group has no definition")
		}
		col := table.StateIndex(k.State)
		if col < 0 {
			return nil, fail(errors.ErrMalformedShape, "state column %s absent from shape", k.State)
		}

		p := plan{target: tg, column: col}
		for _, m := range g.Members {
			rows, ok := rowsBySub[m]
			if !ok {
				return nil, fail(errors.ErrMalformedShape, "subsector %q absent from shape", m)
			}
			c := cell{subsector: m, state: k.State}
			if other, taken := owner[c]; taken {
				return nil, fail(errors.ErrOverlappingGroupScaling, "subsector %q is also in group %q", m, other)
			}
			owner[c] = k.Group
			p.rows = append(p.rows, rows...)
		}
		for _, r := range p.rows {
			p.current += table.Rows[r].Values[col]
		}
		plans = append(plans, p)
	}
	return plans, nil
}
