// Package targets loads the scaling targets table: one row per
// (scenario, subsector_group, year) and one MWh column per state.
package targets

import (
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/lox/loadscale/internal/errors"
	"github.com/lox/loadscale/internal/models"
)

var leadingColumns = []string{"scenario", "subsector_group", "year"}

type Spec struct {
	Path   string
	States []string // state columns in file order

	targets map[models.TargetKey]float64
	groups  map[string]models.SubsectorGroup
	// years per scenario and group, sorted
	years map[string]map[string][]int
}

// Load reads the targets file at path. groupsPath optionally names a YAML
// file of group aliases.
func Load(path, groupsPath string) (*Spec, error) {
	var aliases map[string][]string
	if groupsPath != "" {
		var err error
		if aliases, err = LoadGroups(groupsPath); err != nil {
			return nil, err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Newf(errors.ErrMissingScalingInputs, "targets file does not exist").WithPath(path)
		}
		return nil, fmt.Errorf("open targets: %w", err)
	}
	defer f.Close()

	spec, err := Parse(f, aliases)
	if err != nil {
		var se *errors.ScaleError
		if errors.As(err, &se) {
			se.WithPath(path)
		}
		return nil, err
	}
	spec.Path = path
	return spec, nil
}

// Parse reads a targets table. Blank cells mean no target for that state.
func Parse(r io.Reader, aliases map[string][]string) (*Spec, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Newf(errors.ErrInvalidTarget, "read header: %v", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) < len(leadingColumns) || !slices.Equal(header[:len(leadingColumns)], leadingColumns) {
		return nil, errors.Newf(errors.ErrInvalidTarget, "header must start with %s", strings.Join(leadingColumns, ","))
	}

	spec := &Spec{
		States:  header[len(leadingColumns):],
		targets: make(map[models.TargetKey]float64),
		groups:  make(map[string]models.SubsectorGroup),
		years:   make(map[string]map[string][]int),
	}
	seenState := make(map[string]bool)
	for _, st := range spec.States {
		if !IsState(st) {
			return nil, errors.Newf(errors.ErrUnknownStateColumn, "column %q", st).WithState(st)
		}
		if seenState[st] {
			return nil, errors.Newf(errors.ErrUnknownStateColumn, "column %q appears twice", st).WithState(st)
		}
		seenState[st] = true
	}

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.Newf(errors.ErrInvalidTarget, "line %d: %v", line, err)
		}

		scenario := strings.TrimSpace(rec[0])
		group := ResolveGroup(rec[1], aliases)
		year, err := strconv.Atoi(strings.TrimSpace(rec[2]))
		if err != nil {
			return nil, errors.Newf(errors.ErrInvalidTarget, "line %d: invalid year %q", line, rec[2]).
				WithUnit(scenario, 0).WithGroup(group.Name)
		}
		if scenario == "" || len(group.Members) == 0 {
			return nil, errors.Newf(errors.ErrInvalidTarget, "line %d: empty scenario or subsector_group", line).
				WithUnit(scenario, year).WithGroup(group.Name)
		}
		spec.groups[group.Name] = group

		for j, st := range spec.States {
			cell := strings.TrimSpace(rec[len(leadingColumns)+j])
			if cell == "" {
				continue
			}
			mwh, err := strconv.ParseFloat(cell, 64)
			if err != nil || math.IsNaN(mwh) || math.IsInf(mwh, 0) || mwh < 0 {
				return nil, errors.Newf(errors.ErrInvalidTarget, "line %d: value %q", line, cell).
					WithUnit(scenario, year).WithGroup(group.Name).WithState(st)
			}

			key := models.TargetKey{Scenario: scenario, Group: group.Name, Year: year, State: st}
			if _, dup := spec.targets[key]; dup {
				return nil, errors.Newf(errors.ErrDuplicateTargetKey, "line %d", line).
					WithUnit(scenario, year).WithGroup(group.Name).WithState(st)
			}
			spec.targets[key] = mwh
			spec.addYear(scenario, group.Name, year)
		}
	}

	return spec, nil
}

func (s *Spec) addYear(scenario, group string, year int) {
	byGroup, ok := s.years[scenario]
	if !ok {
		byGroup = make(map[string][]int)
		s.years[scenario] = byGroup
	}
	ys := byGroup[group]
	if i, found := slices.BinarySearch(ys, year); !found {
		byGroup[group] = slices.Insert(ys, i, year)
	}
}

// Len returns the number of targets.
func (s *Spec) Len() int {
	return len(s.targets)
}

// Target returns the MWh target for key.
func (s *Spec) Target(key models.TargetKey) (float64, bool) {
	v, ok := s.targets[key]
	return v, ok
}

// Group returns the resolved members of a group named in the file.
func (s *Spec) Group(name string) (models.SubsectorGroup, bool) {
	g, ok := s.groups[name]
	return g, ok
}

// Keys returns every target key in sorted order.
func (s *Spec) Keys() []models.TargetKey {
	keys := make([]models.TargetKey, 0, len(s.targets))
	for k := range s.targets {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, models.TargetKey.Compare)
	return keys
}

// Scenarios returns the scenarios with at least one target, sorted.
func (s *Spec) Scenarios() []string {
	out := make([]string, 0, len(s.years))
	for sc := range s.years {
		out = append(out, sc)
	}
	slices.Sort(out)
	return out
}

// Groups returns the groups with targets in scenario, sorted by name.
func (s *Spec) Groups(scenario string) []models.SubsectorGroup {
	var out []models.SubsectorGroup
	for name := range s.years[scenario] {
		out = append(out, s.groups[name])
	}
	slices.SortFunc(out, func(a, b models.SubsectorGroup) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Years returns the distinct target years of scenario, sorted.
func (s *Spec) Years(scenario string) []int {
	var out []int
	for _, ys := range s.years[scenario] {
		for _, y := range ys {
			if i, found := slices.BinarySearch(out, y); !found {
				out = slices.Insert(out, i, y)
			}
		}
	}
	return out
}

// TargetsFor returns the targets that apply to scenario/year, sorted by key.
// Without interpolation only rows for exactly that year apply. With it, a
// group lacking a row for the year gets per-state targets interpolated
// linearly between the nearest years, or copied from the first or last year
// when the year lies outside the range.
func (s *Spec) TargetsFor(scenario string, year int, interpolate bool) []models.ScalingTarget {
	var out []models.ScalingTarget
	for _, g := range s.Groups(scenario) {
		ys := s.years[scenario][g.Name]
		_, exact := slices.BinarySearch(ys, year)

		for _, st := range s.States {
			key := models.TargetKey{Scenario: scenario, Group: g.Name, Year: year, State: st}
			if exact {
				if v, ok := s.targets[key]; ok {
					out = append(out, models.ScalingTarget{Key: key, MWh: v})
				}
				continue
			}
			if !interpolate {
				continue
			}
			if v, ok := s.interpolate(key, ys); ok {
				out = append(out, models.ScalingTarget{Key: key, MWh: v, Interpolated: true})
			}
		}
	}
	slices.SortFunc(out, func(a, b models.ScalingTarget) int { return a.Key.Compare(b.Key) })
	return out
}

func (s *Spec) interpolate(key models.TargetKey, ys []int) (float64, bool) {
	if len(ys) == 0 {
		return 0, false
	}
	at := func(y int) (float64, bool) {
		k := key
		k.Year = y
		v, ok := s.targets[k]
		return v, ok
	}

	first, last := ys[0], ys[len(ys)-1]
	switch {
	case key.Year < first:
		return at(first)
	case key.Year > last:
		return at(last)
	}

	i, _ := slices.BinarySearch(ys, key.Year)
	lower, upper := ys[i-1], ys[i]
	lv, lok := at(lower)
	uv, uok := at(upper)
	if !lok || !uok {
		return 0, false
	}
	p := float64(key.Year-lower) / float64(upper-lower)
	return lv + p*(uv-lv), true
}

// CheckOverlaps fails when two groups that can be targeted for the same
// scenario, year and state share a member subsector. With interpolate, every
// group of a scenario applies to every year.
func (s *Spec) CheckOverlaps(interpolate bool) error {
	type bucket struct {
		scenario string
		year     int
		state    string
	}
	owners := make(map[bucket]map[string]string)

	for _, k := range s.Keys() {
		b := bucket{scenario: k.Scenario, year: k.Year, state: k.State}
		if interpolate {
			b.year = 0
		}
		members, ok := owners[b]
		if !ok {
			members = make(map[string]string)
			owners[b] = members
		}
		for _, m := range s.groups[k.Group].Members {
			if other, taken := members[m]; taken && other != k.Group {
				return errors.Newf(errors.ErrOverlappingGroupScaling, "subsector %q is also in group %q", m, other).
					WithUnit(k.Scenario, b.year).WithState(k.State).WithGroup(k.Group)
			}
			members[m] = k.Group
		}
	}
	return nil
}
