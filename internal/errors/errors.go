// Package errors defines the failure taxonomy of a scaling run.
//
// Every failure is reported as a sentinel wrapped in a *ScaleError carrying
// the scenario, year, state, group and path needed to find the offending
// input. Callers match on the sentinel:
//
//	if errors.Is(err, errors.ErrZeroBaseScaling) { ... }
//
// Configuration errors (duplicate keys, unknown states, invalid targets,
// overlapping groups) abort a run before any output is written. Unit errors
// (missing or malformed shape files, zero-baseline targets) fail only the
// scenario/year they belong to.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

var (
	// ErrMissingShapeFile indicates no unscaled shape file exists for a scenario/year.
	ErrMissingShapeFile = New("missing shape file")
	// ErrMissingScalingInputs indicates the scaling targets file is absent.
	ErrMissingScalingInputs = New("missing scaling inputs")
	// ErrMalformedShape indicates a structural defect in a shape file.
	ErrMalformedShape = New("malformed shape")
	// ErrDuplicateTargetKey indicates the same target key appears twice.
	ErrDuplicateTargetKey = New("duplicate target key")
	// ErrUnknownStateColumn indicates a targets column that is not a state or DC.
	ErrUnknownStateColumn = New("unknown state column")
	// ErrInvalidTarget indicates an unparseable, negative or non-finite target.
	ErrInvalidTarget = New("invalid target")
	// ErrOverlappingGroupScaling indicates a subsector claimed by two targeted groups.
	ErrOverlappingGroupScaling = New("overlapping group scaling")
	// ErrZeroBaseScaling indicates a non-zero target over an all-zero baseline.
	ErrZeroBaseScaling = New("zero base scaling")
)

// ScaleError locates a failure in the run inputs.
type ScaleError struct {
	Kind     error
	Scenario string
	Year     int
	State    string
	Group    string
	Path     string
	Detail   string
	Cause    error
}

// Newf returns a ScaleError of the given kind with a formatted detail.
func Newf(kind error, format string, args ...any) *ScaleError {
	return &ScaleError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (e *ScaleError) WithUnit(scenario string, year int) *ScaleError {
	e.Scenario = scenario
	e.Year = year
	return e
}

func (e *ScaleError) WithState(state string) *ScaleError {
	e.State = state
	return e
}

func (e *ScaleError) WithGroup(group string) *ScaleError {
	e.Group = group
	return e
}

func (e *ScaleError) WithPath(path string) *ScaleError {
	e.Path = path
	return e
}

func (e *ScaleError) WithCause(err error) *ScaleError {
	e.Cause = err
	return e
}

func (e *ScaleError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())

	var ctx []string
	if e.Scenario != "" {
		ctx = append(ctx, "scenario="+e.Scenario)
	}
	if e.Year != 0 {
		ctx = append(ctx, fmt.Sprintf("year=%d", e.Year))
	}
	if e.Group != "" {
		ctx = append(ctx, fmt.Sprintf("group=%q", e.Group))
	}
	if e.State != "" {
		ctx = append(ctx, "state="+e.State)
	}
	if e.Path != "" {
		ctx = append(ctx, "path="+e.Path)
	}
	if len(ctx) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(ctx, " "))
		b.WriteString("]")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the sentinel kind and the underlying cause.
func (e *ScaleError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// IsConfigError reports whether err stems from the targets or groups
// configuration rather than from a single shape file.
func IsConfigError(err error) bool {
	return Is(err, ErrMissingScalingInputs) ||
		Is(err, ErrDuplicateTargetKey) ||
		Is(err, ErrUnknownStateColumn) ||
		Is(err, ErrInvalidTarget) ||
		Is(err, ErrOverlappingGroupScaling)
}
