package errors

import (
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestScaleErrorMatchesKind(t *testing.T) {
	err := Newf(ErrZeroBaseScaling, "target %v MWh over zero baseline", 10.0).
		WithUnit("central", 2030).
		WithState("CA").
		WithGroup("ev_charging")

	wrapped := fmt.Errorf("scale unit: %w", err)
	if !Is(wrapped, ErrZeroBaseScaling) {
		t.Fatal("expected wrapped error to match ErrZeroBaseScaling")
	}
	if Is(wrapped, ErrMalformedShape) {
		t.Error("did not expect match on ErrMalformedShape")
	}

	var se *ScaleError
	if !As(wrapped, &se) {
		t.Fatal("expected As to find *ScaleError")
	}
	if se.State != "CA" || se.Year != 2030 {
		t.Errorf("context = %s/%d, want CA/2030", se.State, se.Year)
	}
}

func TestScaleErrorMessage(t *testing.T) {
	err := Newf(ErrDuplicateTargetKey, "line %d", 4).WithUnit("central", 2030).WithGroup("a, b").WithState("TX")
	msg := err.Error()
	for _, want := range []string{"duplicate target key", "scenario=central", "year=2030", `group="a, b"`, "state=TX", "line 4"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestScaleErrorCause(t *testing.T) {
	err := Newf(ErrMissingShapeFile, "").WithPath("x/2030.csv.gz").WithCause(fs.ErrNotExist)
	if !Is(err, fs.ErrNotExist) {
		t.Error("expected cause to be reachable through Is")
	}
	if !Is(err, ErrMissingShapeFile) {
		t.Error("expected kind to be reachable through Is")
	}
}

func TestIsConfigError(t *testing.T) {
	tests := []struct {
		kind error
		want bool
	}{
		{ErrMissingScalingInputs, true},
		{ErrDuplicateTargetKey, true},
		{ErrUnknownStateColumn, true},
		{ErrInvalidTarget, true},
		{ErrOverlappingGroupScaling, true},
		{ErrMissingShapeFile, false},
		{ErrMalformedShape, false},
		{ErrZeroBaseScaling, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.Error(), func(t *testing.T) {
			if got := IsConfigError(Newf(tt.kind, "x")); got != tt.want {
				t.Errorf("IsConfigError(%v) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}
