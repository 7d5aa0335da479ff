package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lox/loadscale/internal/errors"
	"github.com/lox/loadscale/internal/logging"
	"github.com/lox/loadscale/internal/metrics"
	"github.com/lox/loadscale/internal/models"
	"github.com/lox/loadscale/internal/shape"
	"github.com/lox/loadscale/internal/store"
	"github.com/lox/loadscale/internal/summary"
	"github.com/lox/loadscale/internal/testutil"
)

var states = []string{"CA", "TX"}

type fixture struct {
	in, out, targets string
}

func newFixture(t *testing.T, targetsCSV string, tables ...*models.LoadTable) fixture {
	t.Helper()
	root := t.TempDir()
	f := fixture{
		in:      filepath.Join(root, "unscaled"),
		out:     filepath.Join(root, "scaled"),
		targets: testutil.WriteFile(t, root, "scaling_inputs_MWh.csv", targetsCSV),
	}
	for _, tb := range tables {
		if err := shape.Write(shape.UnitPath(f.in, tb.Scenario, tb.Year), tb); err != nil {
			t.Fatalf("write input shape: %v", err)
		}
	}
	return f
}

func (f fixture) config(hours int) Config {
	return Config{
		InputDir:      f.in,
		OutputDir:     f.out,
		ScalingInputs: f.targets,
		Hours:         hours,
	}
}

func evTable(scenario string, year, hours int, perHour float64, n int) *models.LoadTable {
	return testutil.BuildTable(scenario, year, hours, states,
		testutil.Sub{Name: "ev_charging", Sector: "transportation", Load: testutil.FirstHours(n, perHour)},
		testutil.Sub{Name: "lighting", Load: testutil.Constant(0.5)},
	)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestRun_DoublesEVCharging(t *testing.T) {
	f := newFixture(t,
		testutil.TargetsCSV(states, []string{"central", "ev_charging", "2030", "2000", ""}),
		evTable("central", 2030, models.DefaultHours, 1, 1000),
	)

	res, err := NewRunner(f.config(models.DefaultHours), logging.Discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Units) != 1 || res.Units[0].Err != nil {
		t.Fatalf("units = %+v", res.Units)
	}

	out, err := shape.Load(shape.UnitPath(f.out, "central", 2030), "central", 2030, models.DefaultHours)
	if err != nil {
		t.Fatalf("load output: %v", err)
	}
	if got := testutil.ColumnSum(out, "ev_charging", "CA"); got != 2000 {
		t.Errorf("CA ev_charging = %v, want 2000", got)
	}
	if got := testutil.ColumnSum(out, "ev_charging", "TX"); got != 1000 {
		t.Errorf("TX ev_charging = %v, want 1000", got)
	}
	if got := testutil.ColumnSum(out, "lighting", "CA"); got != 0.5*models.DefaultHours {
		t.Errorf("CA lighting = %v, want %v", got, 0.5*models.DefaultHours)
	}

	sum := readFile(t, filepath.Join(f.out, "central", summary.SummaryFile))
	for _, want := range []string{
		"scenario,year,kind,name,state,total_mwh\n",
		"central,2030,group,ev_charging,CA,2000\n",
		"central,2030,subsector,ev_charging,TX,1000\n",
		"central,2030,subsector,lighting,CA,4380\n",
	} {
		if !strings.Contains(sum, want) {
			t.Errorf("summary.csv missing %q:\n%s", want, sum)
		}
	}
	if _, err := os.Stat(filepath.Join(f.out, "central", summary.ShapesFile)); err != nil {
		t.Errorf("summary_shapes.csv: %v", err)
	}
}

func TestRun_ZeroBaseFailsOnlyItsScenario(t *testing.T) {
	f := newFixture(t,
		testutil.TargetsCSV(states,
			[]string{"central", "ev_charging", "2030", "2000", ""},
			[]string{"high", "ev_charging", "2030", "500", ""},
		),
		evTable("central", 2030, 24, 100, 10),
		evTable("high", 2030, 24, 0, 0),
	)

	res, err := NewRunner(f.config(24), logging.Discard()).Run(context.Background())
	if !errors.Is(err, errors.ErrZeroBaseScaling) {
		t.Fatalf("err = %v, want ErrZeroBaseScaling", err)
	}
	if diff := cmp.Diff([]string{"high"}, res.Failed); diff != "" {
		t.Errorf("failed scenarios (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(filepath.Join(f.out, "central", summary.SummaryFile)); err != nil {
		t.Errorf("central summary: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.out, "high", summary.SummaryFile)); !os.IsNotExist(err) {
		t.Errorf("high summary stat err = %v, want not exist", err)
	}
	if _, err := os.Stat(shape.UnitPath(f.out, "high", 2030)); !os.IsNotExist(err) {
		t.Errorf("high shape stat err = %v, want not exist", err)
	}
}

func TestRun_ConfigErrorWritesNothing(t *testing.T) {
	tests := []struct {
		name    string
		targets string
		want    error
	}{
		{
			name: "duplicate key",
			targets: testutil.TargetsCSV(states,
				[]string{"central", "ev_charging", "2030", "2000", ""},
				[]string{"central", "ev_charging", "2030", "3000", ""},
			),
			want: errors.ErrDuplicateTargetKey,
		},
		{
			name: "overlapping groups",
			targets: testutil.TargetsCSV(states,
				[]string{"central", "ev_charging", "2030", "2000", ""},
				[]string{"central", "ev_charging,lighting", "2030", "5000", ""},
			),
			want: errors.ErrOverlappingGroupScaling,
		},
		{
			name:    "unknown state",
			targets: "scenario,subsector_group,year,CA,XX\ncentral,ev_charging,2030,1,2\n",
			want:    errors.ErrUnknownStateColumn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.targets, evTable("central", 2030, 24, 100, 10))
			_, err := NewRunner(f.config(24), logging.Discard()).Run(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !errors.IsConfigError(err) {
				t.Errorf("IsConfigError(%v) = false", err)
			}
			if _, err := os.Stat(f.out); !os.IsNotExist(err) {
				t.Errorf("output dir stat err = %v, want not exist", err)
			}
		})
	}
}

func TestRun_MissingTargets(t *testing.T) {
	f := newFixture(t, "", evTable("central", 2030, 24, 100, 10))
	cfg := f.config(24)
	cfg.ScalingInputs = filepath.Join(t.TempDir(), "absent.csv")

	_, err := NewRunner(cfg, logging.Discard()).Run(context.Background())
	if !errors.Is(err, errors.ErrMissingScalingInputs) {
		t.Fatalf("err = %v, want ErrMissingScalingInputs", err)
	}
}

func TestRun_MissingShapeFile(t *testing.T) {
	f := newFixture(t,
		testutil.TargetsCSV(states,
			[]string{"central", "ev_charging", "2030", "2000", ""},
			[]string{"central", "ev_charging", "2040", "3000", ""},
		),
		evTable("central", 2030, 24, 100, 10),
	)

	res, err := NewRunner(f.config(24), logging.Discard()).Run(context.Background())
	if !errors.Is(err, errors.ErrMissingShapeFile) {
		t.Fatalf("err = %v, want ErrMissingShapeFile", err)
	}
	var se *errors.ScaleError
	if !errors.As(err, &se) || se.Year != 2040 {
		t.Errorf("error = %v, want year 2040", err)
	}
	if diff := cmp.Diff([]string{"central"}, res.Failed); diff != "" {
		t.Errorf("failed scenarios (-want +got):\n%s", diff)
	}
	// The unit that exists is still scaled.
	if _, err := os.Stat(shape.UnitPath(f.out, "central", 2030)); err != nil {
		t.Errorf("2030 output: %v", err)
	}
}

func TestRun_UntargetedPassThrough(t *testing.T) {
	in := evTable("low", 2030, 24, 100, 10)
	f := newFixture(t,
		testutil.TargetsCSV(states, []string{"central", "ev_charging", "2030", "2000", ""}),
		evTable("central", 2030, 24, 100, 10),
		in,
	)

	if _, err := NewRunner(f.config(24), logging.Discard()).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out, err := shape.Load(shape.UnitPath(f.out, "low", 2030), "low", 2030, 24)
	if err != nil {
		t.Fatalf("load output: %v", err)
	}
	if diff := cmp.Diff(in.Rows, out.Rows); diff != "" {
		t.Errorf("untargeted rows changed (-want +got):\n%s", diff)
	}
}

func TestRun_ScenarioFilter(t *testing.T) {
	f := newFixture(t,
		testutil.TargetsCSV(states,
			[]string{"central", "ev_charging", "2030", "2000", ""},
			[]string{"high", "ev_charging", "2030", "500", ""},
		),
		evTable("central", 2030, 24, 100, 10),
		evTable("high", 2030, 24, 0, 0),
	)
	cfg := f.config(24)
	cfg.Scenarios = []string{"central"}

	res, err := NewRunner(cfg, logging.Discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Units) != 1 || res.Units[0].Unit.Scenario != "central" {
		t.Errorf("units = %+v, want only central", res.Units)
	}
	if _, err := os.Stat(filepath.Join(f.out, "high")); !os.IsNotExist(err) {
		t.Errorf("high output stat err = %v, want not exist", err)
	}
}

func TestRun_InterpolateWithLedgerAndMetrics(t *testing.T) {
	f := newFixture(t,
		testutil.TargetsCSV(states,
			[]string{"central", "ev_charging", "2020", "1000", ""},
			[]string{"central", "ev_charging", "2040", "3000", ""},
		),
		evTable("central", 2030, 24, 100, 10),
	)
	cfg := f.config(24)
	cfg.Interpolate = true

	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer st.Close()
	m := metrics.New()

	r := NewRunner(cfg, logging.Discard())
	r.SetStore(st)
	r.SetMetrics(m)
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	key := models.TargetKey{Scenario: "central", Group: "ev_charging", Year: 2030, State: "CA"}
	factors, err := st.GetScaleFactors(res.RunID)
	if err != nil {
		t.Fatalf("GetScaleFactors: %v", err)
	}
	want := []models.ScaleFactor{{Key: key, CurrentMWh: 1000, TargetMWh: 2000, Factor: 2}}
	if diff := cmp.Diff(want, factors); diff != "" {
		t.Errorf("ledger factors (-want +got):\n%s", diff)
	}

	run, err := st.GetRun(res.RunID)
	if err != nil || run == nil {
		t.Fatalf("GetRun = %v, %v", run, err)
	}
	if !run.Success || run.UnitsTotal.Int64 != 1 || run.UnitsFailed.Int64 != 0 {
		t.Errorf("run = %+v", run)
	}
	inputs, err := st.GetInputs(res.RunID)
	if err != nil {
		t.Fatalf("GetInputs: %v", err)
	}
	if len(inputs) != 2 {
		t.Errorf("inputs = %+v, want targets and one shape", inputs)
	}

	if got := promtest.ToFloat64(m.TargetsApplied.WithLabelValues("central", "true")); got != 1 {
		t.Errorf("interpolated targets = %v, want 1", got)
	}
	if got := promtest.ToFloat64(m.ScaleFactor.WithLabelValues("central", "2030", "ev_charging", "CA")); got != 2 {
		t.Errorf("factor gauge = %v, want 2", got)
	}
	if got := promtest.ToFloat64(m.UnitsProcessed.WithLabelValues("central", store.UnitOK)); got != 1 {
		t.Errorf("units ok = %v, want 1", got)
	}
	if got := promtest.ToFloat64(m.RowsWritten.WithLabelValues("central")); got != 48 {
		t.Errorf("rows written = %v, want 48", got)
	}
}

func TestRun_FailedRunRecorded(t *testing.T) {
	f := newFixture(t,
		testutil.TargetsCSV(states, []string{"central", "ev_charging", "2030", "500", ""}),
		evTable("central", 2030, 24, 0, 0),
	)
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer st.Close()

	r := NewRunner(f.config(24), logging.Discard())
	r.SetStore(st)
	res, err := r.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	run, err := st.GetRun(res.RunID)
	if err != nil || run == nil {
		t.Fatalf("GetRun = %v, %v", run, err)
	}
	if run.Success || run.UnitsFailed.Int64 != 1 || !run.ErrorMessage.Valid {
		t.Errorf("run = %+v", run)
	}
	results, err := st.GetUnitResults(res.RunID)
	if err != nil {
		t.Fatalf("GetUnitResults: %v", err)
	}
	if len(results) != 1 || results[0].Status != store.UnitFailed {
		t.Errorf("unit results = %+v", results)
	}
}

func TestRun_BaselineSummary(t *testing.T) {
	f := newFixture(t,
		testutil.TargetsCSV(states, []string{"central", "ev_charging", "2030", "2000", ""}),
		evTable("central", 2030, 24, 100, 10),
	)
	cfg := f.config(24)
	cfg.BaselineSummary = true

	if _, err := NewRunner(cfg, logging.Discard()).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := readFile(t, filepath.Join(f.out, summary.BaselineFile))
	want := "scenario,subsector_group,year,CA,TX\ncentral,ev_charging,2030,1000,1000\n"
	if got != want {
		t.Errorf("baseline =\n%s\nwant\n%s", got, want)
	}
}

func TestRun_JobsDoNotChangeOutput(t *testing.T) {
	var tables []*models.LoadTable
	var rows [][]string
	for _, year := range []int{2025, 2030, 2035, 2040, 2045} {
		tables = append(tables, evTable("central", year, 24, float64(year-2000), 10))
		rows = append(rows, []string{"central", "ev_charging", strconv.Itoa(year), "5000", "100"})
	}
	f := newFixture(t, testutil.TargetsCSV(states, rows...), tables...)

	var summaries []string
	for _, jobs := range []int{1, 4} {
		cfg := f.config(24)
		cfg.Jobs = jobs
		cfg.OutputDir = filepath.Join(t.TempDir(), "scaled")
		if _, err := NewRunner(cfg, logging.Discard()).Run(context.Background()); err != nil {
			t.Fatalf("Run jobs=%d: %v", jobs, err)
		}
		summaries = append(summaries,
			readFile(t, filepath.Join(cfg.OutputDir, "central", summary.SummaryFile))+
				readFile(t, filepath.Join(cfg.OutputDir, "central", summary.ShapesFile)))
	}
	if !bytes.Equal([]byte(summaries[0]), []byte(summaries[1])) {
		t.Error("summaries differ between jobs=1 and jobs=4")
	}
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t,
		testutil.TargetsCSV(states, []string{"central", "ev_charging", "2030", "2000", ""}),
		evTable("central", 2030, 24, 100, 10),
	)

	var outputs []string
	for range 2 {
		if _, err := NewRunner(f.config(24), logging.Discard()).Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		out, err := shape.Load(shape.UnitPath(f.out, "central", 2030), "central", 2030, 24)
		if err != nil {
			t.Fatal(err)
		}
		var buf bytes.Buffer
		if err := shape.Encode(&buf, out); err != nil {
			t.Fatal(err)
		}
		outputs = append(outputs, buf.String())
	}
	if outputs[0] != outputs[1] {
		t.Error("second run produced different output")
	}
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t,
		testutil.TargetsCSV(states, []string{"central", "ev_charging", "2030", "2000", ""}),
		evTable("central", 2030, 24, 100, 10),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(f.config(24), logging.Discard()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(filepath.Join(f.out, "central", summary.SummaryFile)); !os.IsNotExist(err) {
		t.Errorf("summary stat err = %v, want not exist", err)
	}
}
