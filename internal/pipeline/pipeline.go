// Package pipeline runs a scaling job over every scenario/year shape file:
// load, scale, write, then summarize each scenario.
package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/lox/loadscale/internal/errors"
	"github.com/lox/loadscale/internal/metrics"
	"github.com/lox/loadscale/internal/models"
	"github.com/lox/loadscale/internal/scaling"
	"github.com/lox/loadscale/internal/shape"
	"github.com/lox/loadscale/internal/store"
	"github.com/lox/loadscale/internal/summary"
	"github.com/lox/loadscale/internal/targets"
)

type Config struct {
	InputDir        string
	OutputDir       string
	ScalingInputs   string
	GroupsFile      string
	Hours           int
	Scenarios       []string // empty means all
	Interpolate     bool
	BaselineSummary bool
	Jobs            int
}

// UnitOutcome is what processing one scenario/year produced.
type UnitOutcome struct {
	Unit     models.Unit
	Output   string
	Rows     int
	Targets  []models.ScalingTarget
	Factors  []models.ScaleFactor
	Summary  *summary.Unit
	Baseline []summary.BaselineRow
	Duration time.Duration
	Err      error
}

// Result describes a finished run. Failed lists scenarios whose summaries
// were not rewritten.
type Result struct {
	RunID   string
	Units   []UnitOutcome
	Written []string
	Failed  []string
}

type Runner struct {
	cfg     Config
	log     *slog.Logger
	store   *store.Store
	metrics *metrics.Metrics
}

func NewRunner(cfg Config, log *slog.Logger) *Runner {
	if cfg.Hours <= 0 {
		cfg.Hours = models.DefaultHours
	}
	if cfg.Jobs <= 0 {
		cfg.Jobs = 1
	}
	return &Runner{cfg: cfg, log: log.With("component", "pipeline")}
}

// SetStore records every run in the given ledger.
func (r *Runner) SetStore(s *store.Store) {
	r.store = s
}

// SetMetrics updates m as units are processed.
func (r *Runner) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Run processes every unit. Configuration errors abort before any output is
// written. Unit errors fail only their unit and scenario; the rest of the
// run continues and all such errors are returned together.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{}

	run := r.startRun()
	if run != nil {
		res.RunID = run.ID
	}

	err := r.run(ctx, run, res)
	r.completeRun(run, res, err)

	if err == nil {
		r.log.Info("run complete",
			"units", len(res.Units),
			"summaries", len(res.Written),
			"duration", time.Since(start).Round(time.Millisecond))
		if r.metrics != nil {
			r.metrics.LastSuccess.SetToCurrentTime()
		}
	}
	return res, err
}

func (r *Runner) run(ctx context.Context, run *store.Run, res *Result) error {
	spec, err := targets.Load(r.cfg.ScalingInputs, r.cfg.GroupsFile)
	if err != nil {
		return err
	}
	if err := spec.CheckOverlaps(r.cfg.Interpolate); err != nil {
		return err
	}
	r.log.Info("loaded targets", "path", spec.Path, "targets", spec.Len(), "scenarios", len(spec.Scenarios()))
	r.recordInput(run, "targets", r.cfg.ScalingInputs)
	if r.cfg.GroupsFile != "" {
		r.recordInput(run, "groups", r.cfg.GroupsFile)
	}

	units, err := shape.Discover(r.cfg.InputDir)
	if err != nil {
		return err
	}
	units = slices.DeleteFunc(units, func(u models.Unit) bool { return !r.wanted(u.Scenario) })
	r.log.Info("discovered shapes", "dir", r.cfg.InputDir, "units", len(units), "jobs", r.cfg.Jobs)

	var errs *multierror.Error
	failed := make(map[string]bool)

	for _, err := range r.missingUnits(spec, units) {
		var se *errors.ScaleError
		if errors.As(err, &se) {
			failed[se.Scenario] = true
		}
		r.log.Error("missing shape file", "err", err)
		errs = multierror.Append(errs, err)
	}

	res.Units = make([]UnitOutcome, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Jobs)
	for i, u := range units {
		g.Go(func() error {
			res.Units[i] = r.processUnit(gctx, spec, u)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled: %w", err)
	}

	for _, out := range res.Units {
		r.recordUnit(run, out)
		if out.Err != nil {
			failed[out.Unit.Scenario] = true
			errs = multierror.Append(errs, out.Err)
		}
	}

	for sc := range failed {
		res.Failed = append(res.Failed, sc)
	}
	slices.Sort(res.Failed)

	if err := r.writeSummaries(spec, res, failed); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs.ErrorOrNil()
}

func (r *Runner) wanted(scenario string) bool {
	return len(r.cfg.Scenarios) == 0 || slices.Contains(r.cfg.Scenarios, scenario)
}

// missingUnits reports targeted scenario/years with no shape file. When
// interpolating, target years are only anchors, so only a scenario with no
// shape files at all is missing.
func (r *Runner) missingUnits(spec *targets.Spec, units []models.Unit) []error {
	have := make(map[string]map[int]bool)
	for _, u := range units {
		if have[u.Scenario] == nil {
			have[u.Scenario] = make(map[int]bool)
		}
		have[u.Scenario][u.Year] = true
	}

	var errs []error
	for _, sc := range spec.Scenarios() {
		if !r.wanted(sc) {
			continue
		}
		if r.cfg.Interpolate {
			if len(have[sc]) == 0 {
				errs = append(errs, errors.Newf(errors.ErrMissingShapeFile, "no shape files for targeted scenario").
					WithUnit(sc, 0).WithPath(filepath.Join(r.cfg.InputDir, sc)))
			}
			continue
		}
		for _, y := range spec.Years(sc) {
			if !have[sc][y] {
				errs = append(errs, errors.Newf(errors.ErrMissingShapeFile, "no shape file for targeted year").
					WithUnit(sc, y).WithPath(shape.UnitPath(r.cfg.InputDir, sc, y)))
			}
		}
	}
	return errs
}

func (r *Runner) processUnit(ctx context.Context, spec *targets.Spec, u models.Unit) (out UnitOutcome) {
	start := time.Now()
	out = UnitOutcome{Unit: u, Output: shape.UnitPath(r.cfg.OutputDir, u.Scenario, u.Year)}
	log := r.log.With("scenario", u.Scenario, "year", u.Year)

	defer func() {
		out.Duration = time.Since(start)
		r.observeUnit(out)
	}()

	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}

	table, err := shape.Load(u.Path, u.Scenario, u.Year, r.cfg.Hours)
	if err != nil {
		out.Err = err
		log.Error("load shape failed", "err", err)
		return out
	}

	groups := spec.Groups(u.Scenario)
	if r.cfg.BaselineSummary {
		out.Baseline = summary.Baseline(table, groups)
	}

	out.Targets = spec.TargetsFor(u.Scenario, u.Year, r.cfg.Interpolate)
	scaled, factors, err := scaling.Scale(table, out.Targets, spec.Group)
	if err != nil {
		out.Err = err
		log.Error("scale failed", "err", err)
		return out
	}
	out.Factors = factors

	if issues := shape.ValidateTable(scaled, r.cfg.Hours); len(issues) > 0 {
		out.Err = errors.Newf(errors.ErrMalformedShape, "scaled table: %s (%d issues)", issues[0], len(issues)).
			WithUnit(u.Scenario, u.Year).WithPath(out.Output)
		log.Error("scaled table invalid", "err", out.Err)
		return out
	}

	if err := shape.Write(out.Output, scaled); err != nil {
		out.Err = fmt.Errorf("write %s: %w", out.Output, err)
		log.Error("write shape failed", "err", err)
		return out
	}
	out.Rows = len(scaled.Rows)
	out.Summary = summary.Summarize(scaled, groups)

	for _, f := range factors {
		log.Debug("applied factor",
			"group", f.Key.Group,
			"state", f.Key.State,
			"current_mwh", humanize.Commaf(f.CurrentMWh),
			"target_mwh", humanize.Commaf(f.TargetMWh),
			"factor", f.Factor)
	}
	log.Info("scaled unit",
		"targets", len(out.Targets),
		"rows", humanize.Comma(int64(out.Rows)),
		"output", out.Output)
	return out
}

func (r *Runner) writeSummaries(spec *targets.Spec, res *Result, failed map[string]bool) error {
	byScenario := make(map[string]*summary.Scenario)
	var order []string
	var baseline []summary.BaselineRow

	for _, out := range res.Units {
		sc := out.Unit.Scenario
		if failed[sc] || out.Summary == nil {
			continue
		}
		s, ok := byScenario[sc]
		if !ok {
			s = summary.NewScenario(sc)
			byScenario[sc] = s
			order = append(order, sc)
		}
		s.Add(out.Summary)
		baseline = append(baseline, out.Baseline...)
	}

	var errs *multierror.Error
	for _, sc := range order {
		s := byScenario[sc]
		for _, w := range []struct {
			name  string
			write func(string) error
		}{
			{summary.SummaryFile, s.WriteSummary},
			{summary.ShapesFile, s.WriteShapes},
		} {
			path := filepath.Join(r.cfg.OutputDir, sc, w.name)
			if err := w.write(path); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("write %s: %w", path, err))
				continue
			}
			res.Written = append(res.Written, path)
		}
		r.log.Info("wrote summaries", "scenario", sc)
	}

	for _, sc := range res.Failed {
		r.log.Warn("skipped summaries", "scenario", sc)
	}

	if r.cfg.BaselineSummary {
		path := filepath.Join(r.cfg.OutputDir, summary.BaselineFile)
		if err := summary.WriteBaseline(path, spec.States, baseline); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("write %s: %w", path, err))
		} else {
			res.Written = append(res.Written, path)
			r.log.Info("wrote baseline", "path", path, "rows", len(baseline))
		}
	}

	return errs.ErrorOrNil()
}

func (r *Runner) observeUnit(out UnitOutcome) {
	if r.metrics == nil {
		return
	}
	sc := out.Unit.Scenario
	status := store.UnitOK
	if out.Err != nil {
		status = store.UnitFailed
	}
	r.metrics.UnitsProcessed.WithLabelValues(sc, status).Inc()
	r.metrics.UnitDuration.WithLabelValues(sc).Observe(out.Duration.Seconds())
	if out.Err != nil {
		return
	}
	r.metrics.RowsWritten.WithLabelValues(sc).Add(float64(out.Rows))
	for _, t := range out.Targets {
		r.metrics.TargetsApplied.WithLabelValues(sc, strconv.FormatBool(t.Interpolated)).Inc()
	}
	for _, f := range out.Factors {
		labels := []string{sc, metrics.Year(f.Key.Year), f.Key.Group, f.Key.State}
		r.metrics.ScaleFactor.WithLabelValues(labels...).Set(f.Factor)
		r.metrics.ScaledMWh.WithLabelValues(labels...).Set(f.TargetMWh)
	}
}

func (r *Runner) startRun() *store.Run {
	if r.store == nil {
		return nil
	}
	run, err := r.store.StartRun(r.cfg.InputDir, r.cfg.OutputDir, r.cfg.ScalingInputs, r.cfg.Hours, r.cfg.Interpolate)
	if err != nil {
		r.log.Warn("start ledger run failed", "err", err)
		return nil
	}
	return run
}

func (r *Runner) recordInput(run *store.Run, kind, path string) {
	if run == nil {
		return
	}
	if err := r.store.RecordInput(run.ID, kind, path); err != nil {
		r.log.Warn("record input failed", "kind", kind, "path", path, "err", err)
	}
}

func (r *Runner) recordUnit(run *store.Run, out UnitOutcome) {
	if run == nil {
		return
	}
	res := store.UnitResult{
		RunID:    run.ID,
		Scenario: out.Unit.Scenario,
		Year:     out.Unit.Year,
		Status:   store.UnitOK,
		Rows:     out.Rows,
		Targets:  len(out.Targets),
		Duration: out.Duration,
	}
	if out.Err != nil {
		res.Status = store.UnitFailed
		res.ErrorMessage = sql.NullString{String: out.Err.Error(), Valid: true}
	}

	interpolated := make(map[models.TargetKey]bool)
	for _, t := range out.Targets {
		if t.Interpolated {
			interpolated[t.Key] = true
		}
	}
	if err := r.store.RecordUnit(res, out.Factors, interpolated); err != nil {
		r.log.Warn("record unit failed", "scenario", res.Scenario, "year", res.Year, "err", err)
	}
	r.recordInput(run, "shape", out.Unit.Path)
}

func (r *Runner) completeRun(run *store.Run, res *Result, err error) {
	if run == nil {
		return
	}
	var failed int64
	for _, out := range res.Units {
		if out.Err != nil {
			failed++
		}
	}
	run.UnitsTotal = sql.NullInt64{Int64: int64(len(res.Units)), Valid: true}
	run.UnitsFailed = sql.NullInt64{Int64: failed, Valid: true}
	run.Success = err == nil
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	}
	if err := r.store.CompleteRun(run); err != nil {
		r.log.Warn("complete ledger run failed", "err", err)
	}
}
