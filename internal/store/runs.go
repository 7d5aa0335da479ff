package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/loadscale/internal/models"
)

// Run is one invocation of the scaler.
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	InputDir      string
	OutputDir     string
	ScalingInputs string
	Hours         int
	Interpolate   bool
	UnitsTotal    sql.NullInt64
	UnitsFailed   sql.NullInt64
	Success       bool
	ErrorMessage  sql.NullString
}

const (
	UnitOK     = "ok"
	UnitFailed = "failed"
)

// UnitResult is the outcome of one scenario/year within a run.
type UnitResult struct {
	RunID        string
	Scenario     string
	Year         int
	Status       string
	Rows         int
	Targets      int
	Duration     time.Duration
	ErrorMessage sql.NullString
}

// StartRun inserts a new run record with a fresh ID.
func (s *Store) StartRun(inputDir, outputDir, scalingInputs string, hours int, interpolate bool) (*Run, error) {
	run := &Run{
		ID:            uuid.NewString(),
		StartedAt:     time.Now().UTC(),
		InputDir:      inputDir,
		OutputDir:     outputDir,
		ScalingInputs: scalingInputs,
		Hours:         hours,
		Interpolate:   interpolate,
	}

	_, err := s.db.Exec(`
		INSERT INTO scaling_runs (id, started_at, input_dir, output_dir, scaling_inputs, hours, interpolate, success)
		VALUES (?, ?, ?, ?, ?, ?, ?, FALSE)
	`, run.ID, run.StartedAt, run.InputDir, run.OutputDir, run.ScalingInputs, run.Hours, run.Interpolate)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteRun records the outcome of run.
func (s *Store) CompleteRun(run *Run) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE scaling_runs SET
			finished_at = ?,
			units_total = ?,
			units_failed = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.UnitsTotal, run.UnitsFailed, run.Success, run.ErrorMessage, run.ID)
	return err
}

func (s *Store) GetRun(id string) (*Run, error) {
	var r Run
	err := s.db.QueryRow(`
		SELECT id, started_at, finished_at, input_dir, output_dir, scaling_inputs, hours, interpolate,
			   units_total, units_failed, success, error_message
		FROM scaling_runs WHERE id = ?
	`, id).Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.InputDir, &r.OutputDir, &r.ScalingInputs, &r.Hours,
		&r.Interpolate, &r.UnitsTotal, &r.UnitsFailed, &r.Success, &r.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RecordUnit stores the outcome of one unit together with the factors it
// applied, in a single transaction.
func (s *Store) RecordUnit(res UnitResult, factors []models.ScaleFactor, interpolated map[models.TargetKey]bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO unit_results (run_id, scenario, year, status, row_count, targets, duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, scenario, year) DO UPDATE SET
			status = excluded.status,
			row_count = excluded.row_count,
			targets = excluded.targets,
			duration_ms = excluded.duration_ms,
			error_message = excluded.error_message
	`, res.RunID, res.Scenario, res.Year, res.Status, res.Rows, res.Targets, res.Duration.Milliseconds(), res.ErrorMessage); err != nil {
		return fmt.Errorf("insert unit result: %w", err)
	}

	for _, f := range factors {
		if _, err := tx.Exec(`
			INSERT INTO scale_factors (run_id, scenario, subsector_group, year, state, current_mwh, target_mwh, factor, interpolated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, scenario, subsector_group, year, state) DO NOTHING
		`, res.RunID, f.Key.Scenario, f.Key.Group, f.Key.Year, f.Key.State, f.CurrentMWh, f.TargetMWh, f.Factor, interpolated[f.Key]); err != nil {
			return fmt.Errorf("insert scale factor %s: %w", f.Key, err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetUnitResults(runID string) ([]UnitResult, error) {
	rows, err := s.db.Query(`
		SELECT run_id, scenario, year, status, row_count, targets, duration_ms, error_message
		FROM unit_results
		WHERE run_id = ?
		ORDER BY scenario, year
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []UnitResult
	for rows.Next() {
		var r UnitResult
		var ms int64
		if err := rows.Scan(&r.RunID, &r.Scenario, &r.Year, &r.Status, &r.Rows, &r.Targets, &ms, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetScaleFactors returns the factors applied in a run, ordered by key.
func (s *Store) GetScaleFactors(runID string) ([]models.ScaleFactor, error) {
	rows, err := s.db.Query(`
		SELECT scenario, subsector_group, year, state, current_mwh, target_mwh, factor
		FROM scale_factors
		WHERE run_id = ?
		ORDER BY scenario, year, subsector_group, state
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var factors []models.ScaleFactor
	for rows.Next() {
		var f models.ScaleFactor
		if err := rows.Scan(&f.Key.Scenario, &f.Key.Group, &f.Key.Year, &f.Key.State, &f.CurrentMWh, &f.TargetMWh, &f.Factor); err != nil {
			return nil, err
		}
		factors = append(factors, f)
	}
	return factors, rows.Err()
}

// GetFactorHistory returns the factor applied to key by every recorded run,
// oldest first.
func (s *Store) GetFactorHistory(key models.TargetKey) ([]float64, error) {
	rows, err := s.db.Query(`
		SELECT f.factor
		FROM scale_factors f
		JOIN scaling_runs r ON r.id = f.run_id
		WHERE f.scenario = ? AND f.subsector_group = ? AND f.year = ? AND f.state = ?
		ORDER BY r.started_at ASC
	`, key.Scenario, key.Group, key.Year, key.State)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
