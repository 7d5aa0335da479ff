package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS scaling_runs (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    input_dir TEXT NOT NULL,
    output_dir TEXT NOT NULL,
    scaling_inputs TEXT NOT NULL,
    hours INTEGER NOT NULL,
    interpolate BOOLEAN NOT NULL DEFAULT FALSE,
    units_total INTEGER,
    units_failed INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS unit_results (
    run_id TEXT NOT NULL REFERENCES scaling_runs(id),
    scenario TEXT NOT NULL,
    year INTEGER NOT NULL,
    status TEXT NOT NULL,
    row_count INTEGER,
    targets INTEGER,
    duration_ms INTEGER,
    error_message TEXT,
    PRIMARY KEY (run_id, scenario, year)
);

CREATE TABLE IF NOT EXISTS scale_factors (
    run_id TEXT NOT NULL REFERENCES scaling_runs(id),
    scenario TEXT NOT NULL,
    subsector_group TEXT NOT NULL,
    year INTEGER NOT NULL,
    state TEXT NOT NULL,
    current_mwh REAL NOT NULL,
    target_mwh REAL NOT NULL,
    factor REAL NOT NULL,
    interpolated BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (run_id, scenario, subsector_group, year, state)
);

CREATE INDEX IF NOT EXISTS idx_scale_factors_key ON scale_factors(scenario, subsector_group, year, state);
`,
	},
	{
		Version:     2,
		Description: "Input file provenance",
		SQL: `
CREATE TABLE IF NOT EXISTS input_files (
    run_id TEXT NOT NULL REFERENCES scaling_runs(id),
    kind TEXT NOT NULL,
    path TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    sha256 TEXT NOT NULL,
    PRIMARY KEY (run_id, path)
);

CREATE INDEX IF NOT EXISTS idx_input_files_hash ON input_files(sha256);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		slog.Debug("migrations: applying", "version", m.Version, "description", m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
