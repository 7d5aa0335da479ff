package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// InputFile is a file read by a run, identified by content hash.
type InputFile struct {
	RunID     string
	Kind      string // "targets", "groups", "shape"
	Path      string
	SizeBytes int64
	SHA256    string
}

// HashFile returns the size and hex SHA-256 of the file at path.
func HashFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("hash %s: %w", path, err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// RecordInput hashes path and stores it against runID.
func (s *Store) RecordInput(runID, kind, path string) error {
	size, sum, err := HashFile(path)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO input_files (run_id, kind, path, size_bytes, sha256)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, path) DO NOTHING
	`, runID, kind, path, size, sum)
	return err
}

func (s *Store) GetInputs(runID string) ([]InputFile, error) {
	rows, err := s.db.Query(`
		SELECT run_id, kind, path, size_bytes, sha256
		FROM input_files
		WHERE run_id = ?
		ORDER BY kind, path
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []InputFile
	for rows.Next() {
		var f InputFile
		if err := rows.Scan(&f.RunID, &f.Kind, &f.Path, &f.SizeBytes, &f.SHA256); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
