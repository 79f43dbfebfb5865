package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const outcomeFile = "outcome.json"

// DirStore keeps each record as <dir>/<runID>/outcome.json, next to the
// run's own state when dir is the runs directory.
type DirStore struct {
	dir string
}

func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

func (s *DirStore) path(runID string) (string, error) {
	if runID == "" || filepath.Base(runID) != runID || runID == "." || runID == ".." {
		return "", fmt.Errorf("invalid run ID %q", runID)
	}
	return filepath.Join(s.dir, runID, outcomeFile), nil
}

func (s *DirStore) Save(_ context.Context, rec *Record) error {
	p, err := s.path(rec.RunID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create outcome directory: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write outcome: %w", err)
	}
	return os.Rename(tmp, p)
}

func (s *DirStore) Get(_ context.Context, runID string) (*Record, error) {
	p, err := s.path(runID)
	if err != nil {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read outcome: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode outcome: %w", err)
	}
	return &rec, nil
}

func (s *DirStore) Delete(_ context.Context, runID string) error {
	p, err := s.path(runID)
	if err != nil {
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

var _ Store = (*DirStore)(nil)
