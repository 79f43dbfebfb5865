// Package archive keeps the outcome of every pipeline run so it can be
// looked up after the run directory is gone.
package archive

import (
	"context"
	"errors"
	"time"

	"github.com/quatton/catmap-adapter/pkg/catmap"
	"github.com/quatton/catmap-adapter/pkg/qerr"
)

// ErrNotFound is returned when no outcome is stored for a run.
var ErrNotFound = errors.New("outcome not found")

// Status is the terminal state of a pipeline run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Record is the outcome of one run. Log is kept on failures too, so a
// solver that did not converge can be inspected.
type Record struct {
	RunID      string               `json:"run_id"`
	Name       string               `json:"name,omitempty"`
	Status     Status               `json:"status"`
	Code       qerr.Code            `json:"code,omitempty"`
	ExitStatus int                  `json:"exit_status"`
	Message    string               `json:"message,omitempty"`
	Log        []byte               `json:"log,omitempty"`
	Bundle     *catmap.ResultBundle `json:"bundle,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

// NewRecord builds the record of a run that ended with bundle or err.
func NewRecord(runID, name string, bundle *catmap.ResultBundle, err error) *Record {
	rec := &Record{
		RunID:     runID,
		Name:      name,
		Status:    StatusSucceeded,
		Bundle:    bundle,
		CreatedAt: time.Now().UTC(),
	}
	if bundle != nil {
		rec.Log = bundle.Log
	}
	if err != nil {
		rec.Status = StatusFailed
		rec.Code = qerr.CodeOf(err)
		rec.ExitStatus = qerr.ExitStatus(rec.Code)
		rec.Message = err.Error()
		rec.Bundle = nil
		var keyErr *catmap.MissingResultKeyError
		if errors.As(err, &keyErr) {
			rec.Log = keyErr.Log
		}
	}
	return rec
}

// Store persists records.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	// Get returns ErrNotFound for unknown runs.
	Get(ctx context.Context, runID string) (*Record, error)
	// Delete is a no-op for unknown runs.
	Delete(ctx context.Context, runID string) error
}
