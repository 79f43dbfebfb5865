// Package qrunner executes prepared CatMAP jobs and tracks their state on
// disk.
package qrunner

import (
	"context"
	"io"
	"time"
)

// RunStatus represents the execution state of a run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Finished reports whether s is a terminal status.
func (s RunStatus) Finished() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// JobSpec defines the specification for a job to be run
type JobSpec struct {
	ID         string            // Optional: if empty, a new ID will be generated
	Name       string            // Human-readable name for the job
	Command    string            // Command to execute
	Args       []string          // Command arguments
	Env        map[string]string // Environment variables
	WorkingDir string            // Defaults to the run's work directory
	StdinName  string            // File in WorkingDir fed to stdin
	StdoutName string            // File in WorkingDir receiving stdout; stdout.log in the run dir if empty
	Collect    []string          // Files in WorkingDir uploaded as artifacts when the run ends
}

// Run represents an execution of a job
type Run struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Status     RunStatus         `json:"status"`
	Command    string            `json:"command"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
	StdinName  string            `json:"stdin_name,omitempty"`
	Collect    []string          `json:"collect,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	ExitCode   *int              `json:"exit_code,omitempty"`
	Error      string            `json:"error,omitempty"`
	RunDir     string            `json:"run_dir"`
	LogsPath   string            `json:"logs_path"`   // stdout capture
	StderrPath string            `json:"stderr_path"` // stderr.log in the run dir
	Metadata   map[string]string `json:"metadata,omitempty"`
	// Artifact information
	Artifacts []RunArtifact `json:"artifacts,omitempty"`
}

// RunArtifact represents a stored artifact for a run.
type RunArtifact struct {
	Key         string `json:"key"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	URL         string `json:"url,omitempty"`
}

// Runner defines the interface for executing jobs
type Runner interface {
	// Submit submits a new job for execution
	Submit(ctx context.Context, spec JobSpec) (*Run, error)

	// Wait waits for a run to complete
	Wait(ctx context.Context, runID string) (*Run, error)

	// GetRun retrieves the status of a run
	GetRun(ctx context.Context, runID string) (*Run, error)

	// Cancel cancels a running job
	Cancel(ctx context.Context, runID string) error

	// ListRuns lists all runs, optionally filtered by status
	ListRuns(ctx context.Context, status *RunStatus) ([]*Run, error)

	// GetLogs retrieves the stdout capture of a run
	GetLogs(ctx context.Context, runID string) (io.ReadCloser, error)

	// Delete removes a finished run and its artifacts
	Delete(ctx context.Context, runID string) error

	// RunDir and WorkDir locate a run on the host. Inputs are written to
	// WorkDir before Submit.
	RunDir(runID string) string
	WorkDir(runID string) string
}
