package qrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quatton/catmap-adapter/pkg/qart"
	"github.com/quatton/catmap-adapter/pkg/qerr"
	"github.com/quatton/catmap-adapter/pkg/qlog"
)

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// LocalRunner runs jobs as local processes. Each run gets
// <runsDir>/<id>/ holding run.json, stderr.log and a work/ directory.
type LocalRunner struct {
	runsDir   string
	artifacts qart.Store // optional
	logger    *qlog.Logger
	mu        sync.RWMutex
	runs      map[string]*runProcess // active runs
	saveMu    sync.Mutex
}

// runProcess tracks an active process
type runProcess struct {
	cmd    *exec.Cmd
	run    *Run
	cancel context.CancelFunc
}

// LocalRunnerOption configures a LocalRunner
type LocalRunnerOption func(*LocalRunner)

// WithArtifactStore sets the artifact storage for the runner
func WithArtifactStore(store qart.Store) LocalRunnerOption {
	return func(r *LocalRunner) {
		r.artifacts = store
	}
}

// WithRunsDir sets the directory run directories are created in.
func WithRunsDir(dir string) LocalRunnerOption {
	return func(r *LocalRunner) {
		r.runsDir = dir
	}
}

// WithLogger sets the runner's logger.
func WithLogger(logger *qlog.Logger) LocalRunnerOption {
	return func(r *LocalRunner) {
		r.logger = logger
	}
}

func NewLocalRunner(opts ...LocalRunnerOption) *LocalRunner {
	cwd, _ := os.Getwd()
	r := &LocalRunner{
		runsDir: filepath.Join(cwd, ".catmap", "runs"),
		logger:  qlog.NewDiscard(),
		runs:    make(map[string]*runProcess),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRunID returns a fresh run ID. UUIDv7 keeps runs sorted by creation.
func NewRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %w", err)
	}
	return id.String(), nil
}

// RunsDir returns the directory holding all runs.
func (r *LocalRunner) RunsDir() string {
	return r.runsDir
}

// RunDir returns the directory of runID.
func (r *LocalRunner) RunDir(runID string) string {
	return filepath.Join(r.runsDir, runID)
}

// WorkDir returns the directory a job's inputs go into and its process
// runs in.
func (r *LocalRunner) WorkDir(runID string) string {
	return filepath.Join(r.RunDir(runID), "work")
}

func (r *LocalRunner) Submit(ctx context.Context, spec JobSpec) (*Run, error) {
	run, err := r.newRun(spec)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Submitted run", "run_id", run.ID, "command", spec.Command)

	submitted := *run
	go r.executeRun(ctx, run)

	return &submitted, nil
}

// newRun creates the run and work directories and writes the pending
// run.json.
func (r *LocalRunner) newRun(spec JobSpec) (*Run, error) {
	runID := spec.ID
	if runID == "" {
		id, err := NewRunID()
		if err != nil {
			return nil, err
		}
		runID = id
	} else if filepath.Base(runID) != runID || runID == "." || runID == ".." {
		return nil, fmt.Errorf("invalid run ID %q", runID)
	}

	runDir := r.RunDir(runID)
	workDir := spec.WorkingDir
	if workDir == "" {
		workDir = r.WorkDir(runID)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	logsPath := filepath.Join(runDir, "stdout.log")
	if spec.StdoutName != "" {
		logsPath = filepath.Join(workDir, spec.StdoutName)
	}

	run := &Run{
		ID:         runID,
		Name:       spec.Name,
		Status:     RunStatusPending,
		Command:    spec.Command,
		Args:       spec.Args,
		Env:        spec.Env,
		WorkingDir: workDir,
		StdinName:  spec.StdinName,
		Collect:    spec.Collect,
		CreatedAt:  time.Now(),
		Metadata:   make(map[string]string),
		RunDir:     runDir,
		LogsPath:   logsPath,
		StderrPath: filepath.Join(runDir, "stderr.log"),
	}

	if err := r.saveRun(run); err != nil {
		return nil, fmt.Errorf("failed to save run state: %w", err)
	}
	return run, nil
}

func (r *LocalRunner) executeRun(ctx context.Context, run *Run) {
	now := time.Now()
	run.StartedAt = &now
	run.Status = RunStatusRunning
	_ = r.saveRun(run)

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(execCtx, run.Command, run.Args...)
	cmd.Dir = run.WorkingDir
	cmd.Env = os.Environ()
	for k, v := range run.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("CATMAP_RUN_ID=%s", run.ID),
		fmt.Sprintf("CATMAP_RUN_DIR=%s", run.RunDir),
	)

	if run.StdinName != "" {
		stdin, err := os.Open(filepath.Join(run.WorkingDir, run.StdinName))
		if err != nil {
			r.finishRunWithError(ctx, run, fmt.Errorf("failed to open stdin file: %w", err))
			return
		}
		defer stdin.Close()
		cmd.Stdin = stdin
	}

	stdout, err := os.Create(run.LogsPath)
	if err != nil {
		r.finishRunWithError(ctx, run, fmt.Errorf("failed to create log file: %w", err))
		return
	}
	defer stdout.Close()

	stderr, err := os.Create(run.StderrPath)
	if err != nil {
		r.finishRunWithError(ctx, run, fmt.Errorf("failed to create stderr file: %w", err))
		return
	}
	defer stderr.Close()

	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.mu.Lock()
	r.runs[run.ID] = &runProcess{cmd: cmd, run: run, cancel: cancel}
	r.mu.Unlock()

	err = cmd.Run()

	r.mu.Lock()
	delete(r.runs, run.ID)
	r.mu.Unlock()

	finished := time.Now()
	run.FinishedAt = &finished

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		exitCode := 0
		run.ExitCode = &exitCode
		run.Status = RunStatusSucceeded
	case errors.Is(execCtx.Err(), context.Canceled):
		run.Status = RunStatusCancelled
		run.Error = "cancelled"
	case errors.As(err, &exitErr):
		exitCode := exitErr.ExitCode()
		run.ExitCode = &exitCode
		run.Status = RunStatusFailed
		run.Error = err.Error()
	default:
		// failed to start
		run.Status = RunStatusFailed
		run.Error = err.Error()
		_, _ = stderr.WriteString(err.Error())
	}
	_ = stdout.Sync()

	r.logger.Debug("Run finished", "run_id", run.ID, "status", run.Status)
	r.uploadArtifacts(ctx, run)
	_ = r.saveRun(run)
}

func (r *LocalRunner) finishRunWithError(ctx context.Context, run *Run, err error) {
	now := time.Now()
	run.FinishedAt = &now
	run.Status = RunStatusFailed
	run.Error = err.Error()
	_ = os.WriteFile(run.StderrPath, []byte(err.Error()), 0o644)
	r.uploadArtifacts(ctx, run)
	_ = r.saveRun(run)
}

func (r *LocalRunner) Wait(ctx context.Context, runID string) (*Run, error) {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Finished() {
		return run, nil
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			run, err := r.GetRun(ctx, runID)
			if err != nil {
				return nil, err
			}
			if run.Status.Finished() {
				return run, nil
			}
		}
	}
}

func (r *LocalRunner) GetRun(_ context.Context, runID string) (*Run, error) {
	if filepath.Base(runID) != runID {
		return nil, qerr.New(qerr.CodeNotFound, fmt.Errorf("%w: %s", ErrRunNotFound, runID))
	}
	data, err := os.ReadFile(filepath.Join(r.RunDir(runID), "run.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, qerr.New(qerr.CodeNotFound, fmt.Errorf("%w: %s", ErrRunNotFound, runID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse run state: %w", err)
	}
	return &run, nil
}

func (r *LocalRunner) Cancel(ctx context.Context, runID string) error {
	r.mu.RLock()
	proc, exists := r.runs[runID]
	r.mu.RUnlock()

	if !exists {
		run, err := r.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status.Finished() {
			return fmt.Errorf("run %s is already finished with status %s", runID, run.Status)
		}
		return fmt.Errorf("run %s is not currently running", runID)
	}

	proc.cancel()
	return nil
}

// Delete removes a finished run's directory and its uploaded artifacts.
func (r *LocalRunner) Delete(ctx context.Context, runID string) error {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !run.Status.Finished() {
		return fmt.Errorf("run %s is still %s", runID, run.Status)
	}
	if r.artifacts != nil {
		if err := r.artifacts.DeletePrefix(ctx, qart.RunArtifactPrefix(runID)); err != nil {
			return fmt.Errorf("failed to delete artifacts: %w", err)
		}
	}
	if err := os.RemoveAll(r.RunDir(runID)); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}
	return nil
}

// ListRuns returns runs newest first.
func (r *LocalRunner) ListRuns(ctx context.Context, status *RunStatus) ([]*Run, error) {
	entries, err := os.ReadDir(r.runsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []*Run{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	runs := []*Run{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := r.GetRun(ctx, entry.Name())
		if err != nil {
			continue
		}
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID > runs[j].ID })
	return runs, nil
}

// saveRun writes run.json through a rename so readers never see a partial
// file.
func (r *LocalRunner) saveRun(run *Run) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}
	runPath := filepath.Join(run.RunDir, "run.json")
	tmp := runPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run state: %w", err)
	}
	return os.Rename(tmp, runPath)
}

// uploadArtifacts uploads the stdout capture, stderr.log and collected
// outputs if a store is configured. Missing files are skipped.
func (r *LocalRunner) uploadArtifacts(ctx context.Context, run *Run) {
	if r.artifacts == nil {
		return
	}

	files := []struct{ name, path string }{
		{filepath.Base(run.LogsPath), run.LogsPath},
		{"stderr.log", run.StderrPath},
	}
	seen := map[string]bool{files[0].name: true, "stderr.log": true}
	for _, name := range run.Collect {
		if seen[name] || filepath.Base(name) != name {
			continue
		}
		seen[name] = true
		files = append(files, struct{ name, path string }{name, filepath.Join(run.WorkingDir, name)})
	}

	for _, f := range files {
		a, err := r.uploadFile(ctx, run.ID, f.name, f.path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			r.logger.Warn("Failed to upload artifact", "run_id", run.ID, "file", f.name, "error", err)
			continue
		}
		run.Artifacts = append(run.Artifacts, *a)
	}
}

func (r *LocalRunner) uploadFile(ctx context.Context, runID, name, path string) (*RunArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	artifact, err := r.artifacts.Upload(ctx, qart.RunArtifactKey(runID, name), f, contentType, map[string]string{
		"run_id": runID,
	})
	if err != nil {
		return nil, err
	}
	return &RunArtifact{
		Key:         artifact.Key,
		Filename:    name,
		Size:        stat.Size(),
		ContentType: contentType,
	}, nil
}

// GetLogs returns the stdout capture of a run.
func (r *LocalRunner) GetLogs(ctx context.Context, runID string) (io.ReadCloser, error) {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	logFile, err := os.Open(run.LogsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logFile, nil
}

// StreamLogs copies the stdout capture of a run to w.
func (r *LocalRunner) StreamLogs(ctx context.Context, runID string, w io.Writer) error {
	logs, err := r.GetLogs(ctx, runID)
	if err != nil {
		return err
	}
	defer logs.Close()

	_, err = io.Copy(w, logs)
	return err
}

var _ Runner = (*LocalRunner)(nil)
