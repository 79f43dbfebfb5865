// Package pipeline runs a CatMAP calculation end to end on the local
// machine: inputs are written into a fresh run directory, the interpreter is
// started on the driver script, and the retrieved outputs are parsed and
// archived.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quatton/catmap-adapter/pkg/archive"
	"github.com/quatton/catmap-adapter/pkg/catmap"
	"github.com/quatton/catmap-adapter/pkg/folder"
	"github.com/quatton/catmap-adapter/pkg/qerr"
	"github.com/quatton/catmap-adapter/pkg/qlog"
	"github.com/quatton/catmap-adapter/pkg/qrunner"
)

// DefaultPython is the interpreter used when none is configured.
const DefaultPython = "python"

// ExecutionError reports a run that never produced outputs worth parsing.
type ExecutionError struct {
	RunID  string
	Status qrunner.RunStatus
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("run %s %s: %s", e.RunID, e.Status, e.Reason)
}

// Pipeline wires a Calculation, a Runner, a Parser and an archive.
type Pipeline struct {
	Calculation *catmap.Calculation
	Parser      *catmap.Parser
	Runner      qrunner.Runner
	// Archive may be nil, in which case records are only returned.
	Archive archive.Store
	Python  string
	Env     map[string]string
	Logger  *qlog.Logger
}

// Started is a submitted run together with what its parser needs.
type Started struct {
	Run  *qrunner.Run
	Name string
	Info *catmap.CalcInfo
}

// Start writes the inputs into a new run directory and submits the job.
// It does not wait for the process.
func (p *Pipeline) Start(ctx context.Context, name string, params *catmap.RunParameters) (*Started, error) {
	runID, err := qrunner.NewRunID()
	if err != nil {
		return nil, err
	}
	workDir := p.Runner.WorkDir(runID)
	sandbox := folder.NewLocal(workDir)

	info, err := p.Calculation.Prepare(ctx, params, sandbox)
	if err != nil {
		_ = os.RemoveAll(p.Runner.RunDir(runID))
		return nil, err
	}
	if err := folder.Stage(ctx, sandbox, info.LocalCopyList); err != nil {
		_ = os.RemoveAll(p.Runner.RunDir(runID))
		return nil, qerr.New(qerr.CodeValidation, err)
	}

	run, err := p.Runner.Submit(ctx, qrunner.JobSpec{
		ID:         runID,
		Name:       name,
		Command:    p.python(),
		Env:        p.Env,
		WorkingDir: workDir,
		StdinName:  info.Code.StdinName,
		StdoutName: info.Code.StdoutName,
		Collect:    info.RetrieveList,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit run: %w", err)
	}
	p.logger().Info("Started CatMAP run", "run_id", run.ID, "work_dir", workDir)
	return &Started{Run: run, Name: name, Info: info}, nil
}

// Finish waits for a started run, parses what it left behind and archives
// the outcome. The returned error is only set when the record could not be
// built or stored; a failed calculation is reported in the record.
func (p *Pipeline) Finish(ctx context.Context, s *Started) (*archive.Record, error) {
	run, err := p.Runner.Wait(ctx, s.Run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for run %s: %w", s.Run.ID, err)
	}

	var bundle *catmap.ResultBundle
	var runErr error
	switch {
	case run.Status == qrunner.RunStatusCancelled || run.ExitCode == nil:
		runErr = qerr.New(qerr.CodeExecution, &ExecutionError{RunID: run.ID, Status: run.Status, Reason: run.Error})
	default:
		if run.Status == qrunner.RunStatusFailed {
			p.logger().Warn("Interpreter exited with an error, parsing outputs anyway", "run_id", run.ID, "exit_code", *run.ExitCode)
		}
		bundle, runErr = p.Parser.Parse(ctx, folder.NewLocal(run.WorkingDir), s.Info.Outputs())
	}

	rec := archive.NewRecord(run.ID, s.Name, bundle, runErr)
	if rec.Log == nil {
		rec.Log = readLog(run)
	}
	if runErr != nil {
		p.logger().Error("CatMAP run failed", "run_id", run.ID, "code", rec.Code, "error", runErr)
	} else {
		p.logger().Info("CatMAP run finished", "run_id", run.ID, "summary", bundle.Summary())
	}

	if p.Archive != nil {
		if err := p.Archive.Save(ctx, rec); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// Run is Start followed by Finish.
func (p *Pipeline) Run(ctx context.Context, name string, params *catmap.RunParameters) (*archive.Record, error) {
	started, err := p.Start(ctx, name, params)
	if err != nil {
		return nil, err
	}
	return p.Finish(ctx, started)
}

// Outcome returns the archived record of a run.
func (p *Pipeline) Outcome(ctx context.Context, runID string) (*archive.Record, error) {
	if p.Archive == nil {
		return nil, qerr.New(qerr.CodeNotFound, errors.New("no outcome archive configured"))
	}
	rec, err := p.Archive.Get(ctx, runID)
	if errors.Is(err, archive.ErrNotFound) {
		return nil, qerr.New(qerr.CodeNotFound, fmt.Errorf("no outcome for run %s", runID))
	}
	return rec, err
}

// Delete removes a finished run together with its artifacts and outcome.
func (p *Pipeline) Delete(ctx context.Context, runID string) error {
	if err := p.Runner.Delete(ctx, runID); err != nil {
		return err
	}
	if p.Archive != nil {
		if err := p.Archive.Delete(ctx, runID); err != nil {
			return fmt.Errorf("failed to delete outcome: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) python() string {
	if p.Python == "" {
		return DefaultPython
	}
	return p.Python
}

func (p *Pipeline) logger() *qlog.Logger {
	if p.Logger == nil {
		return qlog.NewDiscard()
	}
	return p.Logger
}

// readLog returns the stdout capture, or stderr when the process never
// wrote anything.
func readLog(run *qrunner.Run) []byte {
	for _, path := range []string{run.LogsPath, run.StderrPath} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Clean(path))
		if err == nil && len(data) > 0 {
			return data
		}
	}
	return nil
}
