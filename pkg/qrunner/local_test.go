package qrunner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quatton/catmap-adapter/pkg/qart"
	"github.com/quatton/catmap-adapter/pkg/qerr"
)

func newTestRunner(t *testing.T, opts ...LocalRunnerOption) *LocalRunner {
	t.Helper()
	opts = append([]LocalRunnerOption{WithRunsDir(filepath.Join(t.TempDir(), "runs"))}, opts...)
	return NewLocalRunner(opts...)
}

func TestLocalRunner_Submit(t *testing.T) {
	runner := newTestRunner(t)
	ctx := context.Background()

	run, err := runner.Submit(ctx, JobSpec{
		Name:    "test-job",
		Command: "echo",
		Args:    []string{"hello", "world"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if run.ID == "" {
		t.Error("Run ID should not be empty")
	}
	if run.Status != RunStatusPending {
		t.Errorf("Expected status pending, got %s", run.Status)
	}

	finalRun, err := runner.Wait(ctx, run.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if finalRun.Status != RunStatusSucceeded {
		t.Errorf("Expected status succeeded, got %s (error: %s)", finalRun.Status, finalRun.Error)
	}
	if finalRun.ExitCode == nil || *finalRun.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %v", finalRun.ExitCode)
	}
	if finalRun.WorkingDir != runner.WorkDir(run.ID) {
		t.Errorf("WorkingDir = %s, want %s", finalRun.WorkingDir, runner.WorkDir(run.ID))
	}

	data, err := os.ReadFile(finalRun.LogsPath)
	if err != nil {
		t.Fatalf("reading stdout: %v", err)
	}
	if string(data) != "hello world\n" {
		t.Errorf("stdout = %q", data)
	}
	if _, err := os.Stat(filepath.Join(finalRun.RunDir, "run.json")); err != nil {
		t.Errorf("run.json should exist: %v", err)
	}
}

func TestLocalRunner_StdinAndStdoutInWorkDir(t *testing.T) {
	runner := newTestRunner(t)
	ctx := context.Background()

	id, err := NewRunID()
	if err != nil {
		t.Fatal(err)
	}
	work := runner.WorkDir(id)
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(work, "mkm_job.py"), []byte("model.run()\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	run, err := runner.Submit(ctx, JobSpec{
		ID:         id,
		Command:    "sh",
		Args:       []string{"-c", "cat; echo data > aiida.pickle"},
		StdinName:  "mkm_job.py",
		StdoutName: "aiida.out",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	finalRun, err := runner.Wait(ctx, run.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if finalRun.Status != RunStatusSucceeded {
		t.Fatalf("status = %s (%s)", finalRun.Status, finalRun.Error)
	}
	if finalRun.LogsPath != filepath.Join(work, "aiida.out") {
		t.Errorf("LogsPath = %s", finalRun.LogsPath)
	}

	logs, err := runner.GetLogs(ctx, id)
	if err != nil {
		t.Fatalf("GetLogs failed: %v", err)
	}
	defer logs.Close()
	data, _ := io.ReadAll(logs)
	if string(data) != "model.run()\n" {
		t.Errorf("captured stdout = %q", data)
	}
	if _, err := os.Stat(filepath.Join(work, "aiida.pickle")); err != nil {
		t.Errorf("process should run inside the work dir: %v", err)
	}
}

func TestLocalRunner_FailedCommand(t *testing.T) {
	runner := newTestRunner(t)
	ctx := context.Background()

	run, err := runner.Submit(ctx, JobSpec{
		Name:    "failing-job",
		Command: "sh",
		Args:    []string{"-c", "echo boom >&2; exit 1"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	finalRun, err := runner.Wait(ctx, run.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if finalRun.Status != RunStatusFailed {
		t.Errorf("Expected status failed, got %s", finalRun.Status)
	}
	if finalRun.ExitCode == nil || *finalRun.ExitCode != 1 {
		t.Errorf("Expected exit code 1, got %v", finalRun.ExitCode)
	}
	stderr, _ := os.ReadFile(finalRun.StderrPath)
	if string(stderr) != "boom\n" {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestLocalRunner_MissingCommand(t *testing.T) {
	runner := newTestRunner(t)
	ctx := context.Background()

	run, err := runner.Submit(ctx, JobSpec{Command: "definitely-not-a-command-catmap"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	finalRun, err := runner.Wait(ctx, run.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if finalRun.Status != RunStatusFailed || finalRun.Error == "" {
		t.Errorf("status = %s, error = %q", finalRun.Status, finalRun.Error)
	}
	if finalRun.ExitCode != nil {
		t.Errorf("ExitCode = %v, want nil", *finalRun.ExitCode)
	}
}

func TestLocalRunner_Cancel(t *testing.T) {
	runner := newTestRunner(t)
	ctx := context.Background()

	run, err := runner.Submit(ctx, JobSpec{
		Name:    "long-job",
		Command: "sleep",
		Args:    []string{"10"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Give it a moment to start
	time.Sleep(100 * time.Millisecond)

	if err := runner.Cancel(ctx, run.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	finalRun, err := runner.Wait(ctx, run.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if finalRun.Status != RunStatusCancelled {
		t.Errorf("Expected status cancelled, got %s", finalRun.Status)
	}
	if err := runner.Cancel(ctx, run.ID); err == nil {
		t.Error("cancelling a finished run should fail")
	}
}

func TestLocalRunner_ListRuns(t *testing.T) {
	runner := newTestRunner(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := runner.Submit(ctx, JobSpec{
			Name:    "test-job",
			Command: "echo",
			Args:    []string{"test"},
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		ids = append(ids, run.ID)
	}
	for _, id := range ids {
		if _, err := runner.Wait(ctx, id); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}

	runs, err := runner.ListRuns(ctx, nil)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(runs))
	}
	if runs[0].ID != ids[2] {
		t.Errorf("runs should be listed newest first, got %s first", runs[0].ID)
	}

	failed := RunStatusFailed
	failedRuns, err := runner.ListRuns(ctx, &failed)
	if err != nil {
		t.Fatalf("ListRuns with filter failed: %v", err)
	}
	if len(failedRuns) != 0 {
		t.Errorf("Expected 0 failed runs, got %d", len(failedRuns))
	}
}

func TestLocalRunner_GetRunNotFound(t *testing.T) {
	runner := newTestRunner(t)
	_, err := runner.GetRun(context.Background(), "nope")
	if !errors.Is(err, ErrRunNotFound) || !qerr.IsCode(err, qerr.CodeNotFound) {
		t.Errorf("GetRun() error = %v, want ErrRunNotFound", err)
	}
	if _, err := runner.Submit(context.Background(), JobSpec{ID: "../escape", Command: "true"}); err == nil {
		t.Error("Submit should reject run IDs with path separators")
	}
}

func TestLocalRunner_UploadsCollectedFiles(t *testing.T) {
	store := qart.NewMemoryStore("catmap")
	runner := newTestRunner(t, WithArtifactStore(store))
	ctx := context.Background()

	run, err := runner.Submit(ctx, JobSpec{
		Command:    "sh",
		Args:       []string{"-c", "echo log; printf 'x' > aiida.pickle"},
		StdoutName: "aiida.out",
		Collect:    []string{"aiida.out", "aiida.pickle", "missing.txt"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	finalRun, err := runner.Wait(ctx, run.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	names := map[string]bool{}
	for _, a := range finalRun.Artifacts {
		names[a.Filename] = true
	}
	for _, want := range []string{"aiida.out", "stderr.log", "aiida.pickle"} {
		if !names[want] {
			t.Errorf("artifact %s was not uploaded (got %v)", want, names)
		}
	}
	if names["missing.txt"] {
		t.Error("missing files should be skipped")
	}

	rc, err := store.Download(ctx, qart.RunArtifactKey(run.ID, "aiida.out"))
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, rc)
	if buf.String() != "log\n" {
		t.Errorf("uploaded stdout = %q", buf.String())
	}
}

func TestLocalRunner_Delete(t *testing.T) {
	store := qart.NewMemoryStore("catmap")
	runner := newTestRunner(t, WithArtifactStore(store))
	ctx := context.Background()

	run, err := runner.Submit(ctx, JobSpec{Command: "echo", Args: []string{"done"}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := runner.Wait(ctx, run.ID); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	if err := runner.Delete(ctx, run.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(runner.RunDir(run.ID)); !os.IsNotExist(err) {
		t.Errorf("run directory still exists: %v", err)
	}
	if list, _ := store.List(ctx, qart.RunArtifactPrefix(run.ID)); len(list) != 0 {
		t.Errorf("artifacts were not removed: %d left", len(list))
	}
	if err := runner.Delete(ctx, run.ID); !qerr.IsCode(err, qerr.CodeNotFound) {
		t.Errorf("second Delete should report not found, got %v", err)
	}
}
