package qrunner

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeDocker plays a daemon that runs one container per test.
type fakeDocker struct {
	stdout   string
	stderr   string
	exitCode int64
	hold     bool // keep running until ContainerStop

	mu      sync.Mutex
	name    string
	config  *container.Config
	host    *container.HostConfig
	removed []string
	stopped []string

	started  chan struct{}
	exited   chan struct{}
	exitOnce sync.Once
	stdin    chan string
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		started: make(chan struct{}),
		exited:  make(chan struct{}),
		stdin:   make(chan string, 1),
	}
}

func (f *fakeDocker) exit() { f.exitOnce.Do(func() { close(f.exited) }) }

func (f *fakeDocker) ImagePull(context.Context, string, image.PullOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(`{"status":"done"}`)), nil
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name, f.config, f.host = name, cfg, host
	return container.CreateResponse{ID: "c0ffee"}, nil
}

func (f *fakeDocker) ContainerAttach(context.Context, string, container.AttachOptions) (types.HijackedResponse, error) {
	client, server := net.Pipe()
	go func() {
		data, _ := io.ReadAll(server)
		f.stdin <- string(data)
	}()

	pr, pw := io.Pipe()
	go func() {
		<-f.started
		_, _ = stdcopy.NewStdWriter(pw, stdcopy.Stdout).Write([]byte(f.stdout))
		_, _ = stdcopy.NewStdWriter(pw, stdcopy.Stderr).Write([]byte(f.stderr))
		<-f.exited
		pw.Close()
	}()
	return types.HijackedResponse{Conn: client, Reader: bufio.NewReader(pr)}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	close(f.started)
	if !f.hold {
		f.exit()
	}
	return nil
}

func (f *fakeDocker) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	ch := make(chan container.WaitResponse, 1)
	go func() {
		<-f.exited
		f.mu.Lock()
		code := f.exitCode
		if len(f.stopped) > 0 {
			code = 137
		}
		f.mu.Unlock()
		ch <- container.WaitResponse{StatusCode: code}
	}()
	return ch, make(chan error)
}

func (f *fakeDocker) ContainerStop(_ context.Context, id string, _ container.StopOptions) error {
	f.mu.Lock()
	f.stopped = append(f.stopped, id)
	f.mu.Unlock()
	f.exit()
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocker) Close() error { return nil }

func (f *fakeDocker) removedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func newTestDockerRunner(t *testing.T, fake *fakeDocker, cfg ContainerConfig) *DockerRunner {
	t.Helper()
	if cfg.Image == "" {
		cfg.Image = "catmap:test"
	}
	return newDockerRunner(fake, cfg, WithRunsDir(filepath.Join(t.TempDir(), "runs")))
}

// submitDriver writes a driver script into a fresh work dir and submits it
// the way the pipeline does.
func submitDriver(t *testing.T, runner *DockerRunner) *Run {
	t.Helper()
	id, err := NewRunID()
	if err != nil {
		t.Fatal(err)
	}
	workDir := runner.WorkDir(id)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "mkm_job.py"), []byte("print('hi')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run, err := runner.Submit(context.Background(), JobSpec{
		ID:         id,
		Command:    "python",
		Env:        map[string]string{"OMP_NUM_THREADS": "1"},
		WorkingDir: workDir,
		StdinName:  "mkm_job.py",
		StdoutName: "aiida.out",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	return run
}

func TestDockerRunner_Submit(t *testing.T) {
	fake := newFakeDocker()
	fake.stdout = "hi\n"
	fake.stderr = "warning\n"
	runner := newTestDockerRunner(t, fake, DefaultContainerConfig())

	run := submitDriver(t, runner)
	final, err := runner.Wait(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if final.Status != RunStatusSucceeded {
		t.Fatalf("Expected status succeeded, got %s (error: %s)", final.Status, final.Error)
	}
	if final.ExitCode == nil || *final.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %v", final.ExitCode)
	}
	if final.Metadata["image"] != "catmap:test" {
		t.Errorf("image metadata = %q", final.Metadata["image"])
	}

	stdout, err := os.ReadFile(filepath.Join(runner.WorkDir(run.ID), "aiida.out"))
	if err != nil {
		t.Fatalf("reading stdout: %v", err)
	}
	if string(stdout) != "hi\n" {
		t.Errorf("stdout = %q", stdout)
	}
	stderr, err := os.ReadFile(final.StderrPath)
	if err != nil {
		t.Fatalf("reading stderr: %v", err)
	}
	if string(stderr) != "warning\n" {
		t.Errorf("stderr = %q", stderr)
	}

	select {
	case got := <-fake.stdin:
		if got != "print('hi')\n" {
			t.Errorf("stdin = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("driver script never reached the container")
	}

	fake.mu.Lock()
	name := fake.name
	fake.mu.Unlock()
	if name != "catmap-"+run.ID {
		t.Errorf("container name = %q", name)
	}
	if got := fake.removedIDs(); len(got) != 1 || got[0] != "c0ffee" {
		t.Errorf("removed containers = %v", got)
	}
}

func TestDockerRunner_NonZeroExit(t *testing.T) {
	fake := newFakeDocker()
	fake.exitCode = 1
	fake.stderr = "Traceback (most recent call last):\n"
	runner := newTestDockerRunner(t, fake, DefaultContainerConfig())

	run := submitDriver(t, runner)
	final, err := runner.Wait(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if final.Status != RunStatusFailed {
		t.Errorf("Expected status failed, got %s", final.Status)
	}
	if final.ExitCode == nil || *final.ExitCode != 1 {
		t.Errorf("Expected exit code 1, got %v", final.ExitCode)
	}
}

func TestDockerRunner_Cancel(t *testing.T) {
	fake := newFakeDocker()
	fake.hold = true
	runner := newTestDockerRunner(t, fake, DefaultContainerConfig())

	run := submitDriver(t, runner)
	select {
	case <-fake.started:
	case <-time.After(5 * time.Second):
		t.Fatal("container never started")
	}

	if err := runner.Cancel(context.Background(), run.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	final, err := runner.Wait(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if final.Status != RunStatusCancelled {
		t.Errorf("Expected status cancelled, got %s", final.Status)
	}
	if final.ExitCode != nil {
		t.Errorf("cancelled run should carry no exit code, got %d", *final.ExitCode)
	}

	if err := runner.Cancel(context.Background(), run.ID); err == nil {
		t.Error("cancelling a finished run should fail")
	}
}

func TestDockerRunner_ContainerSpec(t *testing.T) {
	cfg := DefaultContainerConfig()
	cfg.Image = "catmap:test"
	cfg.Resources = ResourceRequirements{CPUs: "1.5", Memory: "512m"}
	cfg.Mounts = []Mount{{Type: "volume", Source: "catmap-cache", Destination: "/cache", ReadOnly: true}}
	runner := newDockerRunner(newFakeDocker(), cfg, WithRunsDir(t.TempDir()))

	run := &Run{
		ID:         "run-1",
		Command:    "python",
		WorkingDir: runner.WorkDir("run-1"),
		StdinName:  "mkm_job.py",
	}
	c, host, err := runner.containerSpec(run)
	if err != nil {
		t.Fatalf("containerSpec failed: %v", err)
	}

	if c.Image != "catmap:test" || c.WorkingDir != ContainerWorkDir {
		t.Errorf("image/workdir = %s %s", c.Image, c.WorkingDir)
	}
	if len(c.Cmd) != 1 || c.Cmd[0] != "python" {
		t.Errorf("cmd = %v", c.Cmd)
	}
	if !c.OpenStdin || !c.StdinOnce || !c.AttachStdin {
		t.Error("stdin should be attached for a driver script")
	}
	if host.NanoCPUs != 1_500_000_000 {
		t.Errorf("NanoCPUs = %d", host.NanoCPUs)
	}
	if host.Memory != 512*1024*1024 {
		t.Errorf("Memory = %d", host.Memory)
	}
	if host.NetworkMode != "none" {
		t.Errorf("NetworkMode = %s", host.NetworkMode)
	}
	if len(host.Mounts) != 2 {
		t.Fatalf("mounts = %+v", host.Mounts)
	}
	work := host.Mounts[0]
	if work.Type != mount.TypeBind || work.Source != run.WorkingDir || work.Target != ContainerWorkDir {
		t.Errorf("work mount = %+v", work)
	}
	if extra := host.Mounts[1]; extra.Type != mount.TypeVolume || !extra.ReadOnly || extra.Target != "/cache" {
		t.Errorf("extra mount = %+v", extra)
	}
}

func TestContainerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ContainerConfig
		wantErr bool
	}{
		{"image only", ContainerConfig{Image: "catmap"}, false},
		{"no image", ContainerConfig{}, true},
		{"bad cpus", ContainerConfig{Image: "catmap", Resources: ResourceRequirements{CPUs: "lots"}}, true},
		{"bad memory", ContainerConfig{Image: "catmap", Resources: ResourceRequirements{Memory: "-1g"}}, true},
		{"mount without target", ContainerConfig{Image: "catmap", Mounts: []Mount{{Source: "/data"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// Runs against a real daemon when CATMAP_DOCKER_IMAGE names an image with
// python on its PATH.
func TestDockerRunner_Daemon(t *testing.T) {
	img := os.Getenv("CATMAP_DOCKER_IMAGE")
	if img == "" {
		t.Skip("CATMAP_DOCKER_IMAGE not set")
	}
	cfg := DefaultContainerConfig()
	cfg.Image = img
	runner, err := NewDockerRunner(cfg, WithRunsDir(filepath.Join(t.TempDir(), "runs")))
	if err != nil {
		t.Fatalf("NewDockerRunner failed: %v", err)
	}
	defer runner.Close()

	run := submitDriver(t, runner)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	final, err := runner.Wait(ctx, run.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if final.Status != RunStatusSucceeded {
		t.Fatalf("Expected status succeeded, got %s (error: %s)", final.Status, final.Error)
	}
	stdout, err := os.ReadFile(filepath.Join(runner.WorkDir(run.ID), "aiida.out"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(stdout)) != "hi" {
		t.Errorf("stdout = %q", stdout)
	}
}
