package qrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// dockerAPI is the part of the docker client DockerRunner uses.
type dockerAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// DockerRunner runs jobs inside containers. The run's work directory is
// bind-mounted at ContainerWorkDir; run state, logs and artifacts are kept
// on the host exactly as LocalRunner keeps them.
type DockerRunner struct {
	*LocalRunner
	client dockerAPI
	config ContainerConfig

	cmu        sync.Mutex
	containers map[string]*runContainer
}

type runContainer struct {
	id        string
	cancelled bool
}

// NewDockerRunner connects to the daemon named by the DOCKER_* environment.
func NewDockerRunner(cfg ContainerConfig, opts ...LocalRunnerOption) (*DockerRunner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newDockerRunner(cli, cfg, opts...), nil
}

func newDockerRunner(api dockerAPI, cfg ContainerConfig, opts ...LocalRunnerOption) *DockerRunner {
	return &DockerRunner{
		LocalRunner: NewLocalRunner(opts...),
		client:      api,
		config:      cfg,
		containers:  make(map[string]*runContainer),
	}
}

// Close releases the docker client.
func (d *DockerRunner) Close() error {
	return d.client.Close()
}

func (d *DockerRunner) Submit(ctx context.Context, spec JobSpec) (*Run, error) {
	run, err := d.newRun(spec)
	if err != nil {
		return nil, err
	}
	run.Metadata["image"] = d.config.Image
	if err := d.saveRun(run); err != nil {
		return nil, fmt.Errorf("failed to save run state: %w", err)
	}
	d.logger.Debug("Submitted container run", "run_id", run.ID, "image", d.config.Image)

	submitted := *run
	go d.executeContainer(ctx, run)

	return &submitted, nil
}

// Cancel stops the run's container. The run ends as cancelled once the
// container has exited.
func (d *DockerRunner) Cancel(ctx context.Context, runID string) error {
	d.cmu.Lock()
	rc, ok := d.containers[runID]
	if ok {
		rc.cancelled = true
	}
	d.cmu.Unlock()
	if !ok {
		return d.LocalRunner.Cancel(ctx, runID)
	}
	if err := d.client.ContainerStop(ctx, rc.id, container.StopOptions{}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// containerSpec translates a run into the docker create request.
func (d *DockerRunner) containerSpec(run *Run) (*container.Config, *container.HostConfig, error) {
	nanoCPUs, err := d.config.Resources.nanoCPUs()
	if err != nil {
		return nil, nil, err
	}
	memory, err := d.config.Resources.memoryBytes()
	if err != nil {
		return nil, nil, err
	}

	env := make([]string, 0, len(run.Env)+2)
	for k, v := range run.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	env = append(env,
		fmt.Sprintf("CATMAP_RUN_ID=%s", run.ID),
		fmt.Sprintf("CATMAP_RUN_DIR=%s", ContainerWorkDir),
	)

	withStdin := run.StdinName != ""
	cfg := &container.Config{
		Image:        d.config.Image,
		Cmd:          append([]string{run.Command}, run.Args...),
		Env:          env,
		WorkingDir:   ContainerWorkDir,
		AttachStdin:  withStdin,
		OpenStdin:    withStdin,
		StdinOnce:    withStdin,
		AttachStdout: true,
		AttachStderr: true,
		Labels: map[string]string{
			"catmap.run-id": run.ID,
		},
	}

	workDir, err := filepath.Abs(run.WorkingDir)
	if err != nil {
		return nil, nil, err
	}
	mounts := []mount.Mount{{
		Type:   mount.TypeBind,
		Source: workDir,
		Target: ContainerWorkDir,
	}}
	for _, m := range d.config.Mounts {
		typ := mount.TypeBind
		if m.Type == "volume" {
			typ = mount.TypeVolume
		}
		mounts = append(mounts, mount.Mount{
			Type:     typ,
			Source:   m.Source,
			Target:   m.Destination,
			ReadOnly: m.ReadOnly,
		})
	}

	host := &container.HostConfig{
		Mounts:      mounts,
		NetworkMode: container.NetworkMode(d.config.NetworkMode),
		Resources: container.Resources{
			NanoCPUs: nanoCPUs,
			Memory:   memory,
		},
	}
	return cfg, host, nil
}

func (d *DockerRunner) executeContainer(ctx context.Context, run *Run) {
	now := time.Now()
	run.StartedAt = &now
	run.Status = RunStatusRunning
	_ = d.saveRun(run)

	if d.config.Pull {
		if err := d.pull(ctx); err != nil {
			d.finishRunWithError(ctx, run, err)
			return
		}
	}

	cfg, host, err := d.containerSpec(run)
	if err != nil {
		d.finishRunWithError(ctx, run, err)
		return
	}
	created, err := d.client.ContainerCreate(ctx, cfg, host, nil, nil, "catmap-"+run.ID)
	if err != nil {
		d.finishRunWithError(ctx, run, fmt.Errorf("failed to create container: %w", err))
		return
	}
	d.logger.Debug("Created container", "run_id", run.ID, "container_id", created.ID)
	defer func() {
		err := d.client.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
		if err != nil {
			d.logger.Warn("Failed to remove container", "run_id", run.ID, "container_id", created.ID, "error", err)
		}
	}()

	rc := &runContainer{id: created.ID}
	d.cmu.Lock()
	d.containers[run.ID] = rc
	d.cmu.Unlock()

	exitCode, err := d.attachAndWait(ctx, run, created.ID)

	d.cmu.Lock()
	cancelled := rc.cancelled
	delete(d.containers, run.ID)
	d.cmu.Unlock()

	finished := time.Now()
	run.FinishedAt = &finished

	switch {
	case cancelled || errors.Is(ctx.Err(), context.Canceled):
		run.Status = RunStatusCancelled
		run.Error = "cancelled"
	case err != nil:
		run.Status = RunStatusFailed
		run.Error = err.Error()
		appendStderr(run.StderrPath, err.Error())
	case exitCode == 0:
		run.ExitCode = &exitCode
		run.Status = RunStatusSucceeded
	default:
		run.ExitCode = &exitCode
		run.Status = RunStatusFailed
		run.Error = fmt.Sprintf("exit status %d", exitCode)
	}

	d.logger.Debug("Container run finished", "run_id", run.ID, "status", run.Status)
	d.uploadArtifacts(ctx, run)
	_ = d.saveRun(run)
}

// attachAndWait starts the container with its stdin fed from the driver
// file and its output demultiplexed into the run's log files.
func (d *DockerRunner) attachAndWait(ctx context.Context, run *Run, containerID string) (int, error) {
	var stdin *os.File
	if run.StdinName != "" {
		f, err := os.Open(filepath.Join(run.WorkingDir, run.StdinName))
		if err != nil {
			return 0, fmt.Errorf("failed to open stdin file: %w", err)
		}
		defer f.Close()
		stdin = f
	}

	stdout, err := os.Create(run.LogsPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create log file: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(run.StderrPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create stderr file: %w", err)
	}
	defer stderr.Close()

	// Register the wait before starting so a fast exit is not missed.
	waitCh, errCh := d.client.ContainerWait(ctx, containerID, container.WaitConditionNextExit)

	attach, err := d.client.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  stdin != nil,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to attach to container: %w", err)
	}
	defer attach.Close()

	if err := d.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return 0, fmt.Errorf("failed to start container: %w", err)
	}

	if stdin != nil {
		go func() {
			if _, err := io.Copy(attach.Conn, stdin); err != nil {
				d.logger.Warn("Failed to write container stdin", "run_id", run.ID, "error", err)
			}
			_ = attach.CloseWrite()
		}()
	}

	if _, err := stdcopy.StdCopy(stdout, stderr, attach.Reader); err != nil && ctx.Err() == nil {
		d.logger.Warn("Container output copy ended early", "run_id", run.ID, "error", err)
	}
	_ = stdout.Sync()

	select {
	case resp := <-waitCh:
		if resp.Error != nil && resp.Error.Message != "" {
			return int(resp.StatusCode), errors.New(resp.Error.Message)
		}
		return int(resp.StatusCode), nil
	case err := <-errCh:
		return 0, fmt.Errorf("failed to wait for container: %w", err)
	}
}

func (d *DockerRunner) pull(ctx context.Context) error {
	d.logger.Info("Pulling image", "image", d.config.Image)
	rc, err := d.client.ImagePull(ctx, d.config.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", d.config.Image, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

func appendStderr(path, msg string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(msg)
}

var _ Runner = (*DockerRunner)(nil)
