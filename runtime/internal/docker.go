package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/gammadia/tune/runtime"
	"github.com/gammadia/tune/trial"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1" // for DockerClient interface
)

// ContainerTrialDir is where the trial directory is mounted in containers.
const ContainerTrialDir = "/tune/trial"

// DockerClient abstracts the Docker SDK methods used by DockerExecutor,
// enabling mock-based testing without a real Docker daemon.
type DockerClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID string, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// DockerExecutor runs trainables as containers; the trial's run is the image.
type DockerExecutor struct {
	log    *slog.Logger
	docker DockerClient
}

// DockerExecutor implements runtime.Executor
var _ runtime.Executor = (*DockerExecutor)(nil)

func NewDockerExecutor(docker DockerClient, logger *slog.Logger) *DockerExecutor {
	return &DockerExecutor{log: logger, docker: docker}
}

func (e *DockerExecutor) Execute(ctx context.Context, req trial.Request, report func(trial.Result)) error {
	log := e.log.With("trial", req.Name, "image", req.Run)

	// tryTo is a best-effort cleanup helper: logs errors but doesn't fail the trial.
	tryTo := func(what string, thunk func() error) {
		if err := thunk(); err != nil {
			log.Error("Failed to "+what, "error", err)
		}
	}

	hostDir, err := filepath.Abs(req.Dir)
	if err != nil {
		return fmt.Errorf("failed to resolve trial directory: %w", err)
	}
	if err := os.MkdirAll(hostDir, 0o755); err != nil {
		return fmt.Errorf("failed to create trial directory: %w", err)
	}

	if err := e.ensureImage(ctx, req.Run, log); err != nil {
		return err
	}

	env, err := Env(req, ContainerTrialDir)
	if err != nil {
		return err
	}

	resp, err := RetryResult(ctx, 3, func() (container.CreateResponse, error) {
		return e.docker.ContainerCreate(
			ctx,
			&container.Config{
				Image:      req.Run,
				Env:        env,
				WorkingDir: ContainerTrialDir,
			},
			&container.HostConfig{
				AutoRemove: false, // Otherwise this will remove the container before we can get the logs
				Mounts: []mount.Mount{
					{
						Type:   mount.TypeBind,
						Source: hostDir,
						Target: ContainerTrialDir,
					},
				},
				Resources: containerResources(req),
			},
			nil,
			nil,
			containerName(req),
		)
	})
	if err != nil {
		return fmt.Errorf("failed to create docker container: %w", err)
	}
	// Uses context.Background() so cleanup isn't skipped if ctx is already cancelled
	defer tryTo("remove trial container", func() error {
		return Retry(context.Background(), 3, func() error {
			return e.docker.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{RemoveVolumes: true, Force: true})
		})
	})

	// Register the wait BEFORE starting so we don't miss the exit event.
	wait, errChan := e.docker.ContainerWait(ctx, resp.ID, container.WaitConditionNextExit)
	if err := Retry(ctx, 3, func() error {
		return e.docker.ContainerStart(ctx, resp.ID, container.StartOptions{})
	}); err != nil {
		return fmt.Errorf("failed to start docker container: %w", err)
	}

	logCtx, cancelLogs := context.WithCancel(ctx)
	defer cancelLogs()
	logDone := make(chan error, 1)
	go func() {
		logDone <- e.streamOutput(logCtx, resp.ID, hostDir, report)
	}()

	select {
	case status := <-wait:
		// Container exited, wait for the output to be fully consumed.
		if err := <-logDone; err != nil && logCtx.Err() == nil {
			log.Error("Failed to stream container output", "error", err)
		}
		if status.Error != nil {
			return fmt.Errorf("failed to wait for docker container: %s", status.Error.Message)
		}
		if status.StatusCode != 0 {
			return &runtime.ExitError{Code: int(status.StatusCode)}
		}
		return nil
	case err := <-errChan:
		cancelLogs()
		<-logDone
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to wait for docker container: %w", err)
	case <-ctx.Done():
		// Context cancellation does not stop the container by itself.
		log.Debug("Killing container of stopped trial")
		tryTo("kill trial container", func() error {
			return e.docker.ContainerKill(context.Background(), resp.ID, "SIGKILL")
		})
		cancelLogs()
		<-logDone
		return ctx.Err()
	}
}

func (e *DockerExecutor) ensureImage(ctx context.Context, ref string, log *slog.Logger) error {
	list, err := RetryResult(ctx, 3, func() ([]image.Summary, error) {
		return e.docker.ImageList(ctx, image.ListOptions{
			Filters: filters.NewArgs(filters.Arg("reference", ref)),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to list docker images: %w", err)
	}
	if len(list) > 0 {
		log.Debug("Image already present")
		return nil
	}

	log.Debug("Pulling image")
	reader, err := RetryResult(ctx, 4, func() (io.ReadCloser, error) {
		return e.docker.ImagePull(ctx, ref, image.PullOptions{})
	})
	if err != nil {
		return fmt.Errorf("failed to pull docker image '%s': %w", ref, err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// streamOutput demultiplexes the container logs: stdout is scanned for
// results, stderr goes to the stderr log.
func (e *DockerExecutor) streamOutput(ctx context.Context, containerID, dir string, report func(trial.Result)) error {
	logs, err := e.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	stdoutLog, err := os.Create(filepath.Join(dir, StdoutLog))
	if err != nil {
		return fmt.Errorf("failed to create stdout log: %w", err)
	}
	defer stdoutLog.Close()
	stderrLog, err := os.Create(filepath.Join(dir, StderrLog))
	if err != nil {
		return fmt.Errorf("failed to create stderr log: %w", err)
	}
	defer stderrLog.Close()

	reader, writer := io.Pipe()
	scanDone := make(chan error, 1)
	go func() {
		err := ScanResults(reader, report, stdoutLog)
		_, _ = io.Copy(io.Discard, reader)
		scanDone <- err
	}()

	_, copyErr := stdcopy.StdCopy(writer, stderrLog, logs)
	writer.Close()
	scanErr := <-scanDone

	if copyErr != nil && !errors.Is(copyErr, context.Canceled) {
		return fmt.Errorf("failed to demultiplex container logs: %w", copyErr)
	}
	return scanErr
}

func containerResources(req trial.Request) container.Resources {
	resources := container.Resources{}
	if cpus := req.Resources.TotalCPU(); cpus > 0 {
		resources.NanoCPUs = int64(cpus) * 1e9
	}
	if gpus := req.Resources.TotalGPU(); gpus > 0 {
		resources.DeviceRequests = []container.DeviceRequest{
			{Count: gpus, Capabilities: [][]string{{"gpu"}}},
		}
	}
	return resources
}

func containerName(req trial.Request) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, req.Experiment+"-"+req.Name)
	return fmt.Sprintf("tune-%s-%s", name, req.ID)
}
