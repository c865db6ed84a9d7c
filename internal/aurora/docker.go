package aurora

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// DockerRunner runs the aurora client in a one-shot container on the host
// Docker daemon. Job spec files are bind-mounted read-only at their host path,
// so the daemon must share a filesystem with this process.
type DockerRunner struct {
	client     *client.Client
	image      string
	entrypoint []string
}

// DockerConfig holds configuration for the Docker runner.
type DockerConfig struct {
	Image      string   // Image containing the aurora client (required)
	Entrypoint []string // Overrides the image entrypoint (optional)
}

// NewDockerRunner creates a runner connected to the daemon described by the environment.
func NewDockerRunner(cfg DockerConfig) (*DockerRunner, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("docker image is required")
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerRunner{
		client:     dockerClient,
		image:      cfg.Image,
		entrypoint: cfg.Entrypoint,
	}, nil
}

// Run creates the container, waits for it to exit, collects its output and removes it.
func (r *DockerRunner) Run(ctx context.Context, inv Invocation) (Output, error) {
	if err := r.pullImageIfNeeded(ctx); err != nil {
		return Output{}, fmt.Errorf("pull %s: %w", r.image, err)
	}

	mounts := make([]mount.Mount, 0, len(inv.Files))
	for _, f := range inv.Files {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   f,
			Target:   f,
			ReadOnly: true,
		})
	}

	name := "aurora-client-" + uuid.NewString()
	resp, err := r.client.ContainerCreate(ctx, &container.Config{
		Image:      r.image,
		Entrypoint: r.entrypoint,
		Cmd:        inv.Args,
		Labels: map[string]string{
			"managed-by": "aurora-rest",
		},
	}, &container.HostConfig{Mounts: mounts}, nil, nil, name)
	if err != nil {
		return Output{}, fmt.Errorf("create container: %w", err)
	}
	defer r.removeContainer(ctx, resp.ID)

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return Output{}, fmt.Errorf("start container: %w", err)
	}

	exitCode, err := r.waitForExit(ctx, resp.ID)
	if err != nil {
		return Output{}, fmt.Errorf("wait for container: %w", err)
	}

	logs, err := r.client.ContainerLogs(ctx, resp.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return Output{}, fmt.Errorf("read container logs: %w", err)
	}
	defer logs.Close()

	var stdout, combined bytes.Buffer
	if err := demux(logs, &stdout, &combined); err != nil {
		return Output{}, fmt.Errorf("read container logs: %w", err)
	}

	return Output{Stdout: stdout.Bytes(), Combined: combined.Bytes(), ExitCode: exitCode}, nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (r *DockerRunner) Ready(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error {
	return r.client.Close()
}

func (r *DockerRunner) waitForExit(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := r.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

func (r *DockerRunner) pullImageIfNeeded(ctx context.Context) error {
	_, err := r.client.ImageInspect(ctx, r.image)
	if err == nil {
		return nil
	}

	reader, err := r.client.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (r *DockerRunner) removeContainer(ctx context.Context, containerID string) {
	if err := r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		slog.Warn("Failed to remove aurora client container", "containerId", containerID, "error", err)
	}
}

// demux splits a multiplexed container log stream into stdout and the
// interleaved output of both streams.
func demux(r io.Reader, stdout, combined io.Writer) error {
	_, err := stdcopy.StdCopy(io.MultiWriter(stdout, combined), combined, r)
	return err
}
