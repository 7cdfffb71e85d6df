package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	"go.uber.org/zap"
)

// DockerAPIProvider implements Provider against the Docker Engine API
// through the official client, avoiding a CLI round-trip per call.
type DockerAPIProvider struct {
	logger *zap.Logger
	client *client.Client
}

// NewDockerAPIProvider creates a Provider connected to the local Docker
// daemon using environment defaults.
func NewDockerAPIProvider(logger *zap.Logger) (*DockerAPIProvider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerAPIProvider{logger: logger, client: cli}, nil
}

// NewDockerAPIProviderWithClient creates a provider with an existing
// client, useful when sharing one client across executors.
func NewDockerAPIProviderWithClient(logger *zap.Logger, cli *client.Client) (*DockerAPIProvider, error) {
	if cli == nil {
		return nil, fmt.Errorf("Docker client cannot be nil")
	}
	return &DockerAPIProvider{logger: logger, client: cli}, nil
}

// Create allocates the container with the spec's limits. A daemon
// refusal, including refused resource limits, fails the creation.
func (p *DockerAPIProvider) Create(ctx context.Context, spec CreateSpec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for key, value := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}

	containerCfg := &container.Config{
		Image:      spec.Image,
		Cmd:        withStdin(spec.Command, spec.Stdin),
		WorkingDir: spec.WorkDir,
		Env:        env,
		Tty:        false,
	}

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges:true"},
		Resources: container.Resources{
			Memory:     spec.MemoryBytes,
			MemorySwap: spec.MemoryBytes,
		},
	}
	if spec.StackBytes > 0 {
		hostCfg.Resources.Ulimits = []*units.Ulimit{
			{Name: "stack", Soft: spec.StackBytes, Hard: spec.StackBytes},
		}
	}
	if spec.Mount != nil {
		hostCfg.Mounts = []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   spec.Mount.Source,
			Target:   spec.Mount.Target,
			ReadOnly: spec.Mount.ReadOnly,
		}}
	}

	resp, err := p.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	p.logger.Debug("sandbox created", zap.String("backend", "dockerapi"), zap.String("id", resp.ID))
	return resp.ID, nil
}

// Start launches the container's main process.
func (p *DockerAPIProvider) Start(ctx context.Context, id string) error {
	if err := p.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// Stop terminates the container; stopping a missing container is a no-op.
func (p *DockerAPIProvider) Stop(ctx context.Context, id string) error {
	timeout := 1
	err := p.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Remove releases the container; removing a missing container is a no-op.
func (p *DockerAPIProvider) Remove(ctx context.Context, id string) error {
	err := p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Exec runs an auxiliary command inside the running container.
func (p *DockerAPIProvider) Exec(ctx context.Context, id string, cmd []string) ([]byte, []byte, error) {
	execResp, err := p.client.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := p.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, attachResp.Reader); err != nil {
		return nil, nil, fmt.Errorf("failed to read exec output: %w", err)
	}
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), nil
}

// IsRunning inspects the container state.
func (p *DockerAPIProvider) IsRunning(ctx context.Context, id string) (bool, error) {
	inspect, err := p.client.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect container: %w", err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// ExitCode reads the main process's exit code.
func (p *DockerAPIProvider) ExitCode(ctx context.Context, id string) (int, error) {
	inspect, err := p.client.ContainerInspect(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect container: %w", err)
	}
	if inspect.State == nil {
		return 0, fmt.Errorf("container %s has no state", id)
	}
	return inspect.State.ExitCode, nil
}

// Output returns the container's accumulated stdout and stderr.
func (p *DockerAPIProvider) Output(ctx context.Context, id string) ([]byte, []byte, error) {
	reader, err := p.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read container logs: %w", err)
	}
	defer reader.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, reader); err != nil {
		return nil, nil, fmt.Errorf("failed to demultiplex logs: %w", err)
	}
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), nil
}

// MemoryUsage samples the container's current memory usage.
func (p *DockerAPIProvider) MemoryUsage(ctx context.Context, id string) (int64, error) {
	stats, err := p.client.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to read container stats: %w", err)
	}
	defer stats.Body.Close()

	var decoded container.StatsResponse
	if err := json.NewDecoder(stats.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("failed to decode container stats: %w", err)
	}
	return int64(decoded.MemoryStats.Usage), nil
}

// Close releases the underlying Docker client.
func (p *DockerAPIProvider) Close() error {
	return p.client.Close()
}
