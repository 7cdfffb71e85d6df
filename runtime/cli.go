package runtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// CLIProvider implements Provider by driving a container engine CLI
// (docker or podman). Both engines share the same command surface, so a
// single implementation is parameterized by the binary name.
type CLIProvider struct {
	logger    *zap.Logger
	binary    string
	cmdRunner CommandRunner
}

// CLIProviderOption defines a functional option for CLIProvider.
type CLIProviderOption func(*CLIProvider)

// WithCommandRunner sets the CommandRunner for a CLIProvider.
func WithCommandRunner(cmdRunner CommandRunner) CLIProviderOption {
	return func(p *CLIProvider) {
		p.cmdRunner = cmdRunner
	}
}

// NewDockerProvider creates a Provider backed by the docker CLI.
func NewDockerProvider(logger *zap.Logger, opts ...CLIProviderOption) *CLIProvider {
	return newCLIProvider(logger, "docker", opts...)
}

// NewPodmanProvider creates a Provider backed by the podman CLI.
func NewPodmanProvider(logger *zap.Logger, opts ...CLIProviderOption) *CLIProvider {
	return newCLIProvider(logger, "podman", opts...)
}

func newCLIProvider(logger *zap.Logger, binary string, opts ...CLIProviderOption) *CLIProvider {
	p := &CLIProvider{
		logger:    logger,
		binary:    binary,
		cmdRunner: &RealCommandRunner{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Create builds and runs `<binary> create` with the spec's limits and
// isolation flags. A nonzero exit means the engine refused the sandbox,
// including refused resource limits; that is surfaced, never ignored.
func (p *CLIProvider) Create(ctx context.Context, spec CreateSpec) (string, error) {
	args := []string{
		p.binary, "create",
		"--network", "none",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges:true",
	}
	if spec.MemoryBytes > 0 {
		args = append(args,
			"--memory", fmt.Sprintf("%db", spec.MemoryBytes),
			"--memory-swap", fmt.Sprintf("%db", spec.MemoryBytes),
		)
	}
	if spec.StackBytes > 0 {
		args = append(args, "--ulimit", fmt.Sprintf("stack=%d:%d", spec.StackBytes, spec.StackBytes))
	}
	if spec.WorkDir != "" {
		args = append(args, "--workdir", spec.WorkDir)
	}
	for key, value := range spec.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", key, value))
	}
	if spec.Mount != nil {
		volume := fmt.Sprintf("%s:%s", spec.Mount.Source, spec.Mount.Target)
		if spec.Mount.ReadOnly {
			volume += ":ro"
		}
		args = append(args, "-v", volume)
	}
	args = append(args, spec.Image)
	args = append(args, withStdin(spec.Command, spec.Stdin)...)

	stdout, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx, args)
	if err != nil {
		return "", fmt.Errorf("%s create: %w", p.binary, err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("%s create failed: %s", p.binary, strings.TrimSpace(stderr))
	}

	id := strings.TrimSpace(stdout)
	p.logger.Debug("sandbox created", zap.String("backend", p.binary), zap.String("id", id))
	return id, nil
}

// Start launches the created sandbox's main process.
func (p *CLIProvider) Start(ctx context.Context, id string) error {
	_, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx, []string{p.binary, "start", id})
	if err != nil {
		return fmt.Errorf("%s start: %w", p.binary, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%s start failed: %s", p.binary, strings.TrimSpace(stderr))
	}
	return nil
}

// Stop terminates the sandbox. A sandbox the engine no longer knows is
// treated as already stopped.
func (p *CLIProvider) Stop(ctx context.Context, id string) error {
	_, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx, []string{p.binary, "stop", "-t", "1", id})
	if err != nil {
		return fmt.Errorf("%s stop: %w", p.binary, err)
	}
	if exitCode != 0 && !isMissingContainer(stderr) {
		return fmt.Errorf("%s stop failed: %s", p.binary, strings.TrimSpace(stderr))
	}
	return nil
}

// Remove releases the sandbox's engine resources.
func (p *CLIProvider) Remove(ctx context.Context, id string) error {
	_, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx, []string{p.binary, "rm", "-f", id})
	if err != nil {
		return fmt.Errorf("%s rm: %w", p.binary, err)
	}
	if exitCode != 0 && !isMissingContainer(stderr) {
		return fmt.Errorf("%s rm failed: %s", p.binary, strings.TrimSpace(stderr))
	}
	return nil
}

// Exec runs an auxiliary command inside the running sandbox. A nonzero
// exit code of the inner command is not an error; callers read stderr.
func (p *CLIProvider) Exec(ctx context.Context, id string, cmd []string) ([]byte, []byte, error) {
	args := append([]string{p.binary, "exec", id}, cmd...)
	stdout, stderr, _, err := p.cmdRunner.RunCommand(ctx, args)
	if err != nil {
		return nil, nil, fmt.Errorf("%s exec: %w", p.binary, err)
	}
	return []byte(stdout), []byte(stderr), nil
}

// IsRunning inspects the engine's view of the main process.
func (p *CLIProvider) IsRunning(ctx context.Context, id string) (bool, error) {
	stdout, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx,
		[]string{p.binary, "inspect", "--format", "{{.State.Running}}", id})
	if err != nil {
		return false, fmt.Errorf("%s inspect: %w", p.binary, err)
	}
	if exitCode != 0 {
		if isMissingContainer(stderr) {
			return false, nil
		}
		return false, fmt.Errorf("%s inspect failed: %s", p.binary, strings.TrimSpace(stderr))
	}
	return strings.TrimSpace(stdout) == "true", nil
}

// ExitCode reads the main process's exit code from the engine.
func (p *CLIProvider) ExitCode(ctx context.Context, id string) (int, error) {
	stdout, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx,
		[]string{p.binary, "inspect", "--format", "{{.State.ExitCode}}", id})
	if err != nil {
		return 0, fmt.Errorf("%s inspect: %w", p.binary, err)
	}
	if exitCode != 0 {
		return 0, fmt.Errorf("%s inspect failed: %s", p.binary, strings.TrimSpace(stderr))
	}
	code, parseErr := strconv.Atoi(strings.TrimSpace(stdout))
	if parseErr != nil {
		return 0, fmt.Errorf("parse exit code %q: %w", strings.TrimSpace(stdout), parseErr)
	}
	return code, nil
}

// Output returns everything the main process has written so far.
func (p *CLIProvider) Output(ctx context.Context, id string) ([]byte, []byte, error) {
	stdout, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx, []string{p.binary, "logs", id})
	if err != nil {
		return nil, nil, fmt.Errorf("%s logs: %w", p.binary, err)
	}
	if exitCode != 0 {
		return nil, nil, fmt.Errorf("%s logs failed: %s", p.binary, strings.TrimSpace(stderr))
	}
	return []byte(stdout), []byte(stderr), nil
}

// MemoryUsage samples the sandbox's current memory usage.
func (p *CLIProvider) MemoryUsage(ctx context.Context, id string) (int64, error) {
	stdout, stderr, exitCode, err := p.cmdRunner.RunCommand(ctx,
		[]string{p.binary, "stats", "--no-stream", "--format", "{{.MemUsage}}", id})
	if err != nil {
		return 0, fmt.Errorf("%s stats: %w", p.binary, err)
	}
	if exitCode != 0 {
		return 0, fmt.Errorf("%s stats failed: %s", p.binary, strings.TrimSpace(stderr))
	}
	return parseMemUsage(stdout)
}

// parseMemUsage parses the engine's "12.5MiB / 512MiB" stats format and
// returns the usage side in bytes.
func parseMemUsage(s string) (int64, error) {
	usage := s
	if idx := strings.Index(s, "/"); idx >= 0 {
		usage = s[:idx]
	}
	usage = strings.TrimSpace(usage)
	if usage == "" {
		return 0, fmt.Errorf("empty memory usage")
	}

	units := []struct {
		suffix string
		factor float64
	}{
		{"GiB", 1 << 30},
		{"MiB", 1 << 20},
		{"KiB", 1 << 10},
		{"GB", 1e9},
		{"MB", 1e6},
		{"kB", 1e3},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(usage, u.suffix) {
			value, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(usage, u.suffix)), 64)
			if err != nil {
				return 0, fmt.Errorf("parse memory usage %q: %w", usage, err)
			}
			return int64(value * u.factor), nil
		}
	}
	return 0, fmt.Errorf("unrecognized memory usage format: %q", usage)
}

// isMissingContainer matches the engines' "no such container" stderr.
func isMissingContainer(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "no such container") || strings.Contains(lower, "no container with name or id")
}
