package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/tatehito/sandrun/config"
)

// Mount is a single bind mount into the sandbox.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// CreateSpec describes the sandbox to create. Resource ceilings are
// applied at creation time; a backend that cannot apply them must fail
// the creation rather than run unlimited.
type CreateSpec struct {
	Image       string
	Command     []string
	WorkDir     string
	Env         map[string]string
	Stdin       []byte
	MemoryBytes int64
	StackBytes  int64
	Mount       *Mount
}

// Provider abstracts the execution backend. Implementations are
// interchangeable: the Docker and Podman CLIs, the Docker Engine API,
// and an in-memory double for tests.
type Provider interface {
	// Create allocates a sandbox and returns the backend's id for it.
	Create(ctx context.Context, spec CreateSpec) (string, error)
	// Start launches the sandbox's main process.
	Start(ctx context.Context, id string) error
	// Stop forcibly terminates the sandbox. Stopping an already-dead
	// sandbox is a no-op.
	Stop(ctx context.Context, id string) error
	// Remove releases the sandbox's backend resources.
	Remove(ctx context.Context, id string) error
	// Exec runs an auxiliary command inside a running sandbox.
	Exec(ctx context.Context, id string, cmd []string) (stdout, stderr []byte, err error)
	// IsRunning reports whether the main process is still alive.
	IsRunning(ctx context.Context, id string) (bool, error)
	// ExitCode returns the main process's exit code once it has stopped.
	ExitCode(ctx context.Context, id string) (int, error)
	// Output returns the output accumulated by the main process so far.
	Output(ctx context.Context, id string) (stdout, stderr []byte, err error)
	// MemoryUsage returns the sandbox's current memory usage in bytes.
	MemoryUsage(ctx context.Context, id string) (int64, error)
}

// CommandRunner is the seam for executing backend CLI commands.
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner with os/exec.
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments.
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // argv is built by the providers, not user input

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
			err = nil
		} else {
			return "", "", 0, err
		}
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// NewProvider creates the runtime provider selected by the configuration.
func NewProvider(logger *zap.Logger, cfg *config.Config) (Provider, error) {
	switch cfg.Sandbox.Backend {
	case "docker":
		return NewDockerProvider(logger), nil
	case "podman":
		return NewPodmanProvider(logger), nil
	case "dockerapi":
		return NewDockerAPIProvider(logger)
	case "memory":
		return NewMemoryProvider(logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}
}

// withStdin wraps cmd so that stdin is fully delivered to the process
// before anything else happens, through a shell pipe. Input delivery is a
// precondition of output monitoring, so it rides along with the command
// itself instead of a later attach.
func withStdin(cmd []string, stdin []byte) []string {
	if len(stdin) == 0 {
		return cmd
	}
	return []string{"sh", "-c", fmt.Sprintf("printf '%%s' %s | %s", shellQuote(string(stdin)), shellJoin(cmd))}
}

// shellQuote single-quotes s for POSIX sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// shellJoin quotes and joins an argv for POSIX sh.
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}
