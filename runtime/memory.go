package runtime

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryScript describes how a simulated sandbox behaves. Scripts are
// registered per image on a MemoryProvider; unscripted images exit
// immediately with code 0 and no output.
type MemoryScript struct {
	// RunFor is how long the main process runs before exiting naturally.
	RunFor time.Duration
	// NeverExits keeps the process alive until stopped.
	NeverExits bool
	// ExitCode is the natural exit code.
	ExitCode int
	// Stdout and Stderr chunks are revealed evenly across RunFor,
	// preserving order.
	Stdout [][]byte
	Stderr [][]byte
	// MemoryBytes is the usage reported while running.
	MemoryBytes int64
	// CreateErr, StartErr and StopErr inject backend failures.
	CreateErr error
	StartErr  error
	StopErr   error
}

type memorySandbox struct {
	mu      sync.Mutex
	script  MemoryScript
	stdin   []byte
	started bool
	startAt time.Time
	stopped bool
	stopAt  time.Time
	killed  bool
}

func (s *memorySandbox) runningAt(now time.Time) bool {
	if !s.started || s.stopped {
		return false
	}
	if s.script.NeverExits {
		return true
	}
	return now.Sub(s.startAt) < s.script.RunFor
}

// revealedAt returns how many of n chunks the process has emitted by now.
func (s *memorySandbox) revealedAt(now time.Time, n int) int {
	if !s.started || n == 0 {
		return 0
	}
	end := now
	if s.stopped && s.stopAt.Before(now) {
		end = s.stopAt
	}
	if s.script.NeverExits || s.script.RunFor <= 0 {
		if s.script.RunFor <= 0 && !s.script.NeverExits {
			return n
		}
		// Chunks of a never-exiting process appear one per 10ms.
		elapsed := int(end.Sub(s.startAt) / (10 * time.Millisecond))
		if elapsed > n {
			return n
		}
		return elapsed
	}
	elapsed := end.Sub(s.startAt)
	if elapsed >= s.script.RunFor {
		return n
	}
	return int(int64(n) * int64(elapsed) / int64(s.script.RunFor))
}

// MemoryProvider is an in-memory Provider double. It simulates sandbox
// lifecycles against scripted behavior and is the backend behind the
// "memory" configuration value as well as most of the test suite.
type MemoryProvider struct {
	logger  *zap.Logger
	mu      sync.Mutex
	scripts map[string]MemoryScript
	boxes   map[string]*memorySandbox
}

// NewMemoryProvider creates an empty MemoryProvider.
func NewMemoryProvider(logger *zap.Logger) *MemoryProvider {
	return &MemoryProvider{
		logger:  logger,
		scripts: make(map[string]MemoryScript),
		boxes:   make(map[string]*memorySandbox),
	}
}

// Program registers the script simulated for sandboxes of the given image.
func (p *MemoryProvider) Program(image string, script MemoryScript) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[image] = script
}

func (p *MemoryProvider) box(id string) (*memorySandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	box, ok := p.boxes[id]
	if !ok {
		return nil, fmt.Errorf("no such sandbox: %s", id)
	}
	return box, nil
}

// Create allocates a simulated sandbox.
func (p *MemoryProvider) Create(_ context.Context, spec CreateSpec) (string, error) {
	p.mu.Lock()
	script := p.scripts[spec.Image]
	p.mu.Unlock()

	if script.CreateErr != nil {
		return "", script.CreateErr
	}

	id := "mem-" + uuid.NewString()
	p.mu.Lock()
	p.boxes[id] = &memorySandbox{script: script, stdin: spec.Stdin}
	p.mu.Unlock()

	p.logger.Debug("sandbox created", zap.String("backend", "memory"), zap.String("id", id))
	return id, nil
}

// Start begins the simulated run.
func (p *MemoryProvider) Start(_ context.Context, id string) error {
	box, err := p.box(id)
	if err != nil {
		return err
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	if box.script.StartErr != nil {
		return box.script.StartErr
	}
	if box.started {
		return fmt.Errorf("sandbox already started: %s", id)
	}
	box.started = true
	box.startAt = time.Now()
	return nil
}

// Stop terminates the simulated run; repeated stops are no-ops.
func (p *MemoryProvider) Stop(_ context.Context, id string) error {
	box, err := p.box(id)
	if err != nil {
		return err
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	if box.script.StopErr != nil {
		return box.script.StopErr
	}
	if box.stopped {
		return nil
	}
	now := time.Now()
	wasRunning := box.runningAt(now)
	box.stopped = true
	box.stopAt = now
	box.killed = wasRunning
	return nil
}

// Remove forgets the sandbox; removing a missing sandbox is a no-op.
func (p *MemoryProvider) Remove(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.boxes, id)
	return nil
}

// Exec acknowledges an auxiliary command without simulating it.
func (p *MemoryProvider) Exec(_ context.Context, id string, cmd []string) ([]byte, []byte, error) {
	if _, err := p.box(id); err != nil {
		return nil, nil, err
	}
	if len(cmd) == 0 {
		return nil, nil, fmt.Errorf("empty command")
	}
	return nil, nil, nil
}

// IsRunning reports the simulated process state.
func (p *MemoryProvider) IsRunning(_ context.Context, id string) (bool, error) {
	box, err := p.box(id)
	if err != nil {
		return false, err
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	return box.runningAt(time.Now()), nil
}

// ExitCode returns the simulated exit code: the scripted code for a
// natural exit, 137 when the sandbox was killed.
func (p *MemoryProvider) ExitCode(_ context.Context, id string) (int, error) {
	box, err := p.box(id)
	if err != nil {
		return 0, err
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	if box.runningAt(time.Now()) {
		return 0, fmt.Errorf("sandbox still running: %s", id)
	}
	if box.killed {
		return 137, nil
	}
	return box.script.ExitCode, nil
}

// Output returns the chunks the simulated process has emitted so far.
func (p *MemoryProvider) Output(_ context.Context, id string) ([]byte, []byte, error) {
	box, err := p.box(id)
	if err != nil {
		return nil, nil, err
	}
	box.mu.Lock()
	defer box.mu.Unlock()

	now := time.Now()
	join := func(chunks [][]byte) []byte {
		var buf bytes.Buffer
		for i := 0; i < box.revealedAt(now, len(chunks)); i++ {
			buf.Write(chunks[i])
		}
		return buf.Bytes()
	}
	return join(box.script.Stdout), join(box.script.Stderr), nil
}

// MemoryUsage reports the scripted usage while running, zero afterwards.
func (p *MemoryProvider) MemoryUsage(_ context.Context, id string) (int64, error) {
	box, err := p.box(id)
	if err != nil {
		return 0, err
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	if !box.runningAt(time.Now()) {
		return 0, nil
	}
	return box.script.MemoryBytes, nil
}

// Stdin returns the input delivered at creation, for assertions in tests.
func (p *MemoryProvider) Stdin(id string) []byte {
	box, err := p.box(id)
	if err != nil {
		return nil
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	return box.stdin
}
