package sandbox

import (
	"fmt"
	"strings"
	"time"
)

// ConfigError reports an invalid sandbox configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// SpawnError reports that the backend refused to create or start a
// sandbox, including refused resource-limit setup. It is fatal to that
// sandbox only.
type SpawnError struct {
	Reason string
	Err    error
}

func (e *SpawnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("spawn failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("spawn failed: %s", e.Reason)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// InvalidTransitionError reports a lifecycle transition outside the
// allowed graph. The state is left unchanged.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// BufferFullError reports an append that would exceed a buffer capacity.
// The buffer contents are unchanged; the caller may retry after clearing
// or back off.
type BufferFullError struct {
	ID        string
	Attempted int
	Limit     int
	Aggregate bool
}

func (e *BufferFullError) Error() string {
	scope := "sandbox"
	if e.Aggregate {
		scope = "aggregate"
	}
	return fmt.Sprintf("buffer full for %s: %s cap %d exceeded by append to %d", e.ID, scope, e.Limit, e.Attempted)
}

// CleanupError aggregates teardown failures. Every handle is attempted;
// no failure blocks the others.
type CleanupError struct {
	Errs []error
}

func (e *CleanupError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("cleanup failed for %d sandbox(es): %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *CleanupError) Unwrap() []error { return e.Errs }

// TimedOutError reports that the wall-clock limit expired and the sandbox
// was killed.
type TimedOutError struct {
	ID      string
	Timeout time.Duration
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("sandbox %s timed out after %s", e.ID, e.Timeout)
}

// MemoryExceededError reports that the sandbox breached its memory ceiling
// and was killed.
type MemoryExceededError struct {
	ID    string
	Limit int64
	Usage int64
}

func (e *MemoryExceededError) Error() string {
	return fmt.Sprintf("sandbox %s exceeded memory limit: %d > %d bytes", e.ID, e.Usage, e.Limit)
}
