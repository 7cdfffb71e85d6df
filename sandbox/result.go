package sandbox

import "time"

// Status classifies how a sandbox run ended.
type Status int

const (
	// StatusExited means the program terminated on its own.
	StatusExited Status = iota
	// StatusTimedOut means the wall-clock limit expired and the sandbox
	// was killed.
	StatusTimedOut
	// StatusMemoryExceeded means the memory ceiling was breached and the
	// sandbox was killed.
	StatusMemoryExceeded
	// StatusSpawnFailed means the sandbox never started.
	StatusSpawnFailed
	// StatusCanceled means the run was aborted before the program
	// finished, for example by fail-fast.
	StatusCanceled
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusExited:
		return "exited"
	case StatusTimedOut:
		return "timed_out"
	case StatusMemoryExceeded:
		return "memory_exceeded"
	case StatusSpawnFailed:
		return "spawn_failed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is the outcome of one sandbox run.
type Result struct {
	// SandboxID identifies the sandbox that produced this result.
	SandboxID string
	// Status classifies the outcome.
	Status Status
	// ExitCode is the program's exit code when Status is StatusExited.
	ExitCode int
	// Stdout and Stderr hold the captured streams, subject to the
	// buffer caps.
	Stdout []byte
	Stderr []byte
	// Duration is the wall-clock time the run took.
	Duration time.Duration
	// PeakMemoryBytes is the highest memory usage observed while
	// polling, zero if the backend does not report usage.
	PeakMemoryBytes int64
	// Err carries the failure detail for non-exited outcomes and any
	// output truncation.
	Err error
}
