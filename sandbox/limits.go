package sandbox

// Limits are the derived resource ceilings applied to one sandbox.
type Limits struct {
	// MemoryBytes is the hard memory ceiling.
	MemoryBytes int64
	// StackBytes is the stack ulimit, always MemoryBytes/8.
	StackBytes int64
}

// LimitsFor derives the resource ceilings from a normalized Config. The
// stack limit tracks the memory limit at a fixed 1:8 ratio so callers never
// set it independently.
func LimitsFor(cfg Config) Limits {
	mem := cfg.MemoryMB * 1024 * 1024
	return Limits{
		MemoryBytes: mem,
		StackBytes:  mem / 8,
	}
}
