package sandbox

import (
	"sync"

	"github.com/google/uuid"
)

// State is the lifecycle state of a sandbox. Every subsystem shares this
// one state type; there is no separate container/runner/process status.
type State int

// Lifecycle states. StateStopped and StateFailed are terminal.
const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is accepted.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// IsRunning reports whether the sandbox's main process is live.
func (s State) IsRunning() bool {
	return s == StateRunning
}

// validTransitions is the allowed-transition graph. Failures are allowed
// from every non-terminal state; terminal states are absorbing.
var validTransitions = map[State][]State{
	StateCreated:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateFailed},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
}

func transitionAllowed(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Handle is the engine's reference to one sandbox: its id, the backend's
// id for it, and the current lifecycle state. Handle ids are unique for
// the lifetime of the owning executor.
type Handle struct {
	id string

	mu        sync.Mutex
	runtimeID string
	state     State
	reason    string
}

// NewHandle creates a handle in StateCreated with a fresh id.
func NewHandle() *Handle {
	return &Handle{
		id:    uuid.NewString(),
		state: StateCreated,
	}
}

// ID returns the handle's id.
func (h *Handle) ID() string { return h.id }

// RuntimeID returns the backend's id, empty until the sandbox is created.
func (h *Handle) RuntimeID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runtimeID
}

func (h *Handle) setRuntimeID(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runtimeID = id
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// FailureReason returns the reason recorded when the handle failed.
func (h *Handle) FailureReason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

// TransitionTo moves the handle to next if the transition graph allows
// it. Otherwise it returns *InvalidTransitionError and the state stays
// unchanged.
func (h *Handle) TransitionTo(next State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !transitionAllowed(h.state, next) {
		return &InvalidTransitionError{From: h.state, To: next}
	}
	h.state = next
	return nil
}

// Fail moves the handle to StateFailed with the given reason. Failing a
// handle that is already terminal returns *InvalidTransitionError.
func (h *Handle) Fail(reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !transitionAllowed(h.state, StateFailed) {
		return &InvalidTransitionError{From: h.state, To: StateFailed}
	}
	h.state = StateFailed
	h.reason = reason
	return nil
}
