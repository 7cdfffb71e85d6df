package sandbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionAllowed(t *testing.T) {
	states := []State{StateCreated, StateStarting, StateRunning, StateStopping, StateStopped, StateFailed}

	allowed := map[State]map[State]bool{
		StateCreated:  {StateStarting: true, StateFailed: true},
		StateStarting: {StateRunning: true, StateFailed: true},
		StateRunning:  {StateStopping: true, StateFailed: true},
		StateStopping: {StateStopped: true, StateFailed: true},
		StateStopped:  {},
		StateFailed:   {},
	}

	for _, from := range states {
		for _, to := range states {
			t.Run(from.String()+"_to_"+to.String(), func(t *testing.T) {
				assert.Equal(t, allowed[from][to], transitionAllowed(from, to))
			})
		}
	}
}

func TestHandleTransitionTo(t *testing.T) {
	t.Run("full lifecycle", func(t *testing.T) {
		h := NewHandle()
		assert.Equal(t, StateCreated, h.State())

		for _, next := range []State{StateStarting, StateRunning, StateStopping, StateStopped} {
			require.NoError(t, h.TransitionTo(next))
			assert.Equal(t, next, h.State())
		}
	})

	t.Run("invalid transition leaves state unchanged", func(t *testing.T) {
		h := NewHandle()

		err := h.TransitionTo(StateRunning)
		require.Error(t, err)

		var invalidErr *InvalidTransitionError
		require.ErrorAs(t, err, &invalidErr)
		assert.Equal(t, StateCreated, invalidErr.From)
		assert.Equal(t, StateRunning, invalidErr.To)
		assert.Equal(t, StateCreated, h.State())
	})

	t.Run("terminal states absorb", func(t *testing.T) {
		for _, terminal := range []State{StateStopped, StateFailed} {
			h := NewHandle()
			if terminal == StateStopped {
				require.NoError(t, h.TransitionTo(StateStarting))
				require.NoError(t, h.TransitionTo(StateRunning))
				require.NoError(t, h.TransitionTo(StateStopping))
				require.NoError(t, h.TransitionTo(StateStopped))
			} else {
				require.NoError(t, h.Fail("boom"))
			}

			for _, next := range []State{StateCreated, StateStarting, StateRunning, StateStopping, StateStopped, StateFailed} {
				err := h.TransitionTo(next)
				assert.Error(t, err, "transition %s -> %s should be rejected", terminal, next)
				assert.Equal(t, terminal, h.State())
			}
		}
	})
}

func TestHandleFail(t *testing.T) {
	t.Run("fails from any non-terminal state", func(t *testing.T) {
		advance := map[string][]State{
			"created":  nil,
			"starting": {StateStarting},
			"running":  {StateStarting, StateRunning},
			"stopping": {StateStarting, StateRunning, StateStopping},
		}
		for name, steps := range advance {
			t.Run(name, func(t *testing.T) {
				h := NewHandle()
				for _, s := range steps {
					require.NoError(t, h.TransitionTo(s))
				}
				require.NoError(t, h.Fail("out of memory"))
				assert.Equal(t, StateFailed, h.State())
				assert.Equal(t, "out of memory", h.FailureReason())
			})
		}
	})

	t.Run("fail from terminal state is rejected", func(t *testing.T) {
		h := NewHandle()
		require.NoError(t, h.Fail("first"))

		err := h.Fail("second")
		var invalidErr *InvalidTransitionError
		require.True(t, errors.As(err, &invalidErr))
		assert.Equal(t, "first", h.FailureReason())
	})
}

func TestHandleIdentity(t *testing.T) {
	h1 := NewHandle()
	h2 := NewHandle()
	assert.NotEmpty(t, h1.ID())
	assert.NotEqual(t, h1.ID(), h2.ID())

	assert.Empty(t, h1.RuntimeID())
	h1.setRuntimeID("mem-123")
	assert.Equal(t, "mem-123", h1.RuntimeID())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "failed", StateFailed.String())
}
