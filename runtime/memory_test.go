package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMemoryProviderLifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(zaptest.NewLogger(t))
	p.Program("prog", MemoryScript{
		RunFor:   20 * time.Millisecond,
		ExitCode: 5,
		Stdout:   [][]byte{[]byte("hello\n")},
	})

	id, err := p.Create(ctx, CreateSpec{Image: "prog", Command: []string{"run"}, Stdin: []byte("input")})
	require.NoError(t, err)
	assert.Equal(t, []byte("input"), p.Stdin(id))

	// Not running before Start.
	running, err := p.IsRunning(ctx, id)
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, p.Start(ctx, id))
	running, err = p.IsRunning(ctx, id)
	require.NoError(t, err)
	assert.True(t, running)

	// Double start is rejected.
	assert.Error(t, p.Start(ctx, id))

	time.Sleep(30 * time.Millisecond)

	running, err = p.IsRunning(ctx, id)
	require.NoError(t, err)
	assert.False(t, running)

	code, err := p.ExitCode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, code)

	stdout, _, err := p.Output(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\n"), stdout)

	require.NoError(t, p.Remove(ctx, id))
	_, err = p.IsRunning(ctx, id)
	assert.Error(t, err)
}

func TestMemoryProviderKill(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(zaptest.NewLogger(t))
	p.Program("spin", MemoryScript{NeverExits: true})

	id, err := p.Create(ctx, CreateSpec{Image: "spin", Command: []string{"run"}})
	require.NoError(t, err)
	require.NoError(t, p.Start(ctx, id))

	require.NoError(t, p.Stop(ctx, id))
	// Stop is idempotent.
	require.NoError(t, p.Stop(ctx, id))

	running, err := p.IsRunning(ctx, id)
	require.NoError(t, err)
	assert.False(t, running)

	// A killed process reports the conventional SIGKILL code.
	code, err := p.ExitCode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 137, code)
}

func TestMemoryProviderProgressiveOutput(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(zaptest.NewLogger(t))
	p.Program("drip", MemoryScript{
		RunFor: 100 * time.Millisecond,
		Stdout: [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")},
	})

	id, err := p.Create(ctx, CreateSpec{Image: "drip", Command: []string{"run"}})
	require.NoError(t, err)
	require.NoError(t, p.Start(ctx, id))

	// Midway through the run only a prefix is visible.
	time.Sleep(50 * time.Millisecond)
	stdout, _, err := p.Output(ctx, id)
	require.NoError(t, err)
	assert.Less(t, len(stdout), 4)

	time.Sleep(70 * time.Millisecond)
	stdout, _, err = p.Output(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), stdout)
}

func TestMemoryProviderInjectedErrors(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(zaptest.NewLogger(t))
	p.Program("bad-create", MemoryScript{CreateErr: assert.AnError})
	p.Program("bad-start", MemoryScript{StartErr: assert.AnError})

	_, err := p.Create(ctx, CreateSpec{Image: "bad-create", Command: []string{"run"}})
	assert.ErrorIs(t, err, assert.AnError)

	id, err := p.Create(ctx, CreateSpec{Image: "bad-start", Command: []string{"run"}})
	require.NoError(t, err)
	assert.ErrorIs(t, p.Start(ctx, id), assert.AnError)
}

func TestMemoryProviderMemoryUsage(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(zaptest.NewLogger(t))
	p.Program("hog", MemoryScript{NeverExits: true, MemoryBytes: 64 << 20})

	id, err := p.Create(ctx, CreateSpec{Image: "hog", Command: []string{"run"}})
	require.NoError(t, err)
	require.NoError(t, p.Start(ctx, id))

	usage, err := p.MemoryUsage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(64<<20), usage)

	require.NoError(t, p.Stop(ctx, id))
	usage, err = p.MemoryUsage(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, usage)
}
