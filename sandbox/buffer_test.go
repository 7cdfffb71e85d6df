package sandbox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputBuffersAppendAndGet(t *testing.T) {
	b := NewOutputBuffers(0, 0)

	require.NoError(t, b.Append("a", []byte("hello ")))
	require.NoError(t, b.Append("a", []byte("world")))
	require.NoError(t, b.Append("b", []byte("other")))

	assert.Equal(t, []byte("hello world"), b.Get("a"))
	assert.Equal(t, []byte("other"), b.Get("b"))
	assert.Equal(t, 11, b.Size("a"))
	assert.Equal(t, 16, b.TotalSize())
}

func TestOutputBuffersGetIsSnapshot(t *testing.T) {
	b := NewOutputBuffers(0, 0)
	require.NoError(t, b.Append("a", []byte("one")))

	snap := b.Get("a")
	require.NoError(t, b.Append("a", []byte("two")))

	assert.Equal(t, []byte("one"), snap)
	assert.Equal(t, []byte("onetwo"), b.Get("a"))
}

func TestOutputBuffersPerSandboxCap(t *testing.T) {
	b := NewOutputBuffers(10, 100)

	require.NoError(t, b.Append("a", bytes.Repeat([]byte("x"), 8)))

	err := b.Append("a", []byte("yyy"))
	var full *BufferFullError
	require.ErrorAs(t, err, &full)
	assert.Equal(t, "a", full.ID)
	assert.Equal(t, 3, full.Attempted)
	assert.False(t, full.Aggregate)

	// The rejected write left nothing behind.
	assert.Equal(t, 8, b.Size("a"))
	assert.Equal(t, bytes.Repeat([]byte("x"), 8), b.Get("a"))

	// A write that still fits is accepted.
	require.NoError(t, b.Append("a", []byte("yy")))
	assert.Equal(t, 10, b.Size("a"))
}

func TestOutputBuffersAggregateCap(t *testing.T) {
	b := NewOutputBuffers(10, 15)

	require.NoError(t, b.Append("a", bytes.Repeat([]byte("x"), 10)))
	require.NoError(t, b.Append("b", bytes.Repeat([]byte("y"), 5)))

	// "c" is within its own cap but the set is full.
	err := b.Append("c", []byte("z"))
	var full *BufferFullError
	require.ErrorAs(t, err, &full)
	assert.True(t, full.Aggregate)
	assert.Equal(t, 0, b.Size("c"))
	assert.Equal(t, 15, b.TotalSize())
}

func TestOutputBuffersClearReleasesAggregate(t *testing.T) {
	b := NewOutputBuffers(10, 15)

	require.NoError(t, b.Append("a", bytes.Repeat([]byte("x"), 10)))
	require.NoError(t, b.Append("b", bytes.Repeat([]byte("y"), 5)))

	b.Clear("a")

	assert.Empty(t, b.Get("a"))
	assert.Equal(t, 5, b.TotalSize())
	require.NoError(t, b.Append("c", bytes.Repeat([]byte("z"), 10)))
}

func TestOutputBuffersDefaults(t *testing.T) {
	b := NewOutputBuffers(0, 0)
	assert.Equal(t, DefaultBufferLimit, b.limit)
	assert.Equal(t, DefaultBufferLimit*DefaultAggregateFactor, b.aggregate)
}
