package sandbox

import "sync"

// Default output buffer ceilings.
const (
	// DefaultBufferLimit is the per-sandbox cap for one stream.
	DefaultBufferLimit = 1 << 20
	// DefaultAggregateFactor scales the per-sandbox cap into the
	// aggregate cap shared by all sandboxes on one buffer set.
	DefaultAggregateFactor = 10
)

// OutputBuffers accumulates one output stream per sandbox, enforcing a
// per-sandbox cap and an aggregate cap across all sandboxes. Admission is
// atomic: a write that would exceed either cap is rejected whole, never
// partially applied.
type OutputBuffers struct {
	mu        sync.Mutex
	buffers   map[string][]byte
	limit     int
	aggregate int
	total     int
}

// NewOutputBuffers creates a buffer set. limit is the per-sandbox cap in
// bytes and aggregate the shared cap; zero values select the defaults.
func NewOutputBuffers(limit, aggregate int) *OutputBuffers {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	if aggregate <= 0 {
		aggregate = limit * DefaultAggregateFactor
	}
	return &OutputBuffers{
		buffers:   make(map[string][]byte),
		limit:     limit,
		aggregate: aggregate,
	}
}

// Append adds data to the sandbox's buffer. If the write would push the
// sandbox past its cap or the set past the aggregate cap, nothing is
// written and a *BufferFullError is returned.
func (b *OutputBuffers) Append(id string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.buffers[id]
	if len(cur)+len(data) > b.limit {
		return &BufferFullError{ID: id, Attempted: len(data), Limit: b.limit}
	}
	if b.total+len(data) > b.aggregate {
		return &BufferFullError{ID: id, Attempted: len(data), Limit: b.aggregate, Aggregate: true}
	}
	b.buffers[id] = append(cur, data...)
	b.total += len(data)
	return nil
}

// Get returns a copy of the sandbox's accumulated output. Later writes do
// not affect the returned slice.
func (b *OutputBuffers) Get(id string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.buffers[id]
	out := make([]byte, len(cur))
	copy(out, cur)
	return out
}

// Size reports the bytes currently held for one sandbox.
func (b *OutputBuffers) Size(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers[id])
}

// TotalSize reports the bytes held across all sandboxes.
func (b *OutputBuffers) TotalSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Clear drops the sandbox's buffer and releases its share of the aggregate
// cap.
func (b *OutputBuffers) Clear(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total -= len(b.buffers[id])
	delete(b.buffers, id)
}
