package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Default channel and history sizes.
const (
	DefaultCapacity    = 100
	DefaultHistorySize = 1000
)

// ErrAlreadyRegistered is returned when an id is registered twice.
var ErrAlreadyRegistered = errors.New("id already registered")

// RecipientNotFoundError is returned when sending to an unregistered id.
type RecipientNotFoundError struct {
	ID string
}

func (e *RecipientNotFoundError) Error() string {
	return fmt.Sprintf("recipient not found: %s", e.ID)
}

// DeliveryError records a single failed delivery during a broadcast.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Bus routes messages between registered sandbox ids over bounded
// channels. A full recipient channel blocks the sender (backpressure);
// messages are never dropped. Each executor owns its own Bus.
type Bus struct {
	capacity    int
	historySize int

	mu       sync.RWMutex
	channels map[string]chan Message

	histMu  sync.Mutex
	history []Message
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistorySize sets the number of delivered messages retained.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historySize = n
		}
	}
}

// New creates a Bus whose per-recipient channels hold up to capacity
// messages. A non-positive capacity falls back to DefaultCapacity.
func New(capacity int, opts ...Option) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Bus{
		capacity:    capacity,
		historySize: DefaultHistorySize,
		channels:    make(map[string]chan Message),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register creates the channel for id and returns its receive side.
// Registering an id twice is an error; every live id maps to exactly
// one channel.
func (b *Bus) Register(id string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.channels[id]; exists {
		return nil, fmt.Errorf("register %s: %w", id, ErrAlreadyRegistered)
	}
	ch := make(chan Message, b.capacity)
	b.channels[id] = ch
	return ch, nil
}

// Deregister removes future routing for id. Messages already enqueued
// stay readable on the previously returned channel; the channel is not
// closed.
func (b *Bus) Deregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels, id)
}

// Registered returns a snapshot of the currently registered ids.
func (b *Bus) Registered() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.channels))
	for id := range b.channels {
		ids = append(ids, id)
	}
	return ids
}

// Send routes msg to msg.To. It returns *RecipientNotFoundError when the
// recipient is unregistered and blocks when the recipient's channel is
// full until space frees up or ctx is done.
func (b *Bus) Send(ctx context.Context, msg Message) error {
	b.mu.RLock()
	ch, ok := b.channels[msg.To]
	b.mu.RUnlock()

	if !ok {
		return &RecipientNotFoundError{ID: msg.To}
	}

	select {
	case ch <- msg:
		b.record(msg)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast delivers a copy of the content to every registered id except
// from. A failed delivery is collected and does not stop delivery to the
// remaining recipients; the full list of failures is returned.
func (b *Bus) Broadcast(ctx context.Context, from string, kind Kind, content string) []DeliveryError {
	var failures []DeliveryError
	for _, id := range b.Registered() {
		if id == from {
			continue
		}
		msg := NewMessage(from, id, kind, content)
		if err := b.Send(ctx, msg); err != nil {
			failures = append(failures, DeliveryError{Recipient: id, Err: err})
		}
	}
	return failures
}

// record appends msg to the bounded history, evicting the oldest entry
// when full.
func (b *Bus) record(msg Message) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	if len(b.history) >= b.historySize {
		copy(b.history, b.history[1:])
		b.history = b.history[:len(b.history)-1]
	}
	b.history = append(b.history, msg)
}

// History returns a copy of all retained messages in delivery order.
func (b *Bus) History() []Message {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	out := make([]Message, len(b.history))
	copy(out, b.history)
	return out
}

// HistoryFor returns retained messages sent by or addressed to id.
func (b *Bus) HistoryFor(id string) []Message {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	var out []Message
	for _, msg := range b.history {
		if msg.From == id || msg.To == id {
			out = append(out, msg)
		}
	}
	return out
}

// HistoryByKind returns retained messages of the given kind.
func (b *Bus) HistoryByKind(kind Kind) []Message {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	var out []Message
	for _, msg := range b.history {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

// ClearHistory drops all retained messages.
func (b *Bus) ClearHistory() {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.history = nil
}
