package bus

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a message.
type Kind int

// Message kinds.
const (
	KindNormal Kind = iota
	KindSystem
	KindError
	KindDebug
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNormal:
		return "normal"
	case KindSystem:
		return "system"
	case KindError:
		return "error"
	case KindDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// Message is a single routed message between sandboxes. Messages are
// immutable once created.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a fresh id and the current time.
func NewMessage(from, to string, kind Kind, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
	}
}
