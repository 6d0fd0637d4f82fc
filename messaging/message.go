package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrDuplicateMessage indicates a (sender, msg_id) pair that is already stored.
	// Stores never overwrite an existing message with the same key.
	ErrDuplicateMessage = errors.New("duplicate message")
	// ErrMessageNotFound indicates an unknown (sender, msg_id) pair.
	ErrMessageNotFound = errors.New("message not found")
)

// Direction records which side of the conversation a message is on.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Method records how a message travelled.
type Method string

const (
	MethodDirect Method = "direct"
	MethodRelay  Method = "relay"
)

// State is the position of a message in the send state machine. Received
// messages are always StateReceived.
type State string

const (
	StateResolving  State = "resolving"
	StateConnecting State = "connecting"
	StateDelivering State = "delivering"
	StateDelivered  State = "delivered"
	StateRelayed    State = "relayed"
	StateFailed     State = "failed"
	StateReceived   State = "received"
)

// Terminal reports whether a send has stopped in s. Only a FAILED send may
// be started again, by the caller resending the same msg_id.
func (s State) Terminal() bool {
	switch s {
	case StateDelivered, StateRelayed, StateFailed, StateReceived:
		return true
	}
	return false
}

// Message is one entry of the local history.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
	Method    Method    `json:"method,omitempty"`
	Delivered bool      `json:"delivered"`
	State     State     `json:"state"`
}

// Peer returns the other party of the message from self's point of view.
func (m *Message) Peer(self string) string {
	if m.From == self {
		return m.To
	}
	return m.From
}

// NewMessageID returns a fresh, lexically time-ordered message id.
func NewMessageID() string {
	return ulid.Make().String()
}

const (
	// DefaultPageSize is used when List is called with a non-positive limit.
	DefaultPageSize = 50
	// MaxPageSize caps List results.
	MaxPageSize = 500
)

func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// Store is the local message history, keyed by (From, ID).
type Store interface {
	// Append stores a new message or returns ErrDuplicateMessage.
	Append(ctx context.Context, msg Message) error
	// Update replaces the state fields (State, Method, Delivered) of a stored message.
	Update(ctx context.Context, msg Message) error
	// Get returns the message sent by from with id.
	Get(ctx context.Context, from, id string) (Message, error)
	// List returns the conversation with peer in chronological order. offset skips
	// that many of the most recent messages, limit bounds the page.
	List(ctx context.Context, peer string, limit, offset int) ([]Message, error)
	Close() error
}
