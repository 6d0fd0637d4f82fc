package directory

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/peerchat/limits"
)

var (
	// ErrNotFound indicates the requested user is not registered.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable indicates the directory could not be reached or failed internally.
	ErrUnavailable = errors.New("directory unavailable")
	// ErrConflict indicates a username already registered to a different node.
	ErrConflict = errors.New("username registered to another node")
	// ErrInvalidRequest indicates a request the directory refuses to process.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrQuotaExceeded indicates the recipient's relay queue is full.
	ErrQuotaExceeded = errors.New("relay quota exceeded")
)

// Directory operations reported in Error.Op.
const (
	OpRegister  = "register"
	OpHeartbeat = "heartbeat"
	OpLookup    = "lookup"
	OpPush      = "push"
	OpDrain     = "drain"
)

// Error is a failed directory operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("directory %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	var derr *Error
	if errors.As(err, &derr) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// Retryable reports whether a failed call may succeed if repeated unchanged.
// A full relay queue is not: it only drains when the recipient comes back.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrQuotaExceeded):
		return false
	}
	return true
}

// Key is a 32-byte public key, hex encoded in JSON.
type Key [32]byte

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(k[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(raw) != len(k) {
		return fmt.Errorf("key length %d, want %d", len(raw), len(k))
	}
	copy(k[:], raw)
	return nil
}

// IsZero reports whether k is unset.
func (k Key) IsZero() bool { return k == Key{} }

// Registration is what a node publishes about itself.
type Registration struct {
	Username   string `json:"username"`
	NodeID     string `json:"node_id"`
	PublicKey  Key    `json:"public_key"`
	SigningKey Key    `json:"signing_key"`
	Address    string `json:"address"`
}

// Validate checks the fields a directory requires.
func (r Registration) Validate() error {
	if err := limits.ValidateUsername(r.Username); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r.NodeID == "" {
		return fmt.Errorf("%w: missing node id", ErrInvalidRequest)
	}
	if r.PublicKey.IsZero() || r.SigningKey.IsZero() {
		return fmt.Errorf("%w: missing public key", ErrInvalidRequest)
	}
	return nil
}

// Record is a registered user as returned by Lookup.
type Record struct {
	Username   string    `json:"username"`
	NodeID     string    `json:"node_id"`
	PublicKey  Key       `json:"public_key"`
	SigningKey Key       `json:"signing_key"`
	Address    string    `json:"address"`
	LastSeen   time.Time `json:"last_seen"`
}

// OnlineAt reports whether the record's last heartbeat is within ttl of now.
func (r *Record) OnlineAt(now time.Time, ttl time.Duration) bool {
	if r == nil || r.LastSeen.IsZero() || r.Address == "" {
		return false
	}
	return now.Sub(r.LastSeen) <= ttl
}

// Bundle is one relayed envelope awaiting its recipient.
type Bundle struct {
	MsgID    string    `json:"msg_id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Payload  []byte    `json:"payload"`
	StoredAt time.Time `json:"stored_at"`
}

// validatePush checks a push request and normalizes the bundle's addressing.
func validatePush(to, from string, b Bundle) (Bundle, error) {
	if err := limits.ValidateUsername(to); err != nil {
		return b, fmt.Errorf("%w: recipient: %v", ErrInvalidRequest, err)
	}
	if err := limits.ValidateUsername(from); err != nil {
		return b, fmt.Errorf("%w: sender: %v", ErrInvalidRequest, err)
	}
	if b.MsgID == "" {
		return b, fmt.Errorf("%w: missing msg_id", ErrInvalidRequest)
	}
	if err := limits.ValidateRelayBundle(b.Payload); err != nil {
		return b, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	b.To = to
	b.From = from
	return b, nil
}

// Directory is the contract between a node and the external rendezvous service.
//
// Push is at-least-once and idempotent on (from, MsgID) while the bundle is queued.
// Drain returns and removes every queued bundle for a user; a bundle may be returned
// again by a later drain if the removal was not acknowledged, so consumers must dedup.
type Directory interface {
	Register(ctx context.Context, reg Registration) error
	Heartbeat(ctx context.Context, username, address string) error
	Lookup(ctx context.Context, username string) (*Record, error)
	Push(ctx context.Context, to, from string, bundle Bundle) error
	Drain(ctx context.Context, username string) ([]Bundle, error)
}

// Pinger is implemented by directories backed by an external store.
type Pinger interface {
	Ping(ctx context.Context) error
}
