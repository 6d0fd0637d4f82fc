package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// MaxBundlesPerRecipient limits queued relay bundles per recipient to prevent abuse.
	MaxBundlesPerRecipient = 100
	// DefaultBundleTTL is how long an undrained bundle is kept.
	DefaultBundleTTL = 7 * 24 * time.Hour
)

// MemoryDirectory is an in-process Directory. It is safe for concurrent use.
//
// Besides the contract it exposes knobs for tests: FailNext makes calls fail with
// ErrUnavailable, and SetRedeliver makes drains return bundles without removing them
// to exercise at-least-once consumers.
type MemoryDirectory struct {
	mu             sync.Mutex
	users          map[string]*Record
	queues         map[string][]Bundle
	queued         map[string]struct{}
	now            func() time.Time
	bundleTTL      time.Duration
	failNext       int
	redeliverDrain int
	calls          map[string]int
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:     make(map[string]*Record),
		queues:    make(map[string][]Bundle),
		queued:    make(map[string]struct{}),
		now:       time.Now,
		bundleTTL: DefaultBundleTTL,
		calls:     make(map[string]int),
	}
}

// SetClock replaces the time source.
func (d *MemoryDirectory) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// FailNext makes the next n calls of any operation fail with ErrUnavailable.
func (d *MemoryDirectory) FailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = n
}

// SetRedeliver makes the next n drains return bundles without removing them.
func (d *MemoryDirectory) SetRedeliver(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.redeliverDrain = n
}

// Calls returns how many times op has been invoked, failures included.
func (d *MemoryDirectory) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Pending returns the number of bundles queued for username.
func (d *MemoryDirectory) Pending(username string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues[username])
}

// begin records the call and applies failure injection. Callers hold d.mu.
func (d *MemoryDirectory) begin(ctx context.Context, op string) error {
	d.calls[op]++
	if err := ctx.Err(); err != nil {
		return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	if d.failNext > 0 {
		d.failNext--
		return &Error{Op: op, Err: ErrUnavailable}
	}
	return nil
}

// Register implements Directory.
func (d *MemoryDirectory) Register(ctx context.Context, reg Registration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpRegister); err != nil {
		return err
	}
	if err := reg.Validate(); err != nil {
		return opError(OpRegister, err)
	}

	if existing, ok := d.users[reg.Username]; ok && existing.NodeID != reg.NodeID {
		return &Error{Op: OpRegister, Err: ErrConflict}
	}

	d.users[reg.Username] = &Record{
		Username:   reg.Username,
		NodeID:     reg.NodeID,
		PublicKey:  reg.PublicKey,
		SigningKey: reg.SigningKey,
		Address:    reg.Address,
		LastSeen:   d.now(),
	}

	logrus.WithFields(logrus.Fields{
		"function": "MemoryDirectory.Register",
		"username": reg.Username,
		"address":  reg.Address,
	}).Debug("User registered")
	return nil
}

// Heartbeat implements Directory.
func (d *MemoryDirectory) Heartbeat(ctx context.Context, username, address string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpHeartbeat); err != nil {
		return err
	}

	rec, ok := d.users[username]
	if !ok {
		return &Error{Op: OpHeartbeat, Err: ErrNotFound}
	}
	rec.LastSeen = d.now()
	if address != "" {
		rec.Address = address
	}
	return nil
}

// Lookup implements Directory.
func (d *MemoryDirectory) Lookup(ctx context.Context, username string) (*Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpLookup); err != nil {
		return nil, err
	}

	rec, ok := d.users[username]
	if !ok {
		return nil, &Error{Op: OpLookup, Err: ErrNotFound}
	}
	out := *rec
	return &out, nil
}

func bundleKey(to, from, msgID string) string {
	return to + "\x00" + from + "\x00" + msgID
}

// Push implements Directory.
func (d *MemoryDirectory) Push(ctx context.Context, to, from string, bundle Bundle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpPush); err != nil {
		return err
	}

	b, err := validatePush(to, from, bundle)
	if err != nil {
		return opError(OpPush, err)
	}

	d.expireLocked(to)

	key := bundleKey(to, from, b.MsgID)
	if _, dup := d.queued[key]; dup {
		return nil
	}
	if len(d.queues[to]) >= MaxBundlesPerRecipient {
		return &Error{Op: OpPush, Err: fmt.Errorf("%w: max %d bundles", ErrQuotaExceeded, MaxBundlesPerRecipient)}
	}

	b.Payload = append([]byte(nil), b.Payload...)
	b.StoredAt = d.now()
	d.queues[to] = append(d.queues[to], b)
	d.queued[key] = struct{}{}
	return nil
}

// Drain implements Directory.
func (d *MemoryDirectory) Drain(ctx context.Context, username string) ([]Bundle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx, OpDrain); err != nil {
		return nil, err
	}

	d.expireLocked(username)

	queue := d.queues[username]
	out := make([]Bundle, len(queue))
	copy(out, queue)

	if d.redeliverDrain > 0 {
		d.redeliverDrain--
		return out, nil
	}

	for _, b := range queue {
		delete(d.queued, bundleKey(username, b.From, b.MsgID))
	}
	delete(d.queues, username)
	return out, nil
}

// expireLocked drops bundles older than the TTL. Callers hold d.mu.
func (d *MemoryDirectory) expireLocked(username string) {
	queue := d.queues[username]
	if len(queue) == 0 {
		return
	}
	cutoff := d.now().Add(-d.bundleTTL)
	kept := queue[:0]
	for _, b := range queue {
		if b.StoredAt.Before(cutoff) {
			delete(d.queued, bundleKey(username, b.From, b.MsgID))
			continue
		}
		kept = append(kept, b)
	}
	d.queues[username] = kept
}
