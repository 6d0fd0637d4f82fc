package peerchat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Arceliar/phony"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/peerchat/crypto"
	"github.com/opd-ai/peerchat/directory"
	"github.com/opd-ai/peerchat/transport"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) ofType(t EventType) []Event {
	var out []Event
	for _, e := range r.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func (s *recordingSleeper) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testNode struct {
	*Node
	id      *crypto.Identity
	mt      *transport.MockTransport
	events  *eventRecorder
	sleeper *recordingSleeper
	clock   *fakeClock
}

// flush waits until every action queued on the node's actor has run.
func (tn *testNode) flush() {
	phony.Block(tn.Node, func() {})
}

type harness struct {
	network *transport.MockNetwork
	dir     *directory.MemoryDirectory
}

func newHarness() *harness {
	return &harness{
		network: transport.NewMockNetwork(),
		dir:     directory.NewMemoryDirectory(),
	}
}

func testOptions() *Options {
	opts := NewOptions()
	opts.HeartbeatInterval = time.Hour
	opts.ConnectTimeout = 200 * time.Millisecond
	opts.DirectoryTimeout = time.Second
	opts.Retry = Backoff{BaseDelay: 100 * time.Millisecond, Multiplier: 1.5, MaxDelay: time.Second, MaxAttempts: 4}
	return opts
}

// newNode builds a node on the harness without starting it.
func (h *harness) newNode(t *testing.T, username string) *testNode {
	t.Helper()
	id, err := crypto.NewIdentity(username)
	require.NoError(t, err)

	tn := &testNode{
		id:      id,
		mt:      h.network.NewTransport(username + ":7400"),
		events:  &eventRecorder{},
		sleeper: &recordingSleeper{},
		clock:   newFakeClock(),
	}
	tn.Node, err = New(Deps{
		Identity:     id,
		Transport:    tn.mt,
		Directory:    h.dir,
		Events:       tn.events,
		Sleeper:      tn.sleeper,
		TimeProvider: tn.clock,
	}, testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { tn.Stop() })
	return tn
}

// startNode builds and starts a node.
func (h *harness) startNode(t *testing.T, username string) *testNode {
	t.Helper()
	tn := h.newNode(t, username)
	require.NoError(t, tn.Start(context.Background()))
	return tn
}

// befriend makes a and b mutual friends.
func befriend(t *testing.T, a, b *testNode) {
	t.Helper()
	_, err := a.AddFriend(context.Background(), b.Username())
	require.NoError(t, err)
	_, err = b.AddFriend(context.Background(), a.Username())
	require.NoError(t, err)
}

func states(events []Event) []string {
	var out []string
	for _, e := range events {
		if e.Message != nil {
			out = append(out, string(e.Message.State))
		}
	}
	return out
}
