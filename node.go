package peerchat

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/Arceliar/phony"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat/directory"
	"github.com/opd-ai/peerchat/friend"
	"github.com/opd-ai/peerchat/interfaces"
	"github.com/opd-ai/peerchat/messaging"
	"github.com/opd-ai/peerchat/metrics"
	"github.com/opd-ai/peerchat/transport"
)

// Node is one chat identity on the network. It routes outbound messages directly
// or through the directory relay, accepts inbound frames and relay drains, and
// keeps presence with the directory.
//
// All mutable state is owned by the embedded actor. Methods whose names begin
// with an underscore must only run inside it; exported methods submit work with
// Act or phony.Block and perform network calls outside the actor.
type Node struct {
	phony.Inbox

	identity  interfaces.CryptoIdentity
	transport interfaces.PeerTransport
	directory interfaces.DirectoryAdapter
	contacts  *friend.Table
	history   messaging.Store
	dedup     *messaging.DedupCache
	events    EventSink
	sleeper   Sleeper
	clock     friend.TimeProvider
	opts      Options

	username string
	nodeID   string

	// actor-owned
	outstanding   map[string]*messaging.Message
	running       bool
	starting      bool
	degraded      bool
	lastHeartbeat time.Time
	lastDrain     time.Time
	cancel        context.CancelFunc

	wg sync.WaitGroup
}

// New creates a node from its collaborators. The node does not touch the network
// until Start.
func New(deps Deps, options *Options) (*Node, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	opts := options.withDefaults()

	n := &Node{
		identity:    deps.Identity,
		transport:   deps.Transport,
		directory:   deps.Directory,
		contacts:    deps.Contacts,
		history:     deps.History,
		events:      deps.Events,
		sleeper:     deps.Sleeper,
		clock:       deps.TimeProvider,
		opts:        opts,
		username:    deps.Identity.LocalUsername(),
		nodeID:      deps.Identity.LocalNodeID(),
		dedup:       messaging.NewDedupCache(opts.DedupCapacity),
		outstanding: make(map[string]*messaging.Message),
	}
	if n.clock == nil {
		n.clock = friend.DefaultTimeProvider{}
	}
	if n.contacts == nil {
		n.contacts = friend.NewTableWithTimeProvider(n.clock)
	}
	if n.history == nil {
		n.history = messaging.NewMemoryStore()
	}
	if n.events == nil {
		n.events = discardEvents{}
	}
	if n.sleeper == nil {
		n.sleeper = timerSleeper{}
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"username": n.username,
		"node_id":  n.nodeID,
		"friends":  n.contacts.Len(),
	}).Info("Node created")

	return n, nil
}

// Username returns the node's own username.
func (n *Node) Username() string { return n.username }

// AdvertiseAddr returns the address registered with the directory.
func (n *Node) AdvertiseAddr() string {
	if n.opts.AdvertiseAddr != "" {
		return n.opts.AdvertiseAddr
	}
	if addr := n.transport.LocalAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (n *Node) registration() directory.Registration {
	return directory.Registration{
		Username:   n.username,
		NodeID:     n.nodeID,
		PublicKey:  n.identity.PublicKey(),
		SigningKey: n.identity.SigningPublicKey(),
		Address:    n.AdvertiseAddr(),
	}
}

// Start attaches the inbound handler, registers with the directory, drains any
// relayed messages and starts the periodic heartbeat. A directory that stays
// unreachable through the retry schedule leaves the node running with degraded
// presence; a username owned by another node is returned as an error.
func (n *Node) Start(ctx context.Context) error {
	var already bool
	phony.Block(n, func() {
		already = n.running || n.starting
		if !already {
			n.starting = true
		}
	})
	if already {
		return ErrAlreadyStarted
	}

	n.transport.SetHandler(n.handleFrame)

	regErr := n.register(ctx)
	if regErr != nil && !directory.Retryable(regErr) {
		n.transport.SetHandler(nil)
		phony.Block(n, func() { n.starting = false })
		return regErr
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	phony.Block(n, func() {
		n.starting = false
		n.running = true
		n.cancel = cancel
		n._setDegraded(regErr != nil, regErr)
	})

	if regErr == nil {
		if err := n.drain(ctx); err != nil {
			phony.Block(n, func() { n._setDegraded(true, err) })
		}
	}

	n.wg.Add(1)
	go n.run(loopCtx)

	publicKey := n.identity.PublicKey()
	logrus.WithFields(logrus.Fields{
		"function":       "Start",
		"username":       n.username,
		"advertise_addr": n.AdvertiseAddr(),
		"public_key":     hex.EncodeToString(publicKey[:8]),
		"degraded":       regErr != nil,
	}).Info("Node started")

	return nil
}

// run drives Sync every HeartbeatInterval until ctx ends.
func (n *Node) run(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Sync(ctx)
		}
	}
}

// Stop halts the heartbeat loop and closes the transport. History and contacts
// stay readable.
func (n *Node) Stop() error {
	var cancel context.CancelFunc
	phony.Block(n, func() {
		cancel = n.cancel
		n.cancel = nil
		n.running = false
	})
	if cancel == nil {
		return ErrNotStarted
	}
	cancel()
	n.wg.Wait()

	n.transport.SetHandler(nil)
	err := n.transport.Close()

	logrus.WithFields(logrus.Fields{
		"function": "Stop",
		"username": n.username,
	}).Info("Node stopped")
	return err
}

// handleFrame is the transport callback. It only hands the frame to the actor.
func (n *Node) handleFrame(frame transport.InboundFrame) {
	n.Act(nil, func() {
		n._receive(frame.Envelope, messaging.MethodDirect)
	})
}

func (n *Node) _emit(event Event) {
	if event.Time.IsZero() {
		event.Time = n.clock.Now()
	}
	n.events.Emit(event)
}

func (n *Node) _setDegraded(degraded bool, cause error) {
	if degraded == n.degraded {
		return
	}
	n.degraded = degraded

	fields := logrus.Fields{
		"function": "_setDegraded",
		"username": n.username,
	}
	if degraded {
		metrics.PresenceDegraded.Set(1)
		if cause != nil {
			fields["error"] = cause.Error()
		}
		logrus.WithFields(fields).Warn("Presence degraded: directory unreachable")
		n._emit(Event{Type: EventPresenceDegraded, Detail: errString(cause)})
		return
	}
	metrics.PresenceDegraded.Set(0)
	logrus.WithFields(fields).Info("Presence restored")
	n._emit(Event{Type: EventPresenceRestored})
}

// _setPresence records a contact's presence and emits friend_online or
// friend_offline when it changes.
func (n *Node) _setPresence(username string, online bool, address string) {
	changed, err := n.contacts.SetPresence(username, online, address)
	if err != nil || !changed {
		return
	}
	eventType := EventFriendOffline
	if online {
		eventType = EventFriendOnline
	}
	n._emit(Event{Type: eventType, Peer: username})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
