package peerchat

import (
	"context"
	"errors"

	"github.com/Arceliar/phony"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat/directory"
	"github.com/opd-ai/peerchat/friend"
	"github.com/opd-ai/peerchat/messaging"
	"github.com/opd-ai/peerchat/metrics"
	"github.com/opd-ai/peerchat/transport"
)

// callDirectory runs one directory operation under the retry schedule, each
// attempt bounded by DirectoryTimeout.
func (n *Node) callDirectory(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts, err := n.opts.Retry.Do(ctx, n.sleeper, directory.Retryable, func(ctx context.Context) error {
		return n.callDirectoryOnce(ctx, op, fn)
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "callDirectory",
			"op":       op,
			"attempts": attempts,
			"error":    err.Error(),
		}).Warn("Directory call failed")
	}
	return err
}

// callDirectoryOnce makes a single attempt.
func (n *Node) callDirectoryOnce(ctx context.Context, op string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, n.opts.DirectoryTimeout)
	defer cancel()

	err := fn(cctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.DirectoryCalls.WithLabelValues(op, result).Inc()
	return err
}

func (n *Node) register(ctx context.Context) error {
	reg := n.registration()
	return n.callDirectory(ctx, directory.OpRegister, func(ctx context.Context) error {
		return n.directory.Register(ctx, reg)
	})
}

// heartbeat refreshes last_seen. A directory that no longer knows the node is
// registered with again.
func (n *Node) heartbeat(ctx context.Context) error {
	err := n.callDirectory(ctx, directory.OpHeartbeat, func(ctx context.Context) error {
		return n.directory.Heartbeat(ctx, n.username, n.AdvertiseAddr())
	})
	if errors.Is(err, directory.ErrNotFound) {
		logrus.WithFields(logrus.Fields{
			"function": "heartbeat",
			"username": n.username,
		}).Info("Directory lost registration, registering again")
		err = n.register(ctx)
	}
	if err == nil {
		now := n.clock.Now()
		phony.Block(n, func() { n.lastHeartbeat = now })
	}
	return err
}

// drain fetches relayed bundles and feeds them through the receive path. It
// returns after every bundle has been processed.
func (n *Node) drain(ctx context.Context) error {
	var bundles []directory.Bundle
	err := n.callDirectory(ctx, directory.OpDrain, func(ctx context.Context) error {
		var err error
		bundles, err = n.directory.Drain(ctx, n.username)
		return err
	})
	if err != nil {
		return err
	}

	envelopes := make([]*transport.Envelope, 0, len(bundles))
	for _, b := range bundles {
		env, err := transport.UnmarshalEnvelope(b.Payload)
		if err != nil {
			metrics.FramesDropped.WithLabelValues("malformed_bundle").Inc()
			logrus.WithFields(logrus.Fields{
				"function": "drain",
				"from":     b.From,
				"msg_id":   b.MsgID,
				"error":    err.Error(),
			}).Warn("Dropping undecodable relay bundle")
			continue
		}
		envelopes = append(envelopes, env)
	}

	now := n.clock.Now()
	phony.Block(n, func() {
		for _, env := range envelopes {
			n._receive(env, messaging.MethodRelay)
		}
		n.lastDrain = now
	})

	if len(bundles) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "drain",
			"username": n.username,
			"bundles":  len(bundles),
		}).Info("Drained relayed messages")
	}
	return nil
}

// refreshPresence looks up every contact once and updates online state. Lookup
// failures leave the contact unchanged; pinned keys are never replaced.
func (n *Node) refreshPresence(ctx context.Context) {
	for _, c := range n.contacts.List() {
		var rec *directory.Record
		err := n.callDirectoryOnce(ctx, directory.OpLookup, func(ctx context.Context) error {
			var err error
			rec, err = n.directory.Lookup(ctx, c.Username)
			return err
		})
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				phony.Block(n, func() { n._setPresence(c.Username, false, "") })
			}
			continue
		}
		if err := n.contacts.VerifyKeys(c.Username, rec.PublicKey, rec.SigningKey); err != nil {
			if errors.Is(err, friend.ErrKeyMismatch) {
				n.reportKeyMismatch(c.Username)
			}
			continue
		}

		online := rec.OnlineAt(n.clock.Now(), n.opts.PresenceTTL)
		phony.Block(n, func() { n._setPresence(c.Username, online, rec.Address) })
	}
}

func (n *Node) reportKeyMismatch(username string) {
	logrus.WithFields(logrus.Fields{
		"function": "reportKeyMismatch",
		"username": username,
	}).Warn("Directory keys differ from pinned contact keys, ignoring record")
	n.Act(nil, func() {
		n._emit(Event{Type: EventDiagnostic, Peer: username, Detail: "directory keys differ from pinned keys"})
	})
}

// Sync runs one heartbeat, relay drain and presence refresh. Directory failures
// that survive the retry schedule mark presence degraded; the next successful
// Sync restores it.
func (n *Node) Sync(ctx context.Context) error {
	var running bool
	phony.Block(n, func() { running = n.running })
	if !running {
		return ErrNotStarted
	}

	hbErr := n.heartbeat(ctx)
	drainErr := n.drain(ctx)
	n.refreshPresence(ctx)

	err := errors.Join(hbErr, drainErr)
	phony.Block(n, func() { n._setDegraded(err != nil, err) })
	return err
}
