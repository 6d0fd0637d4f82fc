package peerchat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Arceliar/phony"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat/directory"
	"github.com/opd-ai/peerchat/friend"
	"github.com/opd-ai/peerchat/limits"
	"github.com/opd-ai/peerchat/messaging"
	"github.com/opd-ai/peerchat/metrics"
	"github.com/opd-ai/peerchat/transport"
)

const maxMessageIDLength = 128

// SendMessage sends text to a friend under a fresh message id.
func (n *Node) SendMessage(ctx context.Context, to, text string) (messaging.Message, error) {
	return n.SendMessageWithID(ctx, to, messaging.NewMessageID(), text)
}

// SendMessageWithID sends text to a friend under a caller-chosen message id and
// returns the stored record in its final state.
//
// The message is resolved, sealed and signed once, then delivered directly. Any
// failure while connecting or writing falls back to the directory relay with the
// same envelope; there is no direct retry. A msg_id that was already delivered or
// relayed returns the existing record without sending again; a failed or
// interrupted one is sent again.
func (n *Node) SendMessageWithID(ctx context.Context, to, msgID, text string) (messaging.Message, error) {
	if msgID == "" || len(msgID) > maxMessageIDLength {
		return messaging.Message{}, ErrInvalidMessageID
	}
	if err := limits.ValidatePlaintextMessage([]byte(text)); err != nil {
		return messaging.Message{}, err
	}

	var (
		rec     messaging.Message
		contact friend.Contact
		fresh   bool
		err     error
	)
	phony.Block(n, func() { rec, contact, fresh, err = n._beginSend(to, msgID, text) })
	if err != nil || !fresh {
		return rec, err
	}

	return n.deliver(ctx, rec, contact), nil
}

// _beginSend records a new outbound message in RESOLVING, or returns the record
// already known for msgID with fresh set to false.
func (n *Node) _beginSend(to, msgID, text string) (messaging.Message, friend.Contact, bool, error) {
	if !n.running {
		return messaging.Message{}, friend.Contact{}, false, ErrNotStarted
	}
	contact, ok := n.contacts.Get(to)
	if !ok {
		return messaging.Message{}, friend.Contact{}, false, fmt.Errorf("%w: %s", ErrUnknownFriend, to)
	}

	if pending, ok := n.outstanding[msgID]; ok {
		return *pending, contact, false, nil
	}
	if existing, err := n.history.Get(context.Background(), n.username, msgID); err == nil {
		if existing.To != to || (existing.State.Terminal() && existing.State != messaging.StateFailed) {
			return existing, contact, false, nil
		}
		// A failed send, or one cut short by a restart, goes out again. Push is
		// idempotent on (from, msg_id) so the relay never holds two copies.
		return n._restartSend(existing, contact)
	}

	rec := messaging.Message{
		ID:        msgID,
		From:      n.username,
		To:        to,
		Text:      text,
		Timestamp: n.clock.Now(),
		Direction: messaging.DirectionSent,
		State:     messaging.StateResolving,
	}
	if err := n.history.Append(context.Background(), rec); err != nil {
		return messaging.Message{}, contact, false, fmt.Errorf("record message: %w", err)
	}
	stored := rec
	n.outstanding[msgID] = &stored
	n._emit(Event{Type: EventMessageState, Peer: to, Message: &rec})
	return rec, contact, true, nil
}

func (n *Node) _restartSend(rec messaging.Message, contact friend.Contact) (messaging.Message, friend.Contact, bool, error) {
	rec.State = messaging.StateResolving
	rec.Method = ""
	rec.Delivered = false
	if err := n.history.Update(context.Background(), rec); err != nil {
		return messaging.Message{}, contact, false, fmt.Errorf("record message: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "_restartSend",
		"to":       rec.To,
		"msg_id":   rec.ID,
	}).Info("Resending message")

	stored := rec
	n.outstanding[rec.ID] = &stored
	n._emit(Event{Type: EventMessageState, Peer: rec.To, Message: &rec})
	return rec, contact, true, nil
}

// deliver runs the send state machine from RESOLVING to a terminal state.
func (n *Node) deliver(ctx context.Context, rec messaging.Message, contact friend.Contact) messaging.Message {
	addr := n.resolve(ctx, contact)

	env, err := n.seal(transport.KindMessage, contact, rec.ID, rec.Timestamp, []byte(rec.Text))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "deliver",
			"to":       rec.To,
			"msg_id":   rec.ID,
			"error":    err.Error(),
		}).Error("Failed to seal message")
		return n.finish(rec, messaging.StateFailed, "", false)
	}

	directErr := ErrNoAddress
	if addr != "" {
		directErr = n.sendDirect(ctx, addr, env, &rec)
	}
	if directErr == nil {
		return n.finish(rec, messaging.StateDelivered, messaging.MethodDirect, true)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "deliver",
		"to":           rec.To,
		"msg_id":       rec.ID,
		"failed_state": string(rec.State),
		"error":        directErr.Error(),
	}).Info("Direct delivery failed, relaying")

	if err := n.pushRelay(ctx, env); err != nil {
		return n.finish(rec, messaging.StateFailed, messaging.MethodRelay, false)
	}
	return n.finish(rec, messaging.StateRelayed, messaging.MethodRelay, false)
}

// resolve returns the address to try for contact. A fresh known address is used
// as is; otherwise the directory is asked once and its answer is cached when the
// keys match the pinned ones.
func (n *Node) resolve(ctx context.Context, contact friend.Contact) string {
	if contact.Address != "" && contact.Online &&
		n.clock.Now().Sub(contact.LastSeen) <= n.opts.PresenceTTL {
		return contact.Address
	}

	var rec *directory.Record
	err := n.callDirectoryOnce(ctx, directory.OpLookup, func(ctx context.Context) error {
		var err error
		rec, err = n.directory.Lookup(ctx, contact.Username)
		return err
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "resolve",
			"peer":     contact.Username,
			"error":    err.Error(),
		}).Debug("Lookup failed, using cached address")
		return contact.Address
	}
	if err := n.contacts.VerifyKeys(contact.Username, rec.PublicKey, rec.SigningKey); err != nil {
		if errors.Is(err, friend.ErrKeyMismatch) {
			n.reportKeyMismatch(contact.Username)
		}
		return contact.Address
	}
	if rec.Address == "" {
		return contact.Address
	}

	online := rec.OnlineAt(n.clock.Now(), n.opts.PresenceTTL)
	phony.Block(n, func() { n._setPresence(contact.Username, online, rec.Address) })
	return rec.Address
}

// seal encrypts plaintext for contact and signs the resulting envelope.
func (n *Node) seal(kind transport.Kind, contact friend.Contact, msgID string, at time.Time, plaintext []byte) (*transport.Envelope, error) {
	sealed, err := n.identity.Encrypt(plaintext, contact.PublicKey)
	if err != nil {
		return nil, err
	}

	env := &transport.Envelope{
		Version:   transport.EnvelopeVersion,
		Kind:      kind,
		From:      n.username,
		To:        contact.Username,
		MsgID:     msgID,
		Timestamp: at.UnixMilli(),
	}
	if err := env.SetSealed(sealed); err != nil {
		return nil, err
	}

	sig, err := n.identity.Sign(env.SigningBytes())
	if err != nil {
		return nil, err
	}
	env.Signature = sig[:]
	return env, nil
}

// sendDirect dials in CONNECTING and writes the frame in DELIVERING, all within
// ConnectTimeout.
func (n *Node) sendDirect(ctx context.Context, addr string, env *transport.Envelope, rec *messaging.Message) error {
	cctx, cancel := context.WithTimeout(ctx, n.opts.ConnectTimeout)
	defer cancel()

	n.transition(rec, messaging.StateConnecting)
	conn, err := n.transport.Dial(cctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	n.transition(rec, messaging.StateDelivering)
	return conn.WriteFrame(env)
}

// pushRelay stores the envelope with the directory under the retry schedule.
// Push is idempotent on (from, msg_id) so retries never queue a second copy.
func (n *Node) pushRelay(ctx context.Context, env *transport.Envelope) error {
	payload, err := transport.MarshalEnvelope(env)
	if err != nil {
		return err
	}
	bundle := directory.Bundle{MsgID: env.MsgID, Payload: payload}
	err = n.callDirectory(ctx, directory.OpPush, func(ctx context.Context) error {
		return n.directory.Push(ctx, env.To, env.From, bundle)
	})
	if errors.Is(err, directory.ErrUnavailable) {
		phony.Block(n, func() { n._setDegraded(true, err) })
	}
	return err
}

// transition moves an in-flight message to a non-terminal state.
func (n *Node) transition(rec *messaging.Message, state messaging.State) {
	rec.State = state
	snapshot := *rec
	phony.Block(n, func() { n._updateOutbound(snapshot, false) })
}

// finish records a terminal state and releases the outstanding entry.
func (n *Node) finish(rec messaging.Message, state messaging.State, method messaging.Method, delivered bool) messaging.Message {
	rec.State = state
	rec.Method = method
	rec.Delivered = delivered
	phony.Block(n, func() { n._updateOutbound(rec, true) })

	metrics.MessagesSent.WithLabelValues(string(state)).Inc()
	logrus.WithFields(logrus.Fields{
		"function": "finish",
		"to":       rec.To,
		"msg_id":   rec.ID,
		"state":    string(state),
	}).Debug("Send finished")
	return rec
}

func (n *Node) _updateOutbound(rec messaging.Message, done bool) {
	if err := n.history.Update(context.Background(), rec); err != nil && !errors.Is(err, messaging.ErrMessageNotFound) {
		logrus.WithFields(logrus.Fields{
			"function": "_updateOutbound",
			"msg_id":   rec.ID,
			"error":    err.Error(),
		}).Error("Failed to update message state")
	}
	if done {
		delete(n.outstanding, rec.ID)
	} else if pending, ok := n.outstanding[rec.ID]; ok {
		*pending = rec
	}
	n._emit(Event{Type: EventMessageState, Peer: rec.To, Message: &rec})
}

// SendTyping sends a typing indicator directly. Indicators are never relayed.
func (n *Node) SendTyping(ctx context.Context, to string, typing bool) error {
	var (
		contact friend.Contact
		ok      bool
		running bool
	)
	phony.Block(n, func() {
		running = n.running
		contact, ok = n.contacts.Get(to)
	})
	if !running {
		return ErrNotStarted
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFriend, to)
	}
	if contact.Address == "" {
		return ErrNoAddress
	}

	payload := []byte{0}
	if typing {
		payload[0] = 1
	}
	env, err := n.seal(transport.KindTyping, contact, messaging.NewMessageID(), n.clock.Now(), payload)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, n.opts.ConnectTimeout)
	defer cancel()
	return n.transport.Send(cctx, contact.Address, env)
}
