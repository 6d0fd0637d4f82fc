package peerchat

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat/crypto"
	"github.com/opd-ai/peerchat/messaging"
	"github.com/opd-ai/peerchat/metrics"
	"github.com/opd-ai/peerchat/transport"
)

// _receive runs the inbound path for one envelope, from a direct frame or a relay
// drain: verify, decrypt, dedup, store, emit.
func (n *Node) _receive(env *transport.Envelope, method messaging.Method) {
	if env == nil {
		return
	}
	fields := logrus.Fields{
		"function": "_receive",
		"from":     env.From,
		"msg_id":   env.MsgID,
		"method":   string(method),
	}

	if err := env.Validate(); err != nil {
		n.drop("invalid_envelope", fields, err)
		return
	}
	if env.To != n.username {
		n.drop("wrong_recipient", fields, nil)
		return
	}

	contact, ok := n.contacts.Get(env.From)
	if !ok {
		n.drop("unknown_sender", fields, nil)
		return
	}

	sig, err := crypto.SignatureFromBytes(env.Signature)
	if err != nil || !n.identity.Verify(env.SigningBytes(), sig, contact.SigningKey) {
		n.drop("bad_signature", fields, crypto.ErrInvalidSignature)
		return
	}

	plaintext, err := n.identity.Decrypt(env.Sealed(), contact.PublicKey)
	if err != nil {
		n.drop("decrypt_failed", fields, err)
		n._emit(Event{Type: EventDiagnostic, Peer: env.From, Detail: "could not decrypt message " + env.MsgID})
		return
	}

	if method == messaging.MethodDirect {
		n._setPresence(env.From, true, "")
	}

	if env.Kind == transport.KindTyping {
		n._emit(Event{Type: EventTyping, Peer: env.From, Typing: len(plaintext) == 1 && plaintext[0] == 1})
		return
	}

	if n.dedup.Contains(env.From, env.MsgID) {
		n.drop("duplicate", fields, nil)
		return
	}

	msg := messaging.Message{
		ID:        env.MsgID,
		From:      env.From,
		To:        env.To,
		Text:      string(plaintext),
		Timestamp: time.UnixMilli(env.Timestamp),
		Direction: messaging.DirectionReceived,
		Method:    method,
		Delivered: true,
		State:     messaging.StateReceived,
	}
	if err := n.history.Append(context.Background(), msg); err != nil {
		if errors.Is(err, messaging.ErrDuplicateMessage) {
			n.dedup.Add(env.From, env.MsgID)
			n.drop("duplicate", fields, nil)
			return
		}
		logrus.WithFields(fields).WithField("error", err.Error()).Error("Failed to store message")
		return
	}
	n.dedup.Add(env.From, env.MsgID)

	metrics.MessagesReceived.WithLabelValues(string(method)).Inc()
	logrus.WithFields(fields).Debug("Message received")
	n._emit(Event{Type: EventNewMessage, Peer: env.From, Message: &msg})
}

// drop counts and logs a discarded envelope. Dropped envelopes never reach history
// or the event sink.
func (n *Node) drop(reason string, fields logrus.Fields, err error) {
	metrics.FramesDropped.WithLabelValues(reason).Inc()
	entry := logrus.WithFields(fields).WithField("reason", reason)
	if err != nil {
		entry = entry.WithField("error", err.Error())
	}
	entry.Debug("Dropping inbound envelope")
}
