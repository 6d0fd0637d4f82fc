package peerchat

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/Arceliar/phony"

	"github.com/opd-ai/peerchat/limits"
	"github.com/opd-ai/peerchat/messaging"
)

// Presence values reported in Status.
const (
	PresenceOnline   = "online"
	PresenceDegraded = "degraded"
	PresenceOffline  = "offline"
)

// Status is a snapshot of the node for the UI.
type Status struct {
	Username      string    `json:"username"`
	NodeID        string    `json:"node_id"`
	PublicKey     string    `json:"public_key"`
	SigningKey    string    `json:"signing_key"`
	ListenAddr    string    `json:"listen_addr"`
	AdvertiseAddr string    `json:"advertise_addr"`
	Presence      string    `json:"presence"`
	Friends       int       `json:"friends"`
	FriendsOnline int       `json:"friends_online"`
	PendingSends  int       `json:"pending_sends"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
	LastDrain     time.Time `json:"last_drain,omitempty"`
}

// Status returns the current node status.
func (n *Node) Status() Status {
	pub := n.identity.PublicKey()
	sig := n.identity.SigningPublicKey()
	st := Status{
		Username:      n.username,
		NodeID:        n.nodeID,
		PublicKey:     hex.EncodeToString(pub[:]),
		SigningKey:    hex.EncodeToString(sig[:]),
		AdvertiseAddr: n.AdvertiseAddr(),
	}
	if addr := n.transport.LocalAddr(); addr != nil {
		st.ListenAddr = addr.String()
	}

	phony.Block(n, func() {
		switch {
		case !n.running:
			st.Presence = PresenceOffline
		case n.degraded:
			st.Presence = PresenceDegraded
		default:
			st.Presence = PresenceOnline
		}
		for _, c := range n.contacts.List() {
			st.Friends++
			if c.Online {
				st.FriendsOnline++
			}
		}
		st.PendingSends = len(n.outstanding)
		st.LastHeartbeat = n.lastHeartbeat
		st.LastDrain = n.lastDrain
	})
	return st
}

// Messages returns the conversation with peer, oldest first. offset skips that
// many of the most recent messages.
func (n *Node) Messages(ctx context.Context, peer string, limit, offset int) ([]messaging.Message, error) {
	if err := limits.ValidateUsername(peer); err != nil {
		return nil, err
	}
	return n.history.List(ctx, peer, limit, offset)
}

// Message returns one stored message by sender and id.
func (n *Node) Message(ctx context.Context, from, id string) (messaging.Message, error) {
	return n.history.Get(ctx, from, id)
}
