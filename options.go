package peerchat

import (
	"errors"
	"time"

	"github.com/opd-ai/peerchat/friend"
	"github.com/opd-ai/peerchat/interfaces"
	"github.com/opd-ai/peerchat/messaging"
)

// Options contains the tunables of a Node.
type Options struct {
	// AdvertiseAddr is the host:port registered with the directory. Empty means
	// the transport's listening address.
	AdvertiseAddr string
	// ConnectTimeout bounds one direct delivery attempt.
	ConnectTimeout time.Duration
	// DirectoryTimeout bounds each directory call attempt.
	DirectoryTimeout time.Duration
	// HeartbeatInterval is the period of heartbeat, drain and presence refresh.
	HeartbeatInterval time.Duration
	// PresenceTTL is how long after its last heartbeat a peer counts as online.
	PresenceTTL time.Duration
	// Retry is the schedule for register, heartbeat, drain and relay push.
	Retry Backoff
	// DedupCapacity bounds the inbound (sender, msg_id) cache.
	DedupCapacity int
	// ContactsPath, when set, is rewritten after every friend change.
	ContactsPath string
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		ConnectTimeout:    3 * time.Second,
		DirectoryTimeout:  5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		PresenceTTL:       90 * time.Second,
		Retry:             DefaultBackoff(),
		DedupCapacity:     messaging.DefaultDedupCapacity,
	}
}

func (o *Options) withDefaults() Options {
	def := NewOptions()
	if o == nil {
		return *def
	}
	out := *o
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = def.ConnectTimeout
	}
	if out.DirectoryTimeout <= 0 {
		out.DirectoryTimeout = def.DirectoryTimeout
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = def.HeartbeatInterval
	}
	if out.PresenceTTL <= 0 {
		out.PresenceTTL = def.PresenceTTL
	}
	if out.DedupCapacity <= 0 {
		out.DedupCapacity = def.DedupCapacity
	}
	out.Retry = out.Retry.withDefaults()
	return out
}

// Deps are the collaborators a Node is built from. Identity, Transport and
// Directory are required; the rest default to in-memory implementations.
type Deps struct {
	Identity  interfaces.CryptoIdentity
	Transport interfaces.PeerTransport
	Directory interfaces.DirectoryAdapter

	Contacts     *friend.Table
	History      messaging.Store
	Events       EventSink
	Sleeper      Sleeper
	TimeProvider friend.TimeProvider
}

func (d Deps) validate() error {
	switch {
	case d.Identity == nil:
		return errors.New("peerchat: identity is required")
	case d.Transport == nil:
		return errors.New("peerchat: transport is required")
	case d.Directory == nil:
		return errors.New("peerchat: directory is required")
	}
	return nil
}
