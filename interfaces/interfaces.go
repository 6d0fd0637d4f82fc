package interfaces

import (
	"context"
	"net"

	"github.com/opd-ai/peerchat/crypto"
	"github.com/opd-ai/peerchat/directory"
	"github.com/opd-ai/peerchat/transport"
)

// CryptoIdentity is the node's own key material and the operations keyed to it.
type CryptoIdentity interface {
	// LocalUsername returns the username the node registers under
	LocalUsername() string

	// LocalNodeID returns the immutable node id
	LocalNodeID() string

	// PublicKey returns the X25519 key peers encrypt to
	PublicKey() [32]byte

	// SigningPublicKey returns the Ed25519 key peers verify against
	SigningPublicKey() [32]byte

	// Encrypt seals plaintext for peerPublicKey with a fresh nonce
	Encrypt(plaintext []byte, peerPublicKey [32]byte) ([]byte, error)

	// Decrypt opens a ciphertext from peerPublicKey
	Decrypt(ciphertext []byte, peerPublicKey [32]byte) ([]byte, error)

	// Sign signs the exact bytes that will be transmitted
	Sign(message []byte) (crypto.Signature, error)

	// Verify checks a peer signature
	Verify(message []byte, signature crypto.Signature, peerSigningKey [32]byte) bool
}

// PeerTransport moves framed envelopes between nodes.
type PeerTransport interface {
	// Dial opens a one-frame outbound connection
	Dial(ctx context.Context, addr string) (transport.Conn, error)

	// Send dials, writes one frame and closes
	Send(ctx context.Context, addr string, env *transport.Envelope) error

	// SetHandler registers the inbound frame handler
	SetHandler(handler transport.FrameHandler)

	// LocalAddr returns the listening address
	LocalAddr() net.Addr

	// Close shuts down the transport
	Close() error
}

// DirectoryAdapter is the node's view of the external directory and relay service.
type DirectoryAdapter interface {
	// Register publishes the node's keys and address; idempotent
	Register(ctx context.Context, reg directory.Registration) error

	// Heartbeat refreshes last_seen and optionally the address; idempotent
	Heartbeat(ctx context.Context, username, address string) error

	// Lookup resolves a username; the answer may be stale
	Lookup(ctx context.Context, username string) (*directory.Record, error)

	// Push stores a bundle for an unreachable recipient, at least once
	Push(ctx context.Context, to, from string, bundle directory.Bundle) error

	// Drain returns and clears pending bundles; items may be redelivered
	Drain(ctx context.Context, username string) ([]directory.Bundle, error)
}

var (
	_ CryptoIdentity   = (*crypto.Identity)(nil)
	_ PeerTransport    = (*transport.TCPTransport)(nil)
	_ PeerTransport    = (*transport.MockTransport)(nil)
	_ DirectoryAdapter = (*directory.MemoryDirectory)(nil)
	_ DirectoryAdapter = (*directory.Client)(nil)
	_ DirectoryAdapter = (*directory.RedisDirectory)(nil)
	_ DirectoryAdapter = (*directory.PostgresDirectory)(nil)
)
