package crypto

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat/limits"
)

// Identity is the long-term key material of one node: a stable node id, the
// username it registers under, an X25519 encryption pair and an Ed25519 signing pair.
//
// An Identity is owned by exactly one Node and passed to it at construction.
// Encrypt, Decrypt, Sign and Verify hold no per-call state and are safe for
// concurrent use.
type Identity struct {
	NodeID   string
	Username string
	Box      *KeyPair
	Signing  *SigningKeyPair
}

// NewIdentity generates a fresh identity for username using crypto/rand.
func NewIdentity(username string) (*Identity, error) {
	if err := limits.ValidateUsername(username); err != nil {
		return nil, err
	}

	boxKeys, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate encryption keys: %w", err)
	}

	signingKeys, err := GenerateSigningKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate signing keys: %w", err)
	}

	id := &Identity{
		NodeID:   uuid.NewString(),
		Username: username,
		Box:      boxKeys,
		Signing:  signingKeys,
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewIdentity",
		"username":   username,
		"node_id":    id.NodeID,
		"public_key": KeyPreview(boxKeys.Public[:]),
	}).Info("Generated new identity")

	return id, nil
}

// PublicKey returns the X25519 public key peers encrypt to.
func (id *Identity) PublicKey() [32]byte {
	return id.Box.Public
}

// SigningPublicKey returns the Ed25519 public key peers verify against.
func (id *Identity) SigningPublicKey() [32]byte {
	return id.Signing.Public
}

// Encrypt seals plaintext for the holder of peerPublicKey. The output embeds a
// fresh random nonce.
func (id *Identity) Encrypt(plaintext []byte, peerPublicKey [32]byte) ([]byte, error) {
	return Seal(plaintext, peerPublicKey, id.Box.Private)
}

// Decrypt opens a ciphertext produced by the holder of peerPublicKey.
// It returns ErrDecryption for malformed input and authentication failure alike.
func (id *Identity) Decrypt(ciphertext []byte, peerPublicKey [32]byte) ([]byte, error) {
	return Open(ciphertext, peerPublicKey, id.Box.Private)
}

// Sign signs the exact byte sequence that will be transmitted.
func (id *Identity) Sign(message []byte) (Signature, error) {
	return Sign(message, id.Signing.Private)
}

// Verify checks a peer's signature over message.
func (id *Identity) Verify(message []byte, signature Signature, peerSigningKey [32]byte) bool {
	return Verify(message, signature, peerSigningKey)
}

// Validate checks that the identity is complete and that each public key matches its secret.
func (id *Identity) Validate() error {
	if id == nil || id.Box == nil || id.Signing == nil {
		return fmt.Errorf("%w: missing key material", ErrIdentityCorrupt)
	}
	if err := limits.ValidateUsername(id.Username); err != nil {
		return fmt.Errorf("%w: %v", ErrIdentityCorrupt, err)
	}
	if _, err := uuid.Parse(id.NodeID); err != nil {
		return fmt.Errorf("%w: node id: %v", ErrIdentityCorrupt, err)
	}

	derived, err := FromSecretKey(id.Box.Private)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIdentityCorrupt, err)
	}
	if derived.Public != id.Box.Public {
		return fmt.Errorf("%w: public key does not match secret key", ErrIdentityCorrupt)
	}

	signing, err := SigningKeyPairFromSeed(id.Signing.Private)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIdentityCorrupt, err)
	}
	if signing.Public != id.Signing.Public {
		return fmt.Errorf("%w: signing public key does not match seed", ErrIdentityCorrupt)
	}
	return nil
}

// Wipe erases secret key material. The identity is unusable afterwards.
func (id *Identity) Wipe() error {
	if id == nil {
		return errors.New("cannot wipe nil Identity")
	}
	if err := WipeKeyPair(id.Box); err != nil {
		return err
	}
	return WipeSigningKeyPair(id.Signing)
}

// KeyPreview renders the first 8 bytes of a key for logs.
func KeyPreview(key []byte) string {
	if len(key) == 0 {
		return "nil"
	}
	n := 8
	if len(key) < n {
		n = len(key)
	}
	return fmt.Sprintf("%x...", key[:n])
}

// LocalUsername returns the username the identity registers under.
func (id *Identity) LocalUsername() string { return id.Username }

// LocalNodeID returns the immutable node id.
func (id *Identity) LocalNodeID() string { return id.NodeID }
