package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

var errZeroKey = errors.New("key is all zeros")

// KeyPair is the X25519 half of an identity, used with NaCl box.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// SigningKeyPair is the Ed25519 half of an identity. Private is the 32-byte
// seed; the expanded key only exists while signing.
type SigningKeyPair struct {
	Public  [32]byte
	Private [32]byte
}

func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate box key: %w", err)
	}
	return &KeyPair{Public: *pub, Private: *priv}, nil
}

// FromSecretKey rebuilds a box key pair from a stored secret.
func FromSecretKey(secret [32]byte) (*KeyPair, error) {
	if isZeroKey(secret) {
		return nil, fmt.Errorf("box secret: %w", errZeroKey)
	}
	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive box public key: %w", err)
	}
	kp := &KeyPair{Private: secret}
	copy(kp.Public[:], pub)
	return kp, nil
}

func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("generate signing seed: %w", err)
	}
	defer ZeroBytes(seed[:])
	return SigningKeyPairFromSeed(seed)
}

// SigningKeyPairFromSeed rebuilds a signing key pair from a stored seed.
func SigningKeyPairFromSeed(seed [32]byte) (*SigningKeyPair, error) {
	if isZeroKey(seed) {
		return nil, fmt.Errorf("signing seed: %w", errZeroKey)
	}
	expanded := ed25519.NewKeyFromSeed(seed[:])
	defer ZeroBytes(expanded)

	kp := &SigningKeyPair{Private: seed}
	copy(kp.Public[:], expanded[ed25519.SeedSize:])
	return kp, nil
}

func isZeroKey(key [32]byte) bool {
	return key == [32]byte{}
}
