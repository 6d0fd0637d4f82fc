package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/opd-ai/peerchat/limits"
)

// Nonce is the 24-byte NaCl box nonce carried in front of every ciphertext.
type Nonce [limits.NonceSize]byte

// GenerateNonce returns a random nonce from crypto/rand.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return Nonce{}, fmt.Errorf("read nonce: %w", err)
	}
	return nonce, nil
}

// Seal encrypts plaintext from senderSK to recipientPK under a fresh nonce and
// returns nonce || box. Sealing the same plaintext twice never yields the same
// bytes.
func Seal(plaintext []byte, recipientPK, senderSK [32]byte) ([]byte, error) {
	if err := limits.ValidatePlaintextMessage(plaintext); err != nil {
		return nil, err
	}
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}

	out := make([]byte, limits.NonceSize, limits.NonceSize+len(plaintext)+box.Overhead)
	copy(out, nonce[:])
	return box.Seal(out, plaintext, (*[24]byte)(&nonce), &recipientPK, &senderSK), nil
}

// Open authenticates and decrypts the output of Seal. Every failure, whether
// a short input, a wrong key or a flipped bit, is the same ErrDecryption.
func Open(sealed []byte, senderPK, recipientSK [32]byte) ([]byte, error) {
	if len(sealed) < limits.NonceSize+box.Overhead || len(sealed) > limits.MaxCiphertext {
		return nil, ErrDecryption
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:limits.NonceSize])
	plaintext, ok := box.Open(nil, sealed[limits.NonceSize:], &nonce, &senderPK, &recipientSK)
	if !ok {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
