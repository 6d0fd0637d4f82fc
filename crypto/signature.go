package crypto

import (
	"crypto/ed25519"

	"github.com/opd-ai/peerchat/limits"
)

// SignatureSize is the length of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// Signature is a detached Ed25519 signature over envelope signing bytes.
type Signature [SignatureSize]byte

// Sign signs message with the Ed25519 key derived from seed. The expanded key
// is wiped before returning.
func Sign(message []byte, seed [32]byte) (Signature, error) {
	if len(message) == 0 {
		return Signature{}, limits.ErrMessageEmpty
	}

	key := ed25519.NewKeyFromSeed(seed[:])
	defer ZeroBytes(key)

	var sig Signature
	copy(sig[:], ed25519.Sign(key, message))
	return sig, nil
}

// Verify reports whether sig is publicKey's signature of message. An empty
// message never verifies.
func Verify(message []byte, sig Signature, publicKey [32]byte) bool {
	return len(message) > 0 && ed25519.Verify(publicKey[:], message, sig[:])
}

// SignatureFromBytes copies a signature taken off the wire.
func SignatureFromBytes(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != SignatureSize {
		return sig, ErrInvalidSignature
	}
	copy(sig[:], b)
	return sig, nil
}
