package crypto

import (
	"errors"
	"runtime"
)

var errNothingToWipe = errors.New("nothing to wipe")

// SecureWipe overwrites data with zeros in place.
func SecureWipe(data []byte) error {
	if data == nil {
		return errNothingToWipe
	}
	clear(data)
	runtime.KeepAlive(data)
	return nil
}

// ZeroBytes is SecureWipe for callers that have nothing to do with the error.
func ZeroBytes(data []byte) {
	_ = SecureWipe(data)
}

// WipeKeyPair zeroes the X25519 secret key of kp.
func WipeKeyPair(kp *KeyPair) error {
	if kp == nil {
		return errNothingToWipe
	}
	return SecureWipe(kp.Private[:])
}

// WipeSigningKeyPair zeroes the Ed25519 seed of kp.
func WipeSigningKeyPair(kp *SigningKeyPair) error {
	if kp == nil {
		return errNothingToWipe
	}
	return SecureWipe(kp.Private[:])
}
