// Package limits provides centralized size limits for peerchat.
// This ensures consistent validation across the crypto, transport, and directory layers.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxPlaintextMessage is the largest chat message body accepted for sending (64 KiB).
	MaxPlaintextMessage = 64 * 1024

	// EncryptionOverhead is the overhead added by NaCl box encryption.
	// This is the Poly1305 MAC tag added by box.Seal().
	EncryptionOverhead = 16 // golang.org/x/crypto/nacl/box.Overhead

	// NonceSize is the size of the random nonce prepended to every ciphertext.
	NonceSize = 24

	// MaxCiphertext is the largest sealed message: nonce || plaintext || tag.
	MaxCiphertext = NonceSize + MaxPlaintextMessage + EncryptionOverhead

	// MaxFrameSize is the absolute maximum declared frame length on the wire.
	// It prevents memory exhaustion from a hostile length prefix (1MB limit).
	MaxFrameSize = 1024 * 1024

	// MaxRelayBundle is the maximum encoded envelope accepted by a relay store.
	MaxRelayBundle = 256 * 1024

	// MaxUsernameLength bounds usernames registered in the directory.
	MaxUsernameLength = 64
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrInvalidUsername indicates a username that cannot be registered
	ErrInvalidUsername = errors.New("invalid username")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidatePlaintextMessage checks a chat body before it is sealed.
func ValidatePlaintextMessage(message []byte) error {
	return ValidateMessageSize(message, MaxPlaintextMessage)
}

// ValidateFrameLength checks a length prefix read off the wire. Zero-length
// frames are refused so a peer cannot hold a reader open with no-ops.
func ValidateFrameLength(length uint32) error {
	if length == 0 {
		return ErrMessageEmpty
	}
	if length > MaxFrameSize {
		return fmt.Errorf("%w: frame length %d exceeds limit %d", ErrMessageTooLarge, length, MaxFrameSize)
	}
	return nil
}

// ValidateRelayBundle checks an encoded envelope before a relay store accepts it.
func ValidateRelayBundle(payload []byte) error {
	return ValidateMessageSize(payload, MaxRelayBundle)
}

// ValidateUsername checks that a username is non-empty, bounded, and limited to
// letters, digits, '-', '_' and '.'.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUsername)
	}
	if len(username) > MaxUsernameLength {
		return fmt.Errorf("%w: length %d exceeds limit %d", ErrInvalidUsername, len(username), MaxUsernameLength)
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("%w: character %q not allowed", ErrInvalidUsername, r)
		}
	}
	return nil
}
