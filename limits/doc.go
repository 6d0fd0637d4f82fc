// Package limits provides centralized size constants and validation functions
// for peerchat. Every component that accepts untrusted bytes validates them here
// before doing any further work.
//
// # Size Hierarchy
//
//   - MaxPlaintextMessage (64 KiB): the largest chat message body a user may send.
//
//   - MaxCiphertext: the sealed form of the largest plaintext, i.e. the 24-byte
//     nonce, the plaintext, and the 16-byte Poly1305 tag.
//
//   - MaxRelayBundle (256 KiB): the largest encoded envelope a relay store accepts.
//
//   - MaxFrameSize (1 MiB): the absolute maximum declared length of a wire frame.
//     A larger length prefix drops the connection it arrived on.
//
// # Validation Functions
//
//	if err := limits.ValidatePlaintextMessage([]byte(text)); err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
//
//	if err := limits.ValidateUsername(name); err != nil {
//	    // ErrInvalidUsername
//	}
//
// For custom size limits, use the generic ValidateMessageSize function:
//
//	err := limits.ValidateMessageSize(data, 4096)
package limits
