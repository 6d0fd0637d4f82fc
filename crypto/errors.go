package crypto

import "errors"

var (
	// ErrIdentityCorrupt is returned when an identity record is missing, truncated,
	// malformed, or internally inconsistent. A node cannot start without a valid identity.
	ErrIdentityCorrupt = errors.New("identity corrupt")

	// ErrDecryption covers every way a ciphertext can fail to open. Malformed input and
	// authentication failures return this same value so callers cannot tell them apart.
	ErrDecryption = errors.New("decryption failed")

	// ErrInvalidSignature indicates a signature that does not verify for the claimed key.
	ErrInvalidSignature = errors.New("invalid signature")
)
