// Package crypto implements the identity and cryptographic primitives of a peerchat node.
//
// A node has one long-term [Identity]: a UUID node id, a username, an X25519
// key pair used with NaCl box for per-message authenticated encryption, and an
// Ed25519 key pair used to sign every transmitted envelope.
//
// # Encryption and Decryption
//
// Seal draws a fresh 24-byte nonce for every call and prepends it to the box
// output, so encrypting the same plaintext twice never yields the same bytes:
//
//	sealed, err := alice.Encrypt([]byte("hi"), bob.PublicKey())
//	plaintext, err := bob.Decrypt(sealed, alice.PublicKey())
//
// Decrypt returns [ErrDecryption] for every failure. Truncated input, a wrong key
// and a forged tag are indistinguishable to the caller.
//
// # Digital Signatures
//
//	sig, _ := alice.Sign(frameBytes)
//	ok := crypto.Verify(frameBytes, sig, alice.SigningPublicKey())
//
// Verify is a pure boolean check and never logs key or message material.
//
// # Identity Files
//
// [LoadOrCreateIdentity] loads the identity file at a path or creates one on first
// run. Files are JSON with hex-encoded keys, written with 0600 permissions via a
// temporary file and rename. With a passphrase the record is sealed with
// AES-256-GCM under a PBKDF2-SHA256 derived key:
//
//	id, created, err := crypto.LoadOrCreateIdentity("identity.json", "alice", nil)
//	if errors.Is(err, crypto.ErrIdentityCorrupt) {
//	    log.Fatal(err) // cannot start without valid keys
//	}
//
// # Secure Memory
//
// [SecureWipe] and [Identity.Wipe] zero secret material when a node shuts down.
package crypto
