package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the number of iterations for key derivation (NIST recommendation)
	PBKDF2Iterations = 100000
	// EncryptionVersion is the current sealed identity format version
	EncryptionVersion = 1
	// SaltSize is the size of the salt for PBKDF2
	SaltSize = 32

	gcmNonceSize = 12
	gcmTagSize   = 16
	sealedHeader = 2 + SaltSize + gcmNonceSize
)

// SaveEncrypted writes the identity sealed under a passphrase.
// Format: [version:2][salt:32][nonce:12][ciphertext+tag:N]
//
// The identity record is encrypted with AES-256-GCM under a key derived from
// passphrase by PBKDF2-SHA256. Each save uses a fresh salt and nonce.
func (id *Identity) SaveEncrypted(path string, passphrase []byte) error {
	if len(passphrase) == 0 {
		return fmt.Errorf("passphrase cannot be empty")
	}

	plaintext, err := id.MarshalRecord()
	if err != nil {
		return err
	}
	defer ZeroBytes(plaintext)

	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newSealingAEAD(passphrase, salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	output := make([]byte, sealedHeader, sealedHeader+len(plaintext)+gcm.Overhead())
	binary.BigEndian.PutUint16(output[0:2], EncryptionVersion)
	copy(output[2:2+SaltSize], salt)
	copy(output[2+SaltSize:sealedHeader], nonce)
	output = gcm.Seal(output, nonce, plaintext, output[0:2])

	return WriteFileAtomic(path, output)
}

// LoadIdentityEncrypted reads an identity written by SaveEncrypted.
// A wrong passphrase and a damaged file both yield ErrIdentityCorrupt.
func LoadIdentityEncrypted(path string, passphrase []byte) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityCorrupt, err)
	}

	if len(data) < sealedHeader+gcmTagSize {
		return nil, fmt.Errorf("%w: file too short: %d bytes", ErrIdentityCorrupt, len(data))
	}

	version := binary.BigEndian.Uint16(data[0:2])
	if version != EncryptionVersion {
		return nil, fmt.Errorf("%w: unsupported encryption version: %d (expected %d)",
			ErrIdentityCorrupt, version, EncryptionVersion)
	}

	salt := data[2 : 2+SaltSize]
	nonce := data[2+SaltSize : sealedHeader]

	gcm, err := newSealingAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, data[sealedHeader:], data[0:2])
	if err != nil {
		return nil, fmt.Errorf("%w: wrong passphrase or corrupted data", ErrIdentityCorrupt)
	}
	defer ZeroBytes(plaintext)

	return UnmarshalIdentity(plaintext)
}

// newSealingAEAD derives the file key from passphrase and salt and returns AES-GCM.
func newSealingAEAD(passphrase, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(passphrase, salt, PBKDF2Iterations, 32, sha256.New)
	defer ZeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
