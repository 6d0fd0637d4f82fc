package crypto

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// identityFileVersion is the current on-disk identity record version.
const identityFileVersion = 1

// identityRecord is the JSON layout of an identity file.
type identityRecord struct {
	Version          int    `json:"version"`
	Username         string `json:"username"`
	NodeID           string `json:"node_id"`
	PublicKey        string `json:"public_key"`
	SecretKey        string `json:"secret_key"`
	SigningPublicKey string `json:"signing_public_key"`
	SigningSecretKey string `json:"signing_secret_key"`
}

// MarshalRecord serializes the identity, secret fields included.
func (id *Identity) MarshalRecord() ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	rec := identityRecord{
		Version:          identityFileVersion,
		Username:         id.Username,
		NodeID:           id.NodeID,
		PublicKey:        hex.EncodeToString(id.Box.Public[:]),
		SecretKey:        hex.EncodeToString(id.Box.Private[:]),
		SigningPublicKey: hex.EncodeToString(id.Signing.Public[:]),
		SigningSecretKey: hex.EncodeToString(id.Signing.Private[:]),
	}
	return json.MarshalIndent(rec, "", "  ")
}

// UnmarshalIdentity parses an identity record. Any structural or consistency problem
// yields an error wrapping ErrIdentityCorrupt.
func UnmarshalIdentity(data []byte) (*Identity, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty record", ErrIdentityCorrupt)
	}

	var rec identityRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityCorrupt, err)
	}
	if rec.Version != identityFileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrIdentityCorrupt, rec.Version)
	}

	id := &Identity{
		NodeID:   rec.NodeID,
		Username: rec.Username,
		Box:      &KeyPair{},
		Signing:  &SigningKeyPair{},
	}

	fields := []struct {
		name string
		src  string
		dst  *[32]byte
	}{
		{"public_key", rec.PublicKey, &id.Box.Public},
		{"secret_key", rec.SecretKey, &id.Box.Private},
		{"signing_public_key", rec.SigningPublicKey, &id.Signing.Public},
		{"signing_secret_key", rec.SigningSecretKey, &id.Signing.Private},
	}
	for _, f := range fields {
		if err := decodeKey(f.src, f.dst); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrIdentityCorrupt, f.name, err)
		}
	}

	if err := id.Validate(); err != nil {
		return nil, err
	}
	return id, nil
}

func decodeKey(src string, dst *[32]byte) error {
	raw, err := hex.DecodeString(src)
	if err != nil {
		return err
	}
	defer ZeroBytes(raw)
	if len(raw) != len(dst) {
		return fmt.Errorf("length %d, want %d", len(raw), len(dst))
	}
	copy(dst[:], raw)
	return nil
}

// Save writes the identity to path with owner-only permissions.
// The write goes through a temporary file and a rename so a crash never leaves a
// truncated identity behind.
func (id *Identity) Save(path string) error {
	data, err := id.MarshalRecord()
	if err != nil {
		return err
	}
	defer ZeroBytes(data)

	return WriteFileAtomic(path, data)
}

// LoadIdentity reads an identity file written by Save.
func LoadIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityCorrupt, err)
	}
	defer ZeroBytes(data)

	id, err := UnmarshalIdentity(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "LoadIdentity",
			"path":     path,
			"error":    err.Error(),
		}).Error("Identity file rejected")
		return nil, err
	}
	return id, nil
}

// LoadOrCreateIdentity loads the identity at path, or generates and persists a new one
// for username when no file exists. A non-empty passphrase selects the encrypted format.
// An existing file that fails to load is never overwritten.
func LoadOrCreateIdentity(path, username string, passphrase []byte) (*Identity, bool, error) {
	_, statErr := os.Stat(path)
	if statErr == nil {
		var id *Identity
		var err error
		if len(passphrase) > 0 {
			id, err = LoadIdentityEncrypted(path, passphrase)
		} else {
			id, err = LoadIdentity(path)
		}
		if err != nil {
			return nil, false, err
		}
		if username != "" && id.Username != username {
			return nil, false, fmt.Errorf("%w: file belongs to %q, configured username is %q",
				ErrIdentityCorrupt, id.Username, username)
		}
		return id, false, nil
	}
	if !errors.Is(statErr, os.ErrNotExist) {
		return nil, false, fmt.Errorf("stat identity file: %w", statErr)
	}

	id, err := NewIdentity(username)
	if err != nil {
		return nil, false, err
	}
	if len(passphrase) > 0 {
		err = id.SaveEncrypted(path, passphrase)
	} else {
		err = id.Save(path)
	}
	if err != nil {
		return nil, false, fmt.Errorf("persist identity: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "LoadOrCreateIdentity",
		"path":      path,
		"username":  username,
		"encrypted": len(passphrase) > 0,
	}).Info("Created identity file")

	return id, true, nil
}

// WriteFileAtomic replaces path with data through a fresh temporary file in the
// same directory. The result is mode 0600 whatever a previous file or leftover
// temporary had.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	if err := tmp.Chmod(0o600); err != nil {
		return fail(fmt.Errorf("chmod temporary file: %w", err))
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(fmt.Errorf("write temporary file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("sync temporary file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temporary file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temporary file: %w", err)
	}
	return nil
}
