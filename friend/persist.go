package friend

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/opd-ai/peerchat/crypto"
)

// contactRecord is the on-disk form of a contact. Presence is not persisted.
type contactRecord struct {
	Username   string    `json:"username"`
	PublicKey  string    `json:"public_key"`
	SigningKey string    `json:"signing_key"`
	Address    string    `json:"address"`
	LastSeen   time.Time `json:"last_seen"`
	AddedAt    time.Time `json:"added_at"`
}

// Save writes all contacts to path as JSON with owner-only permissions.
func (t *Table) Save(path string) error {
	contacts := t.List()
	records := make([]contactRecord, len(contacts))
	for i, c := range contacts {
		records[i] = contactRecord{
			Username:   c.Username,
			PublicKey:  hex.EncodeToString(c.PublicKey[:]),
			SigningKey: hex.EncodeToString(c.SigningKey[:]),
			Address:    c.Address,
			LastSeen:   c.LastSeen,
			AddedAt:    c.AddedAt,
		}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	if err := crypto.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("write contacts: %w", err)
	}
	return nil
}

// Load adds every contact stored at path to the table. A missing file is not an error.
// Contacts already present in the table keep their pinned keys.
func (t *Table) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var records []contactRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse contacts file: %w", err)
	}

	for _, rec := range records {
		c := Contact{Username: rec.Username, Address: rec.Address, LastSeen: rec.LastSeen}
		if err := decodeHexKey(rec.PublicKey, &c.PublicKey); err != nil {
			return fmt.Errorf("contact %q public key: %w", rec.Username, err)
		}
		if err := decodeHexKey(rec.SigningKey, &c.SigningKey); err != nil {
			return fmt.Errorf("contact %q signing key: %w", rec.Username, err)
		}

		if _, err := t.Add(c); err != nil && !errors.Is(err, ErrContactExists) {
			return err
		}
		if !rec.AddedAt.IsZero() {
			t.mu.Lock()
			if stored, ok := t.contacts[rec.Username]; ok && stored.PublicKey == c.PublicKey {
				stored.AddedAt = rec.AddedAt
			}
			t.mu.Unlock()
		}
	}
	return nil
}

func decodeHexKey(s string, dst *[32]byte) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("length %d, want %d", len(raw), len(dst))
	}
	copy(dst[:], raw)
	return nil
}
