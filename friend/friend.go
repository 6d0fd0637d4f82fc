package friend

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat/limits"
)

var (
	// ErrContactExists is returned by Add when the username is already a contact.
	// The existing contact is returned alongside it and is never modified.
	ErrContactExists = errors.New("contact already exists")
	// ErrContactNotFound indicates an unknown username.
	ErrContactNotFound = errors.New("contact not found")
	// ErrKeyMismatch indicates a directory record whose keys differ from the pinned ones.
	ErrKeyMismatch = errors.New("contact keys do not match pinned keys")
)

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

var defaultTimeProvider TimeProvider = DefaultTimeProvider{}

// Contact is a pinned peer. PublicKey and SigningKey are set once on Add and never
// change afterwards.
type Contact struct {
	Username   string    `json:"username"`
	PublicKey  [32]byte  `json:"-"`
	SigningKey [32]byte  `json:"-"`
	Address    string    `json:"address"`
	Online     bool      `json:"online"`
	LastSeen   time.Time `json:"last_seen"`
	AddedAt    time.Time `json:"added_at"`
}

// Table is the set of contacts known to one node. It is safe for concurrent use.
type Table struct {
	mu           sync.RWMutex
	contacts     map[string]*Contact
	timeProvider TimeProvider
}

// NewTable creates an empty contact table.
func NewTable() *Table {
	return NewTableWithTimeProvider(defaultTimeProvider)
}

// NewTableWithTimeProvider creates an empty contact table with a custom time provider.
func NewTableWithTimeProvider(tp TimeProvider) *Table {
	if tp == nil {
		tp = defaultTimeProvider
	}
	return &Table{
		contacts:     make(map[string]*Contact),
		timeProvider: tp,
	}
}

// Add pins a new contact. If the username is already present the stored contact is
// returned unchanged together with ErrContactExists.
func (t *Table) Add(c Contact) (Contact, error) {
	if err := limits.ValidateUsername(c.Username); err != nil {
		return Contact{}, err
	}
	if c.PublicKey == ([32]byte{}) || c.SigningKey == ([32]byte{}) {
		return Contact{}, fmt.Errorf("contact %q has no keys", c.Username)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.contacts[c.Username]; ok {
		return *existing, ErrContactExists
	}

	c.AddedAt = t.timeProvider.Now()
	stored := c
	t.contacts[c.Username] = &stored

	logrus.WithFields(logrus.Fields{
		"function":   "Table.Add",
		"username":   c.Username,
		"public_key": hex.EncodeToString(c.PublicKey[:8]),
		"address":    c.Address,
	}).Info("Contact pinned")

	return stored, nil
}

// Get returns a copy of the contact for username.
func (t *Table) Get(username string) (Contact, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.contacts[username]
	if !ok {
		return Contact{}, false
	}
	return *c, true
}

// Remove deletes a contact and reports whether it existed.
func (t *Table) Remove(username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.contacts[username]; !ok {
		return false
	}
	delete(t.contacts, username)

	logrus.WithFields(logrus.Fields{
		"function": "Table.Remove",
		"username": username,
	}).Info("Contact removed")
	return true
}

// List returns all contacts sorted by username.
func (t *Table) List() []Contact {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Contact, 0, len(t.contacts))
	for _, c := range t.contacts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Len returns the number of contacts.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.contacts)
}

// VerifyKeys checks keys reported for username against the pinned ones.
func (t *Table) VerifyKeys(username string, publicKey, signingKey [32]byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.contacts[username]
	if !ok {
		return ErrContactNotFound
	}
	if c.PublicKey != publicKey || c.SigningKey != signingKey {
		return ErrKeyMismatch
	}
	return nil
}

// SetPresence records whether a contact is online and reports whether that changed.
// Marking a contact online also refreshes LastSeen; a non-empty address replaces
// the stored one.
func (t *Table) SetPresence(username string, online bool, address string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.contacts[username]
	if !ok {
		return false, ErrContactNotFound
	}

	changed := c.Online != online
	c.Online = online
	if online {
		c.LastSeen = t.timeProvider.Now()
	}
	if address != "" {
		c.Address = address
	}

	if changed {
		logrus.WithFields(logrus.Fields{
			"function": "Table.SetPresence",
			"username": username,
			"online":   online,
		}).Debug("Contact presence changed")
	}
	return changed, nil
}
