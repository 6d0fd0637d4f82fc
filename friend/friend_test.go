package friend

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTimeProvider is a mock implementation of TimeProvider for testing.
type mockTimeProvider struct {
	fixedTime time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	return m.fixedTime
}

func testContact(username string, seed byte) Contact {
	c := Contact{Username: username, Address: "127.0.0.1:7400"}
	for i := range c.PublicKey {
		c.PublicKey[i] = seed
		c.SigningKey[i] = seed + 1
	}
	return c
}

func TestTableAdd(t *testing.T) {
	tp := &mockTimeProvider{fixedTime: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	table := NewTableWithTimeProvider(tp)

	added, err := table.Add(testContact("bob", 1))
	require.NoError(t, err)
	assert.Equal(t, tp.fixedTime, added.AddedAt)
	assert.Equal(t, 1, table.Len())

	tests := []struct {
		name    string
		contact Contact
		wantErr bool
	}{
		{"invalid username", testContact("bob smith", 2), true},
		{"empty username", testContact("", 2), true},
		{"missing keys", Contact{Username: "carol"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := table.Add(tt.contact)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestTableAddNeverOverwritesKeys(t *testing.T) {
	table := NewTable()
	original, err := table.Add(testContact("bob", 1))
	require.NoError(t, err)

	existing, err := table.Add(testContact("bob", 9))
	assert.ErrorIs(t, err, ErrContactExists)
	assert.Equal(t, original.PublicKey, existing.PublicKey)

	got, ok := table.Get("bob")
	require.True(t, ok)
	assert.Equal(t, original.PublicKey, got.PublicKey)
	assert.Equal(t, original.SigningKey, got.SigningKey)
}

func TestTableGetReturnsCopy(t *testing.T) {
	table := NewTable()
	_, err := table.Add(testContact("bob", 1))
	require.NoError(t, err)

	c, _ := table.Get("bob")
	c.PublicKey[0] = 0xFF
	c.Address = "elsewhere:1"

	stored, _ := table.Get("bob")
	assert.Equal(t, byte(1), stored.PublicKey[0])
	assert.Equal(t, "127.0.0.1:7400", stored.Address)
}

func TestTableRemoveAndList(t *testing.T) {
	table := NewTable()
	for i, name := range []string{"carol", "alice", "bob"} {
		_, err := table.Add(testContact(name, byte(i+1)))
		require.NoError(t, err)
	}

	list := table.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alice", list[0].Username)
	assert.Equal(t, "carol", list[2].Username)

	assert.True(t, table.Remove("bob"))
	assert.False(t, table.Remove("bob"))
	_, ok := table.Get("bob")
	assert.False(t, ok)
}

func TestTableSetPresence(t *testing.T) {
	tp := &mockTimeProvider{fixedTime: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	table := NewTableWithTimeProvider(tp)
	_, err := table.Add(testContact("bob", 1))
	require.NoError(t, err)

	changed, err := table.SetPresence("bob", true, "10.0.0.2:7400")
	require.NoError(t, err)
	assert.True(t, changed)

	tp.fixedTime = tp.fixedTime.Add(30 * time.Second)
	changed, err = table.SetPresence("bob", true, "")
	require.NoError(t, err)
	assert.False(t, changed, "repeat online is not a transition")

	c, _ := table.Get("bob")
	assert.True(t, c.Online)
	assert.Equal(t, "10.0.0.2:7400", c.Address)
	assert.Equal(t, tp.fixedTime, c.LastSeen)

	changed, err = table.SetPresence("bob", false, "")
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = table.SetPresence("nobody", true, "")
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestTableVerifyKeys(t *testing.T) {
	table := NewTable()
	c := testContact("bob", 1)
	_, err := table.Add(c)
	require.NoError(t, err)

	assert.NoError(t, table.VerifyKeys("bob", c.PublicKey, c.SigningKey))

	other := testContact("bob", 5)
	assert.ErrorIs(t, table.VerifyKeys("bob", other.PublicKey, c.SigningKey), ErrKeyMismatch)
	assert.ErrorIs(t, table.VerifyKeys("bob", c.PublicKey, other.SigningKey), ErrKeyMismatch)
	assert.ErrorIs(t, table.VerifyKeys("carol", c.PublicKey, c.SigningKey), ErrContactNotFound)
}

func TestTableSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.json")

	table := NewTable()
	for i, name := range []string{"alice", "bob"} {
		_, err := table.Add(testContact(name, byte(i+1)))
		require.NoError(t, err)
	}
	_, err := table.SetPresence("bob", true, "")
	require.NoError(t, err)

	// An older world-readable file is replaced, not reused.
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))
	require.NoError(t, os.Chmod(path, 0o644))
	require.NoError(t, table.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded := NewTable()
	require.NoError(t, loaded.Load(path))
	require.Equal(t, 2, loaded.Len())

	bob, ok := loaded.Get("bob")
	require.True(t, ok)
	orig, _ := table.Get("bob")
	assert.Equal(t, orig.PublicKey, bob.PublicKey)
	assert.Equal(t, orig.SigningKey, bob.SigningKey)
	assert.Equal(t, orig.AddedAt.Unix(), bob.AddedAt.Unix())
	assert.False(t, bob.Online, "presence is not persisted")
}

func TestTableLoadMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	table := NewTable()
	assert.NoError(t, table.Load(filepath.Join(dir, "absent.json")))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"username":"bob","public_key":"zz"}]`), 0o600))
	assert.Error(t, table.Load(bad))
}
