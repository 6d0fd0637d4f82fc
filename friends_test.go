package peerchat

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/peerchat/directory"
	"github.com/opd-ai/peerchat/friend"
)

func TestAddFriend(t *testing.T) {
	h := newHarness()
	alice := h.startNode(t, "alice")
	bob := h.startNode(t, "bob")

	contact, err := alice.AddFriend(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", contact.Username)
	assert.Equal(t, bob.id.PublicKey(), contact.PublicKey)
	assert.Equal(t, bob.id.SigningPublicKey(), contact.SigningKey)
	assert.Equal(t, "bob:7400", contact.Address)
	assert.True(t, contact.Online)

	online := alice.events.ofType(EventFriendOnline)
	require.Len(t, online, 1)
	assert.Equal(t, "bob", online[0].Peer)
}

func TestAddFriendErrors(t *testing.T) {
	h := newHarness()
	alice := h.startNode(t, "alice")
	h.startNode(t, "bob")
	_, err := alice.AddFriend(context.Background(), "bob")
	require.NoError(t, err)

	tests := []struct {
		name     string
		username string
		want     error
	}{
		{"self", "alice", ErrSelfFriend},
		{"unknown", "nobody", directory.ErrNotFound},
		{"existing", "bob", ErrFriendExists},
		{"invalid name", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := alice.AddFriend(context.Background(), tt.username)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestAddFriendNeverOverwritesPinnedKeys(t *testing.T) {
	h := newHarness()
	alice := h.startNode(t, "alice")
	bob := h.startNode(t, "bob")
	first, err := alice.AddFriend(context.Background(), "bob")
	require.NoError(t, err)

	require.NoError(t, h.dir.Register(context.Background(), directory.Registration{
		Username:   "bob",
		NodeID:     bob.id.NodeID,
		PublicKey:  directory.Key{1},
		SigningKey: directory.Key{2},
		Address:    "bob:9999",
	}))

	again, err := alice.AddFriend(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrFriendExists)
	assert.Equal(t, first.PublicKey, again.PublicKey)
	assert.Equal(t, first.SigningKey, again.SigningKey)
}

func TestRemoveFriendKeepsHistory(t *testing.T) {
	h := newHarness()
	alice := h.startNode(t, "alice")
	bob := h.startNode(t, "bob")
	befriend(t, alice, bob)

	_, err := alice.SendMessage(context.Background(), "bob", "before removal")
	require.NoError(t, err)

	require.NoError(t, alice.RemoveFriend("bob"))
	assert.ErrorIs(t, alice.RemoveFriend("bob"), ErrUnknownFriend)
	assert.Empty(t, alice.ListFriends())

	history, err := alice.Messages(context.Background(), "bob", 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = alice.SendMessage(context.Background(), "bob", "after removal")
	assert.ErrorIs(t, err, ErrUnknownFriend)
}

func TestFriendChangesArePersisted(t *testing.T) {
	h := newHarness()
	path := filepath.Join(t.TempDir(), "contacts.json")

	alice := h.newNode(t, "alice")
	alice.opts.ContactsPath = path
	require.NoError(t, alice.Start(context.Background()))
	h.startNode(t, "bob")
	h.startNode(t, "carol")

	_, err := alice.AddFriend(context.Background(), "bob")
	require.NoError(t, err)
	_, err = alice.AddFriend(context.Background(), "carol")
	require.NoError(t, err)
	require.NoError(t, alice.RemoveFriend("carol"))

	loaded := friend.NewTable()
	require.NoError(t, loaded.Load(path))
	require.Equal(t, 1, loaded.Len())
	c, ok := loaded.Get("bob")
	require.True(t, ok)
	assert.Equal(t, alice.ListFriends()[0].PublicKey, c.PublicKey)
}
