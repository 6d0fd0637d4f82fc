package peerchat

import (
	"context"
	"errors"
	"fmt"

	"github.com/Arceliar/phony"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat/directory"
	"github.com/opd-ai/peerchat/friend"
	"github.com/opd-ai/peerchat/limits"
)

// AddFriend resolves username through the directory and pins the returned keys
// (trust on first use). Adding an existing friend returns the stored contact
// unchanged together with ErrFriendExists.
func (n *Node) AddFriend(ctx context.Context, username string) (friend.Contact, error) {
	if err := limits.ValidateUsername(username); err != nil {
		return friend.Contact{}, err
	}
	if username == n.username {
		return friend.Contact{}, ErrSelfFriend
	}
	if existing, ok := n.contacts.Get(username); ok {
		return existing, ErrFriendExists
	}

	var rec *directory.Record
	err := n.callDirectory(ctx, directory.OpLookup, func(ctx context.Context) error {
		var err error
		rec, err = n.directory.Lookup(ctx, username)
		return err
	})
	if err != nil {
		return friend.Contact{}, fmt.Errorf("add friend %s: %w", username, err)
	}

	var (
		contact friend.Contact
		addErr  error
	)
	online := rec.OnlineAt(n.clock.Now(), n.opts.PresenceTTL)
	phony.Block(n, func() {
		contact, addErr = n.contacts.Add(friend.Contact{
			Username:   rec.Username,
			PublicKey:  rec.PublicKey,
			SigningKey: rec.SigningKey,
			Address:    rec.Address,
		})
		if addErr != nil {
			return
		}
		n._setPresence(username, online, rec.Address)
		contact, _ = n.contacts.Get(username)
		n._saveContacts()
	})
	if errors.Is(addErr, friend.ErrContactExists) {
		return contact, ErrFriendExists
	}
	if addErr != nil {
		return friend.Contact{}, addErr
	}

	logrus.WithFields(logrus.Fields{
		"function": "AddFriend",
		"username": username,
		"online":   contact.Online,
	}).Info("Friend added")
	return contact, nil
}

// RemoveFriend forgets a contact and its cached address. Stored history is kept.
func (n *Node) RemoveFriend(username string) error {
	var removed bool
	phony.Block(n, func() {
		removed = n.contacts.Remove(username)
		if removed {
			n._saveContacts()
		}
	})
	if !removed {
		return fmt.Errorf("%w: %s", ErrUnknownFriend, username)
	}
	return nil
}

// ListFriends returns all contacts sorted by username.
func (n *Node) ListFriends() []friend.Contact {
	var out []friend.Contact
	phony.Block(n, func() { out = n.contacts.List() })
	return out
}

// Friend returns one contact.
func (n *Node) Friend(username string) (friend.Contact, bool) {
	var (
		c  friend.Contact
		ok bool
	)
	phony.Block(n, func() { c, ok = n.contacts.Get(username) })
	return c, ok
}

func (n *Node) _saveContacts() {
	if n.opts.ContactsPath == "" {
		return
	}
	if err := n.contacts.Save(n.opts.ContactsPath); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "_saveContacts",
			"path":     n.opts.ContactsPath,
			"error":    err.Error(),
		}).Error("Failed to save contacts")
	}
}
