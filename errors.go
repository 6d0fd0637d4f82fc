package peerchat

import "errors"

var (
	// ErrUnknownFriend indicates a username that is not in the contact table.
	ErrUnknownFriend = errors.New("unknown friend")
	// ErrFriendExists is informational: AddFriend returns the existing contact with it.
	ErrFriendExists = errors.New("friend already added")
	// ErrSelfFriend is returned when a node tries to add its own username.
	ErrSelfFriend = errors.New("cannot add yourself as a friend")
	// ErrNotStarted is returned by operations that need a running node.
	ErrNotStarted = errors.New("node is not running")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("node already started")
	// ErrNoAddress indicates a contact with no known address for a direct-only send.
	ErrNoAddress = errors.New("no known address for peer")
	// ErrInvalidMessageID indicates an empty or oversize caller-chosen msg_id.
	ErrInvalidMessageID = errors.New("invalid message id")
)
