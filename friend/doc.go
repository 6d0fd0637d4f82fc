// Package friend keeps the contact table of a peerchat node.
//
// Contacts are pinned on first use: the keys returned by the directory when a
// friend is added are stored once and never replaced for the lifetime of the table.
// A later directory record with different keys is reported as ErrKeyMismatch and
// ignored by the node.
//
//	table := friend.NewTable()
//	c, err := table.Add(friend.Contact{Username: "bob", PublicKey: pk, SigningKey: sk})
//	if errors.Is(err, friend.ErrContactExists) {
//	    // c is the contact pinned earlier, unchanged
//	}
//
//	changed, _ := table.SetPresence("bob", true, "203.0.113.7:7400")
//
// Presence is derived by the node from directory heartbeats and direct traffic;
// SetPresence reports transitions so the node can emit online and offline events.
// Save and Load persist the table as JSON with hex-encoded keys.
package friend
