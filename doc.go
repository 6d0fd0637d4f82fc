// Package peerchat implements a peer-to-peer encrypted chat node.
//
// A node owns one identity (an X25519 key pair for encryption and an Ed25519 key
// pair for signatures), registers it with a directory service, and exchanges
// signed, encrypted envelopes with its friends. Messages go straight to the
// peer's advertised address when it answers; otherwise the same envelope is
// stored with the directory's relay and picked up by the peer on its next drain.
//
// # Getting Started
//
// Build a node from an identity, a transport and a directory:
//
//	id, _, err := crypto.LoadOrCreateIdentity("identity.json", "alice", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	tcp, err := transport.NewTCPTransport(":7400", transport.DefaultTCPOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	node, err := peerchat.New(peerchat.Deps{
//	    Identity:  id,
//	    Transport: tcp,
//	    Directory: directory.NewClient("https://dir.example", apiKey, 5*time.Second),
//	    Events: peerchat.EventFunc(func(ev peerchat.Event) {
//	        fmt.Println(ev.Type, ev.Peer)
//	    }),
//	}, peerchat.NewOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Stop()
//
//	node.AddFriend(ctx, "bob")
//	msg, err := node.SendMessage(ctx, "bob", "hi")
//	fmt.Println(msg.State, msg.Method)
//
// # Send States
//
// An outbound message moves through resolving (find the peer's address),
// connecting (dial) and delivering (write the frame) and ends delivered, relayed
// or failed. Failed means the relay push itself could not be completed within the
// retry schedule. Sending the same msg_id again returns the stored record.
//
// # Receive Path
//
// Inbound envelopes are checked against the sender's pinned signing key, then
// decrypted, then deduplicated on (sender, msg_id). Envelopes from unknown senders
// or with bad signatures are dropped without an event.
//
// # Concurrency
//
// Node state is owned by a phony actor. Transport callbacks, relay drains, UI
// calls and the heartbeat loop all submit work to it, so none of them race.
// Network calls run outside the actor under ConnectTimeout and DirectoryTimeout.
package peerchat
