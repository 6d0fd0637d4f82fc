// Package messaging holds the local chat history.
//
// A Message is identified by its sender and msg_id. Store implementations
// (MemoryStore and the go-sqlite3 backed SQLiteStore) refuse a second message
// with the same pair, and DedupCache keeps a bounded LRU of recently seen
// pairs so the receive path can drop replays without touching the store.
//
// Sent messages move through the states resolving, connecting and delivering
// before ending delivered, relayed or failed. Received messages are stored in
// the received state.
package messaging
