// Package directory implements the rendezvous and relay service peerchat nodes use to
// find each other and to hold messages for offline peers.
//
// The Directory interface has four implementations: MemoryDirectory (in-process,
// used by tests and single-binary demos), Client (the HTTP/JSON API served by
// Server), RedisDirectory and PostgresDirectory. Server exposes any Directory over
// HTTP with chi:
//
//	PUT  /users/{username}              register or update a user
//	POST /users/{username}/heartbeat    refresh last_seen and address
//	GET  /users/{username}              lookup
//	POST /relay/{username}              push a bundle for username
//	POST /relay/{username}/drain        fetch and delete queued bundles
//	GET  /health                        liveness and backing store check
//
// All failures are returned as *Error with an Op and a sentinel cause such as
// ErrNotFound or ErrUnavailable. Retryable separates transient failures from
// permanent ones.
package directory
