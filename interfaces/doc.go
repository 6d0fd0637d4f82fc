// Package interfaces defines the handles a node holds on its collaborators.
//
// A Node never depends on concrete implementations. It is constructed with a
// [CryptoIdentity], a [PeerTransport] and a [DirectoryAdapter], which lets tests
// substitute the in-memory transport and directory for the TCP transport and a
// remote directory:
//
//	network := transport.NewMockNetwork()
//	dir := directory.NewMemoryDirectory()
//	node, err := peerchat.New(peerchat.Deps{
//	    Identity:  id,
//	    Transport: network.NewTransport("alice:1"),
//	    Directory: dir,
//	}, nil)
//
// # Implementations
//
// CryptoIdentity is implemented by *crypto.Identity. PeerTransport is implemented
// by *transport.TCPTransport and *transport.MockTransport. DirectoryAdapter is
// implemented by every directory backend: MemoryDirectory, the HTTP Client,
// RedisDirectory and PostgresDirectory.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use. The node calls the
// transport and directory from goroutines outside its actor.
package interfaces
