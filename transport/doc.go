// Package transport moves signed envelopes between peerchat nodes.
//
// # Wire Format
//
// Every frame is a 4-byte big-endian length followed by a JSON-encoded [Envelope].
// Readers reassemble partial reads with io.ReadFull. A zero length is rejected with
// [ErrMalformedFrame] and a length above limits.MaxFrameSize with [ErrFrameTooLarge],
// before any body bytes are allocated.
//
// # Transports
//
// All implementations satisfy the Transport interface:
//
//	type Transport interface {
//	    Send(ctx context.Context, addr string, env *Envelope) error
//	    Close() error
//	    LocalAddr() net.Addr
//	    SetHandler(handler FrameHandler)
//	}
//
// TCP Transport:
//
//	t, err := transport.NewTCPTransport(":7400", transport.DefaultTCPOptions())
//	t.SetHandler(func(f transport.InboundFrame) { ... })
//
// The server side accepts any number of concurrent connections and hands complete
// frames to the handler without validating them. The client side opens a connection
// per frame, bounded by ConnectTimeout, and never retries; the caller decides
// whether to fall back to a relay.
//
// Mock Transport:
//
//	net := transport.NewMockNetwork()
//	alice := net.NewTransport("alice:1")
//	bob := net.NewTransport("bob:1")
//	bob.SetOffline(true) // sends to bob now fail with ErrUnreachable
//
// # Errors
//
// Outbound failures are returned as *[Error] carrying the failed operation
// ([OpDial], [OpWrite] or [OpEncode]) and the destination address.
package transport
