package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// InboundFrame is one complete frame received from a peer connection.
type InboundFrame struct {
	Envelope   *Envelope
	RemoteAddr net.Addr
	ReceivedAt time.Time
}

// FrameHandler processes complete inbound frames. It must not block for long: the
// connection's read loop waits for it to return.
type FrameHandler func(frame InboundFrame)

// Conn is an outbound connection that carries one frame and is then closed.
type Conn interface {
	// WriteFrame writes env as a single frame.
	WriteFrame(env *Envelope) error
	Close() error
}

// Transport defines the interface for peer transports used by a node.
// This abstraction allows the TCP transport and the in-memory mock to be used
// interchangeably.
type Transport interface {
	// Dial opens an outbound connection to addr within ctx and the connect timeout.
	Dial(ctx context.Context, addr string) (Conn, error)

	// Send opens a connection to addr, writes one frame and closes it.
	// Failures are returned as *Error and are never retried internally.
	Send(ctx context.Context, addr string, env *Envelope) error

	// Close stops accepting connections and shuts down the transport.
	Close() error

	// LocalAddr returns the local address the transport is listening on.
	LocalAddr() net.Addr

	// SetHandler registers the single inbound frame handler.
	SetHandler(handler FrameHandler)
}

// Operations reported in Error.Op.
const (
	OpDial   = "dial"
	OpWrite  = "write"
	OpEncode = "encode"
)

// Error is an outbound transport failure.
type Error struct {
	Op   string
	Addr string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
