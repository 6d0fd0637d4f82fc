package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TCPOptions configures connection timeouts for a TCPTransport.
type TCPOptions struct {
	// ConnectTimeout bounds each outbound dial.
	ConnectTimeout time.Duration
	// WriteTimeout bounds writing one outbound frame.
	WriteTimeout time.Duration
	// IdleTimeout is the read deadline between inbound frames on one connection.
	IdleTimeout time.Duration
}

// DefaultTCPOptions returns the default connection timeouts.
func DefaultTCPOptions() TCPOptions {
	return TCPOptions{
		ConnectTimeout: 3 * time.Second,
		WriteTimeout:   5 * time.Second,
		IdleTimeout:    30 * time.Second,
	}
}

func (o TCPOptions) withDefaults() TCPOptions {
	def := DefaultTCPOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = def.IdleTimeout
	}
	return o
}

// TCPTransport exchanges length-prefixed envelopes over TCP.
// It satisfies the Transport interface.
//
// Every accepted connection is served by its own goroutine and may carry any number
// of sequential frames. A malformed or oversize frame closes only that connection.
// Outbound sends use a fresh connection per frame.
type TCPTransport struct {
	listener   net.Listener
	listenAddr net.Addr
	opts       TCPOptions
	handler    FrameHandler
	conns      map[net.Conn]struct{}
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewTCPTransport creates a new TCP transport listener and starts accepting connections.
func NewTCPTransport(listenAddr string, opts TCPOptions) (*TCPTransport, error) {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &TCPTransport{
		listener:   listener,
		listenAddr: listener.Addr(),
		opts:       opts.withDefaults(),
		conns:      make(map[net.Conn]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewTCPTransport",
		"listen_addr": t.listenAddr.String(),
	}).Info("TCP transport listening")

	t.wg.Add(1)
	go t.acceptConnections()

	return t, nil
}

// SetHandler registers the inbound frame handler. Frames arriving with no handler
// are discarded.
func (t *TCPTransport) SetHandler(handler FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Dial opens an outbound connection to addr. The returned connection's write
// deadline is fixed at dial time to the earlier of WriteTimeout and ctx's deadline.
func (t *TCPTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	dialer := net.Dialer{Timeout: t.opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &Error{Op: OpDial, Addr: addr, Err: err}
	}

	deadline := time.Now().Add(t.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return &tcpConn{conn: conn, addr: addr, deadline: deadline}, nil
}

// Send dials addr, writes one frame and closes the connection.
func (t *TCPTransport) Send(ctx context.Context, addr string, env *Envelope) error {
	frame, err := EncodeFrame(env)
	if err != nil {
		return &Error{Op: OpEncode, Addr: addr, Err: err}
	}

	conn, err := t.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.(*tcpConn).write(frame)
}

// tcpConn is an outbound TCP connection.
type tcpConn struct {
	conn     net.Conn
	addr     string
	deadline time.Time
}

// WriteFrame encodes env and writes it under the connection's write deadline.
func (c *tcpConn) WriteFrame(env *Envelope) error {
	frame, err := EncodeFrame(env)
	if err != nil {
		return &Error{Op: OpEncode, Addr: c.addr, Err: err}
	}
	return c.write(frame)
}

func (c *tcpConn) write(frame []byte) error {
	if err := c.conn.SetWriteDeadline(c.deadline); err != nil {
		return &Error{Op: OpWrite, Addr: c.addr, Err: err}
	}
	if _, err := c.conn.Write(frame); err != nil {
		return &Error{Op: OpWrite, Addr: c.addr, Err: err}
	}
	return nil
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

// Close shuts down the transport and waits for connection handlers to exit.
func (t *TCPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		err = t.listener.Close()

		t.mu.Lock()
		for conn := range t.conns {
			conn.Close()
		}
		t.mu.Unlock()

		t.wg.Wait()
	})
	return err
}

// LocalAddr returns the local address the transport is listening on.
func (t *TCPTransport) LocalAddr() net.Addr {
	return t.listenAddr
}

// acceptConnections handles incoming connections until the listener closes.
func (t *TCPTransport) acceptConnections() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "acceptConnections",
				"error":    err.Error(),
			}).Warn("Accept failed")
			continue
		}

		if !t.trackConn(conn) {
			conn.Close()
			return
		}
		t.wg.Add(1)
		go t.handleConnection(conn)
	}
}

func (t *TCPTransport) trackConn(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx.Err() != nil {
		return false
	}
	t.conns[conn] = struct{}{}
	return true
}

func (t *TCPTransport) untrackConn(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, conn)
}

// handleConnection reads sequential frames from one connection.
func (t *TCPTransport) handleConnection(conn net.Conn) {
	defer t.wg.Done()
	defer t.untrackConn(conn)
	defer conn.Close()

	addr := conn.RemoteAddr()
	for {
		if err := conn.SetReadDeadline(time.Now().Add(t.opts.IdleTimeout)); err != nil {
			return
		}

		env, err := ReadFrame(conn)
		if err != nil {
			t.logReadError(addr, err)
			return
		}

		t.dispatch(InboundFrame{Envelope: env, RemoteAddr: addr, ReceivedAt: time.Now()})
	}
}

func (t *TCPTransport) logReadError(addr net.Addr, err error) {
	if errors.Is(err, io.EOF) || t.ctx.Err() != nil {
		return
	}
	fields := logrus.Fields{
		"function":    "handleConnection",
		"remote_addr": addr.String(),
		"error":       err.Error(),
	}
	if errors.Is(err, ErrMalformedFrame) || errors.Is(err, ErrFrameTooLarge) {
		logrus.WithFields(fields).Warn("Dropping connection after bad frame")
		return
	}
	logrus.WithFields(fields).Debug("Connection closed")
}

func (t *TCPTransport) dispatch(frame InboundFrame) {
	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()

	if handler == nil {
		return
	}
	handler(frame)
}
