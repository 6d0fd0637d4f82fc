package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrUnreachable is returned by MockTransport.Send when no live endpoint is bound
// to the destination address.
var ErrUnreachable = errors.New("peer unreachable")

// MockAddr implements net.Addr for in-memory endpoints.
type MockAddr struct {
	network string
	address string
}

func (m MockAddr) Network() string { return m.network }
func (m MockAddr) String() string  { return m.address }

// MockNetwork connects MockTransports by address. Delivery is synchronous: Send
// returns after the receiving handler has run.
type MockNetwork struct {
	mu        sync.RWMutex
	endpoints map[string]*MockTransport
}

// NewMockNetwork creates an empty in-memory network.
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{endpoints: make(map[string]*MockTransport)}
}

// NewTransport binds a new transport at addr.
func (n *MockNetwork) NewTransport(addr string) *MockTransport {
	m := &MockTransport{
		network:   n,
		localAddr: MockAddr{network: "mock", address: addr},
	}
	n.mu.Lock()
	n.endpoints[addr] = m
	n.mu.Unlock()
	return m
}

func (n *MockNetwork) lookup(addr string) *MockTransport {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.endpoints[addr]
}

func (n *MockNetwork) unbind(addr string, m *MockTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[addr] == m {
		delete(n.endpoints, addr)
	}
}

// MockSend records one envelope sent through a MockTransport.
type MockSend struct {
	Addr     string
	Envelope *Envelope
	Err      error
}

// MockTransport implements Transport in memory for tests and offline simulations.
type MockTransport struct {
	network   *MockNetwork
	localAddr MockAddr
	handler   FrameHandler
	dialFunc  func(ctx context.Context, addr string) error
	sendFunc  func(addr string, env *Envelope) error
	sends     []MockSend
	offline   bool
	closed    bool
	mu        sync.Mutex
}

// Send implements Transport.Send. The envelope is round-tripped through the frame
// codec so the receiver never shares memory with the sender.
func (m *MockTransport) Send(ctx context.Context, addr string, env *Envelope) error {
	conn, err := m.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.WriteFrame(env)
}

// Dial implements Transport.Dial. It fails with ErrUnreachable when no reachable
// endpoint is bound at addr.
func (m *MockTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	if err := m.dial(ctx, addr); err != nil {
		m.record(addr, nil, err)
		return nil, err
	}
	return &mockConn{transport: m, addr: addr}, nil
}

func (m *MockTransport) dial(ctx context.Context, addr string) error {
	m.mu.Lock()
	dialFunc := m.dialFunc
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return &Error{Op: OpDial, Addr: addr, Err: net.ErrClosed}
	}
	if dialFunc != nil {
		if err := dialFunc(ctx, addr); err != nil {
			return &Error{Op: OpDial, Addr: addr, Err: err}
		}
	}
	if err := ctx.Err(); err != nil {
		return &Error{Op: OpDial, Addr: addr, Err: err}
	}

	peer := m.network.lookup(addr)
	if peer == nil || !peer.reachable() {
		return &Error{Op: OpDial, Addr: addr, Err: ErrUnreachable}
	}
	return nil
}

func (m *MockTransport) write(addr string, env *Envelope) error {
	m.mu.Lock()
	sendFunc := m.sendFunc
	m.mu.Unlock()

	if sendFunc != nil {
		if err := sendFunc(addr, env); err != nil {
			return err
		}
	}

	frame, err := EncodeFrame(env)
	if err != nil {
		return &Error{Op: OpEncode, Addr: addr, Err: err}
	}

	peer := m.network.lookup(addr)
	if peer == nil || !peer.reachable() {
		return &Error{Op: OpWrite, Addr: addr, Err: ErrUnreachable}
	}

	decoded, err := UnmarshalEnvelope(frame[frameHeaderSize:])
	if err != nil {
		return &Error{Op: OpWrite, Addr: addr, Err: err}
	}
	peer.Deliver(InboundFrame{Envelope: decoded, RemoteAddr: m.localAddr, ReceivedAt: time.Now()})
	return nil
}

func (m *MockTransport) record(addr string, env *Envelope, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, MockSend{Addr: addr, Envelope: env, Err: err})
}

// mockConn is a dialed MockTransport connection.
type mockConn struct {
	transport *MockTransport
	addr      string
	used      bool
	closed    bool
}

// WriteFrame delivers env synchronously to the peer's handler.
func (c *mockConn) WriteFrame(env *Envelope) error {
	var err error
	switch {
	case c.closed:
		err = &Error{Op: OpWrite, Addr: c.addr, Err: net.ErrClosed}
	case c.used:
		err = &Error{Op: OpWrite, Addr: c.addr, Err: errors.New("connection already carried a frame")}
	default:
		c.used = true
		err = c.transport.write(c.addr, env)
	}
	c.transport.record(c.addr, env, err)
	return err
}

func (c *mockConn) Close() error {
	c.closed = true
	return nil
}

// Deliver hands a frame to the registered handler as if it had arrived on the wire.
func (m *MockTransport) Deliver(frame InboundFrame) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(frame)
	}
}

func (m *MockTransport) reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.offline && !m.closed
}

// SetOffline makes the endpoint refuse inbound sends while still bound.
func (m *MockTransport) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// SetDialFunc installs a hook run on every dial; a non-nil error fails the dial
// with OpDial. The hook receives the dial context so it can simulate a slow connect.
func (m *MockTransport) SetDialFunc(f func(ctx context.Context, addr string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialFunc = f
}

// SetSendFunc installs a hook run before every frame write; a non-nil error aborts
// the write and is returned unchanged.
func (m *MockTransport) SetSendFunc(f func(addr string, env *Envelope) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFunc = f
}

// Sends returns every send attempted through this transport.
func (m *MockTransport) Sends() []MockSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockSend, len(m.sends))
	copy(result, m.sends)
	return result
}

// Close implements Transport.Close.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("mock transport %s already closed", m.localAddr.address)
	}
	m.closed = true
	m.mu.Unlock()

	m.network.unbind(m.localAddr.address, m)
	return nil
}

// LocalAddr implements Transport.LocalAddr.
func (m *MockTransport) LocalAddr() net.Addr {
	return m.localAddr
}

// SetHandler implements Transport.SetHandler.
func (m *MockTransport) SetHandler(handler FrameHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}
