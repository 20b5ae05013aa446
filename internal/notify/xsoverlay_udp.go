package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// DefaultUDPAddr is the XSOverlay legacy datagram endpoint.
const DefaultUDPAddr = "127.0.0.1:42069"

// UDPTransport fires raw JSON datagrams at the legacy XSOverlay port. There
// is no handshake and no delivery signal, so it always reports ready and
// serves as the fallback when the WebSocket API is unreachable.
type UDPTransport struct {
	addr   string
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

// UDPOption configures a UDPTransport.
type UDPOption func(*UDPTransport)

// WithUDPAddr overrides the overlay datagram endpoint.
func WithUDPAddr(addr string) UDPOption {
	return func(t *UDPTransport) {
		if addr != "" {
			t.addr = addr
		}
	}
}

// WithUDPLogger sets the logger.
func WithUDPLogger(logger *slog.Logger) UDPOption {
	return func(t *UDPTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewUDPTransport creates the transport. The socket is opened lazily on the
// first send.
func NewUDPTransport(opts ...UDPOption) *UDPTransport {
	t := &UDPTransport{
		addr:   DefaultUDPAddr,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Ready implements Transport. Datagrams have no connection to lose.
func (t *UDPTransport) Ready() bool { return true }

// Send implements Transport.
func (t *UDPTransport) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	conn, err := t.socket()
	if err != nil {
		return err
	}
	if _, err := conn.Write(body); err != nil {
		t.reset()
		return fmt.Errorf("overlay datagram: %w", err)
	}
	return nil
}

func (t *UDPTransport) socket() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn, nil
	}
	conn, err := net.Dial("udp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("open overlay socket: %w", err)
	}
	t.conn = conn
	return conn, nil
}

func (t *UDPTransport) reset() {
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()
}

// Close releases the socket.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
