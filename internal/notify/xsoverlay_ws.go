package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Defaults for the XSOverlay WebSocket API.
const (
	DefaultWSURL        = "ws://127.0.0.1:42070/?client=vrcwatch"
	DefaultRetryDelay   = 5 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// ConnState is the connection lifecycle of the WebSocket transport.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// wsEnvelope is the XSOverlay command envelope. The notification payload
// rides inside JsonData as a nested JSON string.
type wsEnvelope struct {
	Sender   string `json:"sender"`
	Target   string `json:"target"`
	Command  string `json:"command"`
	JsonData string `json:"jsonData"`
}

// WSTransport keeps a long-lived connection to the XSOverlay WebSocket API.
// A background loop redials on a fixed delay; Send never blocks on dialing
// and fails fast while disconnected so the dispatcher can fall back.
type WSTransport struct {
	url        string
	retryDelay time.Duration
	dialer     *websocket.Dialer
	logger     *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	state  ConnState
	doneCh chan struct{}
}

// WSOption configures a WSTransport.
type WSOption func(*WSTransport)

// WithWSURL overrides the overlay endpoint.
func WithWSURL(url string) WSOption {
	return func(t *WSTransport) {
		if url != "" {
			t.url = url
		}
	}
}

// WithRetryDelay sets the redial interval.
func WithRetryDelay(d time.Duration) WSOption {
	return func(t *WSTransport) {
		if d > 0 {
			t.retryDelay = d
		}
	}
}

// WithWSLogger sets the logger.
func WithWSLogger(logger *slog.Logger) WSOption {
	return func(t *WSTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewWSTransport creates the transport. Call Run to start the connect loop.
func NewWSTransport(opts ...WSOption) *WSTransport {
	t := &WSTransport{
		url:        DefaultWSURL,
		retryDelay: DefaultRetryDelay,
		dialer:     &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		logger:     slog.Default(),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run dials and holds the connection, redialing after retryDelay whenever it
// drops. Blocks until ctx is cancelled; run in a goroutine.
func (t *WSTransport) Run(ctx context.Context) {
	defer close(t.doneCh)
	defer t.teardown()

	for {
		t.setState(StateConnecting)
		conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
		if err != nil {
			t.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			t.logger.Debug("overlay dial failed", "url", t.url, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.retryDelay):
				continue
			}
		}

		t.mu.Lock()
		t.conn = conn
		t.state = StateConnected
		t.mu.Unlock()
		t.logger.Info("overlay connected", "url", t.url)

		// The overlay sends nothing we care about; the read loop exists to
		// notice the peer going away.
		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		select {
		case <-ctx.Done():
			return
		case <-readDone:
		}

		t.teardown()
		t.logger.Warn("overlay connection lost, retrying", "delay", t.retryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.retryDelay):
		}
	}
}

// Done is closed when the connect loop has exited.
func (t *WSTransport) Done() <-chan struct{} {
	return t.doneCh
}

func (t *WSTransport) setState(s ConnState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *WSTransport) teardown() {
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.state = StateDisconnected
	t.mu.Unlock()
}

// State returns the current connection state.
func (t *WSTransport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Ready implements Transport.
func (t *WSTransport) Ready() bool {
	return t.State() == StateConnected
}

// Send implements Transport. A write failure closes the connection, which
// wakes the connect loop to redial.
func (t *WSTransport) Send(ctx context.Context, p Payload) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("overlay not connected")
	}

	inner, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	env := wsEnvelope{
		Sender:   "vrcwatch",
		Target:   "xsoverlay",
		Command:  "SendNotification",
		JsonData: string(inner),
	}

	deadline := time.Now().Add(DefaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(env); err != nil {
		conn.Close()
		return fmt.Errorf("overlay write: %w", err)
	}
	return nil
}
