package notify

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeTransport records sends and reports a configurable readiness.
type fakeTransport struct {
	mu    sync.Mutex
	ready bool
	sent  []Payload
}

func (f *fakeTransport) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeTransport) Send(ctx context.Context, p Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestDispatcher_PrimaryPreferred(t *testing.T) {
	primary := &fakeTransport{ready: true}
	secondary := &fakeTransport{ready: true}
	d := NewDispatcher(primary, secondary)

	d.Notify(context.Background(), KindLowTrust, "Nova")

	if primary.count() != 1 {
		t.Errorf("primary sends = %d, want 1", primary.count())
	}
	if secondary.count() != 0 {
		t.Errorf("secondary sends = %d, want 0 (exactly one transport per alert)", secondary.count())
	}
}

func TestDispatcher_FallsBackWhenPrimaryDown(t *testing.T) {
	primary := &fakeTransport{ready: false}
	secondary := &fakeTransport{ready: true}
	d := NewDispatcher(primary, secondary)

	d.Notify(context.Background(), KindFlagged, "Troll")

	if primary.count() != 0 {
		t.Errorf("primary sends = %d, want 0", primary.count())
	}
	if secondary.count() != 1 {
		t.Fatalf("secondary sends = %d, want 1", secondary.count())
	}
	if got := secondary.sent[0].Title; !strings.Contains(got, "Flagged") {
		t.Errorf("title = %q, want flagged wording", got)
	}
}

func TestDispatcher_PauseGatesDelivery(t *testing.T) {
	primary := &fakeTransport{ready: true}
	d := NewDispatcher(primary, nil)

	if changed := d.SetPaused(true); !changed {
		t.Error("first pause must report a change")
	}
	if changed := d.SetPaused(true); changed {
		t.Error("repeated pause must not report a change")
	}
	d.Notify(context.Background(), KindLowTrust, "Nova")
	if primary.count() != 0 {
		t.Fatal("paused dispatcher must not deliver")
	}

	d.SetPaused(false)
	d.Notify(context.Background(), KindLowTrust, "Nova")
	if primary.count() != 1 {
		t.Fatal("resumed dispatcher must deliver")
	}
}

func TestDispatcher_ToggleAndCallback(t *testing.T) {
	var (
		mu     sync.Mutex
		states []bool
	)
	d := NewDispatcher(&fakeTransport{ready: true}, nil,
		WithOnPause(func(p bool) {
			mu.Lock()
			states = append(states, p)
			mu.Unlock()
		}),
	)

	if !d.Toggle() {
		t.Error("first toggle must pause")
	}
	if d.Toggle() {
		t.Error("second toggle must resume")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != true || states[1] != false {
		t.Errorf("pause callbacks = %v, want [true false]", states)
	}
}

func TestBuildPayload(t *testing.T) {
	p := BuildPayload(KindLowTrust, "Nova")
	if p.MessageType != 1 {
		t.Errorf("messageType = %d, want 1", p.MessageType)
	}
	if p.Content != "Nova" {
		t.Errorf("content = %q, want Nova", p.Content)
	}
	if BuildPayload(KindFlagged, "x").Title == p.Title {
		t.Error("flagged and low-trust titles must differ")
	}
}

// overlayServer accepts WebSocket connections and captures envelopes.
type overlayServer struct {
	srv *httptest.Server

	mu        sync.Mutex
	envelopes []wsEnvelope
	conns     []*websocket.Conn
}

func newOverlayServer(t *testing.T) *overlayServer {
	t.Helper()
	o := &overlayServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		o.mu.Lock()
		o.conns = append(o.conns, conn)
		o.mu.Unlock()
		for {
			var env wsEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			o.mu.Lock()
			o.envelopes = append(o.envelopes, env)
			o.mu.Unlock()
		}
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *overlayServer) url() string {
	return "ws" + strings.TrimPrefix(o.srv.URL, "http")
}

func (o *overlayServer) received() []wsEnvelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]wsEnvelope(nil), o.envelopes...)
}

func (o *overlayServer) dropConns() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.conns {
		c.Close()
	}
	o.conns = nil
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWSTransport_SendsEnvelope(t *testing.T) {
	srv := newOverlayServer(t)
	tr := NewWSTransport(WithWSURL(srv.url()), WithRetryDelay(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)
	waitFor(t, tr.Ready, "transport never connected")

	if err := tr.Send(ctx, BuildPayload(KindFlagged, "Troll")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, func() bool { return len(srv.received()) == 1 }, "envelope never arrived")

	env := srv.received()[0]
	if env.Command != "SendNotification" || env.Target != "xsoverlay" {
		t.Errorf("envelope = %+v", env)
	}
	var p Payload
	if err := json.Unmarshal([]byte(env.JsonData), &p); err != nil {
		t.Fatalf("jsonData not valid JSON: %v", err)
	}
	if p.Content != "Troll" {
		t.Errorf("content = %q, want Troll", p.Content)
	}
}

func TestWSTransport_ReconnectsAfterDrop(t *testing.T) {
	srv := newOverlayServer(t)
	tr := NewWSTransport(WithWSURL(srv.url()), WithRetryDelay(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)
	waitFor(t, tr.Ready, "transport never connected")

	srv.dropConns()
	waitFor(t, func() bool { return !tr.Ready() }, "drop never noticed")
	waitFor(t, tr.Ready, "transport never reconnected")

	if err := tr.Send(ctx, BuildPayload(KindLowTrust, "Nova")); err != nil {
		t.Fatalf("Send after reconnect: %v", err)
	}
}

func TestWSTransport_SendFailsWhileDisconnected(t *testing.T) {
	tr := NewWSTransport(WithWSURL("ws://127.0.0.1:1/"))
	if tr.Ready() {
		t.Error("unstarted transport must not report ready")
	}
	if err := tr.Send(context.Background(), BuildPayload(KindLowTrust, "Nova")); err == nil {
		t.Error("Send must fail while disconnected")
	}
}

func TestUDPTransport_FiresDatagram(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()

	tr := NewUDPTransport(WithUDPAddr(pc.LocalAddr().String()))
	defer tr.Close()

	if !tr.Ready() {
		t.Fatal("udp transport must always be ready")
	}
	if err := tr.Send(context.Background(), BuildPayload(KindLowTrust, "Nova")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read datagram: %v", err)
	}
	var p Payload
	if err := json.Unmarshal(buf[:n], &p); err != nil {
		t.Fatalf("datagram not valid JSON: %v", err)
	}
	if p.Content != "Nova" || p.MessageType != 1 {
		t.Errorf("payload = %+v", p)
	}
}
