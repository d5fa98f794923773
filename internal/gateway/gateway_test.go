package gateway

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/qls-chat/qls-server/internal/dispatch"
	"github.com/qls-chat/qls-server/internal/manager"
	"github.com/qls-chat/qls-server/internal/ratelimit"
	"github.com/qls-chat/qls-server/internal/wire"
)

func newTestHub(t *testing.T, cfg Config) (*Hub, net.Listener) {
	t.Helper()
	mgr := manager.New()
	disp := dispatch.New(mgr)
	limit := ratelimit.New(ratelimit.DefaultConfig())
	t.Cleanup(limit.Close)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	h := NewHub(mgr, disp, limit, cfg, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		ln.Close()
	})
	go h.Serve(ctx, ln)
	return h, ln
}

func dial(t *testing.T, ln net.Listener) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, conn net.Conn) wire.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var asm wire.Assembler
	buf := make([]byte, 4096)
	for !asm.CanRead() {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		asm.Write(buf[:n])
	}
	f, err := asm.Read()
	if err != nil {
		t.Fatalf("assemble frame: %v", err)
	}
	return f
}

func sendFrame(t *testing.T, conn net.Conn, f wire.Frame) {
	t.Helper()
	b, err := wire.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := conn.Write(b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestRegisterThenDispatchRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	_, ln := newTestHub(t, cfg)
	conn := dial(t, ln)
	defer conn.Close()

	body, _ := json.Marshal(dispatch.Request{Function: "register", Parameters: json.RawMessage(`{"email":"a@b.com","password":"hunter2"}`)})
	sendFrame(t, conn, wire.Frame{Type: wire.TypeText, RequestID: 7, Payload: body})

	f := readFrame(t, conn)
	if f.RequestID != 7 {
		t.Fatalf("expected echoed request id 7, got %d", f.RequestID)
	}
	var resp map[string]any
	if err := json.Unmarshal(f.Payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["user_id"] == nil {
		t.Fatalf("expected user_id in response, got %v", resp)
	}
}

func TestHeartbeatAcked(t *testing.T) {
	cfg := DefaultConfig()
	_, ln := newTestHub(t, cfg)
	conn := dial(t, ln)
	defer conn.Close()

	sendFrame(t, conn, wire.Frame{Type: wire.TypeHeartBeat, RequestID: 1})
	f := readFrame(t, conn)
	if f.Type != wire.TypeHeartBeat {
		t.Fatalf("expected heartbeat ack, got type %v", f.Type)
	}
}

func TestHeartbeatFloodClosesConnection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatLimit = 2
	cfg.HeartbeatWindow = time.Minute
	_, ln := newTestHub(t, cfg)
	conn := dial(t, ln)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		sendFrame(t, conn, wire.Frame{Type: wire.TypeHeartBeat, RequestID: int64(i)})
		readFrame(t, conn)
	}
	// third heartbeat inside the same window exceeds the limit and the
	// connection is torn down without an ack.
	sendFrame(t, conn, wire.Frame{Type: wire.TypeHeartBeat, RequestID: 3})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected connection to be closed after heartbeat flood")
	}
}

func TestHubShutdownClosesConnections(t *testing.T) {
	cfg := DefaultConfig()
	h, ln := newTestHub(t, cfg)
	conn := dial(t, ln)
	defer conn.Close()

	// give the accept loop a moment to register the connection.
	deadline := time.Now().Add(time.Second)
	for h.ConnCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.ConnCount() != 1 {
		t.Fatalf("expected 1 registered connection, got %d", h.ConnCount())
	}

	h.Shutdown()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected connection closed after hub shutdown")
	}
}
