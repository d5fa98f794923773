package gateway

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qls-chat/qls-server/internal/session"
	"github.com/qls-chat/qls-server/internal/wire"
)

// Conn is one live connection: a read strand (run, via the hub's goroutine)
// and a write strand (writePump), talking over a buffered send channel so
// the read loop and the dispatcher never block on a slow peer.
type Conn struct {
	raw     net.Conn
	handle  uuid.UUID
	hub     *Hub
	session *session.Session

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	heartbeatMu    sync.Mutex
	heartbeatCount int
	heartbeatSince time.Time

	fanoutMu     sync.Mutex
	fanoutCancel context.CancelFunc
}

func newConn(raw net.Conn, h *Hub) *Conn {
	handle := uuid.New()
	c := &Conn{
		raw:    raw,
		handle: handle,
		hub:    h,
		send:   make(chan []byte, h.cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
	c.session = session.New(handle, h.mgr, c.Notify)
	return c
}

// run drives both strands for the connection's lifetime: it registers the
// connection with the Manager, starts the write strand, then reads frames
// until the connection is torn down.
func (c *Conn) run(ctx context.Context) {
	defer c.teardown()

	if err := c.session.Register(); err != nil {
		return
	}

	go c.writePump()
	c.readLoop(ctx)
}

func (c *Conn) readLoop(ctx context.Context) {
	var asm wire.Assembler
	buf := make([]byte, c.hub.cfg.MaxReadChunk)

	c.resetDeadline()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		n, err := c.raw.Read(buf)
		if err != nil {
			return
		}
		asm.Write(buf[:n])

		for asm.CanRead() {
			frame, err := asm.Read()
			if err != nil {
				// Framing errors terminate the connection per the error
				// taxonomy's propagation rule; there is no recovering mid-stream.
				return
			}
			c.resetDeadline()
			if !c.handleFrame(frame) {
				return
			}
			c.maybeStartFanout()
		}
	}
}

func (c *Conn) resetDeadline() {
	_ = c.raw.SetReadDeadline(time.Now().Add(c.hub.cfg.InactivityTimeout))
}

// handleFrame processes one assembled frame. Returns false if the
// connection should be torn down (heartbeat flood).
func (c *Conn) handleFrame(f wire.Frame) bool {
	if f.Type == wire.TypeHeartBeat {
		return c.handleHeartbeat(f)
	}
	resp := c.hub.disp.Dispatch(c.session, f.Payload)
	out, err := wire.Marshal(wire.Frame{Type: wire.TypeText, RequestID: f.RequestID, Payload: resp})
	if err != nil {
		return true
	}
	c.enqueue(out)
	return true
}

func (c *Conn) handleHeartbeat(f wire.Frame) bool {
	c.heartbeatMu.Lock()
	now := time.Now()
	if now.Sub(c.heartbeatSince) > c.hub.cfg.HeartbeatWindow {
		c.heartbeatSince = now
		c.heartbeatCount = 0
	}
	c.heartbeatCount++
	flood := c.heartbeatCount > c.hub.cfg.HeartbeatLimit
	c.heartbeatMu.Unlock()

	if flood {
		return false
	}
	ack, err := wire.Marshal(wire.Frame{Type: wire.TypeHeartBeat, RequestID: f.RequestID})
	if err == nil {
		c.enqueue(ack)
	}
	return true
}

// enqueue hands a marshaled frame to the write strand. If the buffer is
// full the peer is too slow to keep up and the connection is dropped
// rather than let backpressure stall the hub.
func (c *Conn) enqueue(frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		c.close()
	}
}

func (c *Conn) writePump() {
	for {
		select {
		case frame := <-c.send:
			if _, err := c.raw.Write(frame); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Notify satisfies the room.Notifier / user.connEntry.send contract used
// when binding this connection to a User: it wraps an already-encoded
// event payload in a Text frame, enqueues it on the write strand, and,
// when fan-out is enabled, publishes it so this user's connections on
// other instances receive it too.
func (c *Conn) Notify(payload []byte) {
	c.deliver(payload)
	if c.hub.fanoutPub == nil {
		return
	}
	if id, ok := c.session.UserID(); ok {
		go func() {
			if err := c.hub.fanoutPub.Publish(context.Background(), id, payload); err != nil {
				c.hub.log.Warn().Err(err).Msg("fanout publish failed")
			}
		}()
	}
}

// deliverRemote is handed to fanout.Subscriber.Watch: it writes a payload
// that originated on another instance straight to the wire, without
// re-publishing it (Notify's job), which would otherwise echo every event
// around an N-instance mesh indefinitely.
func (c *Conn) deliverRemote(payload []byte) { c.deliver(payload) }

func (c *Conn) deliver(payload []byte) {
	out, err := wire.Marshal(wire.Frame{Type: wire.TypeText, Payload: payload})
	if err != nil {
		return
	}
	c.enqueue(out)
}

// DeviceSend adapts Notify to the func([]byte) signature user.Attach wants.
func (c *Conn) DeviceSend() func([]byte) { return c.Notify }

// maybeStartFanout starts watching this connection's bound user's
// cross-instance channel the first time a frame is handled after login.
// A no-op once a watch is already running, or if fan-out isn't enabled.
func (c *Conn) maybeStartFanout() {
	if c.hub.fanoutSub == nil {
		return
	}
	id, ok := c.session.UserID()
	if !ok {
		return
	}
	c.fanoutMu.Lock()
	defer c.fanoutMu.Unlock()
	if c.fanoutCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.fanoutCancel = cancel
	go func() {
		if err := c.hub.fanoutSub.Watch(ctx, id, c.deliverRemote); err != nil {
			c.hub.log.Warn().Err(err).Msg("fanout watch terminated")
		}
	}()
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) teardown() {
	c.close()
	c.fanoutMu.Lock()
	if c.fanoutCancel != nil {
		c.fanoutCancel()
	}
	c.fanoutMu.Unlock()
	c.session.Logout()
	c.hub.unregister(c)
	_ = c.raw.Close()
}
