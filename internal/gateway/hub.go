// Package gateway implements the connection pipeline (C2): TLS-wrapped TCP
// accept loop, per-connection rate-limit gate, Manager registration, and
// the read/write strands that carry the frame codec's wire.Frame traffic
// to and from the request dispatcher.
//
// The Hub/Conn split below (a central registry plus one goroutine pair
// per connection, communicating over a buffered send channel so a slow
// reader can't block the registry) is generalized from WebSocket framing
// to this protocol's length-prefixed binary frames.
package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qls-chat/qls-server/internal/dispatch"
	"github.com/qls-chat/qls-server/internal/fanout"
	"github.com/qls-chat/qls-server/internal/qlserrors"
	"github.com/qls-chat/qls-server/internal/ratelimit"
)

// Config bounds the per-connection protocol limits.
type Config struct {
	MaxReadChunk      int // bytes read per syscall, before assembling
	HeartbeatLimit    int // max HeartBeat frames per HeartbeatWindow
	HeartbeatWindow   time.Duration
	InactivityTimeout time.Duration // connection dropped if no frame arrives within this
	SendBufferSize    int           // buffered frames per connection before backpressure closes it
}

// DefaultConfig matches the connection pipeline's normative limits.
func DefaultConfig() Config {
	return Config{
		MaxReadChunk:      8 * 1024,
		HeartbeatLimit:    10,
		HeartbeatWindow:   10 * time.Second,
		InactivityTimeout: 60 * time.Second,
		SendBufferSize:    256,
	}
}

// Hub is the connection registry: it accepts connections, gates them
// through the rate limiter, and owns every live Conn's handle.
type Hub struct {
	mgr   dispatch.Manager
	disp  *dispatch.Dispatcher
	limit *ratelimit.Limiter
	cfg   Config
	log   zerolog.Logger

	connMu sync.RWMutex
	conns  map[uuid.UUID]*Conn

	fanoutPub *fanout.Publisher
	fanoutSub *fanout.Subscriber
}

// EnableFanout wires cross-instance delivery: every Notify to a bound
// connection is published to pub, and every connection watches sub for
// events originating on another instance. Call before Serve; nil disables
// fan-out (the default), which is what every Hub in this package's own
// tests runs with.
func (h *Hub) EnableFanout(pub *fanout.Publisher, sub *fanout.Subscriber) {
	h.fanoutPub = pub
	h.fanoutSub = sub
}

// NewHub builds a Hub. mgr is also the Manager the dispatcher was built
// against; session registration goes through the same instance.
func NewHub(mgr dispatch.Manager, disp *dispatch.Dispatcher, limit *ratelimit.Limiter, cfg Config, logger zerolog.Logger) *Hub {
	return &Hub{
		mgr:   mgr,
		disp:  disp,
		limit: limit,
		cfg:   cfg,
		log:   logger.With().Str("component", "gateway").Logger(),
		conns: make(map[uuid.UUID]*Conn),
	}
}

// NewTLSListener wraps inner with TLS termination using tlsCfg. Returns
// ErrNullTLSContext if tlsCfg is nil, matching the original source's
// rejection of a null SSL context at acceptor construction.
func NewTLSListener(inner net.Listener, tlsCfg *tls.Config) (net.Listener, error) {
	if tlsCfg == nil {
		return nil, qlserrors.ErrNullTLSContext
	}
	return tls.NewListener(inner, tlsCfg), nil
}

// Serve runs the accept loop until ctx is cancelled or ln.Accept fails
// permanently. Each accepted connection is gated by the rate limiter before
// a Conn is spun up for it.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept connection: %w", err)
			}
		}

		ip := peerIP(raw)
		if !h.limit.Allow(ip) {
			h.log.Debug().Str("ip", ip).Msg("connection rejected by rate limiter")
			_ = raw.Close()
			continue
		}

		c := newConn(raw, h)
		h.register(c)
		go c.run(ctx)
	}
}

func peerIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

func (h *Hub) register(c *Conn) {
	h.connMu.Lock()
	h.conns[c.handle] = c
	h.connMu.Unlock()
}

func (h *Hub) unregister(c *Conn) {
	h.connMu.Lock()
	delete(h.conns, c.handle)
	h.connMu.Unlock()
}

// ConnCount reports the number of live connections, for metrics.
func (h *Hub) ConnCount() int {
	h.connMu.RLock()
	defer h.connMu.RUnlock()
	return len(h.conns)
}

// Shutdown closes every live connection.
func (h *Hub) Shutdown() {
	h.connMu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.connMu.RUnlock()
	for _, c := range conns {
		c.close()
	}
}
