// Package ratelimit implements the dual token-bucket admission control used
// by the connection pipeline: one global bucket shared by every peer, and
// one per-peer bucket keyed by remote IP, swept periodically for idle
// entries.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config bounds the two token buckets and the sweep cadence.
type Config struct {
	GlobalCapacity int
	GlobalRefill   float64 // tokens/sec
	PeerCapacity   int
	PeerRefill     float64 // tokens/sec
	SweepInterval  time.Duration
	PeerIdleTTL    time.Duration
}

// DefaultConfig matches the protocol's normative defaults.
func DefaultConfig() Config {
	return Config{
		GlobalCapacity: 500,
		GlobalRefill:   500,
		PeerCapacity:   5,
		PeerRefill:     5,
		SweepInterval:  30 * time.Second,
		PeerIdleTTL:    1 * time.Minute,
	}
}

type peerBucket struct {
	limiter   *rate.Limiter
	lastTouch time.Time
}

// Limiter is the dual token-bucket gate. Zero value is not usable; build
// with New.
type Limiter struct {
	cfg    Config
	global *rate.Limiter

	mu    sync.Mutex
	peers map[string]*peerBucket

	stop chan struct{}
	once sync.Once
}

// New constructs a Limiter and starts its background sweep goroutine.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:    cfg,
		global: rate.NewLimiter(rate.Limit(cfg.GlobalRefill), cfg.GlobalCapacity),
		peers:  make(map[string]*peerBucket),
		stop:   make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Allow reports whether a connection attempt from ip should be admitted.
// It consumes one token from both the global and the per-peer bucket; if
// the per-peer bucket rejects, the global token is returned so a rejected
// peer cannot starve the shared budget.
func (l *Limiter) Allow(ip string) bool {
	if !l.global.Allow() {
		return false
	}
	peer := l.peerFor(ip)
	if !peer.limiter.Allow() {
		l.global.AllowN(time.Now(), -1) // refund
		return false
	}
	return true
}

func (l *Limiter) peerFor(ip string) *peerBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.peers[ip]
	if !ok {
		p = &peerBucket{limiter: rate.NewLimiter(rate.Limit(l.cfg.PeerRefill), l.cfg.PeerCapacity)}
		l.peers[ip] = p
	}
	p.lastTouch = time.Now()
	return p
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) sweep() {
	cutoff := time.Now().Add(-l.cfg.PeerIdleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, p := range l.peers {
		if p.lastTouch.Before(cutoff) {
			delete(l.peers, ip)
		}
	}
}

// PeerCount reports the number of tracked per-peer buckets, for metrics.
func (l *Limiter) PeerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}

// Close stops the background sweep goroutine.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}
