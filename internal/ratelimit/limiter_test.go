package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinPeerCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PeerCapacity = 5
	cfg.PeerRefill = 5
	l := New(cfg)
	defer l.Close()

	for i := 0; i < 5; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("expected connection %d to be allowed", i+1)
		}
	}
}

func TestAllowRejectsEleventhPerPeerBurst(t *testing.T) {
	cfg := DefaultConfig()
	l := New(cfg)
	defer l.Close()

	allowed := 0
	for i := 0; i < 11; i++ {
		if l.Allow("9.9.9.9") {
			allowed++
		}
	}
	if allowed > cfg.PeerCapacity {
		t.Fatalf("expected at most %d allowed, got %d", cfg.PeerCapacity, allowed)
	}
}

func TestSweepEvictsIdlePeers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	cfg.PeerIdleTTL = 5 * time.Millisecond
	l := New(cfg)
	defer l.Close()

	l.Allow("5.5.5.5")
	if l.PeerCount() != 1 {
		t.Fatalf("expected 1 tracked peer, got %d", l.PeerCount())
	}
	time.Sleep(40 * time.Millisecond)
	if l.PeerCount() != 0 {
		t.Fatalf("expected idle peer to be swept, got %d remaining", l.PeerCount())
	}
}

func TestDistinctPeersHaveIndependentBuckets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PeerCapacity = 1
	cfg.PeerRefill = 1
	l := New(cfg)
	defer l.Close()

	if !l.Allow("1.1.1.1") {
		t.Fatal("expected first peer allowed")
	}
	if !l.Allow("2.2.2.2") {
		t.Fatal("expected second distinct peer allowed despite first peer's bucket being drained")
	}
}
