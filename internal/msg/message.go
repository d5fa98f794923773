// Package msg defines the message record shared by PrivateRoom and
// GroupRoom message logs, and the timestamp-ordered log that holds them
// with bounded retention.
package msg

import (
	"sync"
	"time"

	"github.com/qls-chat/qls-server/internal/identity"
)

// Kind discriminates a normal chat message from a moderation tip.
type Kind int

const (
	Normal Kind = iota
	Tip
)

// Record is one stored chat message.
type Record struct {
	Sender identity.UserID
	Body   string
	Kind   Kind
	Target identity.UserID // only meaningful for unicast tips; zero otherwise
}

// Timestamp is milliseconds since epoch, strictly increasing within a Log.
type Timestamp int64

// Entry pairs a timestamp with its record, as returned by Log.Range.
type Entry struct {
	Timestamp Timestamp
	Record    Record
}

// Log is an ordered, timestamp-keyed message store with bounded retention.
// Collisions on the same millisecond are resolved by bumping the new
// timestamp forward one tick until it is unique, keeping the ordering
// within a room strictly increasing.
type Log struct {
	mu     sync.RWMutex
	byTime map[Timestamp]Record
	order  []Timestamp // kept sorted; append-only except during sweep
}

// NewLog builds an empty message log.
func NewLog() *Log {
	return &Log{byTime: make(map[Timestamp]Record)}
}

func nowMillis() Timestamp {
	return Timestamp(time.Now().UnixMilli())
}

// Insert stores rec at the current time, bumping forward on collision, and
// returns the timestamp it was actually stored at.
func (l *Log) Insert(rec Record) Timestamp {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := nowMillis()
	if len(l.order) > 0 && ts <= l.order[len(l.order)-1] {
		ts = l.order[len(l.order)-1] + 1
	}
	l.byTime[ts] = rec
	l.order = append(l.order, ts)
	return ts
}

// Range returns every entry with from <= ts <= to, inclusive, in
// ascending order. Returns an empty slice if from > to.
func (l *Log) Range(from, to Timestamp) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if from > to {
		return nil
	}
	var out []Entry
	for _, ts := range l.order {
		if ts < from {
			continue
		}
		if ts > to {
			break
		}
		out = append(out, Entry{Timestamp: ts, Record: l.byTime[ts]})
	}
	return out
}

// Prune deletes every entry with ts < cutoff. Intended to be called
// periodically by a room's retention sweep goroutine.
func (l *Log) Prune(cutoff Timestamp) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := 0
	for i < len(l.order) && l.order[i] < cutoff {
		delete(l.byTime, l.order[i])
		i++
	}
	l.order = l.order[i:]
}

// Len reports the number of stored messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}
