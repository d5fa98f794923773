// Package privateroom implements the 2-party chat room (C7): a message
// log over a TextData room with bounded retention, matching the retention
// sweep in the original GroupRoom::auto_clean.
package privateroom

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/qls-chat/qls-server/internal/identity"
	"github.com/qls-chat/qls-server/internal/msg"
	"github.com/qls-chat/qls-server/internal/qlserrors"
	"github.com/qls-chat/qls-server/internal/room"
)

// DefaultRetention and DefaultSweepInterval are the normative
// retention defaults, exposed here as tunables per the Open Question on
// retention semantics.
const (
	DefaultRetention     = 7 * 24 * time.Hour
	DefaultSweepInterval = 10 * time.Minute
)

// Room is one private conversation between exactly two users.
type Room struct {
	id   identity.GroupID
	key  identity.PrivateRoomKey
	text *room.TextData
	log  *msg.Log

	retention   time.Duration
	sweepPeriod time.Duration
	stop        chan struct{}
	once        sync.Once

	aliveMu sync.RWMutex
	alive   bool
}

// New builds a private room for key, using lookup to resolve members'
// live Notifiers and starts its retention sweep goroutine with the
// default retention/sweep cadence.
func New(id identity.GroupID, key identity.PrivateRoomKey, lookup room.Lookup) *Room {
	return NewWithRetention(id, key, lookup, DefaultRetention, DefaultSweepInterval)
}

// NewWithRetention is New with an explicit retention window and sweep
// cadence, letting callers (and tests) tune or disable the sweep.
func NewWithRetention(id identity.GroupID, key identity.PrivateRoomKey, lookup room.Lookup, retention, sweepPeriod time.Duration) *Room {
	r := &Room{
		id:          id,
		key:         key,
		text:        room.NewTextData(lookup),
		log:         msg.NewLog(),
		retention:   retention,
		sweepPeriod: sweepPeriod,
		stop:        make(chan struct{}),
		alive:       true,
	}
	u1, u2 := key.Members()
	r.text.AddMember(u1)
	r.text.AddMember(u2)
	go r.sweepLoop()
	return r
}

// ID returns the room's GroupID-namespaced identifier.
func (r *Room) ID() identity.GroupID { return r.id }

// Members returns the two participants.
func (r *Room) Members() (identity.UserID, identity.UserID) {
	return r.key.Members()
}

// IsAlive reports whether the room has not been removed.
func (r *Room) IsAlive() bool {
	r.aliveMu.RLock()
	defer r.aliveMu.RUnlock()
	return r.alive
}

// isMember reports whether u is one of the two participants.
func (r *Room) isMember(u identity.UserID) bool {
	a, b := r.key.Members()
	return u == a || u == b
}

type privateMessageEvent struct {
	Type string `json:"type"`
	Data struct {
		UserID  int64  `json:"user_id"`
		Message string `json:"message"`
	} `json:"data"`
}

// SendMessage appends a Normal message from sender and fans it out as a
// private_message event. Sends from a non-member are silently dropped, and
// any send after the room has been removed fails with
// ErrPrivateRoomUnableToUse.
func (r *Room) SendMessage(sender identity.UserID, body string) error {
	if !r.IsAlive() {
		return qlserrors.ErrPrivateRoomUnableToUse
	}
	if !r.isMember(sender) {
		return nil
	}
	r.log.Insert(msg.Record{Sender: sender, Body: body, Kind: msg.Normal})

	ev := privateMessageEvent{Type: "private_message"}
	ev.Data.UserID = int64(sender)
	ev.Data.Message = body
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	a, b := r.key.Members()
	recipient := a
	if sender == a {
		recipient = b
	}
	r.text.SendOneJSON(payload, recipient)
	return nil
}

// SendTip appends a Tip message and fans it out to both participants as a
// private_tip_message event; SendMessage, by contrast, notifies only the
// recipient.
func (r *Room) SendTip(sender identity.UserID, body string) error {
	if !r.IsAlive() {
		return qlserrors.ErrPrivateRoomUnableToUse
	}
	if !r.isMember(sender) {
		return nil
	}
	r.log.Insert(msg.Record{Sender: sender, Body: body, Kind: msg.Tip})

	ev := privateMessageEvent{Type: "private_tip_message"}
	ev.Data.UserID = int64(sender)
	ev.Data.Message = body
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	r.text.SendAllJSON(payload)
	return nil
}

// GetMessages returns every stored message with timestamp in [from, to].
func (r *Room) GetMessages(from, to msg.Timestamp) []msg.Entry {
	return r.log.Range(from, to)
}

// RemoveRoom marks the room unusable. Idempotent; stops the retention
// sweep goroutine.
func (r *Room) RemoveRoom() {
	r.aliveMu.Lock()
	r.alive = false
	r.aliveMu.Unlock()
	r.once.Do(func() { close(r.stop) })
}

func (r *Room) sweepLoop() {
	ticker := time.NewTicker(r.sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := msg.Timestamp(time.Now().Add(-r.retention).UnixMilli())
			r.log.Prune(cutoff)
		case <-r.stop:
			return
		}
	}
}
