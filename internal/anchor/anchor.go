// Package anchor computes the "first unread" divider of a room session.
package anchor

import (
	"sync"

	"github.com/matheus3301/chatsync/internal/chat"
)

// ComputeInitial returns the id of the oldest message not sent by me and not
// yet read, ordered by (SentAt, ID). ok is false when everything is read.
func ComputeInitial(messages []chat.Message, me int64) (id int64, ok bool) {
	var best *chat.Message
	for i := range messages {
		m := &messages[i]
		if m.SenderID == me || m.ReadAt != nil || !m.Confirmed() {
			continue
		}
		if best == nil || chat.Less(m, best) {
			best = m
		}
	}
	if best == nil {
		return 0, false
	}
	return best.ID, true
}

// Lookup is the slice of the message store the tracker needs.
type Lookup interface {
	Get(id int64) (chat.Message, bool)
}

// Tracker holds the anchor for one session. Once locked, the value never
// changes.
type Tracker struct {
	mu     sync.RWMutex
	me     int64
	id     int64
	ok     bool
	locked bool
}

// NewTracker creates a tracker for the current user me.
func NewTracker(me int64) *Tracker {
	return &Tracker{me: me}
}

// Compute recomputes the anchor from messages unless the tracker is locked.
func (t *Tracker) Compute(messages []chat.Message) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.locked {
		t.id, t.ok = ComputeInitial(messages, t.me)
	}
	return t.id, t.ok
}

// Lock freezes the current value.
func (t *Tracker) Lock() {
	t.mu.Lock()
	t.locked = true
	t.mu.Unlock()
}

// Locked reports whether Lock has been called.
func (t *Tracker) Locked() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.locked
}

// Anchor returns the current anchor id.
func (t *Tracker) Anchor() (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.id, t.ok
}

// Renderable reports whether the anchored message is still in the store.
// A deleted anchor is not an error; the divider is simply not drawn.
func (t *Tracker) Renderable(store Lookup) bool {
	id, ok := t.Anchor()
	if !ok {
		return false
	}
	_, present := store.Get(id)
	return present
}
