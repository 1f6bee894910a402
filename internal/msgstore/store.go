// Package msgstore holds the ordered, deduplicated message list of one room.
package msgstore

import (
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/chat"
)

// MergeResult describes what Merge did with an incoming message.
type MergeResult int

const (
	Ignored MergeResult = iota
	Inserted
	Replaced
	Reconciled
)

func (r MergeResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Reconciled:
		return "reconciled"
	default:
		return "ignored"
	}
}

// Store is safe for concurrent use. Messages are kept sorted by
// (SentAt, ID) and there is at most one entry per confirmed ID.
type Store struct {
	mu          sync.RWMutex
	msgs        []chat.Message
	attachments map[int64]chat.AttachmentEntry
	// Receipts that arrived before their message.
	pendingReads map[int64]time.Time
	closed       bool
	log          *zap.Logger
}

// New creates an empty store.
func New(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		attachments:  make(map[int64]chat.AttachmentEntry),
		pendingReads: make(map[int64]time.Time),
		log:          log,
	}
}

// Hydrate replaces the contents with history. Duplicate ids collapse to the
// last occurrence. Buffered receipts for messages now present are applied.
func (s *Store) Hydrate(history []chat.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}

	byID := make(map[int64]int, len(history))
	msgs := make([]chat.Message, 0, len(history))
	for _, m := range history {
		if m.ID != 0 {
			if i, ok := byID[m.ID]; ok {
				msgs[i] = m
				continue
			}
			byID[m.ID] = len(msgs)
		}
		msgs = append(msgs, m)
	}
	slices.SortStableFunc(msgs, chat.Compare)
	s.msgs = msgs

	for id := range s.attachments {
		if _, ok := byID[id]; !ok {
			delete(s.attachments, id)
		}
	}
	for i := range s.msgs {
		s.applyPendingRead(i)
	}
	s.log.Debug("store hydrated", zap.Int("messages", len(s.msgs)))
	return len(s.msgs)
}

// Reset empties the store without closing it.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.msgs = nil
	clear(s.attachments)
}

// Merge inserts or updates m. A confirmed message replaces the entry with
// the same ID; otherwise an unconfirmed entry with the same ClientTempID is
// reconciled in place. Local ReadAt and Reported are never cleared.
func (s *Store) Merge(m chat.Message) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Ignored
	}

	result := Inserted
	idx := -1
	if m.ID != 0 {
		idx = s.indexOf(m.ID)
		if idx >= 0 {
			result = Replaced
		}
	}
	if idx < 0 && m.ClientTempID != "" {
		if i := s.indexOfTemp(m.ClientTempID); i >= 0 {
			switch {
			case !s.msgs[i].Confirmed() && m.ID != 0:
				idx, result = i, Reconciled
			case !s.msgs[i].Confirmed():
				idx, result = i, Replaced
			case m.ID == 0:
				// Echo already applied; a late optimistic copy adds nothing.
				return Ignored
			}
		}
	}

	if idx < 0 {
		idx = s.insertSorted(m)
	} else {
		s.msgs[idx] = fold(s.msgs[idx], m)
		idx = s.fixPosition(idx)
	}
	s.applyPendingRead(idx)
	return result
}

// fold overlays incoming onto existing without losing local state.
func fold(existing, incoming chat.Message) chat.Message {
	if incoming.ReadAt == nil {
		incoming.ReadAt = existing.ReadAt
	}
	incoming.Reported = incoming.Reported || existing.Reported
	if incoming.ClientTempID == "" {
		incoming.ClientTempID = existing.ClientTempID
	}
	if incoming.AttachmentID == 0 {
		incoming.AttachmentID = existing.AttachmentID
	}
	switch {
	case incoming.Status != "":
	case incoming.ID != 0 && existing.Status != "":
		incoming.Status = chat.StatusSent
	default:
		incoming.Status = existing.Status
	}
	return incoming
}

// insertSorted places m at its ordered position and returns the index.
func (s *Store) insertSorted(m chat.Message) int {
	i, _ := slices.BinarySearchFunc(s.msgs, m, chat.Compare)
	s.msgs = slices.Insert(s.msgs, i, m)
	return i
}

// fixPosition keeps the entry at idx where it is unless its key now crosses
// a neighbour, in which case it is moved to its ordered position.
func (s *Store) fixPosition(idx int) int {
	m := s.msgs[idx]
	okLeft := idx == 0 || !chat.Less(&m, &s.msgs[idx-1])
	okRight := idx == len(s.msgs)-1 || !chat.Less(&s.msgs[idx+1], &m)
	if okLeft && okRight {
		return idx
	}
	s.msgs = slices.Delete(s.msgs, idx, idx+1)
	return s.insertSorted(m)
}

func (s *Store) indexOf(id int64) int {
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) indexOfTemp(tempID string) int {
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].ClientTempID == tempID {
			return i
		}
	}
	return -1
}

func (s *Store) applyPendingRead(idx int) {
	m := &s.msgs[idx]
	if m.ID == 0 {
		return
	}
	at, ok := s.pendingReads[m.ID]
	if !ok {
		return
	}
	delete(s.pendingReads, m.ID)
	if m.ReadAt == nil {
		m.ReadAt = &at
	}
}

// MarkRead sets ReadAt on message id if it is unset and reports whether the
// store changed. A receipt for an absent message is buffered and applied when
// the message arrives.
func (s *Store) MarkRead(id int64, readAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || id == 0 {
		return false
	}
	idx := s.indexOf(id)
	if idx < 0 {
		if _, ok := s.pendingReads[id]; !ok {
			s.pendingReads[id] = readAt
			s.log.Debug("buffered read receipt", zap.Int64("message_idx", id))
		}
		return false
	}
	if s.msgs[idx].ReadAt != nil {
		return false
	}
	s.msgs[idx].ReadAt = &readAt
	return true
}

// Remove deletes message id.
func (s *Store) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}
	s.msgs = slices.Delete(s.msgs, idx, idx+1)
	delete(s.attachments, id)
	return true
}

// All returns a copy of the ordered messages.
func (s *Store) All() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.msgs)
}

// Get returns the message with the given id.
func (s *Store) Get(id int64) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return chat.Message{}, false
	}
	return s.msgs[idx], true
}

// GetByTempID returns the message carrying the given client id.
func (s *Store) GetByTempID(tempID string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexOfTemp(tempID)
	if idx < 0 {
		return chat.Message{}, false
	}
	return s.msgs[idx], true
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// SetSendStatus updates the send status of the optimistic entry tempID.
// A confirmed message never goes back to failed.
func (s *Store) SetSendStatus(tempID string, status chat.SendStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || tempID == "" {
		return false
	}
	idx := s.indexOfTemp(tempID)
	if idx < 0 {
		return false
	}
	m := &s.msgs[idx]
	if m.Confirmed() && status == chat.StatusFailed {
		return false
	}
	if m.Status == status {
		return false
	}
	m.Status = status
	return true
}

// Flag marks message id as reported by the current user.
func (s *Store) Flag(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	idx := s.indexOf(id)
	if idx < 0 || s.msgs[idx].Reported {
		return false
	}
	s.msgs[idx].Reported = true
	return true
}

// Close turns every later mutation into a no-op.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Search returns messages whose content or resolved attachment filename
// contains query, case-insensitively, in store order.
func (s *Store) Search(query string) []chat.Message {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []chat.Message
	for _, m := range s.msgs {
		if strings.Contains(strings.ToLower(m.Caption()), q) {
			out = append(out, m)
			continue
		}
		if e, ok := s.attachments[m.ID]; ok && e.Attachment != nil &&
			strings.Contains(strings.ToLower(e.Attachment.OriginalFilename), q) {
			out = append(out, m)
		}
	}
	return out
}
