package msgstore

import (
	"maps"

	"github.com/matheus3301/chatsync/internal/chat"
)

// MarkAttachmentPending records that an attachment fetch for id is in
// flight. Resolved entries are left alone.
func (s *Store) MarkAttachmentPending(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.indexOf(id) < 0 {
		return false
	}
	if e, ok := s.attachments[id]; ok && e.State == chat.AttachmentResolved {
		return false
	}
	s.attachments[id] = chat.AttachmentEntry{State: chat.AttachmentPending}
	return true
}

// SetAttachment stores resolved metadata for message id.
func (s *Store) SetAttachment(id int64, a chat.Attachment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}
	a.MessageID = id
	if s.msgs[idx].AttachmentID == 0 {
		s.msgs[idx].AttachmentID = a.AttachmentID
	}
	s.attachments[id] = chat.AttachmentEntry{State: chat.AttachmentResolved, Attachment: &a}
	return true
}

// SetAttachmentFailed leaves message id with a permanent unresolved marker.
func (s *Store) SetAttachmentFailed(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.indexOf(id) < 0 {
		return false
	}
	if e, ok := s.attachments[id]; ok && e.State == chat.AttachmentResolved {
		return false
	}
	s.attachments[id] = chat.AttachmentEntry{State: chat.AttachmentFailed}
	return true
}

// Attachment returns the attachment state of message id.
func (s *Store) Attachment(id int64) (chat.AttachmentEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.attachments[id]
	return e, ok
}

// Attachments returns a copy of every attachment entry keyed by message id.
func (s *Store) Attachments() map[int64]chat.AttachmentEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.attachments)
}

// PendingAttachments counts entries still in flight.
func (s *Store) PendingAttachments() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.attachments {
		if e.State == chat.AttachmentPending {
			n++
		}
	}
	return n
}
