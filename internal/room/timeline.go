package room

import (
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/status"
)

// Snapshot is a point-in-time copy of the session state. Its fields are read
// one after another, so a concurrent merge may land between them.
type Snapshot struct {
	RoomID           int64
	Me               int64
	Peer             int64
	State            status.State
	Messages         []chat.Message
	AnchorID         int64
	HasAnchor        bool
	AnchorRenderable bool
	Attachments      map[int64]chat.AttachmentEntry
	HistoryErr       error
	Connected        bool
}

// Snapshot returns the current messages and derived state.
func (s *Session) Snapshot() Snapshot {
	id, ok := s.tracker.Anchor()
	return Snapshot{
		RoomID:           s.roomID,
		Me:               s.me,
		Peer:             s.Peer(),
		State:            s.machine.Current(),
		Messages:         s.store.All(),
		AnchorID:         id,
		HasAnchor:        ok,
		AnchorRenderable: s.tracker.Renderable(s.store),
		Attachments:      s.store.Attachments(),
		HistoryErr:       s.HistoryErr(),
		Connected:        s.live.Connected(),
	}
}

// Timeline renders the current snapshot into display rows.
func (s *Session) Timeline() []Row {
	return BuildTimeline(s.Snapshot(), s.opts.Location)
}

// RowKind distinguishes timeline rows.
type RowKind int

const (
	RowDate RowKind = iota
	RowUnread
	RowMessage
)

const (
	LabelRead        = "읽음"
	LabelUnread      = "읽지 않음"
	LabelSending     = "전송 중"
	LabelFailed      = "전송 실패"
	imageReplyPrefix = "📷 "
	imageReplyText   = "📷 이미지"
)

// Reply is the quoted parent shown above a reply.
type Reply struct {
	MessageID int64
	SenderID  int64
	Text      string
	// Missing is set when the parent is no longer in the room.
	Missing bool
}

// Row is one line of the rendered room.
type Row struct {
	Kind RowKind
	// Date is the local day of a RowDate row.
	Date time.Time

	Message    chat.Message
	Attachment chat.AttachmentEntry
	Mine       bool
	// FirstInGroup rows show the sender; LastInGroup rows show the time.
	FirstInGroup bool
	LastInGroup  bool
	Reply        *Reply
	// StatusLabel is only set on the current member's messages.
	StatusLabel string
}

// BuildTimeline lays out snap as rows: a date row whenever the local day
// changes, an unread divider before the frozen anchor, and messages grouped
// by sender within the same minute.
func BuildTimeline(snap Snapshot, loc *time.Location) []Row {
	if loc == nil {
		loc = time.Local
	}
	msgs := snap.Messages
	byID := make(map[int64]*chat.Message, len(msgs))
	for i := range msgs {
		if msgs[i].ID != 0 {
			byID[msgs[i].ID] = &msgs[i]
		}
	}

	rows := make([]Row, 0, len(msgs)+4)
	for i := range msgs {
		m := msgs[i]
		var prev, next *chat.Message
		if i > 0 {
			prev = &msgs[i-1]
		}
		if i < len(msgs)-1 {
			next = &msgs[i+1]
		}

		if prev == nil || !sameDay(prev.SentAt, m.SentAt, loc) {
			y, mo, d := m.SentAt.In(loc).Date()
			rows = append(rows, Row{Kind: RowDate, Date: time.Date(y, mo, d, 0, 0, 0, 0, loc)})
		}
		if snap.AnchorRenderable && m.ID == snap.AnchorID {
			rows = append(rows, Row{Kind: RowUnread})
		}

		row := Row{
			Kind:         RowMessage,
			Message:      m,
			Attachment:   snap.Attachments[m.ID],
			Mine:         m.SenderID == snap.Me,
			FirstInGroup: prev == nil || !sameGroup(prev, &m, loc),
			LastInGroup:  next == nil || !sameGroup(&m, next, loc),
		}
		if m.ParentID != 0 {
			row.Reply = replyFor(m.ParentID, byID, snap.Attachments)
		}
		if row.Mine {
			row.StatusLabel = statusLabel(&m)
		}
		rows = append(rows, row)
	}
	return rows
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

func sameGroup(a, b *chat.Message, loc *time.Location) bool {
	if a.SenderID != b.SenderID {
		return false
	}
	return a.SentAt.In(loc).Truncate(time.Minute).Equal(b.SentAt.In(loc).Truncate(time.Minute))
}

func statusLabel(m *chat.Message) string {
	switch {
	case m.Status == chat.StatusFailed:
		return LabelFailed
	case !m.Confirmed():
		return LabelSending
	case m.Read():
		return LabelRead
	default:
		return LabelUnread
	}
}

// ReplyPreview returns the quoted text for parent: the attachment file name
// for images when known, then the caption, then a generic image label.
func ReplyPreview(parent *chat.Message, a chat.AttachmentEntry) string {
	if !parent.IsImage() {
		return parent.Content
	}
	if a.Attachment != nil && a.Attachment.OriginalFilename != "" {
		return imageReplyPrefix + a.Attachment.OriginalFilename
	}
	if c := parent.Caption(); c != "" {
		return c
	}
	return imageReplyText
}

func replyFor(parentID int64, byID map[int64]*chat.Message, atts map[int64]chat.AttachmentEntry) *Reply {
	p, ok := byID[parentID]
	if !ok {
		return &Reply{MessageID: parentID, Missing: true}
	}
	return &Reply{
		MessageID: parentID,
		SenderID:  p.SenderID,
		Text:      ReplyPreview(p, atts[parentID]),
	}
}
