package chat

import (
	"strings"
	"time"
)

// MessageType identifies how Content is interpreted.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
)

// SendStatus tracks an optimistic send that has not been echoed yet.
// Server copies carry the empty status.
type SendStatus string

const (
	StatusSending SendStatus = "sending"
	StatusSent    SendStatus = "sent"
	StatusFailed  SendStatus = "failed"
)

// ImagePlaceholder is the content the backend stores for image messages
// sent without a caption.
const ImagePlaceholder = "[이미지]"

// Message is a single chat message in a room.
type Message struct {
	ID           int64       `json:"message_idx"`
	RoomID       int64       `json:"room_idx"`
	SenderID     int64       `json:"sender_idx"`
	ReceiverID   int64       `json:"receiver_idx"`
	Content      string      `json:"message_content"`
	Type         MessageType `json:"message_type"`
	SentAt       time.Time   `json:"message_senddate"`
	ReadAt       *time.Time  `json:"message_readdate,omitempty"`
	ParentID     int64       `json:"parent_idx,omitempty"`
	AttachmentID int64       `json:"attach_idx,omitempty"`
	ClientTempID string      `json:"unique_id,omitempty"`

	Status   SendStatus `json:"-"`
	Reported bool       `json:"-"`
}

// Confirmed reports whether the backend has assigned an id.
func (m *Message) Confirmed() bool {
	return m.ID != 0
}

// Read reports whether the receiver has read the message.
func (m *Message) Read() bool {
	return m.ReadAt != nil
}

// IsImage reports whether the message carries an image.
func (m *Message) IsImage() bool {
	return m.Type == TypeImage
}

// HasAttachment reports whether an attachment reference has been assigned.
func (m *Message) HasAttachment() bool {
	return m.AttachmentID > 0
}

// Caption returns the user-visible text of an image message, or "" when
// only the placeholder was stored.
func (m *Message) Caption() string {
	c := strings.TrimSpace(m.Content)
	if c == ImagePlaceholder {
		return ""
	}
	return c
}

// Less orders messages by (SentAt, ID). Unconfirmed messages with equal keys
// fall back to ClientTempID so the order is total.
func Less(a, b *Message) bool {
	if !a.SentAt.Equal(b.SentAt) {
		return a.SentAt.Before(b.SentAt)
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.ClientTempID < b.ClientTempID
}

// Compare is Less in the three-way form expected by slices.SortFunc.
func Compare(a, b Message) int {
	switch {
	case Less(&a, &b):
		return -1
	case Less(&b, &a):
		return 1
	default:
		return 0
	}
}

// ReadReceipt is a read confirmation for a single message.
type ReadReceipt struct {
	MessageID int64     `json:"message_idx"`
	RoomID    int64     `json:"room_idx"`
	ReadAt    time.Time `json:"read_at"`
}

// Outgoing is the payload of a send on the live channel.
type Outgoing struct {
	RoomID     int64       `json:"room_idx"`
	ReceiverID int64       `json:"receiver_idx"`
	Content    string      `json:"message_content"`
	Type       MessageType `json:"message_type"`
	ParentID   int64       `json:"parent_idx,omitempty"`
	UniqueID   string      `json:"unique_id"`
}
