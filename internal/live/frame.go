package live

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

// FrameType names a push-channel frame.
type FrameType string

const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FrameMessage     FrameType = "message"
	FrameRead        FrameType = "read"
	FrameSend        FrameType = "send"
	FrameMarkRead    FrameType = "mark_read"
	FrameError       FrameType = "error"
	FramePing        FrameType = "ping"
	FramePong        FrameType = "pong"
)

// Frame is the JSON envelope exchanged on every transport.
type Frame struct {
	Type      FrameType      `json:"type"`
	RoomID    int64          `json:"room_idx,omitempty"`
	Message   *chat.Message  `json:"message,omitempty"`
	Outgoing  *chat.Outgoing `json:"outgoing,omitempty"`
	MessageID int64          `json:"message_idx,omitempty"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	Token     string         `json:"token,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Encode marshals f.
func Encode(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return b, nil
}

// Decode unmarshals a frame and rejects frames without a type.
func Decode(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}

// Receipt converts a read frame.
func (f Frame) Receipt() chat.ReadReceipt {
	r := chat.ReadReceipt{MessageID: f.MessageID, RoomID: f.RoomID}
	if f.ReadAt != nil {
		r.ReadAt = *f.ReadAt
	}
	return r
}
