package live

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

func TestDecodeWireFormat(t *testing.T) {
	raw := `{"type":"message","room_idx":4,"message":{"message_idx":9,"room_idx":4,"sender_idx":1,` +
		`"receiver_idx":2,"message_content":"hi","message_type":"text",` +
		`"message_senddate":"2025-03-01T09:00:00Z","unique_id":"u-1"}}`
	f, err := Decode([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != FrameMessage || f.RoomID != 4 {
		t.Errorf("frame = %+v", f)
	}
	m := f.Message
	if m == nil || m.ID != 9 || m.ClientTempID != "u-1" || m.Type != chat.TypeText {
		t.Fatalf("message = %+v", m)
	}
	if !m.SentAt.Equal(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("SentAt = %v", m.SentAt)
	}
}

func TestDecodeRejectsUntyped(t *testing.T) {
	if _, err := Decode([]byte(`{"room_idx":1}`)); err == nil {
		t.Error("Decode accepted a frame without type")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Error("Decode accepted invalid JSON")
	}
}

func TestEncodeOmitsLocalFields(t *testing.T) {
	b, err := Encode(Frame{Type: FrameMessage, Message: &chat.Message{ID: 1, Status: chat.StatusSending, Reported: true}})
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if strings.Contains(s, "sending") || strings.Contains(s, "Reported") {
		t.Errorf("local fields leaked: %s", s)
	}
}

func TestReceiptConversion(t *testing.T) {
	at := time.Unix(100, 0)
	r := Frame{Type: FrameRead, RoomID: 2, MessageID: 3, ReadAt: &at}.Receipt()
	if r.RoomID != 2 || r.MessageID != 3 || !r.ReadAt.Equal(at) {
		t.Errorf("Receipt() = %+v", r)
	}
	if r := (Frame{Type: FrameRead}).Receipt(); !r.ReadAt.IsZero() {
		t.Errorf("ReadAt = %v, want zero", r.ReadAt)
	}
}
