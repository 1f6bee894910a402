package redislive

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/live"
)

func TestRoomTopic(t *testing.T) {
	if got := RoomTopic(42); got != "chat:room:42" {
		t.Errorf("RoomTopic(42) = %q", got)
	}
	tests := []struct {
		topic string
		id    int64
		ok    bool
	}{
		{"chat:room:42", 42, true},
		{"chat:room:x", 0, false},
		{"chat:inbound", 0, false},
	}
	for _, tt := range tests {
		id, ok := RoomFromTopic(tt.topic)
		if id != tt.id || ok != tt.ok {
			t.Errorf("RoomFromTopic(%q) = (%d, %v), want (%d, %v)", tt.topic, id, ok, tt.id, tt.ok)
		}
	}
}

// TestRoundTrip needs a running Redis; set CHATSYNC_TEST_REDIS_URL to run it.
func TestRoundTrip(t *testing.T) {
	url := os.Getenv("CHATSYNC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CHATSYNC_TEST_REDIS_URL not set")
	}
	client, err := NewClient(url)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inbound := client.Subscribe(ctx, InboundTopic)
	defer inbound.Close()
	if _, err := inbound.Receive(ctx); err != nil {
		t.Fatal(err)
	}

	d := &Dialer{Client: client, Token: "tok"}
	c, err := d.Dial(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.WriteFrame(ctx, live.Frame{Type: live.FrameSubscribe, RoomID: 9}); err != nil {
		t.Fatal(err)
	}
	if err := Publish(ctx, client, live.Frame{Type: live.FrameMessage, RoomID: 9, Message: &chat.Message{ID: 3, RoomID: 9}}); err != nil {
		t.Fatal(err)
	}
	f, err := c.ReadFrame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.Message == nil || f.Message.ID != 3 {
		t.Errorf("frame = %+v", f)
	}

	if err := c.WriteFrame(ctx, live.Frame{Type: live.FrameMarkRead, RoomID: 9, MessageID: 3}); err != nil {
		t.Fatal(err)
	}
	msg, err := inbound.ReceiveMessage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got, err := live.Decode([]byte(msg.Payload))
	if err != nil {
		t.Fatal(err)
	}
	if got.Token != "tok" || got.MessageID != 3 {
		t.Errorf("inbound frame = %+v", got)
	}
}
