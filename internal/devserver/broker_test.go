package devserver

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/live"
)

func TestBrokerSendEchoesToRoom(t *testing.T) {
	f := newFixture(t)
	tc := f.connect(t, trainer)
	mc := f.connect(t, member)
	subscribe(t, tc, f.room.ID)
	subscribe(t, mc, f.room.ID)

	out := chat.Outgoing{RoomID: f.room.ID, ReceiverID: trainer, Content: "안녕하세요", Type: chat.TypeText, UniqueID: "tmp-1"}
	write(t, mc, live.Frame{Type: live.FrameSend, RoomID: f.room.ID, Outgoing: &out})

	echo := next(t, mc, live.FrameMessage)
	got := next(t, tc, live.FrameMessage)
	for _, fr := range []live.Frame{echo, got} {
		m := fr.Message
		if m == nil || m.ID == 0 {
			t.Fatalf("frame without confirmed message: %+v", fr)
		}
		if m.ClientTempID != "tmp-1" || m.SenderID != member || m.ReceiverID != trainer || m.Content != "안녕하세요" {
			t.Errorf("message = %+v", m)
		}
	}

	// A retried send is echoed again with the stored id.
	write(t, mc, live.Frame{Type: live.FrameSend, RoomID: f.room.ID, Outgoing: &out})
	again := next(t, mc, live.FrameMessage)
	if again.Message.ID != echo.Message.ID {
		t.Errorf("retry id = %d, want %d", again.Message.ID, echo.Message.ID)
	}
	msgs, err := f.db.ListMessages(f.room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("stored %d messages, want 1", len(msgs))
	}
}

func TestBrokerMarkReadFansOut(t *testing.T) {
	f := newFixture(t)
	m, _, err := f.db.InsertMessage(chat.Message{RoomID: f.room.ID, SenderID: trainer, ReceiverID: member, Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	tc := f.connect(t, trainer)
	mc := f.connect(t, member)
	subscribe(t, tc, f.room.ID)
	subscribe(t, mc, f.room.ID)

	write(t, mc, live.Frame{Type: live.FrameMarkRead, RoomID: f.room.ID, MessageID: m.ID})
	r := next(t, tc, live.FrameRead)
	if r.MessageID != m.ID || r.ReadAt == nil {
		t.Errorf("read frame = %+v", r)
	}

	stored, err := f.db.GetMessage(m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ReadAt == nil || !stored.ReadAt.Equal(*r.ReadAt) {
		t.Errorf("stored read date = %v, frame = %v", stored.ReadAt, r.ReadAt)
	}
}

func TestBrokerSenderCannotMarkOwnMessage(t *testing.T) {
	f := newFixture(t)
	m, _, err := f.db.InsertMessage(chat.Message{RoomID: f.room.ID, SenderID: trainer, ReceiverID: member, Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	tc := f.connect(t, trainer)
	subscribe(t, tc, f.room.ID)
	write(t, tc, live.Frame{Type: live.FrameMarkRead, RoomID: f.room.ID, MessageID: m.ID})
	write(t, tc, live.Frame{Type: live.FramePing})
	next(t, tc, live.FramePong)

	stored, err := f.db.GetMessage(m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ReadAt != nil {
		t.Error("sender marked own message read")
	}
}

func TestBrokerRejects(t *testing.T) {
	f := newFixture(t)
	other, err := f.db.EnsureRoom(trainer, outsider)
	if err != nil {
		t.Fatal(err)
	}
	parent, _, err := f.db.InsertMessage(chat.Message{RoomID: other.ID, SenderID: trainer, ReceiverID: outsider, Content: "elsewhere"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		as    int64
		frame live.Frame
		want  string
	}{
		{"subscribe foreign room", outsider, live.Frame{Type: live.FrameSubscribe, RoomID: f.room.ID}, "access denied"},
		{"subscribe unknown room", member, live.Frame{Type: live.FrameSubscribe, RoomID: 999}, "room not found"},
		{"send to foreign room", outsider, live.Frame{Type: live.FrameSend, RoomID: f.room.ID,
			Outgoing: &chat.Outgoing{RoomID: f.room.ID, Content: "x", UniqueID: "a"}}, ""},
		{"reply across rooms", member, live.Frame{Type: live.FrameSend, RoomID: f.room.ID,
			Outgoing: &chat.Outgoing{RoomID: f.room.ID, Content: "x", ParentID: parent.ID, UniqueID: "b"}}, ""},
		{"send without payload", member, live.Frame{Type: live.FrameSend, RoomID: f.room.ID}, ""},
		{"unknown frame", member, live.Frame{Type: "typing"}, `unsupported frame "typing"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := f.connect(t, tt.as)
			write(t, c, tt.frame)
			fr := next(t, c, live.FrameError)
			if tt.want != "" && fr.Error != tt.want {
				t.Errorf("error = %q, want %q", fr.Error, tt.want)
			}
		})
	}

	msgs, err := f.db.ListMessages(f.room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("rejected sends stored %d messages", len(msgs))
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	f := newFixture(t)
	tc := f.connect(t, trainer)
	subscribe(t, tc, f.room.ID)
	write(t, tc, live.Frame{Type: live.FrameUnsubscribe, RoomID: f.room.ID})
	write(t, tc, live.Frame{Type: live.FramePing})
	next(t, tc, live.FramePong)

	if n := f.broker.FanOut(live.Frame{Type: live.FrameRead, RoomID: f.room.ID, MessageID: 1}); n != 0 {
		t.Errorf("FanOut() reached %d clients after unsubscribe", n)
	}
}

func TestBrokerCloseDisconnects(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, member)
	write(t, c, live.Frame{Type: live.FramePing})
	next(t, c, live.FramePong)
	if f.broker.Clients() != 1 {
		t.Fatalf("Clients() = %d, want 1", f.broker.Clients())
	}

	f.broker.Close()
	deadline := time.Now().Add(2 * time.Second)
	for f.broker.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client still registered after Close")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := f.broker.Serve(t.Context(), member, nil); !errors.Is(err, live.ErrClosed) {
		t.Errorf("Serve() after Close error = %v, want ErrClosed", err)
	}
}
