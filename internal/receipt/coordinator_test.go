package receipt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/msgstore"
)

const (
	me   = 2
	peer = 1
	room = 10
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeMarker struct {
	mu    sync.Mutex
	calls []int64
	fail  error
	sent  chan int64
}

func newFakeMarker() *fakeMarker {
	return &fakeMarker{sent: make(chan int64, 32)}
}

func (f *fakeMarker) MarkAsRead(_ context.Context, id, roomID int64) error {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	err := f.fail
	f.mu.Unlock()
	f.sent <- id
	return err
}

func (f *fakeMarker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func inbound(id int64, read bool) chat.Message {
	m := chat.Message{ID: id, RoomID: room, SenderID: peer, ReceiverID: me, SentAt: t0.Add(time.Duration(id) * time.Second)}
	if read {
		at := t0
		m.ReadAt = &at
	}
	return m
}

func waitSent(t *testing.T, f *fakeMarker) int64 {
	t.Helper()
	select {
	case id := <-f.sent:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for receipt")
		return 0
	}
}

func TestEmitInitialOnce(t *testing.T) {
	f := newFakeMarker()
	store := msgstore.New(nil)
	msgs := []chat.Message{
		inbound(1, false),
		inbound(2, true),
		{ID: 3, RoomID: room, SenderID: me, ReceiverID: peer, SentAt: t0.Add(3 * time.Second)},
		inbound(4, false),
	}
	store.Hydrate(msgs)
	c := New(context.Background(), me, room, f, store, Options{}, nil)
	defer c.Close()

	if n := c.EmitInitial(store.All()); n != 2 {
		t.Fatalf("EmitInitial() = %d, want 2", n)
	}
	got := map[int64]bool{waitSent(t, f): true, waitSent(t, f): true}
	if !got[1] || !got[4] {
		t.Errorf("receipts = %v, want 1 and 4", got)
	}
	c.Wait()

	if n := c.EmitInitial(store.All()); n != 0 {
		t.Errorf("second EmitInitial() = %d, want 0", n)
	}
	if !c.InitialDone() {
		t.Error("InitialDone() = false")
	}
	m, _ := store.Get(1)
	if !m.Read() {
		t.Error("local copy not marked read after receipt")
	}
}

func TestLiveMessageDebounced(t *testing.T) {
	f := newFakeMarker()
	c := New(context.Background(), me, room, f, msgstore.New(nil), Options{Debounce: 30 * time.Millisecond}, nil)
	defer c.Close()

	start := time.Now()
	if !c.OnLiveMessage(inbound(7, false)) {
		t.Fatal("OnLiveMessage() = false")
	}
	if c.OnLiveMessage(inbound(7, false)) {
		t.Error("duplicate delivery scheduled a second receipt")
	}
	if id := waitSent(t, f); id != 7 {
		t.Errorf("receipt for %d, want 7", id)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("receipt after %v, want >= 30ms", elapsed)
	}
}

func TestOwnAndReadMessagesSkipped(t *testing.T) {
	c := New(context.Background(), me, room, newFakeMarker(), msgstore.New(nil), Options{}, nil)
	defer c.Close()

	own := chat.Message{ID: 1, SenderID: me, ReceiverID: peer}
	if c.OnLiveMessage(own) {
		t.Error("receipt scheduled for own message")
	}
	if c.OnLiveMessage(inbound(2, true)) {
		t.Error("receipt scheduled for read message")
	}
	if c.OnLiveMessage(chat.Message{SenderID: peer, ClientTempID: "x"}) {
		t.Error("receipt scheduled for unconfirmed message")
	}
}

func TestEmitInitialThenLiveNoDuplicate(t *testing.T) {
	f := newFakeMarker()
	c := New(context.Background(), me, room, f, msgstore.New(nil), Options{Debounce: time.Millisecond}, nil)
	defer c.Close()

	c.EmitInitial([]chat.Message{inbound(1, false)})
	waitSent(t, f)
	if c.OnLiveMessage(inbound(1, false)) {
		t.Error("live redelivery emitted a second receipt")
	}
}

func TestFailureLoggedNotRetried(t *testing.T) {
	f := newFakeMarker()
	f.fail = errors.New("socket closed")
	errs := make(chan int64, 4)
	store := msgstore.New(nil)
	store.Hydrate([]chat.Message{inbound(1, false)})
	c := New(context.Background(), me, room, f, store, Options{
		Debounce: time.Millisecond,
		OnError:  func(id int64, err error) { errs <- id },
	}, nil)
	defer c.Close()

	c.OnLiveMessage(inbound(1, false))
	waitSent(t, f)
	select {
	case id := <-errs:
		if id != 1 {
			t.Errorf("OnError id = %d, want 1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("OnError not called")
	}
	c.Wait()
	if c.OnLiveMessage(inbound(1, false)) {
		t.Error("failed receipt was retried")
	}
	if f.count() != 1 {
		t.Errorf("calls = %d, want 1", f.count())
	}
	if m, _ := store.Get(1); m.Read() {
		t.Error("failed receipt marked message read")
	}
}

func TestReadEchoAppliesToStore(t *testing.T) {
	store := msgstore.New(nil)
	c := New(context.Background(), me, room, newFakeMarker(), store, Options{}, nil)
	defer c.Close()

	// Echo before the message exists is buffered by the store.
	c.OnReadEcho(chat.ReadReceipt{MessageID: 5, RoomID: room, ReadAt: t0})
	store.Merge(chat.Message{ID: 5, SenderID: me, ReceiverID: peer, SentAt: t0})

	m, _ := store.Get(5)
	if !m.Read() || !m.ReadAt.Equal(t0) {
		t.Errorf("ReadAt = %v, want %v", m.ReadAt, t0)
	}
}

func TestCloseStopsPendingTimers(t *testing.T) {
	f := newFakeMarker()
	c := New(context.Background(), me, room, f, msgstore.New(nil), Options{Debounce: 50 * time.Millisecond}, nil)

	c.OnLiveMessage(inbound(1, false))
	c.OnLiveMessage(inbound(2, false))
	c.Close()
	c.Wait()

	time.Sleep(80 * time.Millisecond)
	if n := f.count(); n != 0 {
		t.Errorf("receipts after Close = %d, want 0", n)
	}
	if c.OnLiveMessage(inbound(3, false)) {
		t.Error("OnLiveMessage after Close = true")
	}
}
