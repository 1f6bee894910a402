package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/live"
	"github.com/matheus3301/chatsync/internal/scroll"
)

// fakeBackend serves canned history and gated attachments.
type fakeBackend struct {
	mu          sync.Mutex
	me          int64
	history     []chat.Message
	historyErr  error
	historyGate chan struct{}
	attachGates map[int64]chan struct{}
	attachErrs  map[int64]error
	deleteErr   error
	reportErr   error
	deleted     []int64
	reports     map[int64]string
}

func newFakeBackend(history ...chat.Message) *fakeBackend {
	return &fakeBackend{
		me:          me,
		history:     history,
		attachGates: make(map[int64]chan struct{}),
		attachErrs:  make(map[int64]error),
		reports:     make(map[int64]string),
	}
}

func (f *fakeBackend) MemberInfo(context.Context) (int64, error) { return f.me, nil }

func (f *fakeBackend) FetchHistory(ctx context.Context, roomID int64) ([]chat.Message, error) {
	if f.historyGate != nil {
		<-f.historyGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return append([]chat.Message(nil), f.history...), nil
}

func (f *fakeBackend) gate(id int64) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.attachGates[id]
	if !ok {
		g = make(chan struct{})
		close(g)
		f.attachGates[id] = g
	}
	return g
}

// holdAttachment makes the fetch for id block until the returned func runs.
func (f *fakeBackend) holdAttachment(id int64) func() {
	g := make(chan struct{})
	f.mu.Lock()
	f.attachGates[id] = g
	f.mu.Unlock()
	return func() { close(g) }
}

func (f *fakeBackend) FetchAttachment(ctx context.Context, id int64) (chat.Attachment, error) {
	<-f.gate(id)
	f.mu.Lock()
	err := f.attachErrs[id]
	f.mu.Unlock()
	if err != nil {
		return chat.Attachment{}, err
	}
	return chat.Attachment{AttachmentID: id * 10, OriginalFilename: "photo.png", URL: "https://cdn/photo.png"}, nil
}

func (f *fakeBackend) DeleteMessage(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBackend) ReportMessage(ctx context.Context, id int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reportErr != nil {
		return f.reportErr
	}
	f.reports[id] = reason
	return nil
}

// fakeLive is a live.Channel whose events are injected by the test.
type fakeLive struct {
	mu         sync.Mutex
	handlers   map[int64]live.Handlers
	subscribed chan int64
	sent       chan chat.Outgoing
	reads      chan int64
	sendErr    error
}

func newFakeLive() *fakeLive {
	return &fakeLive{
		handlers:   make(map[int64]live.Handlers),
		subscribed: make(chan int64, 4),
		sent:       make(chan chat.Outgoing, 16),
		reads:      make(chan int64, 16),
	}
}

func (f *fakeLive) Connect(context.Context) error { return nil }
func (f *fakeLive) Connected() bool               { return true }
func (f *fakeLive) Close() error                  { return nil }

func (f *fakeLive) SubscribeToRoom(roomID int64, h live.Handlers) (func(), error) {
	f.mu.Lock()
	f.handlers[roomID] = h
	f.mu.Unlock()
	f.subscribed <- roomID
	return func() {
		f.mu.Lock()
		delete(f.handlers, roomID)
		f.mu.Unlock()
	}, nil
}

func (f *fakeLive) Send(_ context.Context, out chat.Outgoing) error {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.sent <- out
	return nil
}

func (f *fakeLive) MarkAsRead(_ context.Context, id, roomID int64) error {
	f.reads <- id
	return nil
}

func (f *fakeLive) subscribedTo(roomID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[roomID]
	return ok
}

func (f *fakeLive) deliver(m chat.Message) {
	f.mu.Lock()
	h := f.handlers[m.RoomID]
	f.mu.Unlock()
	if h.OnMessage != nil {
		h.OnMessage(m)
	}
}

func (f *fakeLive) deliverRead(r chat.ReadReceipt) {
	f.mu.Lock()
	h := f.handlers[r.RoomID]
	f.mu.Unlock()
	if h.OnReadReceipt != nil {
		h.OnReadReceipt(r)
	}
}

var errBoom = errors.New("boom")

var fastOptions = Options{
	Scroll: scroll.Options{
		Retry:        scroll.RetryPolicy{MaxAttempts: 10, Backoff: time.Millisecond},
		InitialDelay: time.Millisecond,
		SettleDelay:  time.Millisecond,
	},
	ReceiptDebounce:  time.Millisecond,
	InitialReadDelay: time.Millisecond,
	LiveImageDelay:   time.Millisecond,
	Location:         time.UTC,
}

type recordingObserver struct {
	mu       sync.Mutex
	opened   string
	closed   int
	merged   []string
	settled  []bool
	receipts int
	signals  []string
}

func (o *recordingObserver) SessionOpened(state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = state
}

func (o *recordingObserver) SessionClosed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
}

func (o *recordingObserver) MessageMerged(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.merged = append(o.merged, result)
}

func (o *recordingObserver) AttachmentSettled(ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settled = append(o.settled, ok)
}

func (o *recordingObserver) ReceiptFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.receipts++
}

func (o *recordingObserver) SignalRaised(sig string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.signals = append(o.signals, sig)
}
