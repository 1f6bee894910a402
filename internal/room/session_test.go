package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/msgstore"
	"github.com/matheus3301/chatsync/internal/scroll"
	"github.com/matheus3301/chatsync/internal/status"
)

const (
	me     int64 = 7
	peer   int64 = 9
	roomID int64 = 100
)

var base = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func inbound(id int64, minute int) chat.Message {
	return chat.Message{
		ID:         id,
		RoomID:     roomID,
		SenderID:   peer,
		ReceiverID: me,
		Content:    "hello",
		Type:       chat.TypeText,
		SentAt:     base.Add(time.Duration(minute) * time.Minute),
	}
}

func outbound(id int64, minute int) chat.Message {
	m := inbound(id, minute)
	m.SenderID, m.ReceiverID = me, peer
	return m
}

func image(m chat.Message, attachID int64) chat.Message {
	m.Type = chat.TypeImage
	m.Content = chat.ImagePlaceholder
	m.AttachmentID = attachID
	return m
}

func openTest(t *testing.T, b *fakeBackend, l *fakeLive, extra func(*Params)) *Session {
	t.Helper()
	p := Params{
		RoomID:  roomID,
		Me:      me,
		Backend: b,
		Live:    l,
		Options: fastOptions,
	}
	if extra != nil {
		extra(&p)
	}
	s, err := Open(context.Background(), p)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		s.Wait()
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestOpenHydratesAndLocksAnchor(t *testing.T) {
	b := newFakeBackend(inbound(2, 1), inbound(1, 0), outbound(3, 2))
	l := newFakeLive()
	s := openTest(t, b, l, nil)

	if s.State() != status.Live {
		t.Fatalf("state = %s, want LIVE", s.State())
	}
	if s.Peer() != peer {
		t.Errorf("peer = %d, want %d", s.Peer(), peer)
	}
	snap := s.Snapshot()
	if !snap.HasAnchor || snap.AnchorID != 1 {
		t.Errorf("anchor = %d (%v), want 1", snap.AnchorID, snap.HasAnchor)
	}
	if got := ids(snap.Messages); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("messages = %v, want [1 2 3]", got)
	}

	waitFor(t, "planner positioned", func() bool { return s.Planner().State() == scroll.Positioned })

	// Initial receipts cover both inbound messages, never our own.
	got := map[int64]bool{}
	for len(got) < 2 {
		select {
		case id := <-l.reads:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("initial receipts = %v, want 1 and 2", got)
		}
	}
	if got[3] {
		t.Error("receipt sent for own message")
	}
	waitFor(t, "local read state", func() bool {
		m, _ := s.Store().Get(1)
		return m.Read()
	})

	// The anchor stays frozen after reads and new messages.
	l.deliver(inbound(4, 5))
	if id, _ := s.tracker.Anchor(); id != 1 {
		t.Errorf("anchor moved to %d", id)
	}
}

func TestLiveEventsBeforeHistoryAreBuffered(t *testing.T) {
	b := newFakeBackend(outbound(1, 0))
	b.historyGate = make(chan struct{})
	l := newFakeLive()

	done := make(chan *Session, 1)
	go func() {
		s, err := Open(context.Background(), Params{RoomID: roomID, Me: me, Backend: b, Live: l, Options: fastOptions})
		if err != nil {
			t.Errorf("Open() error = %v", err)
		}
		done <- s
	}()

	select {
	case <-l.subscribed:
	case <-time.After(time.Second):
		t.Fatal("session never subscribed")
	}
	l.deliver(inbound(2, 1))
	readAt := base.Add(time.Hour)
	l.deliverRead(chat.ReadReceipt{MessageID: 1, RoomID: roomID, ReadAt: readAt})
	close(b.historyGate)

	var s *Session
	select {
	case s = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not return")
	}
	if s == nil {
		return
	}
	defer s.Close()

	if s.Store().Len() != 2 {
		t.Fatalf("store len = %d, want 2", s.Store().Len())
	}
	m, _ := s.Store().Get(1)
	if m.ReadAt == nil || !m.ReadAt.Equal(readAt) {
		t.Errorf("ReadAt = %v, want %v", m.ReadAt, readAt)
	}
	// The buffered message arrived after the history, so it is not the anchor.
	if _, ok := s.tracker.Anchor(); ok {
		t.Error("anchor computed from a live message")
	}
}

func TestOptimisticSendReconciles(t *testing.T) {
	b := newFakeBackend(inbound(1, 0))
	l := newFakeLive()
	s := openTest(t, b, l, nil)

	tempID, err := s.Send("hi")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	var out chat.Outgoing
	select {
	case out = <-l.sent:
	case <-time.After(time.Second):
		t.Fatal("message never sent")
	}
	if out.UniqueID != tempID || out.ReceiverID != peer || out.RoomID != roomID {
		t.Errorf("outgoing = %+v", out)
	}

	pending, ok := s.Store().GetByTempID(tempID)
	if !ok || pending.Confirmed() {
		t.Fatalf("optimistic entry = %+v, %v", pending, ok)
	}

	echo := outbound(42, 3)
	echo.Content = "hi"
	echo.ClientTempID = tempID
	l.deliver(echo)

	if s.Store().Len() != 2 {
		t.Fatalf("store len = %d, want 2", s.Store().Len())
	}
	got, ok := s.Store().Get(42)
	if !ok {
		t.Fatal("confirmed message missing")
	}
	if got.ClientTempID != tempID || got.Status != chat.StatusSent {
		t.Errorf("confirmed = %+v", got)
	}

	// A second echo of the same message changes nothing.
	l.deliver(echo)
	if s.Store().Len() != 2 {
		t.Errorf("duplicate echo grew store to %d", s.Store().Len())
	}
}

func TestFailedSendCanRetry(t *testing.T) {
	b := newFakeBackend()
	l := newFakeLive()
	l.sendErr = errBoom
	s := openTest(t, b, l, func(p *Params) { p.PeerID = peer })

	tempID, err := s.Send("hi")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	waitFor(t, "send failure", func() bool {
		m, _ := s.Store().GetByTempID(tempID)
		return m.Status == chat.StatusFailed
	})
	rows := s.Timeline()
	if last := rows[len(rows)-1]; last.StatusLabel != LabelFailed {
		t.Errorf("label = %q, want %q", last.StatusLabel, LabelFailed)
	}

	l.mu.Lock()
	l.sendErr = nil
	l.mu.Unlock()
	if err := s.Retry(tempID); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	select {
	case out := <-l.sent:
		if out.UniqueID != tempID {
			t.Errorf("retried %q, want %q", out.UniqueID, tempID)
		}
	case <-time.After(time.Second):
		t.Fatal("retry never sent")
	}
}

func TestHistoryErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		state  status.State
		signal Signal
	}{
		{"gone", &backend.StatusError{Code: 404}, status.Failed, LeaveRoom},
		{"forbidden", &backend.StatusError{Code: 403}, status.Failed, AccessDenied},
		{"unauthorized", &backend.StatusError{Code: 401}, status.Failed, LoginRequired},
		{"server error", &backend.StatusError{Code: 500}, status.Degraded, ""},
		{"network", errBoom, status.Degraded, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend()
			b.historyErr = tt.err
			s := openTest(t, b, newFakeLive(), nil)

			if s.State() != tt.state {
				t.Errorf("state = %s, want %s", s.State(), tt.state)
			}
			if !errors.Is(s.HistoryErr(), tt.err) {
				t.Errorf("HistoryErr() = %v, want %v", s.HistoryErr(), tt.err)
			}
			if s.Store().Len() != 0 {
				t.Errorf("store len = %d, want 0", s.Store().Len())
			}
			if tt.signal == "" {
				select {
				case sig := <-s.Signals():
					t.Errorf("unexpected signal %s", sig)
				default:
				}
				return
			}
			select {
			case sig := <-s.Signals():
				if sig != tt.signal {
					t.Errorf("signal = %s, want %s", sig, tt.signal)
				}
			case <-time.After(time.Second):
				t.Fatal("no signal")
			}
		})
	}
}

func TestFailedSessionDropsLiveEvents(t *testing.T) {
	b := newFakeBackend()
	b.historyErr = &backend.StatusError{Code: 403}
	l := newFakeLive()
	s := openTest(t, b, l, nil)

	if s.State() != status.Failed {
		t.Fatalf("state = %s, want FAILED", s.State())
	}
	for i := int64(1); i <= 50; i++ {
		l.deliver(inbound(i, int(i)))
		l.deliverRead(chat.ReadReceipt{MessageID: i, RoomID: roomID, ReadAt: base})
	}
	if s.Store().Len() != 0 {
		t.Errorf("store len = %d, want 0", s.Store().Len())
	}
	s.mu.Lock()
	queued := len(s.buffered)
	s.mu.Unlock()
	if queued != 0 {
		t.Errorf("buffered = %d events, want 0", queued)
	}
}

func TestDegradedSessionStillMergesLive(t *testing.T) {
	b := newFakeBackend()
	b.historyErr = errBoom
	l := newFakeLive()
	s := openTest(t, b, l, nil)

	l.deliver(inbound(5, 0))
	if s.Store().Len() != 1 {
		t.Errorf("store len = %d, want 1", s.Store().Len())
	}
	waitFor(t, "fallback position", func() bool { return s.Planner().State() == scroll.Positioned })
}

func TestAttachmentFailureStillRenders(t *testing.T) {
	img := image(inbound(1, 0), 5)
	b := newFakeBackend(img)
	b.attachErrs[1] = errBoom
	s := openTest(t, b, newFakeLive(), nil)

	waitFor(t, "attachment failure", func() bool {
		e, ok := s.Store().Attachment(1)
		return ok && e.State == chat.AttachmentFailed
	})
	waitFor(t, "positioned", func() bool { return s.Planner().State() == scroll.Positioned })

	var found bool
	for _, r := range s.Timeline() {
		if r.Kind == RowMessage && r.Message.ID == 1 {
			found = true
			if r.Attachment.State != chat.AttachmentFailed {
				t.Errorf("row attachment state = %s", r.Attachment.State)
			}
		}
	}
	if !found {
		t.Error("failed image message not rendered")
	}
}

func TestPlannerWaitsForInitialImages(t *testing.T) {
	b := newFakeBackend(image(inbound(1, 0), 5), image(inbound(2, 1), 6), inbound(3, 2))
	release1 := b.holdAttachment(1)
	release2 := b.holdAttachment(2)
	s := openTest(t, b, newFakeLive(), nil)

	if got := s.Planner().State(); got != scroll.AwaitingImages {
		t.Fatalf("planner = %s, want AWAITING_IMAGES", got)
	}
	release1()
	time.Sleep(20 * time.Millisecond)
	if got := s.Planner().State(); got != scroll.AwaitingImages {
		t.Errorf("planner = %s after one image, want AWAITING_IMAGES", got)
	}
	release2()
	waitFor(t, "positioned", func() bool { return s.Planner().State() == scroll.Positioned })

	e, _ := s.Store().Attachment(2)
	if e.State != chat.AttachmentResolved || e.Attachment.OriginalFilename != "photo.png" {
		t.Errorf("attachment = %+v", e)
	}
}

func TestDeletePendingInitialImage(t *testing.T) {
	b := newFakeBackend(image(outbound(1, 0), 11), inbound(2, 1))
	release := b.holdAttachment(1)
	defer release()
	l := newFakeLive()
	s := openTest(t, b, l, nil)

	if got := s.Planner().State(); got != scroll.AwaitingImages {
		t.Fatalf("planner = %s, want AWAITING_IMAGES", got)
	}
	if err := s.Delete(context.Background(), 1); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	waitFor(t, "positioned", func() bool { return s.Planner().State() == scroll.Positioned })

	select {
	case id := <-l.reads:
		if id != 2 {
			t.Errorf("initial receipt for %d, want 2", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial read receipt after delete")
	}
}

func TestLiveImageResolvedAfterDelay(t *testing.T) {
	b := newFakeBackend()
	l := newFakeLive()
	s := openTest(t, b, l, nil)

	l.deliver(image(inbound(8, 0), 80))
	waitFor(t, "live attachment", func() bool {
		e, ok := s.Store().Attachment(8)
		return ok && e.State == chat.AttachmentResolved
	})
}

func TestLiveImageWaitsForAttachmentID(t *testing.T) {
	b := newFakeBackend()
	l := newFakeLive()
	s := openTest(t, b, l, nil)

	l.deliver(image(inbound(8, 0), 0))
	time.Sleep(20 * time.Millisecond)
	if _, ok := s.Store().Attachment(8); ok {
		t.Fatal("attachment fetched before the upload finished")
	}

	l.deliver(image(inbound(8, 0), 80))
	waitFor(t, "live attachment", func() bool {
		e, ok := s.Store().Attachment(8)
		return ok && e.State == chat.AttachmentResolved
	})
	if s.Store().Len() != 1 {
		t.Errorf("store len = %d, want 1", s.Store().Len())
	}
}

func TestCloseDropsInFlightResolutions(t *testing.T) {
	b := newFakeBackend(image(inbound(1, 0), 5), image(inbound(2, 1), 6), image(inbound(3, 2), 7))
	var releases []func()
	for _, id := range []int64{1, 2, 3} {
		releases = append(releases, b.holdAttachment(id))
	}
	l := newFakeLive()
	s, err := Open(context.Background(), Params{RoomID: roomID, Me: me, Backend: b, Live: l, Options: fastOptions})
	if err != nil {
		t.Fatal(err)
	}
	before := s.Store().Attachments()

	s.Close()
	for _, release := range releases {
		release()
	}
	s.Wait()

	after := s.Store().Attachments()
	for id, e := range after {
		if e.State != before[id].State {
			t.Errorf("attachment %d changed after close: %s -> %s", id, before[id].State, e.State)
		}
	}
	if s.State() != status.Closed {
		t.Errorf("state = %s, want CLOSED", s.State())
	}
	if l.subscribedTo(roomID) {
		t.Error("still subscribed after close")
	}

	// Events after close are dropped.
	l.deliver(inbound(9, 5))
	if s.Store().Len() != 3 {
		t.Errorf("store len = %d after close, want 3", s.Store().Len())
	}
	if _, err := s.Send("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after close error = %v, want ErrClosed", err)
	}
	if _, ok := <-s.Signals(); ok {
		t.Error("signals channel not closed")
	}
}

func TestReplyRequiresKnownParent(t *testing.T) {
	b := newFakeBackend(inbound(1, 0))
	l := newFakeLive()
	s := openTest(t, b, l, nil)

	if _, err := s.Reply(99, "what?"); !errors.Is(err, ErrUnknownParent) {
		t.Errorf("Reply(unknown) error = %v, want ErrUnknownParent", err)
	}
	if _, err := s.Reply(1, "sure"); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	select {
	case out := <-l.sent:
		if out.ParentID != 1 {
			t.Errorf("ParentID = %d, want 1", out.ParentID)
		}
	case <-time.After(time.Second):
		t.Fatal("reply never sent")
	}
}

func TestDelete(t *testing.T) {
	b := newFakeBackend(inbound(1, 0), outbound(2, 1))
	bs := bus.New()
	events, unsub := bs.Subscribe(bus.RoomMessageRemoved, 4)
	defer unsub()
	s := openTest(t, b, newFakeLive(), func(p *Params) { p.Bus = bs })

	if err := s.Delete(context.Background(), 1); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Delete(peer message) error = %v, want ErrNotOwner", err)
	}
	if err := s.Delete(context.Background(), 50); !errors.Is(err, ErrUnknown) {
		t.Errorf("Delete(unknown) error = %v, want ErrUnknown", err)
	}
	if err := s.Delete(context.Background(), 2); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := s.Store().Get(2); ok {
		t.Error("deleted message still in store")
	}
	select {
	case evt := <-events:
		if evt.Payload.(int64) != 2 {
			t.Errorf("removed payload = %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no removal event")
	}
}

func TestDeleteUnauthorizedSignals(t *testing.T) {
	b := newFakeBackend(outbound(2, 1))
	b.deleteErr = &backend.StatusError{Code: 401}
	s := openTest(t, b, newFakeLive(), nil)

	if err := s.Delete(context.Background(), 2); !errors.Is(err, backend.ErrUnauthorized) {
		t.Fatalf("Delete() error = %v, want ErrUnauthorized", err)
	}
	if _, ok := s.Store().Get(2); !ok {
		t.Error("message removed despite backend failure")
	}
	select {
	case sig := <-s.Signals():
		if sig != LoginRequired {
			t.Errorf("signal = %s, want LOGIN_REQUIRED", sig)
		}
	case <-time.After(time.Second):
		t.Fatal("no signal")
	}
}

func TestReport(t *testing.T) {
	b := newFakeBackend(inbound(1, 0))
	s := openTest(t, b, newFakeLive(), nil)

	if err := s.Report(context.Background(), 1, "spam"); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if b.reports[1] != "spam" {
		t.Errorf("backend reports = %v", b.reports)
	}
	m, _ := s.Store().Get(1)
	if !m.Reported {
		t.Error("message not flagged")
	}

	b.reportErr = &backend.StatusError{Code: 400, Message: "이미 신고한 메시지입니다"}
	if err := s.Report(context.Background(), 1, "again"); !errors.Is(err, backend.ErrRejected) {
		t.Errorf("Report() error = %v, want ErrRejected", err)
	}
}

func TestMergeResultsReachObserver(t *testing.T) {
	b := newFakeBackend(inbound(1, 0))
	l := newFakeLive()
	obs := &recordingObserver{}
	s := openTest(t, b, l, func(p *Params) { p.Observer = obs })

	l.deliver(inbound(2, 1))
	l.deliver(inbound(2, 1))
	_ = s

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.opened != string(status.Live) {
		t.Errorf("opened state = %q", obs.opened)
	}
	want := []string{msgstore.Inserted.String(), msgstore.Replaced.String()}
	if len(obs.merged) != 2 || obs.merged[0] != want[0] || obs.merged[1] != want[1] {
		t.Errorf("merged = %v, want %v", obs.merged, want)
	}
}

func ids(msgs []chat.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
