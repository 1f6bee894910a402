// Package room runs one open chat room: it hydrates history, merges live
// events, resolves attachments, emits read receipts and drives the scroll
// planner until the room is closed.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/anchor"
	"github.com/matheus3301/chatsync/internal/attach"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/live"
	"github.com/matheus3301/chatsync/internal/msgstore"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/receipt"
	"github.com/matheus3301/chatsync/internal/scroll"
	"github.com/matheus3301/chatsync/internal/status"
)

var (
	ErrClosed        = errors.New("room session closed")
	ErrUnknownParent = errors.New("reply target not in room")
	ErrNotOwner      = errors.New("message belongs to another member")
	ErrUnknown       = errors.New("message not in room")
)

// Backend is the REST surface a session uses. backend.Client implements it.
type Backend interface {
	MemberInfo(ctx context.Context) (int64, error)
	FetchHistory(ctx context.Context, roomID int64) ([]chat.Message, error)
	FetchAttachment(ctx context.Context, messageID int64) (chat.Attachment, error)
	DeleteMessage(ctx context.Context, messageID int64) error
	ReportMessage(ctx context.Context, messageID int64, reason string) error
}

// Observer receives session statistics. metrics.Recorder implements it.
type Observer interface {
	SessionOpened(state string)
	SessionClosed()
	MessageMerged(result string)
	AttachmentSettled(ok bool)
	ReceiptFailed()
	SignalRaised(sig string)
}

// Options tune session timing. Zero values use the defaults.
type Options struct {
	Scroll scroll.Options
	// ReceiptDebounce delays receipts for live messages. Default 100ms.
	ReceiptDebounce time.Duration
	// InitialReadDelay separates positioning from the initial receipts.
	// Default 500ms.
	InitialReadDelay time.Duration
	// LiveImageDelay defers attachment fetches for live image messages.
	// Default 1s.
	LiveImageDelay time.Duration
	// Location is used for date separators and grouping. Default time.Local.
	Location *time.Location
}

func (o Options) withDefaults() Options {
	if o.ReceiptDebounce <= 0 {
		o.ReceiptDebounce = 100 * time.Millisecond
	}
	if o.InitialReadDelay <= 0 {
		o.InitialReadDelay = 500 * time.Millisecond
	}
	if o.LiveImageDelay <= 0 {
		o.LiveImageDelay = time.Second
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// Params are the collaborators of one session.
type Params struct {
	RoomID int64
	// Me is the current member; looked up through Backend when zero.
	Me int64
	// Room, when known, provides the peer.
	Room *chat.Room
	// PeerID overrides the peer derived from Room or history.
	PeerID int64

	Backend  Backend
	Live     live.Channel
	Viewport scroll.Viewport
	Bus      *bus.Bus
	Observer Observer
	Logger   *zap.Logger
	Options  Options
}

// Session is one open room.
type Session struct {
	roomID int64
	me     int64
	opts   Options

	backend  Backend
	live     live.Channel
	bus      *bus.Bus
	observer Observer
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	store       *msgstore.Store
	tracker     *anchor.Tracker
	resolver    *attach.Resolver
	coordinator *receipt.Coordinator
	planner     *scroll.Planner
	sender      *outbox.Sender
	machine     *status.Machine

	unsubscribe func()

	mu            sync.Mutex
	peer          int64
	hydrated      bool
	failed        bool
	buffered      []func()
	initialImages map[int64]bool
	historyErr    error
	raised        map[Signal]bool
	signals       chan Signal
	closed        bool
}

// Open starts a session: it subscribes to the room, fetches history and
// positions the viewport. Live events received before the history are
// buffered and merged afterwards. A terminal history error does not fail
// Open; it leaves the session FAILED with a signal queued.
func Open(ctx context.Context, p Params) (*Session, error) {
	if p.RoomID <= 0 {
		return nil, fmt.Errorf("open room: invalid room id %d", p.RoomID)
	}
	if p.Backend == nil || p.Live == nil {
		return nil, fmt.Errorf("open room %d: backend and live channel are required", p.RoomID)
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.Int64("room_idx", p.RoomID))
	opts := p.Options.withDefaults()

	me := p.Me
	if me == 0 {
		id, err := p.Backend.MemberInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("open room %d: member info: %w", p.RoomID, err)
		}
		me = id
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		roomID:        p.RoomID,
		me:            me,
		opts:          opts,
		backend:       p.Backend,
		live:          p.Live,
		bus:           p.Bus,
		observer:      p.Observer,
		log:           log,
		ctx:           sctx,
		cancel:        cancel,
		initialImages: make(map[int64]bool),
		raised:        make(map[Signal]bool),
		signals:       make(chan Signal, 4),
	}
	switch {
	case p.PeerID != 0:
		s.peer = p.PeerID
	case p.Room != nil:
		s.peer = p.Room.Peer(me)
	}

	vp := p.Viewport
	if vp == nil {
		vp = nopViewport{}
	}
	s.store = msgstore.New(log)
	s.tracker = anchor.NewTracker(me)
	s.machine = status.NewMachine(p.RoomID, p.Bus)
	s.resolver = attach.New(sctx, p.Backend, s.store, log)
	s.resolver.OnSettled(s.attachmentSettled)
	s.coordinator = receipt.New(sctx, me, p.RoomID, p.Live, s.store, receipt.Options{
		Debounce:     opts.ReceiptDebounce,
		InitialDelay: opts.InitialReadDelay,
		OnError:      s.receiptFailed,
	}, log)
	s.planner = scroll.New(vp, opts.Scroll, log)
	s.planner.OnPositioned(s.positioned)
	s.sender = outbox.NewSender(p.Live, s.store, p.Bus, log, 64)
	s.sender.Start(sctx)

	if !p.Live.Connected() {
		if err := p.Live.Connect(ctx); err != nil {
			log.Warn("live channel unavailable, history only until it reconnects", zap.Error(err))
		}
	}
	unsub, err := p.Live.SubscribeToRoom(p.RoomID, live.Handlers{
		OnMessage:     s.onLiveMessage,
		OnReadReceipt: s.onReadReceipt,
	})
	if err != nil {
		log.Warn("room subscribe failed", zap.Error(err))
	}
	s.unsubscribe = unsub

	s.transition(status.Hydrating)
	s.hydrate(ctx)

	if s.observer != nil {
		s.observer.SessionOpened(string(s.machine.Current()))
	}
	return s, nil
}

func (s *Session) transition(to status.State) {
	if err := s.machine.Transition(to); err != nil {
		s.log.Debug("session transition", zap.Error(err))
	}
}

func (s *Session) hydrate(ctx context.Context) {
	history, err := s.backend.FetchHistory(ctx, s.roomID)
	if err != nil {
		if sig, ok := signalFor(err, true); ok {
			s.log.Warn("history fetch refused", zap.Error(err))
			s.mu.Lock()
			s.historyErr = err
			s.failed = true
			s.buffered = nil
			s.mu.Unlock()
			s.transition(status.Failed)
			s.raise(sig)
			return
		}
		s.log.Error("history fetch failed", zap.Error(err))
		s.store.Reset()
		s.mu.Lock()
		s.historyErr = err
		s.mu.Unlock()
		s.transition(status.Degraded)
		s.planner.Hydrated(0, false, 0)
		s.flushBuffered()
		return
	}

	s.store.Hydrate(history)
	all := s.store.All()
	s.derivePeer(all)

	anchorID, hasAnchor := s.tracker.Compute(all)
	s.tracker.Lock()
	if s.bus != nil {
		s.bus.Emit(bus.RoomAnchorLocked, s.roomID, AnchorLocked{MessageID: anchorID, Present: hasAnchor})
	}

	var images []int64
	for _, m := range all {
		if m.IsImage() && m.HasAttachment() {
			images = append(images, m.ID)
		}
	}
	s.mu.Lock()
	for _, id := range images {
		s.initialImages[id] = true
	}
	s.mu.Unlock()

	s.planner.Hydrated(anchorID, hasAnchor, len(images))
	for _, id := range images {
		if !s.resolver.Resolve(id) {
			s.dropInitialImage(id)
		}
	}

	s.transition(status.Live)
	if s.bus != nil {
		s.bus.Emit(bus.RoomHydrated, s.roomID, len(all))
	}
	s.log.Info("room hydrated",
		zap.Int("messages", len(all)),
		zap.Int("images", len(images)),
		zap.Int64("anchor", anchorID),
		zap.Bool("has_anchor", hasAnchor))
	s.flushBuffered()
}

// derivePeer fills in the other party from history when it was not given.
func (s *Session) derivePeer(msgs []chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer != 0 {
		return
	}
	for _, m := range msgs {
		if m.SenderID != s.me && m.SenderID != 0 {
			s.peer = m.SenderID
			return
		}
		if m.SenderID == s.me && m.ReceiverID != 0 {
			s.peer = m.ReceiverID
			return
		}
	}
}

func (s *Session) flushBuffered() {
	s.mu.Lock()
	s.hydrated = true
	buf := s.buffered
	s.buffered = nil
	s.mu.Unlock()
	for _, fn := range buf {
		fn()
	}
	if len(buf) > 0 {
		s.log.Debug("replayed buffered live events", zap.Int("count", len(buf)))
	}
}

// deferUntilHydrated queues fn if history has not been applied yet. Events
// for a failed room are dropped.
func (s *Session) deferUntilHydrated(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.failed {
		return true
	}
	if !s.hydrated {
		s.buffered = append(s.buffered, fn)
		return true
	}
	return false
}

func (s *Session) onLiveMessage(m chat.Message) {
	if m.RoomID != 0 && m.RoomID != s.roomID {
		return
	}
	if s.deferUntilHydrated(func() { s.onLiveMessage(m) }) {
		return
	}

	res := s.store.Merge(m)
	if s.observer != nil {
		s.observer.MessageMerged(res.String())
	}
	if res == msgstore.Ignored {
		return
	}
	if s.bus != nil {
		s.bus.Emit(bus.RoomMessageUpserted, s.roomID, Upserted{MessageID: m.ID, ClientTempID: m.ClientTempID, Result: res})
	}
	if res != msgstore.Replaced {
		s.planner.MessageArrived()
		s.coordinator.OnLiveMessage(m)
	}
	// The upload finishes after the send, so the attachment id usually
	// arrives with a later copy of the message.
	if m.IsImage() && m.Confirmed() && m.HasAttachment() {
		s.resolver.ResolveAfter(m.ID, s.opts.LiveImageDelay)
	}
}

func (s *Session) onReadReceipt(r chat.ReadReceipt) {
	if r.RoomID != 0 && r.RoomID != s.roomID {
		return
	}
	if s.deferUntilHydrated(func() { s.onReadReceipt(r) }) {
		return
	}
	if s.coordinator.OnReadEcho(r) && s.bus != nil {
		s.bus.Emit(bus.RoomRead, s.roomID, r)
	}
}

func (s *Session) attachmentSettled(id int64, err error) {
	if s.observer != nil {
		s.observer.AttachmentSettled(err == nil)
	}
	if err != nil {
		if sig, ok := signalFor(err, false); ok {
			s.raise(sig)
		}
	}
	s.mu.Lock()
	initial := s.initialImages[id]
	delete(s.initialImages, id)
	s.mu.Unlock()

	if initial || s.planner.State() == scroll.Positioned {
		s.planner.ImageSettled()
	}
	if s.bus != nil {
		s.bus.Emit(bus.RoomAttachment, s.roomID, AttachmentSettled{MessageID: id, OK: err == nil})
	}
}

// dropInitialImage stops the planner waiting on an initial image that will
// never settle.
func (s *Session) dropInitialImage(id int64) {
	s.mu.Lock()
	initial := s.initialImages[id]
	delete(s.initialImages, id)
	s.mu.Unlock()
	if initial {
		s.planner.ImageSettled()
	}
}

func (s *Session) receiptFailed(id int64, err error) {
	if s.observer != nil {
		s.observer.ReceiptFailed()
	}
	if sig, ok := signalFor(err, false); ok {
		s.raise(sig)
	}
}

func (s *Session) positioned(t scroll.Target) {
	if s.bus != nil {
		s.bus.Emit(bus.RoomPositioned, s.roomID, t)
	}
	s.coordinator.EmitInitial(s.store.All())
}

// raise queues sig once per session.
func (s *Session) raise(sig Signal) {
	s.mu.Lock()
	if s.closed || s.raised[sig] {
		s.mu.Unlock()
		return
	}
	s.raised[sig] = true
	select {
	case s.signals <- sig:
	default:
	}
	s.mu.Unlock()

	s.log.Warn("room signal", zap.String("signal", string(sig)))
	if s.observer != nil {
		s.observer.SignalRaised(string(sig))
	}
	if s.bus != nil {
		s.bus.Emit(bus.RoomSignal, s.roomID, sig)
	}
}

// Signals delivers LOGIN_REQUIRED, ACCESS_DENIED and LEAVE_ROOM. It is
// closed by Close.
func (s *Session) Signals() <-chan Signal {
	return s.signals
}

// RoomID returns the room this session serves.
func (s *Session) RoomID() int64 { return s.roomID }

// Me returns the current member id.
func (s *Session) Me() int64 { return s.me }

// Peer returns the other party, or zero when unknown.
func (s *Session) Peer() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// State returns the lifecycle state.
func (s *Session) State() status.State {
	return s.machine.Current()
}

// HistoryErr returns the history fetch error, if any.
func (s *Session) HistoryErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyErr
}

// Store exposes the message store for read access.
func (s *Session) Store() *msgstore.Store { return s.store }

// Planner exposes the scroll planner state.
func (s *Session) Planner() *scroll.Planner { return s.planner }

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Send queues a text message.
func (s *Session) Send(content string) (string, error) {
	return s.enqueue(content, chat.TypeText, 0)
}

// SendImage queues an image message. The attachment itself is uploaded out
// of band and resolved once the message is echoed.
func (s *Session) SendImage(caption string) (string, error) {
	if caption == "" {
		caption = chat.ImagePlaceholder
	}
	return s.enqueue(caption, chat.TypeImage, 0)
}

// Reply queues a text message replying to parentID.
func (s *Session) Reply(parentID int64, content string) (string, error) {
	if _, ok := s.store.Get(parentID); !ok {
		return "", ErrUnknownParent
	}
	return s.enqueue(content, chat.TypeText, parentID)
}

// Retry re-sends a failed optimistic message.
func (s *Session) Retry(tempID string) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.sender.Retry(tempID)
}

func (s *Session) enqueue(content string, typ chat.MessageType, parentID int64) (string, error) {
	if s.isClosed() {
		return "", ErrClosed
	}
	tempID, err := s.sender.Enqueue(outbox.Draft{
		RoomID:     s.roomID,
		SenderID:   s.me,
		ReceiverID: s.Peer(),
		Content:    content,
		Type:       typ,
		ParentID:   parentID,
	})
	if tempID != "" && s.bus != nil {
		s.bus.Emit(bus.RoomMessageUpserted, s.roomID, Upserted{ClientTempID: tempID, Result: msgstore.Inserted})
	}
	if err == nil {
		s.planner.MessageArrived()
	}
	return tempID, err
}

// Delete removes one of the current member's messages on the backend and,
// on success, locally.
func (s *Session) Delete(ctx context.Context, messageID int64) error {
	if s.isClosed() {
		return ErrClosed
	}
	m, ok := s.store.Get(messageID)
	if !ok {
		return ErrUnknown
	}
	if m.SenderID != s.me {
		return ErrNotOwner
	}
	if err := s.backend.DeleteMessage(ctx, messageID); err != nil {
		if sig, ok := signalFor(err, false); ok {
			s.raise(sig)
		}
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}
	s.resolver.Cancel(messageID)
	s.dropInitialImage(messageID)
	if s.store.Remove(messageID) && s.bus != nil {
		s.bus.Emit(bus.RoomMessageRemoved, s.roomID, messageID)
	}
	return nil
}

// Report files a report against messageID and flags it locally.
func (s *Session) Report(ctx context.Context, messageID int64, reason string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if _, ok := s.store.Get(messageID); !ok {
		return ErrUnknown
	}
	if err := s.backend.ReportMessage(ctx, messageID, reason); err != nil {
		if sig, ok := signalFor(err, false); ok {
			s.raise(sig)
		}
		return fmt.Errorf("report message %d: %w", messageID, err)
	}
	if s.store.Flag(messageID) && s.bus != nil {
		s.bus.Emit(bus.RoomMessageUpserted, s.roomID, Upserted{MessageID: messageID, Result: msgstore.Replaced})
	}
	return nil
}

// Search returns messages matching query in room order.
func (s *Session) Search(query string) []chat.Message {
	return s.store.Search(query)
}

// Close tears the session down. Pending timers stop, in-flight fetches are
// cancelled and nothing is written to the store afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.buffered = nil
	close(s.signals)
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.store.Close()
	s.planner.Close()
	s.coordinator.Close()
	s.resolver.Close()
	s.cancel()
	s.sender.Stop()
	s.transition(status.Closed)
	if s.observer != nil {
		s.observer.SessionClosed()
	}
	s.log.Info("room closed")
}

// Wait blocks until background work started by the session has returned.
func (s *Session) Wait() {
	s.resolver.Wait()
	s.coordinator.Wait()
}

// nopViewport is used when the session runs headless.
type nopViewport struct{}

func (nopViewport) Ready(int64) bool { return true }
func (nopViewport) AlignTop(int64)   {}
func (nopViewport) ScrollToBottom()  {}
