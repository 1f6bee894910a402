package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
)

// Backoff is an exponential reconnect schedule.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff starts at one second and doubles up to thirty.
var DefaultBackoff = Backoff{Initial: time.Second, Max: 30 * time.Second}

func (b Backoff) next(d time.Duration) time.Duration {
	if d <= 0 {
		return b.Initial
	}
	d *= 2
	if d > b.Max {
		d = b.Max
	}
	return d
}

// HubOptions configure a Hub.
type HubOptions struct {
	Backoff Backoff
	// Bus receives live.connected and live.disconnected events. Optional.
	Bus *bus.Bus
	// Observer is told about every frame read and every reconnect. Optional.
	Observer Observer
}

// Observer receives transport statistics.
type Observer interface {
	FrameReceived(t FrameType)
	Reconnected()
}

type roomSubs struct {
	handlers map[int]Handlers
}

// Hub is a Channel over a single shared Conn. Rooms are subscribed on the
// wire when their first handler registers and unsubscribed when the last one
// leaves. After a connection loss it redials with backoff and resubscribes
// every room.
type Hub struct {
	dialer Dialer
	opts   HubOptions
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	conn    Conn
	rooms   map[int64]*roomSubs
	nextSub int
	started bool
	closed  bool

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewHub creates a disconnected hub.
func NewHub(d Dialer, opts HubOptions, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff.Initial = DefaultBackoff.Initial
	}
	if opts.Backoff.Max <= 0 {
		opts.Backoff.Max = DefaultBackoff.Max
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		dialer: d,
		opts:   opts,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[int64]*roomSubs),
	}
}

// Connect dials the backend and starts the read loop. If the first dial
// fails the error is returned and the hub keeps retrying in the background.
func (h *Hub) Connect(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.started {
		connected := h.conn != nil
		h.mu.Unlock()
		if !connected {
			return ErrNotConnected
		}
		return nil
	}
	h.started = true
	h.mu.Unlock()

	conn, err := h.dialer.Dial(ctx)
	if err == nil {
		h.attach(conn)
	} else {
		err = fmt.Errorf("dial live channel: %w", err)
		h.log.Warn("live dial failed, retrying in background", zap.Error(err))
	}

	h.wg.Add(1)
	go h.run(conn)
	return err
}

// Connected reports whether a connection is currently up.
func (h *Hub) Connected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn != nil
}

// attach installs conn and subscribes every known room on it.
func (h *Hub) attach(conn Conn) {
	h.mu.Lock()
	h.conn = conn
	rooms := make([]int64, 0, len(h.rooms))
	for id := range h.rooms {
		rooms = append(rooms, id)
	}
	h.mu.Unlock()

	for _, id := range rooms {
		if err := h.write(h.ctx, Frame{Type: FrameSubscribe, RoomID: id}); err != nil {
			h.log.Warn("resubscribe failed", zap.Int64("room_idx", id), zap.Error(err))
		}
	}
	if h.opts.Bus != nil {
		h.opts.Bus.Emit(bus.LiveConnected, 0, len(rooms))
	}
	h.log.Info("live channel connected", zap.Int("rooms", len(rooms)))
}

func (h *Hub) detach(conn Conn, cause error) {
	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	h.mu.Unlock()
	_ = conn.Close()
	if h.ctx.Err() != nil {
		return
	}
	if h.opts.Bus != nil {
		h.opts.Bus.Emit(bus.LiveDisconnected, 0, cause)
	}
	h.log.Warn("live channel lost", zap.Error(cause))
}

func (h *Hub) run(conn Conn) {
	defer h.wg.Done()
	var delay time.Duration
	for {
		if conn == nil {
			delay = h.opts.Backoff.next(delay)
			select {
			case <-time.After(delay):
			case <-h.ctx.Done():
				return
			}
			c, err := h.dialer.Dial(h.ctx)
			if err != nil {
				if h.ctx.Err() != nil {
					return
				}
				h.log.Debug("live redial failed", zap.Duration("backoff", delay), zap.Error(err))
				continue
			}
			conn = c
			h.attach(conn)
			if h.opts.Observer != nil {
				h.opts.Observer.Reconnected()
			}
		}

		err := h.readLoop(conn)
		h.detach(conn, err)
		if h.ctx.Err() != nil {
			return
		}
		conn = nil
		delay = 0
	}
}

func (h *Hub) readLoop(conn Conn) error {
	for {
		f, err := conn.ReadFrame(h.ctx)
		if err != nil {
			return err
		}
		if h.opts.Observer != nil {
			h.opts.Observer.FrameReceived(f.Type)
		}
		h.dispatch(f)
	}
}

func (h *Hub) dispatch(f Frame) {
	switch f.Type {
	case FrameMessage:
		if f.Message == nil {
			return
		}
		room := f.RoomID
		if room == 0 {
			room = f.Message.RoomID
		}
		for _, hd := range h.handlers(room) {
			if hd.OnMessage != nil {
				hd.OnMessage(*f.Message)
			}
		}
	case FrameRead:
		r := f.Receipt()
		for _, hd := range h.handlers(f.RoomID) {
			if hd.OnReadReceipt != nil {
				hd.OnReadReceipt(r)
			}
		}
	case FramePing:
		if err := h.write(h.ctx, Frame{Type: FramePong}); err != nil {
			h.log.Debug("pong failed", zap.Error(err))
		}
	case FrameError:
		h.log.Warn("live channel error frame", zap.Int64("room_idx", f.RoomID), zap.String("error", f.Error))
	}
}

func (h *Hub) handlers(roomID int64) []Handlers {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rs, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Handlers, 0, len(rs.handlers))
	for _, hd := range rs.handlers {
		out = append(out, hd)
	}
	return out
}

func (h *Hub) write(ctx context.Context, f Frame) error {
	h.mu.RLock()
	conn, closed := h.conn, h.closed
	h.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return conn.WriteFrame(ctx, f)
}

// SubscribeToRoom registers h for roomID. The returned func removes the
// registration and is safe to call more than once.
func (h *Hub) SubscribeToRoom(roomID int64, hd Handlers) (func(), error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}, ErrClosed
	}
	rs, ok := h.rooms[roomID]
	if !ok {
		rs = &roomSubs{handlers: make(map[int]Handlers)}
		h.rooms[roomID] = rs
	}
	id := h.nextSub
	h.nextSub++
	rs.handlers[id] = hd
	first := len(rs.handlers) == 1
	connected := h.conn != nil
	h.mu.Unlock()

	var err error
	if first && connected {
		if err = h.write(h.ctx, Frame{Type: FrameSubscribe, RoomID: roomID}); err != nil {
			err = fmt.Errorf("subscribe room %d: %w", roomID, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(roomID, id) })
	}, err
}

func (h *Hub) unsubscribe(roomID int64, id int) {
	h.mu.Lock()
	rs, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(rs.handlers, id)
	last := len(rs.handlers) == 0
	if last {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	if last {
		err := h.write(h.ctx, Frame{Type: FrameUnsubscribe, RoomID: roomID})
		if err != nil && !errors.Is(err, ErrNotConnected) && !errors.Is(err, ErrClosed) {
			h.log.Debug("unsubscribe failed", zap.Int64("room_idx", roomID), zap.Error(err))
		}
	}
}

// Rooms returns the number of rooms with at least one subscriber.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Send publishes an outgoing message.
func (h *Hub) Send(ctx context.Context, out chat.Outgoing) error {
	if err := h.write(ctx, Frame{Type: FrameSend, RoomID: out.RoomID, Outgoing: &out}); err != nil {
		return fmt.Errorf("send to room %d: %w", out.RoomID, err)
	}
	return nil
}

// MarkAsRead reports that the current user has read messageID.
func (h *Hub) MarkAsRead(ctx context.Context, messageID, roomID int64) error {
	if err := h.write(ctx, Frame{Type: FrameMarkRead, RoomID: roomID, MessageID: messageID}); err != nil {
		return fmt.Errorf("mark message %d read: %w", messageID, err)
	}
	return nil
}

// Close stops the read loop and closes the connection.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conn := h.conn
	h.conn = nil
	h.mu.Unlock()

	h.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	h.wg.Wait()
	return err
}
