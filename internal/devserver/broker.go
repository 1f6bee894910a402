package devserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/live"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/store"
)

// Publisher distributes room frames to every server instance. Without one
// the broker fans out locally.
type Publisher interface {
	Publish(ctx context.Context, f live.Frame) error
}

type client struct {
	id     string
	member int64
	conn   live.Conn
	out    chan live.Frame
	rooms  map[int64]bool
}

// Broker serves live connections: it tracks room subscriptions, applies
// client writes to the store and fans room events out to subscribers.
type Broker struct {
	db  *store.DB
	pub Publisher
	log *zap.Logger
	now func() time.Time

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

// NewBroker creates a broker. pub may be nil.
func NewBroker(db *store.DB, pub Publisher, log *zap.Logger) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{
		db:      db,
		pub:     pub,
		log:     log,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

// SetPublisher switches fan-out to pub.
func (b *Broker) SetPublisher(pub Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pub = pub
}

// Serve runs one live connection for member until it fails or ctx ends.
func (b *Broker) Serve(ctx context.Context, member int64, conn live.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &client{
		id:     uuid.NewString(),
		member: member,
		conn:   conn,
		out:    make(chan live.Frame, 64),
		rooms:  make(map[int64]bool),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return live.ErrClosed
	}
	b.clients[c.id] = c
	b.mu.Unlock()
	metrics.LiveClients.Inc()
	log := b.log.With(zap.String("conn", c.id), zap.Int64("member_idx", member))
	log.Info("live client connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for f := range c.out {
			if err := conn.WriteFrame(ctx, f); err != nil {
				log.Debug("live write failed", zap.Error(err))
				cancel()
				return
			}
		}
	}()

	defer func() {
		b.mu.Lock()
		delete(b.clients, c.id)
		b.mu.Unlock()
		close(c.out)
		_ = conn.Close()
		wg.Wait()
		metrics.LiveClients.Dec()
		log.Info("live client disconnected")
	}()

	for {
		f, err := conn.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, live.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		metrics.FramesReceived.WithLabelValues(string(f.Type)).Inc()

		var reply *live.Frame
		switch f.Type {
		case live.FrameSubscribe:
			reply = b.subscribe(c, f.RoomID)
		case live.FrameUnsubscribe:
			b.mu.Lock()
			delete(c.rooms, f.RoomID)
			b.mu.Unlock()
		default:
			reply = b.Apply(ctx, member, f)
		}
		if reply != nil {
			select {
			case c.out <- *reply:
			default:
			}
		}
	}
}

func (b *Broker) subscribe(c *client, roomID int64) *live.Frame {
	ok, err := b.db.CanAccess(roomID, c.member)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &live.Frame{Type: live.FrameError, RoomID: roomID, Error: "room not found"}
	case err != nil:
		b.log.Error("subscribe access check", zap.Int64("room_idx", roomID), zap.Error(err))
		return &live.Frame{Type: live.FrameError, RoomID: roomID, Error: "internal error"}
	case !ok:
		return &live.Frame{Type: live.FrameError, RoomID: roomID, Error: "access denied"}
	}
	b.mu.Lock()
	c.rooms[roomID] = true
	b.mu.Unlock()
	return nil
}

// Apply executes a client write on behalf of member and returns the frame
// to send back to that client, if any. It is shared by connection-bound
// transports and the Redis inbound worker.
func (b *Broker) Apply(ctx context.Context, member int64, f live.Frame) *live.Frame {
	switch f.Type {
	case live.FramePing:
		return &live.Frame{Type: live.FramePong}
	case live.FramePong:
		return nil
	case live.FrameSend:
		if err := b.send(ctx, member, f.Outgoing); err != nil {
			b.log.Warn("send rejected", zap.Int64("member_idx", member), zap.Error(err))
			return &live.Frame{Type: live.FrameError, RoomID: f.RoomID, Error: err.Error()}
		}
		return nil
	case live.FrameMarkRead:
		if err := b.markRead(ctx, member, f.MessageID); err != nil {
			b.log.Warn("mark read rejected", zap.Int64("message_idx", f.MessageID), zap.Error(err))
			return &live.Frame{Type: live.FrameError, RoomID: f.RoomID, MessageID: f.MessageID, Error: err.Error()}
		}
		return nil
	}
	return &live.Frame{Type: live.FrameError, Error: fmt.Sprintf("unsupported frame %q", f.Type)}
}

func (b *Broker) send(ctx context.Context, member int64, out *chat.Outgoing) error {
	if out == nil {
		return errors.New("send frame without outgoing message")
	}
	room, err := b.db.GetRoom(out.RoomID)
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}
	if room == nil {
		return fmt.Errorf("room %d not found", out.RoomID)
	}
	if room.TrainerID != member && room.MemberID != member {
		return fmt.Errorf("room %d: access denied", out.RoomID)
	}
	if out.ParentID != 0 {
		parent, err := b.db.GetMessage(out.ParentID)
		if err != nil {
			return fmt.Errorf("load parent: %w", err)
		}
		if parent == nil || parent.RoomID != out.RoomID {
			return fmt.Errorf("reply target %d not in room", out.ParentID)
		}
	}
	stored, created, err := b.db.InsertMessage(chat.Message{
		RoomID:       out.RoomID,
		SenderID:     member,
		ReceiverID:   room.Peer(member),
		Content:      out.Content,
		Type:         out.Type,
		ParentID:     out.ParentID,
		ClientTempID: out.UniqueID,
	})
	if err != nil {
		return err
	}
	if created {
		metrics.MessagesStored.WithLabelValues(string(stored.Type)).Inc()
	}
	// Retries are echoed again so the sender can reconcile.
	return b.Broadcast(ctx, live.Frame{Type: live.FrameMessage, RoomID: stored.RoomID, Message: &stored})
}

func (b *Broker) markRead(ctx context.Context, member, messageID int64) error {
	m, changed, err := b.db.MarkRead(messageID, member, b.now())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return b.Broadcast(ctx, live.Frame{Type: live.FrameRead, RoomID: m.RoomID, MessageID: m.ID, ReadAt: m.ReadAt})
}

// Broadcast publishes f to its room, through the Publisher when set.
func (b *Broker) Broadcast(ctx context.Context, f live.Frame) error {
	b.mu.RLock()
	pub := b.pub
	b.mu.RUnlock()
	if pub != nil {
		return pub.Publish(ctx, f)
	}
	b.FanOut(f)
	return nil
}

// FanOut delivers f to local subscribers of its room. Slow clients miss
// frames rather than block the room.
func (b *Broker) FanOut(f live.Frame) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, c := range b.clients {
		if !c.rooms[f.RoomID] {
			continue
		}
		select {
		case c.out <- f:
			n++
		default:
			b.log.Warn("dropping frame for slow client", zap.String("conn", c.id), zap.Int64("room_idx", f.RoomID))
		}
	}
	return n
}

// Clients returns the number of connected clients.
func (b *Broker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client and refuses new ones.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	conns := make([]live.Conn, 0, len(b.clients))
	for _, c := range b.clients {
		conns = append(conns, c.conn)
	}
	b.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
