// Package receipt emits read receipts for inbound messages and applies
// read echoes from the peer.
package receipt

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/chat"
)

// Marker sends a read receipt. live.Channel implements it.
type Marker interface {
	MarkAsRead(ctx context.Context, messageID, roomID int64) error
}

// Store is the slice of msgstore.Store the coordinator writes to.
type Store interface {
	MarkRead(id int64, readAt time.Time) bool
}

// Options tune emission timing. Zero values use the defaults.
type Options struct {
	// Debounce delays the receipt for a live message. Default 100ms.
	Debounce time.Duration
	// InitialDelay delays the initial batch after EmitInitial. Default 0.
	InitialDelay time.Duration
	// OnError is called for every failed emission.
	OnError func(messageID int64, err error)
	// Now overrides the clock used for local read stamps.
	Now func() time.Time
}

// Coordinator is scoped to one room session. Every message id is emitted
// at most once.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc
	me     int64
	roomID int64
	marker Marker
	store  Store
	opts   Options
	log    *zap.Logger

	mu          sync.Mutex
	emitted     map[int64]bool
	timers      map[int64]*time.Timer
	initialDone bool
	closed      bool
	wg          sync.WaitGroup
}

// New creates a coordinator for user me in roomID.
func New(parent context.Context, me, roomID int64, marker Marker, store Store, opts Options, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(parent)
	return &Coordinator{
		ctx:     ctx,
		cancel:  cancel,
		me:      me,
		roomID:  roomID,
		marker:  marker,
		store:   store,
		opts:    opts,
		log:     log.With(zap.Int64("room_idx", roomID)),
		emitted: make(map[int64]bool),
		timers:  make(map[int64]*time.Timer),
	}
}

func (c *Coordinator) addressedToMe(m *chat.Message) bool {
	if !m.Confirmed() || m.SenderID == c.me || m.ReadAt != nil {
		return false
	}
	return m.ReceiverID == 0 || m.ReceiverID == c.me
}

// EmitInitial sends receipts for every unread message addressed to the
// current user. Only the first call per session does anything; it returns
// the number of receipts scheduled.
func (c *Coordinator) EmitInitial(messages []chat.Message) int {
	c.mu.Lock()
	if c.closed || c.initialDone {
		c.mu.Unlock()
		return 0
	}
	c.initialDone = true

	var batch []int64
	for i := range messages {
		m := &messages[i]
		if c.addressedToMe(m) && !c.emitted[m.ID] {
			c.emitted[m.ID] = true
			batch = append(batch, m.ID)
		}
	}
	if len(batch) == 0 {
		c.mu.Unlock()
		return 0
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if d := c.opts.InitialDelay; d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-c.ctx.Done():
				timer.Stop()
				return
			}
		}
		for _, id := range batch {
			c.emit(id)
		}
	}()
	c.log.Debug("initial read receipts scheduled", zap.Int("count", len(batch)))
	return len(batch)
}

// InitialDone reports whether EmitInitial has run.
func (c *Coordinator) InitialDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialDone
}

// OnLiveMessage schedules a receipt for a freshly delivered message after
// the debounce delay.
func (c *Coordinator) OnLiveMessage(m chat.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.addressedToMe(&m) || c.emitted[m.ID] {
		return false
	}
	c.emitted[m.ID] = true
	id := m.ID
	c.wg.Add(1)
	c.timers[id] = time.AfterFunc(c.opts.Debounce, func() {
		defer c.wg.Done()
		c.mu.Lock()
		delete(c.timers, id)
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			c.emit(id)
		}
	})
	return true
}

// OnReadEcho applies a peer's read confirmation.
func (c *Coordinator) OnReadEcho(r chat.ReadReceipt) bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false
	}
	if r.ReadAt.IsZero() {
		r.ReadAt = c.opts.Now()
	}
	return c.store.MarkRead(r.MessageID, r.ReadAt)
}

func (c *Coordinator) emit(id int64) {
	if err := c.marker.MarkAsRead(c.ctx, id, c.roomID); err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.log.Warn("read receipt failed", zap.Int64("message_idx", id), zap.Error(err))
		if c.opts.OnError != nil {
			c.opts.OnError(id, err)
		}
		return
	}
	c.store.MarkRead(id, c.opts.Now())
}

// Close stops pending timers and cancels in-flight emissions.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, t := range c.timers {
		if t.Stop() {
			c.wg.Done()
		}
		delete(c.timers, id)
	}
	c.mu.Unlock()
	c.cancel()
}

// Wait blocks until scheduled emissions have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
