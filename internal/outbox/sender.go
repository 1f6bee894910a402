// Package outbox sends messages optimistically: the message is shown in the
// store as "sending" before the backend has seen it and is reconciled when
// the server echo arrives.
package outbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/msgstore"
)

var (
	// ErrQueueFull is returned when too many sends are waiting.
	ErrQueueFull = errors.New("outbox full")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("outbox stopped")
	// ErrEmpty rejects blank text messages.
	ErrEmpty = errors.New("empty message")
)

// Transport delivers an outgoing message. live.Channel implements it.
type Transport interface {
	Send(ctx context.Context, out chat.Outgoing) error
}

// Store is the slice of msgstore.Store the sender writes to.
type Store interface {
	Merge(m chat.Message) msgstore.MergeResult
	SetSendStatus(tempID string, status chat.SendStatus) bool
	GetByTempID(tempID string) (chat.Message, bool)
}

// Draft is a message the user has composed.
type Draft struct {
	RoomID     int64
	SenderID   int64
	ReceiverID int64
	Content    string
	Type       chat.MessageType
	ParentID   int64
}

// SendAck is the payload of message.send_ack.
type SendAck struct {
	ClientTempID string
}

// SendFailure is the payload of message.send_failed.
type SendFailure struct {
	ClientTempID string
	Err          error
}

// Sender drains an in-memory queue in order.
type Sender struct {
	transport Transport
	store     Store
	bus       *bus.Bus
	logger    *zap.Logger

	newID func() string
	now   func() time.Time

	queue   chan chat.Outgoing
	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	done    chan struct{}
}

// NewSender creates a sender with room for queueSize pending messages.
func NewSender(t Transport, s Store, b *bus.Bus, logger *zap.Logger, queueSize int) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Sender{
		transport: t,
		store:     s,
		bus:       b,
		logger:    logger,
		newID:     uuid.NewString,
		now:       time.Now,
		queue:     make(chan chat.Outgoing, queueSize),
	}
}

// Start begins draining the queue.
func (s *Sender) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.stopped {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the loop. Queued messages are marked failed.
func (s *Sender) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	for {
		select {
		case out := <-s.queue:
			s.fail(out, ErrStopped)
		default:
			return
		}
	}
}

// Enqueue shows d in the store as sending and queues it. It returns the
// client id that the server echo will carry.
func (s *Sender) Enqueue(d Draft) (string, error) {
	if d.Type == "" {
		d.Type = chat.TypeText
	}
	if d.Type == chat.TypeText && strings.TrimSpace(d.Content) == "" {
		return "", ErrEmpty
	}
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return "", ErrStopped
	}

	tempID := s.newID()
	s.store.Merge(chat.Message{
		RoomID:       d.RoomID,
		SenderID:     d.SenderID,
		ReceiverID:   d.ReceiverID,
		Content:      d.Content,
		Type:         d.Type,
		SentAt:       s.now(),
		ParentID:     d.ParentID,
		ClientTempID: tempID,
		Status:       chat.StatusSending,
	})

	out := chat.Outgoing{
		RoomID:     d.RoomID,
		ReceiverID: d.ReceiverID,
		Content:    d.Content,
		Type:       d.Type,
		ParentID:   d.ParentID,
		UniqueID:   tempID,
	}
	select {
	case s.queue <- out:
		return tempID, nil
	default:
		s.fail(out, ErrQueueFull)
		return tempID, ErrQueueFull
	}
}

// Retry queues a failed message again under the same client id.
func (s *Sender) Retry(tempID string) error {
	m, ok := s.store.GetByTempID(tempID)
	if !ok || m.Status != chat.StatusFailed {
		return nil
	}
	s.store.SetSendStatus(tempID, chat.StatusSending)
	out := chat.Outgoing{
		RoomID:     m.RoomID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Type:       m.Type,
		ParentID:   m.ParentID,
		UniqueID:   tempID,
	}
	select {
	case s.queue <- out:
		return nil
	default:
		s.fail(out, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case out := <-s.queue:
			s.send(ctx, out)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) send(ctx context.Context, out chat.Outgoing) {
	if err := s.transport.Send(ctx, out); err != nil {
		s.logger.Error("failed to send message", zap.Error(err), zap.String("unique_id", out.UniqueID))
		s.fail(out, err)
		return
	}
	s.store.SetSendStatus(out.UniqueID, chat.StatusSent)
	s.logger.Info("message sent", zap.String("unique_id", out.UniqueID), zap.Int64("room_idx", out.RoomID))
	if s.bus != nil {
		s.bus.Emit(bus.MessageSendAck, out.RoomID, SendAck{ClientTempID: out.UniqueID})
	}
}

func (s *Sender) fail(out chat.Outgoing, err error) {
	s.store.SetSendStatus(out.UniqueID, chat.StatusFailed)
	if s.bus != nil {
		s.bus.Emit(bus.MessageSendFailed, out.RoomID, SendFailure{ClientTempID: out.UniqueID, Err: err})
	}
}
