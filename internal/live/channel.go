// Package live multiplexes per-room push subscriptions over one shared
// connection to the chat backend.
package live

import (
	"context"
	"errors"

	"github.com/matheus3301/chatsync/internal/chat"
)

var (
	// ErrNotConnected is returned by writes while the connection is down.
	ErrNotConnected = errors.New("live channel not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("live channel closed")
)

// Conn is one established transport connection carrying frames.
type Conn interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(ctx context.Context, f Frame) error
	Close() error
}

// Dialer opens a Conn. Transports carry their own credentials.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context) (Conn, error)

func (f DialFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// Handlers receive the events of one room. Either may be nil.
type Handlers struct {
	OnMessage     func(chat.Message)
	OnReadReceipt func(chat.ReadReceipt)
}

// Channel is the push subscription interface consumed by room sessions.
type Channel interface {
	Connect(ctx context.Context) error
	Connected() bool
	SubscribeToRoom(roomID int64, h Handlers) (unsubscribe func(), err error)
	Send(ctx context.Context, out chat.Outgoing) error
	MarkAsRead(ctx context.Context, messageID, roomID int64) error
	Close() error
}
