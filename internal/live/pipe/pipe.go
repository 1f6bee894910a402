// Package pipe is an in-process live transport. Each connection is a pair
// of frame queues; closing either end closes both.
package pipe

import (
	"context"
	"errors"
	"sync"

	"github.com/matheus3301/chatsync/internal/live"
)

// ErrClosed is returned by operations on a closed end.
var ErrClosed = errors.New("pipe closed")

type link struct {
	once sync.Once
	done chan struct{}
}

func (l *link) close() { l.once.Do(func() { close(l.done) }) }

// End is one side of a pipe. It implements live.Conn.
type End struct {
	in   <-chan live.Frame
	out  chan<- live.Frame
	link *link
}

// Pair returns two connected ends. Each direction buffers size frames.
func Pair(size int) (*End, *End) {
	ab := make(chan live.Frame, size)
	ba := make(chan live.Frame, size)
	l := &link{done: make(chan struct{})}
	return &End{in: ba, out: ab, link: l}, &End{in: ab, out: ba, link: l}
}

// ReadFrame blocks until a frame arrives, ctx is done or the pipe closes.
func (e *End) ReadFrame(ctx context.Context) (live.Frame, error) {
	select {
	case f := <-e.in:
		return f, nil
	case <-e.link.done:
		return live.Frame{}, ErrClosed
	case <-ctx.Done():
		return live.Frame{}, ctx.Err()
	}
}

// WriteFrame queues f for the other end.
func (e *End) WriteFrame(ctx context.Context, f live.Frame) error {
	select {
	case <-e.link.done:
		return ErrClosed
	default:
	}
	select {
	case e.out <- f:
		return nil
	case <-e.link.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes both ends. It is idempotent.
func (e *End) Close() error {
	e.link.close()
	return nil
}

// Done is closed when the pipe closes.
func (e *End) Done() <-chan struct{} { return e.link.done }

// Listener is a live.Dialer whose connections are accepted in-process.
type Listener struct {
	size    int
	accepts chan *End
	mu      sync.Mutex
	closed  bool
	refuse  bool
	done    chan struct{}
}

// Listen creates a listener whose pipes buffer size frames per direction.
func Listen(size int) *Listener {
	return &Listener{size: size, accepts: make(chan *End, 16), done: make(chan struct{})}
}

// Dial creates a pipe and hands the server end to Accept.
func (l *Listener) Dial(ctx context.Context) (live.Conn, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	if l.refuse {
		l.mu.Unlock()
		return nil, errors.New("pipe: connection refused")
	}
	l.mu.Unlock()

	client, server := Pair(l.size)
	select {
	case l.accepts <- server:
		return client, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Accept returns the server end of the next dialed pipe.
func (l *Listener) Accept(ctx context.Context) (*End, error) {
	select {
	case e := <-l.accepts:
		return e, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Refuse makes later dials fail until called again with false.
func (l *Listener) Refuse(refuse bool) {
	l.mu.Lock()
	l.refuse = refuse
	l.mu.Unlock()
}

// Close stops accepting connections.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
	return nil
}
