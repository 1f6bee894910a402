// Package attach resolves image attachment metadata in the background.
package attach

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/chat"
)

// Fetcher loads the attachment of one message.
type Fetcher interface {
	FetchAttachment(ctx context.Context, messageID int64) (chat.Attachment, error)
}

// Sink receives resolution results. msgstore.Store implements it.
type Sink interface {
	MarkAttachmentPending(id int64) bool
	SetAttachment(id int64, a chat.Attachment) bool
	SetAttachmentFailed(id int64) bool
}

// SettledFunc is called once per resolution that completed before Close.
// err is nil on success.
type SettledFunc func(messageID int64, err error)

// Resolver runs one goroutine per message. Results never reach the sink
// after Close.
type Resolver struct {
	ctx     context.Context
	cancel  context.CancelFunc
	fetcher Fetcher
	sink    Sink
	log     *zap.Logger

	mu        sync.Mutex
	inflight  map[int64]context.CancelFunc
	done      map[int64]bool
	closed    bool
	onSettled SettledFunc
	wg        sync.WaitGroup
}

// New creates a resolver whose goroutines are bound to parent.
func New(parent context.Context, f Fetcher, sink Sink, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Resolver{
		ctx:      ctx,
		cancel:   cancel,
		fetcher:  f,
		sink:     sink,
		log:      log,
		inflight: make(map[int64]context.CancelFunc),
		done:     make(map[int64]bool),
	}
}

// OnSettled registers fn. It must be set before the first Resolve.
func (r *Resolver) OnSettled(fn SettledFunc) {
	r.mu.Lock()
	r.onSettled = fn
	r.mu.Unlock()
}

// Resolve starts fetching the attachment of messageID. It returns false when
// the resolver is closed or the message is already in flight or settled.
func (r *Resolver) Resolve(messageID int64) bool {
	return r.ResolveAfter(messageID, 0)
}

// ResolveAfter is Resolve with the fetch deferred by delay. Live image
// messages use it because the upload completes after the message is sent.
func (r *Resolver) ResolveAfter(messageID int64, delay time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.done[messageID] {
		return false
	}
	if _, busy := r.inflight[messageID]; busy {
		return false
	}
	if !r.sink.MarkAttachmentPending(messageID) {
		return false
	}

	ctx, cancel := context.WithCancel(r.ctx)
	r.inflight[messageID] = cancel
	r.wg.Add(1)
	go r.run(ctx, messageID, delay)
	return true
}

func (r *Resolver) run(ctx context.Context, id int64, delay time.Duration) {
	defer r.wg.Done()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			r.forget(id)
			return
		}
	}

	a, err := r.fetcher.FetchAttachment(ctx, id)

	r.mu.Lock()
	if r.closed || ctx.Err() != nil {
		delete(r.inflight, id)
		r.mu.Unlock()
		r.log.Debug("attachment result discarded", zap.Int64("message_idx", id))
		return
	}
	delete(r.inflight, id)
	r.done[id] = true
	if err != nil {
		r.log.Warn("attachment fetch failed", zap.Int64("message_idx", id), zap.Error(err))
		r.sink.SetAttachmentFailed(id)
	} else {
		r.sink.SetAttachment(id, a)
	}
	settled := r.onSettled
	r.mu.Unlock()

	if settled != nil {
		settled(id, err)
	}
}

func (r *Resolver) forget(id int64) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

// InFlight returns the number of unsettled resolutions.
func (r *Resolver) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// Cancel aborts the resolution of messageID, if any.
func (r *Resolver) Cancel(messageID int64) {
	r.mu.Lock()
	cancel, ok := r.inflight[messageID]
	delete(r.inflight, messageID)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Close cancels every resolution. It does not wait for the goroutines to
// exit; use Wait for that.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	clear(r.inflight)
	r.mu.Unlock()
	r.cancel()
}

// Wait blocks until every started goroutine has returned.
func (r *Resolver) Wait() {
	r.wg.Wait()
}
