// Package scroll decides where a room view should be positioned once its
// history and images have loaded.
package scroll

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Viewport is the rendering surface the planner drives.
type Viewport interface {
	// Ready reports whether the message has been laid out.
	Ready(messageID int64) bool
	AlignTop(messageID int64)
	ScrollToBottom()
}

// BottomReporter is implemented by viewports that know whether the user is
// looking at the newest message.
type BottomReporter interface {
	AtBottom() bool
}

// State is the planner state.
type State string

const (
	Idle           State = "IDLE"
	AwaitingImages State = "AWAITING_IMAGES"
	Positioned     State = "POSITIONED"
)

var validTransitions = map[State][]State{
	Idle:           {AwaitingImages, Positioned},
	AwaitingImages: {Positioned},
	Positioned:     {},
}

// RetryPolicy bounds the wait for the anchor to be laid out.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy allows ten attempts 100ms apart.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 10, Backoff: 100 * time.Millisecond}

// Options configure a Planner. Zero durations use the defaults.
type Options struct {
	Retry RetryPolicy
	// InitialDelay precedes the first positioning. Default 200ms.
	InitialDelay time.Duration
	// SettleDelay precedes the second anchor alignment. Default 100ms.
	SettleDelay time.Duration
	// PreserveWhenReading keeps the position on new messages when the
	// viewport reports the user has scrolled away from the bottom.
	PreserveWhenReading bool
}

func (o Options) withDefaults() Options {
	if o.Retry.MaxAttempts <= 0 {
		o.Retry.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if o.Retry.Backoff <= 0 {
		o.Retry.Backoff = DefaultRetryPolicy.Backoff
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 200 * time.Millisecond
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 100 * time.Millisecond
	}
	return o
}

// TargetKind says where the view ended up.
type TargetKind string

const (
	TargetBottom   TargetKind = "bottom"
	TargetAnchor   TargetKind = "anchor"
	TargetFallback TargetKind = "fallback"
)

// Target describes the initial positioning.
type Target struct {
	Kind      TargetKind
	MessageID int64
	Attempts  int
}

// Planner is a one-shot state machine per room session.
type Planner struct {
	vp   Viewport
	opts Options
	log  *zap.Logger

	mu           sync.Mutex
	state        State
	anchor       int64
	hasAnchor    bool
	pending      int
	timers       map[*time.Timer]struct{}
	closed       bool
	onPositioned func(Target)
}

// New creates a planner in Idle.
func New(vp Viewport, opts Options, log *zap.Logger) *Planner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Planner{
		vp:     vp,
		opts:   opts.withDefaults(),
		log:    log,
		state:  Idle,
		timers: make(map[*time.Timer]struct{}),
	}
}

// OnPositioned registers fn, called once when the initial position is set.
func (p *Planner) OnPositioned(fn func(Target)) {
	p.mu.Lock()
	p.onPositioned = fn
	p.mu.Unlock()
}

// State returns the current state.
func (p *Planner) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Pending returns the number of images still awaited.
func (p *Planner) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

func (p *Planner) transition(to State) error {
	if !slices.Contains(validTransitions[p.state], to) {
		return fmt.Errorf("invalid transition from %s to %s", p.state, to)
	}
	p.state = to
	return nil
}

// Hydrated starts positioning. anchor is ignored unless hasAnchor is set;
// pendingImages is the number of image messages still resolving.
func (p *Planner) Hydrated(anchor int64, hasAnchor bool, pendingImages int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.state != Idle {
		return
	}
	p.anchor, p.hasAnchor = anchor, hasAnchor
	p.pending = max(pendingImages, 0)
	if p.pending > 0 {
		if err := p.transition(AwaitingImages); err != nil {
			p.log.Warn("planner transition", zap.Error(err))
		}
		return
	}
	p.scheduleLocked(p.opts.InitialDelay, p.position)
}

// ImageSettled records that one image finished loading, successfully or not.
func (p *Planner) ImageSettled() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	switch p.state {
	case AwaitingImages:
		if p.pending > 0 {
			p.pending--
		}
		if p.pending == 0 {
			p.scheduleLocked(p.opts.InitialDelay, p.position)
		}
		p.mu.Unlock()
	case Positioned:
		p.mu.Unlock()
		// Layout grew; keep the newest message in view if it was.
		if r, ok := p.vp.(BottomReporter); ok && r.AtBottom() {
			p.vp.ScrollToBottom()
		}
	default:
		p.mu.Unlock()
	}
}

// MessageArrived handles a live message. Once positioned the view follows
// to the bottom unless PreserveWhenReading applies.
func (p *Planner) MessageArrived() {
	p.mu.Lock()
	if p.closed || p.state != Positioned {
		p.mu.Unlock()
		return
	}
	preserve := p.opts.PreserveWhenReading
	p.mu.Unlock()

	if preserve {
		if r, ok := p.vp.(BottomReporter); ok && !r.AtBottom() {
			return
		}
	}
	p.vp.ScrollToBottom()
}

func (p *Planner) position() {
	p.mu.Lock()
	if p.closed || p.state == Positioned {
		p.mu.Unlock()
		return
	}
	anchor, hasAnchor := p.anchor, p.hasAnchor
	p.mu.Unlock()

	if !hasAnchor {
		p.vp.ScrollToBottom()
		p.finish(Target{Kind: TargetBottom})
		return
	}
	p.attempt(anchor, 1)
}

func (p *Planner) attempt(anchor int64, n int) {
	if p.isClosed() {
		return
	}
	if p.vp.Ready(anchor) {
		p.vp.AlignTop(anchor)
		p.finish(Target{Kind: TargetAnchor, MessageID: anchor, Attempts: n})
		p.schedule(p.opts.SettleDelay, func() {
			if !p.isClosed() && p.vp.Ready(anchor) {
				p.vp.AlignTop(anchor)
			}
		})
		return
	}
	if n >= p.opts.Retry.MaxAttempts {
		p.log.Debug("anchor never laid out, falling back to bottom",
			zap.Int64("message_idx", anchor), zap.Int("attempts", n))
		p.vp.ScrollToBottom()
		p.finish(Target{Kind: TargetFallback, MessageID: anchor, Attempts: n})
		return
	}
	p.schedule(p.opts.Retry.Backoff, func() { p.attempt(anchor, n+1) })
}

func (p *Planner) finish(t Target) {
	p.mu.Lock()
	if p.closed || p.state == Positioned {
		p.mu.Unlock()
		return
	}
	if err := p.transition(Positioned); err != nil {
		p.mu.Unlock()
		p.log.Warn("planner transition", zap.Error(err))
		return
	}
	fn := p.onPositioned
	p.mu.Unlock()

	if fn != nil {
		fn(t)
	}
}

func (p *Planner) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Planner) schedule(d time.Duration, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scheduleLocked(d, fn)
}

func (p *Planner) scheduleLocked(d time.Duration, fn func()) {
	if p.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		p.mu.Lock()
		delete(p.timers, t)
		p.mu.Unlock()
		fn()
	})
	p.timers[t] = struct{}{}
}

// Close stops every pending retry and settle timer.
func (p *Planner) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for t := range p.timers {
		t.Stop()
		delete(p.timers, t)
	}
}
