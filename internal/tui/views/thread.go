package views

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// Thread shows the timeline of the open room above a composer. It is the
// scroll viewport of the room session: positioning requests arrive from
// other goroutines and are applied through queue.
type Thread struct {
	*tview.Flex
	theme    *ui.Theme
	text     *tview.TextView
	composer *tview.InputField
	queue    func(func())
	onSubmit func(text string) bool

	mu     sync.Mutex
	lines  int
	index  map[int64]int
	follow atomic.Bool
}

// NewThread creates an empty thread. queue must run f on the UI goroutine;
// nil runs it inline.
func NewThread(theme *ui.Theme, queue func(func())) *Thread {
	text := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	text.SetBorder(true)
	text.SetBorderColor(theme.BorderColor)
	text.SetTitleColor(theme.TitleColor)
	text.SetBackgroundColor(theme.BgColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(text, 0, 1, false).
		AddItem(composer, 1, 0, true)

	if queue == nil {
		queue = func(f func()) { f() }
	}
	t := &Thread{
		Flex:     flex,
		theme:    theme,
		text:     text,
		composer: composer,
		queue:    queue,
		index:    make(map[int64]int),
	}
	t.follow.Store(true)
	text.SetInputCapture(t.captureScroll)
	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			t.submit()
		}
	})
	return t
}

// SetRoomTitle sets the border title.
func (t *Thread) SetRoomTitle(title string) {
	t.text.SetTitle(" " + tview.Escape(title) + " ")
}

// SetContent replaces the timeline. Must run on the UI goroutine.
func (t *Thread) SetContent(r Rendered) {
	t.mu.Lock()
	t.lines = len(r.Lines)
	t.index = r.Index
	t.mu.Unlock()

	row, col := t.text.GetScrollOffset()
	t.text.SetText(r.Text())
	if t.follow.Load() {
		t.text.ScrollToEnd()
	} else {
		t.text.ScrollTo(row, col)
	}
}

// Reset clears the timeline for a new room.
func (t *Thread) Reset() {
	t.SetContent(Rendered{Index: map[int64]int{}})
	t.composer.SetText("")
	t.follow.Store(true)
}

// Ready reports whether the message is in the rendered timeline.
func (t *Thread) Ready(messageID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.index[messageID]
	return ok
}

// AlignTop scrolls so the message is the first visible line.
func (t *Thread) AlignTop(messageID int64) {
	t.mu.Lock()
	line, ok := t.index[messageID]
	t.mu.Unlock()
	if !ok {
		return
	}
	t.follow.Store(false)
	t.queue(func() { t.text.ScrollTo(line, 0) })
}

// ScrollToBottom pins the view to the newest message.
func (t *Thread) ScrollToBottom() {
	t.follow.Store(true)
	t.queue(func() { t.text.ScrollToEnd() })
}

// AtBottom reports whether the newest message is in view.
func (t *Thread) AtBottom() bool {
	return t.follow.Load()
}

func (t *Thread) captureScroll(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyUp, tcell.KeyPgUp, tcell.KeyHome:
		t.follow.Store(false)
	case tcell.KeyEnd:
		t.follow.Store(true)
	case tcell.KeyDown, tcell.KeyPgDn:
		_, _, _, height := t.text.GetInnerRect()
		row, _ := t.text.GetScrollOffset()
		step := 1
		if event.Key() == tcell.KeyPgDn {
			step = height
		}
		t.mu.Lock()
		lines := t.lines
		t.mu.Unlock()
		if row+step+height >= lines {
			t.follow.Store(true)
		}
	case tcell.KeyRune:
		switch event.Rune() {
		case 'k':
			t.follow.Store(false)
		case 'G':
			t.follow.Store(true)
			t.text.ScrollToEnd()
			return nil
		}
	}
	return event
}

// SetOnSubmit sets the callback for composer input. The composer is
// cleared when fn returns true.
func (t *Thread) SetOnSubmit(fn func(text string) bool) {
	t.onSubmit = fn
}

func (t *Thread) submit() {
	text := strings.TrimSpace(t.composer.GetText())
	if text == "" || t.onSubmit == nil {
		return
	}
	if t.onSubmit(text) {
		t.composer.SetText("")
	}
}

// Composer returns the input field.
func (t *Thread) Composer() *tview.InputField { return t.composer }

// Text returns the timeline view.
func (t *Thread) Text() *tview.TextView { return t.text }
