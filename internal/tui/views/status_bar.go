package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// StatusBar displays the profile, the open room and the live link.
type StatusBar struct {
	*tview.TextView
	theme     *ui.Theme
	profile   string
	room      string
	state     string
	connected bool
	now       func() time.Time
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme, profile string) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	sb := &StatusBar{TextView: tv, theme: theme, profile: profile, now: time.Now}
	sb.render()
	return sb
}

// SetRoom updates the room title; empty clears it.
func (sb *StatusBar) SetRoom(title string) {
	sb.room = title
	sb.render()
}

// SetState updates the session state display.
func (sb *StatusBar) SetState(state string) {
	sb.state = state
	sb.render()
}

// SetConnected updates the live indicator.
func (sb *StatusBar) SetConnected(ok bool) {
	sb.connected = ok
	sb.render()
}

// Line returns the rendered status line.
func (sb *StatusBar) Line() string {
	link := fmt.Sprintf("[%s]offline[-]", ui.Tag(sb.theme.FailedColor))
	if sb.connected {
		link = "[green]live[-]"
	}
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s", tview.Escape(sb.profile), link)
	if sb.room != "" {
		line += " | " + tview.Escape(sb.room)
		if sb.state != "" {
			line += fmt.Sprintf(" [%s](%s)[-]", ui.Tag(sb.theme.MutedColor), sb.state)
		}
	}
	return line + " | " + sb.now().Format("15:04")
}

func (sb *StatusBar) render() {
	sb.Clear()
	_, _ = fmt.Fprint(sb, sb.Line())
}
