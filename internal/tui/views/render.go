package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/room"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

const (
	unreadDivider   = "여기서부터 안읽음"
	missingParent   = "삭제된 메시지입니다"
	imageLoading    = "📷 이미지 불러오는 중"
	imageFailed     = "📷 이미지를 불러올 수 없습니다"
	reportedLabel   = "신고됨"
	meLabel         = "나"
	fallbackPeerFmt = "회원 %d"
)

// Names resolves member ids to display names.
type Names struct {
	Me       int64
	Peer     int64
	PeerName string
}

func (n Names) label(id int64) string {
	switch {
	case id == n.Me:
		return meLabel
	case id == n.Peer && n.PeerName != "":
		return n.PeerName
	default:
		return fmt.Sprintf(fallbackPeerFmt, id)
	}
}

// Rendered is the text of a room and the line each confirmed message
// starts on.
type Rendered struct {
	Lines []string
	Index map[int64]int
}

// Text joins the lines for a TextView.
func (r Rendered) Text() string {
	return strings.Join(r.Lines, "\n")
}

// RenderTimeline lays rows out one element per line so message positions
// are known exactly. Lines carry tview color tags; user text is escaped.
func RenderTimeline(rows []room.Row, names Names, theme *ui.Theme, loc *time.Location) Rendered {
	if loc == nil {
		loc = time.Local
	}
	out := Rendered{Index: make(map[int64]int)}
	add := func(format string, args ...any) {
		out.Lines = append(out.Lines, fmt.Sprintf(format, args...))
	}
	muted := ui.Tag(theme.MutedColor)

	for _, r := range rows {
		switch r.Kind {
		case room.RowDate:
			add("[%s]──── %s ────[-]", ui.Tag(theme.DateColor), DateLabel(r.Date))
		case room.RowUnread:
			add("[%s]──── %s ────[-]", ui.Tag(theme.DividerColor), unreadDivider)
		case room.RowMessage:
			m := r.Message
			if m.ID != 0 {
				out.Index[m.ID] = len(out.Lines)
			}
			if r.FirstInGroup {
				color := ui.Tag(theme.PeerColor)
				if r.Mine {
					color = ui.Tag(theme.MineColor)
				}
				add("[%s::b]%s[-:-:-]", color, tview.Escape(names.label(m.SenderID)))
			}
			if r.Reply != nil {
				if r.Reply.Missing {
					add("  [%s]↳ %s[-]", muted, missingParent)
				} else {
					add("  [%s]↳ %s: %s[-]", muted,
						tview.Escape(names.label(r.Reply.SenderID)),
						tview.Escape(firstLine(sanitizeForTerminal(r.Reply.Text))))
				}
			}

			body := bodyLines(&r)
			suffix := ""
			if m.ID != 0 {
				suffix = fmt.Sprintf(" [%s]#%d[-]", muted, m.ID)
			}
			if m.Reported {
				suffix += fmt.Sprintf(" [%s](%s)[-]", muted, reportedLabel)
			}
			for i, line := range body {
				if i == 0 {
					add("  %s%s", line, suffix)
					continue
				}
				add("  %s", line)
			}

			if r.LastInGroup || r.StatusLabel == room.LabelFailed {
				trailer := ClockLabel(m.SentAt, loc)
				color := muted
				if r.StatusLabel != "" {
					trailer += " · " + r.StatusLabel
					if r.StatusLabel == room.LabelFailed {
						color = ui.Tag(theme.FailedColor)
					}
				}
				add("  [%s]%s[-]", color, trailer)
			}
		}
	}
	return out
}

func bodyLines(r *room.Row) []string {
	m := &r.Message
	var lines []string
	if m.IsImage() {
		switch {
		case r.Attachment.State == chat.AttachmentResolved && r.Attachment.Attachment != nil:
			name := r.Attachment.Attachment.OriginalFilename
			if name == "" {
				name = r.Attachment.Attachment.URL
			}
			lines = append(lines, "📷 "+tview.Escape(sanitizeForTerminal(name)))
		case r.Attachment.State == chat.AttachmentFailed:
			lines = append(lines, imageFailed)
		default:
			lines = append(lines, imageLoading)
		}
		if c := m.Caption(); c != "" {
			lines = append(lines, escapedLines(c)...)
		}
		return lines
	}
	lines = escapedLines(m.Content)
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}

func escapedLines(s string) []string {
	s = strings.TrimRight(sanitizeForTerminal(s), "\n")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "\n")
	for i, p := range parts {
		parts[i] = tview.Escape(p)
	}
	return parts
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// DateLabel renders a day like "2025년 3월 14일".
func DateLabel(d time.Time) string {
	return fmt.Sprintf("%d년 %d월 %d일", d.Year(), int(d.Month()), d.Day())
}

// ClockLabel renders a time like "오후 03:04" in loc.
func ClockLabel(t time.Time, loc *time.Location) string {
	lt := t.In(loc)
	period := "오전"
	h := lt.Hour()
	if h >= 12 {
		period = "오후"
	}
	h %= 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%s %02d:%02d", period, h, lt.Minute())
}
