package views

import (
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// SearchView searches the loaded messages of the open room.
type SearchView struct {
	*tview.Flex
	theme   *ui.Theme
	names   Names
	loc     *time.Location
	input   *tview.InputField
	results *tview.Table
	data    []chat.Message
}

// NewSearchView creates a new search view.
func NewSearchView(theme *ui.Theme, loc *time.Location) *SearchView {
	input := tview.NewInputField().
		SetLabel(" Search: ").
		SetFieldWidth(0)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true)
	results.SetBorderColor(theme.BorderColor)
	results.SetBackgroundColor(theme.BgColor)
	results.SetTitle(" Results ")
	results.SetTitleColor(theme.TitleColor)
	results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(results, 0, 1, false)

	if loc == nil {
		loc = time.Local
	}
	return &SearchView{Flex: flex, theme: theme, loc: loc, input: input, results: results}
}

// Reset clears the query and results for a room.
func (sv *SearchView) Reset(names Names) {
	sv.names = names
	sv.input.SetText("")
	sv.Update(nil)
}

// SetOnQuery sets the callback run when a query is submitted.
func (sv *SearchView) SetOnQuery(fn func(query string)) {
	sv.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && fn != nil {
			fn(sv.input.GetText())
		}
	})
}

// SetOnSelect sets the callback run when a result is chosen.
func (sv *SearchView) SetOnSelect(fn func(messageID int64)) {
	sv.results.SetSelectedFunc(func(row, _ int) {
		if id := sv.idAt(row); id != 0 && fn != nil {
			fn(id)
		}
	})
}

// Update refreshes search results.
func (sv *SearchView) Update(results []chat.Message) {
	sv.data = results
	sv.results.Clear()

	headers := []string{" FROM", " MESSAGE", " TIME"}
	for col, h := range headers {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.TableHeaderFg).
			SetBackgroundColor(sv.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}

	for i := range results {
		m := &results[i]
		row := i + 1
		text := m.Content
		if m.IsImage() {
			text = chat.ImagePlaceholder + " " + m.Caption()
		}
		when := DateLabel(m.SentAt.In(sv.loc)) + " " + ClockLabel(m.SentAt, sv.loc)
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sv.names.label(m.SenderID))).SetMaxWidth(20).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(firstLine(sanitizeForTerminal(text)))).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+when).SetTextColor(sv.theme.FgColor))
	}
}

func (sv *SearchView) idAt(row int) int64 {
	idx := row - 1
	if idx >= 0 && idx < len(sv.data) {
		return sv.data[idx].ID
	}
	return 0
}

// Input returns the search input field.
func (sv *SearchView) Input() *tview.InputField { return sv.input }

// Results returns the results table.
func (sv *SearchView) Results() *tview.Table { return sv.results }
