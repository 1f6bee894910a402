package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/tui/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// RoomList is the table of the member's rooms.
type RoomList struct {
	*tview.Table
	theme *ui.Theme
	items []model.RoomItem
}

// NewRoomList creates a new room list table.
func NewRoomList(theme *ui.Theme) *RoomList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Rooms ")
	table.SetBorderColor(theme.BorderColor)
	table.SetTitleColor(theme.TitleColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	return &RoomList{Table: table, theme: theme}
}

// Update refreshes the table, keeping the selected room when it is still
// listed.
func (rl *RoomList) Update(items []model.RoomItem) {
	selected, hadSelection := rl.Selected()
	rl.items = items
	rl.Clear()

	headers := []string{" ROOM", " UNREAD", " SINCE"}
	for col, h := range headers {
		rl.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(rl.theme.TableHeaderFg).
			SetBackgroundColor(rl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}

	for i, item := range items {
		row := i + 1
		title := tview.Escape(sanitizeForTerminal(item.Title))
		unread := ""
		color := rl.theme.FgColor
		if item.Unread > 0 {
			title = "* " + title
			unread = fmt.Sprintf("%d", item.Unread)
			color = rl.theme.CounterColor
		}
		since := ""
		if !item.Room.CreatedAt.IsZero() {
			since = DateLabel(item.Room.CreatedAt)
		}
		rl.SetCell(row, 0, tview.NewTableCell(" "+title).SetExpansion(1).SetTextColor(color))
		rl.SetCell(row, 1, tview.NewTableCell(" "+unread).SetTextColor(color))
		rl.SetCell(row, 2, tview.NewTableCell(" "+since).SetTextColor(rl.theme.FgColor))

		if hadSelection && item.Room.ID == selected.Room.ID {
			rl.Select(row, 0)
		}
	}
}

// Selected returns the highlighted room.
func (rl *RoomList) Selected() (model.RoomItem, bool) {
	row, _ := rl.GetSelection()
	return rl.itemAt(row)
}

func (rl *RoomList) itemAt(row int) (model.RoomItem, bool) {
	idx := row - 1
	if idx >= 0 && idx < len(rl.items) {
		return rl.items[idx], true
	}
	return model.RoomItem{}, false
}
