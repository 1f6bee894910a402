package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/client"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/room"
	"github.com/matheus3301/chatsync/internal/tui/keys"
	"github.com/matheus3301/chatsync/internal/tui/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/matheus3301/chatsync/internal/tui/views"
)

const (
	pageRooms  = "rooms"
	pageRoom   = "room"
	pageSearch = "search"

	refreshInterval = 5 * time.Second
	requestTimeout  = 10 * time.Second
)

var signalText = map[room.Signal]string{
	room.LoginRequired: "로그인이 필요합니다",
	room.AccessDenied:  "채팅방에 접근할 수 없습니다",
	room.LeaveRoom:     "채팅방이 존재하지 않습니다",
}

// Params configure the TUI.
type Params struct {
	Config  *config.Config
	Profile string
	Client  *client.Client
	Logger  *zap.Logger
}

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	pages    *tview.Pages
	theme    *ui.Theme
	cfg      *config.Config
	client   *client.Client
	log      *zap.Logger
	registry *keys.Registry

	rooms *model.Rooms
	flash *model.Flash

	statusBar *views.StatusBar
	flashBar  *ui.FlashBar
	hints     *tview.TextView
	roomList  *views.RoomList
	thread    *views.Thread
	search    *views.SearchView

	ctx    context.Context
	cancel context.CancelFunc

	renderPending atomic.Bool

	mu      sync.Mutex
	gen     uint64
	session *room.Session
	current model.RoomItem
}

// NewApp creates the TUI application.
func NewApp(p Params) *App {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		theme:     theme,
		cfg:       p.Config,
		client:    p.Client,
		log:       log,
		registry:  keys.NewRegistry(),
		rooms:     model.NewRooms(p.Client.Backend, log.Named("rooms")),
		flash:     &model.Flash{},
		statusBar: views.NewStatusBar(theme, p.Profile),
		flashBar:  ui.NewFlashBar(theme),
		hints:     tview.NewTextView().SetDynamicColors(true),
		roomList:  views.NewRoomList(theme),
		search:    views.NewSearchView(theme, p.Config.Location()),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.thread = views.NewThread(theme, func(f func()) {
		go a.app.QueueUpdateDraw(f)
	})
	a.statusBar.SetConnected(p.Client.Live.Connected())

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: 'q',
		Description: "q:quit", Visible: true,
		Handler: a.Stop,
	})
	a.registry.AddPage(pageRooms, &keys.Action{
		Key: tcell.KeyRune, Rune: 'r',
		Description: "r:refresh", Visible: true,
		Handler: func() { go a.refreshRooms() },
	})
	a.registry.AddPage(pageRooms, &keys.Action{
		Key: tcell.KeyEnter, Description: "enter:open", Visible: true,
		Handler: func() {
			if item, ok := a.roomList.Selected(); ok {
				a.openRoom(item)
			}
		},
	})
	a.registry.AddPage(pageRoom, &keys.Action{
		Key: tcell.KeyRune, Rune: 'i',
		Description: "i:compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.registry.AddPage(pageRoom, &keys.Action{
		Key: tcell.KeyRune, Rune: '/',
		Description: "/:search", Visible: true,
		Handler: func() { a.showSearch("") },
	})
	a.registry.AddPage(pageRoom, &keys.Action{
		Key: tcell.KeyEscape, Description: "esc:rooms", Visible: true,
		Handler: a.leaveRoom,
	})
	a.registry.AddPage(pageSearch, &keys.Action{
		Key: tcell.KeyEscape, Description: "esc:back", Visible: true,
		Handler: a.showRoom,
	})
}

func (a *App) setupCallbacks() {
	a.thread.SetOnSubmit(a.submit)
	a.search.SetOnQuery(func(query string) {
		sess := a.currentSession()
		if sess == nil {
			return
		}
		a.search.Update(sess.Search(query))
		a.app.SetFocus(a.search.Results())
	})
	a.search.SetOnSelect(func(id int64) {
		a.showRoom()
		a.thread.AlignTop(id)
	})
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageRooms, a.roomList, true, true)
	a.pages.AddPage(pageRoom, a.thread, true, false)
	a.pages.AddPage(pageSearch, a.search, true, false)
	a.pages.SetChangedFunc(a.updateHints)
	a.hints.SetBackgroundColor(a.theme.BgColor)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.flashBar, 1, 0, false).
		AddItem(a.hints, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		page, _ := a.pages.GetFrontPage()

		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			// Esc leaves the input field rather than the page.
			if event.Key() == tcell.KeyEscape && page == pageRoom {
				a.app.SetFocus(a.thread.Text())
				return nil
			}
			if event.Key() != tcell.KeyEscape {
				return event
			}
		}

		if a.registry.HandleEvent(page, event) {
			return nil
		}
		return event
	})
	a.updateHints()
}

func (a *App) updateHints() {
	page, _ := a.pages.GetFrontPage()
	a.hints.Clear()
	_, _ = fmt.Fprintf(a.hints, " [%s]%s[-]", ui.Tag(a.theme.MenuKeyColor), strings.Join(a.registry.Hints(page), "  "))
}

func (a *App) currentSession() *room.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *App) openRoom(item model.RoomItem) {
	a.closeSession()
	a.thread.Reset()
	a.thread.SetRoomTitle(item.Title)
	a.statusBar.SetRoom(item.Title)
	a.pages.SwitchToPage(pageRoom)
	a.app.SetFocus(a.thread.Composer())

	a.mu.Lock()
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	go func() {
		sess, err := room.Open(a.ctx, room.Params{
			RoomID:   item.Room.ID,
			Me:       a.rooms.Me(),
			Room:     &item.Room,
			Backend:  a.client.Backend,
			Live:     a.client.Live,
			Viewport: a.thread,
			Bus:      a.client.Bus,
			Observer: metrics.Recorder{},
			Logger:   a.log.Named("room"),
			Options:  a.cfg.RoomOptions(),
		})
		if err != nil {
			a.log.Warn("open room failed", zap.Int64("room", item.Room.ID), zap.Error(err))
			a.app.QueueUpdateDraw(func() {
				a.flash.Err(fmt.Errorf("채팅방을 열 수 없습니다: %w", err))
				a.showRooms()
			})
			return
		}

		a.mu.Lock()
		if a.gen != gen {
			// Left or switched rooms while opening.
			a.mu.Unlock()
			sess.Close()
			return
		}
		a.session = sess
		a.current = item
		a.mu.Unlock()
		a.rooms.ClearUnread(item.Room.ID)

		go a.watchSignals(sess)
		a.scheduleRender()
	}()
}

func (a *App) watchSignals(sess *room.Session) {
	for sig := range sess.Signals() {
		a.log.Info("room signal", zap.String("signal", string(sig)))
		text := signalText[sig]
		a.app.QueueUpdateDraw(func() {
			if a.currentSession() != sess {
				return
			}
			a.flash.Warn(text)
			a.leaveRoom()
		})
	}
}

// closeSession detaches the open session and tears it down off the UI
// goroutine.
func (a *App) closeSession() {
	a.mu.Lock()
	sess := a.session
	a.gen++
	a.session = nil
	a.current = model.RoomItem{}
	a.mu.Unlock()
	if sess != nil {
		go func() {
			sess.Close()
			sess.Wait()
		}()
	}
}

func (a *App) leaveRoom() {
	a.closeSession()
	a.statusBar.SetRoom("")
	a.showRooms()
	go a.refreshRooms()
}

func (a *App) showRooms() {
	a.pages.SwitchToPage(pageRooms)
	a.app.SetFocus(a.roomList)
}

func (a *App) showRoom() {
	a.pages.SwitchToPage(pageRoom)
	a.app.SetFocus(a.thread.Composer())
}

func (a *App) showSearch(query string) {
	sess := a.currentSession()
	if sess == nil {
		return
	}
	a.mu.Lock()
	names := a.namesLocked(sess)
	a.mu.Unlock()
	a.search.Reset(names)
	a.pages.SwitchToPage(pageSearch)
	if query != "" {
		a.search.Input().SetText(query)
		a.search.Update(sess.Search(query))
		a.app.SetFocus(a.search.Results())
		return
	}
	a.app.SetFocus(a.search.Input())
}

func (a *App) namesLocked(sess *room.Session) views.Names {
	me := sess.Me()
	return views.Names{Me: me, Peer: sess.Peer(), PeerName: a.current.Room.DisplayName(me)}
}

// scheduleRender coalesces redraw requests into one queued update.
func (a *App) scheduleRender() {
	if !a.renderPending.CompareAndSwap(false, true) {
		return
	}
	go a.app.QueueUpdateDraw(func() {
		a.renderPending.Store(false)
		a.render()
	})
}

func (a *App) render() {
	a.mu.Lock()
	sess := a.session
	if sess == nil {
		a.mu.Unlock()
		return
	}
	names := a.namesLocked(sess)
	a.mu.Unlock()

	rows := sess.Timeline()
	a.thread.SetContent(views.RenderTimeline(rows, names, a.theme, a.cfg.Location()))
	a.statusBar.SetState(string(sess.State()))
}

// submit handles composer input. It returns true when the input was
// consumed and the composer can be cleared.
func (a *App) submit(text string) bool {
	sess := a.currentSession()
	if sess == nil {
		return false
	}
	if strings.HasPrefix(text, "/") {
		return a.runCommand(sess, ParseCommand(text[1:]))
	}
	if _, err := sess.Send(text); err != nil {
		a.flash.Err(fmt.Errorf("전송 실패: %w", err))
		return false
	}
	return true
}

func (a *App) runCommand(sess *room.Session, cmd Command) bool {
	switch cmd.Name {
	case CmdReply:
		id, text, err := cmd.IDArg()
		if err == nil && text == "" {
			err = errors.New("reply text required")
		}
		if err == nil {
			_, err = sess.Reply(id, text)
		}
		return a.commandResult(cmd, err)
	case CmdImage:
		_, err := sess.SendImage(cmd.Args)
		return a.commandResult(cmd, err)
	case CmdRetry:
		n := 0
		for _, m := range sess.Snapshot().Messages {
			if m.Status != chat.StatusFailed {
				continue
			}
			if err := sess.Retry(m.ClientTempID); err != nil {
				return a.commandResult(cmd, err)
			}
			n++
		}
		a.flash.Info(fmt.Sprintf("재전송 %d건", n))
		return true
	case CmdDelete:
		id, _, err := cmd.IDArg()
		if err != nil {
			return a.commandResult(cmd, err)
		}
		go a.remote(cmd, func(ctx context.Context) error { return sess.Delete(ctx, id) })
		return true
	case CmdReport:
		id, reason, err := cmd.IDArg()
		if err == nil && reason == "" {
			err = errors.New("report reason required")
		}
		if err != nil {
			return a.commandResult(cmd, err)
		}
		go a.remote(cmd, func(ctx context.Context) error { return sess.Report(ctx, id, reason) })
		return true
	case CmdSearch:
		a.showSearch(cmd.Args)
		return true
	case CmdLeave:
		a.leaveRoom()
		return true
	case CmdHelp:
		a.flash.Info(CommandHelp)
		return true
	default:
		a.flash.Warn(fmt.Sprintf("unknown command /%s", cmd.Name))
		return false
	}
}

func (a *App) commandResult(cmd Command, err error) bool {
	if err != nil {
		a.flash.Err(fmt.Errorf("/%s: %w", cmd.Name, err))
		return false
	}
	return true
}

func (a *App) remote(cmd Command, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
	defer cancel()
	err := fn(ctx)
	if err != nil {
		a.log.Warn("command failed", zap.String("command", cmd.Name), zap.Error(err))
	}
	a.app.QueueUpdateDraw(func() {
		if err != nil {
			a.commandResult(cmd, err)
			return
		}
		a.flash.Info(fmt.Sprintf("/%s 완료", cmd.Name))
	})
	a.scheduleRender()
}

func (a *App) refreshRooms() {
	ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
	defer cancel()
	err := a.rooms.Load(ctx)
	a.app.QueueUpdateDraw(func() {
		if err != nil {
			if errors.Is(err, backend.ErrUnauthorized) {
				a.flash.Err(fmt.Errorf("%s: %w", signalText[room.LoginRequired], err))
			} else {
				a.flash.Warn("채팅방 목록을 불러오지 못했습니다")
			}
			return
		}
		a.roomList.Update(a.rooms.Items())
	})
}

// watchBus redraws the open room on its events and tracks the live link.
func (a *App) watchBus() {
	events, unsubscribe := a.client.Bus.Subscribe("", 256)
	defer unsubscribe()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch {
			case ev.Kind == bus.LiveConnected || ev.Kind == bus.LiveDisconnected:
				connected := ev.Kind == bus.LiveConnected
				a.app.QueueUpdateDraw(func() { a.statusBar.SetConnected(connected) })
			case strings.HasPrefix(ev.Kind, "room.") || strings.HasPrefix(ev.Kind, "message."):
				if sess := a.currentSession(); sess != nil && sess.RoomID() == ev.RoomID {
					a.scheduleRender()
				}
			}
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) startRefreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				page, _ := a.pages.GetFrontPage()
				if page == pageRooms {
					a.refreshRooms()
				}
				a.app.QueueUpdateDraw(func() {
					a.flashBar.Update(a.flash.Current())
					a.statusBar.SetConnected(a.client.Live.Connected())
				})
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

// Run starts the TUI application.
func (a *App) Run() error {
	a.flash.SetOnChange(func() {
		go a.app.QueueUpdateDraw(func() { a.flashBar.Update(a.flash.Current()) })
	})
	go a.refreshRooms()
	go a.watchBus()
	a.startRefreshLoop()
	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.closeSession()
	a.cancel()
	a.app.Stop()
}
