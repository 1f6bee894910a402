package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/client"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/paths"
	"github.com/matheus3301/chatsync/internal/room"
)

const component = "chatsyncctl"

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides $CHATSYNC_PROFILE)")
	configFlag := flag.String("config", "", "config file (default ~/.chatsync/<profile>/config.toml)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeoutFlag := flag.Duration("timeout", 10*time.Second, "timeout for one-shot commands")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	profile := paths.Resolve(*profileFlag)
	if err := paths.ValidateName(profile); err != nil {
		fatalf("%v", err)
	}
	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = paths.ConfigPath(profile)
	}
	cfg, err := config.Resolve(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	log, err := logging.New(paths.LogPath(profile, component), component, profile, logging.Options{Level: cfg.LogLevel})
	if err != nil {
		fatalf("logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	c, err := client.New(cfg, log)
	if err != nil {
		fatalf("%v", err)
	}
	defer func() { _ = c.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &command{cfg: cfg, client: c, log: log, json: *jsonFlag, timeout: *timeoutFlag}
	switch args[0] {
	case "rooms":
		err = cmd.rooms(ctx)
	case "history":
		err = cmd.history(ctx, args[1:])
	case "send":
		err = cmd.send(ctx, args[1:])
	case "tail":
		err = cmd.tail(ctx, args[1:])
	case "delete":
		err = cmd.remove(ctx, args[1:])
	case "report":
		err = cmd.report(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fatalf("%v", err)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsyncctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  rooms                        List rooms with unread counts")
	fmt.Fprintln(os.Stderr, "  history <room>               Print the history of a room")
	fmt.Fprintln(os.Stderr, "  send <room> <text>           Send a message and wait for the echo")
	fmt.Fprintln(os.Stderr, "  tail <room>                  Follow a room until interrupted")
	fmt.Fprintln(os.Stderr, "  delete <message>             Delete one of your messages")
	fmt.Fprintln(os.Stderr, "  report <message> <reason>    Report a message")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

type command struct {
	cfg     *config.Config
	client  *client.Client
	log     *zap.Logger
	json    bool
	timeout time.Duration
}

type roomRow struct {
	chat.Room
	Title  string `json:"title"`
	Unread int    `json:"unread"`
}

func (c *command) rooms(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	me, err := c.client.Backend.MemberInfo(ctx)
	if err != nil {
		return err
	}
	rooms, err := c.client.Backend.ListRooms(ctx)
	if err != nil {
		return err
	}
	out := make([]roomRow, 0, len(rooms))
	for _, r := range rooms {
		n, err := c.client.Backend.UnreadCount(ctx, r.ID)
		if err != nil {
			c.log.Warn("unread count failed", zap.Int64("room", r.ID), zap.Error(err))
		}
		out = append(out, roomRow{Room: r, Title: r.DisplayName(me), Unread: n})
	}
	if c.json {
		return outputJSON(out)
	}
	if len(out) == 0 {
		fmt.Println("No rooms.")
		return nil
	}
	for _, r := range out {
		fmt.Printf("%-6d %-30s %d unread\n", r.ID, r.Title, r.Unread)
	}
	return nil
}

func (c *command) history(ctx context.Context, args []string) error {
	roomID, err := idArg(args, "history <room>")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msgs, err := c.client.Backend.FetchHistory(ctx, roomID)
	if err != nil {
		return err
	}
	if c.json {
		return outputJSON(msgs)
	}
	loc := c.cfg.Location()
	for i := range msgs {
		printMessage(&msgs[i], loc)
	}
	return nil
}

func (c *command) open(ctx context.Context, roomID int64) (*room.Session, error) {
	return room.Open(ctx, room.Params{
		RoomID:  roomID,
		Backend: c.client.Backend,
		Live:    c.client.Live,
		Bus:     c.client.Bus,
		Logger:  c.log.Named("room"),
		Options: c.cfg.RoomOptions(),
	})
}

func (c *command) send(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: send <room> <text>")
	}
	roomID, err := idArg(args, "send <room> <text>")
	if err != nil {
		return err
	}
	text := strings.Join(args[1:], " ")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Subscribe before sending so the echo cannot be missed.
	events, unsubscribe := c.client.Bus.Subscribe("", 64)
	defer unsubscribe()

	sess, err := c.open(ctx, roomID)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := sess.HistoryErr(); err != nil {
		return err
	}

	tempID, err := sess.Send(text)
	if err != nil {
		return err
	}
	for {
		select {
		case ev := <-events:
			switch p := ev.Payload.(type) {
			case room.Upserted:
				if p.ClientTempID != tempID || p.MessageID == 0 {
					continue
				}
				m, _ := sess.Store().Get(p.MessageID)
				if c.json {
					return outputJSON(m)
				}
				fmt.Printf("sent #%d\n", m.ID)
				return nil
			case outbox.SendFailure:
				if p.ClientTempID == tempID {
					return fmt.Errorf("send failed: %w", p.Err)
				}
			}
		case <-ctx.Done():
			return fmt.Errorf("no confirmation for %s: %w", tempID, ctx.Err())
		}
	}
}

func (c *command) tail(ctx context.Context, args []string) error {
	roomID, err := idArg(args, "tail <room>")
	if err != nil {
		return err
	}
	events, unsubscribe := c.client.Bus.Subscribe("", 256)
	defer unsubscribe()

	openCtx, cancel := context.WithTimeout(ctx, c.timeout)
	sess, err := c.open(openCtx, roomID)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		sess.Close()
		sess.Wait()
	}()
	if err := sess.HistoryErr(); err != nil {
		return err
	}

	loc := c.cfg.Location()
	printed := make(map[int64]bool)
	emit := func(m chat.Message) error {
		if printed[m.ID] {
			return nil
		}
		printed[m.ID] = true
		if c.json {
			return outputJSON(m)
		}
		printMessage(&m, loc)
		return nil
	}
	for _, m := range sess.Store().All() {
		if m.Confirmed() {
			if err := emit(m); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.RoomID != roomID {
				continue
			}
			switch ev.Kind {
			case bus.RoomMessageUpserted:
				p, _ := ev.Payload.(room.Upserted)
				if m, ok := sess.Store().Get(p.MessageID); ok {
					if err := emit(m); err != nil {
						return err
					}
				}
			case bus.RoomSignal:
				return fmt.Errorf("left room: %v", ev.Payload)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *command) remove(ctx context.Context, args []string) error {
	id, err := idArg(args, "delete <message>")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.client.Backend.DeleteMessage(ctx, id); err != nil {
		return err
	}
	fmt.Printf("deleted #%d\n", id)
	return nil
}

func (c *command) report(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: report <message> <reason>")
	}
	id, err := idArg(args, "report <message> <reason>")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.client.Backend.ReportMessage(ctx, id, strings.Join(args[1:], " ")); err != nil {
		return err
	}
	fmt.Printf("reported #%d\n", id)
	return nil
}

func idArg(args []string, usage string) (int64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("usage: %s", usage)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", args[0])
	}
	return id, nil
}

func printMessage(m *chat.Message, loc *time.Location) {
	body := m.Content
	if m.IsImage() {
		body = strings.TrimSpace(chat.ImagePlaceholder + " " + m.Caption())
	}
	read := ""
	if m.Read() {
		read = " (read)"
	}
	fmt.Printf("%s #%-6d %d: %s%s\n", m.SentAt.In(loc).Format("2006-01-02 15:04"), m.ID, m.SenderID, body, read)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
