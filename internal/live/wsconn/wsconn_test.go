package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/live"
)

// echoServer answers every subscribe frame with a message frame for the
// same room and records the Authorization header.
func echoServer(t *testing.T, auth chan<- string) *httptest.Server {
	t.Helper()
	up := Upgrader()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := Wrap(ws)
		defer c.Close()
		ctx := context.Background()
		for {
			f, err := c.ReadFrame(ctx)
			if err != nil {
				return
			}
			if f.Type == live.FrameSubscribe {
				c.WriteFrame(ctx, live.Frame{
					Type:    live.FrameMessage,
					RoomID:  f.RoomID,
					Message: &chat.Message{ID: 100, RoomID: f.RoomID, Content: "welcome"},
				})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDialRoundTrip(t *testing.T) {
	auth := make(chan string, 1)
	srv := echoServer(t, auth)
	d := &Dialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Token: "tok"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := d.Dial(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if got := <-auth; got != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", got)
	}
	if err := c.WriteFrame(ctx, live.Frame{Type: live.FrameSubscribe, RoomID: 8}); err != nil {
		t.Fatal(err)
	}
	f, err := c.ReadFrame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != live.FrameMessage || f.Message.RoomID != 8 || f.Message.Content != "welcome" {
		t.Errorf("frame = %+v", f)
	}
}

func TestReadFrameCancelled(t *testing.T) {
	auth := make(chan string, 1)
	srv := echoServer(t, auth)
	d := &Dialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	c, err := d.Dial(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.ReadFrame(ctx)
		errc <- err
	}()
	cancel()
	select {
	case err := <-errc:
		if err == nil {
			t.Error("ReadFrame returned nil error after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrame did not unblock on cancel")
	}
}

func TestHubOverWebsocket(t *testing.T) {
	auth := make(chan string, 4)
	srv := echoServer(t, auth)
	h := live.NewHub(&Dialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, live.HubOptions{}, nil)
	defer h.Close()

	if err := h.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := make(chan chat.Message, 1)
	if _, err := h.SubscribeToRoom(5, live.Handlers{OnMessage: func(m chat.Message) { got <- m }}); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-got:
		if m.RoomID != 5 {
			t.Errorf("room = %d, want 5", m.RoomID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message over websocket")
	}
}
