package devserver

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/live"
	"github.com/matheus3301/chatsync/internal/live/pipe"
	"github.com/matheus3301/chatsync/internal/store"
)

const (
	trainer  int64 = 1
	member   int64 = 2
	outsider int64 = 3

	testSecret = "test-secret"
)

type fixture struct {
	db     *store.DB
	room   chat.Room
	auth   *Auth
	broker *Broker
	srv    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, m := range []*store.Member{
		{ID: trainer, Name: "Kim", Role: store.RoleTrainer},
		{ID: member, Name: "Lee", Role: store.RoleMember},
		{ID: outsider, Name: "Park", Role: store.RoleMember},
	} {
		if err := db.UpsertMember(m); err != nil {
			t.Fatal(err)
		}
	}
	room, err := db.EnsureRoom(trainer, member)
	if err != nil {
		t.Fatal(err)
	}

	auth, err := NewAuth(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	broker := NewBroker(db, nil, nil)
	t.Cleanup(broker.Close)

	srv := httptest.NewServer(NewRouter(NewAPI(db, broker, nil), auth, nil, nil))
	t.Cleanup(srv.Close)

	return &fixture{db: db, room: room, auth: auth, broker: broker, srv: srv}
}

func (f *fixture) token(t *testing.T, memberID int64) string {
	t.Helper()
	tok, err := f.auth.Issue(memberID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (f *fixture) client(t *testing.T, memberID int64) *backend.Client {
	return backend.New(f.srv.URL, f.token(t, memberID), f.srv.Client(), nil)
}

// connect serves a pipe for memberID on the broker and returns the client end.
func (f *fixture) connect(t *testing.T, memberID int64) *pipe.End {
	t.Helper()
	clientEnd, serverEnd := pipe.Pair(32)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.broker.Serve(ctx, memberID, serverEnd)
	}()
	t.Cleanup(func() {
		cancel()
		_ = clientEnd.Close()
		<-done
	})
	return clientEnd
}

func write(t *testing.T, c live.Conn, f live.Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.WriteFrame(ctx, f); err != nil {
		t.Fatalf("write %s: %v", f.Type, err)
	}
}

// next reads frames until one of type want arrives.
func next(t *testing.T, c live.Conn, want live.FrameType) live.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		f, err := c.ReadFrame(ctx)
		if err != nil {
			t.Fatalf("waiting for %s frame: %v", want, err)
		}
		if f.Type == want {
			return f
		}
	}
}

// subscribe joins roomID and waits until the broker has processed it.
func subscribe(t *testing.T, c live.Conn, roomID int64) {
	t.Helper()
	write(t, c, live.Frame{Type: live.FrameSubscribe, RoomID: roomID})
	write(t, c, live.Frame{Type: live.FramePing})
	next(t, c, live.FramePong)
}
