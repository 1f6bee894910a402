// Package wsconn carries live frames over a gorilla/websocket connection.
package wsconn

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/matheus3301/chatsync/internal/live"
)

const defaultWriteTimeout = 10 * time.Second

// Conn implements live.Conn on a websocket. It is used on both ends.
type Conn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Wrap adopts an established websocket.
func Wrap(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// ReadFrame reads one text message and decodes it. Cancelling ctx unblocks
// the read by expiring its deadline.
func (c *Conn) ReadFrame(ctx context.Context) (live.Frame, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(dl)
	} else {
		_ = c.ws.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return live.Frame{}, ctx.Err()
			}
			return live.Frame{}, fmt.Errorf("read websocket: %w", err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		return live.Decode(data)
	}
}

// WriteFrame encodes f as a text message.
func (c *Conn) WriteFrame(ctx context.Context, f live.Frame) error {
	data, err := live.Encode(f)
	if err != nil {
		return err
	}
	dl, ok := ctx.Deadline()
	if !ok {
		dl = time.Now().Add(defaultWriteTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(dl)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write websocket: %w", err)
	}
	return nil
}

// Close sends a close message and closes the socket. It is idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// Dialer opens websocket connections to a chat backend.
type Dialer struct {
	URL   string
	Token string
	// HandshakeTimeout defaults to ten seconds.
	HandshakeTimeout time.Duration
}

// Dial connects and authenticates with a bearer token.
func (d *Dialer) Dial(ctx context.Context) (live.Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	wd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	ws, resp, err := wd.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return Wrap(ws), nil
}

// Upgrader returns the upgrader used by servers accepting live clients.
// Origins are not checked; authentication is by bearer token.
func Upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}
