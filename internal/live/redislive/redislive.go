// Package redislive carries live frames over Redis pub/sub. Room events are
// published on chat:room:<id>; client writes go to chat:inbound tagged with
// the client's token so a backend worker can authorize and apply them.
package redislive

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matheus3301/chatsync/internal/live"
)

const (
	roomPrefix = "chat:room:"
	// InboundTopic receives every client write.
	InboundTopic = "chat:inbound"
	// RoomPattern matches every room topic.
	RoomPattern = roomPrefix + "*"
)

// RoomTopic returns the channel carrying events for roomID.
func RoomTopic(roomID int64) string {
	return roomPrefix + strconv.FormatInt(roomID, 10)
}

// RoomFromTopic parses a room topic.
func RoomFromTopic(topic string) (int64, bool) {
	rest, ok := strings.CutPrefix(topic, roomPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	return id, err == nil
}

// NewClient builds a client from a redis:// URL with the pool settings used
// across our services.
func NewClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	return redis.NewClient(opt), nil
}

// Conn implements live.Conn with one PubSub per connection.
type Conn struct {
	client *redis.Client
	pubsub *redis.PubSub
	token  string
	once   sync.Once
}

// ReadFrame returns the next frame published on a subscribed room.
func (c *Conn) ReadFrame(ctx context.Context) (live.Frame, error) {
	for {
		msg, err := c.pubsub.ReceiveMessage(ctx)
		if err != nil {
			return live.Frame{}, fmt.Errorf("receive redis: %w", err)
		}
		f, err := live.Decode([]byte(msg.Payload))
		if err != nil {
			continue
		}
		if f.RoomID == 0 {
			f.RoomID, _ = RoomFromTopic(msg.Channel)
		}
		return f, nil
	}
}

// WriteFrame maps subscribe and unsubscribe onto the PubSub and publishes
// everything else to InboundTopic.
func (c *Conn) WriteFrame(ctx context.Context, f live.Frame) error {
	switch f.Type {
	case live.FrameSubscribe:
		if err := c.pubsub.Subscribe(ctx, RoomTopic(f.RoomID)); err != nil {
			return fmt.Errorf("subscribe %s: %w", RoomTopic(f.RoomID), err)
		}
		return nil
	case live.FrameUnsubscribe:
		if err := c.pubsub.Unsubscribe(ctx, RoomTopic(f.RoomID)); err != nil {
			return fmt.Errorf("unsubscribe %s: %w", RoomTopic(f.RoomID), err)
		}
		return nil
	case live.FramePong:
		return nil
	}
	f.Token = c.token
	data, err := live.Encode(f)
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, InboundTopic, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", f.Type, err)
	}
	return nil
}

// Close closes the PubSub. The shared client stays open.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() { err = c.pubsub.Close() })
	return err
}

// Dialer opens Conns on a shared client.
type Dialer struct {
	Client *redis.Client
	Token  string
}

// Dial checks the server is reachable and opens an empty PubSub.
func (d *Dialer) Dial(ctx context.Context) (live.Conn, error) {
	if err := d.Client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Conn{client: d.Client, pubsub: d.Client.Subscribe(ctx), token: d.Token}, nil
}

// Publish sends f to every subscriber of its room. Backends use it to fan
// out messages and read echoes.
func Publish(ctx context.Context, client *redis.Client, f live.Frame) error {
	data, err := live.Encode(f)
	if err != nil {
		return err
	}
	if err := client.Publish(ctx, RoomTopic(f.RoomID), data).Err(); err != nil {
		return fmt.Errorf("publish room %d: %w", f.RoomID, err)
	}
	return nil
}
