package devserver

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/live"
	"github.com/matheus3301/chatsync/internal/live/redislive"
	"github.com/matheus3301/chatsync/internal/metrics"
)

// Relay connects the broker to Redis so several dev server instances share
// rooms. Room frames go out on chat:room:<id> and come back through a
// pattern subscription; client writes from redislive clients arrive on
// chat:inbound.
type Relay struct {
	client *redis.Client
	broker *Broker
	auth   *Auth
	log    *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRelay creates a relay. Call Start to begin consuming.
func NewRelay(client *redis.Client, broker *Broker, auth *Auth, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{client: client, broker: broker, auth: auth, log: log}
}

// Publish implements Publisher.
func (r *Relay) Publish(ctx context.Context, f live.Frame) error {
	start := time.Now()
	err := redislive.Publish(ctx, r.client, f)
	metrics.ObserveRedis(start)
	return err
}

// Start runs the room and inbound subscribers until Stop.
func (r *Relay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		inbound := make(chan struct{})
		go func() {
			defer close(inbound)
			r.consume(ctx, "inbound", func(ctx context.Context) *redis.PubSub {
				return r.client.Subscribe(ctx, redislive.InboundTopic)
			}, r.handleInbound)
		}()
		r.consume(ctx, "rooms", func(ctx context.Context) *redis.PubSub {
			return r.client.PSubscribe(ctx, redislive.RoomPattern)
		}, r.handleRoom)
		<-inbound
	}()
}

// Stop ends both subscribers and waits for them.
func (r *Relay) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// consume keeps one subscription alive, resubscribing with backoff after
// errors.
func (r *Relay) consume(ctx context.Context, name string, open func(context.Context) *redis.PubSub, handle func(context.Context, *redis.Message)) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		func() {
			pubsub := open(ctx)
			defer func() { _ = pubsub.Close() }()
			r.log.Info("redis subscriber started", zap.String("subscriber", name))

			for {
				msg, err := pubsub.ReceiveMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					r.log.Warn("redis subscriber error", zap.String("subscriber", name), zap.Error(err))
					select {
					case <-time.After(backoff):
					case <-ctx.Done():
					}
					backoff *= 2
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
					return
				}
				backoff = time.Second
				handle(ctx, msg)
			}
		}()
	}
}

func (r *Relay) handleRoom(_ context.Context, msg *redis.Message) {
	f, err := live.Decode([]byte(msg.Payload))
	if err != nil {
		r.log.Warn("bad room frame", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if f.RoomID == 0 {
		f.RoomID, _ = redislive.RoomFromTopic(msg.Channel)
	}
	r.broker.FanOut(f)
}

func (r *Relay) handleInbound(ctx context.Context, msg *redis.Message) {
	f, err := live.Decode([]byte(msg.Payload))
	if err != nil {
		r.log.Warn("bad inbound frame", zap.Error(err))
		return
	}
	member, err := r.auth.Parse(f.Token)
	if err != nil {
		r.log.Warn("inbound frame rejected", zap.String("type", string(f.Type)), zap.Error(err))
		return
	}
	f.Token = ""
	if reply := r.broker.Apply(ctx, member, f); reply != nil && reply.Type == live.FrameError {
		r.log.Warn("inbound frame failed", zap.Int64("member_idx", member), zap.String("error", reply.Error))
	}
}
