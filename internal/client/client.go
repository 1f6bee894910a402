// Package client assembles the REST client and the live hub selected by a
// profile's configuration.
package client

import (
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/live"
	"github.com/matheus3301/chatsync/internal/live/grpclive"
	"github.com/matheus3301/chatsync/internal/live/redislive"
	"github.com/matheus3301/chatsync/internal/live/wsconn"
	"github.com/matheus3301/chatsync/internal/metrics"
)

// Client wraps the backend connections of one profile.
type Client struct {
	Backend *backend.Client
	Live    *live.Hub
	Bus     *bus.Bus

	grpcDialer *grpclive.Dialer
	redis      *redis.Client
}

// New builds the REST client and a hub over the configured transport. The
// hub is not connected yet; room sessions connect it on open.
func New(cfg *config.Config, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		Backend: backend.New(cfg.Backend.URL, cfg.Backend.Token,
			&http.Client{Timeout: cfg.Backend.Timeout.Duration}, log.Named("backend")),
		Bus: bus.New(),
	}

	var d live.Dialer
	switch cfg.Live.Transport {
	case config.TransportWebsocket:
		d = &wsconn.Dialer{URL: cfg.Live.URL, Token: cfg.Backend.Token}
	case config.TransportGRPC:
		c.grpcDialer = &grpclive.Dialer{Target: cfg.Live.GRPCTarget, Token: cfg.Backend.Token}
		d = c.grpcDialer
	case config.TransportRedis:
		rc, err := redislive.NewClient(cfg.Live.RedisURL)
		if err != nil {
			return nil, err
		}
		c.redis = rc
		d = &redislive.Dialer{Client: rc, Token: cfg.Backend.Token}
	default:
		return nil, fmt.Errorf("unknown live transport %q", cfg.Live.Transport)
	}

	c.Live = live.NewHub(d, live.HubOptions{
		Backoff:  cfg.LiveBackoff(),
		Bus:      c.Bus,
		Observer: metrics.Recorder{},
	}, log.Named("live"))
	log.Info("client configured",
		zap.String("backend", cfg.Backend.URL),
		zap.String("transport", cfg.Live.Transport))
	return c, nil
}

// Close stops the hub and releases transport resources.
func (c *Client) Close() error {
	err := c.Live.Close()
	if c.grpcDialer != nil {
		_ = c.grpcDialer.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
	c.Bus.Close()
	return err
}
