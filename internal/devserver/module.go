// Package devserver is a self-contained chat backend for local development
// and end-to-end tests: the REST API, live delivery over websocket, gRPC or
// Redis, and a SQLite store.
package devserver

import (
	"context"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/live/redislive"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/paths"
	"github.com/matheus3301/chatsync/internal/store"
)

const component = "chatsync-devserver"

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Profile string
	Config  *config.Config
	// DataDir overrides the profile's devserver directory; used by tests.
	DataDir string
	// Logger replaces the file logger; used by tests.
	Logger *zap.Logger
}

func (p Params) dataDir() string {
	if p.DataDir != "" {
		return p.DataDir
	}
	return paths.DevserverDir(p.Profile)
}

func (p Params) dbPath() string {
	switch {
	case p.DataDir != "":
		return filepath.Join(p.DataDir, "chat.db")
	case p.Config != nil && p.Config.Server.DatabasePath != "":
		return p.Config.Server.DatabasePath
	}
	return paths.DevserverDBPath(p.Profile)
}

// Module returns the fx module for the dev server, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("devserver",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideLock,
			provideStore,
			provideAuth,
			provideRedis,
			provideBroker,
			provideRelay,
			NewAPI,
			NewLiveService,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(paths.LogPath(p.Profile, component), component, p.Profile, logging.Options{
		Level:  p.Config.LogLevel,
		Stderr: true,
	})
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", p.dataDir()))
	l, err := lock.Acquire(p.dataDir(), component)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is only opened by the
// lock holder.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.dbPath()
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAuth(p Params) (*Auth, error) {
	return NewAuth(p.Config.Server.JWTSecret)
}

// provideRedis returns nil when no Redis URL is configured.
func provideRedis(p Params, logger *zap.Logger) (*redis.Client, error) {
	if p.Config.Server.RedisURL == "" {
		logger.Info("redis not configured, fan-out is local")
		return nil, nil
	}
	return redislive.NewClient(p.Config.Server.RedisURL)
}

func provideBroker(db *store.DB, logger *zap.Logger) *Broker {
	return NewBroker(db, nil, logger)
}

// provideRelay returns nil without Redis. With Redis it becomes the
// broker's publisher.
func provideRelay(client *redis.Client, broker *Broker, auth *Auth, logger *zap.Logger) *Relay {
	if client == nil {
		return nil
	}
	r := NewRelay(client, broker, auth, logger)
	broker.SetPublisher(r)
	return r
}

func provideServer(p Params, api *API, auth *Auth, live *LiveService, logger *zap.Logger) (*Server, error) {
	router := NewRouter(api, auth, p.Config.Server.AllowedOrigins, logger)
	return NewServer(p.Config.Server.Addr, p.Config.Server.GRPCAddr, router, live, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, broker *Broker, relay *Relay, client *redis.Client, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if relay != nil {
				// Outlives the start hook context.
				relay.Start(context.Background())
			}
			srv.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			broker.Close()
			srv.Stop(ctx)
			if relay != nil {
				relay.Stop()
			}
			if client != nil {
				_ = client.Close()
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("devserver stopped")
			return nil
		},
	})
}
