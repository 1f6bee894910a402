package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/matheus3301/chatsync/internal/live"
	"github.com/matheus3301/chatsync/internal/room"
	"github.com/matheus3301/chatsync/internal/scroll"
)

// Transport names accepted in [live].transport.
const (
	TransportWebsocket = "ws"
	TransportGRPC      = "grpc"
	TransportRedis     = "redis"
)

// Duration is a time.Duration written as a string ("250ms") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents ~/.chatsync/config.toml.
type Config struct {
	LogLevel string        `toml:"log_level"`
	Backend  BackendConfig `toml:"backend"`
	Live     LiveConfig    `toml:"live"`
	Room     RoomConfig    `toml:"room"`
	Server   ServerConfig  `toml:"server"`
}

// BackendConfig points the client at the chat REST API.
type BackendConfig struct {
	URL     string   `toml:"url"`
	Token   string   `toml:"token"`
	Timeout Duration `toml:"timeout"`
}

// LiveConfig selects and tunes the live transport.
type LiveConfig struct {
	Transport  string   `toml:"transport"`
	URL        string   `toml:"url"`
	GRPCTarget string   `toml:"grpc_target"`
	RedisURL   string   `toml:"redis_url"`
	Backoff    Duration `toml:"backoff"`
	MaxBackoff Duration `toml:"max_backoff"`
}

// RoomConfig tunes room sessions.
type RoomConfig struct {
	ReceiptDebounce     Duration `toml:"receipt_debounce"`
	InitialReadDelay    Duration `toml:"initial_read_delay"`
	LiveImageDelay      Duration `toml:"live_image_delay"`
	ScrollInitialDelay  Duration `toml:"scroll_initial_delay"`
	ScrollSettleDelay   Duration `toml:"scroll_settle_delay"`
	AnchorRetries       int      `toml:"anchor_retries"`
	AnchorRetryBackoff  Duration `toml:"anchor_retry_backoff"`
	PreserveWhenReading bool     `toml:"preserve_when_reading"`
	Timezone            string   `toml:"timezone"`
}

// ServerConfig configures chatsync-devserver.
type ServerConfig struct {
	Addr           string   `toml:"addr"`
	GRPCAddr       string   `toml:"grpc_addr"`
	DatabasePath   string   `toml:"database_path"`
	RedisURL       string   `toml:"redis_url"`
	JWTSecret      string   `toml:"jwt_secret"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Backend: BackendConfig{
			URL:     "http://localhost:8080",
			Timeout: Duration{10 * time.Second},
		},
		Live: LiveConfig{
			Transport:  TransportWebsocket,
			URL:        "ws://localhost:8080/ws",
			GRPCTarget: "localhost:9090",
			Backoff:    Duration{live.DefaultBackoff.Initial},
			MaxBackoff: Duration{live.DefaultBackoff.Max},
		},
		Room: RoomConfig{
			ReceiptDebounce:    Duration{100 * time.Millisecond},
			InitialReadDelay:   Duration{500 * time.Millisecond},
			LiveImageDelay:     Duration{time.Second},
			ScrollInitialDelay: Duration{200 * time.Millisecond},
			ScrollSettleDelay:  Duration{100 * time.Millisecond},
			AnchorRetries:      scroll.DefaultRetryPolicy.MaxAttempts,
			AnchorRetryBackoff: Duration{scroll.DefaultRetryPolicy.Backoff},
		},
		Server: ServerConfig{
			Addr:           ":8080",
			GRPCAddr:       ":9090",
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Resolve loads path when it exists, falls back to Default otherwise, and
// applies .env and CHATSYNC_* overrides.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}
	// Load .env if present
	_ = godotenv.Load()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from CHATSYNC_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"CHATSYNC_LOG_LEVEL":      &c.LogLevel,
		"CHATSYNC_BACKEND_URL":    &c.Backend.URL,
		"CHATSYNC_TOKEN":          &c.Backend.Token,
		"CHATSYNC_LIVE_TRANSPORT": &c.Live.Transport,
		"CHATSYNC_LIVE_URL":       &c.Live.URL,
		"CHATSYNC_GRPC_TARGET":    &c.Live.GRPCTarget,
		"CHATSYNC_LIVE_REDIS_URL": &c.Live.RedisURL,
		"CHATSYNC_TIMEZONE":       &c.Room.Timezone,
		"CHATSYNC_SERVER_ADDR":    &c.Server.Addr,
		"CHATSYNC_GRPC_ADDR":      &c.Server.GRPCAddr,
		"CHATSYNC_DB_PATH":        &c.Server.DatabasePath,
		"CHATSYNC_REDIS_URL":      &c.Server.RedisURL,
		"CHATSYNC_JWT_SECRET":     &c.Server.JWTSecret,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("CHATSYNC_ALLOWED_ORIGINS"); ok && v != "" {
		c.Server.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Server.AllowedOrigins = append(c.Server.AllowedOrigins, o)
			}
		}
	}
	if v, ok := lookup("CHATSYNC_PRESERVE_WHEN_READING"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CHATSYNC_PRESERVE_WHEN_READING: %w", err)
		}
		c.Room.PreserveWhenReading = b
	}
	return nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Live.Transport {
	case TransportWebsocket, TransportGRPC, TransportRedis:
	default:
		return fmt.Errorf("unknown live transport %q", c.Live.Transport)
	}
	if c.Room.Timezone != "" {
		if _, err := time.LoadLocation(c.Room.Timezone); err != nil {
			return fmt.Errorf("room timezone: %w", err)
		}
	}
	return nil
}

// Location returns the configured timezone, or time.Local.
func (c *Config) Location() *time.Location {
	if c.Room.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Room.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// RoomOptions converts [room] into session options.
func (c *Config) RoomOptions() room.Options {
	return room.Options{
		Scroll: scroll.Options{
			Retry: scroll.RetryPolicy{
				MaxAttempts: c.Room.AnchorRetries,
				Backoff:     c.Room.AnchorRetryBackoff.Duration,
			},
			InitialDelay:        c.Room.ScrollInitialDelay.Duration,
			SettleDelay:         c.Room.ScrollSettleDelay.Duration,
			PreserveWhenReading: c.Room.PreserveWhenReading,
		},
		ReceiptDebounce:  c.Room.ReceiptDebounce.Duration,
		InitialReadDelay: c.Room.InitialReadDelay.Duration,
		LiveImageDelay:   c.Room.LiveImageDelay.Duration,
		Location:         c.Location(),
	}
}

// LiveBackoff returns the reconnect schedule for the live hub.
func (c *Config) LiveBackoff() live.Backoff {
	b := live.Backoff{Initial: c.Live.Backoff.Duration, Max: c.Live.MaxBackoff.Duration}
	if b.Initial <= 0 {
		b.Initial = live.DefaultBackoff.Initial
	}
	if b.Max < b.Initial {
		b.Max = live.DefaultBackoff.Max
	}
	return b
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
