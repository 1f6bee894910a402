package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.Backend.URL = "https://chat.example.com"
	cfg.Live.Transport = TransportGRPC
	cfg.Room.ReceiptDebounce = Duration{250 * time.Millisecond}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Backend.URL != "https://chat.example.com" {
		t.Errorf("Backend.URL = %q", loaded.Backend.URL)
	}
	if loaded.Live.Transport != TransportGRPC {
		t.Errorf("Live.Transport = %q, want grpc", loaded.Live.Transport)
	}
	if loaded.Room.ReceiptDebounce.Duration != 250*time.Millisecond {
		t.Errorf("ReceiptDebounce = %v, want 250ms", loaded.Room.ReceiptDebounce)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[room]\nlive_image_delay = \"2s\"\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Room.LiveImageDelay.Duration != 2*time.Second {
		t.Errorf("LiveImageDelay = %v, want 2s", cfg.Room.LiveImageDelay)
	}
	if cfg.Room.ReceiptDebounce.Duration != 100*time.Millisecond {
		t.Errorf("ReceiptDebounce = %v, want default 100ms", cfg.Room.ReceiptDebounce)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad duration", "[room]\nreceipt_debounce = \"soon\"\n"},
		{"bad transport", "[live]\ntransport = \"carrier-pigeon\"\n"},
		{"bad timezone", "[room]\ntimezone = \"Mars/Olympus\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tt.body), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() expected error")
			}
		})
	}
}

func TestResolveWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHATSYNC_TOKEN", "secret")
	cfg, err := Resolve(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Backend.Token != "secret" {
		t.Errorf("Token = %q, want env override", cfg.Backend.Token)
	}
	if cfg.Live.Transport != TransportWebsocket {
		t.Errorf("Transport = %q, want default", cfg.Live.Transport)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CHATSYNC_BACKEND_URL":           "http://api:8080",
		"CHATSYNC_LIVE_TRANSPORT":        "redis",
		"CHATSYNC_ALLOWED_ORIGINS":       "http://a.test, http://b.test,",
		"CHATSYNC_PRESERVE_WHEN_READING": "true",
		"CHATSYNC_SERVER_ADDR":           "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Backend.URL != "http://api:8080" {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
	if cfg.Live.Transport != TransportRedis {
		t.Errorf("Transport = %q", cfg.Live.Transport)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if !cfg.Room.PreserveWhenReading {
		t.Error("PreserveWhenReading not set")
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("empty override replaced Addr with %q", cfg.Server.Addr)
	}

	env["CHATSYNC_PRESERVE_WHEN_READING"] = "maybe"
	if err := cfg.ApplyEnv(lookup); err == nil {
		t.Error("ApplyEnv() expected error for bad bool")
	}
}

func TestRoomOptions(t *testing.T) {
	cfg := Default()
	cfg.Room.Timezone = "UTC"
	opts := cfg.RoomOptions()
	if opts.Scroll.Retry.MaxAttempts != 10 || opts.Scroll.Retry.Backoff != 100*time.Millisecond {
		t.Errorf("retry = %+v", opts.Scroll.Retry)
	}
	if opts.InitialReadDelay != 500*time.Millisecond {
		t.Errorf("InitialReadDelay = %v", opts.InitialReadDelay)
	}
	if opts.Location.String() != "UTC" {
		t.Errorf("Location = %v", opts.Location)
	}
}

func TestLiveBackoff(t *testing.T) {
	cfg := Default()
	cfg.Live.Backoff = Duration{2 * time.Second}
	cfg.Live.MaxBackoff = Duration{time.Second}
	b := cfg.LiveBackoff()
	if b.Initial != 2*time.Second || b.Max != 30*time.Second {
		t.Errorf("backoff = %+v", b)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
