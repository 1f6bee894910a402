package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/client"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/paths"
	"github.com/matheus3301/chatsync/internal/tui"
)

const component = "chatsync"

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides $CHATSYNC_PROFILE)")
	configFlag := flag.String("config", "", "config file (default ~/.chatsync/<profile>/config.toml)")
	flag.Parse()

	profile := paths.Resolve(*profileFlag)
	if err := paths.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = paths.ConfigPath(profile)
	}
	cfg, err := config.Resolve(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Backend.Token == "" {
		fmt.Fprintf(os.Stderr, "error: no token configured; set backend.token in %s or CHATSYNC_TOKEN\n", cfgPath)
		os.Exit(1)
	}

	// The terminal belongs to the UI, so logs only go to the file.
	log, err := logging.New(paths.LogPath(profile, component), component, profile, logging.Options{Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	c, err := client.New(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	log.Info("starting", zap.String("backend", cfg.Backend.URL), zap.String("transport", cfg.Live.Transport))
	app := tui.NewApp(tui.Params{Config: cfg, Profile: profile, Client: c, Logger: log})
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
