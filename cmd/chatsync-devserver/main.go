package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/fx"

	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/devserver"
	"github.com/matheus3301/chatsync/internal/paths"
	"github.com/matheus3301/chatsync/internal/store"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides $CHATSYNC_PROFILE)")
	configFlag := flag.String("config", "", "config file (default ~/.chatsync/<profile>/config.toml)")
	ttlFlag := flag.Duration("ttl", 24*time.Hour, "lifetime of tokens issued by the token command")
	flag.Parse()

	profile := paths.Resolve(*profileFlag)
	if err := paths.ValidateName(profile); err != nil {
		fatalf("%v", err)
	}
	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = paths.ConfigPath(profile)
	}
	cfg, err := config.Resolve(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	p := devserver.Params{Profile: profile, Config: cfg}

	args := flag.Args()
	if len(args) == 0 || args[0] == "serve" {
		fx.New(devserver.Module(p)).Run()
		return
	}

	switch args[0] {
	case "token":
		if len(args) != 2 {
			fatalf("usage: chatsync-devserver token <member>")
		}
		auth, err := devserver.NewAuth(cfg.Server.JWTSecret)
		if err != nil {
			fatalf("%v", err)
		}
		token, err := auth.Issue(mustID(args[1]), *ttlFlag)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(token)
	case "seed":
		if len(args) != 5 {
			fatalf("usage: chatsync-devserver seed <trainer-id> <trainer-name> <member-id> <member-name>")
		}
		r, err := devserver.Seed(p,
			store.Member{ID: mustID(args[1]), Name: args[2]},
			store.Member{ID: mustID(args[3]), Name: args[4]})
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("room %d: %s / %s\n", r.ID, r.TrainerName, r.MemberName)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: chatsync-devserver [--profile <name>] [serve | token <member> | seed <trainer-id> <trainer-name> <member-id> <member-name>]")
		os.Exit(1)
	}
}

func mustID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		fatalf("invalid member id %q", s)
	}
	return id
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
