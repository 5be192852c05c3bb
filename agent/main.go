package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"collabtext/internal/config"
	"collabtext/internal/locator"
	"collabtext/internal/logging"
	"collabtext/internal/relay"
	"collabtext/internal/session"
	"collabtext/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	statePath := flag.String("state", "", "bbolt file remembering the current room (overrides agent.state_path)")
	discover := flag.Duration("discover", 0, "browse the local network for relay servers for this long, then exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [room-fragment]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *statePath != "" {
		cfg.Agent.StatePath = *statePath
	}
	log := logging.New("collabtext-agent", logging.ProfileRuntime, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *discover > 0 {
		discoverServers(ctx, cfg.Server.Service, *discover, log)
		return
	}
	if err := run(ctx, cfg, flag.Arg(0), log); err != nil {
		log.Error().Err(err).Msg("agent stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, fragment string, log zerolog.Logger) error {
	loc, err := locator.OpenBolt(cfg.Agent.StatePath)
	if err != nil {
		return err
	}
	defer loc.Close()
	if fragment == "" {
		if fragment, err = loc.Fragment(); err != nil {
			return err
		}
		if fragment != "" {
			log.Info().Str("fragment", fragment).Msg("rejoining remembered room")
		}
	}

	st, closeStore, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore.Close()

	doc := newDocument()
	deps := session.Deps{Store: st, Locator: loc, Log: log}
	// Edits only reach browser tabs when they share the server's redis.
	if cfg.Store.Backend == store.BackendRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
		defer client.Close()
		deps.Merge = relay.NewOpRelay(relay.NewRedisBus(client, cfg.Store.RedisPrefix, log), log)
		deps.Editor = doc
	}

	ctrl := session.New(cfg.Session, deps)
	con := newConsole(ctrl, doc, os.Stdout)
	if err := ctrl.Start(ctx, fragment); err != nil {
		ctrl.Close()
		return err
	}
	defer ctrl.Close()

	s := ctrl.State()
	con.out.Printf("joined room %s as %s, mode %s", s.Room, s.Role, s.Mode)
	con.out.Printf("type help for commands")
	return con.run(ctx, os.Stdin)
}

func discoverServers(ctx context.Context, service string, d time.Duration, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := relay.Discover(ctx, service, func(p relay.Peer) {
		log.Info().Str("instance", p.Instance).Str("url", p.URL()).Msg("discovered relay server")
	})
	if err != nil {
		log.Error().Err(err).Msg("discovery failed")
		return
	}
	log.Info().Msg("discovery finished")
}
