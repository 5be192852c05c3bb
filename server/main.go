package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"collabtext/internal/config"
	"collabtext/internal/logging"
	"collabtext/internal/relay"
	"collabtext/internal/store"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logging.New("collabtext-server", logging.ProfileRuntime, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	st, closeStore, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore.Close()

	bus, closeBus, err := openBus(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBus()

	bridge := &relay.Bridge{
		Store:  st,
		Config: cfg.Session,
		Merge:  relay.NewOpRelay(bus, log),
		Log:    log,
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           relay.NewRouter(bridge, &relay.OpsHandler{Bus: bus, Log: log}, cfg.Server.StaticDir),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.Advertise {
		withdraw, err := advertise(cfg.Server)
		if err != nil {
			log.Warn().Err(err).Msg("mDNS advertisement disabled")
		} else {
			defer withdraw()
			log.Info().Str("service", cfg.Server.Service).Msg("mDNS service registered")
		}
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("store", cfg.Store.Backend).Msg("CollabText sync server starting")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openBus relays edit ops over redis when the store lives there, so that
// several servers behind one redis see each other's edits. Otherwise ops
// stay in-process.
func openBus(ctx context.Context, cfg config.Config, log zerolog.Logger) (relay.Bus, func(), error) {
	if cfg.Store.Backend != store.BackendRedis {
		hubCtx, cancel := context.WithCancel(ctx)
		hub := relay.NewHub(log)
		go hub.Run(hubCtx)
		return hub, cancel, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect op bus: %w", err)
	}
	return relay.NewRedisBus(client, cfg.Store.RedisPrefix, log), func() { _ = client.Close() }, nil
}

func advertise(cfg config.ServerConfig) (func(), error) {
	_, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("parse server.addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse server.addr port: %w", err)
	}
	return relay.Advertise(cfg.Service, port)
}
