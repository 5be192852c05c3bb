package store

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Options struct {
	Backend     string
	RedisAddr   string
	RedisPrefix string
	DatabaseURL string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Open connects the configured backend. The returned closer releases the
// underlying client.
func Open(ctx context.Context, opts Options, log zerolog.Logger) (Store, io.Closer, error) {
	switch opts.Backend {
	case BackendMemory:
		return NewMemory(), nopCloser{}, nil
	case BackendRedis, "":
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		s, err := NewRedis(ctx, client, opts.RedisPrefix, log)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		log.Info().Str("addr", opts.RedisAddr).Msg("connected to redis")
		return s, client, nil
	case BackendPostgres:
		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, nil, unavailable("postgres connect", err)
		}
		s, err := NewPostgres(ctx, pool, log)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info().Msg("connected to postgres")
		return s, closerFunc(func() error { pool.Close(); return nil }), nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
