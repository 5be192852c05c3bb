package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const notifyChannel = "collab_channels"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS collab_channels (
	id    TEXT PRIMARY KEY,
	value JSONB NOT NULL DEFAULT '{}'::jsonb
)`

// jsonb || merges top-level keys, which is exactly the update contract.
const updateSQL = `
WITH merged AS (
	INSERT INTO collab_channels (id, value) VALUES ($1, $2::jsonb)
	ON CONFLICT (id) DO UPDATE SET value = collab_channels.value || EXCLUDED.value
	RETURNING id, value
)
SELECT pg_notify($3, json_build_object('id', id, 'value', value)::text) FROM merged`

const removeSQL = `
WITH gone AS (
	DELETE FROM collab_channels WHERE id = $1
)
SELECT pg_notify($2, json_build_object('id', $1::text, 'value', NULL)::text)`

type notification struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value"`
}

// Postgres keeps channel values in a jsonb table and fans changes out
// with LISTEN/NOTIFY. Each subscription holds one pooled connection.
type Postgres struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPostgres pings the pool and creates the table if needed.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, unavailable("postgres ping", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) CreateUnique(ctx context.Context) (Handle, error) {
	for {
		h := Handle{ID: NewToken()}
		var exists bool
		err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM collab_channels WHERE id = $1)`, h.ID).Scan(&exists)
		if err != nil {
			return Handle{}, unavailable("postgres create", err)
		}
		if !exists {
			return h, nil
		}
	}
}

func (p *Postgres) FromToken(token string) Handle {
	return Handle{ID: token}
}

func (p *Postgres) Subscribe(ctx context.Context, h Handle, fn func(*Message)) (Subscription, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, unavailable("postgres subscribe", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, unavailable("postgres listen", err)
	}
	current, err := p.read(ctx, conn, h)
	if err != nil {
		conn.Release()
		return nil, err
	}
	fn(current)

	listenCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			n, err := conn.Conn().WaitForNotification(listenCtx)
			if err != nil {
				if listenCtx.Err() == nil {
					p.log.Warn().Err(err).Str("room", h.ID).Msg("listen connection lost")
				}
				return
			}
			var note notification
			if err := json.Unmarshal([]byte(n.Payload), &note); err != nil {
				p.log.Warn().Err(err).Str("room", h.ID).Msg("dropping malformed notification")
				continue
			}
			if note.ID != h.ID {
				continue
			}
			m, err := DecodeValue(note.Value)
			if err != nil {
				p.log.Warn().Err(err).Str("room", h.ID).Msg("dropping malformed change")
				continue
			}
			fn(orNil(m))
		}
	}()

	var once sync.Once
	return subscriptionFunc(func() error {
		once.Do(func() {
			cancel()
			<-done
			// The connection may be mid-wait; drop it rather than return
			// a LISTENing session to the pool.
			_ = conn.Conn().Close(context.Background())
			conn.Release()
		})
		return nil
	}), nil
}

func (p *Postgres) read(ctx context.Context, conn *pgxpool.Conn, h Handle) (*Message, error) {
	var raw []byte
	err := conn.QueryRow(ctx, `SELECT value FROM collab_channels WHERE id = $1`, h.ID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("postgres read", err)
	}
	m, err := DecodeValue(raw)
	if err != nil {
		return nil, err
	}
	return orNil(m), nil
}

func (p *Postgres) Update(ctx context.Context, h Handle, partial Message) error {
	body, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("postgres update: %w", err)
	}
	if _, err := p.pool.Exec(ctx, updateSQL, h.ID, string(body), notifyChannel); err != nil {
		return unavailable("postgres update", err)
	}
	return nil
}

func (p *Postgres) Remove(ctx context.Context, h Handle) error {
	if _, err := p.pool.Exec(ctx, removeSQL, h.ID, notifyChannel); err != nil {
		return unavailable("postgres remove", err)
	}
	return nil
}
