package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type safeRecorder struct {
	mu     sync.Mutex
	values []*Message
}

func (r *safeRecorder) fn(m *Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, m)
}

func (r *safeRecorder) snapshot() []*Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Message(nil), r.values...)
}

// testContract exercises the channel protocol every backend must honour.
func testContract(t *testing.T, s Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h, err := s.CreateUnique(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)
	assert.Equal(t, h, s.FromToken(h.ID))

	var rec safeRecorder
	sub, err := s.Subscribe(ctx, h, rec.fn)
	require.NoError(t, err)
	defer sub.Close()
	require.Len(t, rec.snapshot(), 1)
	assert.Nil(t, rec.snapshot()[0])

	// A write that leaves no keys reads the same as an empty channel.
	require.NoError(t, s.Update(ctx, h, Message{}))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Nil(t, rec.snapshot()[1])

	require.NoError(t, s.Update(ctx, h, ModeMessage("scala")))
	require.NoError(t, s.Update(ctx, h, KillMessage()))
	require.Eventually(t, func() bool {
		vals := rec.snapshot()
		last := vals[len(vals)-1]
		return last != nil && last.IsKill() && last.Mode != nil && *last.Mode == "scala"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Remove(ctx, h))
	require.Eventually(t, func() bool {
		vals := rec.snapshot()
		return vals[len(vals)-1] == nil
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Remove(ctx, h))
}

func TestMemoryContract(t *testing.T) {
	testContract(t, NewMemory())
}

func TestRedisContract(t *testing.T) {
	addr := os.Getenv("COLLAB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("COLLAB_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	s, err := NewRedis(context.Background(), client, "collabtest", zerolog.Nop())
	require.NoError(t, err)
	testContract(t, s)
}

func TestRedisUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	_, err := NewRedis(context.Background(), client, "", zerolog.Nop())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestPostgresContract(t *testing.T) {
	url := os.Getenv("COLLAB_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("COLLAB_TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	defer pool.Close()
	s, err := NewPostgres(context.Background(), pool, zerolog.Nop())
	require.NoError(t, err)
	testContract(t, s)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, _, err := Open(context.Background(), Options{Backend: "etcd"}, zerolog.Nop())
	require.Error(t, err)

	s, c, err := Open(context.Background(), Options{Backend: BackendMemory}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.IsType(t, &Memory{}, s)
}
