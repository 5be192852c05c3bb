package relay

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(zerolog.Nop())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for op")
		return nil
	}
}

func TestHubFansOutPerRoom(t *testing.T) {
	h := runHub(t)
	ctx := context.Background()

	a, cancelA, err := h.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	defer cancelA()
	b, cancelB, err := h.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	defer cancelB()
	other, cancelOther, err := h.Subscribe(ctx, "room-2")
	require.NoError(t, err)
	defer cancelOther()

	require.NoError(t, h.Publish(ctx, "room-1", []byte("op-1")))
	assert.Equal(t, "op-1", string(recv(t, a)))
	assert.Equal(t, "op-1", string(recv(t, b)))
	select {
	case msg := <-other:
		t.Fatalf("room-2 received %q", msg)
	default:
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := runHub(t)
	ch, cancel, err := h.Subscribe(context.Background(), "room")
	require.NoError(t, err)
	cancel()
	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestHubClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(zerolog.Nop())
	go h.Run(ctx)
	ch, _, err := h.Subscribe(context.Background(), "room")
	require.NoError(t, err)
	cancel()
	<-h.done

	_, ok := <-ch
	assert.False(t, ok)
	require.ErrorIs(t, h.Publish(context.Background(), "room", []byte("x")), ErrBusClosed)
	_, _, err = h.Subscribe(context.Background(), "room")
	require.ErrorIs(t, err, ErrBusClosed)
}

func TestRedisBus(t *testing.T) {
	addr := os.Getenv("COLLAB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("COLLAB_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	bus := NewRedisBus(client, "collabtest", zerolog.Nop())

	ctx := context.Background()
	ch, cancel, err := bus.Subscribe(ctx, "room")
	require.NoError(t, err)
	defer cancel()
	require.NoError(t, bus.Publish(ctx, "room", []byte("op")))
	assert.Equal(t, "op", string(recv(t, ch)))
}
