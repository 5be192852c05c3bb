package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var ErrBusClosed = errors.New("op bus closed")

// Bus fans raw edit ops out to every listener of a room.
type Bus interface {
	Publish(ctx context.Context, room string, payload []byte) error
	// Subscribe returns a channel of payloads that is closed after cancel.
	Subscribe(ctx context.Context, room string) (<-chan []byte, func(), error)
}

const listenerBuffer = 256

type listener struct {
	room string
	send chan []byte
}

type broadcast struct {
	room    string
	payload []byte
}

// Hub is an in-process Bus for single-node deployments.
type Hub struct {
	rooms      map[string]map[*listener]bool
	register   chan *listener
	unregister chan *listener
	broadcast  chan broadcast
	done       chan struct{}
	log        zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*listener]bool),
		register:   make(chan *listener),
		unregister: make(chan *listener),
		broadcast:  make(chan broadcast),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run owns the listener set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, ls := range h.rooms {
				for l := range ls {
					close(l.send)
				}
			}
			h.rooms = nil
			return
		case l := <-h.register:
			if h.rooms[l.room] == nil {
				h.rooms[l.room] = make(map[*listener]bool)
			}
			h.rooms[l.room][l] = true
			h.log.Debug().Str("room", l.room).Int("listeners", len(h.rooms[l.room])).Msg("op listener registered")
		case l := <-h.unregister:
			if _, ok := h.rooms[l.room][l]; ok {
				h.drop(l)
				h.log.Debug().Str("room", l.room).Int("listeners", len(h.rooms[l.room])).Msg("op listener unregistered")
			}
		case b := <-h.broadcast:
			for l := range h.rooms[b.room] {
				select {
				case l.send <- b.payload:
				default:
					h.log.Warn().Str("room", b.room).Msg("dropping slow op listener")
					h.drop(l)
				}
			}
		}
	}
}

func (h *Hub) drop(l *listener) {
	close(l.send)
	delete(h.rooms[l.room], l)
	if len(h.rooms[l.room]) == 0 {
		delete(h.rooms, l.room)
	}
}

func (h *Hub) Publish(ctx context.Context, room string, payload []byte) error {
	select {
	case h.broadcast <- broadcast{room: room, payload: payload}:
		return nil
	case <-h.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Subscribe(ctx context.Context, room string) (<-chan []byte, func(), error) {
	l := &listener{room: room, send: make(chan []byte, listenerBuffer)}
	select {
	case h.register <- l:
	case <-h.done:
		return nil, nil, ErrBusClosed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			select {
			case h.unregister <- l:
			case <-h.done:
			}
		})
	}
	return l.send, cancel, nil
}

// RedisBus relays ops through a Redis pub/sub channel per room, so every
// server sharing the Redis instance sees every edit.
type RedisBus struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

func NewRedisBus(client *redis.Client, prefix string, log zerolog.Logger) *RedisBus {
	if prefix == "" {
		prefix = "collab"
	}
	return &RedisBus{client: client, prefix: prefix, log: log}
}

func (b *RedisBus) channel(room string) string {
	return b.prefix + ":ops:" + room
}

func (b *RedisBus) Publish(ctx context.Context, room string, payload []byte) error {
	if err := b.client.Publish(ctx, b.channel(room), payload).Err(); err != nil {
		return fmt.Errorf("publish op: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, room string) (<-chan []byte, func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel(room))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe ops: %w", err)
	}
	out := make(chan []byte, listenerBuffer)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			default:
				b.log.Warn().Str("room", room).Msg("op listener full, dropping op")
			}
		}
	}()
	var once sync.Once
	return out, func() { once.Do(func() { _ = pubsub.Close() }) }, nil
}
