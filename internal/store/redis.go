package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// The channel value lives in a hash; every write republishes the merged
// value on the change channel so subscribers never read it back. An empty
// hash is published as null, the same value Subscribe reads for it.
var updateScript = redis.NewScript(`
for i = 1, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
local flat = redis.call('HGETALL', KEYS[1])
local out = {}
for i = 1, #flat, 2 do
  if flat[i] == 'kill' then
    out[flat[i]] = (flat[i + 1] == 'true')
  else
    out[flat[i]] = flat[i + 1]
  end
end
local payload = 'null'
if next(out) ~= nil then
  payload = cjson.encode(out)
end
redis.call('PUBLISH', KEYS[2], payload)
return payload
`)

var removeScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
redis.call('PUBLISH', KEYS[2], 'null')
return 1
`)

// Redis keeps each channel as a hash plus a pub/sub change channel.
type Redis struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

// NewRedis pings the server once; an unreachable server is fatal.
func NewRedis(ctx context.Context, client *redis.Client, prefix string, log zerolog.Logger) (*Redis, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, unavailable("redis ping", err)
	}
	if prefix == "" {
		prefix = "collab"
	}
	return &Redis{client: client, prefix: prefix, log: log}, nil
}

func (r *Redis) valueKey(h Handle) string {
	return r.prefix + ":room:" + h.ID
}

func (r *Redis) changeChannel(h Handle) string {
	return r.prefix + ":room:" + h.ID + ":changes"
}

func (r *Redis) CreateUnique(ctx context.Context) (Handle, error) {
	for {
		h := Handle{ID: NewToken()}
		n, err := r.client.Exists(ctx, r.valueKey(h)).Result()
		if err != nil {
			return Handle{}, unavailable("redis create", err)
		}
		if n == 0 {
			return h, nil
		}
	}
}

func (r *Redis) FromToken(token string) Handle {
	return Handle{ID: token}
}

func (r *Redis) Subscribe(ctx context.Context, h Handle, fn func(*Message)) (Subscription, error) {
	ps := r.client.Subscribe(ctx, r.changeChannel(h))
	// Wait for the subscription to be live before reading the current
	// value so no change can fall between the two.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, unavailable("redis subscribe", err)
	}
	fields, err := r.client.HGetAll(ctx, r.valueKey(h)).Result()
	if err != nil {
		_ = ps.Close()
		return nil, unavailable("redis read", err)
	}
	fn(fromHash(fields))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			m, err := DecodeValue([]byte(msg.Payload))
			if err != nil {
				r.log.Warn().Err(err).Str("room", h.ID).Msg("dropping malformed change")
				continue
			}
			fn(m)
		}
	}()

	var once sync.Once
	return subscriptionFunc(func() error {
		var err error
		once.Do(func() {
			err = ps.Close()
			<-done
		})
		return err
	}), nil
}

func (r *Redis) Update(ctx context.Context, h Handle, partial Message) error {
	args := make([]any, 0, 4)
	if partial.Mode != nil {
		args = append(args, "mode", *partial.Mode)
	}
	if partial.Kill != nil {
		args = append(args, "kill", strconv.FormatBool(*partial.Kill))
	}
	keys := []string{r.valueKey(h), r.changeChannel(h)}
	if err := updateScript.Run(ctx, r.client, keys, args...).Err(); err != nil {
		return unavailable("redis update", err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, h Handle) error {
	keys := []string{r.valueKey(h), r.changeChannel(h)}
	if err := removeScript.Run(ctx, r.client, keys).Err(); err != nil {
		return unavailable("redis remove", err)
	}
	return nil
}

func fromHash(fields map[string]string) *Message {
	if len(fields) == 0 {
		return nil
	}
	var m Message
	if mode, ok := fields["mode"]; ok {
		m.Mode = &mode
	}
	if raw, ok := fields["kill"]; ok {
		kill, _ := strconv.ParseBool(raw)
		m.Kill = &kill
	}
	return &m
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
