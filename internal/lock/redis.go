package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a Locker shared by store instances on several hosts. The key
// expires after TTL so a crashed holder cannot wedge the store.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	poll   time.Duration
}

// NewRedisFromURL parses a redis:// URL and checks connectivity.
func NewRedisFromURL(ctx context.Context, url, key string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(client, key, ttl), nil
}

// NewRedis wraps an existing client. ttl defaults to 30s.
func NewRedis(client *redis.Client, key string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if key == "" {
		key = "xpol:store:lock"
	}
	return &Redis{client: client, key: key, ttl: ttl, poll: 20 * time.Millisecond}
}

func (l *Redis) Lock(ctx context.Context) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("redis lock %s: %w", l.key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-time.After(l.poll):
		}
	}
	return once(func() {
		// ctx may already be done by the time the holder unlocks.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{l.key}, token).Err(); err != nil {
			slog.Warn("redis unlock failed", "key", l.key, "error", err)
		}
	}), nil
}

// Close closes the underlying client.
func (l *Redis) Close() error { return l.client.Close() }

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
