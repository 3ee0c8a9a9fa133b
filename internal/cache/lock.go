package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("sweep lock not acquired")

// SweepLocker guards a sweeper pass so only one instance runs it at a time.
// The lock is housekeeping only: booking correctness rests on the database
// constraint, never on this.
type SweepLocker interface {
	WithSweepLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

type redisSweepLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSweepLocker(client *redis.Client, ttl time.Duration) SweepLocker {
	return &redisSweepLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisSweepLocker) WithSweepLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:sweep:%s", name)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisSweepLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release sweep lock: %w", err)
	}
	return nil
}
