package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carelink/scheduling/internal/wallclock"
)

// SlotCache is a best-effort cache for generated slot lists. Correctness
// never depends on it: every write path bumps the doctor's generation so
// stale entries become unreachable, and entries expire on their own anyway.
type SlotCache interface {
	GetSlots(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) ([]byte, bool)
	SetSlots(ctx context.Context, doctorID uuid.UUID, date wallclock.Date, payload []byte)
	Invalidate(ctx context.Context, doctorID uuid.UUID)
}

type redisSlotCache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

func NewRedisSlotCache(client *redis.Client, ttl time.Duration, log zerolog.Logger) SlotCache {
	return &redisSlotCache{
		client: client,
		ttl:    ttl,
		log:    log,
	}
}

func genKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("slots:gen:%s", doctorID)
}

func (c *redisSlotCache) slotsKey(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) (string, error) {
	gen, err := c.client.Get(ctx, genKey(doctorID)).Int64()
	if err != nil && err != redis.Nil {
		return "", err
	}
	return fmt.Sprintf("slots:%s:%d:%s", doctorID, gen, date), nil
}

func (c *redisSlotCache) GetSlots(ctx context.Context, doctorID uuid.UUID, date wallclock.Date) ([]byte, bool) {
	key, err := c.slotsKey(ctx, doctorID, date)
	if err != nil {
		c.log.Debug().Err(err).Msg("slot cache generation lookup failed")
		return nil, false
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug().Err(err).Str("key", key).Msg("slot cache read failed")
		}
		return nil, false
	}
	return payload, true
}

func (c *redisSlotCache) SetSlots(ctx context.Context, doctorID uuid.UUID, date wallclock.Date, payload []byte) {
	key, err := c.slotsKey(ctx, doctorID, date)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("slot cache write failed")
	}
}

// Invalidate bumps the doctor's generation, orphaning every cached slot list
// for that doctor at once. Orphaned keys age out via their TTL.
func (c *redisSlotCache) Invalidate(ctx context.Context, doctorID uuid.UUID) {
	if err := c.client.Incr(ctx, genKey(doctorID)).Err(); err != nil {
		c.log.Debug().Err(err).Stringer("doctor_id", doctorID).Msg("slot cache invalidation failed")
	}
}

// Noop satisfies SlotCache when Redis is unavailable or disabled.
type Noop struct{}

func (Noop) GetSlots(context.Context, uuid.UUID, wallclock.Date) ([]byte, bool) { return nil, false }
func (Noop) SetSlots(context.Context, uuid.UUID, wallclock.Date, []byte)        {}
func (Noop) Invalidate(context.Context, uuid.UUID)                              {}
