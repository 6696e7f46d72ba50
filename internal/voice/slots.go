package voice

import (
	"context"
	"time"

	"voice-gateway/internal/calls"
	"voice-gateway/pkg/logger"
	"voice-gateway/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const metaConcurrencySlot = "concurrency_slot"

// SlotLimiter bounds concurrent outbound calls per business.
type SlotLimiter interface {
	// Acquire takes a slot. ok=false means the business is at its limit.
	Acquire(ctx context.Context, businessID string) (key string, ok bool, err error)
	Release(ctx context.Context, key string) error
}

// RedisSlots keeps one counter per business in Redis. The TTL bounds leaks when a
// terminal status callback never arrives.
type RedisSlots struct {
	rdb   redis.Scripter
	limit int
	ttl   time.Duration
}

func NewRedisSlots(rdb redis.Scripter, limit int, ttl time.Duration) *RedisSlots {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisSlots{rdb: rdb, limit: limit, ttl: ttl}
}

func (r *RedisSlots) Acquire(ctx context.Context, businessID string) (string, bool, error) {
	key := utils.CallSlotKey(businessID)
	ok, err := utils.AcquireCallSlot(ctx, r.rdb, key, r.limit, r.ttl)
	if err != nil {
		return "", false, err
	}
	return key, ok, nil
}

func (r *RedisSlots) Release(ctx context.Context, key string) error {
	return utils.ReleaseCallSlot(ctx, r.rdb, key)
}

// SlotReleaseHook gives back the slot recorded on the call, if any.
func SlotReleaseHook(l SlotLimiter) calls.TerminalHook {
	return calls.TerminalHookFunc(func(ctx context.Context, rec calls.CallRecord) error {
		key := rec.MetadataValue(metaConcurrencySlot)
		if key == "" {
			return nil
		}
		if err := l.Release(ctx, key); err != nil {
			return err
		}
		logger.From(ctx).Debug("concurrency slot released", "call_id", rec.ID, "key", key)
		return nil
	})
}
