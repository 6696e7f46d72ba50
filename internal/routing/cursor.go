package routing

import (
	"context"

	"voice-gateway/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Cursor hands out an increasing counter shared across processes.
type Cursor interface {
	Next(ctx context.Context, key string) (int64, error)
}

// RedisCursor backs round-robin rotation with INCR.
type RedisCursor struct {
	rdb redis.Cmdable
}

func NewRedisCursor(rdb redis.Cmdable) *RedisCursor { return &RedisCursor{rdb: rdb} }

func (c *RedisCursor) Next(ctx context.Context, key string) (int64, error) {
	return utils.NextCursor(ctx, c.rdb, key)
}

func roundRobinKey(q Queue) string {
	return "voice:rr:" + q.BusinessID + ":" + q.ID
}
