package notify

import (
	"context"

	"voice-gateway/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Publisher delivers one alert to whatever consumes notifications.
type Publisher interface {
	Publish(ctx context.Context, a Alert) error
}

type PublisherFunc func(ctx context.Context, a Alert) error

func (f PublisherFunc) Publish(ctx context.Context, a Alert) error { return f(ctx, a) }

// StreamPublisher appends alerts to a capped Redis stream.
// The notification system consumes the stream with its own consumer group.
type StreamPublisher struct {
	rdb    redis.Cmdable
	stream string
	maxLen int64
}

func NewStreamPublisher(rdb redis.Cmdable, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (p *StreamPublisher) Publish(ctx context.Context, a Alert) error {
	_, err := utils.PublishStream(ctx, p.rdb, p.stream, p.maxLen, a.Fields())
	return err
}
