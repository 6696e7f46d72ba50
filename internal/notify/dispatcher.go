package notify

import (
	"context"
	"time"

	"voice-gateway/pkg/logger"
	"voice-gateway/pkg/metrics"
	"voice-gateway/pkg/utils"
)

// Dispatcher decouples alert delivery from the code that detects threshold crossings.
// Enqueue never blocks; Run drains the buffer and publishes with bounded retry.
type Dispatcher struct {
	ch    chan Alert
	pub   Publisher
	retry utils.RetryPolicy

	// drainTimeout bounds delivery of buffered alerts after ctx is canceled.
	drainTimeout time.Duration
}

func NewDispatcher(pub Publisher, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		ch:           make(chan Alert, buffer),
		pub:          pub,
		retry:        utils.RetryPolicy{Attempts: 4, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
		drainTimeout: 5 * time.Second,
	}
}

func (d *Dispatcher) WithRetry(p utils.RetryPolicy) *Dispatcher {
	d.retry = p
	return d
}

// Enqueue buffers a for delivery. It reports false when the buffer is full and the alert
// was dropped.
func (d *Dispatcher) Enqueue(ctx context.Context, a Alert) bool {
	select {
	case d.ch <- a:
		return true
	default:
		metrics.AlertsEmitted.WithLabelValues(string(a.Level), "dropped").Inc()
		logger.From(ctx).Error("alert dropped, dispatcher buffer full",
			"business_id", a.BusinessID, "level", string(a.Level), "alert_id", a.ID)
		return false
	}
}

// Run publishes alerts until ctx is done, then drains what is buffered.
func (d *Dispatcher) Run(ctx context.Context) error {
	log := logger.From(ctx).With("component", "alert_dispatcher")
	log.Info("alert dispatcher started")
	for {
		select {
		case a := <-d.ch:
			d.deliver(ctx, a)
		case <-ctx.Done():
			d.drain(logger.With(context.Background(), log))
			log.Info("alert dispatcher stopped")
			return nil
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, d.drainTimeout)
	defer cancel()
	for {
		select {
		case a := <-d.ch:
			d.deliver(ctx, a)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, a Alert) {
	err := utils.Retry(ctx, d.retry, func(ctx context.Context) error {
		return d.pub.Publish(ctx, a)
	})
	if err != nil {
		metrics.AlertsEmitted.WithLabelValues(string(a.Level), "failed").Inc()
		logger.From(ctx).Error("alert publish failed",
			"business_id", a.BusinessID, "level", string(a.Level), "alert_id", a.ID, "err", err)
		return
	}
	metrics.AlertsEmitted.WithLabelValues(string(a.Level), "published").Inc()
	logger.From(ctx).Info("alert published", "business_id", a.BusinessID, "level", string(a.Level), "alert_id", a.ID)
}
