package billing

import (
	"context"
	"errors"
	"strconv"
	"time"

	"voice-gateway/internal/calls"
	"voice-gateway/internal/ledger"
	"voice-gateway/internal/notify"
	"voice-gateway/pkg/logger"
	"voice-gateway/pkg/metrics"

	"github.com/google/uuid"
)

// Deducter charges a finished call. ledger.Service satisfies it.
type Deducter interface {
	Deduct(ctx context.Context, req ledger.DeductRequest) (ledger.DeductionResult, error)
	UsageForCall(ctx context.Context, callID string) (ledger.UsageRecord, bool, error)
}

// AlertSink accepts alerts without blocking. notify.Dispatcher satisfies it.
type AlertSink interface {
	Enqueue(ctx context.Context, a notify.Alert) bool
}

// Service settles terminal calls against the ledger and raises low-balance alerts.
//
// The ledger write comes first and is never undone by an alert failure.
type Service struct {
	ledger     Deducter
	alerts     AlertSink
	thresholds Thresholds
	clock      func() time.Time
}

func NewService(l Deducter, alerts AlertSink, t Thresholds) *Service {
	return &Service{ledger: l, alerts: alerts, thresholds: t, clock: time.Now}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

var ErrCallNotTerminal = errors.New("billing: call has not ended")

var _ calls.ReplayableHook = (*Service)(nil)

// OnCallTerminal is the lifecycle hook. Calls that cannot be billed (no business, unknown
// account) are logged and acknowledged; storage errors are returned so the hook is retried.
func (s *Service) OnCallTerminal(ctx context.Context, rec calls.CallRecord) error {
	_, err := s.Settle(ctx, rec)
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrInvalidArgument):
		logger.From(ctx).Warn("call not billable", "call_id", rec.ID, "business_id", rec.BusinessID, "err", err)
		return nil
	default:
		return err
	}
}

// Pending reports whether rec still lacks its usage record. Calls without a business
// are never billed and so never pending.
func (s *Service) Pending(ctx context.Context, rec calls.CallRecord) (bool, error) {
	if rec.BusinessID == "" || rec.ID == "" {
		return false, nil
	}
	_, found, err := s.ledger.UsageForCall(ctx, rec.ID)
	if err != nil {
		return false, err
	}
	return !found, nil
}

// Settle deducts rec exactly once. A replay returns the original charge and raises no alerts.
func (s *Service) Settle(ctx context.Context, rec calls.CallRecord) (ledger.DeductionResult, error) {
	if !rec.Status.IsTerminal() {
		return ledger.DeductionResult{}, ErrCallNotTerminal
	}
	res, err := s.ledger.Deduct(ctx, ledger.DeductRequest{
		BusinessID:      rec.BusinessID,
		CallID:          rec.ID,
		Direction:       rec.Direction,
		DurationSeconds: rec.Duration(),
	})
	if err != nil {
		return ledger.DeductionResult{}, err
	}
	metrics.Deductions.WithLabelValues(string(rec.Direction), strconv.FormatBool(res.Duplicate)).Inc()
	if res.Duplicate {
		return res, nil
	}

	for _, c := range s.thresholds.Crossed(res.PreviousBalance, res.NewBalance) {
		a := notify.Alert{
			ID:              uuid.NewString(),
			BusinessID:      rec.BusinessID,
			Level:           c.Level,
			Threshold:       c.Threshold,
			PreviousBalance: res.PreviousBalance,
			NewBalance:      res.NewBalance,
			CallID:          rec.ID,
			CreatedAt:       s.clock().UTC(),
		}
		logger.From(ctx).Info("credit threshold crossed",
			"business_id", rec.BusinessID, "level", string(c.Level),
			"previous_balance", res.PreviousBalance.String(), "new_balance", res.NewBalance.String())
		if s.alerts != nil && !s.alerts.Enqueue(ctx, a) {
			logger.From(ctx).Warn("threshold alert not queued",
				"alert_id", a.ID, "call_id", rec.ID, "business_id", rec.BusinessID, "level", string(c.Level))
		}
	}
	return res, nil
}
