package ledger

import (
	"context"
	"errors"
	"time"

	"voice-gateway/internal/pricing"
	"voice-gateway/pkg/logger"

	"github.com/shopspring/decimal"
)

// Service provides credit ledger operations.
//
// Money invariants:
// - No balance updates without a usage record
// - Usage records are append-only
// - A call is charged at most once (usage_records.call_id is unique)
//
// Credit policy: admission gates on the balance before a call; deduction always charges
// actual usage after it, so the balance may go negative. There is no hold.
type Service struct {
	store   Store
	pricing *pricing.Service
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(store Store, pricingSvc *pricing.Service) *Service {
	return &Service{store: store, pricing: pricingSvc, clock: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

var (
	ErrAccountNotFound = errors.New("ledger: account not found")
	ErrInvalidArgument = errors.New("ledger: invalid argument")
)

func (s *Service) Now() time.Time { return s.clock().UTC() }

func (s *Service) Account(ctx context.Context, businessID string) (Account, error) {
	if businessID == "" {
		return Account{}, ErrInvalidArgument
	}
	return s.store.GetAccount(ctx, businessID)
}

// Deduct charges a finished call against the ledger exactly once.
// Only minutes beyond the plan allowance cost credits; all billable minutes count as usage.
func (s *Service) Deduct(ctx context.Context, req DeductRequest) (DeductionResult, error) {
	if req.BusinessID == "" || req.CallID == "" || !req.Direction.Valid() || req.DurationSeconds < 0 {
		return DeductionResult{}, ErrInvalidArgument
	}

	billable := pricing.BillableMinutes(req.DurationSeconds)
	plan := func(a Account) (Charge, error) {
		p, err := s.pricing.TierPricing(ctx, a.Tier)
		if err != nil {
			return Charge{}, err
		}
		minutes := intDecimal(billable)
		remaining := pricing.RemainingIncluded(p, req.Direction, a.PeriodMinutesUsed(req.Direction))
		cost := pricing.PriceOverage(p, req.Direction, minutes.Sub(remaining))
		return Charge{
			BillableMinutes: billable,
			OverageMinutes:  cost.OverageMinutes,
			CostCents:       cost.CostCents,
			CreditMinutes:   cost.CreditMinutes,
		}, nil
	}

	res, err := s.store.Deduct(ctx, req, s.Now(), plan)
	if err != nil {
		return DeductionResult{}, err
	}

	log := logger.From(ctx).With("business_id", req.BusinessID, "call_id", req.CallID)
	if res.Duplicate {
		log.Info("ledger deduction replayed", "usage_id", res.Record.ID)
		return res, nil
	}
	if res.NewBalance.IsNegative() {
		log.Warn("ledger overdraft", "balance", res.NewBalance.String(), "charged", res.Record.CreditMinutes.Neg().String())
	}
	log.Info("ledger deduction applied",
		"billable_minutes", res.Record.BillableMinutes,
		"overage_minutes", res.Record.OverageMinutes.String(),
		"credit_minutes", res.Record.CreditMinutes.String(),
		"balance", res.NewBalance.String(),
	)
	return res, nil
}

// Credit adds credit-minutes to a business, idempotent on IdempotencyKey.
func (s *Service) Credit(ctx context.Context, req CreditRequest) (UsageRecord, Account, error) {
	if req.BusinessID == "" || req.IdempotencyKey == "" || !req.Minutes.IsPositive() {
		return UsageRecord{}, Account{}, ErrInvalidArgument
	}
	return s.store.Credit(ctx, req, s.Now())
}

// UsageForCall returns the usage record written for callID, if any.
func (s *Service) UsageForCall(ctx context.Context, callID string) (UsageRecord, bool, error) {
	if callID == "" {
		return UsageRecord{}, false, ErrInvalidArgument
	}
	return s.store.FindUsageByCall(ctx, callID)
}

func intDecimal(n int) decimal.Decimal { return decimal.NewFromInt(int64(n)) }
