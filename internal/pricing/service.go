package pricing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Service resolves tier pricing and prices overage minutes.
//
// Contract:
// - Pure calculation + repository lookups.
// - No ledger access; callers decide what to do with the cost.
type Service struct {
	repo TierRepository
}

func NewService(repo TierRepository) *Service {
	return &Service{repo: repo}
}

// TierRepository abstracts pricing persistence.
type TierRepository interface {
	FindTierPricing(ctx context.Context, tier Tier) (TierPricing, bool, error)
}

var (
	ErrPricingNotFound   = errors.New("pricing not found")
	ErrInvalidPricingReq = errors.New("invalid pricing request")
)

// centsPerCreditMinute is the fixed conversion between overage cost and credit-minutes
// (an assumed $0.02/min average).
var centsPerCreditMinute = decimal.NewFromInt(2)

func (s *Service) TierPricing(ctx context.Context, tier Tier) (TierPricing, error) {
	if tier == "" {
		return TierPricing{}, ErrInvalidPricingReq
	}
	if s.repo == nil {
		return TierPricing{}, errors.New("pricing: repository not configured")
	}
	p, ok, err := s.repo.FindTierPricing(ctx, tier)
	if err != nil {
		return TierPricing{}, err
	}
	if !ok {
		return TierPricing{}, ErrPricingNotFound
	}
	return p, nil
}

// PriceOverage prices overageMinutes for direction on p. Non-positive minutes cost nothing.
func PriceOverage(p TierPricing, direction CallDirection, overageMinutes decimal.Decimal) OverageCost {
	rate := p.OverageRate(direction)
	if !overageMinutes.IsPositive() {
		return OverageCost{OverageMinutes: decimal.Zero, RateCents: rate, CostCents: decimal.Zero, CreditMinutes: decimal.Zero}
	}
	cost := overageMinutes.Mul(rate)
	return OverageCost{
		OverageMinutes: overageMinutes,
		RateCents:      rate,
		CostCents:      cost,
		CreditMinutes:  CreditMinutesForCents(cost),
	}
}

// CreditMinutesForCents converts a cost in cents into credit-minutes, rounded to 2 places.
func CreditMinutesForCents(cents decimal.Decimal) decimal.Decimal {
	return cents.Div(centsPerCreditMinute).Round(2)
}

// RemainingIncluded returns max(0, included(direction) - used).
func RemainingIncluded(p TierPricing, direction CallDirection, used decimal.Decimal) decimal.Decimal {
	rem := decimal.NewFromInt(int64(p.IncludedMinutes(direction))).Sub(used)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// BillableMinutes rounds a call duration up to whole started minutes.
func BillableMinutes(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	m := durationSeconds / 60
	if durationSeconds%60 != 0 {
		m++
	}
	return m
}
