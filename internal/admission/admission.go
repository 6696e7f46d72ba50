// Package admission decides whether a business may start a call.
//
// CheckAdmission is side-effect free: it reads the credit ledger and tier pricing and
// never reserves credit. Denials are values, not errors.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice-gateway/internal/ledger"
	"voice-gateway/internal/pricing"
	"voice-gateway/pkg/metrics"

	"github.com/shopspring/decimal"
)

type Reason string

const (
	ReasonAccountFrozen       Reason = "account_frozen"
	ReasonTierRestriction     Reason = "tier_restriction"
	ReasonInsufficientCredits Reason = "insufficient_credits"
)

var (
	ErrInvalidRequest   = errors.New("admission: invalid request")
	ErrUnknownBusiness  = errors.New("admission: unknown business")
	ErrInactiveBusiness = errors.New("admission: business is not active")
)

type Request struct {
	BusinessID       string                `json:"business_id"`
	Direction        pricing.CallDirection `json:"direction"`
	EstimatedMinutes int                   `json:"estimated_duration_minutes"`
}

// Decision is the structured admission outcome.
// Costs are only populated past the tier check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`

	WithinPlanLimit   bool            `json:"within_plan_limit"`
	RemainingIncluded decimal.Decimal `json:"remaining_included_minutes"`
	OverageMinutes    decimal.Decimal `json:"overage_minutes"`

	EstimatedCostCents decimal.Decimal `json:"estimated_cost_cents"`
	// EstimatedCost is in credit-minutes.
	EstimatedCost decimal.Decimal `json:"estimated_cost"`

	Balance decimal.Decimal `json:"voice_credit_balance"`
	Deficit decimal.Decimal `json:"deficit,omitempty"`
}

type AccountReader interface {
	Account(ctx context.Context, businessID string) (ledger.Account, error)
}

type PricingReader interface {
	TierPricing(ctx context.Context, tier pricing.Tier) (pricing.TierPricing, error)
}

type Controller struct {
	accounts AccountReader
	pricing  PricingReader
	clock    func() time.Time
}

func NewController(accounts AccountReader, pricingSvc PricingReader) *Controller {
	return &Controller{accounts: accounts, pricing: pricingSvc, clock: time.Now}
}

func (c *Controller) WithClock(clock func() time.Time) *Controller {
	c.clock = clock
	return c
}

// CheckAdmission evaluates, in order: frozen account, tier outbound eligibility,
// plan allowance, then credit balance for the overage.
func (c *Controller) CheckAdmission(ctx context.Context, req Request) (Decision, error) {
	if req.BusinessID == "" || !req.Direction.Valid() || req.EstimatedMinutes <= 0 {
		return Decision{}, ErrInvalidRequest
	}

	acct, err := c.accounts.Account(ctx, req.BusinessID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return Decision{}, ErrUnknownBusiness
		}
		return Decision{}, fmt.Errorf("admission: load account: %w", err)
	}
	if !acct.Active {
		return Decision{}, ErrInactiveBusiness
	}

	d, err := c.decide(ctx, req, acct)
	if err != nil {
		return Decision{}, err
	}

	reason := "allowed"
	if !d.Allowed {
		reason = string(d.Reason)
	}
	metrics.AdmissionDecisions.WithLabelValues(string(req.Direction), reason).Inc()
	return d, nil
}

func (c *Controller) decide(ctx context.Context, req Request, acct ledger.Account) (Decision, error) {
	if acct.Frozen {
		return deny(ReasonAccountFrozen, acct), nil
	}

	p, err := c.pricing.TierPricing(ctx, acct.Tier)
	if err != nil {
		return Decision{}, fmt.Errorf("admission: tier pricing: %w", err)
	}
	if req.Direction == pricing.CallDirectionOutbound && !p.CanMakeOutbound {
		return deny(ReasonTierRestriction, acct), nil
	}

	requested := decimal.NewFromInt(int64(req.EstimatedMinutes))
	used := acct.UsageAt(req.Direction, c.clock().UTC())
	remaining := pricing.RemainingIncluded(p, req.Direction, used)

	if remaining.GreaterThanOrEqual(requested) {
		return Decision{
			Allowed:            true,
			WithinPlanLimit:    true,
			RemainingIncluded:  remaining,
			OverageMinutes:     decimal.Zero,
			EstimatedCostCents: decimal.Zero,
			EstimatedCost:      decimal.Zero,
			Balance:            acct.VoiceCreditBalance,
		}, nil
	}

	cost := pricing.PriceOverage(p, req.Direction, requested.Sub(remaining))
	d := Decision{
		WithinPlanLimit:    false,
		RemainingIncluded:  remaining,
		OverageMinutes:     cost.OverageMinutes,
		EstimatedCostCents: cost.CostCents,
		EstimatedCost:      cost.CreditMinutes,
		Balance:            acct.VoiceCreditBalance,
	}
	if acct.VoiceCreditBalance.LessThan(cost.CreditMinutes) {
		d.Reason = ReasonInsufficientCredits
		d.Message = messageFor(ReasonInsufficientCredits)
		d.Deficit = cost.CreditMinutes.Sub(acct.VoiceCreditBalance)
		return d, nil
	}
	d.Allowed = true
	return d, nil
}

func deny(reason Reason, acct ledger.Account) Decision {
	return Decision{Reason: reason, Message: messageFor(reason), Balance: acct.VoiceCreditBalance}
}

func messageFor(r Reason) string {
	switch r {
	case ReasonAccountFrozen:
		return "Your account is frozen. Contact support to restore calling."
	case ReasonTierRestriction:
		return "Outbound calling is not included in your plan. Upgrade to place calls."
	case ReasonInsufficientCredits:
		return "Not enough voice credits for this call. Top up to continue."
	default:
		return ""
	}
}
