package pricing

import "github.com/shopspring/decimal"

// Tier is the subscription tier a business is on.
type Tier string

const (
	TierFree         Tier = "free"
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

type CallDirection string

const (
	CallDirectionInbound  CallDirection = "inbound"
	CallDirectionOutbound CallDirection = "outbound"
)

func (d CallDirection) Valid() bool {
	return d == CallDirectionInbound || d == CallDirectionOutbound
}

// TierPricing is the read-only voice pricing of one tier.
// Rates are in cents per minute and may be fractional.
type TierPricing struct {
	Tier    Tier `json:"tier" db:"tier"`
	Version int  `json:"version" db:"version"`

	IncludedInboundMinutes  int `json:"included_inbound_minutes" db:"included_inbound_minutes"`
	IncludedOutboundMinutes int `json:"included_outbound_minutes" db:"included_outbound_minutes"`

	OverageInboundRateCents  decimal.Decimal `json:"overage_inbound_rate_cents" db:"overage_inbound_rate_cents"`
	OverageOutboundRateCents decimal.Decimal `json:"overage_outbound_rate_cents" db:"overage_outbound_rate_cents"`

	CanMakeOutbound bool `json:"can_make_outbound" db:"can_make_outbound"`
}

// IncludedMinutes returns the plan allowance for direction.
func (p TierPricing) IncludedMinutes(d CallDirection) int {
	if d == CallDirectionOutbound {
		return p.IncludedOutboundMinutes
	}
	return p.IncludedInboundMinutes
}

// OverageRate returns the per-minute overage rate in cents for direction.
func (p TierPricing) OverageRate(d CallDirection) decimal.Decimal {
	if d == CallDirectionOutbound {
		return p.OverageOutboundRateCents
	}
	return p.OverageInboundRateCents
}

// OverageCost is the priced result for a number of minutes beyond the plan.
type OverageCost struct {
	OverageMinutes decimal.Decimal `json:"overage_minutes"`
	RateCents      decimal.Decimal `json:"rate_cents"`
	CostCents      decimal.Decimal `json:"cost_cents"`

	// CreditMinutes is CostCents converted at the fixed credit rate.
	CreditMinutes decimal.Decimal `json:"credit_minutes"`
}

// DefaultCatalog is the built-in tier table, also seeded into tier_pricing by the schema.
func DefaultCatalog() map[Tier]TierPricing {
	return map[Tier]TierPricing{
		TierFree: {
			Tier: TierFree, Version: 1,
			IncludedInboundMinutes: 30, IncludedOutboundMinutes: 0,
			OverageInboundRateCents: decimal.NewFromInt(3), OverageOutboundRateCents: decimal.Zero,
			CanMakeOutbound: false,
		},
		TierStarter: {
			Tier: TierStarter, Version: 1,
			IncludedInboundMinutes: 100, IncludedOutboundMinutes: 100,
			OverageInboundRateCents: decimal.NewFromInt(2), OverageOutboundRateCents: decimal.NewFromInt(3),
			CanMakeOutbound: true,
		},
		TierProfessional: {
			Tier: TierProfessional, Version: 1,
			IncludedInboundMinutes: 500, IncludedOutboundMinutes: 500,
			OverageInboundRateCents: decimal.RequireFromString("1.5"), OverageOutboundRateCents: decimal.RequireFromString("2.5"),
			CanMakeOutbound: true,
		},
		TierEnterprise: {
			Tier: TierEnterprise, Version: 1,
			IncludedInboundMinutes: 2000, IncludedOutboundMinutes: 2000,
			OverageInboundRateCents: decimal.NewFromInt(1), OverageOutboundRateCents: decimal.NewFromInt(2),
			CanMakeOutbound: true,
		},
	}
}
