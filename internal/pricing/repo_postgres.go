package pricing

import (
	"context"
	"database/sql"
	"errors"

	"voice-gateway/pkg/utils"
)

// PostgresRepo reads the highest version of a tier from tier_pricing.
type PostgresRepo struct {
	db utils.Querier
}

func NewPostgresRepo(db utils.Querier) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) FindTierPricing(ctx context.Context, tier Tier) (TierPricing, bool, error) {
	const q = `
SELECT tier, version, included_inbound_minutes, included_outbound_minutes,
       overage_inbound_rate_cents, overage_outbound_rate_cents, can_make_outbound
FROM tier_pricing
WHERE tier = $1
ORDER BY version DESC
LIMIT 1
`
	var p TierPricing
	err := r.db.QueryRowContext(ctx, q, string(tier)).Scan(
		&p.Tier,
		&p.Version,
		&p.IncludedInboundMinutes,
		&p.IncludedOutboundMinutes,
		&p.OverageInboundRateCents,
		&p.OverageOutboundRateCents,
		&p.CanMakeOutbound,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TierPricing{}, false, nil
		}
		return TierPricing{}, false, err
	}
	return p, true, nil
}
