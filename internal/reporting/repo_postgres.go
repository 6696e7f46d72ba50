package reporting

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresRepo aggregates in SQL so summaries never load individual rows.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) CallStats(ctx context.Context, businessID string, from, to time.Time, direction string) ([]StatusStat, error) {
	q := `
SELECT status, COUNT(*), COALESCE(SUM(duration_seconds), 0), COUNT(*) FILTER (WHERE recording_url <> '')
FROM calls
WHERE business_id = $1 AND started_at >= $2 AND started_at < $3 AND ($4 = '' OR direction = $4)
GROUP BY status`
	rows, err := r.db.QueryContext(ctx, q, businessID, from, to, direction)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusStat
	for rows.Next() {
		var s StatusStat
		if err := rows.Scan(&s.Status, &s.Calls, &s.DurationSeconds, &s.Recorded); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) UsageStats(ctx context.Context, businessID string, from, to time.Time) (UsageSummary, error) {
	q := `
SELECT COALESCE(SUM(billable_minutes), 0),
       COALESCE(SUM(overage_minutes), 0),
       COALESCE(-SUM(credit_minutes) FILTER (WHERE type = 'usage'), 0),
       COALESCE(SUM(credit_minutes) FILTER (WHERE type = 'credit'), 0)
FROM usage_records
WHERE business_id = $1 AND created_at >= $2 AND created_at < $3`
	var (
		out                    UsageSummary
		overage, spent, credit decimal.Decimal
	)
	if err := r.db.QueryRowContext(ctx, q, businessID, from, to).Scan(&out.BillableMinutes, &overage, &spent, &credit); err != nil {
		return UsageSummary{}, err
	}
	out.OverageMinutes, out.CreditMinutesSpent, out.CreditMinutesAdded = overage, spent, credit
	return out, nil
}

func (r *PostgresRepo) AgentCounts(ctx context.Context, businessID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM agent_availability WHERE business_id = $1 GROUP BY status`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
