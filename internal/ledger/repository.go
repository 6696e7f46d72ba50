package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voice-gateway/internal/pricing"
	"voice-gateway/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the persistence contract for the credit ledger.
// Deduct and Credit must be atomic per business: lock, check idempotency, append, apply delta.
type Store interface {
	GetAccount(ctx context.Context, businessID string) (Account, error)
	Deduct(ctx context.Context, req DeductRequest, now time.Time, plan ChargePlanner) (DeductionResult, error)
	Credit(ctx context.Context, req CreditRequest, now time.Time) (UsageRecord, Account, error)
	FindUsageByCall(ctx context.Context, callID string) (UsageRecord, bool, error)
}

// PostgresStore keeps the ledger on the businesses row and usage_records.
//
// Assumed constraints:
// - usage_records UNIQUE (call_id) WHERE call_id IS NOT NULL
// - usage_records UNIQUE (business_id, idempotency_key) WHERE idempotency_key IS NOT NULL
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const accountColumns = `id, tier, is_active, is_frozen, voice_credit_balance,
       period_inbound_minutes_used, period_outbound_minutes_used,
       period_start, period_end, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (Account, error) {
	var a Account
	if err := row.Scan(
		&a.BusinessID,
		&a.Tier,
		&a.Active,
		&a.Frozen,
		&a.VoiceCreditBalance,
		&a.PeriodInboundMinutesUsed,
		&a.PeriodOutboundMinutesUsed,
		&a.PeriodStart,
		&a.PeriodEnd,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, businessID string) (Account, error) {
	q := `SELECT ` + accountColumns + ` FROM businesses WHERE id = $1`
	return scanAccount(s.db.QueryRowContext(ctx, q, businessID))
}

func lockAccount(ctx context.Context, tx *sql.Tx, businessID string) (Account, error) {
	// Serializes concurrent money operations per business.
	q := `SELECT ` + accountColumns + ` FROM businesses WHERE id = $1 FOR UPDATE`
	return scanAccount(tx.QueryRowContext(ctx, q, businessID))
}

func (s *PostgresStore) Deduct(ctx context.Context, req DeductRequest, now time.Time, plan ChargePlanner) (DeductionResult, error) {
	var out DeductionResult
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		out = DeductionResult{}

		acct, err := lockAccount(ctx, tx, req.BusinessID)
		if err != nil {
			return err
		}

		if existing, ok, err := findUsageByCall(ctx, tx, req.CallID); err != nil {
			return err
		} else if ok {
			out = duplicateResult(existing)
			return nil
		}

		acct, rolled := rollover(acct, now)
		if rolled {
			if err := resetPeriod(ctx, tx, acct, now); err != nil {
				return err
			}
		}

		charge, err := plan(acct)
		if err != nil {
			return err
		}

		prev := acct.VoiceCreditBalance
		rec := UsageRecord{
			ID:              uuid.NewString(),
			BusinessID:      req.BusinessID,
			Type:            EntryTypeUsage,
			CallID:          req.CallID,
			Direction:       req.Direction,
			BillableMinutes: charge.BillableMinutes,
			OverageMinutes:  charge.OverageMinutes,
			CostCents:       charge.CostCents,
			CreditMinutes:   charge.CreditMinutes.Neg(),
			BalanceAfter:    prev.Sub(charge.CreditMinutes),
			CreatedAt:       now,
		}
		inserted, err := insertUsage(ctx, tx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			// Lost to a concurrent writer for the same call; report its record.
			existing, ok, err := findUsageByCall(ctx, tx, req.CallID)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("ledger: usage conflict without record")
			}
			out = duplicateResult(existing)
			return nil
		}

		newBal, err := applyUsageDelta(ctx, tx, req.BusinessID, req.Direction, charge.BillableMinutes, charge.CreditMinutes, now)
		if err != nil {
			return err
		}

		rec.BalanceAfter = newBal
		out = DeductionResult{Record: rec, PreviousBalance: prev, NewBalance: newBal, RolledOver: rolled}
		return nil
	})
	return out, err
}

func duplicateResult(existing UsageRecord) DeductionResult {
	return DeductionResult{
		Record:          existing,
		PreviousBalance: existing.BalanceAfter.Sub(existing.CreditMinutes),
		NewBalance:      existing.BalanceAfter,
		Duplicate:       true,
	}
}

func (s *PostgresStore) Credit(ctx context.Context, req CreditRequest, now time.Time) (UsageRecord, Account, error) {
	var outRec UsageRecord
	var outAcct Account
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		acct, err := lockAccount(ctx, tx, req.BusinessID)
		if err != nil {
			return err
		}

		if existing, ok, err := findCreditByIdempotency(ctx, tx, req.BusinessID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outRec, outAcct = existing, acct
			return nil
		}

		rec := UsageRecord{
			ID:             uuid.NewString(),
			BusinessID:     req.BusinessID,
			Type:           EntryTypeCredit,
			CreditMinutes:  req.Minutes,
			BalanceAfter:   acct.VoiceCreditBalance.Add(req.Minutes),
			IdempotencyKey: req.IdempotencyKey,
			Note:           req.Note,
			CreatedAt:      now,
		}
		if _, err := insertUsage(ctx, tx, rec); err != nil {
			return err
		}

		const q = `
UPDATE businesses
SET voice_credit_balance = voice_credit_balance + $2, updated_at = $3
WHERE id = $1
RETURNING ` + accountColumns
		acct, err = scanAccount(tx.QueryRowContext(ctx, q, req.BusinessID, req.Minutes, now))
		if err != nil {
			return err
		}
		rec.BalanceAfter = acct.VoiceCreditBalance
		outRec, outAcct = rec, acct
		return nil
	})
	return outRec, outAcct, err
}

func (s *PostgresStore) FindUsageByCall(ctx context.Context, callID string) (UsageRecord, bool, error) {
	return findUsageByCall(ctx, s.db, callID)
}

const usageColumns = `id, business_id, type, COALESCE(call_id, ''), COALESCE(direction, ''),
       billable_minutes, overage_minutes, cost_cents, credit_minutes, balance_after,
       COALESCE(idempotency_key, ''), COALESCE(note, ''), created_at`

func scanUsage(row interface{ Scan(...any) error }) (UsageRecord, bool, error) {
	var r UsageRecord
	err := row.Scan(
		&r.ID,
		&r.BusinessID,
		&r.Type,
		&r.CallID,
		&r.Direction,
		&r.BillableMinutes,
		&r.OverageMinutes,
		&r.CostCents,
		&r.CreditMinutes,
		&r.BalanceAfter,
		&r.IdempotencyKey,
		&r.Note,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UsageRecord{}, false, nil
		}
		return UsageRecord{}, false, err
	}
	return r, true, nil
}

func findUsageByCall(ctx context.Context, q utils.Querier, callID string) (UsageRecord, bool, error) {
	return scanUsage(q.QueryRowContext(ctx, `SELECT `+usageColumns+` FROM usage_records WHERE call_id = $1 LIMIT 1`, callID))
}

func findCreditByIdempotency(ctx context.Context, q utils.Querier, businessID, key string) (UsageRecord, bool, error) {
	return scanUsage(q.QueryRowContext(ctx, `SELECT `+usageColumns+` FROM usage_records WHERE business_id = $1 AND idempotency_key = $2 LIMIT 1`, businessID, key))
}

// insertUsage appends r and reports false when a row for the same call already exists.
func insertUsage(ctx context.Context, tx *sql.Tx, r UsageRecord) (bool, error) {
	const q = `
INSERT INTO usage_records (
  id, business_id, type, call_id, direction, billable_minutes, overage_minutes,
  cost_cents, credit_minutes, balance_after, idempotency_key, note, created_at
) VALUES (
  $1,$2,$3,NULLIF($4,''),NULLIF($5,''),$6,$7,$8,$9,$10,NULLIF($11,''),NULLIF($12,''),$13
)
ON CONFLICT DO NOTHING
`
	res, err := tx.ExecContext(ctx, q,
		r.ID,
		r.BusinessID,
		r.Type,
		r.CallID,
		string(r.Direction),
		r.BillableMinutes,
		r.OverageMinutes,
		r.CostCents,
		r.CreditMinutes,
		r.BalanceAfter,
		r.IdempotencyKey,
		r.Note,
		r.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func resetPeriod(ctx context.Context, tx *sql.Tx, a Account, now time.Time) error {
	const q = `
UPDATE businesses
SET period_inbound_minutes_used = 0,
    period_outbound_minutes_used = 0,
    period_start = $2,
    period_end = $3,
    updated_at = $4
WHERE id = $1
`
	_, err := tx.ExecContext(ctx, q, a.BusinessID, a.PeriodStart, a.PeriodEnd, now)
	return err
}

// applyUsageDelta charges the balance and bumps the direction's usage counter in one statement.
func applyUsageDelta(ctx context.Context, tx *sql.Tx, businessID string, direction pricing.CallDirection, minutes int, charge decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	column := "period_inbound_minutes_used"
	if direction == pricing.CallDirectionOutbound {
		column = "period_outbound_minutes_used"
	}
	q := `
UPDATE businesses
SET voice_credit_balance = voice_credit_balance - $2,
    ` + column + ` = ` + column + ` + $3,
    updated_at = $4
WHERE id = $1
RETURNING voice_credit_balance
`
	var bal decimal.Decimal
	if err := tx.QueryRowContext(ctx, q, businessID, charge, minutes, now).Scan(&bal); err != nil {
		return decimal.Decimal{}, err
	}
	return bal, nil
}
