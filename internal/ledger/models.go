package ledger

import (
	"time"

	"voice-gateway/internal/pricing"

	"github.com/shopspring/decimal"
)

// Account is the credit ledger carried on the business row.
//
// Invariants:
// - VoiceCreditBalance may go negative (grace period); it is never clamped at write time.
// - Every balance change has a corresponding UsageRecord.
// - Balance and usage counters change only through atomic deltas under a row lock.
type Account struct {
	BusinessID string       `json:"business_id" db:"id"`
	Tier       pricing.Tier `json:"tier" db:"tier"`
	Active     bool         `json:"active" db:"is_active"`
	Frozen     bool         `json:"frozen" db:"is_frozen"`

	VoiceCreditBalance decimal.Decimal `json:"voice_credit_balance" db:"voice_credit_balance"`

	PeriodInboundMinutesUsed  decimal.Decimal `json:"period_inbound_minutes_used" db:"period_inbound_minutes_used"`
	PeriodOutboundMinutesUsed decimal.Decimal `json:"period_outbound_minutes_used" db:"period_outbound_minutes_used"`

	PeriodStart time.Time `json:"period_start" db:"period_start"`
	PeriodEnd   time.Time `json:"period_end" db:"period_end"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PeriodMinutesUsed returns the usage counter matching direction's included-minutes bucket.
func (a Account) PeriodMinutesUsed(d pricing.CallDirection) decimal.Decimal {
	if d == pricing.CallDirectionOutbound {
		return a.PeriodOutboundMinutesUsed
	}
	return a.PeriodInboundMinutesUsed
}

// UsageAt returns usage as seen at now: an elapsed period counts as zero.
func (a Account) UsageAt(d pricing.CallDirection, now time.Time) decimal.Decimal {
	if a.PeriodExpired(now) {
		return decimal.Zero
	}
	return a.PeriodMinutesUsed(d)
}

func (a Account) PeriodExpired(now time.Time) bool {
	return !a.PeriodEnd.IsZero() && !now.Before(a.PeriodEnd)
}

// rollover resets usage and advances the period by whole months until it covers now.
// It reports whether anything changed.
func rollover(a Account, now time.Time) (Account, bool) {
	if !a.PeriodExpired(now) {
		return a, false
	}
	for !now.Before(a.PeriodEnd) {
		a.PeriodStart = a.PeriodEnd
		a.PeriodEnd = a.PeriodEnd.AddDate(0, 1, 0)
	}
	a.PeriodInboundMinutesUsed = decimal.Zero
	a.PeriodOutboundMinutesUsed = decimal.Zero
	return a, true
}

type EntryType string

const (
	EntryTypeUsage  EntryType = "usage"  // call charge, written once per call
	EntryTypeCredit EntryType = "credit" // purchase or admin top-up
)

// UsageRecord is an immutable append-only ledger row.
// Usage rows are unique per call_id; credit rows are unique per (business_id, idempotency_key).
type UsageRecord struct {
	ID         string    `json:"id" db:"id"`
	BusinessID string    `json:"business_id" db:"business_id"`
	Type       EntryType `json:"type" db:"type"`

	CallID    string                `json:"call_id,omitempty" db:"call_id"`
	Direction pricing.CallDirection `json:"direction,omitempty" db:"direction"`

	BillableMinutes int             `json:"billable_minutes" db:"billable_minutes"`
	OverageMinutes  decimal.Decimal `json:"overage_minutes" db:"overage_minutes"`
	CostCents       decimal.Decimal `json:"cost_cents" db:"cost_cents"`

	// CreditMinutes is the signed balance delta: negative for usage, positive for credits.
	CreditMinutes decimal.Decimal `json:"credit_minutes" db:"credit_minutes"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`

	IdempotencyKey string `json:"idempotency_key,omitempty" db:"idempotency_key"`
	Note           string `json:"note,omitempty" db:"note"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Charge is what one call costs against the ledger, computed from the locked account.
type Charge struct {
	BillableMinutes int
	OverageMinutes  decimal.Decimal
	CostCents       decimal.Decimal
	CreditMinutes   decimal.Decimal
}

// ChargePlanner prices a call against the locked, rolled-over account.
type ChargePlanner func(a Account) (Charge, error)

type DeductRequest struct {
	BusinessID      string
	CallID          string
	Direction       pricing.CallDirection
	DurationSeconds int
}

// DeductionResult reports the balance before and after the charge.
// Duplicate is set when the call was already charged; balances then describe the original charge.
type DeductionResult struct {
	Record          UsageRecord     `json:"record"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance"`
	Duplicate       bool            `json:"duplicate"`
	RolledOver      bool            `json:"rolled_over"`
}

type CreditRequest struct {
	BusinessID     string          `json:"business_id"`
	Minutes        decimal.Decimal `json:"minutes"`
	IdempotencyKey string          `json:"idempotency_key"`
	Note           string          `json:"note,omitempty"`
}
