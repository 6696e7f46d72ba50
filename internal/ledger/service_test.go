package ledger

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"voice-gateway/internal/pricing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, acct Account) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	store.PutAccount(acct)
	svc := NewService(store, pricing.NewService(pricing.NewMemoryRepo())).WithClock(func() time.Time { return testNow })
	return svc, store
}

func starterAccount(balance string, outboundUsed int64) Account {
	return Account{
		BusinessID:                "b1",
		Tier:                      pricing.TierStarter,
		Active:                    true,
		VoiceCreditBalance:        decimal.RequireFromString(balance),
		PeriodInboundMinutesUsed:  decimal.Zero,
		PeriodOutboundMinutesUsed: decimal.NewFromInt(outboundUsed),
		PeriodStart:               time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:                 time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestDeduct_WithinPlanChargesNothing(t *testing.T) {
	svc, _ := newTestService(t, starterAccount("20", 10))

	res, err := svc.Deduct(context.Background(), DeductRequest{BusinessID: "b1", CallID: "c1", Direction: pricing.CallDirectionOutbound, DurationSeconds: 290})
	require.NoError(t, err)
	require.Equal(t, 5, res.Record.BillableMinutes)
	require.True(t, res.Record.CreditMinutes.IsZero())
	require.True(t, res.NewBalance.Equal(decimal.NewFromInt(20)))

	acct, err := svc.Account(context.Background(), "b1")
	require.NoError(t, err)
	require.True(t, acct.PeriodOutboundMinutesUsed.Equal(decimal.NewFromInt(15)))
	require.True(t, acct.PeriodInboundMinutesUsed.IsZero())
}

func TestDeduct_OverageOnlyBeyondPlan(t *testing.T) {
	svc, _ := newTestService(t, starterAccount("20", 98))

	res, err := svc.Deduct(context.Background(), DeductRequest{BusinessID: "b1", CallID: "c1", Direction: pricing.CallDirectionOutbound, DurationSeconds: 300})
	require.NoError(t, err)
	// 3 overage minutes at 3 cents = 9 cents = 4.5 credit-minutes.
	require.True(t, res.Record.OverageMinutes.Equal(decimal.NewFromInt(3)))
	require.True(t, res.Record.CreditMinutes.Equal(decimal.RequireFromString("-4.5")))
	require.True(t, res.PreviousBalance.Equal(decimal.NewFromInt(20)))
	require.True(t, res.NewBalance.Equal(decimal.RequireFromString("15.5")))
}

func TestDeduct_ExactlyOncePerCall(t *testing.T) {
	svc, store := newTestService(t, starterAccount("20", 100))
	req := DeductRequest{BusinessID: "b1", CallID: "c1", Direction: pricing.CallDirectionOutbound, DurationSeconds: 120}

	var wg sync.WaitGroup
	results := make([]DeductionResult, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Deduct(context.Background(), req)
		}(i)
	}
	wg.Wait()

	applied := 0
	for i, r := range results {
		require.NoError(t, errs[i])
		if !r.Duplicate {
			applied++
		}
		require.True(t, r.NewBalance.Equal(decimal.NewFromInt(17)))
	}
	require.Equal(t, 1, applied)
	require.Len(t, store.Records(), 1)
}

func TestDeduct_AllowsNegativeBalance(t *testing.T) {
	svc, _ := newTestService(t, starterAccount("1", 100))

	res, err := svc.Deduct(context.Background(), DeductRequest{BusinessID: "b1", CallID: "c1", Direction: pricing.CallDirectionOutbound, DurationSeconds: 600})
	require.NoError(t, err)
	require.True(t, res.NewBalance.IsNegative())
	require.True(t, res.NewBalance.Equal(decimal.NewFromInt(-14)))
}

func TestDeduct_RollsOverExpiredPeriod(t *testing.T) {
	acct := starterAccount("20", 100)
	acct.PeriodStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	acct.PeriodEnd = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, acct)

	res, err := svc.Deduct(context.Background(), DeductRequest{BusinessID: "b1", CallID: "c1", Direction: pricing.CallDirectionOutbound, DurationSeconds: 60})
	require.NoError(t, err)
	require.True(t, res.RolledOver)
	require.True(t, res.Record.CreditMinutes.IsZero())

	got, _ := svc.Account(context.Background(), "b1")
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), got.PeriodStart)
	require.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), got.PeriodEnd)
	require.True(t, got.PeriodOutboundMinutesUsed.Equal(decimal.NewFromInt(1)))
}

func TestDeduct_RejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t, starterAccount("20", 0))
	_, err := svc.Deduct(context.Background(), DeductRequest{BusinessID: "b1", CallID: "c1", Direction: "sideways", DurationSeconds: 10})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.Deduct(context.Background(), DeductRequest{BusinessID: "nope", CallID: "c1", Direction: pricing.CallDirectionInbound, DurationSeconds: 10})
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestCredit_IdempotentOnKey(t *testing.T) {
	svc, store := newTestService(t, starterAccount("5", 0))
	req := CreditRequest{BusinessID: "b1", Minutes: decimal.NewFromInt(100), IdempotencyKey: "topup-1"}

	_, acct, err := svc.Credit(context.Background(), req)
	require.NoError(t, err)
	require.True(t, acct.VoiceCreditBalance.Equal(decimal.NewFromInt(105)))

	_, acct, err = svc.Credit(context.Background(), req)
	require.NoError(t, err)
	require.True(t, acct.VoiceCreditBalance.Equal(decimal.NewFromInt(105)))
	require.Len(t, store.Records(), 1)

	_, _, err = svc.Credit(context.Background(), CreditRequest{BusinessID: "b1", Minutes: decimal.Zero, IdempotencyKey: "k"})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUsageAt_TreatsExpiredPeriodAsZero(t *testing.T) {
	acct := starterAccount("0", 70)
	require.True(t, acct.UsageAt(pricing.CallDirectionOutbound, testNow).Equal(decimal.NewFromInt(70)))
	require.True(t, acct.UsageAt(pricing.CallDirectionOutbound, acct.PeriodEnd).IsZero())
}

var accountCols = []string{"id", "tier", "is_active", "is_frozen", "voice_credit_balance", "period_inbound_minutes_used", "period_outbound_minutes_used", "period_start", "period_end", "updated_at"}

var usageCols = []string{"id", "business_id", "type", "call_id", "direction", "billable_minutes", "overage_minutes", "cost_cents", "credit_minutes", "balance_after", "idempotency_key", "note", "created_at"}

func TestPostgresStore_DeductAppliesAtomicDelta(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM businesses WHERE id = $1 FOR UPDATE")).WithArgs("b1").
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow("b1", "starter", true, false, "20.00", "0", "98", testNow.AddDate(0, 0, -14), testNow.AddDate(0, 0, 17), testNow))
	mock.ExpectQuery(regexp.QuoteMeta("FROM usage_records WHERE call_id = $1")).WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(usageCols))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO usage_records")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("period_outbound_minutes_used = period_outbound_minutes_used + $3")).
		WithArgs("b1", sqlmock.AnyArg(), 5, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"voice_credit_balance"}).AddRow("15.50"))
	mock.ExpectCommit()

	svc := NewService(NewPostgresStore(db), pricing.NewService(pricing.NewMemoryRepo())).WithClock(func() time.Time { return testNow })
	res, err := svc.Deduct(context.Background(), DeductRequest{BusinessID: "b1", CallID: "c1", Direction: pricing.CallDirectionOutbound, DurationSeconds: 300})
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.True(t, res.PreviousBalance.Equal(decimal.NewFromInt(20)))
	require.True(t, res.NewBalance.Equal(decimal.RequireFromString("15.5")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeductReplayDoesNotCharge(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WithArgs("b1").
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow("b1", "starter", true, false, "15.50", "0", "103", testNow.AddDate(0, 0, -14), testNow.AddDate(0, 0, 17), testNow))
	mock.ExpectQuery(regexp.QuoteMeta("FROM usage_records WHERE call_id = $1")).WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(usageCols).AddRow("u1", "b1", "usage", "c1", "outbound", 5, "3", "9", "-4.5", "15.5", "", "", testNow))
	mock.ExpectCommit()

	svc := NewService(NewPostgresStore(db), pricing.NewService(pricing.NewMemoryRepo())).WithClock(func() time.Time { return testNow })
	res, err := svc.Deduct(context.Background(), DeductRequest{BusinessID: "b1", CallID: "c1", Direction: pricing.CallDirectionOutbound, DurationSeconds: 300})
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	require.True(t, res.PreviousBalance.Equal(decimal.NewFromInt(20)))
	require.Equal(t, "u1", res.Record.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
