package pricing

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestBillableMinutes(t *testing.T) {
	cases := map[int]int{-5: 0, 0: 0, 1: 1, 5: 1, 60: 1, 61: 2, 120: 2, 125: 3}
	for in, want := range cases {
		if got := BillableMinutes(in); got != want {
			t.Fatalf("BillableMinutes(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestPriceOverage_ConvertsAtTwoCentsPerCreditMinute(t *testing.T) {
	p := DefaultCatalog()[TierStarter]
	got := PriceOverage(p, CallDirectionOutbound, decimal.NewFromInt(3))
	if !got.CostCents.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("expected 9 cents, got %s", got.CostCents)
	}
	if !got.CreditMinutes.Equal(decimal.RequireFromString("4.5")) {
		t.Fatalf("expected 4.5 credit-minutes, got %s", got.CreditMinutes)
	}

	zero := PriceOverage(p, CallDirectionOutbound, decimal.NewFromInt(-1))
	if !zero.CreditMinutes.IsZero() {
		t.Fatalf("expected zero cost for non-positive overage")
	}
}

func TestRemainingIncludedNeverNegative(t *testing.T) {
	p := DefaultCatalog()[TierStarter]
	if got := RemainingIncluded(p, CallDirectionOutbound, decimal.NewFromInt(130)); !got.IsZero() {
		t.Fatalf("expected 0, got %s", got)
	}
	if got := RemainingIncluded(p, CallDirectionInbound, decimal.NewFromInt(10)); !got.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("expected 90, got %s", got)
	}
}

func TestService_TierPricing(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	p, err := svc.TierPricing(context.Background(), TierFree)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if p.CanMakeOutbound {
		t.Fatalf("free tier must not dial out")
	}
	if _, err := svc.TierPricing(context.Background(), Tier("platinum")); err != ErrPricingNotFound {
		t.Fatalf("expected ErrPricingNotFound, got %v", err)
	}
}

func TestPostgresRepo_FindTierPricing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"tier", "version", "included_inbound_minutes", "included_outbound_minutes", "overage_inbound_rate_cents", "overage_outbound_rate_cents", "can_make_outbound"}).
		AddRow("starter", 2, 100, 100, "2.00", "3.50", true)
	mock.ExpectQuery(regexp.QuoteMeta("FROM tier_pricing")).WithArgs("starter").WillReturnRows(rows)

	p, ok, err := NewPostgresRepo(db).FindTierPricing(context.Background(), TierStarter)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, p.Version)
	require.True(t, p.OverageOutboundRateCents.Equal(decimal.RequireFromString("3.5")))
	require.NoError(t, mock.ExpectationsWereMet())
}
