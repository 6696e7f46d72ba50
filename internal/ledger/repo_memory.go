package ledger

import (
	"context"
	"sync"
	"time"

	"voice-gateway/internal/pricing"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local runs.
// A single mutex plays the role of the row lock.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	byCall   map[string]UsageRecord
	byKey    map[string]UsageRecord
	records  []UsageRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: map[string]Account{},
		byCall:   map[string]UsageRecord{},
		byKey:    map[string]UsageRecord{},
	}
}

// PutAccount seeds or replaces an account.
func (s *MemoryStore) PutAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.BusinessID] = a
}

func (s *MemoryStore) Records() []UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UsageRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *MemoryStore) GetAccount(ctx context.Context, businessID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[businessID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (s *MemoryStore) Deduct(ctx context.Context, req DeductRequest, now time.Time, plan ChargePlanner) (DeductionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[req.BusinessID]
	if !ok {
		return DeductionResult{}, ErrAccountNotFound
	}
	if existing, ok := s.byCall[req.CallID]; ok {
		return duplicateResult(existing), nil
	}

	acct, rolled := rollover(acct, now)
	charge, err := plan(acct)
	if err != nil {
		return DeductionResult{}, err
	}

	prev := acct.VoiceCreditBalance
	acct.VoiceCreditBalance = prev.Sub(charge.CreditMinutes)
	if req.Direction == pricing.CallDirectionOutbound {
		acct.PeriodOutboundMinutesUsed = acct.PeriodOutboundMinutesUsed.Add(intDecimal(charge.BillableMinutes))
	} else {
		acct.PeriodInboundMinutesUsed = acct.PeriodInboundMinutesUsed.Add(intDecimal(charge.BillableMinutes))
	}
	acct.UpdatedAt = now

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
		BalanceAfter:    acct.VoiceCreditBalance,
		CreatedAt:       now,
	}
	s.accounts[req.BusinessID] = acct
	s.byCall[req.CallID] = rec
	s.records = append(s.records, rec)

	return DeductionResult{Record: rec, PreviousBalance: prev, NewBalance: acct.VoiceCreditBalance, RolledOver: rolled}, nil
}

func (s *MemoryStore) Credit(ctx context.Context, req CreditRequest, now time.Time) (UsageRecord, Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[req.BusinessID]
	if !ok {
		return UsageRecord{}, Account{}, ErrAccountNotFound
	}
	key := req.BusinessID + "|" + req.IdempotencyKey
	if existing, ok := s.byKey[key]; ok {
		return existing, acct, nil
	}

	acct.VoiceCreditBalance = acct.VoiceCreditBalance.Add(req.Minutes)
	acct.UpdatedAt = now
	rec := UsageRecord{
		ID:             uuid.NewString(),
		BusinessID:     req.BusinessID,
		Type:           EntryTypeCredit,
		CreditMinutes:  req.Minutes,
		BalanceAfter:   acct.VoiceCreditBalance,
		IdempotencyKey: req.IdempotencyKey,
		Note:           req.Note,
		CreatedAt:      now,
	}
	s.accounts[req.BusinessID] = acct
	s.byKey[key] = rec
	s.records = append(s.records, rec)
	return rec, acct, nil
}

func (s *MemoryStore) FindUsageByCall(ctx context.Context, callID string) (UsageRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byCall[callID]
	return r, ok, nil
}
