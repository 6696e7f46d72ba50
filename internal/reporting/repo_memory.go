package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"voice-gateway/internal/calls"
	"voice-gateway/internal/ledger"
	"voice-gateway/internal/routing"

	"github.com/shopspring/decimal"
)

// MemoryRepo is an in-memory reporting repository for tests.
// It enforces business isolation on reads.
type MemoryRepo struct {
	mu sync.Mutex

	Calls  []calls.CallRecord
	Usage  []ledger.UsageRecord
	Agents []routing.Agent
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func (r *MemoryRepo) CallStats(_ context.Context, businessID string, from, to time.Time, direction string) ([]StatusStat, error) {
	if businessID == "" {
		return nil, errors.New("business_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	byStatus := map[string]*StatusStat{}
	var order []string
	for _, c := range r.Calls {
		if c.BusinessID != businessID || !inRange(c.StartedAt, from, to) {
			continue
		}
		if direction != "" && string(c.Direction) != direction {
			continue
		}
		s, ok := byStatus[string(c.Status)]
		if !ok {
			s = &StatusStat{Status: string(c.Status)}
			byStatus[string(c.Status)] = s
			order = append(order, string(c.Status))
		}
		s.Calls++
		s.DurationSeconds += c.Duration()
		if c.RecordingURL != "" {
			s.Recorded++
		}
	}
	out := make([]StatusStat, 0, len(order))
	for _, k := range order {
		out = append(out, *byStatus[k])
	}
	return out, nil
}

func (r *MemoryRepo) UsageStats(_ context.Context, businessID string, from, to time.Time) (UsageSummary, error) {
	if businessID == "" {
		return UsageSummary{}, errors.New("business_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := UsageSummary{OverageMinutes: decimal.Zero, CreditMinutesSpent: decimal.Zero, CreditMinutesAdded: decimal.Zero}
	for _, u := range r.Usage {
		if u.BusinessID != businessID || !inRange(u.CreatedAt, from, to) {
			continue
		}
		out.BillableMinutes += u.BillableMinutes
		out.OverageMinutes = out.OverageMinutes.Add(u.OverageMinutes)
		switch u.Type {
		case ledger.EntryTypeUsage:
			out.CreditMinutesSpent = out.CreditMinutesSpent.Sub(u.CreditMinutes)
		case ledger.EntryTypeCredit:
			out.CreditMinutesAdded = out.CreditMinutesAdded.Add(u.CreditMinutes)
		}
	}
	return out, nil
}

func (r *MemoryRepo) AgentCounts(_ context.Context, businessID string) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]int{}
	for _, a := range r.Agents {
		if a.BusinessID == businessID {
			out[string(a.Status)]++
		}
	}
	return out, nil
}
