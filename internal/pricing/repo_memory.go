package pricing

import (
	"context"
	"sync"
)

// MemoryRepo serves tier pricing from memory, for tests and DB-less local runs.
type MemoryRepo struct {
	mu    sync.RWMutex
	Tiers map[Tier]TierPricing
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{Tiers: DefaultCatalog()} }

func (r *MemoryRepo) FindTierPricing(ctx context.Context, tier Tier) (TierPricing, bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.Tiers[tier]
	return p, ok, nil
}

func (r *MemoryRepo) Put(p TierPricing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Tiers == nil {
		r.Tiers = map[Tier]TierPricing{}
	}
	r.Tiers[p.Tier] = p
}
