package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu        sync.Mutex
	byID      map[string]CallRecord
	byCarrier map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]CallRecord{}, byCarrier: map[string]string{}}
}

func cloneRecord(rec CallRecord) CallRecord {
	if rec.Metadata != nil {
		m := make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			m[k] = v
		}
		rec.Metadata = m
	}
	return rec
}

func (r *MemoryRepo) Upsert(_ context.Context, rec CallRecord) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.CarrierCallID != "" {
		if id, ok := r.byCarrier[rec.CarrierCallID]; ok {
			cur := r.byID[id]
			if cur.BusinessID == "" {
				cur.BusinessID = rec.BusinessID
			}
			cur.Direction = rec.Direction
			if cur.From == "" {
				cur.From = rec.From
			}
			if cur.To == "" {
				cur.To = rec.To
			}
			for k, v := range rec.Metadata {
				if cur.Metadata == nil {
					cur.Metadata = map[string]string{}
				}
				cur.Metadata[k] = v
			}
			cur.UpdatedAt = rec.UpdatedAt
			r.byID[id] = cur
			return cloneRecord(cur), nil
		}
		r.byCarrier[rec.CarrierCallID] = rec.ID
	}
	rec.CreatedAt = rec.UpdatedAt
	r.byID[rec.ID] = cloneRecord(rec)
	return cloneRecord(rec), nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (r *MemoryRepo) GetByCarrierID(_ context.Context, carrierCallID string) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byCarrier[carrierCallID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return cloneRecord(r.byID[id]), nil
}

func (r *MemoryRepo) UpdateIfStatus(_ context.Context, rec CallRecord, prev Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[rec.ID]
	if !ok || cur.Status != prev {
		return false, nil
	}
	cur.Status = rec.Status
	cur.AgentID = rec.AgentID
	cur.AnsweredAt = rec.AnsweredAt
	cur.EndedAt = rec.EndedAt
	cur.DurationSeconds = rec.DurationSeconds
	cur.RecordingURL = rec.RecordingURL
	cur.UpdatedAt = rec.UpdatedAt
	r.byID[rec.ID] = cur
	return true, nil
}

func (r *MemoryRepo) BindCarrierID(_ context.Context, id, carrierCallID string) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	if cur.CarrierCallID == carrierCallID {
		return cloneRecord(cur), nil
	}
	if cur.CarrierCallID != "" {
		return cloneRecord(cur), ErrConflict
	}
	if _, taken := r.byCarrier[carrierCallID]; taken {
		return cloneRecord(cur), ErrConflict
	}
	cur.CarrierCallID = carrierCallID
	r.byCarrier[carrierCallID] = id
	r.byID[id] = cur
	return cloneRecord(cur), nil
}

func (r *MemoryRepo) AssignAgent(_ context.Context, id, agentID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[id]
	if !ok || !cur.Status.HoldsAgent() {
		return false, nil
	}
	cur.AgentID = agentID
	cur.UpdatedAt = now
	r.byID[id] = cur
	return true, nil
}

func (r *MemoryRepo) SetArtifacts(_ context.Context, id, recordingURL, transcript string, now time.Time) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	if recordingURL != "" {
		cur.RecordingURL = recordingURL
	}
	if transcript != "" {
		cur.Transcript = transcript
	}
	cur.UpdatedAt = now
	r.byID[id] = cur
	return cloneRecord(cur), nil
}

func (r *MemoryRepo) MergeMetadata(_ context.Context, id string, kv map[string]string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if cur.Metadata == nil {
		cur.Metadata = map[string]string{}
	}
	for k, v := range kv {
		cur.Metadata[k] = v
	}
	cur.UpdatedAt = now
	r.byID[id] = cur
	return nil
}

func (r *MemoryRepo) List(_ context.Context, f ListFilter) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []CallRecord
	for _, rec := range r.byID {
		if f.BusinessID != "" && rec.BusinessID != f.BusinessID {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if f.Direction != "" && rec.Direction != f.Direction {
			continue
		}
		if f.AgentID != "" && rec.AgentID != f.AgentID {
			continue
		}
		if !f.Since.IsZero() && rec.StartedAt.Before(f.Since) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit := listLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) CountByStatus(_ context.Context, businessID string, since time.Time) (map[Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[Status]int{}
	for _, rec := range r.byID {
		if rec.BusinessID != businessID || rec.StartedAt.Before(since) {
			continue
		}
		out[rec.Status]++
	}
	return out, nil
}
