package routing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements every routing store in memory for tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	agents   map[string]map[string]Agent // business -> agent
	queues   map[string]Queue            // queue id
	defaults map[string]string           // business -> default queue id
	numbers  map[string]PhoneNumber
	forwards []ForwardRule
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:   map[string]map[string]Agent{},
		queues:   map[string]Queue{},
		defaults: map[string]string{},
		numbers:  map[string]PhoneNumber{},
	}
}

func (s *MemoryStore) PutAgent(a Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agents[a.BusinessID] == nil {
		s.agents[a.BusinessID] = map[string]Agent{}
	}
	s.agents[a.BusinessID][a.AgentID] = a
}

func (s *MemoryStore) Agent(businessID, agentID string) (Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[businessID][agentID]
	return a, ok
}

// PutQueue stores q; isDefault marks it as the business fallback.
func (s *MemoryStore) PutQueue(q Queue, isDefault bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[q.ID] = q
	if isDefault {
		s.defaults[q.BusinessID] = q.ID
	}
}

func (s *MemoryStore) PutNumber(n PhoneNumber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numbers[n.Number] = n
}

func (s *MemoryStore) PutForwardRule(r ForwardRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwards = append(s.forwards, r)
}

func (s *MemoryStore) ListAvailable(_ context.Context, businessID string) ([]Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Agent
	for _, a := range s.agents[businessID] {
		if a.Status == AgentAvailable && a.CurrentCallID == "" {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (s *MemoryStore) Claim(_ context.Context, businessID, agentID, callID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[businessID][agentID]
	if !ok || a.Status != AgentAvailable || a.CurrentCallID != "" {
		return false, nil
	}
	a.Status = AgentOnCall
	a.CurrentCallID = callID
	a.UpdatedAt = now
	s.agents[businessID][agentID] = a
	return true, nil
}

func (s *MemoryStore) ReleaseCall(_ context.Context, businessID, callID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.agents[businessID] {
		if a.CurrentCallID != callID {
			continue
		}
		a.Status = AgentAvailable
		a.CurrentCallID = ""
		a.UpdatedAt = now
		s.agents[businessID][id] = a
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) SetPresence(_ context.Context, businessID, agentID string, status AgentStatus, now time.Time) (Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agents[businessID] == nil {
		s.agents[businessID] = map[string]Agent{}
	}
	a, ok := s.agents[businessID][agentID]
	if !ok {
		a = Agent{AgentID: agentID, BusinessID: businessID}
	}
	if a.CurrentCallID == "" {
		a.Status = status
		a.UpdatedAt = now
	}
	s.agents[businessID][agentID] = a
	return a, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context, businessID string) (map[AgentStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[AgentStatus]int{}
	for _, a := range s.agents[businessID] {
		out[a.Status]++
	}
	return out, nil
}

func (s *MemoryStore) QueueFor(_ context.Context, businessID, queueID string) (Queue, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if queueID != "" {
		if q, ok := s.queues[queueID]; ok && q.BusinessID == businessID {
			return q, true, nil
		}
	}
	if id, ok := s.defaults[businessID]; ok {
		return s.queues[id], true, nil
	}
	return Queue{}, false, nil
}

func (s *MemoryStore) LookupNumber(_ context.Context, number string) (PhoneNumber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.numbers[number]
	if !ok {
		return PhoneNumber{}, ErrNumberNotFound
	}
	return n, nil
}

func (s *MemoryStore) ActiveForwardRule(_ context.Context, businessID, number string, now time.Time) (ForwardRule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.forwards) - 1; i >= 0; i-- {
		r := s.forwards[i]
		if r.BusinessID == businessID && r.Number == number && r.ExpiresAt.After(now) {
			return r, true, nil
		}
	}
	return ForwardRule{}, false, nil
}
