package routing

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"voice-gateway/pkg/logger"
	"voice-gateway/pkg/metrics"
)

// InboundInput describes one inbound call to route. CallID is the internal call id the
// chosen agent will be linked to.
type InboundInput struct {
	BusinessID    string
	CallID        string
	CarrierCallID string
	From          string
	To            string
	QueueID       string
	SourceIP      string
}

// Engine routes inbound calls to an agent, a forward target or a queue fallback.
//
// Priority:
//  1. Forwarding rule for the dialed number
//  2. Available agent, claimed with compare-and-set
//  3. Queue: enqueue while open, otherwise the after-hours action
//
// Agent state lives in the store, never in process memory, so independent handlers
// racing for the last agent resolve to exactly one winner.
type Engine struct {
	Agents   AgentStore
	Queues   QueueStore
	Forwards *ForwardEngine
	Cursor   Cursor

	Now func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewEngine(agents AgentStore, queues QueueStore, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{Agents: agents, Queues: queues, Now: time.Now, rng: rng}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

// RouteInbound decides where an inbound call goes. A returned ActionConnectAgent means the
// agent is already claimed for in.CallID; the caller owns releasing it if the call cannot
// be bridged.
func (e *Engine) RouteInbound(ctx context.Context, in InboundInput) (Decision, error) {
	if in.BusinessID == "" || in.CallID == "" {
		return Decision{}, ErrInvalidArgument
	}
	log := logger.From(ctx).With("business_id", in.BusinessID, "call_id", in.CallID)

	if d, ok, err := e.Forwards.Decide(ctx, in); err != nil {
		return Decision{}, err
	} else if ok {
		log.Info("call forwarded", "target", d.ForwardTo)
		metrics.RoutingOutcomes.WithLabelValues(string(d.Action)).Inc()
		return d, nil
	}

	q, err := e.QueueFor(ctx, in.BusinessID, in.QueueID)
	if err != nil {
		return Decision{}, err
	}

	agentID, err := e.claimNext(ctx, q, in.CallID)
	if err != nil {
		return Decision{}, err
	}
	var d Decision
	switch {
	case agentID != "":
		d = Decision{BusinessID: in.BusinessID, Action: ActionConnectAgent, AgentID: agentID, Queue: q, Reason: "agent_available"}
	case q.Hours.OpenAt(e.now()):
		d = Decision{BusinessID: in.BusinessID, Action: ActionEnqueue, Queue: q, Reason: "no_agent"}
	case q.AfterHours == AfterHoursMessage:
		d = Decision{BusinessID: in.BusinessID, Action: ActionMessage, Queue: q, Reason: "after_hours"}
	default:
		d = Decision{BusinessID: in.BusinessID, Action: ActionVoicemail, Queue: q, Reason: "after_hours"}
	}

	log.Info("call routed", "action", string(d.Action), "agent_id", d.AgentID, "queue", q.Name)
	metrics.RoutingOutcomes.WithLabelValues(string(d.Action)).Inc()
	return d, nil
}

// QueueFor resolves the configured queue or the default one.
func (e *Engine) QueueFor(ctx context.Context, businessID, queueID string) (Queue, error) {
	if e.Queues == nil {
		return DefaultQueue(businessID), nil
	}
	q, ok, err := e.Queues.QueueFor(ctx, businessID, queueID)
	if err != nil {
		return Queue{}, err
	}
	if !ok {
		return DefaultQueue(businessID), nil
	}
	return q, nil
}

// claimNext walks candidates in strategy order and returns the first agent it wins.
// A lost CAS is not an error; the next candidate is tried.
func (e *Engine) claimNext(ctx context.Context, q Queue, callID string) (string, error) {
	candidates, err := e.Agents.ListAvailable(ctx, q.BusinessID)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", nil
	}
	for _, a := range e.order(ctx, q, candidates) {
		ok, err := e.Agents.Claim(ctx, q.BusinessID, a.AgentID, callID, e.now())
		if err != nil {
			return "", err
		}
		if ok {
			return a.AgentID, nil
		}
		metrics.AgentClaimConflicts.Inc()
		logger.From(ctx).Debug("agent claim lost", "agent_id", a.AgentID, "call_id", callID)
	}
	return "", nil
}

func (e *Engine) order(ctx context.Context, q Queue, candidates []Agent) []Agent {
	out := make([]Agent, len(candidates))
	switch q.Strategy {
	case StrategyRoundRobin:
		if e.Cursor == nil {
			copy(out, candidates)
			return out
		}
		n, err := e.Cursor.Next(ctx, roundRobinKey(q))
		if err != nil {
			logger.From(ctx).Warn("round-robin cursor unavailable", "queue", q.Name, "err", err)
			copy(out, candidates)
			return out
		}
		start := int(n % int64(len(candidates)))
		for i := range candidates {
			out[i] = candidates[(start+i)%len(candidates)]
		}
	case StrategyRandom:
		e.rngMu.Lock()
		perm := e.rng.Perm(len(candidates))
		e.rngMu.Unlock()
		for i, j := range perm {
			out[i] = candidates[j]
		}
	default:
		copy(out, candidates)
	}
	return out
}

// ClaimForQueue offers a waiting call to the next free agent of q, in q's strategy
// order. An empty id means nobody is free yet. The caller owns releasing a claimed
// agent it cannot bridge.
func (e *Engine) ClaimForQueue(ctx context.Context, q Queue, callID string) (string, error) {
	if q.BusinessID == "" || callID == "" {
		return "", ErrInvalidArgument
	}
	agentID, err := e.claimNext(ctx, q, callID)
	if err != nil {
		return "", err
	}
	if agentID != "" {
		logger.From(ctx).Info("queued call claimed agent",
			"business_id", q.BusinessID, "call_id", callID, "agent_id", agentID, "queue", q.Name)
		metrics.RoutingOutcomes.WithLabelValues("dequeue").Inc()
	}
	return agentID, nil
}

// ClaimAgent claims one named agent for an outbound call.
func (e *Engine) ClaimAgent(ctx context.Context, businessID, agentID, callID string) error {
	if businessID == "" || agentID == "" || callID == "" {
		return ErrInvalidArgument
	}
	ok, err := e.Agents.Claim(ctx, businessID, agentID, callID, e.now())
	if err != nil {
		return err
	}
	if !ok {
		metrics.AgentClaimConflicts.Inc()
		return ErrAgentBusy
	}
	return nil
}

// ReleaseCall frees the agent linked to callID. It is a no-op when none is linked.
func (e *Engine) ReleaseCall(ctx context.Context, businessID, callID string) error {
	if businessID == "" || callID == "" {
		return nil
	}
	released, err := e.Agents.ReleaseCall(ctx, businessID, callID, e.now())
	if err != nil {
		return err
	}
	if released {
		logger.From(ctx).Info("agent released", "business_id", businessID, "call_id", callID)
	}
	return nil
}

func (e *Engine) SetPresence(ctx context.Context, businessID, agentID string, status AgentStatus) (Agent, error) {
	if businessID == "" || agentID == "" || (status != AgentAvailable && status != AgentOffline) {
		return Agent{}, ErrInvalidArgument
	}
	return e.Agents.SetPresence(ctx, businessID, agentID, status, e.now())
}
