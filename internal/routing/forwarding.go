package routing

import (
	"context"
	"errors"
	"time"

	"voice-gateway/pkg/logger"
)

// ForwardEngine applies tenant forwarding rules ahead of agent routing.
//
// Rules are expiry-bound. Every applied rule is recorded in the call's event log.
type ForwardEngine struct {
	Store ForwardRuleStore
	Audit ForwardAuditLogger
	Now   func() time.Time
}

// ForwardRuleStore resolves the rule currently active for a dialed number.
// If none exists it returns (ForwardRule{}, false, nil).
type ForwardRuleStore interface {
	ActiveForwardRule(ctx context.Context, businessID, number string, now time.Time) (ForwardRule, bool, error)
}

type ForwardAuditLogger interface {
	LogForwardApplied(ctx context.Context, e ForwardAuditEvent) error
}

type ForwardAuditEvent struct {
	BusinessID    string
	RuleID        string
	CallID        string
	CarrierCallID string
	From          string
	To            string
	SourceIP      string

	Target    string
	AppliedAt time.Time
	ExpiresAt time.Time
}

func NewForwardEngine(store ForwardRuleStore, audit ForwardAuditLogger) *ForwardEngine {
	return &ForwardEngine{Store: store, Audit: audit, Now: time.Now}
}

// Decide returns (decision, true, nil) when an active rule forwards the call,
// and (Decision{}, false, nil) when no rule applies.
func (e *ForwardEngine) Decide(ctx context.Context, in InboundInput) (Decision, bool, error) {
	if in.BusinessID == "" {
		return Decision{}, false, ErrInvalidArgument
	}
	if e == nil || e.Store == nil {
		return Decision{}, false, nil
	}
	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}

	rule, ok, err := e.Store.ActiveForwardRule(ctx, in.BusinessID, in.To, now)
	if err != nil {
		return Decision{}, false, err
	}
	if !ok || !rule.ExpiresAt.After(now) {
		return Decision{}, false, nil
	}
	if rule.Target == "" {
		return Decision{}, false, errors.New("routing: forward rule target empty")
	}

	if e.Audit != nil {
		err := e.Audit.LogForwardApplied(ctx, ForwardAuditEvent{
			BusinessID:    in.BusinessID,
			RuleID:        rule.ID,
			CallID:        in.CallID,
			CarrierCallID: in.CarrierCallID,
			From:          in.From,
			To:            in.To,
			SourceIP:      in.SourceIP,
			Target:        rule.Target,
			AppliedAt:     now,
			ExpiresAt:     rule.ExpiresAt,
		})
		if err != nil {
			logger.From(ctx).Warn("forward audit failed", "business_id", in.BusinessID, "rule_id", rule.ID, "err", err)
		}
	}
	return Decision{BusinessID: in.BusinessID, Action: ActionForward, ForwardTo: rule.Target, Reason: "forward_rule"}, true, nil
}
