package routing

import (
	"context"
	"time"

	"voice-gateway/internal/audit"
)

// AuditAdapter writes applied forwarding rules into the shared call event log.
type AuditAdapter struct {
	Audit *audit.Service
}

func (a AuditAdapter) LogForwardApplied(ctx context.Context, e ForwardAuditEvent) error {
	if a.Audit == nil {
		return nil
	}
	return a.Audit.Append(ctx, audit.Event{
		BusinessID:    e.BusinessID,
		Type:          audit.TypeRoutingForwarded,
		CallID:        e.CallID,
		CarrierCallID: e.CarrierCallID,
		IPAddress:     e.SourceIP,
		Message:       "forward rule applied",
		Payload: map[string]string{
			"rule_id":    e.RuleID,
			"from":       e.From,
			"to":         e.To,
			"target":     e.Target,
			"expires_at": e.ExpiresAt.UTC().Format(time.RFC3339),
		},
		CreatedAt: e.AppliedAt,
	})
}
