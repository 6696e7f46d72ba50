package audit

import "time"

// Event is an immutable, append-only record of something that happened to a call or
// was done by an operator.
//
// Invariants:
// - Events are never updated or deleted.
// - Every event carries a business_id, or a carrier_call_id when the business is not yet known.
// - Appends are best-effort; callers never block a call flow on them.
type Event struct {
	ID         string `json:"id"`
	BusinessID string `json:"business_id,omitempty"`
	Type       string `json:"type"`

	CallID        string `json:"call_id,omitempty"`
	CarrierCallID string `json:"carrier_call_id,omitempty"`

	ActorUserID string `json:"actor_user_id,omitempty"`
	ActorRole   string `json:"actor_role,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`

	Message string            `json:"message,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

const (
	TypeAdminAction      = "admin.action"
	TypeCreditGranted    = "credit.granted"
	TypeAdmissionDenied  = "admission.denied"
	TypeRoutingForwarded = "routing.forwarded"
)
