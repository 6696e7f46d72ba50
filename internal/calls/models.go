package calls

import (
	"errors"
	"time"

	"voice-gateway/internal/pricing"
)

type Direction = pricing.CallDirection

const (
	DirectionInbound  = pricing.CallDirectionInbound
	DirectionOutbound = pricing.CallDirectionOutbound
)

// CallRecord is one business-scoped phone call.
//
// Invariants:
// - ended_at and duration_seconds are set exactly once, on the first terminal transition
// - agent_id is only set while the status can hold an agent
// - carrier_call_id is unique once bound
type CallRecord struct {
	ID            string    `json:"id"`
	CarrierCallID string    `json:"carrier_call_id,omitempty"`
	BusinessID    string    `json:"business_id"`
	Direction     Direction `json:"direction"`

	From string `json:"from"`
	To   string `json:"to"`

	Status  Status `json:"status"`
	AgentID string `json:"agent_id,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`

	// DurationSeconds is nil until the call ends.
	DurationSeconds *int `json:"duration_seconds,omitempty"`

	RecordingURL string            `json:"recording_url,omitempty"`
	Transcript   string            `json:"transcript,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration returns the recorded duration, or 0 while the call is live.
func (c CallRecord) Duration() int {
	if c.DurationSeconds == nil {
		return 0
	}
	return *c.DurationSeconds
}

// MetadataValue reads one metadata key.
func (c CallRecord) MetadataValue(key string) string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata[key]
}

// ListFilter narrows List. Zero values mean "any".
type ListFilter struct {
	BusinessID string
	Status     Status
	Direction  Direction
	AgentID    string
	Since      time.Time
	Limit      int
}

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
	ErrConflict        = errors.New("calls: concurrent update")
	ErrHookFailed      = errors.New("calls: terminal hook failed")
)
