package notify

import (
	"time"

	"github.com/shopspring/decimal"
)

type Level string

const (
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Alert tells a business its voice credit balance crossed a threshold.
type Alert struct {
	ID              string          `json:"id"`
	BusinessID      string          `json:"business_id"`
	Level           Level           `json:"level"`
	Threshold       decimal.Decimal `json:"threshold"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance"`
	CallID          string          `json:"call_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Fields flattens the alert for a stream entry.
func (a Alert) Fields() map[string]any {
	return map[string]any{
		"id":               a.ID,
		"business_id":      a.BusinessID,
		"level":            string(a.Level),
		"threshold":        a.Threshold.String(),
		"previous_balance": a.PreviousBalance.String(),
		"new_balance":      a.NewBalance.String(),
		"call_id":          a.CallID,
		"created_at":       a.CreatedAt.UTC().Format(time.RFC3339),
	}
}
