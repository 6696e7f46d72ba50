package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call figures for one business.
type CallsSummaryRequest struct {
	BusinessID string    `json:"business_id"`
	Range      TimeRange `json:"range"`
	Direction  string    `json:"direction,omitempty"`
}

type CallsSummary struct {
	BusinessID string    `json:"business_id"`
	Range      TimeRange `json:"range"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	InProgressCalls int `json:"in_progress_calls"`
	VoicemailCalls  int `json:"voicemail_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls int `json:"recorded_calls"`

	Usage UsageSummary `json:"usage"`
}

// StatusStat is one row of calls grouped by status.
type StatusStat struct {
	Status          string
	Calls           int
	DurationSeconds int
	Recorded        int
}

// UsageSummary is derived from immutable usage records.
type UsageSummary struct {
	BillableMinutes    int             `json:"billable_minutes"`
	OverageMinutes     decimal.Decimal `json:"overage_minutes"`
	CreditMinutesSpent decimal.Decimal `json:"credit_minutes_spent"`
	CreditMinutesAdded decimal.Decimal `json:"credit_minutes_added"`
}

// LiveMetrics is the dashboard snapshot.
type LiveMetrics struct {
	BusinessID     string         `json:"business_id"`
	ActiveCalls    int            `json:"active_calls"`
	QueueDepth     int            `json:"queue_depth"`
	CallsByStatus  map[string]int `json:"calls_by_status"`
	AgentsByStatus map[string]int `json:"agents_by_status"`
	GeneratedAt    time.Time      `json:"generated_at"`
}
