package calls

import "time"

// Event is one carrier-reported status change, already parsed.
type Event struct {
	CarrierCallID string
	Status        Status

	// DurationSeconds is set only when the carrier reported one.
	DurationSeconds *int
	RecordingURL    string
	OccurredAt      time.Time

	// Hints used when the call is unknown and a minimal record must be created.
	BusinessID string
	Direction  Direction
	From       string
	To         string

	// Payload is the raw event, kept for the event log.
	Payload map[string]string
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate" // same status, or any event after a terminal one
	OutcomeRejected  Outcome = "rejected"  // recognized but not allowed from the current status
)

// Apply computes the record after ev. It never mutates rec.
// Terminal transitions set ended_at and duration exactly once and clear the agent.
func Apply(rec CallRecord, ev Event) (CallRecord, Outcome) {
	if rec.Status.IsTerminal() || rec.Status == ev.Status {
		return rec, OutcomeDuplicate
	}
	if !CanTransition(rec.Status, ev.Status) {
		return rec, OutcomeRejected
	}

	at := ev.OccurredAt.UTC()
	next := rec
	next.Status = ev.Status

	if ev.Status == StatusInProgress && next.AnsweredAt == nil {
		next.AnsweredAt = timePtr(at)
	}
	if !ev.Status.HoldsAgent() {
		next.AgentID = ""
	}

	if ev.Status.IsTerminal() {
		next.EndedAt = timePtr(at)
		d := deriveDuration(next, ev, at)
		next.DurationSeconds = &d
		if d > 0 && next.AnsweredAt == nil && ev.DurationSeconds != nil {
			next.AnsweredAt = timePtr(at.Add(-time.Duration(d) * time.Second))
		}
		if ev.RecordingURL != "" {
			next.RecordingURL = ev.RecordingURL
		}
	}
	return next, OutcomeApplied
}

// deriveDuration prefers the carrier's figure, then answered time, then (for calls that
// completed without an answer, e.g. voicemail) the start time.
func deriveDuration(rec CallRecord, ev Event, endedAt time.Time) int {
	if ev.DurationSeconds != nil {
		if *ev.DurationSeconds < 0 {
			return 0
		}
		return *ev.DurationSeconds
	}
	if rec.AnsweredAt != nil {
		return secondsBetween(*rec.AnsweredAt, endedAt)
	}
	if ev.Status == StatusCompleted && !rec.StartedAt.IsZero() {
		return secondsBetween(rec.StartedAt, endedAt)
	}
	return 0
}

func secondsBetween(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(d.Round(time.Second) / time.Second)
}

func timePtr(t time.Time) *time.Time { return &t }
