package calls

import (
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"completed":    StatusCompleted,
		" In-Progress": StatusInProgress,
		"in_progress":  StatusInProgress,
		"no_answer":    StatusNoAnswer,
		"answered":     StatusInProgress,
		"cancelled":    StatusCanceled,
	}
	for raw, want := range cases {
		got, ok := ParseStatus(raw)
		if !ok || got != want {
			t.Fatalf("ParseStatus(%q) = %q,%v want %q", raw, got, ok, want)
		}
	}
	if _, ok := ParseStatus("exploded"); ok {
		t.Fatalf("expected unknown status to be rejected")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusInitiated, StatusRinging, true},
		{StatusRinging, StatusQueued, true},
		{StatusQueued, StatusInProgress, true},
		{StatusQueued, StatusVoicemail, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusNoAnswer, false},
		{StatusInProgress, StatusRinging, false},
		{StatusVoicemail, StatusCompleted, true},
		{StatusVoicemail, StatusInProgress, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCanceled, StatusRinging, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("%s -> %s: got %v want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestApply_TerminalSetsEndAndDurationOnce(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	answered := start.Add(5 * time.Second)
	rec := CallRecord{ID: "c1", Status: StatusInProgress, StartedAt: start, AnsweredAt: &answered, AgentID: "a1"}

	end := answered.Add(125 * time.Second)
	next, out := Apply(rec, Event{Status: StatusCompleted, OccurredAt: end})
	if out != OutcomeApplied {
		t.Fatalf("expected applied, got %s", out)
	}
	if next.EndedAt == nil || !next.EndedAt.Equal(end) {
		t.Fatalf("unexpected ended_at %v", next.EndedAt)
	}
	if next.Duration() != 125 {
		t.Fatalf("expected 125s from answered_at, got %d", next.Duration())
	}
	if next.AgentID != "" {
		t.Fatalf("expected agent cleared on terminal")
	}
	if rec.Status != StatusInProgress {
		t.Fatalf("input record was mutated")
	}

	again, out := Apply(next, Event{Status: StatusCompleted, OccurredAt: end.Add(time.Minute), DurationSeconds: intPtr(999)})
	if out != OutcomeDuplicate || again.Duration() != 125 {
		t.Fatalf("expected duplicate terminal to be a no-op, got %s %d", out, again.Duration())
	}
	if _, out := Apply(next, Event{Status: StatusRinging, OccurredAt: end}); out != OutcomeDuplicate {
		t.Fatalf("expected late event after terminal to be ignored, got %s", out)
	}
}

func TestApply_DurationSources(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	// Carrier figure wins and backfills answered_at.
	next, _ := Apply(CallRecord{Status: StatusRinging, StartedAt: start},
		Event{Status: StatusCompleted, OccurredAt: end, DurationSeconds: intPtr(40)})
	if next.Duration() != 40 {
		t.Fatalf("expected carrier duration 40, got %d", next.Duration())
	}
	if next.AnsweredAt == nil || !next.AnsweredAt.Equal(end.Add(-40*time.Second)) {
		t.Fatalf("expected answered_at backfilled, got %v", next.AnsweredAt)
	}

	// Voicemail completes without an answer: measured from start.
	next, _ = Apply(CallRecord{Status: StatusVoicemail, StartedAt: start}, Event{Status: StatusCompleted, OccurredAt: end})
	if next.Duration() != 90 {
		t.Fatalf("expected 90s from started_at, got %d", next.Duration())
	}

	// Unanswered failure outcomes bill nothing.
	next, _ = Apply(CallRecord{Status: StatusRinging, StartedAt: start}, Event{Status: StatusNoAnswer, OccurredAt: end})
	if next.Duration() != 0 || next.AnsweredAt != nil {
		t.Fatalf("expected zero duration for no-answer, got %d", next.Duration())
	}

	// Negative carrier values clamp.
	next, _ = Apply(CallRecord{Status: StatusRinging, StartedAt: start},
		Event{Status: StatusBusy, OccurredAt: end, DurationSeconds: intPtr(-3)})
	if next.Duration() != 0 {
		t.Fatalf("expected clamp to 0, got %d", next.Duration())
	}
}

func TestApply_AnswerSetsAnsweredAtOnce(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	next, out := Apply(CallRecord{Status: StatusRinging, AgentID: "a1"}, Event{Status: StatusInProgress, OccurredAt: at})
	if out != OutcomeApplied || next.AnsweredAt == nil || !next.AnsweredAt.Equal(at) {
		t.Fatalf("expected answered_at set, got %v (%s)", next.AnsweredAt, out)
	}
	if next.AgentID != "a1" {
		t.Fatalf("agent should stay linked while in progress")
	}

	queued, _ := Apply(CallRecord{Status: StatusRinging, AgentID: "a1"}, Event{Status: StatusQueued, OccurredAt: at})
	if queued.AgentID != "" {
		t.Fatalf("queued calls cannot hold an agent")
	}
}

func TestApply_RejectsDisallowedMove(t *testing.T) {
	rec := CallRecord{Status: StatusInProgress}
	next, out := Apply(rec, Event{Status: StatusNoAnswer, OccurredAt: time.Now()})
	if out != OutcomeRejected || next.Status != StatusInProgress {
		t.Fatalf("expected rejection, got %s %s", out, next.Status)
	}
}
