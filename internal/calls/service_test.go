package calls

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voice-gateway/pkg/utils"

	"github.com/DATA-DOG/go-sqlmock"
)

type countingHook struct {
	calls atomic.Int32
	last  atomic.Value
}

func (h *countingHook) OnCallTerminal(_ context.Context, rec CallRecord) error {
	h.calls.Add(1)
	h.last.Store(rec)
	return nil
}

type releaseRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *releaseRecorder) ReleaseCall(_ context.Context, _ string, callID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, callID)
	return nil
}

type eventSink struct {
	mu    sync.Mutex
	types []string
}

func (e *eventSink) AppendCallEvent(_ context.Context, _, _, _, eventType string, _ map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, eventType)
	return nil
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func newTestService() (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	svc := NewService(repo).WithClock(fixedClock()).
		WithHookRetry(utils.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	return svc, repo
}

func TestHandleStatusEvent_DuplicateTerminalRunsHooksOnce(t *testing.T) {
	svc, _ := newTestService()
	hook := &countingHook{}
	svc.AddTerminalHook("count", hook)
	ctx := context.Background()

	rec, err := svc.Create(ctx, NewCall{CarrierCallID: "CA1", BusinessID: "b1", Direction: DirectionInbound, Status: StatusRinging})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.HandleStatusEvent(ctx, Event{CarrierCallID: "CA1", Status: StatusInProgress}); err != nil {
		t.Fatalf("answer: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.HandleStatusEvent(ctx, Event{CarrierCallID: "CA1", Status: StatusCompleted, DurationSeconds: intPtr(61)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := hook.calls.Load(); got != 1 {
		t.Fatalf("expected terminal hook once, got %d", got)
	}
	stored, err := svc.Get(ctx, "b1", rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusCompleted || stored.Duration() != 61 {
		t.Fatalf("unexpected final record: %+v", stored)
	}
}

func TestHandleStatusEvent_UnknownCallCreatesMinimalRecord(t *testing.T) {
	svc, _ := newTestService()
	hook := &countingHook{}
	svc.AddTerminalHook("count", hook)
	ctx := context.Background()

	res, err := svc.HandleStatusEvent(ctx, Event{
		CarrierCallID:   "CA-early",
		Status:          StatusCompleted,
		DurationSeconds: intPtr(30),
		BusinessID:      "b1",
		From:            "+15550001",
		To:              "+15550002",
	})
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	if !res.Created || res.Call.Status != StatusCompleted || res.Call.Duration() != 30 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Call.Direction != DirectionInbound {
		t.Fatalf("expected inbound default, got %q", res.Call.Direction)
	}
	if hook.calls.Load() != 1 {
		t.Fatalf("expected hook to run for a call created terminal")
	}

	// A creation path arriving later completes the same record.
	rec, err := svc.Create(ctx, NewCall{CarrierCallID: "CA-early", BusinessID: "b1", Direction: DirectionOutbound, Status: StatusInitiated})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID != res.Call.ID || rec.Status != StatusCompleted || rec.Direction != DirectionOutbound {
		t.Fatalf("expected upsert onto minimal record, got %+v", rec)
	}
}

func TestHandleStatusEvent_ReleasesAgentWhenCallLeavesAgentStates(t *testing.T) {
	svc, _ := newTestService()
	rel := &releaseRecorder{}
	svc.WithAgentReleaser(rel)
	ctx := context.Background()

	rec, _ := svc.Create(ctx, NewCall{CarrierCallID: "CA2", BusinessID: "b1", Direction: DirectionInbound, Status: StatusRinging})
	ok, err := svc.AssignAgent(ctx, rec.ID, "agent-1")
	if err != nil || !ok {
		t.Fatalf("assign: %v %v", ok, err)
	}
	if _, err := svc.HandleStatusEvent(ctx, Event{CarrierCallID: "CA2", Status: StatusNoAnswer}); err != nil {
		t.Fatalf("event: %v", err)
	}
	if len(rel.calls) != 1 || rel.calls[0] != rec.ID {
		t.Fatalf("expected one release for %s, got %v", rec.ID, rel.calls)
	}

	if ok, _ := svc.AssignAgent(ctx, rec.ID, "agent-2"); ok {
		t.Fatalf("terminal call must not accept an agent")
	}
}

func TestHandleStatusEvent_RejectedAndDuplicateAreLogged(t *testing.T) {
	svc, _ := newTestService()
	sink := &eventSink{}
	svc.WithEventLog(sink)
	ctx := context.Background()

	_, _ = svc.Create(ctx, NewCall{CarrierCallID: "CA3", BusinessID: "b1", Direction: DirectionInbound, Status: StatusRinging})
	if _, err := svc.HandleStatusEvent(ctx, Event{CarrierCallID: "CA3", Status: StatusInProgress}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	res, err := svc.HandleStatusEvent(ctx, Event{CarrierCallID: "CA3", Status: StatusBusy})
	if err != nil || res.Outcome != OutcomeRejected {
		t.Fatalf("expected rejected busy after answer, got %v %v", res.Outcome, err)
	}
	res, err = svc.HandleStatusEvent(ctx, Event{CarrierCallID: "CA3", Status: StatusInProgress})
	if err != nil || res.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %v %v", res.Outcome, err)
	}

	want := []string{"status.in-progress", "status.rejected", "status.duplicate"}
	if len(sink.types) != len(want) {
		t.Fatalf("unexpected event log %v", sink.types)
	}
	for i := range want {
		if sink.types[i] != want[i] {
			t.Fatalf("event %d: got %s want %s", i, sink.types[i], want[i])
		}
	}
}

func TestHandleStatusEvent_HookFailureDoesNotFailEvent(t *testing.T) {
	svc, _ := newTestService()
	var attempts atomic.Int32
	svc.AddTerminalHook("broken", TerminalHookFunc(func(context.Context, CallRecord) error {
		attempts.Add(1)
		return errors.New("db down")
	}))
	ctx := context.Background()

	_, _ = svc.Create(ctx, NewCall{CarrierCallID: "CA4", BusinessID: "b1", Direction: DirectionOutbound})
	res, err := svc.HandleStatusEvent(ctx, Event{CarrierCallID: "CA4", Status: StatusFailed})
	if err != nil || res.Outcome != OutcomeApplied {
		t.Fatalf("expected event to succeed, got %v %v", res.Outcome, err)
	}
	if attempts.Load() != 2 {
		t.Fatalf("expected retry policy attempts, got %d", attempts.Load())
	}
}

// settleHook fails until failures runs out and is pending until it succeeds.
type settleHook struct {
	mu       sync.Mutex
	failures int
	runs     int
	done     bool
}

func (h *settleHook) OnCallTerminal(context.Context, CallRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs++
	if h.failures > 0 {
		h.failures--
		return errors.New("ledger down")
	}
	h.done = true
	return nil
}

func (h *settleHook) Pending(context.Context, CallRecord) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.done, nil
}

func TestHandleStatusEvent_PendingHookRunsOnRedelivery(t *testing.T) {
	svc, _ := newTestService()
	settle := &settleHook{failures: 2}
	plain := &countingHook{}
	svc.AddTerminalHook("settle", settle)
	svc.AddTerminalHook("plain", plain)
	ctx := context.Background()

	_, _ = svc.Create(ctx, NewCall{CarrierCallID: "CA6", BusinessID: "b1", Direction: DirectionOutbound})
	ev := Event{CarrierCallID: "CA6", Status: StatusCompleted, DurationSeconds: intPtr(30)}

	res, err := svc.HandleStatusEvent(ctx, ev)
	if !errors.Is(err, ErrHookFailed) {
		t.Fatalf("expected hook failure to fail the event, got %v", err)
	}
	if res.Call.Status != StatusCompleted {
		t.Fatalf("status must be stored even when a hook fails, got %s", res.Call.Status)
	}

	for i := 0; i < 3; i++ {
		res, err = svc.HandleStatusEvent(ctx, ev)
		if err != nil || res.Outcome != OutcomeDuplicate {
			t.Fatalf("redelivery %d: %v %v", i, res.Outcome, err)
		}
	}

	settle.mu.Lock()
	runs, done := settle.runs, settle.done
	settle.mu.Unlock()
	// Two attempts on the first delivery, one successful replay, no more after that.
	if runs != 3 || !done {
		t.Fatalf("expected 3 runs ending settled, got %d done=%v", runs, done)
	}
	if plain.calls.Load() != 1 {
		t.Fatalf("plain hooks must not replay, got %d", plain.calls.Load())
	}
}

func TestTransition_QueueThenVoicemail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	rec, _ := svc.Create(ctx, NewCall{CarrierCallID: "CA5", BusinessID: "b1", Direction: DirectionInbound, Status: StatusRinging})

	if res, err := svc.Transition(ctx, rec.ID, StatusQueued); err != nil || res.Call.Status != StatusQueued {
		t.Fatalf("queue: %v %+v", err, res)
	}
	if res, err := svc.Transition(ctx, rec.ID, StatusVoicemail); err != nil || res.Call.Status != StatusVoicemail {
		t.Fatalf("voicemail: %v %+v", err, res)
	}
}

func TestAttachRecordingAndTranscript(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	_, _ = svc.Create(ctx, NewCall{CarrierCallID: "CA6", BusinessID: "b1", Direction: DirectionInbound})

	if _, err := svc.AttachRecording(ctx, "CA6", "https://rec/1"); err != nil {
		t.Fatalf("recording: %v", err)
	}
	rec, err := svc.AttachTranscript(ctx, "CA6", "hello there")
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if rec.RecordingURL != "https://rec/1" || rec.Transcript != "hello there" {
		t.Fatalf("unexpected artifacts %+v", rec)
	}
	if _, err := svc.AttachRecording(ctx, "missing", "https://rec/2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGet_HidesOtherTenants(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	rec, _ := svc.Create(ctx, NewCall{BusinessID: "b1", Direction: DirectionOutbound})
	if _, err := svc.Get(ctx, "b2", rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found across tenants, got %v", err)
	}
}

func TestPostgresRepo_UpdateIfStatusIsGuarded(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewPostgresRepo(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := 12
	rec := CallRecord{ID: "c1", Status: StatusCompleted, EndedAt: &now, DurationSeconds: &d, UpdatedAt: now}

	mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $1 AND status = $2`)).
		WithArgs("c1", "in-progress", "completed", "", nil, now, 12, "", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateIfStatus(context.Background(), rec, StatusInProgress)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ok {
		t.Fatalf("expected lost race to report false")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
