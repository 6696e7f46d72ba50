package calls

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"voice-gateway/pkg/logger"
	"voice-gateway/pkg/metrics"
	"voice-gateway/pkg/utils"

	"github.com/google/uuid"
)

// TerminalHook runs once per call, for the writer that won the terminal transition.
type TerminalHook interface {
	OnCallTerminal(ctx context.Context, rec CallRecord) error
}

// TerminalHookFunc adapts a function to TerminalHook.
type TerminalHookFunc func(ctx context.Context, rec CallRecord) error

func (f TerminalHookFunc) OnCallTerminal(ctx context.Context, rec CallRecord) error {
	return f(ctx, rec)
}

// ReplayableHook is a terminal hook whose effect can be checked afterwards. When it
// fails, the status event fails too so the carrier redelivers it; a redelivered terminal
// event runs the hook again while Pending reports true.
type ReplayableHook interface {
	TerminalHook
	Pending(ctx context.Context, rec CallRecord) (bool, error)
}

// AgentReleaser frees whatever agent is linked to a call.
// It must be safe to call when no agent is linked.
type AgentReleaser interface {
	ReleaseCall(ctx context.Context, businessID, callID string) error
}

// EventLog receives every status event as raw history.
type EventLog interface {
	AppendCallEvent(ctx context.Context, businessID, callID, carrierCallID, eventType string, payload map[string]string) error
}

type namedHook struct {
	name string
	hook TerminalHook
}

// Service owns the call lifecycle.
//
// Status writes are compare-and-set on the previous status. Terminal hooks run only
// for the writer whose update moved the call into a terminal status, so a duplicate
// terminal event can never deduct or release twice. The one exception is a
// ReplayableHook that is still pending, which a duplicate terminal event retries.
type Service struct {
	repo     Repository
	releaser AgentReleaser
	events   EventLog
	hooks    []namedHook
	retry    utils.RetryPolicy
	clock    func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:  repo,
		clock: time.Now,
		retry: utils.RetryPolicy{Attempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
	}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) WithAgentReleaser(r AgentReleaser) *Service {
	s.releaser = r
	return s
}

func (s *Service) WithEventLog(l EventLog) *Service {
	s.events = l
	return s
}

func (s *Service) WithHookRetry(p utils.RetryPolicy) *Service {
	s.retry = p
	return s
}

// AddTerminalHook registers h. Hooks run in registration order.
func (s *Service) AddTerminalHook(name string, h TerminalHook) {
	s.hooks = append(s.hooks, namedHook{name: name, hook: h})
}

func (s *Service) now() time.Time { return s.clock().UTC() }

// EventResult describes what a status event did.
type EventResult struct {
	Call    CallRecord
	Outcome Outcome
	Created bool
}

const maxCASAttempts = 5

// HandleStatusEvent applies a carrier status event.
// Unknown calls get a minimal record in the reported state. Duplicate and late events are
// acknowledged without effect.
func (s *Service) HandleStatusEvent(ctx context.Context, ev Event) (EventResult, error) {
	if strings.TrimSpace(ev.CarrierCallID) == "" || ev.Status == "" {
		return EventResult{}, ErrInvalidArgument
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now()
	}
	log := logger.From(ctx).With("carrier_call_id", ev.CarrierCallID, "status", string(ev.Status))

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := s.repo.GetByCarrierID(ctx, ev.CarrierCallID)
		if errors.Is(err, ErrNotFound) {
			res, created, err := s.createFromEvent(ctx, ev)
			if err != nil {
				return EventResult{}, err
			}
			if !created {
				// Someone else created it first; apply against theirs.
				continue
			}
			return res, s.afterApply(ctx, CallRecord{}, res.Call, ev)
		}
		if err != nil {
			return EventResult{}, err
		}

		res, err := s.applyTo(ctx, cur, ev)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return EventResult{}, err
		}
		if res.Outcome != OutcomeApplied {
			log.Info("call event ignored", "call_id", cur.ID, "current", string(cur.Status), "outcome", string(res.Outcome))
			metrics.StatusEvents.WithLabelValues(string(ev.Status), string(res.Outcome)).Inc()
			s.logEvent(ctx, cur, ev, "status."+string(res.Outcome))
			if res.Outcome == OutcomeDuplicate && cur.Status.IsTerminal() && ev.Status.IsTerminal() {
				return res, s.replayTerminalHooks(ctx, cur)
			}
			return res, nil
		}
		return res, s.afterApply(ctx, cur, res.Call, ev)
	}
	log.Warn("call event gave up after concurrent updates")
	return EventResult{}, ErrConflict
}

// Transition moves a known call to status on behalf of the gateway itself (queueing,
// voicemail). It follows the same rules as carrier events.
func (s *Service) Transition(ctx context.Context, id string, to Status) (EventResult, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return EventResult{}, err
		}
		ev := Event{CarrierCallID: cur.CarrierCallID, Status: to, OccurredAt: s.now()}
		res, err := s.applyTo(ctx, cur, ev)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return EventResult{}, err
		}
		if res.Outcome == OutcomeApplied {
			return res, s.afterApply(ctx, cur, res.Call, ev)
		}
		return res, nil
	}
	return EventResult{}, ErrConflict
}

func (s *Service) applyTo(ctx context.Context, cur CallRecord, ev Event) (EventResult, error) {
	next, outcome := Apply(cur, ev)
	if outcome != OutcomeApplied {
		return EventResult{Call: cur, Outcome: outcome}, nil
	}
	next.UpdatedAt = s.now()
	ok, err := s.repo.UpdateIfStatus(ctx, next, cur.Status)
	if err != nil {
		return EventResult{}, err
	}
	if !ok {
		return EventResult{}, ErrConflict
	}
	return EventResult{Call: next, Outcome: OutcomeApplied}, nil
}

func (s *Service) createFromEvent(ctx context.Context, ev Event) (EventResult, bool, error) {
	now := s.now()
	base := CallRecord{
		ID:            uuid.NewString(),
		CarrierCallID: ev.CarrierCallID,
		BusinessID:    ev.BusinessID,
		Direction:     ev.Direction,
		From:          ev.From,
		To:            ev.To,
		Status:        StatusInitiated,
		StartedAt:     ev.OccurredAt.UTC(),
		Metadata:      map[string]string{"origin": "status_event"},
		UpdatedAt:     now,
	}
	if base.Direction == "" {
		base.Direction = DirectionInbound
	}
	rec := base
	if ev.Status != StatusInitiated {
		var outcome Outcome
		rec, outcome = Apply(base, ev)
		if outcome != OutcomeApplied {
			rec = base
		}
	}

	stored, err := s.repo.Upsert(ctx, rec)
	if err != nil {
		return EventResult{}, false, err
	}
	if stored.ID != rec.ID {
		return EventResult{}, false, nil
	}
	logger.From(ctx).Info("call created from status event",
		"call_id", stored.ID, "carrier_call_id", stored.CarrierCallID, "status", string(stored.Status))
	return EventResult{Call: stored, Outcome: OutcomeApplied, Created: true}, true, nil
}

// afterApply returns an error only when a replayable terminal hook failed.
func (s *Service) afterApply(ctx context.Context, prev, next CallRecord, ev Event) error {
	metrics.StatusEvents.WithLabelValues(string(next.Status), string(OutcomeApplied)).Inc()
	logger.From(ctx).Info("call status changed",
		"call_id", next.ID, "business_id", next.BusinessID,
		"from", string(prev.Status), "to", string(next.Status))
	s.logEvent(ctx, next, ev, "status."+string(next.Status))

	if prev.AgentID != "" && next.AgentID == "" && s.releaser != nil {
		if err := s.releaser.ReleaseCall(ctx, next.BusinessID, next.ID); err != nil {
			logger.From(ctx).Error("agent release failed", "call_id", next.ID, "agent_id", prev.AgentID, "err", err)
		}
	}
	if next.Status.IsTerminal() {
		return s.runTerminalHooks(ctx, next)
	}
	return nil
}

// runTerminalHooks runs every hook with retry. A plain hook that still fails is
// logged only; a failed ReplayableHook is returned so the event gets redelivered.
func (s *Service) runTerminalHooks(ctx context.Context, rec CallRecord) error {
	var errs []error
	for _, h := range s.hooks {
		if err := s.runHook(ctx, h, rec); err != nil {
			if _, ok := h.hook.(ReplayableHook); ok {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// replayTerminalHooks reruns the replayable hooks that have not taken effect yet.
func (s *Service) replayTerminalHooks(ctx context.Context, rec CallRecord) error {
	var errs []error
	for _, h := range s.hooks {
		rh, ok := h.hook.(ReplayableHook)
		if !ok {
			continue
		}
		pending, err := rh.Pending(ctx, rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrHookFailed, h.name, err))
			continue
		}
		if !pending {
			continue
		}
		logger.From(ctx).Warn("replaying terminal hook", "hook", h.name, "call_id", rec.ID, "business_id", rec.BusinessID)
		if err := s.runHook(ctx, h, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) runHook(ctx context.Context, h namedHook, rec CallRecord) error {
	err := utils.Retry(ctx, s.retry, func(ctx context.Context) error {
		return h.hook.OnCallTerminal(ctx, rec)
	})
	if err == nil {
		return nil
	}
	logger.From(ctx).Error("terminal hook failed",
		"hook", h.name, "call_id", rec.ID, "business_id", rec.BusinessID, "err", err)
	return fmt.Errorf("%w: %s: %v", ErrHookFailed, h.name, err)
}

func (s *Service) logEvent(ctx context.Context, rec CallRecord, ev Event, eventType string) {
	if s.events == nil {
		return
	}
	payload := ev.Payload
	if payload == nil {
		payload = map[string]string{"status": string(ev.Status)}
	}
	if err := s.events.AppendCallEvent(ctx, rec.BusinessID, rec.ID, ev.CarrierCallID, eventType, payload); err != nil {
		logger.From(ctx).Warn("call event log append failed", "call_id", rec.ID, "err", err)
	}
}

// NewCall describes a call the gateway is creating itself.
// ID is generated when empty.
type NewCall struct {
	ID            string
	CarrierCallID string
	BusinessID    string
	Direction     Direction
	From          string
	To            string
	Status        Status
	AgentID       string
	Metadata      map[string]string
}

// Create stores a new call. When the carrier id is already known (an early status event
// created a minimal record) the existing record is completed and returned instead.
func (s *Service) Create(ctx context.Context, in NewCall) (CallRecord, error) {
	if in.BusinessID == "" || !in.Direction.Valid() {
		return CallRecord{}, ErrInvalidArgument
	}
	if in.Status == "" {
		in.Status = StatusInitiated
	}
	if in.Status.IsTerminal() || (in.AgentID != "" && !in.Status.HoldsAgent()) {
		return CallRecord{}, ErrInvalidArgument
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := s.now()
	rec, err := s.repo.Upsert(ctx, CallRecord{
		ID:            in.ID,
		CarrierCallID: in.CarrierCallID,
		BusinessID:    in.BusinessID,
		Direction:     in.Direction,
		From:          in.From,
		To:            in.To,
		Status:        in.Status,
		AgentID:       in.AgentID,
		StartedAt:     now,
		Metadata:      in.Metadata,
		UpdatedAt:     now,
	})
	if err != nil {
		return CallRecord{}, err
	}
	logger.From(ctx).Info("call created",
		"call_id", rec.ID, "business_id", rec.BusinessID, "direction", string(rec.Direction), "status", string(rec.Status))
	return rec, nil
}

func (s *Service) BindCarrierCallID(ctx context.Context, id, carrierCallID string) (CallRecord, error) {
	if id == "" || carrierCallID == "" {
		return CallRecord{}, ErrInvalidArgument
	}
	return s.repo.BindCarrierID(ctx, id, carrierCallID)
}

// AssignAgent links agentID to the call. False means the call already left the states
// that can hold an agent; the caller owns releasing the agent.
func (s *Service) AssignAgent(ctx context.Context, id, agentID string) (bool, error) {
	if id == "" || agentID == "" {
		return false, ErrInvalidArgument
	}
	return s.repo.AssignAgent(ctx, id, agentID, s.now())
}

func (s *Service) SetMetadata(ctx context.Context, id string, kv map[string]string) error {
	return s.repo.MergeMetadata(ctx, id, kv, s.now())
}

// AttachRecording stores a recording URL reported after the fact.
func (s *Service) AttachRecording(ctx context.Context, carrierCallID, url string) (CallRecord, error) {
	return s.attach(ctx, carrierCallID, url, "", "recording.completed")
}

func (s *Service) AttachTranscript(ctx context.Context, carrierCallID, text string) (CallRecord, error) {
	return s.attach(ctx, carrierCallID, "", text, "transcription.completed")
}

func (s *Service) attach(ctx context.Context, carrierCallID, url, transcript, eventType string) (CallRecord, error) {
	if carrierCallID == "" || (url == "" && transcript == "") {
		return CallRecord{}, ErrInvalidArgument
	}
	cur, err := s.repo.GetByCarrierID(ctx, carrierCallID)
	if err != nil {
		return CallRecord{}, err
	}
	rec, err := s.repo.SetArtifacts(ctx, cur.ID, url, transcript, s.now())
	if err != nil {
		return CallRecord{}, err
	}
	payload := map[string]string{}
	if url != "" {
		payload["recording_url"] = url
	}
	if transcript != "" {
		payload["transcript_chars"] = strconv.Itoa(len(transcript))
	}
	s.logEvent(ctx, rec, Event{CarrierCallID: carrierCallID, Payload: payload}, eventType)
	return rec, nil
}

func (s *Service) Get(ctx context.Context, businessID, id string) (CallRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return CallRecord{}, err
	}
	// Cross-tenant reads look like misses.
	if businessID != "" && rec.BusinessID != businessID {
		return CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *Service) GetByCarrierID(ctx context.Context, carrierCallID string) (CallRecord, error) {
	return s.repo.GetByCarrierID(ctx, carrierCallID)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]CallRecord, error) {
	if f.BusinessID == "" {
		return nil, ErrInvalidArgument
	}
	return s.repo.List(ctx, f)
}

func (s *Service) CountByStatus(ctx context.Context, businessID string, since time.Time) (map[Status]int, error) {
	return s.repo.CountByStatus(ctx, businessID, since)
}
