package voice

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"voice-gateway/internal/admission"
	"voice-gateway/internal/audit"
	"voice-gateway/internal/calls"
	"voice-gateway/internal/ledger"
	"voice-gateway/internal/pricing"
	"voice-gateway/internal/routing"
	"voice-gateway/internal/telephony"
	"voice-gateway/pkg/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	bizNumber = "+15550001111"
	caller    = "+15559990000"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fakeCarrier struct {
	mu   sync.Mutex
	sid  string
	err  error
	reqs []telephony.PlaceCallRequest
}

func (c *fakeCarrier) Name() string                      { return "fake" }
func (c *fakeCarrier) HealthCheck(context.Context) error { return nil }

func (c *fakeCarrier) PlaceCall(_ context.Context, req telephony.PlaceCallRequest) (telephony.PlaceCallResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return telephony.PlaceCallResult{}, c.err
	}
	return telephony.PlaceCallResult{CarrierCallID: c.sid, Status: "queued"}, nil
}

type fakeSlots struct {
	mu       sync.Mutex
	limit    int
	inUse    int
	releases int
}

func (s *fakeSlots) Acquire(_ context.Context, businessID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse >= s.limit {
		return "", false, nil
	}
	s.inUse++
	return utils.CallSlotKey(businessID), true, nil
}

func (s *fakeSlots) Release(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inUse--
	s.releases++
	return nil
}

func (s *fakeSlots) snapshot() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse, s.releases
}

type harness struct {
	svc     *Service
	calls   *calls.Service
	routing *routing.MemoryStore
	engine  *routing.Engine
	ledger  *ledger.MemoryStore
	events  *audit.MemoryRepo
	carrier *fakeCarrier
	slots   *fakeSlots
}

func account(tier pricing.Tier, balance string, inboundUsed int64) ledger.Account {
	return ledger.Account{
		BusinessID:                "b1",
		Tier:                      tier,
		Active:                    true,
		VoiceCreditBalance:        decimal.RequireFromString(balance),
		PeriodInboundMinutesUsed:  decimal.NewFromInt(inboundUsed),
		PeriodOutboundMinutesUsed: decimal.Zero,
		PeriodStart:               time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:                 time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newHarness(t *testing.T, agents ...string) *harness {
	t.Helper()
	clock := func() time.Time { return testNow }

	ledgerStore := ledger.NewMemoryStore()
	ledgerStore.PutAccount(account(pricing.TierStarter, "100", 0))
	pricingSvc := pricing.NewService(pricing.NewMemoryRepo())
	ledgerSvc := ledger.NewService(ledgerStore, pricingSvc).WithClock(clock)
	adm := admission.NewController(ledgerSvc, pricingSvc).WithClock(clock)

	rstore := routing.NewMemoryStore()
	rstore.PutNumber(routing.PhoneNumber{Number: bizNumber, BusinessID: "b1"})
	for _, id := range agents {
		rstore.PutAgent(routing.Agent{AgentID: id, BusinessID: "b1", Status: routing.AgentAvailable})
	}
	engine := routing.NewEngine(rstore, rstore, rand.New(rand.NewSource(1)))
	engine.Now = clock

	events := audit.NewMemoryRepo()
	auditSvc := audit.NewService(events)

	callSvc := calls.NewService(calls.NewMemoryRepo()).
		WithClock(clock).
		WithAgentReleaser(engine).
		WithEventLog(auditSvc).
		WithHookRetry(utils.RetryPolicy{Attempts: 1, BaseDelay: time.Millisecond})

	carrier := &fakeCarrier{sid: "CA-agent-leg"}
	slots := &fakeSlots{limit: 5}
	svc := NewService(Config{PublicBaseURL: "https://gw.example.com/", HoldMusicURL: "https://cdn.example.com/hold.mp3"},
		adm, callSvc, engine, rstore, auditSvc).
		WithCarrier(carrier).
		WithSlots(slots).
		WithClock(clock)

	return &harness{
		svc: svc, calls: callSvc, routing: rstore, engine: engine,
		ledger: ledgerStore, events: events, carrier: carrier, slots: slots,
	}
}

func render(t *testing.T, d *telephony.Document) string {
	t.Helper()
	xml, err := d.Render()
	require.NoError(t, err)
	return xml
}

func inbound(sid string) telephony.InboundForm {
	return telephony.InboundForm{CallSid: sid, From: caller, To: bizNumber, CallStatus: "ringing"}
}

func status(sid, parent, st string, duration *int) telephony.StatusForm {
	return telephony.StatusForm{CallSid: sid, ParentCallSid: parent, CallStatus: st, CallDuration: duration, Raw: map[string]string{"CallStatus": st}}
}

func intPtr(n int) *int { return &n }

func (h *harness) agent(t *testing.T, id string) routing.Agent {
	t.Helper()
	a, ok := h.routing.Agent("b1", id)
	require.True(t, ok)
	return a
}

func (h *harness) eventTypes() []string {
	var out []string
	for _, e := range h.events.Events() {
		out = append(out, e.Type)
	}
	return out
}

func TestInbound_ConnectsAvailableAgent(t *testing.T) {
	h := newHarness(t, "a1")
	ctx := context.Background()

	doc, err := h.svc.Inbound(ctx, inbound("CA1"))
	require.NoError(t, err)
	xml := render(t, doc)
	require.Contains(t, xml, ">a1</Client>")
	require.Contains(t, xml, `action="https://gw.example.com/webhooks/voice/dial-complete"`)

	rec, err := h.calls.GetByCarrierID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusRinging, rec.Status)
	require.Equal(t, "a1", rec.AgentID)
	require.Equal(t, "b1", rec.BusinessID)

	a := h.agent(t, "a1")
	require.Equal(t, routing.AgentOnCall, a.Status)
	require.Equal(t, rec.ID, a.CurrentCallID)
}

func TestInbound_ConcurrentCallsClaimLastAgentOnce(t *testing.T) {
	h := newHarness(t, "a1")
	ctx := context.Background()

	const n = 8
	docs := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := h.svc.Inbound(ctx, inbound("CA-"+string(rune('a'+i))))
			if err != nil {
				errs[i] = err
				return
			}
			docs[i], errs[i] = doc.Render()
		}(i)
	}
	wg.Wait()

	connected, queued := 0, 0
	for i := range docs {
		require.NoError(t, errs[i])
		switch {
		case strings.Contains(docs[i], "<Client"):
			connected++
		case strings.Contains(docs[i], "<Enqueue"):
			queued++
		}
	}
	require.Equal(t, 1, connected)
	require.Equal(t, n-1, queued)

	recs, err := h.calls.List(ctx, calls.ListFilter{BusinessID: "b1"})
	require.NoError(t, err)
	withAgent := 0
	for _, r := range recs {
		if r.AgentID != "" {
			withAgent++
			require.Equal(t, r.ID, h.agent(t, "a1").CurrentCallID)
		} else {
			require.Equal(t, calls.StatusQueued, r.Status)
		}
	}
	require.Equal(t, 1, withAgent)
}

func TestInbound_DeniedCallHasNoRecord(t *testing.T) {
	h := newHarness(t, "a1")
	h.ledger.PutAccount(account(pricing.TierStarter, "0", 100))
	ctx := context.Background()

	doc, err := h.svc.Inbound(ctx, inbound("CA1"))
	require.NoError(t, err)
	xml := render(t, doc)
	require.Contains(t, xml, "<Reject")
	require.Contains(t, xml, "<Say>")

	_, err = h.calls.GetByCarrierID(ctx, "CA1")
	require.ErrorIs(t, err, calls.ErrNotFound)
	require.Contains(t, h.eventTypes(), audit.TypeAdmissionDenied)
	require.Equal(t, routing.AgentAvailable, h.agent(t, "a1").Status)
}

func TestInbound_UnknownNumberIsRejected(t *testing.T) {
	h := newHarness(t)
	f := inbound("CA1")
	f.To = "+15550009999"

	doc, err := h.svc.Inbound(context.Background(), f)
	require.NoError(t, err)
	require.Contains(t, render(t, doc), "<Reject")
}

func TestInbound_ReplayedWebhookKeepsAssignment(t *testing.T) {
	h := newHarness(t, "a1", "a2")
	ctx := context.Background()

	first, err := h.svc.Inbound(ctx, inbound("CA1"))
	require.NoError(t, err)
	second, err := h.svc.Inbound(ctx, inbound("CA1"))
	require.NoError(t, err)
	require.Equal(t, render(t, first), render(t, second))

	require.Equal(t, routing.AgentOnCall, h.agent(t, "a1").Status)
	require.Equal(t, routing.AgentAvailable, h.agent(t, "a2").Status)
}

func TestInbound_AgentLegRules(t *testing.T) {
	h := newHarness(t, "a1")
	ctx := context.Background()

	_, err := h.svc.Inbound(ctx, inbound("CA1"))
	require.NoError(t, err)

	// Agent leg ringing is history only.
	require.NoError(t, h.svc.Status(ctx, status("CA-leg", "CA1", "ringing", nil)))
	rec, err := h.calls.GetByCarrierID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusRinging, rec.Status)
	require.Contains(t, h.eventTypes(), "agent_leg.ringing")

	require.NoError(t, h.svc.Status(ctx, status("CA-leg", "CA1", "in-progress", nil)))
	rec, err = h.calls.GetByCarrierID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusInProgress, rec.Status)
	require.Equal(t, "a1", rec.AgentID)

	require.NoError(t, h.svc.Status(ctx, status("CA1", "", "completed", intPtr(65))))
	rec, err = h.calls.GetByCarrierID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusCompleted, rec.Status)
	require.Equal(t, 65, rec.Duration())
	require.Empty(t, rec.AgentID)
	require.Equal(t, routing.AgentAvailable, h.agent(t, "a1").Status)

	doc, err := h.svc.DialComplete(ctx, telephony.DialCompleteForm{CallSid: "CA1", DialCallStatus: "completed"})
	require.NoError(t, err)
	require.Contains(t, render(t, doc), "<Hangup>")
}

func TestDialComplete_NoAnswerGoesToVoicemail(t *testing.T) {
	h := newHarness(t, "a1")
	ctx := context.Background()

	_, err := h.svc.Inbound(ctx, inbound("CA1"))
	require.NoError(t, err)

	doc, err := h.svc.DialComplete(ctx, telephony.DialCompleteForm{CallSid: "CA1", DialCallSid: "CA-leg", DialCallStatus: "no-answer"})
	require.NoError(t, err)
	xml := render(t, doc)
	require.Contains(t, xml, "<Record")
	require.Contains(t, xml, `recordingStatusCallback="https://gw.example.com/webhooks/voice/recording"`)

	rec, err := h.calls.GetByCarrierID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusVoicemail, rec.Status)
	require.Empty(t, rec.AgentID)

	a := h.agent(t, "a1")
	require.Equal(t, routing.AgentAvailable, a.Status)
	require.Empty(t, a.CurrentCallID)
}

func TestQueue_HoldLeaveAndVoicemail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc, err := h.svc.Inbound(ctx, inbound("CA1"))
	require.NoError(t, err)
	xml := render(t, doc)
	require.Contains(t, xml, `waitUrl="https://gw.example.com/webhooks/voice/queue-wait"`)
	require.Contains(t, xml, ">b1:default</Enqueue>")

	rec, err := h.calls.GetByCarrierID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusQueued, rec.Status)

	doc, err = h.svc.QueueWait(ctx, telephony.QueueWaitForm{CallSid: "CA1", QueueTime: 30 * time.Second})
	require.NoError(t, err)
	require.Contains(t, render(t, doc), "hold.mp3</Play>")

	doc, err = h.svc.QueueWait(ctx, telephony.QueueWaitForm{CallSid: "CA1", QueueTime: 300 * time.Second})
	require.NoError(t, err)
	require.Contains(t, render(t, doc), "<Leave>")

	doc, err = h.svc.QueueExit(ctx, telephony.QueueExitForm{CallSid: "CA1", QueueResult: telephony.QueueResultLeave})
	require.NoError(t, err)
	require.Contains(t, render(t, doc), "<Record")

	require.NoError(t, h.svc.Recording(ctx, telephony.RecordingForm{CallSid: "CA1", RecordingURL: "https://rec/1"}))
	require.NoError(t, h.svc.Transcription(ctx, telephony.TranscriptionForm{CallSid: "CA1", TranscriptionText: "call me back"}))
	require.NoError(t, h.svc.Status(ctx, status("CA1", "", "completed", intPtr(40))))

	rec, err = h.calls.GetByCarrierID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusCompleted, rec.Status)
	require.Equal(t, "https://rec/1", rec.RecordingURL)
	require.Equal(t, "call me back", rec.Transcript)
	require.Equal(t, 40, rec.Duration())

	types := h.eventTypes()
	require.Contains(t, types, "status.queued")
	require.Contains(t, types, "status.voicemail")
	require.Contains(t, types, "recording.completed")
	require.Contains(t, types, "transcription.completed")
}

func TestQueueExit_BridgedNeedsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Inbound(ctx, inbound("CA1"))
	require.NoError(t, err)

	doc, err := h.svc.QueueExit(ctx, telephony.QueueExitForm{CallSid: "CA1", QueueResult: telephony.QueueResultBridged})
	require.NoError(t, err)
	require.Equal(t, 0, doc.Len())

	_, err = h.svc.QueueWait(ctx, telephony.QueueWaitForm{CallSid: "CA-unknown"})
	require.ErrorIs(t, err, telephony.ErrUnknownCall)
}

func TestQueue_WaitingCallerReachesAgentWhoFreesUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Inbound(ctx, inbound("CA1"))
	require.NoError(t, err)

	doc, err := h.svc.QueueWait(ctx, telephony.QueueWaitForm{CallSid: "CA1", QueueTime: 30 * time.Second})
	require.NoError(t, err)
	require.Contains(t, render(t, doc), "hold.mp3</Play>")

	_, err = h.engine.SetPresence(ctx, "b1", "a1", routing.AgentAvailable)
	require.NoError(t, err)

	doc, err = h.svc.QueueWait(ctx, telephony.QueueWaitForm{CallSid: "CA1", QueueTime: 60 * time.Second})
	require.NoError(t, err)
	require.Contains(t, render(t, doc), "<Leave>")

	rec, err := h.calls.GetByCarrierID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusRinging, rec.Status)
	require.Equal(t, "a1", rec.AgentID)
	a := h.agent(t, "a1")
	require.Equal(t, routing.AgentOnCall, a.Status)
	require.Equal(t, rec.ID, a.CurrentCallID)

	// A second wait cycle before the exit callback must not claim again.
	doc, err = h.svc.QueueWait(ctx, telephony.QueueWaitForm{CallSid: "CA1", QueueTime: 61 * time.Second})
	require.NoError(t, err)
	require.Contains(t, render(t, doc), "<Leave>")

	doc, err = h.svc.QueueExit(ctx, telephony.QueueExitForm{CallSid: "CA1", QueueResult: telephony.QueueResultLeave})
	require.NoError(t, err)
	xml := render(t, doc)
	require.Contains(t, xml, ">a1</Client>")
	require.Contains(t, xml, `action="https://gw.example.com/webhooks/voice/dial-complete"`)

	require.NoError(t, h.svc.Status(ctx, status("CA-leg", "CA1", "in-progress", nil)))
	require.NoError(t, h.svc.Status(ctx, status("CA1", "", "completed", intPtr(90))))

	rec, err = h.calls.GetByCarrierID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusCompleted, rec.Status)
	require.Empty(t, rec.AgentID)
	require.Equal(t, routing.AgentAvailable, h.agent(t, "a1").Status)
}

func TestQueue_TimeoutUsesMessageAction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.routing.PutQueue(routing.Queue{
		ID:                "q-front",
		BusinessID:        "b1",
		Name:              "front",
		Strategy:          routing.StrategyFirstAvailable,
		MaxWaitSeconds:    60,
		AfterHours:        routing.AfterHoursMessage,
		AfterHoursMessage: "Sorry we missed you.",
	}, true)

	_, err := h.svc.Inbound(ctx, inbound("CA1"))
	require.NoError(t, err)

	doc, err := h.svc.QueueWait(ctx, telephony.QueueWaitForm{CallSid: "CA1", QueueTime: 60 * time.Second})
	require.NoError(t, err)
	require.Contains(t, render(t, doc), "<Leave>")

	doc, err = h.svc.QueueExit(ctx, telephony.QueueExitForm{CallSid: "CA1", QueueResult: telephony.QueueResultLeave})
	require.NoError(t, err)
	xml := render(t, doc)
	require.Contains(t, xml, "<Say>Sorry we missed you.</Say>")
	require.Contains(t, xml, "<Hangup>")
	require.NotContains(t, xml, "<Record")

	rec, err := h.calls.GetByCarrierID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusQueued, rec.Status)

	require.NoError(t, h.svc.Status(ctx, status("CA1", "", "completed", intPtr(75))))
	rec, err = h.calls.GetByCarrierID(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, calls.StatusCompleted, rec.Status)
}

func TestStatus_UnknownCallGetsMinimalRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	f := status("CA-x", "", "ringing", nil)
	f.Direction = "inbound"
	f.From = caller
	f.To = bizNumber
	require.NoError(t, h.svc.Status(ctx, f))

	rec, err := h.calls.GetByCarrierID(ctx, "CA-x")
	require.NoError(t, err)
	require.Equal(t, "b1", rec.BusinessID)
	require.Equal(t, calls.DirectionInbound, rec.Direction)
	require.Equal(t, calls.StatusRinging, rec.Status)

	// Unknown carrier statuses are dropped.
	require.NoError(t, h.svc.Status(ctx, status("CA-x", "", "exploded", nil)))
}

func outboundReq() OutboundRequest {
	return OutboundRequest{BusinessID: "b1", From: bizNumber, To: "+15557770000", AgentID: "a1", EstimatedMinutes: 3}
}

func TestOutbound_PlacedCallLifecycle(t *testing.T) {
	h := newHarness(t, "a1")
	ctx := context.Background()

	req := outboundReq()
	req.PlaceCall = true
	res, err := h.svc.CreateOutbound(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Decision.Allowed)
	require.NotNil(t, res.Call)
	callID := res.Call.ID
	require.Equal(t, "CA-agent-leg", res.Call.CarrierCallID)
	require.Equal(t, calls.StatusInitiated, res.Call.Status)
	require.Equal(t, "a1", res.Call.AgentID)
	require.Equal(t, callID, h.agent(t, "a1").CurrentCallID)

	require.Len(t, h.carrier.reqs, 1)
	require.Equal(t, "client:a1", h.carrier.reqs[0].To)
	require.Equal(t, "https://gw.example.com/webhooks/voice/outbound?call_id="+callID, h.carrier.reqs[0].URL)

	doc, err := h.svc.OutboundConnect(ctx, telephony.OutboundConnectForm{CallSid: "CA-agent-leg", CallID: callID})
	require.NoError(t, err)
	xml := render(t, doc)
	require.Contains(t, xml, ">+15557770000</Number>")
	require.Contains(t, xml, `callerId="`+bizNumber+`"`)

	// Agent leg progress is history only.
	require.NoError(t, h.svc.Status(ctx, status("CA-agent-leg", "", "in-progress", nil)))
	rec, err := h.calls.Get(ctx, "b1", callID)
	require.NoError(t, err)
	require.Equal(t, calls.StatusInitiated, rec.Status)

	require.NoError(t, h.svc.Status(ctx, status("CA-customer", "CA-agent-leg", "ringing", nil)))
	require.NoError(t, h.svc.Status(ctx, status("CA-customer", "CA-agent-leg", "in-progress", nil)))
	require.NoError(t, h.svc.Status(ctx, status("CA-customer", "CA-agent-leg", "completed", intPtr(120))))
	require.NoError(t, h.svc.Status(ctx, status("CA-agent-leg", "", "completed", intPtr(130))))

	rec, err = h.calls.Get(ctx, "b1", callID)
	require.NoError(t, err)
	require.Equal(t, calls.StatusCompleted, rec.Status)
	require.Equal(t, 120, rec.Duration())
	require.Empty(t, rec.AgentID)
	require.Equal(t, routing.AgentAvailable, h.agent(t, "a1").Status)

	inUse, releases := h.slots.snapshot()
	require.Equal(t, 0, inUse)
	require.Equal(t, 1, releases)
}

func TestOutbound_UnansweredAgentLegCancels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := outboundReq()
	req.AgentID = ""
	res, err := h.svc.CreateOutbound(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, res.Call)

	_, err = h.svc.OutboundConnect(ctx, telephony.OutboundConnectForm{CallSid: "CA-p", CallID: res.Call.ID})
	require.NoError(t, err)
	require.NoError(t, h.svc.Status(ctx, status("CA-p", "", "completed", intPtr(20))))

	rec, err := h.calls.Get(ctx, "b1", res.Call.ID)
	require.NoError(t, err)
	require.Equal(t, calls.StatusCanceled, rec.Status)
	require.Equal(t, 0, rec.Duration())

	// Late legs for an ended call hang up.
	doc, err := h.svc.OutboundConnect(ctx, telephony.OutboundConnectForm{CallSid: "CA-q", CallID: res.Call.ID})
	require.NoError(t, err)
	require.Contains(t, render(t, doc), "<Hangup>")
}

func TestOutbound_BusyAgentGivesSlotBack(t *testing.T) {
	h := newHarness(t, "a1")
	ctx := context.Background()
	require.NoError(t, h.engine.ClaimAgent(ctx, "b1", "a1", "other-call"))

	_, err := h.svc.CreateOutbound(ctx, outboundReq())
	require.ErrorIs(t, err, routing.ErrAgentBusy)

	inUse, releases := h.slots.snapshot()
	require.Equal(t, 0, inUse)
	require.Equal(t, 1, releases)
}

func TestOutbound_CarrierFailureReleasesEverything(t *testing.T) {
	h := newHarness(t, "a1")
	h.carrier.err = errors.New("carrier down")
	ctx := context.Background()

	req := outboundReq()
	req.PlaceCall = true
	_, err := h.svc.CreateOutbound(ctx, req)
	require.Error(t, err)

	recs, err := h.calls.List(ctx, calls.ListFilter{BusinessID: "b1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, calls.StatusFailed, recs[0].Status)
	require.Equal(t, routing.AgentAvailable, h.agent(t, "a1").Status)

	inUse, _ := h.slots.snapshot()
	require.Equal(t, 0, inUse)
}

func TestOutbound_Denials(t *testing.T) {
	h := newHarness(t, "a1")
	ctx := context.Background()

	h.ledger.PutAccount(account(pricing.TierFree, "100", 0))
	res, err := h.svc.CreateOutbound(ctx, outboundReq())
	require.NoError(t, err)
	require.False(t, res.Decision.Allowed)
	require.Equal(t, admission.ReasonTierRestriction, res.Decision.Reason)
	require.Nil(t, res.Call)
	require.Equal(t, routing.AgentAvailable, h.agent(t, "a1").Status)

	req := outboundReq()
	req.From = "+15550002222"
	_, err = h.svc.CreateOutbound(ctx, req)
	require.ErrorIs(t, err, ErrCallerIDNotOwned)
}

func TestOutbound_ConcurrencyCap(t *testing.T) {
	h := newHarness(t)
	h.slots.limit = 1
	ctx := context.Background()

	req := outboundReq()
	req.AgentID = ""
	_, err := h.svc.CreateOutbound(ctx, req)
	require.NoError(t, err)
	_, err = h.svc.CreateOutbound(ctx, req)
	require.ErrorIs(t, err, ErrConcurrencyLimit)
}
