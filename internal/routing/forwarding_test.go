package routing

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubRuleStore struct {
	rule ForwardRule
	ok   bool
	err  error
}

func (m stubRuleStore) ActiveForwardRule(context.Context, string, string, time.Time) (ForwardRule, bool, error) {
	return m.rule, m.ok, m.err
}

type memForwardAudit struct {
	called bool
	event  ForwardAuditEvent
}

func (m *memForwardAudit) LogForwardApplied(_ context.Context, e ForwardAuditEvent) error {
	m.called = true
	m.event = e
	return nil
}

func TestForwardEngine_AppliesActiveRuleAndAudits(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	a := &memForwardAudit{}
	e := NewForwardEngine(stubRuleStore{rule: ForwardRule{ID: "r1", BusinessID: "b", Number: "+2", Target: "+15550009", ExpiresAt: now.Add(time.Hour)}, ok: true}, a)
	e.Now = func() time.Time { return now }

	dec, applied, err := e.Decide(context.Background(), InboundInput{BusinessID: "b", CallID: "c1", CarrierCallID: "CA1", From: "+1", To: "+2", SourceIP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !applied || dec.Action != ActionForward || dec.ForwardTo != "+15550009" {
		t.Fatalf("unexpected decision: %+v applied=%v", dec, applied)
	}
	if !a.called || a.event.CallID != "c1" || a.event.SourceIP != "10.0.0.1" {
		t.Fatalf("expected audit with call context, got %+v", a.event)
	}
}

func TestForwardEngine_IgnoresExpired(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	a := &memForwardAudit{}
	e := NewForwardEngine(stubRuleStore{rule: ForwardRule{Target: "+1", ExpiresAt: now.Add(-time.Second)}, ok: true}, a)
	e.Now = func() time.Time { return now }

	_, applied, err := e.Decide(context.Background(), InboundInput{BusinessID: "b"})
	if err != nil || applied {
		t.Fatalf("expected expired rule to be ignored, applied=%v err=%v", applied, err)
	}
	if a.called {
		t.Fatalf("expected no audit for an ignored rule")
	}
}

func TestForwardEngine_EmptyTargetIsAnError(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	e := NewForwardEngine(stubRuleStore{rule: ForwardRule{ExpiresAt: now.Add(time.Hour)}, ok: true}, nil)
	e.Now = func() time.Time { return now }
	if _, _, err := e.Decide(context.Background(), InboundInput{BusinessID: "b"}); err == nil {
		t.Fatalf("expected misconfiguration error")
	}
}

func TestForwardEngine_PropagatesStoreError(t *testing.T) {
	boom := errors.New("boom")
	e := NewForwardEngine(stubRuleStore{err: boom}, nil)
	if _, _, err := e.Decide(context.Background(), InboundInput{BusinessID: "b"}); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestForwardEngine_NilIsNoop(t *testing.T) {
	var e *ForwardEngine
	if _, applied, err := e.Decide(context.Background(), InboundInput{BusinessID: "b"}); err != nil || applied {
		t.Fatalf("nil engine should not apply, got %v %v", applied, err)
	}
}
