package voice

import (
	"context"
	"errors"
	"fmt"

	"voice-gateway/internal/admission"
	"voice-gateway/internal/audit"
	"voice-gateway/internal/calls"
	"voice-gateway/internal/routing"
	"voice-gateway/internal/telephony"
	"voice-gateway/pkg/logger"
)

const (
	metaOrigin      = "origin"
	metaQueueID     = "queue_id"
	metaForwardedTo = "forwarded_to"

	originInbound = "inbound_webhook"

	notInServiceMessage = "The number you have dialed is not in service."
	holdMessage         = "All of our agents are busy. Please stay on the line."
	afterHoursMessage   = "We are currently closed. Please call again during business hours."
)

// Inbound admits, records and routes a new inbound call.
//
// A denied call never gets a record; the denial is kept in the event log only.
// Carrier retries of the same webhook resume from the stored record instead of routing
// (and claiming an agent) a second time.
func (s *Service) Inbound(ctx context.Context, f telephony.InboundForm) (*telephony.Document, error) {
	log := logger.From(ctx).With("carrier_call_id", f.CallSid, "to", f.To)

	num, err := s.directory.LookupNumber(ctx, f.To)
	if errors.Is(err, routing.ErrNumberNotFound) {
		log.Warn("inbound call to unknown number")
		return telephony.NewDocument().Say(notInServiceMessage).Reject("rejected"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("voice: lookup number: %w", err)
	}
	log = log.With("business_id", num.BusinessID)
	ctx = logger.With(ctx, log)

	if existing, err := s.calls.GetByCarrierID(ctx, f.CallSid); err == nil && existing.MetadataValue(metaOrigin) == originInbound {
		log.Info("inbound webhook replayed", "call_id", existing.ID, "status", string(existing.Status))
		return s.resume(ctx, existing)
	}

	dec, err := s.admission.CheckAdmission(ctx, admission.Request{
		BusinessID:       num.BusinessID,
		Direction:        calls.DirectionInbound,
		EstimatedMinutes: s.cfg.InboundEstimateMinutes,
	})
	switch {
	case errors.Is(err, admission.ErrUnknownBusiness), errors.Is(err, admission.ErrInactiveBusiness):
		log.Warn("inbound call for unavailable business", "err", err)
		return telephony.NewDocument().Say(notInServiceMessage).Reject("rejected"), nil
	case err != nil:
		return nil, fmt.Errorf("voice: admission: %w", err)
	}
	if !dec.Allowed {
		log.Info("inbound call denied", "reason", string(dec.Reason))
		s.recordEvent(ctx, audit.Event{
			BusinessID:    num.BusinessID,
			Type:          audit.TypeAdmissionDenied,
			CarrierCallID: f.CallSid,
			IPAddress:     f.SourceIP,
			Message:       dec.Message,
			Payload: map[string]string{
				"direction": string(calls.DirectionInbound),
				"reason":    string(dec.Reason),
				"from":      f.From,
				"to":        f.To,
			},
		})
		return telephony.NewDocument().Say(dec.Message).Reject("rejected"), nil
	}

	meta := map[string]string{metaOrigin: originInbound}
	if num.QueueID != "" {
		meta[metaQueueID] = num.QueueID
	}
	rec, err := s.calls.Create(ctx, calls.NewCall{
		CarrierCallID: f.CallSid,
		BusinessID:    num.BusinessID,
		Direction:     calls.DirectionInbound,
		From:          f.From,
		To:            f.To,
		Status:        calls.StatusRinging,
		Metadata:      meta,
	})
	if err != nil {
		return nil, fmt.Errorf("voice: create call: %w", err)
	}
	if rec.Status.IsTerminal() {
		// The caller hung up before we answered.
		return telephony.NewDocument().Hangup(), nil
	}
	if rec.Status == calls.StatusInitiated {
		if _, err := s.calls.Transition(ctx, rec.ID, calls.StatusRinging); err != nil {
			return nil, err
		}
	}

	d, err := s.router.RouteInbound(ctx, routing.InboundInput{
		BusinessID:    num.BusinessID,
		CallID:        rec.ID,
		CarrierCallID: f.CallSid,
		From:          f.From,
		To:            f.To,
		QueueID:       num.QueueID,
		SourceIP:      f.SourceIP,
	})
	if err != nil {
		return nil, fmt.Errorf("voice: route: %w", err)
	}
	return s.applyDecision(ctx, rec, d)
}

func (s *Service) applyDecision(ctx context.Context, rec calls.CallRecord, d routing.Decision) (*telephony.Document, error) {
	switch d.Action {
	case routing.ActionConnectAgent:
		ok, err := s.calls.AssignAgent(ctx, rec.ID, d.AgentID)
		if err != nil || !ok {
			if rerr := s.router.ReleaseCall(ctx, rec.BusinessID, rec.ID); rerr != nil {
				logger.From(ctx).Error("agent release failed", "call_id", rec.ID, "agent_id", d.AgentID, "err", rerr)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("voice: assign agent: %w", err)
		}
		if !ok {
			return telephony.NewDocument().Hangup(), nil
		}
		return s.bridgeToAgent(d.AgentID), nil

	case routing.ActionForward:
		if err := s.calls.SetMetadata(ctx, rec.ID, map[string]string{metaForwardedTo: d.ForwardTo}); err != nil {
			logger.From(ctx).Warn("forward metadata not stored", "call_id", rec.ID, "err", err)
		}
		return telephony.NewDocument().DialNumber(d.ForwardTo, telephony.DialOptions{
			TimeoutSeconds: s.cfg.RingTimeoutSeconds,
			CallerID:       rec.From,
			StatusCallback: s.url(telephony.PathStatus),
			StatusEvents:   []string{"answered", "completed"},
		}), nil

	case routing.ActionEnqueue:
		if err := s.calls.SetMetadata(ctx, rec.ID, map[string]string{metaQueueID: d.Queue.ID}); err != nil {
			logger.From(ctx).Warn("queue metadata not stored", "call_id", rec.ID, "err", err)
		}
		res, err := s.calls.Transition(ctx, rec.ID, calls.StatusQueued)
		if err != nil {
			return nil, err
		}
		if res.Call.Status.IsTerminal() {
			return telephony.NewDocument().Hangup(), nil
		}
		return telephony.NewDocument().Enqueue(d.Queue.ID, s.url(telephony.PathQueueWait), s.url(telephony.PathQueueExit)), nil

	case routing.ActionVoicemail:
		return s.toVoicemail(ctx, rec, d.Queue)

	case routing.ActionMessage:
		return afterHoursDocument(d.Queue), nil
	}
	return nil, fmt.Errorf("voice: unknown routing action %q", d.Action)
}

func afterHoursDocument(q routing.Queue) *telephony.Document {
	msg := q.AfterHoursMessage
	if msg == "" {
		msg = afterHoursMessage
	}
	return telephony.NewDocument().Say(msg).Hangup()
}

// queueFallback runs the queue's after-hours action for a caller no agent took.
func (s *Service) queueFallback(ctx context.Context, rec calls.CallRecord, q routing.Queue) (*telephony.Document, error) {
	if q.AfterHours == routing.AfterHoursMessage {
		logger.From(ctx).Info("queue fallback message", "call_id", rec.ID, "queue", q.Name)
		return afterHoursDocument(q), nil
	}
	return s.toVoicemail(ctx, rec, q)
}

func (s *Service) bridgeToAgent(agentID string) *telephony.Document {
	return telephony.NewDocument().DialClient(agentID, telephony.DialOptions{
		Action:         s.url(telephony.PathDialComplete),
		TimeoutSeconds: s.cfg.RingTimeoutSeconds,
		StatusCallback: s.url(telephony.PathStatus),
		StatusEvents:   []string{"answered", "completed"},
	})
}

// toVoicemail moves the call to voicemail and returns the record flow. A call that
// already ended just hangs up.
func (s *Service) toVoicemail(ctx context.Context, rec calls.CallRecord, q routing.Queue) (*telephony.Document, error) {
	res, err := s.calls.Transition(ctx, rec.ID, calls.StatusVoicemail)
	if err != nil {
		return nil, err
	}
	if res.Call.Status != calls.StatusVoicemail {
		logger.From(ctx).Info("voicemail skipped", "call_id", rec.ID, "status", string(res.Call.Status))
		return telephony.NewDocument().Hangup(), nil
	}
	return s.voicemailDocument(q), nil
}

func (s *Service) voicemailDocument(q routing.Queue) *telephony.Document {
	prompt := s.cfg.VoicemailPrompt
	if q.AfterHours == routing.AfterHoursVoicemail && q.AfterHoursMessage != "" {
		prompt = q.AfterHoursMessage
	}
	return telephony.NewDocument().
		Say(prompt).
		Record(telephony.RecordOptions{
			MaxLengthSeconds:   s.cfg.VoicemailMaxSeconds,
			RecordingCallback:  s.url(telephony.PathRecording),
			TranscribeCallback: s.url(telephony.PathTranscription),
		}).
		Hangup()
}

// resume rebuilds the document for a call that was already routed.
func (s *Service) resume(ctx context.Context, rec calls.CallRecord) (*telephony.Document, error) {
	switch {
	case rec.Status.IsTerminal():
		return telephony.NewDocument().Hangup(), nil
	case rec.AgentID != "":
		return s.bridgeToAgent(rec.AgentID), nil
	case rec.Status == calls.StatusQueued:
		return telephony.NewDocument().Enqueue(rec.MetadataValue(metaQueueID), s.url(telephony.PathQueueWait), s.url(telephony.PathQueueExit)), nil
	case rec.Status == calls.StatusVoicemail:
		q, err := s.router.QueueFor(ctx, rec.BusinessID, rec.MetadataValue(metaQueueID))
		if err != nil {
			return nil, err
		}
		return s.voicemailDocument(q), nil
	}

	// Ringing without an agent: the first attempt died before routing finished.
	q, err := s.router.QueueFor(ctx, rec.BusinessID, rec.MetadataValue(metaQueueID))
	if err != nil {
		return nil, err
	}
	d, err := s.router.RouteInbound(ctx, routing.InboundInput{
		BusinessID:    rec.BusinessID,
		CallID:        rec.ID,
		CarrierCallID: rec.CarrierCallID,
		From:          rec.From,
		To:            rec.To,
		QueueID:       q.ID,
	})
	if err != nil {
		return nil, err
	}
	return s.applyDecision(ctx, rec, d)
}

// QueueWait runs on every hold cycle. It offers the caller to a free agent first;
// on a claim, or once the wait limit is reached, it asks the carrier to leave the
// queue and the queue-exit callback decides what comes next.
func (s *Service) QueueWait(ctx context.Context, f telephony.QueueWaitForm) (*telephony.Document, error) {
	rec, err := s.callByCarrierID(ctx, f.CallSid)
	if err != nil {
		return nil, err
	}
	q, err := s.router.QueueFor(ctx, rec.BusinessID, rec.MetadataValue(metaQueueID))
	if err != nil {
		return nil, err
	}
	log := logger.From(ctx).With("call_id", rec.ID, "queue", q.Name, "waited_s", int(f.QueueTime.Seconds()))

	switch {
	case rec.Status.IsTerminal(), rec.AgentID != "":
		return telephony.NewDocument().Leave(), nil
	case rec.Status == calls.StatusQueued:
		agentID, err := s.dequeueToAgent(ctx, rec, q)
		if err != nil {
			return nil, err
		}
		if agentID != "" {
			log.Info("queued call leaving for agent", "agent_id", agentID)
			return telephony.NewDocument().Leave(), nil
		}
	}
	if q.WaitExceeded(int(f.QueueTime.Seconds())) {
		log.Info("caller leaving queue")
		return telephony.NewDocument().Leave(), nil
	}

	music := q.HoldMusicURL
	if music == "" {
		music = s.cfg.HoldMusicURL
	}
	if music == "" {
		return telephony.NewDocument().Say(holdMessage), nil
	}
	return telephony.NewDocument().Play(music), nil
}

// dequeueToAgent claims a free agent for a queued call and moves it back to ringing
// with the agent linked. It returns "" when nobody is free or the call moved on.
func (s *Service) dequeueToAgent(ctx context.Context, rec calls.CallRecord, q routing.Queue) (string, error) {
	agentID, err := s.router.ClaimForQueue(ctx, q, rec.ID)
	if err != nil || agentID == "" {
		return "", err
	}
	res, err := s.calls.Transition(ctx, rec.ID, calls.StatusRinging)
	if err == nil && res.Call.Status == calls.StatusRinging {
		var ok bool
		ok, err = s.calls.AssignAgent(ctx, rec.ID, agentID)
		if err == nil && ok {
			return agentID, nil
		}
	}
	if rerr := s.router.ReleaseCall(ctx, rec.BusinessID, rec.ID); rerr != nil {
		logger.From(ctx).Error("agent release failed", "call_id", rec.ID, "agent_id", agentID, "err", rerr)
	}
	if err != nil {
		return "", fmt.Errorf("voice: dequeue to agent: %w", err)
	}
	return "", nil
}

// QueueExit handles the end of a queue stay. A caller that left for a claimed agent is
// bridged to it; bridged, hung up and redirected calls need nothing; everything else
// gets the queue's after-hours action.
func (s *Service) QueueExit(ctx context.Context, f telephony.QueueExitForm) (*telephony.Document, error) {
	rec, err := s.callByCarrierID(ctx, f.CallSid)
	if err != nil {
		return nil, err
	}
	switch f.QueueResult {
	case telephony.QueueResultBridged, telephony.QueueResultHangup, telephony.QueueResultRedirected:
		return nil, nil
	}
	if rec.Status.IsTerminal() {
		return telephony.NewDocument().Hangup(), nil
	}
	if rec.AgentID != "" {
		return s.bridgeToAgent(rec.AgentID), nil
	}
	q, err := s.router.QueueFor(ctx, rec.BusinessID, rec.MetadataValue(metaQueueID))
	if err != nil {
		return nil, err
	}
	return s.queueFallback(ctx, rec, q)
}

// DialComplete runs when the bridge to an agent ends. A completed bridge hangs up;
// an unanswered one goes to voicemail, which frees the agent.
func (s *Service) DialComplete(ctx context.Context, f telephony.DialCompleteForm) (*telephony.Document, error) {
	rec, err := s.callByCarrierID(ctx, f.CallSid)
	if err != nil {
		return nil, err
	}
	if f.DialCallStatus == string(calls.StatusCompleted) {
		return telephony.NewDocument().Hangup(), nil
	}
	logger.From(ctx).Info("agent did not answer",
		"call_id", rec.ID, "agent_id", rec.AgentID, "dial_status", f.DialCallStatus)
	s.recordCallEvent(ctx, rec, f.DialCallSid, "agent_leg."+f.DialCallStatus, map[string]string{
		"agent_id":         rec.AgentID,
		"dial_call_status": f.DialCallStatus,
	})
	q, err := s.router.QueueFor(ctx, rec.BusinessID, rec.MetadataValue(metaQueueID))
	if err != nil {
		return nil, err
	}
	return s.toVoicemail(ctx, rec, q)
}

func (s *Service) callByCarrierID(ctx context.Context, carrierCallID string) (calls.CallRecord, error) {
	rec, err := s.calls.GetByCarrierID(ctx, carrierCallID)
	if errors.Is(err, calls.ErrNotFound) {
		return calls.CallRecord{}, telephony.ErrUnknownCall
	}
	return rec, err
}
