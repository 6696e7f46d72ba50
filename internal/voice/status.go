package voice

import (
	"context"
	"errors"
	"fmt"

	"voice-gateway/internal/calls"
	"voice-gateway/internal/routing"
	"voice-gateway/internal/telephony"
	"voice-gateway/pkg/logger"
)

// Status feeds a carrier status callback into the call lifecycle.
//
// A bridged call has two legs. Events that carry a parent sid belong to the parent's
// record:
//   - outbound: the child is the customer leg, every status applies
//   - inbound: the child is the agent leg, only in-progress and completed apply
//
// The parent leg of an outbound call is the agent's; only its end matters, and it ends
// the call as completed when the customer answered and canceled otherwise.
func (s *Service) Status(ctx context.Context, f telephony.StatusForm) error {
	log := logger.From(ctx).With("carrier_call_id", f.CallSid, "carrier_status", f.CallStatus)

	st, ok := calls.ParseStatus(f.CallStatus)
	if !ok {
		log.Warn("unknown carrier status ignored")
		return nil
	}

	ev := calls.Event{
		CarrierCallID:   f.CallSid,
		Status:          st,
		DurationSeconds: f.CallDuration,
		RecordingURL:    f.RecordingURL,
		OccurredAt:      f.Timestamp,
		Direction:       carrierDirection(f.Direction),
		From:            f.From,
		To:              f.To,
		Payload:         f.Raw,
	}

	if f.ParentCallSid != "" {
		parent, err := s.calls.GetByCarrierID(ctx, f.ParentCallSid)
		switch {
		case errors.Is(err, calls.ErrNotFound):
			// Parent not seen yet; record the event against it so the call exists.
			ev.CarrierCallID = f.ParentCallSid
			ev.Direction = ""
		case err != nil:
			return err
		default:
			ev.CarrierCallID = parent.CarrierCallID
			if parent.Direction == calls.DirectionInbound {
				if st != calls.StatusInProgress && st != calls.StatusCompleted {
					log.Info("agent leg status logged only", "call_id", parent.ID)
					s.recordCallEvent(ctx, parent, f.CallSid, "agent_leg."+string(st), f.Raw)
					return nil
				}
				// The agent leg is shorter than the caller's; derive from timestamps.
				ev.DurationSeconds = nil
			}
		}
	} else {
		if f.CallID != "" {
			s.bindPlacedLeg(ctx, f.CallID, f.CallSid)
		}
		cur, err := s.calls.GetByCarrierID(ctx, f.CallSid)
		switch {
		case errors.Is(err, calls.ErrNotFound):
			s.resolveBusiness(ctx, &ev)
		case err != nil:
			return err
		case cur.Direction == calls.DirectionOutbound && cur.MetadataValue(metaOrigin) == originOutbound:
			if !st.IsTerminal() {
				log.Info("agent leg status logged only", "call_id", cur.ID)
				s.recordCallEvent(ctx, cur, f.CallSid, "agent_leg."+string(st), f.Raw)
				return nil
			}
			ev.Status = calls.StatusCanceled
			if cur.Status.IsAnswered() {
				ev.Status = calls.StatusCompleted
			}
			ev.DurationSeconds = nil
		}
	}

	res, err := s.calls.HandleStatusEvent(ctx, ev)
	if errors.Is(err, calls.ErrInvalidArgument) {
		return fmt.Errorf("%w: %v", telephony.ErrMalformedEvent, err)
	}
	if err != nil {
		// Storage failures and pending terminal hooks; the carrier redelivers.
		return err
	}
	if res.Created {
		log.Info("status event created call", "call_id", res.Call.ID, "business_id", res.Call.BusinessID)
	}
	return nil
}

// bindPlacedLeg binds a leg placed through the carrier API when its first status event
// arrives before the placing request stored the carrier id.
func (s *Service) bindPlacedLeg(ctx context.Context, callID, carrierCallID string) {
	rec, err := s.calls.Get(ctx, "", callID)
	if err != nil || rec.CarrierCallID != "" {
		return
	}
	if _, err := s.calls.BindCarrierCallID(ctx, rec.ID, carrierCallID); err != nil && !errors.Is(err, calls.ErrConflict) {
		logger.From(ctx).Warn("placed leg not bound", "call_id", callID, "carrier_call_id", carrierCallID, "err", err)
	}
}

// resolveBusiness fills the business of an unknown call from the number directory:
// the dialed number for inbound calls, the caller id for outbound ones.
func (s *Service) resolveBusiness(ctx context.Context, ev *calls.Event) {
	candidates := []string{ev.To, ev.From}
	if ev.Direction == calls.DirectionOutbound {
		candidates = []string{ev.From, ev.To}
	}
	for _, n := range candidates {
		if n == "" {
			continue
		}
		num, err := s.directory.LookupNumber(ctx, n)
		if errors.Is(err, routing.ErrNumberNotFound) {
			continue
		}
		if err != nil {
			logger.From(ctx).Warn("number lookup failed", "number", n, "err", err)
			return
		}
		ev.BusinessID = num.BusinessID
		if ev.Direction == "" {
			ev.Direction = calls.DirectionInbound
			if n == ev.From {
				ev.Direction = calls.DirectionOutbound
			}
		}
		return
	}
}

func (s *Service) Recording(ctx context.Context, f telephony.RecordingForm) error {
	rec, err := s.calls.AttachRecording(ctx, f.CallSid, f.RecordingURL)
	if errors.Is(err, calls.ErrNotFound) {
		return telephony.ErrUnknownCall
	}
	if err != nil {
		return err
	}
	logger.From(ctx).Info("recording attached", "call_id", rec.ID, "recording_sid", f.RecordingSid)
	return nil
}

// Transcription attaches the voicemail transcript. Failed transcriptions carry no
// text and are dropped.
func (s *Service) Transcription(ctx context.Context, f telephony.TranscriptionForm) error {
	if f.TranscriptionText == "" {
		logger.From(ctx).Info("empty transcription ignored",
			"carrier_call_id", f.CallSid, "transcription_status", f.TranscriptionStatus)
		return nil
	}
	rec, err := s.calls.AttachTranscript(ctx, f.CallSid, f.TranscriptionText)
	if errors.Is(err, calls.ErrNotFound) {
		return telephony.ErrUnknownCall
	}
	if err != nil {
		return err
	}
	logger.From(ctx).Info("transcript attached", "call_id", rec.ID)
	return nil
}
