package voice

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"voice-gateway/internal/admission"
	"voice-gateway/internal/calls"
	"voice-gateway/internal/routing"
	"voice-gateway/internal/telephony"
	"voice-gateway/pkg/logger"

	"github.com/google/uuid"
)

const (
	originOutbound = "outbound_api"
	metaAgentID    = "agent_id"
)

// OutboundRequest asks the gateway to start a call to To on behalf of a business.
type OutboundRequest struct {
	BusinessID       string
	From             string
	To               string
	AgentID          string
	EstimatedMinutes int
	// PlaceCall makes the gateway ring the agent's softphone through the carrier API.
	// Otherwise the softphone is expected to connect to the outbound webhook itself.
	PlaceCall bool
}

// OutboundResult carries the admission decision and, when allowed, the created call.
type OutboundResult struct {
	Decision admission.Decision
	Call     *calls.CallRecord
}

// CreateOutbound admits and creates an outbound call.
//
// Order: admission, concurrency slot, agent claim, record, carrier. Everything taken
// before the record exists is given back on failure; after that the terminal transition
// releases it.
func (s *Service) CreateOutbound(ctx context.Context, req OutboundRequest) (OutboundResult, error) {
	if req.BusinessID == "" || req.From == "" || req.To == "" || req.EstimatedMinutes <= 0 {
		return OutboundResult{}, ErrInvalidRequest
	}
	if req.PlaceCall && (req.AgentID == "" || s.carrier == nil) {
		return OutboundResult{}, ErrInvalidRequest
	}
	log := logger.From(ctx).With("business_id", req.BusinessID, "to", req.To)

	num, err := s.directory.LookupNumber(ctx, req.From)
	if errors.Is(err, routing.ErrNumberNotFound) || (err == nil && num.BusinessID != req.BusinessID) {
		return OutboundResult{}, ErrCallerIDNotOwned
	}
	if err != nil {
		return OutboundResult{}, fmt.Errorf("voice: lookup caller id: %w", err)
	}

	dec, err := s.admission.CheckAdmission(ctx, admission.Request{
		BusinessID:       req.BusinessID,
		Direction:        calls.DirectionOutbound,
		EstimatedMinutes: req.EstimatedMinutes,
	})
	if err != nil {
		return OutboundResult{}, err
	}
	if !dec.Allowed {
		log.Info("outbound call denied", "reason", string(dec.Reason))
		return OutboundResult{Decision: dec}, nil
	}

	callID := uuid.NewString()
	meta := map[string]string{metaOrigin: originOutbound}

	var slotKey string
	if s.slots != nil {
		key, ok, err := s.slots.Acquire(ctx, req.BusinessID)
		if err != nil {
			return OutboundResult{}, fmt.Errorf("voice: acquire slot: %w", err)
		}
		if !ok {
			return OutboundResult{}, ErrConcurrencyLimit
		}
		slotKey = key
		meta[metaConcurrencySlot] = key
	}
	undo := func() {
		if slotKey != "" {
			if err := s.slots.Release(ctx, slotKey); err != nil {
				log.Error("slot release failed", "key", slotKey, "err", err)
			}
		}
	}

	if req.AgentID != "" {
		if err := s.router.ClaimAgent(ctx, req.BusinessID, req.AgentID, callID); err != nil {
			undo()
			return OutboundResult{}, err
		}
		meta[metaAgentID] = req.AgentID
		prevUndo := undo
		undo = func() {
			if err := s.router.ReleaseCall(ctx, req.BusinessID, callID); err != nil {
				log.Error("agent release failed", "agent_id", req.AgentID, "err", err)
			}
			prevUndo()
		}
	}

	rec, err := s.calls.Create(ctx, calls.NewCall{
		ID:         callID,
		BusinessID: req.BusinessID,
		Direction:  calls.DirectionOutbound,
		From:       req.From,
		To:         req.To,
		Status:     calls.StatusInitiated,
		AgentID:    req.AgentID,
		Metadata:   meta,
	})
	if err != nil {
		undo()
		return OutboundResult{}, fmt.Errorf("voice: create call: %w", err)
	}

	if req.PlaceCall {
		placed, err := s.carrier.PlaceCall(ctx, telephony.PlaceCallRequest{
			To:                  "client:" + req.AgentID,
			From:                req.From,
			URL:                 s.legURL(telephony.PathOutbound, rec.ID),
			StatusCallback:      s.legURL(telephony.PathStatus, rec.ID),
			StatusCallbackEvent: []string{"initiated", "ringing", "answered", "completed"},
			TimeoutSeconds:      s.cfg.RingTimeoutSeconds,
		})
		if err != nil {
			log.Error("carrier rejected outbound call", "call_id", rec.ID, "err", err)
			// Failing the record runs the terminal hooks, which give back the slot and agent.
			if _, terr := s.calls.Transition(ctx, rec.ID, calls.StatusFailed); terr != nil {
				log.Error("failed call not recorded", "call_id", rec.ID, "err", terr)
			}
			return OutboundResult{Decision: dec}, fmt.Errorf("voice: place call: %w", err)
		}
		rec, err = s.calls.BindCarrierCallID(ctx, rec.ID, placed.CarrierCallID)
		if err != nil {
			return OutboundResult{Decision: dec}, err
		}
	}

	log.Info("outbound call created", "call_id", rec.ID, "agent_id", req.AgentID, "placed", req.PlaceCall)
	return OutboundResult{Decision: dec, Call: &rec}, nil
}

// legURL tags a callback with the internal call id so events that beat the carrier id
// binding can still be correlated.
func (s *Service) legURL(path, callID string) string {
	return s.url(path) + "?call_id=" + url.QueryEscape(callID)
}

// OutboundConnect binds the agent leg to the call created through the API and returns the
// dial document for the customer leg.
func (s *Service) OutboundConnect(ctx context.Context, f telephony.OutboundConnectForm) (*telephony.Document, error) {
	rec, err := s.calls.Get(ctx, "", f.CallID)
	if errors.Is(err, calls.ErrNotFound) {
		return nil, telephony.ErrUnknownCall
	}
	if err != nil {
		return nil, err
	}
	if rec.Direction != calls.DirectionOutbound {
		return nil, telephony.ErrUnknownCall
	}
	log := logger.From(ctx).With("call_id", rec.ID, "carrier_call_id", f.CallSid)

	if rec.Status.IsTerminal() {
		log.Info("outbound connect for ended call")
		return telephony.NewDocument().Hangup(), nil
	}
	if rec.CarrierCallID != f.CallSid {
		bound, err := s.calls.BindCarrierCallID(ctx, rec.ID, f.CallSid)
		if errors.Is(err, calls.ErrConflict) {
			log.Warn("outbound call already bound to another leg", "bound", rec.CarrierCallID)
			return telephony.NewDocument().Hangup(), nil
		}
		if err != nil {
			return nil, err
		}
		rec = bound
	}

	return telephony.NewDocument().DialNumber(rec.To, telephony.DialOptions{
		TimeoutSeconds: s.cfg.RingTimeoutSeconds,
		CallerID:       rec.From,
		Record:         s.cfg.RecordOutbound,
		StatusCallback: s.url(telephony.PathStatus),
	}), nil
}
