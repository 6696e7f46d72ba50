// Package voice wires admission, the call lifecycle and routing into the carrier call flows.
//
// Every carrier webhook lands here through telephony.Flows. Decisions are delegated:
// admission decides whether a call may start, routing picks a target and claims agents,
// calls owns status. This package only sequences them and chooses the control document.
package voice

import (
	"context"
	"errors"
	"strings"
	"time"

	"voice-gateway/internal/admission"
	"voice-gateway/internal/audit"
	"voice-gateway/internal/calls"
	"voice-gateway/internal/routing"
	"voice-gateway/internal/telephony"
	"voice-gateway/pkg/logger"
)

// Config holds the carrier-facing knobs of the call flows.
type Config struct {
	// PublicBaseURL is the externally reachable origin used in callback URLs.
	PublicBaseURL string

	RingTimeoutSeconds     int
	InboundEstimateMinutes int
	RecordOutbound         bool

	HoldMusicURL        string
	VoicemailPrompt     string
	VoicemailMaxSeconds int
}

func (c Config) withDefaults() Config {
	out := c
	out.PublicBaseURL = strings.TrimRight(out.PublicBaseURL, "/")
	if out.RingTimeoutSeconds <= 0 {
		out.RingTimeoutSeconds = 30
	}
	if out.InboundEstimateMinutes <= 0 {
		out.InboundEstimateMinutes = 5
	}
	if out.VoicemailPrompt == "" {
		out.VoicemailPrompt = "No one is available to take your call. Please leave a message after the tone."
	}
	if out.VoicemailMaxSeconds <= 0 {
		out.VoicemailMaxSeconds = 120
	}
	return out
}

// Admitter is the admission controller.
type Admitter interface {
	CheckAdmission(ctx context.Context, req admission.Request) (admission.Decision, error)
}

// Router is the inbound routing engine plus agent claims.
type Router interface {
	RouteInbound(ctx context.Context, in routing.InboundInput) (routing.Decision, error)
	QueueFor(ctx context.Context, businessID, queueID string) (routing.Queue, error)
	ClaimAgent(ctx context.Context, businessID, agentID, callID string) error
	ClaimForQueue(ctx context.Context, q routing.Queue, callID string) (string, error)
	ReleaseCall(ctx context.Context, businessID, callID string) error
}

// Recorder appends to the call event log.
type Recorder interface {
	Append(ctx context.Context, e audit.Event) error
	AppendCallEvent(ctx context.Context, businessID, callID, carrierCallID, eventType string, payload map[string]string) error
}

var (
	ErrInvalidRequest   = errors.New("voice: invalid request")
	ErrConcurrencyLimit = errors.New("voice: concurrent call limit reached")
	ErrCallerIDNotOwned = errors.New("voice: caller id is not a number of this business")
)

// Service implements the carrier call flows and the outbound call API.
type Service struct {
	cfg       Config
	admission Admitter
	calls     *calls.Service
	router    Router
	directory routing.Directory
	events    Recorder
	carrier   telephony.Carrier
	slots     SlotLimiter
	clock     func() time.Time
}

var _ telephony.Flows = (*Service)(nil)

func NewService(cfg Config, adm Admitter, callSvc *calls.Service, router Router, directory routing.Directory, events Recorder) *Service {
	return &Service{
		cfg:       cfg.withDefaults(),
		admission: adm,
		calls:     callSvc,
		router:    router,
		directory: directory,
		events:    events,
		clock:     time.Now,
	}
}

// WithCarrier enables placing agent legs through the carrier REST API.
func (s *Service) WithCarrier(c telephony.Carrier) *Service {
	s.carrier = c
	return s
}

// WithSlots caps concurrent outbound calls per business. It registers the
// terminal hook that gives slots back.
func (s *Service) WithSlots(l SlotLimiter) *Service {
	s.slots = l
	if l != nil {
		s.calls.AddTerminalHook("concurrency_slot", SlotReleaseHook(l))
	}
	return s
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) now() time.Time { return s.clock().UTC() }

func (s *Service) url(path string) string {
	return s.cfg.PublicBaseURL + path
}

func (s *Service) recordEvent(ctx context.Context, e audit.Event) {
	if s.events == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if err := s.events.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("call event append failed", "type", e.Type, "carrier_call_id", e.CarrierCallID, "err", err)
	}
}

func (s *Service) recordCallEvent(ctx context.Context, rec calls.CallRecord, carrierCallID, eventType string, payload map[string]string) {
	if s.events == nil {
		return
	}
	if err := s.events.AppendCallEvent(ctx, rec.BusinessID, rec.ID, carrierCallID, eventType, payload); err != nil {
		logger.From(ctx).Warn("call event append failed", "type", eventType, "call_id", rec.ID, "err", err)
	}
}

// carrierDirection maps the carrier's Direction field.
func carrierDirection(raw string) calls.Direction {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "outbound") {
		return calls.DirectionOutbound
	}
	if strings.EqualFold(strings.TrimSpace(raw), "inbound") {
		return calls.DirectionInbound
	}
	return ""
}
