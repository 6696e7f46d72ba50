package httpapi

import (
	"errors"
	"net/http"
	"time"

	"voice-gateway/internal/admission"
	"voice-gateway/internal/billing"
	"voice-gateway/internal/calls"
	"voice-gateway/internal/reporting"
	"voice-gateway/internal/routing"
	"voice-gateway/internal/voice"
	"voice-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

type admissionCheckRequest struct {
	Direction        string `json:"direction" validate:"required,oneof=inbound outbound"`
	EstimatedMinutes int    `json:"estimated_duration_minutes" validate:"required,gte=1,lte=600"`
}

// AdmissionCheck answers whether the caller's business may place or take a call now.
// Denials carry the decision body with 402 or 403.
func (h Handlers) AdmissionCheck(c *gin.Context) {
	businessID, _, _, ok := identity(c)
	if !ok {
		return
	}
	var req admissionCheckRequest
	if !bindJSON(c, &req) {
		return
	}
	dec, err := h.Admission.CheckAdmission(c.Request.Context(), admission.Request{
		BusinessID:       businessID,
		Direction:        calls.Direction(req.Direction),
		EstimatedMinutes: req.EstimatedMinutes,
	})
	if err != nil {
		serviceError(c, err, "admission check failed")
		return
	}
	c.JSON(admissionStatus(dec), dec)
}

type outboundRequest struct {
	From             string `json:"from" validate:"required,e164"`
	To               string `json:"to" validate:"required,e164"`
	AgentID          string `json:"agent_id"`
	EstimatedMinutes int    `json:"estimated_duration_minutes" validate:"required,gte=1,lte=600"`
	PlaceCall        bool   `json:"place_call"`
}

// CreateOutbound admits and creates an outbound call.
func (h Handlers) CreateOutbound(c *gin.Context) {
	businessID, _, _, ok := identity(c)
	if !ok {
		return
	}
	var req outboundRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.Voice.CreateOutbound(c.Request.Context(), voice.OutboundRequest{
		BusinessID:       businessID,
		From:             req.From,
		To:               req.To,
		AgentID:          req.AgentID,
		EstimatedMinutes: req.EstimatedMinutes,
		PlaceCall:        req.PlaceCall,
	})
	switch {
	case errors.Is(err, routing.ErrAgentBusy):
		abort(c, http.StatusConflict, "agent is busy")
		return
	case errors.Is(err, voice.ErrConcurrencyLimit):
		abort(c, http.StatusTooManyRequests, "concurrent call limit reached")
		return
	case errors.Is(err, voice.ErrCallerIDNotOwned):
		abort(c, http.StatusBadRequest, "from is not a number of this business")
		return
	case err != nil:
		if res.Call != nil || res.Decision.Allowed {
			logger.From(c.Request.Context()).Error("outbound call not placed", "err", err)
			abort(c, http.StatusBadGateway, "carrier rejected the call")
			return
		}
		serviceError(c, err, "outbound call failed")
		return
	}
	if !res.Decision.Allowed {
		c.JSON(admissionStatus(res.Decision), gin.H{"decision": res.Decision})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"decision": res.Decision, "call": res.Call})
}

// Deduct settles a finished call against the ledger. Replays return the original charge.
func (h Handlers) Deduct(c *gin.Context) {
	businessID, _, _, ok := identity(c)
	if !ok {
		return
	}
	rec, err := h.Calls.Get(c.Request.Context(), businessID, c.Param("id"))
	if err != nil {
		serviceError(c, err, "call lookup failed")
		return
	}
	res, err := h.Billing.Settle(c.Request.Context(), rec)
	if errors.Is(err, billing.ErrCallNotTerminal) {
		abort(c, http.StatusConflict, "call has not ended")
		return
	}
	if err != nil {
		serviceError(c, err, "deduction failed")
		return
	}
	c.JSON(http.StatusOK, res)
}

type listCallsQuery struct {
	Status    string    `form:"status" validate:"omitempty,oneof=initiated queued ringing in-progress voicemail completed busy failed no-answer canceled"`
	Direction string    `form:"direction" validate:"omitempty,oneof=inbound outbound"`
	AgentID   string    `form:"agent_id"`
	Since     time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit     int       `form:"limit" validate:"omitempty,gte=1,lte=500"`
}

func (h Handlers) ListCalls(c *gin.Context) {
	businessID, _, _, ok := identity(c)
	if !ok {
		return
	}
	var q listCallsQuery
	if !bindQuery(c, &q) {
		return
	}
	if q.Limit == 0 {
		q.Limit = 100
	}
	recs, err := h.Calls.List(c.Request.Context(), calls.ListFilter{
		BusinessID: businessID,
		Status:     calls.Status(q.Status),
		Direction:  calls.Direction(q.Direction),
		AgentID:    q.AgentID,
		Since:      q.Since,
		Limit:      q.Limit,
	})
	if err != nil {
		serviceError(c, err, "call list failed")
		return
	}
	if recs == nil {
		recs = []calls.CallRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": recs})
}

func (h Handlers) GetCall(c *gin.Context) {
	businessID, _, _, ok := identity(c)
	if !ok {
		return
	}
	rec, err := h.Calls.Get(c.Request.Context(), businessID, c.Param("id"))
	if err != nil {
		serviceError(c, err, "call lookup failed")
		return
	}
	c.JSON(http.StatusOK, rec)
}

// CallEvents returns the append-only history of one call.
func (h Handlers) CallEvents(c *gin.Context) {
	businessID, _, _, ok := identity(c)
	if !ok {
		return
	}
	rec, err := h.Calls.Get(c.Request.Context(), businessID, c.Param("id"))
	if err != nil {
		serviceError(c, err, "call lookup failed")
		return
	}
	events, err := h.Audit.CallHistory(c.Request.Context(), rec.ID)
	if err != nil {
		serviceError(c, err, "event lookup failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": rec.ID, "events": events})
}

func (h Handlers) LiveMetrics(c *gin.Context) {
	businessID, _, _, ok := identity(c)
	if !ok {
		return
	}
	m, err := h.Reporting.LiveMetrics(c.Request.Context(), businessID)
	if err != nil {
		serviceError(c, err, "metrics failed")
		return
	}
	c.JSON(http.StatusOK, m)
}

type summaryQuery struct {
	From      time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00" validate:"required"`
	To        time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00" validate:"required,gtfield=From"`
	Direction string    `form:"direction" validate:"omitempty,oneof=inbound outbound"`
}

func (h Handlers) CallsSummary(c *gin.Context) {
	businessID, _, _, ok := identity(c)
	if !ok {
		return
	}
	var q summaryQuery
	if !bindQuery(c, &q) {
		return
	}
	s, err := h.Reporting.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		BusinessID: businessID,
		Range:      reporting.TimeRange{From: q.From, To: q.To},
		Direction:  q.Direction,
	})
	if err != nil {
		serviceError(c, err, "summary failed")
		return
	}
	c.JSON(http.StatusOK, s)
}
