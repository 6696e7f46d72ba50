package httpapi

import (
	"errors"
	"net/http"
	"time"

	"voice-gateway/internal/admission"
	"voice-gateway/internal/audit"
	"voice-gateway/internal/auth"
	"voice-gateway/internal/billing"
	"voice-gateway/internal/calls"
	"voice-gateway/internal/ledger"
	"voice-gateway/internal/reporting"
	"voice-gateway/internal/routing"
	"voice-gateway/internal/voice"
	"voice-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Admission *admission.Controller
	Voice     *voice.Service
	Calls     *calls.Service
	Billing   *billing.Service
	Ledger    *ledger.Service
	Audit     *audit.Service
	Reporting *reporting.Service
	Routing   *routing.Engine

	// Now defaults to time.Now.
	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// identity reads the caller scope set by the auth middleware.
func identity(c *gin.Context) (businessID, userID, role string, ok bool) {
	ctx := c.Request.Context()
	businessID, err := auth.BusinessID(ctx)
	if err != nil {
		abort(c, http.StatusUnauthorized, "business_id required")
		return "", "", "", false
	}
	userID, _ = auth.UserID(ctx)
	role, _ = auth.Role(ctx)
	return businessID, userID, role, true
}

// --- Auth ---

type loginRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	BusinessID string `json:"business_id" validate:"required"`
	Role       string `json:"role" validate:"required"`
}

// Login issues a JWT token pair.
//
// Credential checks belong to the identity provider in front of the gateway.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		abort(c, http.StatusInternalServerError, "auth not configured")
		return
	}
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), req.UserID, req.BusinessID, req.Role)
	if err != nil {
		abort(c, http.StatusInternalServerError, "token issuance failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// admissionStatus maps a denial to its HTTP status.
func admissionStatus(d admission.Decision) int {
	switch d.Reason {
	case admission.ReasonInsufficientCredits:
		return http.StatusPaymentRequired
	case admission.ReasonAccountFrozen, admission.ReasonTierRestriction:
		return http.StatusForbidden
	default:
		return http.StatusOK
	}
}

// serviceError maps domain errors that several handlers share.
func serviceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, admission.ErrUnknownBusiness), errors.Is(err, ledger.ErrAccountNotFound):
		abort(c, http.StatusNotFound, "business not found")
	case errors.Is(err, admission.ErrInactiveBusiness):
		abort(c, http.StatusForbidden, "business is not active")
	case errors.Is(err, admission.ErrInvalidRequest),
		errors.Is(err, ledger.ErrInvalidArgument),
		errors.Is(err, calls.ErrInvalidArgument),
		errors.Is(err, reporting.ErrInvalidRequest),
		errors.Is(err, routing.ErrInvalidArgument),
		errors.Is(err, voice.ErrInvalidRequest):
		abort(c, http.StatusBadRequest, "invalid request")
	case errors.Is(err, calls.ErrNotFound):
		abort(c, http.StatusNotFound, "call not found")
	case errors.Is(err, routing.ErrAgentNotFound):
		abort(c, http.StatusNotFound, "agent not found")
	default:
		logger.From(c.Request.Context()).Error(fallback, "err", err)
		abort(c, http.StatusInternalServerError, fallback)
	}
}
