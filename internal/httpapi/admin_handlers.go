package httpapi

import (
	"errors"
	"net/http"

	"voice-gateway/internal/audit"
	"voice-gateway/internal/ledger"
	"voice-gateway/internal/rbac"
	"voice-gateway/internal/routing"
	"voice-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type adminCreditRequest struct {
	// BusinessID may name another tenant only for super_admin.
	BusinessID     string          `json:"business_id"`
	Minutes        decimal.Decimal `json:"minutes"`
	IdempotencyKey string          `json:"idempotency_key" validate:"required,max=128"`
	Note           string          `json:"note" validate:"max=500"`
}

// AdminCredit adds voice credit-minutes to a business and records who did it.
// RBAC: owner, admin or super_admin.
func (h Handlers) AdminCredit(c *gin.Context) {
	businessID, userID, role, ok := identity(c)
	if !ok {
		return
	}
	var req adminCreditRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.BusinessID != "" && req.BusinessID != businessID {
		if !rbac.IsSuperAdmin(role) {
			abort(c, http.StatusForbidden, "forbidden")
			return
		}
		businessID = req.BusinessID
	}
	if !req.Minutes.IsPositive() {
		abort(c, http.StatusBadRequest, "minutes must be positive")
		return
	}

	ctx := c.Request.Context()
	rec, acct, err := h.Ledger.Credit(ctx, ledger.CreditRequest{
		BusinessID:     businessID,
		Minutes:        req.Minutes,
		IdempotencyKey: req.IdempotencyKey,
		Note:           req.Note,
	})
	if err != nil {
		serviceError(c, err, "credit failed")
		return
	}

	if h.Audit != nil {
		err := h.Audit.LogAdminAction(ctx, businessID, userID, role, c.ClientIP(), audit.TypeCreditGranted, req.Note, map[string]string{
			"minutes":         req.Minutes.String(),
			"idempotency_key": req.IdempotencyKey,
			"usage_record_id": rec.ID,
			"balance_after":   acct.VoiceCreditBalance.String(),
		})
		if err != nil {
			logger.From(ctx).Error("credit audit failed", "business_id", businessID, "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"record": rec, "account": acct})
}

type presenceRequest struct {
	Status string `json:"status" validate:"required,oneof=available offline"`
}

// SetPresence is the agent heartbeat. Agents may only change themselves; an agent on a call
// keeps its on-call status until the call releases it.
func (h Handlers) SetPresence(c *gin.Context) {
	businessID, userID, role, ok := identity(c)
	if !ok {
		return
	}
	agentID := c.Param("id")
	if role == rbac.RoleAgent && agentID != userID {
		abort(c, http.StatusForbidden, "forbidden")
		return
	}
	var req presenceRequest
	if !bindJSON(c, &req) {
		return
	}
	a, err := h.Routing.SetPresence(c.Request.Context(), businessID, agentID, routing.AgentStatus(req.Status))
	if errors.Is(err, routing.ErrAgentNotFound) {
		abort(c, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		serviceError(c, err, "presence update failed")
		return
	}
	c.JSON(http.StatusOK, a)
}
