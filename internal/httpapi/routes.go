package httpapi

import (
	"voice-gateway/internal/rbac"

	"github.com/gin-gonic/gin"
)

// RegisterAuth mounts token issuance. It runs without a bearer token.
func (h Handlers) RegisterAuth(r gin.IRouter) {
	r.POST("/v1/auth/login", h.Login)
}

// Register mounts the internal API on v1. Authentication must already run on v1;
// tenant and role checks are applied here per group.
func (h Handlers) Register(v1 gin.IRouter) {
	staff := rbac.Chain(rbac.Staff...)
	managers := rbac.Chain(rbac.Managers...)

	callsGroup := v1.Group("/calls")
	{
		callsGroup.POST("/admission-check", append(staff, h.AdmissionCheck)...)
		callsGroup.POST("/outbound", append(staff, h.CreateOutbound)...)
		callsGroup.GET("", append(staff, h.ListCalls)...)
		callsGroup.GET("/metrics", append(staff, h.LiveMetrics)...)
		callsGroup.GET("/summary", append(managers, h.CallsSummary)...)
		callsGroup.GET("/:id", append(staff, h.GetCall)...)
		callsGroup.GET("/:id/events", append(staff, h.CallEvents)...)
		callsGroup.POST("/:id/deduct", append(rbac.Chain(rbac.RoleService, rbac.RoleAdmin), h.Deduct)...)
	}

	v1.PUT("/agents/:id/presence", append(staff, h.SetPresence)...)

	admin := v1.Group("/admin")
	admin.Use(managers...)
	{
		admin.POST("/credits", h.AdminCredit)
	}
}
