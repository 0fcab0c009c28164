package main

import (
	"net/http"

	"call-orchestrator/internal/httpapi"
	"call-orchestrator/internal/orchestrator"
	"call-orchestrator/internal/rbac"
	"call-orchestrator/internal/telephony"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic; handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, engine *orchestrator.Engine) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks (public). The handler acknowledges everything with
	// 200 regardless of outcome; see telephony.WebhookHandler.
	webhook := telephony.WebhookHandler{Router: engine}
	r.POST(telephony.WebhookPath, webhook.Handle)

	v1 := r.Group("/v1")

	// Token issuance is open; everything else requires an access token.
	v1.POST("/auth/login", h.Login)

	v1.Use(authMW)
	v1.Use(rbac.RequireOrg())

	callerRoles := rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAdmin, rbac.RoleAgent)
	adminRoles := rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAdmin)

	callsGroup := v1.Group("/calls", callerRoles)
	{
		callsGroup.POST("", h.InitiateCall)
		callsGroup.POST("/test", h.TestCall)
		callsGroup.GET("/:call_id", h.GetCall)
		callsGroup.PUT("/:call_id/legs", h.UpdateCallLegStatus)
	}

	telephonyGroup := v1.Group("/telephony", adminRoles)
	{
		telephonyGroup.PUT("/config", h.PutTelephonyConfig)
		telephonyGroup.PUT("/sip-endpoints", h.PutSipEndpoint)
	}
}
