package main

import (
	"onboarding-calls/internal/httpapi"
	"onboarding-calls/internal/rbac"
	"onboarding-calls/internal/webhook"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	handlers      httpapi.Handlers
	webhook       *webhook.Handler
	webhookSecret string
	limiter       *webhook.IPRateLimiter
	authMW        gin.HandlerFunc
	refresh       gin.HandlerFunc
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.handlers

	// public
	r.GET("/healthz", h.Healthz)

	// Provider callbacks (public, optional shared secret).
	webhook.Register(r, d.webhook, d.webhookSecret, d.limiter)

	// Token refresh authenticates with the refresh token itself.
	r.POST("/v1/auth/refresh", d.refresh)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.authMW)
	{
		callsGroup := v1.Group("/calls")
		{
			callsGroup.POST("/trigger", rbac.CanTrigger(), h.TriggerCall)
			callsGroup.GET("", rbac.CanRead(), h.ListCalls)
			callsGroup.GET("/:id", rbac.CanRead(), h.GetCall)
			callsGroup.GET("/:id/events", rbac.CanRead(), h.CallEvents)
		}

		v1.GET("/riders/pending", rbac.CanRead(), h.PendingRiders)
		v1.POST("/imports", rbac.CanTrigger(), h.Import)
		v1.GET("/reports/calls-summary", rbac.CanRead(), h.CallsSummary)
	}
}
