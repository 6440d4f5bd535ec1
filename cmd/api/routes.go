package main

import (
	"net/http"
	"time"

	"telecom-billing/internal/app"
	"telecom-billing/internal/config"
	"telecom-billing/internal/httpapi"
	"telecom-billing/internal/rbac"
	"telecom-billing/internal/telephony"
	"telecom-billing/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app.App, cfg config.Config, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), a.DB, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider webhooks (public, authenticated by signature when a token is set).
	{
		h := telephony.StatusCallbackHandler{
			Ingestor: telephony.NewIngestor(a.Resources, a.Calls),
		}
		if cfg.Twilio.AuthToken != "" {
			h.Verifier = telephony.NewTwilioSignatureVerifier(cfg.Twilio.AuthToken, cfg.Twilio.WebhookBaseURL)
		}
		r.POST("/webhooks/twilio/status", h.HandleStatus)
	}

	h := httpapi.Handlers{
		Resources:   a.Resources,
		Assignments: a.Assignments,
		Generator:   a.Generator,
		Workflow:    a.Workflow,
		Usage:       a.Usage,
		Calls:       a.Calls,
		Reports:     a.Reports,
		Periods:     a.Periods,
	}

	v1 := r.Group("/v1")
	v1.Use(authMW)

	// ADMIN routes: platform staff; each route names the permission it needs.
	admin := v1.Group("/admin")
	{
		admin.POST("/resources", rbac.Require(rbac.PermManageResources), h.CreateResource)
		admin.POST("/resources/:id/maintenance", rbac.Require(rbac.PermManageResources), h.MarkResourceMaintenance)
		admin.POST("/resources/:id/available", rbac.Require(rbac.PermManageResources), h.MarkResourceAvailable)

		admin.POST("/assignments", rbac.Require(rbac.PermManageAssignments), h.LeaseAssignment)
		admin.POST("/assignments/:id/release", rbac.Require(rbac.PermManageAssignments), h.ReleaseAssignment)
		admin.PATCH("/assignments/:id/rate", rbac.Require(rbac.PermManageAssignments), h.RepriceAssignment)

		admin.POST("/invoices/generate", rbac.Require(rbac.PermGenerateInvoices), h.GenerateInvoices)
		admin.POST("/invoices/:id/recompute", rbac.Require(rbac.PermManageInvoices), h.RecomputeInvoice)
		admin.POST("/invoices/:id/status", rbac.Require(rbac.PermManageInvoices), h.TransitionInvoice)
		admin.GET("/invoices", rbac.Require(rbac.PermViewAllInvoices), h.ListInvoices)
		admin.GET("/invoices/:id", rbac.Require(rbac.PermViewAllInvoices), h.GetInvoice)

		admin.POST("/calls", rbac.Require(rbac.PermManageCalls), h.RecordCall)
		admin.PATCH("/calls/:id/duration", rbac.Require(rbac.PermManageCalls), h.CorrectCallDuration)
		admin.DELETE("/calls/:id", rbac.Require(rbac.PermManageCalls), h.DeleteCall)

		admin.GET("/reports", rbac.Require(rbac.PermViewDashboard), h.Dashboard)
		admin.GET("/reports/calls", rbac.Require(rbac.PermViewDashboard), h.CallsReport)
	}

	// COMPANY portal: every read is scoped to the token's company.
	company := v1.Group("/company")
	company.Use(rbac.RequireCompany())
	{
		company.GET("/invoices", rbac.Require(rbac.PermViewOwnInvoices), h.ListCompanyInvoices)
		company.GET("/invoices/:id", rbac.Require(rbac.PermViewOwnInvoices), h.GetCompanyInvoice)
		company.PATCH("/calls/:id/feedback", rbac.Require(rbac.PermEditFeedback), h.UpdateCallFeedback)
		company.GET("/reports/calls", rbac.Require(rbac.PermViewOwnReports), h.CompanyCallsReport)
	}
}
