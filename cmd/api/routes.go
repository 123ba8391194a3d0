package main

import (
	"database/sql"
	"time"

	"call-billing/internal/httpapi"
	"call-billing/internal/rbac"
	"call-billing/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, db *sql.DB, authMW gin.HandlerFunc, h httpapi.Handlers) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", h.Me)

		// CALLS routes
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleConsumer, rbac.RoleProvider, rbac.RoleSuperAdmin))
		{
			calls.POST("/start", h.StartCall)
			calls.GET("/:call_id", h.GetCall)
			calls.POST("/:call_id/heartbeat", h.Heartbeat)
			calls.POST("/:call_id/end", h.EndCall)
		}

		// BALANCE / LEDGER routes
		balances := v1.Group("")
		balances.Use(rbac.RequireAnyRole(rbac.RoleConsumer, rbac.RoleProvider, rbac.RoleSuperAdmin))
		{
			balances.GET("/balances/me", h.GetMyBalance)
			balances.GET("/ledger/me", h.ListMyTransactions)
		}

		// ADMIN routes
		// Hidden support role is explicitly allowed here; nowhere else.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleSupport, rbac.RoleSuperAdmin))
		{
			admin.POST("/billing/sweep", h.AdminSweep)
			admin.POST("/calls/:call_id/bill-minute", h.AdminBillMinute)
			admin.POST("/calls/:call_id/finalize", h.AdminFinalize)
			admin.POST("/balances/:user_id/credit", h.AdminCredit)

			admin.GET("/reports/calls", h.ReportCalls)
			admin.GET("/reports/spend", h.ReportSpend)
		}
	}
}
