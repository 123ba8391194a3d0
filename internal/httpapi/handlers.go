package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"call-billing/internal/audit"
	"call-billing/internal/auth"
	"call-billing/internal/billing"
	"call-billing/internal/ledger"
	"call-billing/internal/rbac"
	"call-billing/internal/reporting"
	"call-billing/internal/session"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth     *auth.Manager
	Sessions *session.Service
	Engine   *billing.Engine
	Ledger   *ledger.Service
	Reports  *reporting.Service
	Audit    *audit.Service
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
}

// --- Calls ---

type startCallRequest struct {
	ProviderID    string `json:"provider_id"`
	RatePerMinute int64  `json:"rate_per_minute"`
	Channel       string `json:"channel"`
}

// StartCall begins a metered session. The authenticated user is the payer.
func (h Handlers) StartCall(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	out, err := h.Sessions.Start(c.Request.Context(), session.StartRequest{
		ConsumerID:    userID,
		ProviderID:    req.ProviderID,
		RatePerMinute: req.RatePerMinute,
		Channel:       req.Channel,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidArgument):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrInsufficientBalance):
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call start failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, out)
}

// EndCall finishes a session normally. Idempotent.
func (h Handlers) EndCall(c *gin.Context) {
	callID := c.Param("call_id")
	out, err := h.Sessions.End(c.Request.Context(), callID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidArgument):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call end failed"})
		}
		return
	}
	c.JSON(http.StatusOK, out)
}

// Heartbeat records liveness for an active call. A heartbeat against an ended
// call reports 410 so the client stops sending.
func (h Handlers) Heartbeat(c *gin.Context) {
	callID := c.Param("call_id")
	ok, err := h.Engine.RecordHeartbeat(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "heartbeat failed"})
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusGone, gin.H{"error": "call is not active"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetCall returns a single call. Restricted to participants unless the
// caller holds an elevated role.
func (h Handlers) GetCall(c *gin.Context) {
	callID := c.Param("call_id")
	out, err := h.Engine.GetCall(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, billing.ErrCallNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}

	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	if out.ConsumerID != userID && out.ProviderID != userID &&
		!rbac.IsSuperAdmin(role) && !rbac.IsHiddenRole(role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Balances / ledger ---

func (h Handlers) GetMyBalance(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	bal, err := h.Ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			// No balance row yet reads as zero, not as an error.
			c.JSON(http.StatusOK, ledger.Balance{UserID: userID})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h Handlers) ListMyTransactions(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.Ledger.ListTransactions(c.Request.Context(), userID, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger lookup failed"})
		return
	}
	if entries == nil {
		entries = []ledger.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": entries})
}

// --- Admin ---

// AdminSweep runs one billing sweep pass immediately.
func (h Handlers) AdminSweep(c *gin.Context) {
	summary, err := h.Engine.ProcessActiveCalls(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

type billMinuteRequest struct {
	MinuteNumber int `json:"minute_number"`
}

// AdminBillMinute settles one explicit minute of a call.
func (h Handlers) AdminBillMinute(c *gin.Context) {
	callID := c.Param("call_id")
	var req billMinuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res, err := h.Engine.BillCallMinute(c.Request.Context(), callID, req.MinuteNumber)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidArgument):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, billing.ErrMinuteOutOfOrder):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "billing failed"})
		}
		return
	}
	if res.Outcome == billing.OutcomeNotFound {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// AdminFinalize bills the trailing partial minute of a call without ending it.
func (h Handlers) AdminFinalize(c *gin.Context) {
	callID := c.Param("call_id")
	res, err := h.Engine.FinalizePartialMinute(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "finalize failed"})
		return
	}
	if res.Outcome == billing.OutcomeNotFound {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, res)
}

type adminCreditRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

// AdminCredit performs an operator credit to a user balance.
// RBAC: support or super_admin.
func (h Handlers) AdminCredit(c *gin.Context) {
	targetUserID := c.Param("user_id")
	adminUserID, _ := auth.UserID(c.Request.Context())
	adminRole, _ := auth.Role(c.Request.Context())

	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	txn, bal, err := h.Ledger.ManualCredit(c.Request.Context(), targetUserID, ledger.CreditRequest{
		AmountMinor:    req.AmountMinor,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "credit failed"})
		return
	}

	if h.Audit != nil {
		_ = h.Audit.LogManualCredit(c.Request.Context(), adminUserID, adminRole, c.ClientIP(), targetUserID, req.AmountMinor, req.IdempotencyKey)
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn, "balance": bal})
}

// --- Reports ---

func (h Handlers) ReportCalls(c *gin.Context) {
	rng, err := parseRange(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range:   rng,
		Channel: c.Query("channel"),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) ReportSpend(c *gin.Context) {
	rng, err := parseRange(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Reports.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{
		Range:  rng,
		UserID: c.Query("user_id"),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func parseRange(c *gin.Context) (reporting.TimeRange, error) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		return reporting.TimeRange{}, errors.New("from must be RFC3339")
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		return reporting.TimeRange{}, errors.New("to must be RFC3339")
	}
	return reporting.TimeRange{From: from, To: to}, nil
}
