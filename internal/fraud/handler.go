package fraud

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cartvale/fraud-engine/pkg/common"
	"github.com/cartvale/fraud-engine/pkg/middleware"
	"github.com/cartvale/fraud-engine/pkg/pagination"
	"github.com/cartvale/fraud-engine/pkg/validation"
)

// ErrorCodeTransactionBlocked is the stable code returned to callers when
// the gate rejects a transaction. The response never carries the score or
// the triggered rules.
const ErrorCodeTransactionBlocked = "transaction_blocked"

// Handler exposes the fraud engine HTTP API
type Handler struct {
	engine *Engine
	alerts *AlertManager
}

// NewHandler creates a new fraud handler
func NewHandler(engine *Engine, alerts *AlertManager) *Handler {
	return &Handler{engine: engine, alerts: alerts}
}

// RegisterRoutes registers fraud engine routes. rateLimit applies the
// adaptive budget and may be nil when the limiter is disabled.
func (h *Handler) RegisterRoutes(router *gin.Engine, jwtSecret string, rateLimit gin.HandlerFunc) {
	v1 := router.Group("/api/v1/fraud")
	v1.Use(middleware.AuthMiddleware(jwtSecret))
	if rateLimit != nil {
		v1.Use(rateLimit)
	}
	{
		v1.POST("/assess", middleware.RequireRole(middleware.RoleService, middleware.RoleAdmin), h.Assess)
		v1.POST("/gate", middleware.RequireRole(middleware.RoleService, middleware.RoleAdmin), h.Gate)
		v1.POST("/evaluate", middleware.RequireAdmin(), h.Evaluate)
		v1.GET("/assessments/:id", middleware.RequireAdmin(), h.GetAssessment)
		v1.GET("/users/:user_id/score", middleware.RequireRole(middleware.RoleService, middleware.RoleAdmin), h.GetUserScore)
		v1.GET("/users/:user_id/alerts", middleware.RequireAdmin(), h.ListUserAlerts)
		v1.GET("/statistics", middleware.RequireAdmin(), h.GetStatistics)

		rules := v1.Group("/rules", middleware.RequireAdmin())
		{
			rules.GET("", h.ListRules)
			rules.POST("", h.CreateRule)
			rules.GET("/:id", h.GetRule)
			rules.PUT("/:id", h.UpdateRule)
			rules.DELETE("/:id", h.DeleteRule)
		}

		alerts := v1.Group("/alerts", middleware.RequireAdmin())
		{
			alerts.GET("", h.ListAlerts)
			alerts.POST("", h.CreateAlert)
			alerts.GET("/:id", h.GetAlert)
			alerts.PATCH("/:id", h.UpdateAlert)
		}

		v1.GET("/reputation/:kind/:value", middleware.RequireAdmin(), h.CheckReputation)
		v1.POST("/blocklist", middleware.RequireAdmin(), h.AddBlocklistEntry)
		v1.DELETE("/blocklist/:kind/:value", middleware.RequireAdmin(), h.RemoveBlocklistEntry)
	}
}

type assessRequest struct {
	UserID            *uuid.UUID             `json:"user_id"`
	OrderID           *uuid.UUID             `json:"order_id"`
	TransactionID     *uuid.UUID             `json:"transaction_id"`
	Amount            float64                `json:"amount" validate:"gte=0"`
	Currency          string                 `json:"currency" validate:"omitempty,currency"`
	IPAddress         string                 `json:"ip_address" validate:"omitempty,ip"`
	Email             string                 `json:"email" validate:"omitempty,email"`
	DeviceFingerprint string                 `json:"device_fingerprint"`
	SessionID         string                 `json:"session_id"`
	Country           string                 `json:"country" validate:"omitempty,country"`
	AddressMismatch   bool                   `json:"address_mismatch"`
	Metadata          map[string]interface{} `json:"metadata"`
}

func (r *assessRequest) toContext() *FraudContext {
	return &FraudContext{
		UserID:            r.UserID,
		OrderID:           r.OrderID,
		TransactionID:     r.TransactionID,
		Amount:            r.Amount,
		Currency:          r.Currency,
		IPAddress:         r.IPAddress,
		Email:             r.Email,
		DeviceFingerprint: r.DeviceFingerprint,
		SessionID:         r.SessionID,
		Country:           r.Country,
		AddressMismatch:   r.AddressMismatch,
		Metadata:          r.Metadata,
	}
}

// Assess runs a full risk assessment and returns it to the caller.
func (h *Handler) Assess(c *gin.Context) {
	var req assessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	assessment, err := h.engine.AssessRisk(c.Request.Context(), req.toContext())
	if err != nil {
		respondError(c, err)
		return
	}

	common.SuccessResponse(c, assessment)
}

// Gate assesses a transaction and rejects it when the decision is block.
// The rejection carries a stable error code and the assessment id as an
// opaque reference; score and rules stay internal.
func (h *Handler) Gate(c *gin.Context) {
	var req assessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	assessment, err := h.engine.AssessRisk(c.Request.Context(), req.toContext())
	if err != nil {
		respondError(c, err)
		return
	}

	if assessment.Decision == DecisionBlock {
		common.ErrorResponseWithReference(c, http.StatusForbidden,
			ErrorCodeTransactionBlocked,
			"transaction cannot be completed",
			assessment.ID.String(),
		)
		return
	}

	common.SuccessResponse(c, gin.H{
		"allowed":       true,
		"decision":      assessment.Decision,
		"assessment_id": assessment.ID,
	})
}

// Evaluate dry-runs the rule catalog against a context without persisting.
func (h *Handler) Evaluate(c *gin.Context) {
	var req assessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.engine.EvaluateRules(c.Request.Context(), req.toContext())
	if err != nil {
		respondError(c, err)
		return
	}

	common.SuccessResponse(c, gin.H{
		"triggered_rule_ids": result.TriggeredRuleIDs,
		"triggered_weight":   result.TriggeredWeight,
		"skipped_rule_ids":   result.SkippedRuleIDs,
		"degraded":           result.Degraded(),
	})
}

// GetAssessment returns a persisted assessment by id.
func (h *Handler) GetAssessment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid assessment id")
		return
	}

	assessment, err := h.engine.GetAssessment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, assessment)
}

// GetUserScore returns a user's most recent fraud score.
func (h *Handler) GetUserScore(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid user id")
		return
	}

	score, err := h.engine.GetUserFraudScore(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	common.SuccessResponse(c, gin.H{
		"user_id": userID,
		"score":   score,
	})
}

// GetStatistics returns engine activity since a lookback window.
func (h *Handler) GetStatistics(c *gin.Context) {
	hours := 24
	if raw := c.Query("since_hours"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			hours = parsed
		}
	}

	stats, err := h.engine.GetStatistics(c.Request.Context(), time.Now().UTC().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, stats)
}

type ruleRequest struct {
	Name        string     `json:"name" validate:"required"`
	Description string     `json:"description"`
	Type        RuleType   `json:"type" validate:"required,rule_type"`
	Weight      float64    `json:"weight" validate:"gte=0,lte=1"`
	Priority    int        `json:"priority"`
	IsActive    bool       `json:"is_active"`
	Config      RuleConfig `json:"config"`
}

func (r *ruleRequest) toRule() *FraudRule {
	return &FraudRule{
		Name:        r.Name,
		Description: r.Description,
		Type:        r.Type,
		Weight:      r.Weight,
		Priority:    r.Priority,
		IsActive:    r.IsActive,
		Config:      r.Config,
	}
}

// ListRules returns the rule catalog.
func (h *Handler) ListRules(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	rules, err := h.engine.ListRules(c.Request.Context(), activeOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, rules)
}

// CreateRule adds a rule to the catalog.
func (h *Handler) CreateRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	rule, err := h.engine.CreateRule(c.Request.Context(), req.toRule())
	if err != nil {
		respondError(c, err)
		return
	}
	common.CreatedResponse(c, rule)
}

// GetRule returns a single rule.
func (h *Handler) GetRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid rule id")
		return
	}

	rule, err := h.engine.GetRule(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, rule)
}

// UpdateRule replaces a rule's definition.
func (h *Handler) UpdateRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid rule id")
		return
	}

	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	rule, err := h.engine.UpdateRule(c.Request.Context(), id, req.toRule())
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, rule)
}

// DeleteRule removes a rule.
func (h *Handler) DeleteRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid rule id")
		return
	}

	if err := h.engine.DeleteRule(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, gin.H{"deleted": true})
}

type createAlertRequest struct {
	Type        AlertType              `json:"type"`
	Severity    AlertSeverity          `json:"severity" validate:"omitempty,alert_severity"`
	Description string                 `json:"description" validate:"required"`
	UserID      *uuid.UUID             `json:"user_id"`
	OrderID     *uuid.UUID             `json:"order_id"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// ListAlerts returns alerts filtered by status.
func (h *Handler) ListAlerts(c *gin.Context) {
	status := AlertStatus(c.DefaultQuery("status", string(AlertStatusOpen)))
	switch status {
	case AlertStatusOpen, AlertStatusInProgress, AlertStatusResolved, AlertStatusClosed:
	default:
		common.ErrorResponse(c, http.StatusBadRequest, "invalid alert status")
		return
	}

	params := pagination.ParseParams(c)
	alerts, total, err := h.alerts.ListByStatus(c.Request.Context(), status, params.Limit, params.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponseWithMeta(c, alerts, pagination.BuildMeta(params.Limit, params.Offset, total))
}

// CreateAlert raises a manual alert.
func (h *Handler) CreateAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	alert, err := h.alerts.Create(c.Request.Context(), &FraudAlert{
		Type:        req.Type,
		Severity:    req.Severity,
		Description: req.Description,
		UserID:      req.UserID,
		OrderID:     req.OrderID,
		Metadata:    req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	common.CreatedResponse(c, alert)
}

// GetAlert returns a single alert.
func (h *Handler) GetAlert(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid alert id")
		return
	}

	alert, err := h.alerts.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, alert)
}

type updateAlertRequest struct {
	Status     *AlertStatus `json:"status" validate:"omitempty,alert_status"`
	AssignedTo *uuid.UUID   `json:"assigned_to"`
	Resolution *string      `json:"resolution"`
	Notes      *string      `json:"notes"`
}

// UpdateAlert applies a partial update to an alert.
func (h *Handler) UpdateAlert(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid alert id")
		return
	}

	var req updateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	actorID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	alert, err := h.alerts.Update(c.Request.Context(), id, actorID, AlertUpdate{
		Status:     req.Status,
		AssignedTo: req.AssignedTo,
		Resolution: req.Resolution,
		Notes:      req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, alert)
}

// ListUserAlerts returns a user's alerts.
func (h *Handler) ListUserAlerts(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid user id")
		return
	}

	params := pagination.ParseParams(c)
	alerts, total, err := h.alerts.ListByUser(c.Request.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponseWithMeta(c, alerts, pagination.BuildMeta(params.Limit, params.Offset, total))
}

// CheckReputation runs an ad-hoc blocklist/anonymizer lookup.
func (h *Handler) CheckReputation(c *gin.Context) {
	result, err := h.engine.CheckReputation(c.Request.Context(), c.Param("kind"), c.Param("value"))
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, gin.H{
		"blocked":    result.Blocked,
		"anonymized": result.Anonymized,
		"degraded":   result.Degraded,
	})
}

type blocklistRequest struct {
	Kind   string `json:"kind" validate:"required"`
	Value  string `json:"value" validate:"required"`
	Reason string `json:"reason"`
}

// AddBlocklistEntry adds a reputation blocklist entry.
func (h *Handler) AddBlocklistEntry(c *gin.Context) {
	var req blocklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	actorID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.engine.AddBlocklistEntry(c.Request.Context(), req.Kind, req.Value, req.Reason, actorID); err != nil {
		respondError(c, err)
		return
	}
	common.CreatedResponse(c, gin.H{"kind": req.Kind, "value": req.Value})
}

// RemoveBlocklistEntry removes a reputation blocklist entry.
func (h *Handler) RemoveBlocklistEntry(c *gin.Context) {
	if err := h.engine.RemoveBlocklistEntry(c.Request.Context(), c.Param("kind"), c.Param("value")); err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, gin.H{"deleted": true})
}

func respondError(c *gin.Context, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		common.AppErrorResponse(c, appErr)
		return
	}
	common.ErrorResponse(c, http.StatusInternalServerError, "internal server error")
}
