package httpapi

import (
	"errors"
	"net/http"
	"time"

	"call-orchestrator/internal/auth"
	"call-orchestrator/internal/calls"
	"call-orchestrator/internal/cascade"
	"call-orchestrator/internal/guard"
	"call-orchestrator/internal/orchestrator"
	"call-orchestrator/internal/secrets"
	"call-orchestrator/internal/telephony"
	"call-orchestrator/internal/tenant"
	"call-orchestrator/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Engine    *orchestrator.Engine
	Tenants   tenant.Repository
	Secrets   *secrets.Box
	Guard     guard.Locker
	Callbacks telephony.CallbackResolver
}

func abortError(c *gin.Context, err error) {
	if errors.Is(err, calls.ErrNotFound) || errors.Is(err, tenant.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	body := gin.H{"error": "request failed"}
	status := http.StatusInternalServerError
	switch code := orchestrator.CodeOf(err); code {
	case orchestrator.CodeConfiguration:
		status = http.StatusUnprocessableEntity
		body = gin.H{"error": err.Error(), "code": code}
	case orchestrator.CodeProvider:
		status = http.StatusBadGateway
		body = gin.H{"error": "telephony provider error", "code": code}
	case orchestrator.CodeSipCredentials:
		status = http.StatusConflict
		body = gin.H{"error": "sip credentials must be re-entered", "code": code}
	case orchestrator.CodeDataIntegrity:
		body = gin.H{"error": "inconsistent call state", "code": code}
	}
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
	}
	c.AbortWithStatusJSON(status, body)
}

func orgFrom(c *gin.Context) (string, bool) {
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
		return "", false
	}
	return orgID, true
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"organization_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: credential validation lives with the CRM; this endpoint trusts the
// upstream gateway and only mints tokens for service-to-service use.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.OrgID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, organization_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.OrgID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type initiateCallRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	LeadID string `json:"lead_id"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	orgID, ok := orgFrom(c)
	if !ok {
		return
	}
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.From == "" || req.To == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to required"})
		return
	}

	detail, err := h.Engine.InitiateCallWithCascade(c.Request.Context(), orchestrator.InitiateCallParams{
		OrgID:  orgID,
		From:   req.From,
		To:     req.To,
		LeadID: req.LeadID,
	})
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, detail)
}

// TestCall places a call to verify the org's cascade configuration. At most
// one test call per org may be initiated at a time; the lock is released on
// every exit, with the guard TTL as the crash safety valve.
func (h Handlers) TestCall(c *gin.Context) {
	orgID, ok := orgFrom(c)
	if !ok {
		return
	}
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.From == "" || req.To == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to required"})
		return
	}

	release, acquired, err := h.Guard.Acquire(c.Request.Context(), orgID)
	if err != nil {
		abortError(c, err)
		return
	}
	if !acquired {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error": "a test call is already in progress for this organization",
			"code":  "test_call_in_progress",
		})
		return
	}

	defer release()

	detail, err := h.Engine.InitiateCallWithCascade(c.Request.Context(), orchestrator.InitiateCallParams{
		OrgID: orgID,
		From:  req.From,
		To:    req.To,
	})
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, detail)
}

func (h Handlers) GetCall(c *gin.Context) {
	orgID, ok := orgFrom(c)
	if !ok {
		return
	}
	detail, err := h.Engine.GetCall(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		abortError(c, err)
		return
	}
	// Cross-tenant reads look like missing rows, never like forbidden ones.
	if detail.Call.OrgID != orgID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, detail)
}

type updateLegStatusRequest struct {
	Destination string `json:"destination"`
	Status      string `json:"status"`
}

func (h Handlers) UpdateCallLegStatus(c *gin.Context) {
	orgID, ok := orgFrom(c)
	if !ok {
		return
	}
	var req updateLegStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	status := calls.LegStatus(req.Status)
	switch status {
	case calls.LegStatusAnswered, calls.LegStatusBusy, calls.LegStatusTimeout,
		calls.LegStatusFailed, calls.LegStatusCompleted:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unsupported status"})
		return
	}

	callID := c.Param("call_id")
	detail, err := h.Engine.GetCall(c.Request.Context(), callID)
	if err != nil {
		abortError(c, err)
		return
	}
	if detail.Call.OrgID != orgID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	leg, err := h.Engine.UpdateCallLegStatus(c.Request.Context(), callID, req.Destination, status)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, leg)
}

// --- Telephony configuration ---

type telephonyConfigRequest struct {
	WebhookURL     string `json:"webhook_url"`
	FallbackNumber string `json:"fallback_number"`
	ConnectionID   string `json:"connection_id"`
}

// PutTelephonyConfig stores the org's telephony configuration. A webhook URL
// the provider cannot plausibly reach is replaced by the canonical one; the
// response carries the URL actually in effect plus a warning flag.
func (h Handlers) PutTelephonyConfig(c *gin.Context) {
	orgID, ok := orgFrom(c)
	if !ok {
		return
	}
	var req telephonyConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ConnectionID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "connection_id required"})
		return
	}
	if req.FallbackNumber != "" && !cascade.IsE164(req.FallbackNumber) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "fallback_number must be E.164"})
		return
	}

	resolved, warned := h.Callbacks.Resolve(req.WebhookURL)
	webhookURL := req.WebhookURL
	if warned || webhookURL == "" {
		webhookURL = tenant.WebhookURLAuto
	}

	cfg := tenant.TelephonyConfig{
		OrgID:          orgID,
		WebhookURL:     webhookURL,
		FallbackNumber: req.FallbackNumber,
		ConnectionID:   req.ConnectionID,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := h.Tenants.SaveTelephonyConfig(c.Request.Context(), cfg); err != nil {
		abortError(c, err)
		return
	}

	resp := gin.H{"config": cfg, "effective_webhook_url": resolved}
	if warned {
		resp["warning"] = "configured webhook_url is not reachable by the provider; the canonical url is used instead"
	}
	c.JSON(http.StatusOK, resp)
}

type sipEndpointRequest struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Domain      string `json:"domain"`
	Priority    int    `json:"priority"`
	TimeoutSecs int    `json:"timeout_secs"`
	Active      *bool  `json:"active"`
}

// PutSipEndpoint creates or updates a SIP endpoint. The password is
// encrypted before it touches storage; on update an omitted password keeps
// the stored one.
func (h Handlers) PutSipEndpoint(c *gin.Context) {
	orgID, ok := orgFrom(c)
	if !ok {
		return
	}
	var req sipEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Username == "" || req.Domain == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "username and domain required"})
		return
	}

	now := time.Now().UTC()
	ep := tenant.SipEndpoint{
		ID:          req.ID,
		OrgID:       orgID,
		Username:    req.Username,
		Domain:      req.Domain,
		Priority:    req.Priority,
		TimeoutSecs: req.TimeoutSecs,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Active != nil {
		ep.Active = *req.Active
	}

	if req.ID != "" {
		existing, err := h.Tenants.GetSipEndpoint(c.Request.Context(), req.ID)
		if err != nil {
			abortError(c, err)
			return
		}
		if existing.OrgID != orgID {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		ep.EncryptedPassword = existing.EncryptedPassword
		ep.CreatedAt = existing.CreatedAt
	} else {
		ep.ID = uuid.NewString()
		if req.Password == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "password required for a new endpoint"})
			return
		}
	}

	if req.Password != "" {
		enc, err := h.Secrets.Encrypt(req.Password)
		if err != nil {
			abortError(c, err)
			return
		}
		ep.EncryptedPassword = enc
	}

	if err := h.Tenants.UpsertSipEndpoint(c.Request.Context(), ep); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, ep)
}
