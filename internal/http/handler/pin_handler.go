package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	domainoauth "github.com/darkvelocity/darkvelocity-auth/internal/domain/oauth"
	"github.com/darkvelocity/darkvelocity-auth/internal/http/middleware"
	"github.com/darkvelocity/darkvelocity-auth/internal/service"
	pinflow "github.com/darkvelocity/darkvelocity-auth/internal/service/pin"
)

// PinHandler serves terminal login endpoints.
type PinHandler struct {
	pinSvc   *pinflow.Service
	sessions *service.SessionService
}

// NewPinHandler constructs a PinHandler.
func NewPinHandler(pinSvc *pinflow.Service, sessions *service.SessionService) *PinHandler {
	return &PinHandler{pinSvc: pinSvc, sessions: sessions}
}

type pinLoginRequest struct {
	OrgID    int64  `json:"org_id"`
	SiteID   int64  `json:"site_id" binding:"required"`
	DeviceID string `json:"device_id" binding:"required"`
	Pin      string `json:"pin" binding:"required"`
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
}

// Login handles POST /auth/pin.
func (h *PinHandler) Login(c *gin.Context) {
	resolved, ok := middleware.OrgFromContext(c)
	if !ok {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}

	var req pinLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}

	pair, err := h.pinSvc.Login(c.Request.Context(), resolved, pinflow.LoginRequest{
		OrgID:    req.OrgID,
		SiteID:   req.SiteID,
		DeviceID: req.DeviceID,
		Pin:      req.Pin,
		ClientID: req.ClientID,
		Scope:    req.Scope,
	})
	if err != nil {
		respondOAuthError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, pair)
}

type pinUsersRequest struct {
	OrgID               int64  `json:"org_id"`
	SiteID              int64  `json:"site_id" binding:"required"`
	DeviceID            string `json:"device_id" binding:"required"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
}

// Users handles POST /auth/pin/users: the code-flow variant's first step.
func (h *PinHandler) Users(c *gin.Context) {
	resolved, ok := middleware.OrgFromContext(c)
	if !ok {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}

	var req pinUsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}

	pendingToken, users, err := h.pinSvc.StartAuthorization(c.Request.Context(), resolved, pinflow.LoginRequest{
		OrgID:    req.OrgID,
		SiteID:   req.SiteID,
		DeviceID: req.DeviceID,
		ClientID: req.ClientID,
		Scope:    req.Scope,
	}, req.RedirectURI, req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		respondOAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pending_token": pendingToken,
		"users":         users,
	})
}

type pinVerifyRequest struct {
	PendingToken string `json:"pending_token" binding:"required"`
	UserID       int64  `json:"user_id" binding:"required"`
	Pin          string `json:"pin" binding:"required"`
}

// Verify handles POST /auth/pin/verify: the code-flow variant's second step.
func (h *PinHandler) Verify(c *gin.Context) {
	var req pinVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}

	code, err := h.pinSvc.VerifyPin(c.Request.Context(), req.PendingToken, req.UserID, req.Pin)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh handles POST /auth/refresh.
func (h *PinHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}

	pair, err := h.sessions.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondOAuthError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, pair)
}

type deviceAuthorizeRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	SiteID   int64  `json:"site_id" binding:"required"`
}

// AuthorizeDevice handles POST /auth/devices/authorize behind RequireBearer.
func (h *PinHandler) AuthorizeDevice(c *gin.Context) {
	resolved, ok := middleware.OrgFromContext(c)
	if !ok {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}

	var req deviceAuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}

	if err := h.pinSvc.AuthorizeDevice(c.Request.Context(), resolved, req.DeviceID, req.SiteID); err != nil {
		respondOAuthError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type deviceStatusRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	Status   string `json:"status" binding:"required"`
}

// SetDeviceStatus handles POST /auth/devices/status behind RequireBearer.
func (h *PinHandler) SetDeviceStatus(c *gin.Context) {
	resolved, ok := middleware.OrgFromContext(c)
	if !ok {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}

	var req deviceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}

	if err := h.pinSvc.SetDeviceStatus(c.Request.Context(), resolved, req.DeviceID, req.Status); err != nil {
		respondOAuthError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Logout handles POST /auth/logout behind RequireBearer.
func (h *PinHandler) Logout(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok || claims.SessionID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}

	if err := h.pinSvc.Logout(c.Request.Context(), claims.OrgID, claims.SessionID); err != nil {
		respondOAuthError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
