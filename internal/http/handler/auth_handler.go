package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainoauth "github.com/darkvelocity/darkvelocity-auth/internal/domain/oauth"
	"github.com/darkvelocity/darkvelocity-auth/internal/http/middleware"
	"github.com/darkvelocity/darkvelocity-auth/internal/service"
	oauthflow "github.com/darkvelocity/darkvelocity-auth/internal/service/auth"
)

// AuthHandler serves the OAuth endpoints.
type AuthHandler struct {
	authSvc   *service.AuthService
	flow      *oauthflow.OAuthService
	discovery *service.DiscoveryService
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(authSvc *service.AuthService, flow *oauthflow.OAuthService, discovery *service.DiscoveryService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, flow: flow, discovery: discovery}
}

// Authorize handles GET /oauth/authorize.
func (h *AuthHandler) Authorize(c *gin.Context) {
	resolved, ok := middleware.OrgFromContext(c)
	if !ok {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}

	redirect, err := h.flow.StartAuthorization(c.Request.Context(), resolved, oauthflow.AuthorizeRequest{
		ClientID:            c.Query("client_id"),
		RedirectURI:         c.Query("redirect_uri"),
		ResponseType:        c.DefaultQuery("response_type", "code"),
		Scope:               c.Query("scope"),
		State:               c.Query("state"),
		Nonce:               c.Query("nonce"),
		CodeChallenge:       c.Query("code_challenge"),
		CodeChallengeMethod: c.Query("code_challenge_method"),
	})
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.Redirect(http.StatusFound, redirect)
}

// Callback handles GET /oauth/callback from the upstream provider.
func (h *AuthHandler) Callback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}

	result, err := h.flow.HandleCallback(c.Request.Context(), state, code)
	if err != nil {
		respondOAuthError(c, err)
		return
	}

	if result.RedirectURI != "" {
		c.Redirect(http.StatusFound, result.RedirectURI)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pending_token": result.PendingToken,
		"organizations": result.Candidates,
	})
}

// PendingOptions handles GET /auth/pending/:token.
func (h *AuthHandler) PendingOptions(c *gin.Context) {
	candidates, err := h.flow.PendingOptions(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organizations": candidates})
}

type selectRequest struct {
	PendingToken string `json:"pending_token" binding:"required"`
	OrgID        int64  `json:"org_id" binding:"required"`
}

// CompleteSelection handles POST /auth/pending/select.
func (h *AuthHandler) CompleteSelection(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}

	redirect, err := h.flow.CompleteSelection(c.Request.Context(), req.PendingToken, req.OrgID)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"redirect_uri": redirect})
}

// Token handles POST /oauth/token.
func (h *AuthHandler) Token(c *gin.Context) {
	resolved, ok := middleware.OrgFromContext(c)
	if !ok {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}

	req := service.TokenRequest{
		GrantType:    c.PostForm("grant_type"),
		Code:         c.PostForm("code"),
		RedirectURI:  c.PostForm("redirect_uri"),
		CodeVerifier: c.PostForm("code_verifier"),
		ClientID:     c.PostForm("client_id"),
		ClientSecret: c.PostForm("client_secret"),
		RefreshToken: c.PostForm("refresh_token"),
		Username:     c.PostForm("username"),
		Password:     c.PostForm("password"),
		Scope:        c.PostForm("scope"),
	}

	pair, err := h.authSvc.Token(c.Request.Context(), resolved, req)
	if err != nil {
		respondOAuthError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, pair)
}

// Introspect handles POST /oauth/introspect.
func (h *AuthHandler) Introspect(c *gin.Context) {
	resolved, ok := middleware.OrgFromContext(c)
	if !ok {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}
	c.JSON(http.StatusOK, h.authSvc.Introspect(c.Request.Context(), resolved, c.PostForm("token")))
}

// Revoke handles POST /oauth/revoke.
func (h *AuthHandler) Revoke(c *gin.Context) {
	raw := c.PostForm("token")
	if raw == "" {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}
	if err := h.authSvc.Revoke(c.Request.Context(), raw, c.PostForm("token_type_hint")); err != nil {
		respondOAuthError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// Userinfo handles GET /oauth/userinfo behind RequireBearer.
func (h *AuthHandler) Userinfo(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"org_id":       claims.OrgID,
		"site_id":      claims.SiteID,
		"email":        claims.Email,
		"name":         claims.Name,
		"roles":        claims.Roles,
		"login_method": claims.LoginMethod,
	})
}

// Discovery handles GET /.well-known/openid-configuration.
func (h *AuthHandler) Discovery(c *gin.Context) {
	resolved, ok := middleware.OrgFromContext(c)
	if !ok {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}
	c.JSON(http.StatusOK, h.discovery.Document(resolved))
}

// JWKS handles GET /.well-known/jwks.json.
func (h *AuthHandler) JWKS(c *gin.Context) {
	resolved, ok := middleware.OrgFromContext(c)
	if !ok {
		respondOAuthError(c, domainoauth.ErrInvalidRequest)
		return
	}

	keySet, err := h.authSvc.JWKS(c.Request.Context(), resolved.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	c.JSON(http.StatusOK, keySet)
}

// respondOAuthError maps service errors onto RFC 6749 error bodies.
func respondOAuthError(c *gin.Context, err error) {
	var oe *service.OAuthError
	if errors.As(err, &oe) {
		c.JSON(oe.Status, oe)
		return
	}

	switch {
	case errors.Is(err, domainoauth.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, domainoauth.ErrInvalidClient):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
	case errors.Is(err, domainoauth.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "state is invalid or expired"})
	case errors.Is(err, domainoauth.ErrInvalidGrant):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant"})
	case errors.Is(err, domainoauth.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "access_denied"})
	case errors.Is(err, domainoauth.ErrInvalidPin):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "access_denied", "error_description": "invalid credentials"})
	case errors.Is(err, domainoauth.ErrPendingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_request", "error_description": "pending login not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
	}
}
