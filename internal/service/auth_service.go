package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"

	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
	domainoauth "github.com/darkvelocity/darkvelocity-auth/internal/domain/oauth"
	"github.com/darkvelocity/darkvelocity-auth/internal/ids"
	"github.com/darkvelocity/darkvelocity-auth/internal/jwt"
	"github.com/darkvelocity/darkvelocity-auth/internal/metrics"
	"github.com/darkvelocity/darkvelocity-auth/internal/password"
	"github.com/darkvelocity/darkvelocity-auth/internal/policy"
	"github.com/darkvelocity/darkvelocity-auth/internal/repository"
	"github.com/darkvelocity/darkvelocity-auth/internal/token"
)

// OAuthError is a protocol-level error carried to the HTTP layer.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func oauthErr(code, description string, status int) *OAuthError {
	return &OAuthError{Code: code, Description: description, Status: status}
}

func invalidGrant(description string) *OAuthError {
	return oauthErr("invalid_grant", description, http.StatusBadRequest)
}

// TokenRequest is the parsed body of a token endpoint call.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	ClientID     string
	ClientSecret string
	RefreshToken string
	Username     string
	Password     string
	Scope        string
}

// CodeIssue describes the login a new authorization code binds to.
type CodeIssue struct {
	OrgID               int64
	ClientID            string
	UserID              int64
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	DisplayName         string
	Roles               []string
	LoginMethod         string
	SiteID              int64
	DeviceID            string
}

// IntrospectionResponse mirrors RFC 7662.
type IntrospectionResponse struct {
	Active      bool     `json:"active"`
	Scope       string   `json:"scope,omitempty"`
	ClientID    string   `json:"client_id,omitempty"`
	Subject     string   `json:"sub,omitempty"`
	SessionID   string   `json:"sid,omitempty"`
	OrgID       int64    `json:"org_id,omitempty"`
	SiteID      int64    `json:"site_id,omitempty"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	LoginMethod string   `json:"login_method,omitempty"`
	Expiry      int64    `json:"exp,omitempty"`
	IssuedAt    int64    `json:"iat,omitempty"`
}

// AuthService implements the token endpoint and its supporting operations.
type AuthService struct {
	clients   repository.OAuthClientRepository
	codes     repository.CodeRepository
	users     repository.UserRepository
	sessions  *SessionService
	generator *jwt.Generator
	keys      *jwt.KeyManager
	checker   policy.Checker
	metrics   *metrics.Metrics
	issuer    string
	codeTTL   time.Duration
	codeBytes int
}

// NewAuthService constructs an AuthService.
func NewAuthService(
	clients repository.OAuthClientRepository,
	codes repository.CodeRepository,
	users repository.UserRepository,
	sessions *SessionService,
	generator *jwt.Generator,
	keys *jwt.KeyManager,
	checker policy.Checker,
	m *metrics.Metrics,
	issuer string,
	codeTTL time.Duration,
) *AuthService {
	return &AuthService{
		clients:   clients,
		codes:     codes,
		users:     users,
		sessions:  sessions,
		generator: generator,
		keys:      keys,
		checker:   checker,
		metrics:   m,
		issuer:    issuer,
		codeTTL:   codeTTL,
		codeBytes: 32,
	}
}

// Token dispatches a token endpoint request by grant type.
func (s *AuthService) Token(ctx context.Context, org domain.Org, req TokenRequest) (*TokenPair, error) {
	ctx, span := startSpan(ctx, "auth.token")
	defer span.End()

	pair, err := s.handleGrant(ctx, org, req)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.metrics.TokenGrants.WithLabelValues(req.GrantType, outcome).Inc()
	return pair, err
}

func (s *AuthService) handleGrant(ctx context.Context, org domain.Org, req TokenRequest) (*TokenPair, error) {
	switch req.GrantType {
	case "authorization_code":
		return s.exchangeAuthorizationCode(ctx, org, req)
	case "refresh_token":
		return s.refreshGrant(ctx, req)
	case "client_credentials":
		return s.clientCredentialsGrant(ctx, org, req)
	case "password":
		return s.passwordGrant(ctx, org, req)
	default:
		return nil, oauthErr("unsupported_grant_type", fmt.Sprintf("grant type %q is not supported", req.GrantType), http.StatusBadRequest)
	}
}

// exchangeAuthorizationCode claims the code first and verifies afterwards.
// Claiming up front means any verification failure burns the code: a
// stolen code cannot be retried against a different client or verifier.
func (s *AuthService) exchangeAuthorizationCode(ctx context.Context, org domain.Org, req TokenRequest) (*TokenPair, error) {
	if req.Code == "" {
		return nil, oauthErr("invalid_request", "code is required", http.StatusBadRequest)
	}

	ac, err := s.codes.Claim(ctx, req.Code)
	if err != nil {
		return nil, invalidGrant("authorization code is invalid or expired")
	}
	if ac.OrgID != org.ID || ac.ClientID != req.ClientID {
		audit("code_exchange_rejected",
			zap.Int64("org_id", org.ID),
			zap.String("client_id", req.ClientID),
			zap.String("reason", "client_mismatch"),
		)
		return nil, invalidGrant("authorization code is invalid or expired")
	}
	if ac.RedirectURI != "" && ac.RedirectURI != req.RedirectURI {
		return nil, invalidGrant("redirect_uri does not match the authorization request")
	}
	if err := verifyPKCE(ac.CodeChallenge, ac.CodeChallengeMethod, req.CodeVerifier); err != nil {
		audit("code_exchange_rejected",
			zap.Int64("org_id", org.ID),
			zap.String("client_id", req.ClientID),
			zap.String("reason", "pkce_failed"),
		)
		return nil, err
	}

	client, err := s.clients.GetClientByID(ctx, org.ID, req.ClientID)
	if err != nil {
		return nil, oauthErr("invalid_client", "unknown client", http.StatusUnauthorized)
	}
	if err := authenticateClient(client, req.ClientSecret); err != nil {
		return nil, err
	}
	if !hasGrant(client, "authorization_code") {
		return nil, oauthErr("unauthorized_client", "client may not use authorization_code", http.StatusBadRequest)
	}

	user, err := s.users.GetByID(ctx, ac.OrgID, ac.UserID)
	if err != nil || user.Status != domain.UserStatusActive {
		return nil, invalidGrant("user is not available")
	}

	scope := ac.Scope
	if scope == "" {
		scope = req.Scope
	}
	return s.sessions.Create(ctx, org, user, LoginDetails{
		SiteID:      ac.SiteID,
		DeviceID:    ac.DeviceID,
		ClientID:    ac.ClientID,
		LoginMethod: ac.LoginMethod,
		Scope:       scope,
	})
}

func (s *AuthService) refreshGrant(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	if req.RefreshToken == "" {
		return nil, oauthErr("invalid_request", "refresh_token is required", http.StatusBadRequest)
	}

	pair, err := s.sessions.Refresh(ctx, req.RefreshToken)
	if err != nil {
		if oe, ok := err.(*OAuthError); ok {
			return nil, oe
		}
		if err == domainoauth.ErrInvalidGrant {
			return nil, invalidGrant("refresh token is invalid")
		}
		return nil, err
	}
	return pair, nil
}

// clientCredentialsGrant issues a machine access token. No session or
// refresh token is created; the client re-authenticates when it expires.
func (s *AuthService) clientCredentialsGrant(ctx context.Context, org domain.Org, req TokenRequest) (*TokenPair, error) {
	client, err := s.clients.GetClientByID(ctx, org.ID, req.ClientID)
	if err != nil {
		return nil, oauthErr("invalid_client", "unknown client", http.StatusUnauthorized)
	}
	if client.ClientSecret == "" {
		return nil, oauthErr("invalid_client", "client has no credentials", http.StatusUnauthorized)
	}
	if err := authenticateClient(client, req.ClientSecret); err != nil {
		return nil, err
	}
	if !hasGrant(client, "client_credentials") {
		return nil, oauthErr("unauthorized_client", "client may not use client_credentials", http.StatusBadRequest)
	}

	accessToken, err := s.generator.GenerateAccessToken(ctx, org, client.ClientID, jwt.AccessTokenClaims{
		Scope: req.Scope,
	}, s.issuer)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	audit("client_credentials_granted",
		zap.Int64("org_id", org.ID),
		zap.String("client_id", client.ClientID),
	)
	return &TokenPair{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.generator.AccessTTL().Seconds()),
		Scope:       req.Scope,
	}, nil
}

func (s *AuthService) passwordGrant(ctx context.Context, org domain.Org, req TokenRequest) (*TokenPair, error) {
	if req.Username == "" || req.Password == "" {
		return nil, oauthErr("invalid_request", "username and password are required", http.StatusBadRequest)
	}

	user, err := s.users.GetByEmail(ctx, org.ID, req.Username)
	if err != nil {
		s.metrics.Logins.WithLabelValues(domain.LoginMethodPassword, "failure").Inc()
		return nil, invalidGrant("invalid credentials")
	}
	ok, err := password.Verify(req.Password, user.PasswordHash)
	if err != nil || !ok || user.Status != domain.UserStatusActive {
		s.metrics.Logins.WithLabelValues(domain.LoginMethodPassword, "failure").Inc()
		return nil, invalidGrant("invalid credentials")
	}

	if err := s.checker.Allow(ctx, policy.LoginRequest{
		Org:         org,
		User:        user,
		ClientID:    req.ClientID,
		LoginMethod: domain.LoginMethodPassword,
	}); err != nil {
		s.metrics.Logins.WithLabelValues(domain.LoginMethodPassword, "denied").Inc()
		return nil, oauthErr("access_denied", "login not permitted", http.StatusForbidden)
	}

	pair, err := s.sessions.Create(ctx, org, user, LoginDetails{
		ClientID:    req.ClientID,
		LoginMethod: domain.LoginMethodPassword,
		Scope:       req.Scope,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Logins.WithLabelValues(domain.LoginMethodPassword, "success").Inc()
	return pair, nil
}

// IssueAuthorizationCode mints a short-lived one-time code for a completed
// login.
func (s *AuthService) IssueAuthorizationCode(ctx context.Context, issue CodeIssue) (string, error) {
	ctx, span := startSpan(ctx, "auth.issue_code")
	defer span.End()

	code, err := token.NewOpaque(s.codeBytes)
	if err != nil {
		return "", fmt.Errorf("generate authorization code: %w", err)
	}

	if err := s.codes.Create(ctx, domain.AuthorizationCode{
		ID:                  ids.NewID(),
		OrgID:               issue.OrgID,
		ClientID:            issue.ClientID,
		UserID:              issue.UserID,
		Code:                code,
		RedirectURI:         issue.RedirectURI,
		Scope:               issue.Scope,
		CodeChallenge:       issue.CodeChallenge,
		CodeChallengeMethod: issue.CodeChallengeMethod,
		Nonce:               issue.Nonce,
		DisplayName:         issue.DisplayName,
		Roles:               issue.Roles,
		LoginMethod:         issue.LoginMethod,
		SiteID:              issue.SiteID,
		DeviceID:            issue.DeviceID,
		ExpiresAt:           time.Now().UTC().Add(s.codeTTL),
	}); err != nil {
		return "", fmt.Errorf("persist authorization code: %w", err)
	}
	return code, nil
}

// Introspect reports whether an access token is active, including a live
// session check when the token carries one.
func (s *AuthService) Introspect(ctx context.Context, org domain.Org, rawToken string) IntrospectionResponse {
	std, custom, err := s.generator.ValidateAccessToken(ctx, org.ID, rawToken, s.issuer)
	if err != nil {
		return IntrospectionResponse{Active: false}
	}

	var clientID string
	if custom.SessionID != "" {
		sess, err := s.sessions.Session(ctx, org.ID, custom.SessionID)
		if err != nil || sess.Status != domain.SessionStatusActive {
			return IntrospectionResponse{Active: false}
		}
		clientID = sess.ClientID
	}

	resp := IntrospectionResponse{
		Active:      true,
		Scope:       custom.Scope,
		ClientID:    clientID,
		Subject:     std.Subject,
		SessionID:   custom.SessionID,
		OrgID:       custom.OrgID,
		SiteID:      custom.SiteID,
		Email:       custom.Email,
		Roles:       custom.Roles,
		LoginMethod: custom.LoginMethod,
	}
	if std.Expiry != nil {
		resp.Expiry = std.Expiry.Time().Unix()
	}
	if std.IssuedAt != nil {
		resp.IssuedAt = std.IssuedAt.Time().Unix()
	}
	return resp
}

// Revoke handles RFC 7009 revocation. Refresh tokens revoke their session;
// access tokens are stateless and expire on their own, so revoking one is
// a quiet success.
func (s *AuthService) Revoke(ctx context.Context, rawToken, hint string) error {
	if hint == "access_token" {
		return nil
	}
	return s.sessions.RevokeByRefreshToken(ctx, rawToken)
}

// IsValidRedirectURI checks the redirect target against the client's
// registered list.
func (s *AuthService) IsValidRedirectURI(client domain.OAuthClient, uri string) bool {
	for _, registered := range client.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// Client loads client metadata for the org.
func (s *AuthService) Client(ctx context.Context, orgID int64, clientID string) (domain.OAuthClient, error) {
	return s.clients.GetClientByID(ctx, orgID, clientID)
}

// JWKS returns the org's key set.
func (s *AuthService) JWKS(ctx context.Context, orgID int64) (jose.JSONWebKeySet, error) {
	return s.keys.JWKS(ctx, orgID)
}

// ValidateAccessToken verifies a bearer token for middleware use.
func (s *AuthService) ValidateAccessToken(ctx context.Context, orgID int64, rawToken string) (*jwt.AccessTokenClaims, error) {
	_, custom, err := s.generator.ValidateAccessToken(ctx, orgID, rawToken, s.issuer)
	if err != nil {
		return nil, domainoauth.ErrTokenInvalid
	}
	return custom, nil
}

func verifyPKCE(challenge, method, verifier string) error {
	if challenge == "" {
		return nil
	}
	if verifier == "" {
		return invalidGrant("code_verifier is required")
	}

	switch method {
	case "S256", "":
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
			return invalidGrant("code_verifier does not match the challenge")
		}
	case "plain":
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) != 1 {
			return invalidGrant("code_verifier does not match the challenge")
		}
	default:
		return invalidGrant("unsupported code_challenge_method")
	}
	return nil
}

func authenticateClient(client domain.OAuthClient, secret string) error {
	if client.ClientSecret == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(secret)) != 1 {
		return oauthErr("invalid_client", "client authentication failed", http.StatusUnauthorized)
	}
	return nil
}

func hasGrant(client domain.OAuthClient, grant string) bool {
	if len(client.Grants) == 0 {
		return true
	}
	for _, g := range client.Grants {
		if g == grant {
			return true
		}
	}
	return false
}
