// Package auth implements the browser-facing OAuth login flow: the
// authorize redirect to the upstream identity provider, the CSRF-checked
// callback, and org selection when an email is known to several orgs.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	provider "github.com/darkvelocity/darkvelocity-auth/internal/adapter/oauth"
	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
	domainoauth "github.com/darkvelocity/darkvelocity-auth/internal/domain/oauth"
	"github.com/darkvelocity/darkvelocity-auth/internal/identity"
	"github.com/darkvelocity/darkvelocity-auth/internal/metrics"
	"github.com/darkvelocity/darkvelocity-auth/internal/policy"
	"github.com/darkvelocity/darkvelocity-auth/internal/repository"
	"github.com/darkvelocity/darkvelocity-auth/internal/service"
	"github.com/darkvelocity/darkvelocity-auth/internal/token"
)

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("oauth-flow").Start(ctx, name)
}

// AuthorizeRequest is the parsed query of an authorize call.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// CallbackResult is the outcome of a provider callback: either a final
// redirect back to the client, or a pending selection when the email
// matches several orgs.
type CallbackResult struct {
	RedirectURI  string
	PendingToken string
	Candidates   []domainoauth.OrgCandidate
}

// OAuthService drives the interactive login flow.
type OAuthService struct {
	states     repository.CsrfStateStore
	pending    repository.PendingStore
	provider   provider.ProviderClient
	resolver   *identity.Resolver
	authSvc    *service.AuthService
	sessions   *service.SessionService
	orgs       repository.OrgRepository
	users      repository.UserRepository
	checker    policy.Checker
	metrics    *metrics.Metrics
	callback   string
	stateTTL   time.Duration
	pendingTTL time.Duration
}

// NewOAuthService constructs an OAuthService. callbackURL is this
// service's own redirect target registered with the upstream provider.
func NewOAuthService(
	states repository.CsrfStateStore,
	pending repository.PendingStore,
	providerClient provider.ProviderClient,
	resolver *identity.Resolver,
	authSvc *service.AuthService,
	sessions *service.SessionService,
	orgs repository.OrgRepository,
	users repository.UserRepository,
	checker policy.Checker,
	m *metrics.Metrics,
	callbackURL string,
	stateTTL, pendingTTL time.Duration,
) *OAuthService {
	return &OAuthService{
		states:     states,
		pending:    pending,
		provider:   providerClient,
		resolver:   resolver,
		authSvc:    authSvc,
		sessions:   sessions,
		orgs:       orgs,
		users:      users,
		checker:    checker,
		metrics:    m,
		callback:   callbackURL,
		stateTTL:   stateTTL,
		pendingTTL: pendingTTL,
	}
}

// StartAuthorization validates the client request, parks the flow state
// under a fresh CSRF token, and returns the upstream authorize URL.
func (s *OAuthService) StartAuthorization(ctx context.Context, org domain.Org, req AuthorizeRequest) (string, error) {
	ctx, span := startSpan(ctx, "oauth.start_authorization")
	defer span.End()

	if req.ResponseType != "code" && req.ResponseType != "token" {
		return "", domainoauth.ErrInvalidRequest
	}
	client, err := s.authSvc.Client(ctx, org.ID, req.ClientID)
	if err != nil {
		return "", domainoauth.ErrInvalidClient
	}
	if !s.authSvc.IsValidRedirectURI(client, req.RedirectURI) {
		return "", domainoauth.ErrInvalidRequest
	}

	stateToken, err := token.NewOpaque(32)
	if err != nil {
		return "", fmt.Errorf("generate state token: %w", err)
	}
	verifier, err := token.NewOpaque(32)
	if err != nil {
		return "", fmt.Errorf("generate code verifier: %w", err)
	}

	state := domainoauth.AuthState{
		OrgID:               org.ID,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		ResponseType:        req.ResponseType,
		Scope:               req.Scope,
		ClientState:         req.State,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		CodeVerifier:        verifier,
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.states.Save(ctx, stateToken, state, s.stateTTL); err != nil {
		return "", fmt.Errorf("save flow state: %w", err)
	}

	return s.provider.AuthorizationURL(stateToken, s.callback, pkceChallenge(verifier)), nil
}

// HandleCallback consumes the CSRF state exactly once, verifies the
// identity with the upstream provider, and resolves the email to orgs.
// Every state failure collapses to ErrInvalidState so the response does
// not reveal whether a token existed, expired, or was replayed.
func (s *OAuthService) HandleCallback(ctx context.Context, stateToken, upstreamCode string) (*CallbackResult, error) {
	ctx, span := startSpan(ctx, "oauth.handle_callback")
	defer span.End()

	state, err := s.states.Consume(ctx, stateToken)
	if err != nil {
		switch {
		case errors.Is(err, domainoauth.ErrStateConsumed):
			zap.L().Warn("oauth state replayed")
		case errors.Is(err, domainoauth.ErrStateExpired):
			zap.L().Warn("oauth state expired")
		}
		return nil, domainoauth.ErrInvalidState
	}

	tokens, err := s.provider.ExchangeCode(ctx, upstreamCode, s.callback, state.CodeVerifier)
	if err != nil {
		return nil, fmt.Errorf("exchange upstream code: %w", err)
	}
	providerIdentity, err := s.provider.FetchIdentity(ctx, tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("fetch upstream identity: %w", err)
	}
	if providerIdentity.Email == "" || !providerIdentity.EmailVerified {
		s.metrics.Logins.WithLabelValues(domain.LoginMethodOAuth, "failure").Inc()
		return nil, domainoauth.ErrAccessDenied
	}

	candidates, err := s.resolver.Resolve(ctx, providerIdentity.Email)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	switch len(candidates) {
	case 0:
		s.metrics.Logins.WithLabelValues(domain.LoginMethodOAuth, "failure").Inc()
		return nil, domainoauth.ErrAccessDenied
	case 1:
		redirect, err := s.finishLogin(ctx, *state, candidates[0], providerIdentity.Name)
		if err != nil {
			return nil, err
		}
		return &CallbackResult{RedirectURI: redirect}, nil
	}

	pendingToken, err := token.NewOpaque(32)
	if err != nil {
		return nil, fmt.Errorf("generate pending token: %w", err)
	}
	record := domainoauth.PendingLogin{
		Email:      identity.Normalize(providerIdentity.Email),
		Name:       providerIdentity.Name,
		Candidates: candidates,
		Flow:       *state,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.pending.Set(ctx, pendingToken, record, s.pendingTTL); err != nil {
		return nil, fmt.Errorf("save pending login: %w", err)
	}

	return &CallbackResult{PendingToken: pendingToken, Candidates: candidates}, nil
}

// PendingOptions lists the org choices behind a pending token.
func (s *OAuthService) PendingOptions(ctx context.Context, pendingToken string) ([]domainoauth.OrgCandidate, error) {
	var record domainoauth.PendingLogin
	if err := s.pending.Get(ctx, pendingToken, &record); err != nil {
		return nil, err
	}
	return record.Candidates, nil
}

// CompleteSelection finishes a multi-org login once the user has picked an
// org. The pending record is removed before issuing anything so the token
// cannot complete twice.
func (s *OAuthService) CompleteSelection(ctx context.Context, pendingToken string, orgID int64) (string, error) {
	ctx, span := startSpan(ctx, "oauth.complete_selection")
	defer span.End()

	var record domainoauth.PendingLogin
	if err := s.pending.Get(ctx, pendingToken, &record); err != nil {
		return "", err
	}

	var chosen *domainoauth.OrgCandidate
	for i := range record.Candidates {
		if record.Candidates[i].OrgID == orgID {
			chosen = &record.Candidates[i]
			break
		}
	}
	if chosen == nil {
		return "", domainoauth.ErrInvalidRequest
	}

	if err := s.pending.Remove(ctx, pendingToken); err != nil {
		return "", fmt.Errorf("remove pending login: %w", err)
	}
	return s.finishLogin(ctx, record.Flow, *chosen, record.Name)
}

// finishLogin turns a resolved identity into the client redirect: an
// authorization code for response_type=code, fragment tokens for the
// implicit flow.
func (s *OAuthService) finishLogin(ctx context.Context, flow domainoauth.AuthState, candidate domainoauth.OrgCandidate, displayName string) (string, error) {
	org, err := s.orgs.GetOrg(ctx, candidate.OrgID)
	if err != nil {
		return "", fmt.Errorf("load org: %w", err)
	}
	user, err := s.users.GetByID(ctx, candidate.OrgID, candidate.UserID)
	if err != nil || user.Status != domain.UserStatusActive {
		s.metrics.Logins.WithLabelValues(domain.LoginMethodOAuth, "failure").Inc()
		return "", domainoauth.ErrAccessDenied
	}

	if err := s.checker.Allow(ctx, policy.LoginRequest{
		Org:         org,
		User:        user,
		ClientID:    flow.ClientID,
		LoginMethod: domain.LoginMethodOAuth,
	}); err != nil {
		s.metrics.Logins.WithLabelValues(domain.LoginMethodOAuth, "denied").Inc()
		return "", domainoauth.ErrAccessDenied
	}

	if flow.ResponseType == "token" {
		pair, err := s.sessions.Create(ctx, org, user, service.LoginDetails{
			ClientID:    flow.ClientID,
			LoginMethod: domain.LoginMethodOAuth,
			Scope:       flow.Scope,
		})
		if err != nil {
			return "", err
		}
		s.metrics.Logins.WithLabelValues(domain.LoginMethodOAuth, "success").Inc()

		fragment := url.Values{}
		fragment.Set("access_token", pair.AccessToken)
		fragment.Set("token_type", pair.TokenType)
		fragment.Set("expires_in", fmt.Sprintf("%d", pair.ExpiresIn))
		if flow.ClientState != "" {
			fragment.Set("state", flow.ClientState)
		}
		return flow.RedirectURI + "#" + fragment.Encode(), nil
	}

	code, err := s.authSvc.IssueAuthorizationCode(ctx, service.CodeIssue{
		OrgID:               org.ID,
		ClientID:            flow.ClientID,
		UserID:              user.ID,
		RedirectURI:         flow.RedirectURI,
		Scope:               flow.Scope,
		CodeChallenge:       flow.CodeChallenge,
		CodeChallengeMethod: flow.CodeChallengeMethod,
		Nonce:               flow.Nonce,
		DisplayName:         displayName,
		Roles:               user.Roles,
		LoginMethod:         domain.LoginMethodOAuth,
	})
	if err != nil {
		return "", err
	}
	s.metrics.Logins.WithLabelValues(domain.LoginMethodOAuth, "success").Inc()

	redirect, err := url.Parse(flow.RedirectURI)
	if err != nil {
		return "", domainoauth.ErrInvalidRequest
	}
	q := redirect.Query()
	q.Set("code", code)
	if flow.ClientState != "" {
		q.Set("state", flow.ClientState)
	}
	redirect.RawQuery = q.Encode()
	return redirect.String(), nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
