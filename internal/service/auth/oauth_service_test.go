package auth

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/darkvelocity/darkvelocity-auth/internal/adapter/oauth"
	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
	domainoauth "github.com/darkvelocity/darkvelocity-auth/internal/domain/oauth"
)

var (
	flowOrg = domain.Org{ID: 1, Name: "Harbor Hotels", Slug: "harbor", Status: "ACTIVE"}

	flowUser = domain.User{
		ID:     10,
		OrgID:  1,
		Email:  "ana@harbor.example",
		Name:   "Ana",
		Status: domain.UserStatusActive,
	}

	flowClient = domain.OAuthClient{
		ID:           1,
		OrgID:        1,
		ClientID:     "pos-web",
		RedirectURIs: []string{"https://pos.harbor.example/callback"},
	}
)

func verifiedIdentity(email string) oauth.ProviderIdentity {
	return oauth.ProviderIdentity{Subject: "idp|123", Email: email, EmailVerified: true, Name: "Ana"}
}

func startFlow(t *testing.T, h *flowHarness) string {
	t.Helper()
	redirect, err := h.flow.StartAuthorization(context.Background(), flowOrg, AuthorizeRequest{
		ClientID:     flowClient.ClientID,
		RedirectURI:  flowClient.RedirectURIs[0],
		ResponseType: "code",
		Scope:        "pos",
		State:        "client-xyz",
	})
	require.NoError(t, err)

	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestStartAuthorizationSavesState(t *testing.T) {
	h := newFlowHarness(t,
		[]domain.Org{flowOrg}, []domain.User{flowUser},
		[]domain.EmailIdentity{{Email: flowUser.Email, OrgID: 1, UserID: 10}},
		[]domain.OAuthClient{flowClient})

	state := startFlow(t, h)

	saved, err := h.states.Peek(context.Background(), state)
	require.NoError(t, err)
	require.Equal(t, flowClient.ClientID, saved.ClientID)
	require.Equal(t, "client-xyz", saved.ClientState)
	require.NotEmpty(t, saved.CodeVerifier)
}

func TestStartAuthorizationRejectsBadRedirect(t *testing.T) {
	h := newFlowHarness(t, []domain.Org{flowOrg}, nil, nil, []domain.OAuthClient{flowClient})

	_, err := h.flow.StartAuthorization(context.Background(), flowOrg, AuthorizeRequest{
		ClientID:     flowClient.ClientID,
		RedirectURI:  "https://evil.example/grab",
		ResponseType: "code",
	})
	require.ErrorIs(t, err, domainoauth.ErrInvalidRequest)
}

func TestStartAuthorizationUnknownClient(t *testing.T) {
	h := newFlowHarness(t, []domain.Org{flowOrg}, nil, nil, nil)

	_, err := h.flow.StartAuthorization(context.Background(), flowOrg, AuthorizeRequest{
		ClientID:     "ghost",
		RedirectURI:  "https://pos.harbor.example/callback",
		ResponseType: "code",
	})
	require.ErrorIs(t, err, domainoauth.ErrInvalidClient)
}

func TestCallbackSingleOrgIssuesCode(t *testing.T) {
	h := newFlowHarness(t,
		[]domain.Org{flowOrg}, []domain.User{flowUser},
		[]domain.EmailIdentity{{Email: flowUser.Email, OrgID: 1, UserID: 10}},
		[]domain.OAuthClient{flowClient})
	h.provider.identity = verifiedIdentity(flowUser.Email)
	ctx := context.Background()

	state := startFlow(t, h)
	result, err := h.flow.HandleCallback(ctx, state, "upstream-code")
	require.NoError(t, err)
	require.Empty(t, result.PendingToken)

	parsed, err := url.Parse(result.RedirectURI)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(result.RedirectURI, flowClient.RedirectURIs[0]))
	require.Equal(t, "client-xyz", parsed.Query().Get("state"))

	code := parsed.Query().Get("code")
	require.NotEmpty(t, code)

	ac, err := h.codes.Claim(ctx, code)
	require.NoError(t, err)
	require.Equal(t, flowUser.ID, ac.UserID)
	require.Equal(t, domain.LoginMethodOAuth, ac.LoginMethod)
}

func TestCallbackStateConsumedOnce(t *testing.T) {
	h := newFlowHarness(t,
		[]domain.Org{flowOrg}, []domain.User{flowUser},
		[]domain.EmailIdentity{{Email: flowUser.Email, OrgID: 1, UserID: 10}},
		[]domain.OAuthClient{flowClient})
	h.provider.identity = verifiedIdentity(flowUser.Email)
	ctx := context.Background()

	state := startFlow(t, h)
	_, err := h.flow.HandleCallback(ctx, state, "upstream-code")
	require.NoError(t, err)

	_, err = h.flow.HandleCallback(ctx, state, "upstream-code")
	require.ErrorIs(t, err, domainoauth.ErrInvalidState)
}

func TestCallbackUnknownState(t *testing.T) {
	h := newFlowHarness(t, []domain.Org{flowOrg}, nil, nil, []domain.OAuthClient{flowClient})

	_, err := h.flow.HandleCallback(context.Background(), "never-saved", "upstream-code")
	require.ErrorIs(t, err, domainoauth.ErrInvalidState)
}

func TestCallbackExpiredState(t *testing.T) {
	h := newFlowHarness(t, []domain.Org{flowOrg}, nil, nil, []domain.OAuthClient{flowClient})
	state := startFlow(t, h)

	h.redis.FastForward(10 * time.Minute)

	_, err := h.flow.HandleCallback(context.Background(), state, "upstream-code")
	require.ErrorIs(t, err, domainoauth.ErrInvalidState)
}

func TestCallbackNoMatchingOrg(t *testing.T) {
	h := newFlowHarness(t, []domain.Org{flowOrg}, nil, nil, []domain.OAuthClient{flowClient})
	h.provider.identity = verifiedIdentity("stranger@nowhere.example")

	state := startFlow(t, h)
	_, err := h.flow.HandleCallback(context.Background(), state, "upstream-code")
	require.ErrorIs(t, err, domainoauth.ErrAccessDenied)
}

func TestCallbackUnverifiedEmail(t *testing.T) {
	h := newFlowHarness(t,
		[]domain.Org{flowOrg}, []domain.User{flowUser},
		[]domain.EmailIdentity{{Email: flowUser.Email, OrgID: 1, UserID: 10}},
		[]domain.OAuthClient{flowClient})
	h.provider.identity = oauth.ProviderIdentity{Email: flowUser.Email, EmailVerified: false}

	state := startFlow(t, h)
	_, err := h.flow.HandleCallback(context.Background(), state, "upstream-code")
	require.ErrorIs(t, err, domainoauth.ErrAccessDenied)
}

func TestCallbackMultiOrgSelection(t *testing.T) {
	second := domain.Org{ID: 2, Name: "Quay Bistro", Slug: "quay", Status: "ACTIVE"}
	secondUser := domain.User{ID: 20, OrgID: 2, Email: flowUser.Email, Name: "Ana", Status: domain.UserStatusActive}
	h := newFlowHarness(t,
		[]domain.Org{flowOrg, second},
		[]domain.User{flowUser, secondUser},
		[]domain.EmailIdentity{
			{Email: flowUser.Email, OrgID: 1, UserID: 10},
			{Email: flowUser.Email, OrgID: 2, UserID: 20},
		},
		[]domain.OAuthClient{flowClient})
	h.provider.identity = verifiedIdentity(flowUser.Email)
	ctx := context.Background()

	state := startFlow(t, h)
	result, err := h.flow.HandleCallback(ctx, state, "upstream-code")
	require.NoError(t, err)
	require.Empty(t, result.RedirectURI)
	require.NotEmpty(t, result.PendingToken)
	require.Len(t, result.Candidates, 2)

	options, err := h.flow.PendingOptions(ctx, result.PendingToken)
	require.NoError(t, err)
	require.Len(t, options, 2)

	_, err = h.flow.CompleteSelection(ctx, result.PendingToken, 99)
	require.ErrorIs(t, err, domainoauth.ErrInvalidRequest)

	redirect, err := h.flow.CompleteSelection(ctx, result.PendingToken, second.ID)
	require.NoError(t, err)

	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	code := parsed.Query().Get("code")
	require.NotEmpty(t, code)

	ac, err := h.codes.Claim(ctx, code)
	require.NoError(t, err)
	require.Equal(t, second.ID, ac.OrgID)
	require.Equal(t, secondUser.ID, ac.UserID)

	// The pending record is gone once the selection completes.
	_, err = h.flow.CompleteSelection(ctx, result.PendingToken, second.ID)
	require.ErrorIs(t, err, domainoauth.ErrPendingNotFound)
}

func TestImplicitFlowReturnsFragmentTokens(t *testing.T) {
	h := newFlowHarness(t,
		[]domain.Org{flowOrg}, []domain.User{flowUser},
		[]domain.EmailIdentity{{Email: flowUser.Email, OrgID: 1, UserID: 10}},
		[]domain.OAuthClient{flowClient})
	h.provider.identity = verifiedIdentity(flowUser.Email)
	ctx := context.Background()

	redirect, err := h.flow.StartAuthorization(ctx, flowOrg, AuthorizeRequest{
		ClientID:     flowClient.ClientID,
		RedirectURI:  flowClient.RedirectURIs[0],
		ResponseType: "token",
		State:        "client-xyz",
	})
	require.NoError(t, err)

	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	state := parsed.Query().Get("state")

	result, err := h.flow.HandleCallback(ctx, state, "upstream-code")
	require.NoError(t, err)

	frag := strings.SplitN(result.RedirectURI, "#", 2)
	require.Len(t, frag, 2)
	values, err := url.ParseQuery(frag[1])
	require.NoError(t, err)
	require.NotEmpty(t, values.Get("access_token"))
	require.Equal(t, "Bearer", values.Get("token_type"))
	require.Equal(t, "client-xyz", values.Get("state"))
}
