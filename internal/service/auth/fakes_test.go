package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/darkvelocity/darkvelocity-auth/internal/adapter/cache"
	provider "github.com/darkvelocity/darkvelocity-auth/internal/adapter/oauth"
	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
	"github.com/darkvelocity/darkvelocity-auth/internal/identity"
	"github.com/darkvelocity/darkvelocity-auth/internal/jwt"
	"github.com/darkvelocity/darkvelocity-auth/internal/metrics"
	"github.com/darkvelocity/darkvelocity-auth/internal/policy"
	"github.com/darkvelocity/darkvelocity-auth/internal/repository"
	"github.com/darkvelocity/darkvelocity-auth/internal/service"
)

type fakeProvider struct {
	identity provider.ProviderIdentity
}

func (p *fakeProvider) AuthorizationURL(state, redirectURI, codeChallenge string) string {
	return "https://idp.example/authorize?state=" + state
}

func (p *fakeProvider) ExchangeCode(context.Context, string, string, string) (*provider.ProviderTokens, error) {
	return &provider.ProviderTokens{AccessToken: "upstream-access"}, nil
}

func (p *fakeProvider) FetchIdentity(context.Context, string) (*provider.ProviderIdentity, error) {
	out := p.identity
	return &out, nil
}

type fakeOrgRepo struct{ orgs map[int64]domain.Org }

func (r *fakeOrgRepo) GetOrg(_ context.Context, orgID int64) (domain.Org, error) {
	org, ok := r.orgs[orgID]
	if !ok {
		return domain.Org{}, pgx.ErrNoRows
	}
	return org, nil
}

func (r *fakeOrgRepo) GetOrgBySlug(_ context.Context, slug string) (domain.Org, error) {
	for _, org := range r.orgs {
		if org.Slug == slug {
			return org, nil
		}
	}
	return domain.Org{}, pgx.ErrNoRows
}

func (r *fakeOrgRepo) GetSite(_ context.Context, orgID, siteID int64) (domain.Site, error) {
	return domain.Site{ID: siteID, OrgID: orgID}, nil
}

type fakeUserRepo struct{ users []domain.User }

func (r *fakeUserRepo) GetByID(_ context.Context, orgID, userID int64) (domain.User, error) {
	for _, user := range r.users {
		if user.OrgID == orgID && user.ID == userID {
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, orgID int64, email string) (domain.User, error) {
	for _, user := range r.users {
		if user.OrgID == orgID && user.Email == email {
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (r *fakeUserRepo) GetByPinDigest(_ context.Context, orgID, siteID int64, digest string) (domain.User, error) {
	return domain.User{}, pgx.ErrNoRows
}

func (r *fakeUserRepo) ListBySite(_ context.Context, orgID, siteID int64) ([]domain.User, error) {
	return nil, nil
}

func (r *fakeUserRepo) Create(_ context.Context, user domain.User) (domain.User, error) {
	r.users = append(r.users, user)
	return user, nil
}

type fakeIdentityRepo struct{ identities []domain.EmailIdentity }

func (r *fakeIdentityRepo) Register(_ context.Context, identity domain.EmailIdentity) error {
	r.identities = append(r.identities, identity)
	return nil
}

func (r *fakeIdentityRepo) Unregister(_ context.Context, email string, orgID int64) error {
	kept := r.identities[:0]
	for _, identity := range r.identities {
		if identity.Email != email || identity.OrgID != orgID {
			kept = append(kept, identity)
		}
	}
	r.identities = kept
	return nil
}

func (r *fakeIdentityRepo) FindByEmail(_ context.Context, email string) ([]domain.EmailIdentity, error) {
	var out []domain.EmailIdentity
	for _, identity := range r.identities {
		if identity.Email == email {
			out = append(out, identity)
		}
	}
	return out, nil
}

type fakeClientRepo struct{ clients []domain.OAuthClient }

func (r *fakeClientRepo) GetClientByID(_ context.Context, orgID int64, clientID string) (domain.OAuthClient, error) {
	for _, client := range r.clients {
		if client.OrgID == orgID && client.ClientID == clientID {
			return client, nil
		}
	}
	return domain.OAuthClient{}, pgx.ErrNoRows
}

type fakeCodeRepo struct{ codes map[string]domain.AuthorizationCode }

func (r *fakeCodeRepo) Create(_ context.Context, code domain.AuthorizationCode) error {
	r.codes[code.Code] = code
	return nil
}

func (r *fakeCodeRepo) Claim(_ context.Context, code string) (domain.AuthorizationCode, error) {
	ac, ok := r.codes[code]
	if !ok || ac.Exchanged || time.Now().UTC().After(ac.ExpiresAt) {
		return domain.AuthorizationCode{}, pgx.ErrNoRows
	}
	ac.Exchanged = true
	r.codes[code] = ac
	return ac, nil
}

type fakeKeyRepo struct{ keys map[int64]domain.SigningKey }

func (r *fakeKeyRepo) GetActiveKey(_ context.Context, orgID int64) (domain.SigningKey, error) {
	key, ok := r.keys[orgID]
	if !ok {
		return domain.SigningKey{}, pgx.ErrNoRows
	}
	return key, nil
}

func (r *fakeKeyRepo) CreateKey(_ context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	key.ID = int64(len(r.keys) + 1)
	r.keys[key.OrgID] = key
	return key, nil
}

type fakeSessionRepo struct{ sessions map[string]domain.Session }

func (r *fakeSessionRepo) Create(_ context.Context, sess domain.Session) error {
	r.sessions[sess.ID] = sess
	return nil
}

func (r *fakeSessionRepo) Get(_ context.Context, orgID int64, sessionID string) (domain.Session, error) {
	sess, ok := r.sessions[sessionID]
	if !ok || sess.OrgID != orgID {
		return domain.Session{}, pgx.ErrNoRows
	}
	return sess, nil
}

func (r *fakeSessionRepo) RotateRefresh(_ context.Context, orgID int64, sessionID, oldHash, newHash string, refreshExpiry time.Time) (domain.Session, error) {
	sess, ok := r.sessions[sessionID]
	if !ok || sess.OrgID != orgID || sess.Status != domain.SessionStatusActive || sess.RefreshHash != oldHash {
		return domain.Session{}, repository.ErrRotateConflict
	}
	sess.RefreshHash = newHash
	sess.RefreshGen++
	sess.RefreshExpiresAt = refreshExpiry
	r.sessions[sessionID] = sess
	return sess, nil
}

func (r *fakeSessionRepo) Revoke(_ context.Context, orgID int64, sessionID string) error {
	if sess, ok := r.sessions[sessionID]; ok && sess.OrgID == orgID {
		sess.Status = domain.SessionStatusRevoked
		r.sessions[sessionID] = sess
	}
	return nil
}

func (r *fakeSessionRepo) RevokeByDevice(_ context.Context, orgID int64, deviceID string) error {
	for id, sess := range r.sessions {
		if sess.OrgID == orgID && sess.DeviceID == deviceID {
			sess.Status = domain.SessionStatusRevoked
			r.sessions[id] = sess
		}
	}
	return nil
}

type fakeIndexRepo struct{ entries map[string]domain.RefreshIndexEntry }

func (r *fakeIndexRepo) Register(_ context.Context, hash string, orgID int64, sessionID string) error {
	r.entries[hash] = domain.RefreshIndexEntry{TokenHash: hash, OrgID: orgID, SessionID: sessionID, CreatedAt: time.Now().UTC()}
	return nil
}

func (r *fakeIndexRepo) Lookup(_ context.Context, hash string) (*domain.RefreshIndexEntry, error) {
	entry, ok := r.entries[hash]
	if !ok {
		return nil, nil
	}
	out := entry
	return &out, nil
}

func (r *fakeIndexRepo) Rotate(_ context.Context, oldHash, newHash string, orgID int64, sessionID string) error {
	if entry, ok := r.entries[oldHash]; ok && entry.RotatedAt == nil {
		now := time.Now().UTC()
		entry.RotatedAt = &now
		r.entries[oldHash] = entry
	}
	r.entries[newHash] = domain.RefreshIndexEntry{TokenHash: newHash, OrgID: orgID, SessionID: sessionID, CreatedAt: time.Now().UTC()}
	return nil
}

func (r *fakeIndexRepo) Remove(_ context.Context, hash string) error {
	delete(r.entries, hash)
	return nil
}

func (r *fakeIndexRepo) RemoveSession(_ context.Context, orgID int64, sessionID string) error {
	for hash, entry := range r.entries {
		if entry.OrgID == orgID && entry.SessionID == sessionID {
			delete(r.entries, hash)
		}
	}
	return nil
}

type flowHarness struct {
	flow     *OAuthService
	provider *fakeProvider
	codes    *fakeCodeRepo
	states   repository.CsrfStateStore
	redis    *miniredis.Miniredis
}

func newFlowHarness(t *testing.T, orgs []domain.Org, users []domain.User, identities []domain.EmailIdentity, clients []domain.OAuthClient) *flowHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	orgMap := make(map[int64]domain.Org, len(orgs))
	for _, org := range orgs {
		orgMap[org.ID] = org
	}

	orgRepo := &fakeOrgRepo{orgs: orgMap}
	userRepo := &fakeUserRepo{users: users}
	identityRepo := &fakeIdentityRepo{identities: identities}
	clientRepo := &fakeClientRepo{clients: clients}
	codeRepo := &fakeCodeRepo{codes: make(map[string]domain.AuthorizationCode)}
	sessionRepo := &fakeSessionRepo{sessions: make(map[string]domain.Session)}
	indexRepo := &fakeIndexRepo{entries: make(map[string]domain.RefreshIndexEntry)}

	m := metrics.New(prometheus.NewRegistry())
	manager := jwt.NewKeyManager(&fakeKeyRepo{keys: make(map[int64]domain.SigningKey)})
	generator := jwt.NewGenerator(manager, 10*time.Minute)
	checker := policy.NewAllowAll()

	sessionSvc := service.NewSessionService(sessionRepo, indexRepo, orgRepo, userRepo, generator, m, "test-issuer", time.Hour, 32)
	authSvc := service.NewAuthService(clientRepo, codeRepo, userRepo, sessionSvc, generator, manager, checker, m, "test-issuer", 5*time.Minute)
	resolver := identity.NewResolver(identityRepo, orgRepo, userRepo)

	states := cache.NewRedisCsrfStateStore(client, 5*time.Minute)
	pending := cache.NewRedisPendingStore(client)
	upstream := &fakeProvider{}

	flow := NewOAuthService(states, pending, upstream, resolver, authSvc, sessionSvc, orgRepo, userRepo, checker, m,
		"https://auth.example/oauth/callback", 5*time.Minute, 10*time.Minute)

	require.NotNil(t, flow)
	return &flowHarness{flow: flow, provider: upstream, codes: codeRepo, states: states, redis: mr}
}
