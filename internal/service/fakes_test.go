package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
	"github.com/darkvelocity/darkvelocity-auth/internal/jwt"
	"github.com/darkvelocity/darkvelocity-auth/internal/metrics"
	"github.com/darkvelocity/darkvelocity-auth/internal/policy"
	"github.com/darkvelocity/darkvelocity-auth/internal/repository"
)

type memOrgRepo struct {
	mu   sync.Mutex
	orgs map[int64]domain.Org
}

func newMemOrgRepo(orgs ...domain.Org) *memOrgRepo {
	repo := &memOrgRepo{orgs: make(map[int64]domain.Org)}
	for _, org := range orgs {
		repo.orgs[org.ID] = org
	}
	return repo
}

func (r *memOrgRepo) GetOrg(_ context.Context, orgID int64) (domain.Org, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	org, ok := r.orgs[orgID]
	if !ok {
		return domain.Org{}, pgx.ErrNoRows
	}
	return org, nil
}

func (r *memOrgRepo) GetOrgBySlug(_ context.Context, slug string) (domain.Org, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, org := range r.orgs {
		if org.Slug == slug {
			return org, nil
		}
	}
	return domain.Org{}, pgx.ErrNoRows
}

func (r *memOrgRepo) GetSite(_ context.Context, orgID, siteID int64) (domain.Site, error) {
	return domain.Site{ID: siteID, OrgID: orgID}, nil
}

type userKey struct {
	orgID  int64
	userID int64
}

type memUserRepo struct {
	mu    sync.Mutex
	users map[userKey]domain.User
}

func newMemUserRepo(users ...domain.User) *memUserRepo {
	repo := &memUserRepo{users: make(map[userKey]domain.User)}
	for _, user := range users {
		repo.users[userKey{user.OrgID, user.ID}] = user
	}
	return repo
}

func (r *memUserRepo) put(user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userKey{user.OrgID, user.ID}] = user
}

func (r *memUserRepo) GetByID(_ context.Context, orgID, userID int64) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userKey{orgID, userID}]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, orgID int64, email string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.OrgID == orgID && user.Email == email {
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (r *memUserRepo) GetByPinDigest(_ context.Context, orgID, siteID int64, digest string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.OrgID == orgID && user.PinDigest == digest && user.HasSiteAccess(siteID) {
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (r *memUserRepo) ListBySite(_ context.Context, orgID, siteID int64) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.User
	for _, user := range r.users {
		if user.OrgID == orgID && user.HasSiteAccess(siteID) && user.Status == domain.UserStatusActive {
			out = append(out, user)
		}
	}
	return out, nil
}

func (r *memUserRepo) Create(_ context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == 0 {
		user.ID = int64(len(r.users) + 1)
	}
	r.users[userKey{user.OrgID, user.ID}] = user
	return user, nil
}

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]domain.Session)}
}

func (r *memSessionRepo) Create(_ context.Context, sess domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = sess
	return nil
}

func (r *memSessionRepo) Get(_ context.Context, orgID int64, sessionID string) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok || sess.OrgID != orgID {
		return domain.Session{}, pgx.ErrNoRows
	}
	return sess, nil
}

func (r *memSessionRepo) RotateRefresh(_ context.Context, orgID int64, sessionID, oldHash, newHash string, refreshExpiry time.Time) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok || sess.OrgID != orgID || sess.Status != domain.SessionStatusActive || sess.RefreshHash != oldHash {
		return domain.Session{}, repository.ErrRotateConflict
	}
	sess.RefreshHash = newHash
	sess.RefreshGen++
	sess.RefreshExpiresAt = refreshExpiry
	sess.UpdatedAt = time.Now().UTC()
	r.sessions[sessionID] = sess
	return sess, nil
}

func (r *memSessionRepo) Revoke(_ context.Context, orgID int64, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok || sess.OrgID != orgID {
		return nil
	}
	sess.Status = domain.SessionStatusRevoked
	r.sessions[sessionID] = sess
	return nil
}

func (r *memSessionRepo) RevokeByDevice(_ context.Context, orgID int64, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, sess := range r.sessions {
		if sess.OrgID == orgID && sess.DeviceID == deviceID && sess.Status == domain.SessionStatusActive {
			sess.Status = domain.SessionStatusRevoked
			r.sessions[id] = sess
		}
	}
	return nil
}

type memIndexRepo struct {
	mu      sync.Mutex
	entries map[string]domain.RefreshIndexEntry
}

func newMemIndexRepo() *memIndexRepo {
	return &memIndexRepo{entries: make(map[string]domain.RefreshIndexEntry)}
}

func (r *memIndexRepo) Register(_ context.Context, hash string, orgID int64, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[hash] = domain.RefreshIndexEntry{
		TokenHash: hash,
		OrgID:     orgID,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (r *memIndexRepo) Lookup(_ context.Context, hash string) (*domain.RefreshIndexEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[hash]
	if !ok {
		return nil, nil
	}
	out := entry
	return &out, nil
}

func (r *memIndexRepo) Rotate(_ context.Context, oldHash, newHash string, orgID int64, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[oldHash]; ok && entry.RotatedAt == nil {
		now := time.Now().UTC()
		entry.RotatedAt = &now
		r.entries[oldHash] = entry
	}
	r.entries[newHash] = domain.RefreshIndexEntry{
		TokenHash: newHash,
		OrgID:     orgID,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (r *memIndexRepo) Remove(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, hash)
	return nil
}

func (r *memIndexRepo) RemoveSession(_ context.Context, orgID int64, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, entry := range r.entries {
		if entry.OrgID == orgID && entry.SessionID == sessionID {
			delete(r.entries, hash)
		}
	}
	return nil
}

type memCodeRepo struct {
	mu    sync.Mutex
	codes map[string]domain.AuthorizationCode
}

func newMemCodeRepo() *memCodeRepo {
	return &memCodeRepo{codes: make(map[string]domain.AuthorizationCode)}
}

func (r *memCodeRepo) Create(_ context.Context, code domain.AuthorizationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[code.Code] = code
	return nil
}

func (r *memCodeRepo) Claim(_ context.Context, code string) (domain.AuthorizationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ac, ok := r.codes[code]
	if !ok || ac.Exchanged || time.Now().UTC().After(ac.ExpiresAt) {
		return domain.AuthorizationCode{}, pgx.ErrNoRows
	}
	ac.Exchanged = true
	r.codes[code] = ac
	return ac, nil
}

type memClientRepo struct {
	mu      sync.Mutex
	clients map[string]domain.OAuthClient
}

func newMemClientRepo(clients ...domain.OAuthClient) *memClientRepo {
	repo := &memClientRepo{clients: make(map[string]domain.OAuthClient)}
	for _, client := range clients {
		repo.clients[fmt.Sprintf("%d/%s", client.OrgID, client.ClientID)] = client
	}
	return repo
}

func (r *memClientRepo) GetClientByID(_ context.Context, orgID int64, clientID string) (domain.OAuthClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[fmt.Sprintf("%d/%s", orgID, clientID)]
	if !ok {
		return domain.OAuthClient{}, pgx.ErrNoRows
	}
	return client, nil
}

type memKeyRepo struct {
	mu   sync.Mutex
	keys map[int64]domain.SigningKey
	next int64
}

func newMemKeyRepo() *memKeyRepo {
	return &memKeyRepo{keys: make(map[int64]domain.SigningKey)}
}

func (r *memKeyRepo) GetActiveKey(_ context.Context, orgID int64) (domain.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[orgID]
	if !ok {
		return domain.SigningKey{}, pgx.ErrNoRows
	}
	return key, nil
}

func (r *memKeyRepo) CreateKey(_ context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	key.ID = r.next
	key.CreatedAt = time.Now().UTC()
	r.keys[key.OrgID] = key
	return key, nil
}

type harness struct {
	orgs     *memOrgRepo
	users    *memUserRepo
	sessions *memSessionRepo
	index    *memIndexRepo
	codes    *memCodeRepo
	clients  *memClientRepo

	sessionSvc *SessionService
	authSvc    *AuthService
}

func newHarness(orgs []domain.Org, users []domain.User, clients []domain.OAuthClient) *harness {
	h := &harness{
		orgs:     newMemOrgRepo(orgs...),
		users:    newMemUserRepo(users...),
		sessions: newMemSessionRepo(),
		index:    newMemIndexRepo(),
		codes:    newMemCodeRepo(),
		clients:  newMemClientRepo(clients...),
	}

	m := metrics.New(prometheus.NewRegistry())
	manager := jwt.NewKeyManager(newMemKeyRepo())
	generator := jwt.NewGenerator(manager, 10*time.Minute)

	h.sessionSvc = NewSessionService(h.sessions, h.index, h.orgs, h.users, generator, m, "test-issuer", time.Hour, 32)
	h.authSvc = NewAuthService(h.clients, h.codes, h.users, h.sessionSvc, generator, manager, policy.NewAllowAll(), m, "test-issuer", 5*time.Minute)
	return h
}
