package pin

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
	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
	"github.com/darkvelocity/darkvelocity-auth/internal/jwt"
	"github.com/darkvelocity/darkvelocity-auth/internal/metrics"
	"github.com/darkvelocity/darkvelocity-auth/internal/policy"
	"github.com/darkvelocity/darkvelocity-auth/internal/repository"
	"github.com/darkvelocity/darkvelocity-auth/internal/service"
)

type memDeviceRepo struct{ devices map[string]domain.Device }

func (r *memDeviceRepo) Get(_ context.Context, orgID int64, deviceID string) (domain.Device, error) {
	device, ok := r.devices[deviceID]
	if !ok || device.OrgID != orgID {
		return domain.Device{}, pgx.ErrNoRows
	}
	return device, nil
}

func (r *memDeviceRepo) Authorize(_ context.Context, deviceID string, orgID, siteID int64) error {
	device := r.devices[deviceID]
	device.ID = deviceID
	device.OrgID = orgID
	device.SiteID = siteID
	device.Status = domain.DeviceStatusActive
	r.devices[deviceID] = device
	return nil
}

func (r *memDeviceRepo) SetStatus(_ context.Context, orgID int64, deviceID, status string) error {
	if device, ok := r.devices[deviceID]; ok && device.OrgID == orgID {
		device.Status = status
		r.devices[deviceID] = device
	}
	return nil
}

func (r *memDeviceRepo) BindCurrentUser(_ context.Context, orgID int64, deviceID string, userID int64, at time.Time) error {
	if device, ok := r.devices[deviceID]; ok && device.OrgID == orgID {
		device.CurrentUserID = userID
		device.LastLoginAt = &at
		r.devices[deviceID] = device
	}
	return nil
}

func (r *memDeviceRepo) ClearCurrentUser(_ context.Context, orgID int64, deviceID string) error {
	if device, ok := r.devices[deviceID]; ok && device.OrgID == orgID {
		device.CurrentUserID = 0
		r.devices[deviceID] = device
	}
	return nil
}

type memUserRepo struct{ users []domain.User }

func (r *memUserRepo) GetByID(_ context.Context, orgID, userID int64) (domain.User, error) {
	for _, user := range r.users {
		if user.OrgID == orgID && user.ID == userID {
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (r *memUserRepo) GetByEmail(_ context.Context, orgID int64, email string) (domain.User, error) {
	for _, user := range r.users {
		if user.OrgID == orgID && user.Email == email {
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (r *memUserRepo) GetByPinDigest(_ context.Context, orgID, siteID int64, digest string) (domain.User, error) {
	for _, user := range r.users {
		if user.OrgID == orgID && user.PinDigest == digest && user.HasSiteAccess(siteID) {
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (r *memUserRepo) ListBySite(_ context.Context, orgID, siteID int64) ([]domain.User, error) {
	var out []domain.User
	for _, user := range r.users {
		if user.OrgID == orgID && user.HasSiteAccess(siteID) && user.Status == domain.UserStatusActive {
			out = append(out, user)
		}
	}
	return out, nil
}

func (r *memUserRepo) Create(_ context.Context, user domain.User) (domain.User, error) {
	r.users = append(r.users, user)
	return user, nil
}

type memOrgRepo struct{ orgs map[int64]domain.Org }

func (r *memOrgRepo) GetOrg(_ context.Context, orgID int64) (domain.Org, error) {
	org, ok := r.orgs[orgID]
	if !ok {
		return domain.Org{}, pgx.ErrNoRows
	}
	return org, nil
}

func (r *memOrgRepo) GetOrgBySlug(_ context.Context, slug string) (domain.Org, error) {
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

type memSessionRepo struct{ sessions map[string]domain.Session }

func (r *memSessionRepo) Create(_ context.Context, sess domain.Session) error {
	r.sessions[sess.ID] = sess
	return nil
}

func (r *memSessionRepo) Get(_ context.Context, orgID int64, sessionID string) (domain.Session, error) {
	sess, ok := r.sessions[sessionID]
	if !ok || sess.OrgID != orgID {
		return domain.Session{}, pgx.ErrNoRows
	}
	return sess, nil
}

func (r *memSessionRepo) RotateRefresh(_ context.Context, orgID int64, sessionID, oldHash, newHash string, refreshExpiry time.Time) (domain.Session, error) {
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

func (r *memSessionRepo) Revoke(_ context.Context, orgID int64, sessionID string) error {
	if sess, ok := r.sessions[sessionID]; ok && sess.OrgID == orgID {
		sess.Status = domain.SessionStatusRevoked
		r.sessions[sessionID] = sess
	}
	return nil
}

func (r *memSessionRepo) RevokeByDevice(_ context.Context, orgID int64, deviceID string) error {
	for id, sess := range r.sessions {
		if sess.OrgID == orgID && sess.DeviceID == deviceID && sess.Status == domain.SessionStatusActive {
			sess.Status = domain.SessionStatusRevoked
			r.sessions[id] = sess
		}
	}
	return nil
}

type memIndexRepo struct{ entries map[string]domain.RefreshIndexEntry }

func (r *memIndexRepo) Register(_ context.Context, hash string, orgID int64, sessionID string) error {
	r.entries[hash] = domain.RefreshIndexEntry{TokenHash: hash, OrgID: orgID, SessionID: sessionID, CreatedAt: time.Now().UTC()}
	return nil
}

func (r *memIndexRepo) Lookup(_ context.Context, hash string) (*domain.RefreshIndexEntry, error) {
	entry, ok := r.entries[hash]
	if !ok {
		return nil, nil
	}
	out := entry
	return &out, nil
}

func (r *memIndexRepo) Rotate(_ context.Context, oldHash, newHash string, orgID int64, sessionID string) error {
	if entry, ok := r.entries[oldHash]; ok && entry.RotatedAt == nil {
		now := time.Now().UTC()
		entry.RotatedAt = &now
		r.entries[oldHash] = entry
	}
	r.entries[newHash] = domain.RefreshIndexEntry{TokenHash: newHash, OrgID: orgID, SessionID: sessionID, CreatedAt: time.Now().UTC()}
	return nil
}

func (r *memIndexRepo) Remove(_ context.Context, hash string) error {
	delete(r.entries, hash)
	return nil
}

func (r *memIndexRepo) RemoveSession(_ context.Context, orgID int64, sessionID string) error {
	for hash, entry := range r.entries {
		if entry.OrgID == orgID && entry.SessionID == sessionID {
			delete(r.entries, hash)
		}
	}
	return nil
}

type memCodeRepo struct{ codes map[string]domain.AuthorizationCode }

func (r *memCodeRepo) Create(_ context.Context, code domain.AuthorizationCode) error {
	r.codes[code.Code] = code
	return nil
}

func (r *memCodeRepo) Claim(_ context.Context, code string) (domain.AuthorizationCode, error) {
	ac, ok := r.codes[code]
	if !ok || ac.Exchanged || time.Now().UTC().After(ac.ExpiresAt) {
		return domain.AuthorizationCode{}, pgx.ErrNoRows
	}
	ac.Exchanged = true
	r.codes[code] = ac
	return ac, nil
}

type memClientRepo struct{}

func (memClientRepo) GetClientByID(_ context.Context, orgID int64, clientID string) (domain.OAuthClient, error) {
	return domain.OAuthClient{OrgID: orgID, ClientID: clientID}, nil
}

type memKeyRepo struct{ keys map[int64]domain.SigningKey }

func (r *memKeyRepo) GetActiveKey(_ context.Context, orgID int64) (domain.SigningKey, error) {
	key, ok := r.keys[orgID]
	if !ok {
		return domain.SigningKey{}, pgx.ErrNoRows
	}
	return key, nil
}

func (r *memKeyRepo) CreateKey(_ context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	key.ID = int64(len(r.keys) + 1)
	r.keys[key.OrgID] = key
	return key, nil
}

type pinHarness struct {
	svc      *Service
	devices  *memDeviceRepo
	users    *memUserRepo
	sessions *memSessionRepo
	codes    *memCodeRepo
	session  *service.SessionService
}

const testDigestSecret = "pin-index-secret-for-tests"

func newPinHarness(t *testing.T, orgs []domain.Org, users []domain.User, devices []domain.Device) *pinHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	orgMap := make(map[int64]domain.Org, len(orgs))
	for _, org := range orgs {
		orgMap[org.ID] = org
	}
	deviceMap := make(map[string]domain.Device, len(devices))
	for _, device := range devices {
		deviceMap[device.ID] = device
	}

	orgRepo := &memOrgRepo{orgs: orgMap}
	userRepo := &memUserRepo{users: users}
	deviceRepo := &memDeviceRepo{devices: deviceMap}
	sessionRepo := &memSessionRepo{sessions: make(map[string]domain.Session)}
	indexRepo := &memIndexRepo{entries: make(map[string]domain.RefreshIndexEntry)}
	codeRepo := &memCodeRepo{codes: make(map[string]domain.AuthorizationCode)}

	m := metrics.New(prometheus.NewRegistry())
	manager := jwt.NewKeyManager(&memKeyRepo{keys: make(map[int64]domain.SigningKey)})
	generator := jwt.NewGenerator(manager, 10*time.Minute)
	checker := policy.NewAllowAll()

	sessionSvc := service.NewSessionService(sessionRepo, indexRepo, orgRepo, userRepo, generator, m, "test-issuer", time.Hour, 32)
	authSvc := service.NewAuthService(memClientRepo{}, codeRepo, userRepo, sessionSvc, generator, manager, checker, m, "test-issuer", 5*time.Minute)
	pending := cache.NewRedisPendingStore(client)

	svc := NewService(deviceRepo, userRepo, sessionSvc, authSvc, pending, checker, m, []byte(testDigestSecret), 10*time.Minute)
	require.NotNil(t, svc)

	return &pinHarness{
		svc:      svc,
		devices:  deviceRepo,
		users:    userRepo,
		sessions: sessionRepo,
		codes:    codeRepo,
		session:  sessionSvc,
	}
}
