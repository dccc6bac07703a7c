package repository

import (
	"context"
	"errors"
	"time"

	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
	domainoauth "github.com/darkvelocity/darkvelocity-auth/internal/domain/oauth"
)

// ErrRotateConflict is returned when a conditional refresh rotation matched
// no row: the session moved on (or was revoked) between lookup and update.
// Callers must treat it as a reuse signal, not retry.
var ErrRotateConflict = errors.New("repository: refresh rotation conflict")

// OrgRepository exposes org- and site-level queries.
type OrgRepository interface {
	GetOrg(ctx context.Context, orgID int64) (domain.Org, error)
	GetOrgBySlug(ctx context.Context, slug string) (domain.Org, error)
	GetSite(ctx context.Context, orgID, siteID int64) (domain.Site, error)
}

// UserRepository exposes persistence for platform users.
type UserRepository interface {
	GetByID(ctx context.Context, orgID, userID int64) (domain.User, error)
	GetByEmail(ctx context.Context, orgID int64, email string) (domain.User, error)
	GetByPinDigest(ctx context.Context, orgID, siteID int64, digest string) (domain.User, error)
	ListBySite(ctx context.Context, orgID, siteID int64) ([]domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
}

// SessionRepository persists login sessions keyed by (org, session id).
// RotateRefresh is conditional on the current refresh hash and active
// status; a non-matching condition yields ErrRotateConflict, which makes
// concurrent refreshes of the same session resolve to exactly one winner.
type SessionRepository interface {
	Create(ctx context.Context, sess domain.Session) error
	Get(ctx context.Context, orgID int64, sessionID string) (domain.Session, error)
	RotateRefresh(ctx context.Context, orgID int64, sessionID, oldHash, newHash string, refreshExpiry time.Time) (domain.Session, error)
	Revoke(ctx context.Context, orgID int64, sessionID string) error
	RevokeByDevice(ctx context.Context, orgID int64, deviceID string) error
}

// RefreshIndexRepository is the single global reverse index from hashed
// refresh tokens to sessions. Rotate atomically tombstones the old hash and
// inserts the new one; Lookup returns tombstoned entries with RotatedAt set
// so stale presentations are recognizable as reuse.
type RefreshIndexRepository interface {
	Register(ctx context.Context, hash string, orgID int64, sessionID string) error
	Lookup(ctx context.Context, hash string) (*domain.RefreshIndexEntry, error)
	Rotate(ctx context.Context, oldHash, newHash string, orgID int64, sessionID string) error
	Remove(ctx context.Context, hash string) error
	RemoveSession(ctx context.Context, orgID int64, sessionID string) error
}

// CodeRepository manages one-time authorization codes. Claim performs the
// atomic consume: it marks the code exchanged in the same statement that
// reads it, and fails for expired, missing, or already-exchanged codes.
type CodeRepository interface {
	Create(ctx context.Context, code domain.AuthorizationCode) error
	Claim(ctx context.Context, code string) (domain.AuthorizationCode, error)
}

// EmailIdentityRepository is the global email -> (org, user) index.
type EmailIdentityRepository interface {
	Register(ctx context.Context, identity domain.EmailIdentity) error
	Unregister(ctx context.Context, email string, orgID int64) error
	FindByEmail(ctx context.Context, email string) ([]domain.EmailIdentity, error)
}

// DeviceRepository persists point-of-sale terminals.
type DeviceRepository interface {
	Get(ctx context.Context, orgID int64, deviceID string) (domain.Device, error)
	Authorize(ctx context.Context, deviceID string, orgID, siteID int64) error
	SetStatus(ctx context.Context, orgID int64, deviceID, status string) error
	BindCurrentUser(ctx context.Context, orgID int64, deviceID string, userID int64, at time.Time) error
	ClearCurrentUser(ctx context.Context, orgID int64, deviceID string) error
}

// OAuthClientRepository exposes client metadata.
type OAuthClientRepository interface {
	GetClientByID(ctx context.Context, orgID int64, clientID string) (domain.OAuthClient, error)
}

// KeyRepository stores signing keys per org.
type KeyRepository interface {
	GetActiveKey(ctx context.Context, orgID int64) (domain.SigningKey, error)
	CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error)
}

// CsrfStateStore persists one-time CSRF state across the authorize redirect
// round trip. Consume is atomic: under concurrent calls for the same token
// exactly one succeeds and the rest see ErrStateConsumed or ErrStateNotFound.
type CsrfStateStore interface {
	Save(ctx context.Context, tok string, state domainoauth.AuthState, ttl time.Duration) error
	Consume(ctx context.Context, tok string) (*domainoauth.AuthState, error)
	Peek(ctx context.Context, tok string) (*domainoauth.AuthState, error)
}

// PendingStore is the TTL holding area for multi-step flows. Get fails
// closed with ErrPendingNotFound on miss or expiry.
type PendingStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string, dest any) error
	Remove(ctx context.Context, key string) error
}
