package domain

import "time"

// Session status values.
const (
	SessionStatusActive  = "ACTIVE"
	SessionStatusRevoked = "REVOKED"
)

// Login methods recorded on sessions and surfaced in access-token claims.
const (
	LoginMethodPassword = "password"
	LoginMethodOAuth    = "oauth"
	LoginMethodPin      = "pin"
	LoginMethodDevice   = "device"
)

// Session is the source of truth for a login. It is identified by
// (OrgID, ID); the refresh token currently accepted for it is stored only
// as a SHA-256 hash alongside a rotation generation counter.
type Session struct {
	ID               string
	OrgID            int64
	UserID           int64
	SiteID           int64
	DeviceID         string
	ClientID         string
	LoginMethod      string
	Scope            string
	Status           string
	RefreshHash      string
	RefreshGen       int64
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RefreshIndexEntry maps a hashed refresh token back to its owning session.
// Rotated entries are kept with RotatedAt set so that presentation of a
// stale token is recognizable as reuse; live lookups never return them.
type RefreshIndexEntry struct {
	TokenHash string
	OrgID     int64
	SessionID string
	RotatedAt *time.Time
	CreatedAt time.Time
}
