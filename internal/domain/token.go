package domain

import "time"

// AuthorizationCode models short-lived one-time codes. Exchange marks the
// row exchanged atomically with the read, so a code can never be redeemed
// twice even under concurrent attempts.
type AuthorizationCode struct {
	ID                  int64
	OrgID               int64
	ClientID            string
	UserID              int64
	Code                string
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
	ExpiresAt           time.Time
	Exchanged           bool
	CreatedAt           time.Time
}

// OAuthClient represents an OAuth2/OIDC client registration.
type OAuthClient struct {
	ID             int64
	OrgID          int64
	ClientID       string
	ClientSecret   string
	RedirectURIs   []string
	Grants         []string
	Scopes         []string
	RequireConsent bool
	CreatedAt      time.Time
}

// SigningKey stores per-org access-token signing keys.
type SigningKey struct {
	ID        int64
	OrgID     int64
	KID       string
	Secret    []byte
	Algorithm string
	IsActive  bool
	CreatedAt time.Time
	RotatedAt *time.Time
}
