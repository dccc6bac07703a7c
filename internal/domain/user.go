package domain

import "time"

// User status values.
const (
	UserStatusActive   = "ACTIVE"
	UserStatusInactive = "INACTIVE"
	UserStatusLocked   = "LOCKED"
)

// User represents an end user that can authenticate within an org.
type User struct {
	ID            int64
	OrgID         int64
	Email         string
	EmailVerified bool
	PasswordHash  string
	// PinHash is the argon2id hash of the user's terminal PIN and is the
	// authority for PIN verification. PinDigest is a keyed site-lookup
	// digest of the same PIN, only ever used to find a candidate user.
	PinHash    string
	PinDigest  string
	Name       string
	Roles      []string
	SiteAccess []int64
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasSiteAccess reports whether the user may operate at the given site.
func (u User) HasSiteAccess(siteID int64) bool {
	for _, id := range u.SiteAccess {
		if id == siteID {
			return true
		}
	}
	return false
}
