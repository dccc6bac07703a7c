package domain

import "time"

// EmailIdentity maps a normalized email address to a user within one org.
// The same email may appear in many orgs, but at most once per org.
type EmailIdentity struct {
	Email     string
	OrgID     int64
	UserID    int64
	CreatedAt time.Time
}
