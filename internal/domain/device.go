package domain

import "time"

// Device status values. A device starts UNAUTHORIZED; authorizing it binds
// the org/site pair and moves it to ACTIVE. Suspended and revoked devices
// keep their binding but refuse PIN logins.
const (
	DeviceStatusUnauthorized = "UNAUTHORIZED"
	DeviceStatusActive       = "ACTIVE"
	DeviceStatusSuspended    = "SUSPENDED"
	DeviceStatusRevoked      = "REVOKED"
)

// Device is a point-of-sale terminal bound to an org and site.
type Device struct {
	ID            string
	OrgID         int64
	SiteID        int64
	Name          string
	Status        string
	CurrentUserID int64
	LastLoginAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CanLogin reports whether the device may serve PIN logins for the site.
func (d Device) CanLogin(orgID, siteID int64) bool {
	return d.Status == DeviceStatusActive && d.OrgID == orgID && d.SiteID == siteID
}
