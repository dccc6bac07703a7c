// Package policy decides whether a resolved login may proceed.
package policy

import (
	"context"

	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
)

// LoginRequest describes an authenticated identity about to receive tokens.
type LoginRequest struct {
	Org         domain.Org
	User        domain.User
	SiteID      int64
	DeviceID    string
	ClientID    string
	LoginMethod string
}

// Checker is consulted after authentication and before token issuance.
type Checker interface {
	Allow(ctx context.Context, req LoginRequest) error
}

// AllowAll is the default policy: any authenticated identity may log in.
type AllowAll struct{}

// NewAllowAll constructs the permissive default checker.
func NewAllowAll() *AllowAll {
	return &AllowAll{}
}

func (AllowAll) Allow(ctx context.Context, req LoginRequest) error {
	return nil
}
