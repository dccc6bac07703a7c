// Package identity maintains the global email index used to route a
// verified login to the orgs where the address is known.
package identity

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
	domainoauth "github.com/darkvelocity/darkvelocity-auth/internal/domain/oauth"
	"github.com/darkvelocity/darkvelocity-auth/internal/repository"
)

// Resolver resolves a verified email to candidate (org, user) pairs.
type Resolver struct {
	identities repository.EmailIdentityRepository
	orgs       repository.OrgRepository
	users      repository.UserRepository
}

// NewResolver constructs a Resolver.
func NewResolver(identities repository.EmailIdentityRepository, orgs repository.OrgRepository, users repository.UserRepository) *Resolver {
	return &Resolver{identities: identities, orgs: orgs, users: users}
}

// Normalize canonicalizes an email address for index lookups.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register binds an email to a user within an org. Binding the same user
// again is a no-op; a different user behind the same (email, org) fails
// with ErrEmailTaken.
func (r *Resolver) Register(ctx context.Context, email string, orgID, userID int64) error {
	normalized := Normalize(email)
	if normalized == "" {
		return domainoauth.ErrInvalidRequest
	}

	err := r.identities.Register(ctx, domain.EmailIdentity{
		Email:  normalized,
		OrgID:  orgID,
		UserID: userID,
	})
	if err != nil {
		return fmt.Errorf("register identity: %w", err)
	}
	return nil
}

// Unregister drops the binding for (email, org). Missing bindings are not
// an error.
func (r *Resolver) Unregister(ctx context.Context, email string, orgID int64) error {
	if err := r.identities.Unregister(ctx, Normalize(email), orgID); err != nil {
		return fmt.Errorf("unregister identity: %w", err)
	}
	return nil
}

// Update moves a user's binding from one email to another within an org.
// The new address is registered before the old one is dropped, so a
// conflict leaves the old binding intact; a concurrent lookup may briefly
// see both addresses, always pointing at the same user.
func (r *Resolver) Update(ctx context.Context, oldEmail, newEmail string, orgID, userID int64) error {
	if err := r.Register(ctx, newEmail, orgID, userID); err != nil {
		return err
	}
	if Normalize(oldEmail) == Normalize(newEmail) {
		return nil
	}
	return r.Unregister(ctx, oldEmail, orgID)
}

// Resolve returns every org where the email maps to an active user. Orgs
// that fail to load are skipped rather than failing the whole login.
func (r *Resolver) Resolve(ctx context.Context, email string) ([]domainoauth.OrgCandidate, error) {
	identities, err := r.identities.FindByEmail(ctx, Normalize(email))
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	candidates := make([]domainoauth.OrgCandidate, 0, len(identities))
	for _, identity := range identities {
		user, err := r.users.GetByID(ctx, identity.OrgID, identity.UserID)
		if err != nil || user.Status != domain.UserStatusActive {
			continue
		}

		org, err := r.orgs.GetOrg(ctx, identity.OrgID)
		if err != nil {
			zap.L().Warn("identity org lookup failed",
				zap.Int64("org_id", identity.OrgID),
				zap.Error(err),
			)
			continue
		}

		candidates = append(candidates, domainoauth.OrgCandidate{
			OrgID:   org.ID,
			OrgName: org.Name,
			UserID:  user.ID,
		})
	}
	return candidates, nil
}
