// Package bootstrap seeds the first org and admin account on startup.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/darkvelocity/darkvelocity-auth/internal/config"
	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
	"github.com/darkvelocity/darkvelocity-auth/internal/identity"
	"github.com/darkvelocity/darkvelocity-auth/internal/password"
	"github.com/darkvelocity/darkvelocity-auth/internal/repository"
)

// Admin ensures a usable login exists on a fresh deployment.
type Admin struct {
	pool     *pgxpool.Pool
	users    repository.UserRepository
	resolver *identity.Resolver
	cfg      *config.Config
}

// NewAdmin constructs the bootstrapper.
func NewAdmin(pool *pgxpool.Pool, users repository.UserRepository, resolver *identity.Resolver, cfg *config.Config) *Admin {
	return &Admin{pool: pool, users: users, resolver: resolver, cfg: cfg}
}

// Ensure creates the default org and admin user when configured and
// missing. It is safe to run on every startup.
func (a *Admin) Ensure(ctx context.Context) error {
	if a.cfg.BootstrapAdminEmail == "" || a.cfg.BootstrapAdminPassword == "" {
		return nil
	}

	row := a.pool.QueryRow(ctx, `
		INSERT INTO orgs (name, slug, status, created_at, updated_at)
		VALUES ('Default', 'default', 'ACTIVE', now(), now())
		ON CONFLICT (slug) DO UPDATE SET updated_at = orgs.updated_at
		RETURNING id`)

	var orgID int64
	if err := row.Scan(&orgID); err != nil {
		return fmt.Errorf("ensure default org: %w", err)
	}

	email := identity.Normalize(a.cfg.BootstrapAdminEmail)
	if _, err := a.users.GetByEmail(ctx, orgID, email); err == nil {
		return nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("check admin user: %w", err)
	}

	hash, err := password.Hash(a.cfg.BootstrapAdminPassword)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	user, err := a.users.Create(ctx, domain.User{
		OrgID:         orgID,
		Email:         email,
		EmailVerified: true,
		PasswordHash:  hash,
		Name:          "Administrator",
		Roles:         []string{"admin"},
		Status:        domain.UserStatusActive,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	if err := a.resolver.Register(ctx, email, orgID, user.ID); err != nil {
		return fmt.Errorf("register admin identity: %w", err)
	}

	zap.L().Info("bootstrap admin created",
		zap.Int64("org_id", orgID),
		zap.Int64("user_id", user.ID),
	)
	return nil
}
