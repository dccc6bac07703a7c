package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
	domainoauth "github.com/darkvelocity/darkvelocity-auth/internal/domain/oauth"
)

// PostgresEmailIdentityRepository implements EmailIdentityRepository backed by pgx.
type PostgresEmailIdentityRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresEmailIdentityRepository constructs a PostgresEmailIdentityRepository.
func NewPostgresEmailIdentityRepository(pool *pgxpool.Pool) *PostgresEmailIdentityRepository {
	return &PostgresEmailIdentityRepository{pool: pool}
}

// Register inserts the (email, org) -> user binding. Re-registering the same
// user is a no-op; a different user behind an existing binding is a conflict.
func (r *PostgresEmailIdentityRepository) Register(ctx context.Context, identity domain.EmailIdentity) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO email_identities (email, org_id, user_id, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (email, org_id) DO UPDATE
		SET user_id = email_identities.user_id
		RETURNING user_id`,
		identity.Email, identity.OrgID, identity.UserID,
	)

	var boundUserID int64
	if err := row.Scan(&boundUserID); err != nil {
		return fmt.Errorf("register email identity: %w", err)
	}
	if boundUserID != identity.UserID {
		return domainoauth.ErrEmailTaken
	}
	return nil
}

// Unregister removes the binding for (email, org). Absent bindings are fine.
func (r *PostgresEmailIdentityRepository) Unregister(ctx context.Context, email string, orgID int64) error {
	if _, err := r.pool.Exec(ctx, `
		DELETE FROM email_identities
		WHERE email = $1 AND org_id = $2`, email, orgID); err != nil {
		return fmt.Errorf("unregister email identity: %w", err)
	}
	return nil
}

// FindByEmail returns every org binding for the address, across all orgs.
func (r *PostgresEmailIdentityRepository) FindByEmail(ctx context.Context, email string) ([]domain.EmailIdentity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT email, org_id, user_id, created_at
		FROM email_identities
		WHERE email = $1
		ORDER BY org_id`, email)
	if err != nil {
		return nil, fmt.Errorf("find email identities: %w", err)
	}
	defer rows.Close()

	var identities []domain.EmailIdentity
	for rows.Next() {
		var identity domain.EmailIdentity
		if err := rows.Scan(&identity.Email, &identity.OrgID, &identity.UserID, &identity.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan email identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find email identities: %w", err)
	}
	return identities, nil
}
