package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
)

// PostgresSessionRepository implements SessionRepository backed by pgx.
type PostgresSessionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionRepository constructs a PostgresSessionRepository.
func NewPostgresSessionRepository(pool *pgxpool.Pool) *PostgresSessionRepository {
	return &PostgresSessionRepository{pool: pool}
}

const sessionColumns = `id, org_id, user_id, site_id, device_id, client_id, login_method, scope, status, refresh_hash, refresh_gen, access_expires_at, refresh_expires_at, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (domain.Session, error) {
	var sess domain.Session
	err := row.Scan(
		&sess.ID, &sess.OrgID, &sess.UserID, &sess.SiteID,
		&sess.DeviceID, &sess.ClientID, &sess.LoginMethod, &sess.Scope,
		&sess.Status, &sess.RefreshHash, &sess.RefreshGen,
		&sess.AccessExpiresAt, &sess.RefreshExpiresAt,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	return sess, err
}

func (r *PostgresSessionRepository) Create(ctx context.Context, sess domain.Session) error {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, org_id, user_id, site_id, device_id, client_id, login_method, scope, status, refresh_hash, refresh_gen, access_expires_at, refresh_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		sess.ID, sess.OrgID, sess.UserID, sess.SiteID,
		sess.DeviceID, sess.ClientID, sess.LoginMethod, sess.Scope,
		sess.Status, sess.RefreshHash, sess.RefreshGen,
		sess.AccessExpiresAt, sess.RefreshExpiresAt, sess.CreatedAt,
	); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepository) Get(ctx context.Context, orgID int64, sessionID string) (domain.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE org_id = $1 AND id = $2`, orgID, sessionID)

	sess, err := scanSession(row)
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// RotateRefresh swaps the refresh hash only when the caller still holds the
// current one. The WHERE clause carries the whole race: zero rows means
// another refresh won, or the session was revoked in between.
func (r *PostgresSessionRepository) RotateRefresh(ctx context.Context, orgID int64, sessionID, oldHash, newHash string, refreshExpiry time.Time) (domain.Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE sessions
		SET refresh_hash = $5, refresh_gen = refresh_gen + 1, refresh_expires_at = $6, updated_at = now()
		WHERE org_id = $1 AND id = $2 AND refresh_hash = $4 AND status = $3
		RETURNING `+sessionColumns,
		orgID, sessionID, domain.SessionStatusActive, oldHash, newHash, refreshExpiry,
	)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, ErrRotateConflict
		}
		return domain.Session{}, fmt.Errorf("rotate refresh: %w", err)
	}
	return sess, nil
}

func (r *PostgresSessionRepository) Revoke(ctx context.Context, orgID int64, sessionID string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET status = $3, updated_at = now()
		WHERE org_id = $1 AND id = $2`, orgID, sessionID, domain.SessionStatusRevoked); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepository) RevokeByDevice(ctx context.Context, orgID int64, deviceID string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET status = $3, updated_at = now()
		WHERE org_id = $1 AND device_id = $2 AND status = $4`,
		orgID, deviceID, domain.SessionStatusRevoked, domain.SessionStatusActive); err != nil {
		return fmt.Errorf("revoke device sessions: %w", err)
	}
	return nil
}

// PostgresRefreshIndexRepository implements RefreshIndexRepository backed by pgx.
type PostgresRefreshIndexRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRefreshIndexRepository constructs a PostgresRefreshIndexRepository.
func NewPostgresRefreshIndexRepository(pool *pgxpool.Pool) *PostgresRefreshIndexRepository {
	return &PostgresRefreshIndexRepository{pool: pool}
}

func (r *PostgresRefreshIndexRepository) Register(ctx context.Context, hash string, orgID int64, sessionID string) error {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO refresh_index (token_hash, org_id, session_id, created_at)
		VALUES ($1, $2, $3, now())`, hash, orgID, sessionID); err != nil {
		return fmt.Errorf("register refresh hash: %w", err)
	}
	return nil
}

func (r *PostgresRefreshIndexRepository) Lookup(ctx context.Context, hash string) (*domain.RefreshIndexEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT token_hash, org_id, session_id, rotated_at, created_at
		FROM refresh_index
		WHERE token_hash = $1`, hash)

	var entry domain.RefreshIndexEntry
	if err := row.Scan(&entry.TokenHash, &entry.OrgID, &entry.SessionID, &entry.RotatedAt, &entry.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup refresh hash: %w", err)
	}
	return &entry, nil
}

// Rotate tombstones the old hash and inserts the new one in one
// transaction. The tombstone stays behind so a later presentation of the
// old token is detected as reuse rather than an unknown credential.
func (r *PostgresRefreshIndexRepository) Rotate(ctx context.Context, oldHash, newHash string, orgID int64, sessionID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("rotate refresh hash: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE refresh_index
		SET rotated_at = now()
		WHERE token_hash = $1 AND rotated_at IS NULL`, oldHash); err != nil {
		return fmt.Errorf("tombstone refresh hash: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO refresh_index (token_hash, org_id, session_id, created_at)
		VALUES ($1, $2, $3, now())`, newHash, orgID, sessionID); err != nil {
		return fmt.Errorf("insert rotated refresh hash: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("rotate refresh hash: %w", err)
	}
	return nil
}

func (r *PostgresRefreshIndexRepository) Remove(ctx context.Context, hash string) error {
	if _, err := r.pool.Exec(ctx, `
		DELETE FROM refresh_index
		WHERE token_hash = $1`, hash); err != nil {
		return fmt.Errorf("remove refresh hash: %w", err)
	}
	return nil
}

func (r *PostgresRefreshIndexRepository) RemoveSession(ctx context.Context, orgID int64, sessionID string) error {
	if _, err := r.pool.Exec(ctx, `
		DELETE FROM refresh_index
		WHERE org_id = $1 AND session_id = $2`, orgID, sessionID); err != nil {
		return fmt.Errorf("remove session refresh hashes: %w", err)
	}
	return nil
}

// PostgresCodeRepository implements CodeRepository backed by pgx.
type PostgresCodeRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresCodeRepository constructs a PostgresCodeRepository.
func NewPostgresCodeRepository(pool *pgxpool.Pool) *PostgresCodeRepository {
	return &PostgresCodeRepository{pool: pool}
}

func (r *PostgresCodeRepository) Create(ctx context.Context, code domain.AuthorizationCode) error {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO authorization_codes (id, org_id, client_id, user_id, code, redirect_uri, scope, code_challenge, code_challenge_method, nonce, display_name, roles, login_method, site_id, device_id, expires_at, exchanged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, FALSE, now())`,
		code.ID, code.OrgID, code.ClientID, code.UserID, code.Code,
		code.RedirectURI, code.Scope, code.CodeChallenge, code.CodeChallengeMethod,
		code.Nonce, code.DisplayName, code.Roles, code.LoginMethod,
		code.SiteID, code.DeviceID, code.ExpiresAt,
	); err != nil {
		return fmt.Errorf("create authorization code: %w", err)
	}
	return nil
}

// Claim marks the code exchanged and returns it in one statement. A missing,
// expired, or previously exchanged code all surface as pgx.ErrNoRows.
func (r *PostgresCodeRepository) Claim(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE authorization_codes
		SET exchanged = TRUE
		WHERE code = $1 AND NOT exchanged AND expires_at > now()
		RETURNING id, org_id, client_id, user_id, code, redirect_uri, scope, code_challenge, code_challenge_method, nonce, display_name, roles, login_method, site_id, device_id, expires_at, exchanged, created_at`,
		code,
	)

	var ac domain.AuthorizationCode
	if err := row.Scan(
		&ac.ID, &ac.OrgID, &ac.ClientID, &ac.UserID, &ac.Code,
		&ac.RedirectURI, &ac.Scope, &ac.CodeChallenge, &ac.CodeChallengeMethod,
		&ac.Nonce, &ac.DisplayName, &ac.Roles, &ac.LoginMethod,
		&ac.SiteID, &ac.DeviceID, &ac.ExpiresAt, &ac.Exchanged, &ac.CreatedAt,
	); err != nil {
		return domain.AuthorizationCode{}, fmt.Errorf("claim authorization code: %w", err)
	}
	return ac, nil
}
