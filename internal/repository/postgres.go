package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
)

// PostgresOrgRepository implements OrgRepository backed by pgx.
type PostgresOrgRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresOrgRepository constructs a PostgresOrgRepository.
func NewPostgresOrgRepository(pool *pgxpool.Pool) *PostgresOrgRepository {
	return &PostgresOrgRepository{pool: pool}
}

func (r *PostgresOrgRepository) GetOrg(ctx context.Context, orgID int64) (domain.Org, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, slug, country, timezone, status, created_at, updated_at
		FROM orgs
		WHERE id = $1`, orgID)

	var org domain.Org
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.Country, &org.Timezone, &org.Status, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return domain.Org{}, fmt.Errorf("get org: %w", err)
	}
	return org, nil
}

func (r *PostgresOrgRepository) GetOrgBySlug(ctx context.Context, slug string) (domain.Org, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, slug, country, timezone, status, created_at, updated_at
		FROM orgs
		WHERE slug = $1`, slug)

	var org domain.Org
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.Country, &org.Timezone, &org.Status, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return domain.Org{}, fmt.Errorf("get org by slug: %w", err)
	}
	return org, nil
}

func (r *PostgresOrgRepository) GetSite(ctx context.Context, orgID, siteID int64) (domain.Site, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, org_id, name, code, status, created_at, updated_at
		FROM sites
		WHERE org_id = $1 AND id = $2`, orgID, siteID)

	var site domain.Site
	if err := row.Scan(&site.ID, &site.OrgID, &site.Name, &site.Code, &site.Status, &site.CreatedAt, &site.UpdatedAt); err != nil {
		return domain.Site{}, fmt.Errorf("get site: %w", err)
	}
	return site, nil
}

// PostgresUserRepository implements UserRepository backed by pgx.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresUserRepository constructs a PostgresUserRepository.
func NewPostgresUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

const userColumns = `id, org_id, email, email_verified, password_hash, pin_hash, pin_digest, name, roles, site_access, status, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID, &user.OrgID, &user.Email, &user.EmailVerified,
		&user.PasswordHash, &user.PinHash, &user.PinDigest,
		&user.Name, &user.Roles, &user.SiteAccess, &user.Status,
		&user.CreatedAt, &user.UpdatedAt,
	)
	return user, err
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, orgID, userID int64) (domain.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE org_id = $1 AND id = $2`, orgID, userID)

	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, orgID int64, email string) (domain.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE org_id = $1 AND email = $2`, orgID, email)

	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepository) GetByPinDigest(ctx context.Context, orgID, siteID int64, digest string) (domain.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE org_id = $1 AND pin_digest = $2 AND $3 = ANY(site_access)`, orgID, digest, siteID)

	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by pin digest: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepository) ListBySite(ctx context.Context, orgID, siteID int64) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE org_id = $1 AND $2 = ANY(site_access) AND status = $3
		ORDER BY name`, orgID, siteID, domain.UserStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list users by site: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users by site: %w", err)
	}
	return users, nil
}

func (r *PostgresUserRepository) Create(ctx context.Context, user domain.User) (domain.User, error) {
	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (org_id, email, email_verified, password_hash, pin_hash, pin_digest, name, roles, site_access, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING id, created_at, updated_at`,
		user.OrgID, user.Email, user.EmailVerified, user.PasswordHash,
		user.PinHash, user.PinDigest, user.Name, user.Roles,
		user.SiteAccess, user.Status, now,
	)
	if err := row.Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// PostgresDeviceRepository implements DeviceRepository backed by pgx.
type PostgresDeviceRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresDeviceRepository constructs a PostgresDeviceRepository.
func NewPostgresDeviceRepository(pool *pgxpool.Pool) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{pool: pool}
}

func (r *PostgresDeviceRepository) Get(ctx context.Context, orgID int64, deviceID string) (domain.Device, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, org_id, site_id, name, status, current_user_id, last_login_at, created_at, updated_at
		FROM devices
		WHERE org_id = $1 AND id = $2`, orgID, deviceID)

	var device domain.Device
	if err := row.Scan(&device.ID, &device.OrgID, &device.SiteID, &device.Name, &device.Status, &device.CurrentUserID, &device.LastLoginAt, &device.CreatedAt, &device.UpdatedAt); err != nil {
		return domain.Device{}, fmt.Errorf("get device: %w", err)
	}
	return device, nil
}

func (r *PostgresDeviceRepository) Authorize(ctx context.Context, deviceID string, orgID, siteID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE devices
		SET org_id = $2, site_id = $3, status = $4, updated_at = now()
		WHERE id = $1`, deviceID, orgID, siteID, domain.DeviceStatusActive)
	if err != nil {
		return fmt.Errorf("authorize device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("authorize device %s: not found", deviceID)
	}
	return nil
}

func (r *PostgresDeviceRepository) SetStatus(ctx context.Context, orgID int64, deviceID, status string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE devices
		SET status = $3, updated_at = now()
		WHERE org_id = $1 AND id = $2`, orgID, deviceID, status); err != nil {
		return fmt.Errorf("set device status: %w", err)
	}
	return nil
}

func (r *PostgresDeviceRepository) BindCurrentUser(ctx context.Context, orgID int64, deviceID string, userID int64, at time.Time) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE devices
		SET current_user_id = $3, last_login_at = $4, updated_at = now()
		WHERE org_id = $1 AND id = $2`, orgID, deviceID, userID, at); err != nil {
		return fmt.Errorf("bind device user: %w", err)
	}
	return nil
}

func (r *PostgresDeviceRepository) ClearCurrentUser(ctx context.Context, orgID int64, deviceID string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE devices
		SET current_user_id = 0, updated_at = now()
		WHERE org_id = $1 AND id = $2`, orgID, deviceID); err != nil {
		return fmt.Errorf("clear device user: %w", err)
	}
	return nil
}

// PostgresOAuthClientRepository implements OAuthClientRepository backed by pgx.
type PostgresOAuthClientRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresOAuthClientRepository constructs a PostgresOAuthClientRepository.
func NewPostgresOAuthClientRepository(pool *pgxpool.Pool) *PostgresOAuthClientRepository {
	return &PostgresOAuthClientRepository{pool: pool}
}

func (r *PostgresOAuthClientRepository) GetClientByID(ctx context.Context, orgID int64, clientID string) (domain.OAuthClient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, org_id, client_id, client_secret, redirect_uris, grants, scopes, require_consent, created_at
		FROM oauth_clients
		WHERE org_id = $1 AND client_id = $2`, orgID, clientID)

	var client domain.OAuthClient
	if err := row.Scan(&client.ID, &client.OrgID, &client.ClientID, &client.ClientSecret, &client.RedirectURIs, &client.Grants, &client.Scopes, &client.RequireConsent, &client.CreatedAt); err != nil {
		return domain.OAuthClient{}, fmt.Errorf("get oauth client: %w", err)
	}
	return client, nil
}

// PostgresKeyRepository implements KeyRepository backed by pgx.
type PostgresKeyRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresKeyRepository constructs a PostgresKeyRepository.
func NewPostgresKeyRepository(pool *pgxpool.Pool) *PostgresKeyRepository {
	return &PostgresKeyRepository{pool: pool}
}

func (r *PostgresKeyRepository) GetActiveKey(ctx context.Context, orgID int64) (domain.SigningKey, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, org_id, kid, secret, algorithm, is_active, created_at, rotated_at
		FROM signing_keys
		WHERE org_id = $1 AND is_active
		ORDER BY created_at DESC
		LIMIT 1`, orgID)

	var key domain.SigningKey
	if err := row.Scan(&key.ID, &key.OrgID, &key.KID, &key.Secret, &key.Algorithm, &key.IsActive, &key.CreatedAt, &key.RotatedAt); err != nil {
		return domain.SigningKey{}, fmt.Errorf("get active key: %w", err)
	}
	return key, nil
}

func (r *PostgresKeyRepository) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO signing_keys (org_id, kid, secret, algorithm, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, created_at`,
		key.OrgID, key.KID, key.Secret, key.Algorithm, key.IsActive,
	)
	if err := row.Scan(&key.ID, &key.CreatedAt); err != nil {
		return domain.SigningKey{}, fmt.Errorf("create key: %w", err)
	}
	return key, nil
}
