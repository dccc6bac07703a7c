package jwt

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
	"github.com/darkvelocity/darkvelocity-auth/internal/repository"
)

// KeyManager hands out the per-org HS256 signing key, minting one lazily
// the first time an org signs or serves its key set.
type KeyManager struct {
	repo repository.KeyRepository
}

func NewKeyManager(repo repository.KeyRepository) *KeyManager {
	return &KeyManager{repo: repo}
}

// EnsureSigningKey returns the org's active key, creating one if the org
// has never signed before.
func (m *KeyManager) EnsureSigningKey(ctx context.Context, orgID int64) (domain.SigningKey, error) {
	key, err := m.repo.GetActiveKey(ctx, orgID)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.SigningKey{}, fmt.Errorf("ensure signing key: %w", err)
	}
	return m.mintKey(ctx, orgID)
}

func (m *KeyManager) mintKey(ctx context.Context, orgID int64) (domain.SigningKey, error) {
	secret := make([]byte, 64)
	if _, err := rand.Read(secret); err != nil {
		return domain.SigningKey{}, fmt.Errorf("generate secret: %w", err)
	}

	created, err := m.repo.CreateKey(ctx, domain.SigningKey{
		OrgID:     orgID,
		KID:       uuid.NewString(),
		Secret:    secret,
		Algorithm: string(jose.HS256),
		IsActive:  true,
	})
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("persist signing key: %w", err)
	}
	return created, nil
}

// ActiveKey looks up the current key without minting.
func (m *KeyManager) ActiveKey(ctx context.Context, orgID int64) (domain.SigningKey, error) {
	key, err := m.repo.GetActiveKey(ctx, orgID)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("active key: %w", err)
	}
	return key, nil
}

// JSONWebKey wraps a stored key in the jose representation.
func (m *KeyManager) JSONWebKey(key domain.SigningKey) jose.JSONWebKey {
	return jose.JSONWebKey{
		KeyID:     key.KID,
		Use:       "sig",
		Algorithm: key.Algorithm,
		Key:       key.Secret,
	}
}

// JWKS returns the org's key set. Asymmetric keys are reduced to their
// public half; HS256 keys pass through whole and must only be served to
// trusted internal consumers.
func (m *KeyManager) JWKS(ctx context.Context, orgID int64) (jose.JSONWebKeySet, error) {
	key, err := m.EnsureSigningKey(ctx, orgID)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("jwks active key: %w", err)
	}
	jwk := m.JSONWebKey(key)
	if jwk.IsPublic() {
		jwk = jwk.Public()
	}
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}, nil
}
