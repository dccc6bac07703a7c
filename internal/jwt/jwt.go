package jwt

import (
	"context"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/darkvelocity/darkvelocity-auth/internal/domain"
)

// Generator is responsible for signing and validating access tokens.
type Generator struct {
	keys      *KeyManager
	accessTTL time.Duration
}

// NewGenerator constructs a JWT generator.
func NewGenerator(manager *KeyManager, accessTTL time.Duration) *Generator {
	return &Generator{keys: manager, accessTTL: accessTTL}
}

// AccessTTL exposes the configured access token lifetime.
func (g *Generator) AccessTTL() time.Duration {
	return g.accessTTL
}

// AccessTokenClaims represent the JWT payload for access tokens. SessionID
// lets downstream services revoke by session without a key rotation.
type AccessTokenClaims struct {
	OrgID       int64    `json:"org_id"`
	SiteID      int64    `json:"site_id,omitempty"`
	DeviceID    string   `json:"device_id,omitempty"`
	SessionID   string   `json:"sid,omitempty"`
	Scope       string   `json:"scope"`
	Email       string   `json:"email,omitempty"`
	Name        string   `json:"name,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	LoginMethod string   `json:"login_method,omitempty"`
}

// GenerateAccessToken produces a signed JWT for the given subject.
func (g *Generator) GenerateAccessToken(ctx context.Context, org domain.Org, subject string, custom AccessTokenClaims, issuer string) (string, error) {
	key, err := g.keys.EnsureSigningKey(ctx, org.ID)
	if err != nil {
		return "", fmt.Errorf("ensure signing key: %w", err)
	}

	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.SignatureAlgorithm(key.Algorithm), Key: key.Secret}, (&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KID))
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	stdClaims := gojwt.Claims{
		Subject:   subject,
		Audience:  gojwt.Audience{org.Name},
		Issuer:    issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(g.accessTTL)),
		NotBefore: gojwt.NewNumericDate(now),
	}
	custom.OrgID = org.ID

	tok, err := gojwt.Signed(signer).Claims(stdClaims).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}

	return tok, nil
}

// ValidateAccessToken ensures the token is valid and returns its claims.
func (g *Generator) ValidateAccessToken(ctx context.Context, orgID int64, token, issuer string) (*gojwt.Claims, *AccessTokenClaims, error) {
	key, err := g.keys.ActiveKey(ctx, orgID)
	if err != nil {
		return nil, nil, fmt.Errorf("load key: %w", err)
	}

	allowed := []gojose.SignatureAlgorithm{gojose.SignatureAlgorithm(key.Algorithm)}
	parsed, err := gojwt.ParseSigned(token, allowed)
	if err != nil {
		return nil, nil, fmt.Errorf("parse token: %w", err)
	}

	var std gojwt.Claims
	var custom AccessTokenClaims
	if err := parsed.Claims(key.Secret, &std, &custom); err != nil {
		return nil, nil, fmt.Errorf("verify token: %w", err)
	}

	if err := std.Validate(gojwt.Expected{Issuer: issuer}); err != nil {
		return nil, nil, fmt.Errorf("validate claims: %w", err)
	}

	return &std, &custom, nil
}
