// Package token provides the opaque-token primitives shared by the CSRF
// store, the authorization code issuer, and the session manager. Raw values
// come from crypto/rand and are handed to clients exactly once; anything
// persisted is a SHA-256 hash.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// NewOpaque returns a base64url string with n bytes of entropy.
func NewOpaque(n int) (string, error) {
	if n < 16 {
		n = 32
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash returns the hex-encoded SHA-256 digest of a raw token. Stores index
// refresh tokens only by this hash, so a leaked snapshot cannot be replayed.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
