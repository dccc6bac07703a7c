// Package pin handles terminal PIN hashing. A PIN is stored twice: an
// argon2id hash (the verification authority, via the password package) and
// a keyed HMAC digest scoped to the org that lets the login path find a
// candidate user without scanning PINs in plaintext. Site scoping happens
// at query time against the user's site access list, so one enrollment
// covers every site the user may work. The digest lookup is an
// optimization only; login always re-verifies against the argon2 hash.
package pin

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/darkvelocity/darkvelocity-auth/internal/password"
)

// Hash returns the argon2id hash used as the PIN verification authority.
func Hash(pin string) (string, error) {
	return password.Hash(pin)
}

// Verify checks a presented PIN against the stored argon2id hash.
func Verify(pin, hash string) (bool, error) {
	return password.Verify(pin, hash)
}

// Digest computes the org-scoped lookup digest for a PIN.
func Digest(secret []byte, orgID int64, pin string) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d:%s", orgID, pin)
	return hex.EncodeToString(mac.Sum(nil))
}
