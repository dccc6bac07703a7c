// Package password stores secrets as self-describing argon2id strings in
// the `$argon2id$v=..$m=..,t=..,p=..$salt$hash` format, so cost parameters
// can change without invalidating existing hashes.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	costTime    uint32 = 3
	costMemory  uint32 = 64 * 1024
	costThreads uint8  = 2
	keyLength   uint32 = 32
	saltLength         = 16
)

var errMalformedHash = errors.New("malformed password hash")

// params are the argon2id cost settings recovered from an encoded hash.
type params struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	sum     []byte
}

// Hash derives an argon2id hash of the secret with the current costs.
func Hash(secret string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(secret), salt, costTime, costMemory, costThreads, keyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		costMemory,
		costTime,
		costThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify re-derives the hash with the costs recorded in the encoded string
// and compares in constant time.
func Verify(secret, encoded string) (bool, error) {
	p, err := decode(encoded)
	if err != nil {
		return false, err
	}

	actual := argon2.IDKey([]byte(secret), p.salt, p.time, p.memory, p.threads, uint32(len(p.sum)))
	return subtle.ConstantTimeCompare(actual, p.sum) == 1, nil
}

func decode(encoded string) (params, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params{}, errMalformedHash
	}

	version, err := intField(parts[2], "v=")
	if err != nil || version != argon2.Version {
		return params{}, errMalformedHash
	}

	costs := strings.Split(parts[3], ",")
	if len(costs) != 3 {
		return params{}, errMalformedHash
	}
	memory, memErr := intField(costs[0], "m=")
	timeCost, timeErr := intField(costs[1], "t=")
	threads, threadErr := intField(costs[2], "p=")
	if memErr != nil || timeErr != nil || threadErr != nil || threads < 1 || threads > 255 {
		return params{}, errMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params{}, errMalformedHash
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params{}, errMalformedHash
	}

	return params{
		memory:  uint32(memory),
		time:    uint32(timeCost),
		threads: uint8(threads),
		salt:    salt,
		sum:     sum,
	}, nil
}

func intField(value, prefix string) (int, error) {
	raw, ok := strings.CutPrefix(value, prefix)
	if !ok {
		return 0, errMalformedHash
	}
	parsed, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, errMalformedHash
	}
	return int(parsed), nil
}
