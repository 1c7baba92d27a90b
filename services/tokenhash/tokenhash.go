// Package tokenhash generates opaque token secrets and the one-way digests
// that are stored in their place.
package tokenhash

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

var ErrInvalidLength = errors.New("token length must be positive")

// Generate returns n random bytes encoded as unpadded base64url.
func Generate(n int) (string, error) {
	if n <= 0 {
		return "", ErrInvalidLength
	}

	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Hash returns the lowercase hex SHA-256 digest of raw.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Matches reports whether raw hashes to digest.
func Matches(raw, digest string) bool {
	return Equal(Hash(raw), digest)
}

// Short trims a digest for log output.
func Short(digest string) string {
	if len(digest) <= 12 {
		return digest
	}
	return digest[:12]
}
