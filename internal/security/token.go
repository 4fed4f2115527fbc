package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// NewSessionToken mints an opaque admin session credential. The raw value is
// handed to the client once; only its hash is persisted.
func NewSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSessionToken derives the storage key for a session token. The pepper is
// a deployment secret so a leaked table alone cannot be replayed.
func HashSessionToken(token, pepper string) string {
	sum := sha256.Sum256([]byte(token + pepper))
	return hex.EncodeToString(sum[:])
}

// BearerExpired reports whether a provider-issued access token is confidently
// past its expiry. Provider access tokens are JWTs; their signature is only
// the provider's to check, but the exp claim can be read locally to skip a
// round-trip for tokens that cannot possibly verify. Anything that does not
// parse defers to the provider.
func BearerExpired(raw string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return now.After(claims.ExpiresAt.Time)
}
