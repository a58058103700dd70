package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL is how long a session credential stays valid after it is
// issued. There is no sliding renewal, the session simply ends here.
const DefaultSessionTTL = 60 * 24 * time.Hour

// SessionClaims are the claims carried by a session credential. The subject
// is the normalised email address of the signed in user.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// NewSessionClaims builds claims for a session starting at now.
func NewSessionClaims(subject, issuer string, ttl time.Duration, now time.Time) SessionClaims {
	return SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
	}
}

// Expiry returns the absolute expiry in UTC, or the zero time when exp is
// missing.
func (c SessionClaims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.UTC()
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
