package jwtx

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// MinKeySize is the smallest HMAC key we will sign with.
const MinKeySize = 32

var ErrKeyTooShort = errors.New("jwtx: hmac key must be at least 32 bytes")

// Signer is our interface for anything that can sign session credentials.
type Signer interface {
	Alg() string
	Sign(SessionClaims) (string, error)
}

// HS256Signer signs session credentials with HMAC-SHA256 using a single
// process wide key.
type HS256Signer struct {
	key []byte
}

// NewSignerHS256 creates an HS256 signer. The key is copied so callers can
// wipe their buffer afterwards.
func NewSignerHS256(key []byte) (*HS256Signer, error) {
	if len(key) < MinKeySize {
		return nil, ErrKeyTooShort
	}
	return &HS256Signer{key: append([]byte(nil), key...)}, nil
}

func (s *HS256Signer) Alg() string { return jwt.SigningMethodHS256.Alg() }

// Sign turns the claims into a compact JWS string.
func (s *HS256Signer) Sign(claims SessionClaims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.key)
}
