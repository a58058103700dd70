package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates a session credential and gives you back the claims if
// it's legit.
type Verifier interface {
	Verify(token string) (SessionClaims, error)
}

// VerifyOptions captures the expectations a verifier enforces.
type VerifyOptions struct {
	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Leeway allows clock skew on exp/nbf. Zero means exp is a hard edge:
	// a token is only valid while now < exp.
	Leeway time.Duration

	// Now overrides the clock, used by tests. Defaults to time.Now.
	Now func() time.Time
}

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrInvalid     = errors.New("jwtx: invalid claims")
)

// HS256Verifier validates credentials produced by HS256Signer.
type HS256Verifier struct {
	key    []byte
	parser *jwt.Parser
}

// NewVerifierHS256 creates a verifier for the given HMAC key.
func NewVerifierHS256(key []byte, opts VerifyOptions) (*HS256Verifier, error) {
	if len(key) < MinKeySize {
		return nil, ErrKeyTooShort
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		// Strict decoding rejects non-canonical base64, otherwise flipping
		// the padding bits of the last character would still verify.
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(opts.Leeway),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Now != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(opts.Now))
	}

	return &HS256Verifier{
		key:    append([]byte(nil), key...),
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

// Verify validates the token string and returns its parsed claims. The
// returned error wraps one of the package sentinels so callers can log the
// cause, but anything shown to a client should stay uniform.
func (v *HS256Verifier) Verify(tokenStr string) (SessionClaims, error) {
	var claims SessionClaims
	token, err := v.parser.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return SessionClaims{}, classify(err)
	}
	if !token.Valid || claims.Subject == "" {
		return SessionClaims{}, ErrInvalid
	}

	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %w", ErrNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %w", ErrInvalidSig, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %w", ErrIssuer, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	default:
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
}
