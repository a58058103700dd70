package service

import (
	"fmt"
	"time"

	"github.com/aussiebroadwan/lapse/internal/auth/domain"
	"github.com/aussiebroadwan/lapse/pkg/cryptox"
	"github.com/aussiebroadwan/lapse/pkg/jwtx"
)

// sessionKeyInfo binds the derived HMAC key to its single use.
const sessionKeyInfo = "lapse/session/hs256/v1"

type SessionConfig struct {
	// Secret is the configured signing secret, at least 32 bytes. The
	// HMAC key is derived from it rather than used directly.
	Secret []byte
	Issuer string
	TTL    time.Duration

	// Now overrides the clock for tests.
	Now func() time.Time
}

// SessionService mints and checks stateless session credentials.
type SessionService struct {
	signer   jwtx.Signer
	verifier jwtx.Verifier
	issuer   string
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionService fails with ErrSigningUnavailable when no usable key can
// be derived; the service must not start without one.
func NewSessionService(cfg SessionConfig) (*SessionService, error) {
	key, err := cryptox.DeriveKey(cfg.Secret, sessionKeyInfo, jwtx.MinKeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningUnavailable, err)
	}

	if cfg.TTL <= 0 {
		cfg.TTL = jwtx.DefaultSessionTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	signer, err := jwtx.NewSignerHS256(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningUnavailable, err)
	}
	verifier, err := jwtx.NewVerifierHS256(key, jwtx.VerifyOptions{
		Issuer: cfg.Issuer,
		Now:    cfg.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningUnavailable, err)
	}

	return &SessionService{
		signer:   signer,
		verifier: verifier,
		issuer:   cfg.Issuer,
		ttl:      cfg.TTL,
		now:      cfg.Now,
	}, nil
}

// TTL is the lifetime given to every new session.
func (s *SessionService) TTL() time.Duration { return s.ttl }

// Issue returns a credential for identity and the instant it stops being
// valid. The expiry is whole seconds, matching what the token carries.
func (s *SessionService) Issue(identity domain.Identity) (string, time.Time, error) {
	if identity == "" {
		return "", time.Time{}, fmt.Errorf("issue session: %w", ErrInvalidIdentity)
	}

	claims := jwtx.NewSessionClaims(identity.String(), s.issuer, s.ttl, s.now())
	token, err := s.signer.Sign(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %w", ErrSigningUnavailable, err)
	}

	return token, claims.Expiry(), nil
}

// Validate accepts a credential only if it is untampered, from this issuer
// and not yet at its expiry. Every failure wraps ErrUnauthenticated.
func (s *SessionService) Validate(token string) (domain.Session, error) {
	if token == "" {
		return domain.Session{}, ErrUnauthenticated
	}

	claims, err := s.verifier.Verify(token)
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	session := domain.Session{
		ID:        claims.ID,
		Identity:  domain.Identity(claims.Subject),
		ExpiresAt: claims.Expiry(),
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.UTC()
	}
	return session, nil
}
