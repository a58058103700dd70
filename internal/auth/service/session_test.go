package service

import (
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/lapse/internal/auth/domain"
	"github.com/aussiebroadwan/lapse/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestSessions(t *testing.T, clock *fakeClock) *SessionService {
	t.Helper()

	svc, err := NewSessionService(SessionConfig{
		Secret: testSecret,
		Issuer: "lapse",
		Now:    clock.Now,
	})
	require.NoError(t, err)
	return svc
}

func TestNewSessionService_WeakSecret(t *testing.T) {
	_, err := NewSessionService(SessionConfig{Secret: []byte("short"), Issuer: "lapse"})
	require.ErrorIs(t, err, ErrSigningUnavailable)

	_, err = NewSessionService(SessionConfig{Issuer: "lapse"})
	require.ErrorIs(t, err, ErrSigningUnavailable)
}

func TestSession_IssueAndValidate(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestSessions(t, clock)

	token, expiresAt, err := svc.Issue("alice@example.org")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, clock.Now().Add(jwtx.DefaultSessionTTL), expiresAt, "sixty days")

	session, err := svc.Validate(token)
	require.NoError(t, err)
	require.Equal(t, domain.Identity("alice@example.org"), session.Identity)
	require.Equal(t, expiresAt, session.ExpiresAt)
	require.Equal(t, clock.Now(), session.IssuedAt)
	require.NotEmpty(t, session.ID)
}

func TestSession_EmptyIdentity(t *testing.T) {
	svc := newTestSessions(t, newFakeClock(time.Now()))

	_, _, err := svc.Issue("")
	require.Error(t, err)
}

func TestSession_ExpiryEdge(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	svc := newTestSessions(t, clock)

	token, expiresAt, err := svc.Issue("alice@example.org")
	require.NoError(t, err)

	clock.Advance(jwtx.DefaultSessionTTL - time.Second)
	_, err = svc.Validate(token)
	require.NoError(t, err, "valid one second before expiry")

	clock.Advance(time.Second)
	require.Equal(t, expiresAt, clock.Now())
	_, err = svc.Validate(token)
	require.ErrorIs(t, err, ErrUnauthenticated, "invalid at expiry")
}

func TestSession_AnyMutationRejected(t *testing.T) {
	svc := newTestSessions(t, newFakeClock(time.Now()))

	token, _, err := svc.Issue("alice@example.org")
	require.NoError(t, err)

	for i := range len(token) {
		replacement := byte('A')
		if token[i] == 'A' {
			replacement = 'B'
		}
		mutated := token[:i] + string(replacement) + token[i+1:]

		_, err := svc.Validate(mutated)
		require.ErrorIs(t, err, ErrUnauthenticated, "mutation at byte %d accepted", i)
	}

	_, err = svc.Validate(token + "A")
	require.ErrorIs(t, err, ErrUnauthenticated)
	_, err = svc.Validate(token[:len(token)-1])
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSession_ForeignCredentialsRejected(t *testing.T) {
	clock := newFakeClock(time.Now())
	svc := newTestSessions(t, clock)

	other, err := NewSessionService(SessionConfig{
		Secret: []byte(strings.Repeat("z", 32)),
		Issuer: "lapse",
		Now:    clock.Now,
	})
	require.NoError(t, err)
	foreign, _, err := other.Issue("alice@example.org")
	require.NoError(t, err)

	_, err = svc.Validate(foreign)
	require.ErrorIs(t, err, ErrUnauthenticated, "different secret")

	otherIssuer, err := NewSessionService(SessionConfig{Secret: testSecret, Issuer: "someone-else", Now: clock.Now})
	require.NoError(t, err)
	foreign, _, err = otherIssuer.Issue("alice@example.org")
	require.NoError(t, err)

	_, err = svc.Validate(foreign)
	require.ErrorIs(t, err, ErrUnauthenticated, "different issuer")

	for _, garbage := range []string{"", "abc", "a.b.c", "eyJhbGciOiJub25lIn0.eyJzdWIiOiJhIn0."} {
		_, err = svc.Validate(garbage)
		require.ErrorIs(t, err, ErrUnauthenticated, garbage)
	}
}

func TestSession_KeyIsDerived(t *testing.T) {
	clock := newFakeClock(time.Now())
	svc := newTestSessions(t, clock)

	token, _, err := svc.Issue("alice@example.org")
	require.NoError(t, err)

	// A verifier keyed with the raw secret must not accept it.
	raw, err := jwtx.NewVerifierHS256(testSecret, jwtx.VerifyOptions{Issuer: "lapse", Now: clock.Now})
	require.NoError(t, err)
	_, err = raw.Verify(token)
	require.ErrorIs(t, err, jwtx.ErrInvalidSig)
}
