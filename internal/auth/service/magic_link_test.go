package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/lapse/internal/auth/domain"
	"github.com/aussiebroadwan/lapse/pkg/cryptox"
	"github.com/aussiebroadwan/lapse/pkg/mailx"
	"github.com/aussiebroadwan/lapse/pkg/slogx"
	"github.com/stretchr/testify/require"
)

type magicLinkFixture struct {
	svc    *MagicLinkService
	mailer *fakeMailer
	clock  *fakeClock
}

func newMagicLinkFixture(t *testing.T, allowed ...string) magicLinkFixture {
	t.Helper()

	mailer := &fakeMailer{}
	clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	svc := NewMagicLinkService(
		newTestStore(t),
		mailer,
		NewAllowList(allowed),
		domain.NewIdentityPolicy(nil),
		MagicLinkConfig{BaseURL: "https://auth.example.org/"},
	)
	svc.Now = clock.Now

	return magicLinkFixture{svc: svc, mailer: mailer, clock: clock}
}

func TestRequestLink_SignInOnce(t *testing.T) {
	ctx := context.Background()
	f := newMagicLinkFixture(t)

	require.NoError(t, f.svc.RequestLink(ctx, "alice@example.org"))

	msgs := f.mailer.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "alice@example.org", msgs[0].To)
	require.Equal(t, magicLinkTag, msgs[0].Tag)

	secret := secretFrom(t, msgs[0])
	require.Len(t, secret, 43, "256-bit secret, base64url")
	require.Contains(t, msgs[0].TextBody, "https://auth.example.org/v1/auth/consume?token="+secret)
	require.Contains(t, msgs[0].HTMLBody, "https://auth.example.org/v1/auth/consume?token="+secret)
	require.Contains(t, msgs[0].TextBody, "10 minutes")

	id, err := f.svc.Consume(ctx, secret)
	require.NoError(t, err)
	require.Equal(t, domain.Identity("alice@example.org"), id)

	_, err = f.svc.Consume(ctx, secret)
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestRequestLink_NormalisesIdentity(t *testing.T) {
	ctx := context.Background()
	f := newMagicLinkFixture(t)

	require.NoError(t, f.svc.RequestLink(ctx, "  Alice@Example.ORG "))

	msgs := f.mailer.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "alice@example.org", msgs[0].To)

	id, err := f.svc.Consume(ctx, secretFrom(t, msgs[0]))
	require.NoError(t, err)
	require.Equal(t, domain.Identity("alice@example.org"), id)
}

func TestRequestLink_InvalidIdentity(t *testing.T) {
	ctx := context.Background()
	f := newMagicLinkFixture(t)

	for _, claimed := range []string{"", "not-an-email", "Alice <alice@example.org>", "alice@localhost", strings.Repeat("a", 250) + "@example.org"} {
		err := f.svc.RequestLink(ctx, claimed)
		require.ErrorIs(t, err, ErrInvalidIdentity, claimed)
	}

	require.Empty(t, f.mailer.Messages())
	require.Zero(t, countLinks(t, f.svc.Store))
}

func TestRequestLink_DisallowedDomain(t *testing.T) {
	f := newMagicLinkFixture(t)
	f.svc.Policy = domain.NewIdentityPolicy([]string{"example.org"})

	err := f.svc.RequestLink(context.Background(), "mallory@evil.test")
	require.ErrorIs(t, err, ErrInvalidIdentity)
	require.ErrorIs(t, err, domain.ErrIdentityNotAllowed)
	require.Empty(t, f.mailer.Messages())
}

func TestRequestLink_UnknownIdentityLooksLikeSuccess(t *testing.T) {
	ctx := context.Background()
	f := newMagicLinkFixture(t, "alice@example.org")

	require.NoError(t, f.svc.RequestLink(ctx, "mallory@example.org"))
	require.Empty(t, f.mailer.Messages(), "nothing is sent to unknown identities")
	require.Zero(t, countLinks(t, f.svc.Store), "nothing is minted either")

	require.NoError(t, f.svc.RequestLink(ctx, "alice@example.org"))
	require.Len(t, f.mailer.Messages(), 1)
}

func TestConsume_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	f := newMagicLinkFixture(t)

	require.NoError(t, f.svc.RequestLink(ctx, "alice@example.org"))
	require.NoError(t, f.svc.RequestLink(ctx, "bob@example.org"))
	msgs := f.mailer.Messages()

	f.clock.Advance(9 * time.Minute)
	_, err := f.svc.Consume(ctx, secretFrom(t, msgs[1]))
	require.NoError(t, err, "still valid at nine minutes")

	f.clock.Advance(2 * time.Minute)
	_, err = f.svc.Consume(ctx, secretFrom(t, msgs[0]))
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken, "expired at eleven minutes")
}

func TestConsume_ExpiryIsExclusive(t *testing.T) {
	ctx := context.Background()
	f := newMagicLinkFixture(t)

	require.NoError(t, f.svc.RequestLink(ctx, "alice@example.org"))

	f.clock.Advance(domain.DefaultMagicLinkTTL)
	_, err := f.svc.Consume(ctx, secretFrom(t, f.mailer.Messages()[0]))
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestConsume_Garbage(t *testing.T) {
	ctx := context.Background()
	f := newMagicLinkFixture(t)

	for _, secret := range []string{"", "nope", strings.Repeat("x", 4096)} {
		_, err := f.svc.Consume(ctx, secret)
		require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	}
}

func TestConsume_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newMagicLinkFixture(t)

	require.NoError(t, f.svc.RequestLink(ctx, "alice@example.org"))
	secret := secretFrom(t, f.mailer.Messages()[0])

	const callers = 16
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		winners atomic.Int32
		losers  atomic.Int32
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Consume(ctx, secret)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, ErrInvalidOrExpiredToken):
				losers.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, winners.Load())
	require.EqualValues(t, callers-1, losers.Load())
}

func TestRequestLink_MultipleOutstanding(t *testing.T) {
	ctx := context.Background()
	f := newMagicLinkFixture(t)

	require.NoError(t, f.svc.RequestLink(ctx, "alice@example.org"))
	require.NoError(t, f.svc.RequestLink(ctx, "alice@example.org"))

	msgs := f.mailer.Messages()
	require.Len(t, msgs, 2)
	require.NotEqual(t, secretFrom(t, msgs[0]), secretFrom(t, msgs[1]))

	for _, msg := range msgs {
		id, err := f.svc.Consume(ctx, secretFrom(t, msg))
		require.NoError(t, err)
		require.Equal(t, domain.Identity("alice@example.org"), id)
	}
}

func TestRequestLink_DeliveryFailureWithdrawsLink(t *testing.T) {
	ctx := context.Background()
	f := newMagicLinkFixture(t)
	f.mailer.send = func(context.Context, mailx.Message) error {
		return mailx.ErrSendFailed
	}

	err := f.svc.RequestLink(ctx, "alice@example.org")
	require.ErrorIs(t, err, ErrDeliveryFailed)

	msgs := f.mailer.Messages()
	require.Len(t, msgs, 1, "exactly one attempt")

	_, err = f.svc.Consume(ctx, secretFrom(t, msgs[0]))
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken, "undelivered link must not work")
	require.Zero(t, countLinks(t, f.svc.Store))
}

func TestRequestLink_MailTimeout(t *testing.T) {
	f := newMagicLinkFixture(t)
	f.svc.Config.MailTimeout = 20 * time.Millisecond
	f.mailer.send = func(ctx context.Context, _ mailx.Message) error {
		<-ctx.Done()
		return ctx.Err()
	}

	err := f.svc.RequestLink(context.Background(), "alice@example.org")
	require.ErrorIs(t, err, ErrDeliveryFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, countLinks(t, f.svc.Store))
}

func TestRequestLink_CallerGoneStillRollsBack(t *testing.T) {
	f := newMagicLinkFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.mailer.send = func(sendCtx context.Context, _ mailx.Message) error {
		cancel()
		<-sendCtx.Done()
		return sendCtx.Err()
	}

	err := f.svc.RequestLink(ctx, "alice@example.org")
	require.ErrorIs(t, err, ErrDeliveryFailed)
	require.Zero(t, countLinks(t, f.svc.Store))
}

func TestRequestLink_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newMagicLinkFixture(t)
	require.NoError(t, f.svc.Store.Close())

	err := f.svc.RequestLink(ctx, "alice@example.org")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Empty(t, f.mailer.Messages(), "no email without a stored link")

	_, err = f.svc.Consume(ctx, "some-secret")
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestMagicLinkService_NeverLogsSecrets(t *testing.T) {
	var buf bytes.Buffer
	ctx := slogx.WithContext(context.Background(), slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	f := newMagicLinkFixture(t)

	require.NoError(t, f.svc.RequestLink(ctx, "alice@example.org"))
	secret := secretFrom(t, f.mailer.Messages()[0])

	_, err := f.svc.Consume(ctx, secret)
	require.NoError(t, err)
	_, err = f.svc.Consume(ctx, secret)
	require.Error(t, err)

	logs := buf.String()
	require.Contains(t, logs, "magic link issued")
	require.Contains(t, logs, "magic link consumed")
	require.NotContains(t, logs, secret)
	require.NotContains(t, logs, cryptox.FingerprintToken(secret))
}
