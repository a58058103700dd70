package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/lapse/internal/auth/domain"
	"github.com/aussiebroadwan/lapse/internal/auth/store"
	"github.com/aussiebroadwan/lapse/pkg/cryptox"
	"github.com/aussiebroadwan/lapse/pkg/idx"
	"github.com/aussiebroadwan/lapse/pkg/mailx"
	"github.com/aussiebroadwan/lapse/pkg/slogx"
)

// ConsumePath is where emailed links point, relative to the base URL.
const ConsumePath = "/v1/auth/consume"

// DefaultMailTimeout bounds a single delivery attempt.
const DefaultMailTimeout = 10 * time.Second

// maxSecretLen caps what Consume will even hash.
const maxSecretLen = 512

type MagicLinkConfig struct {
	// BaseURL is the public origin links are built on, e.g.
	// https://auth.example.org.
	BaseURL string

	// TTL is how long a link stays redeemable.
	TTL time.Duration

	// MailTimeout bounds the one delivery attempt per request.
	MailTimeout time.Duration
}

// MagicLinkService issues and redeems single-use sign-in links.
type MagicLinkService struct {
	Store     store.Store
	Mailer    mailx.Sender
	Directory Directory
	Policy    domain.IdentityPolicy
	Config    MagicLinkConfig

	// Now overrides the clock for tests.
	Now func() time.Time
}

func NewMagicLinkService(
	st store.Store,
	mailer mailx.Sender,
	dir Directory,
	policy domain.IdentityPolicy,
	cfg MagicLinkConfig,
) *MagicLinkService {
	if cfg.TTL <= 0 {
		cfg.TTL = domain.DefaultMagicLinkTTL
	}
	if cfg.MailTimeout <= 0 {
		cfg.MailTimeout = DefaultMailTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &MagicLinkService{
		Store:     st,
		Mailer:    mailer,
		Directory: dir,
		Policy:    policy,
		Config:    cfg,
		Now:       time.Now,
	}
}

func (s *MagicLinkService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// LinkURL builds the URL emailed for secret.
func (s *MagicLinkService) LinkURL(secret string) string {
	return s.Config.BaseURL + ConsumePath + "?token=" + url.QueryEscape(secret)
}

// RequestLink mints a link for the claimed identity and emails it. Known
// and unknown identities get the same nil error; only known ones get mail.
// The secret is never returned.
func (s *MagicLinkService) RequestLink(ctx context.Context, claimed string) error {
	log := slogx.FromContext(ctx)

	// 1. Validate and normalise the address.
	id, err := s.Policy.Validate(claimed)
	if err != nil {
		log.Info("magic link request rejected", slog.String("reason", err.Error()))
		return fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}

	// 2. Unknown identities stop here, silently.
	known, err := s.Directory.Known(ctx, id)
	if err != nil {
		log.Error("directory lookup failed", slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !known {
		log.Info("magic link not sent, identity unknown", slog.String("identity", id.String()))
		return nil
	}

	links := s.Store.MagicLinks()
	now := s.now()

	// 3. Opportunistic sweep. Failure here never blocks a sign-in.
	if n, err := links.DeleteExpired(ctx, now); err != nil {
		log.Warn("opportunistic sweep failed", slog.Any("error", err))
	} else if n > 0 {
		log.Debug("swept expired magic links", slog.Int64("count", n))
	}

	// 4. Mint the secret and persist only its fingerprint.
	secret, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return fmt.Errorf("generate link secret: %w", err)
	}

	link := domain.MagicLink{
		ID:        idx.NewAt(now).String(),
		TokenHash: cryptox.FingerprintToken(secret),
		Identity:  id,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.Config.TTL),
	}

	msg, err := renderMagicLinkEmail(id, s.LinkURL(secret), s.Config.TTL)
	if err != nil {
		return fmt.Errorf("render magic link email: %w", err)
	}

	if err := links.Put(ctx, link); err != nil {
		log.Error("failed to store magic link", slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	// 5. One delivery attempt. If it fails the link must not outlive the
	// request, even when the caller has gone away.
	sendCtx, cancel := context.WithTimeout(ctx, s.Config.MailTimeout)
	err = s.Mailer.Send(sendCtx, msg)
	cancel()
	if err != nil {
		log.Error("magic link delivery failed",
			slog.String("link_id", link.ID),
			slog.String("identity", id.String()),
			slog.Any("error", err),
		)
		if derr := links.Delete(context.WithoutCancel(ctx), link.TokenHash); derr != nil {
			log.Error("failed to withdraw undelivered magic link",
				slog.String("link_id", link.ID),
				slog.Any("error", derr),
			)
		}
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	log.Info("magic link issued",
		slog.String("link_id", link.ID),
		slog.String("identity", id.String()),
		slog.Time("expires_at", link.ExpiresAt),
	)
	return nil
}

// Consume redeems secret exactly once. Every failure that is the caller's
// fault comes back as ErrInvalidOrExpiredToken.
func (s *MagicLinkService) Consume(ctx context.Context, secret string) (domain.Identity, error) {
	log := slogx.FromContext(ctx)

	if secret == "" || len(secret) > maxSecretLen {
		log.Info("magic link rejected", slog.String("reason", "malformed"))
		return "", ErrInvalidOrExpiredToken
	}

	link, err := s.Store.MagicLinks().TakeIfValid(ctx, cryptox.FingerprintToken(secret), s.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Info("magic link rejected", slog.String("reason", "unknown, used or expired"))
		return "", ErrInvalidOrExpiredToken
	case err != nil:
		log.Error("failed to take magic link", slog.Any("error", err))
		return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	log.Info("magic link consumed",
		slog.String("link_id", link.ID),
		slog.String("identity", link.Identity.String()),
	)
	return link.Identity, nil
}
