package app

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"github.com/aussiebroadwan/lapse/internal/auth/service"
)

// InitSessionService builds the session signer from the configured secret.
//
// Secret sources, in order:
//   - AUTH_SESSION_SECRET: the secret itself.
//   - AUTH_SESSION_SECRET_FILE: a file holding it, e.g. a mounted secret.
//     Surrounding whitespace is ignored.
//
// The secret must be at least 32 bytes. The signing key is derived from it,
// so rotating the secret invalidates every outstanding session.
func InitSessionService(cfg Config, logger *slog.Logger) (*service.SessionService, error) {
	secret, source, err := loadSessionSecret(cfg)
	if err != nil {
		return nil, err
	}

	sessions, err := service.NewSessionService(service.SessionConfig{
		Secret: secret,
		Issuer: cfg.Issuer,
		TTL:    cfg.SessionTTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("session signing key (from %s): %w", source, err)
	}

	logger.Info("session signing key ready",
		"source", source,
		"issuer", cfg.Issuer,
		"session_ttl", sessions.TTL(),
	)
	return sessions, nil
}

func loadSessionSecret(cfg Config) ([]byte, string, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), "AUTH_SESSION_SECRET", nil
	}
	if cfg.SessionSecretFile == "" {
		return nil, "", fmt.Errorf("%w: no session secret configured", service.ErrSigningUnavailable)
	}

	raw, err := os.ReadFile(cfg.SessionSecretFile)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read %s: %w", service.ErrSigningUnavailable, cfg.SessionSecretFile, err)
	}
	return bytes.TrimSpace(raw), "AUTH_SESSION_SECRET_FILE", nil
}
