package postgres

import (
	"context"
	"time"

	"github.com/aussiebroadwan/lapse/internal/auth/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	putMagicLink = `
INSERT INTO magic_links (token_hash, id, identity, issued_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (token_hash) DO UPDATE SET
    id         = EXCLUDED.id,
    identity   = EXCLUDED.identity,
    issued_at  = EXCLUDED.issued_at,
    expires_at = EXCLUDED.expires_at`

	// Concurrent deletes of the same row serialise on its row lock; the
	// loser re-evaluates against a row that is already gone.
	takeMagicLink = `
DELETE FROM magic_links
WHERE token_hash = $1 AND expires_at > $2
RETURNING id, identity, issued_at, expires_at`

	deleteMagicLink = `DELETE FROM magic_links WHERE token_hash = $1`

	deleteExpiredMagicLinks = `DELETE FROM magic_links WHERE expires_at <= $1`
)

type magicLinksRepo struct {
	pool *pgxpool.Pool
}

func (r *magicLinksRepo) Put(ctx context.Context, link domain.MagicLink) error {
	_, err := r.pool.Exec(ctx, putMagicLink,
		link.TokenHash,
		link.ID,
		link.Identity.String(),
		link.IssuedAt.UTC(),
		link.ExpiresAt.UTC(),
	)
	return mapErr(err)
}

func (r *magicLinksRepo) TakeIfValid(ctx context.Context, tokenHash string, now time.Time) (domain.MagicLink, error) {
	var (
		link     = domain.MagicLink{TokenHash: tokenHash}
		identity string
	)

	err := r.pool.QueryRow(ctx, takeMagicLink, tokenHash, now.UTC()).
		Scan(&link.ID, &identity, &link.IssuedAt, &link.ExpiresAt)
	if err != nil {
		return domain.MagicLink{}, mapErr(err)
	}

	link.Identity = domain.Identity(identity)
	link.IssuedAt = link.IssuedAt.UTC()
	link.ExpiresAt = link.ExpiresAt.UTC()
	return link, nil
}

func (r *magicLinksRepo) Delete(ctx context.Context, tokenHash string) error {
	_, err := r.pool.Exec(ctx, deleteMagicLink, tokenHash)
	return mapErr(err)
}

func (r *magicLinksRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, deleteExpiredMagicLinks, now.UTC())
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}
