package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/lapse/internal/auth/domain"
)

const (
	putMagicLink = `
INSERT INTO magic_links (token_hash, id, identity, issued_at, expires_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (token_hash) DO UPDATE SET
    id         = excluded.id,
    identity   = excluded.identity,
    issued_at  = excluded.issued_at,
    expires_at = excluded.expires_at`

	// A single DELETE ... RETURNING is the compare-and-delete: the row is
	// gone by the time anyone sees it, so a second caller finds nothing.
	takeMagicLink = `
DELETE FROM magic_links
WHERE token_hash = ? AND expires_at > ?
RETURNING id, identity, issued_at, expires_at`

	deleteMagicLink = `DELETE FROM magic_links WHERE token_hash = ?`

	deleteExpiredMagicLinks = `DELETE FROM magic_links WHERE expires_at <= ?`
)

type magicLinksRepo struct {
	db *sql.DB
}

func (r *magicLinksRepo) Put(ctx context.Context, link domain.MagicLink) error {
	_, err := r.db.ExecContext(ctx, putMagicLink,
		link.TokenHash,
		link.ID,
		link.Identity.String(),
		toMillis(link.IssuedAt),
		toMillis(link.ExpiresAt),
	)
	return mapErr(err)
}

func (r *magicLinksRepo) TakeIfValid(ctx context.Context, tokenHash string, now time.Time) (domain.MagicLink, error) {
	var (
		link      = domain.MagicLink{TokenHash: tokenHash}
		identity  string
		issuedAt  int64
		expiresAt int64
	)

	row := r.db.QueryRowContext(ctx, takeMagicLink, tokenHash, toMillis(now))
	if err := row.Scan(&link.ID, &identity, &issuedAt, &expiresAt); err != nil {
		return domain.MagicLink{}, mapErr(err)
	}

	link.Identity = domain.Identity(identity)
	link.IssuedAt = fromMillis(issuedAt)
	link.ExpiresAt = fromMillis(expiresAt)
	return link, nil
}

func (r *magicLinksRepo) Delete(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, deleteMagicLink, tokenHash)
	return mapErr(err)
}

func (r *magicLinksRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteExpiredMagicLinks, toMillis(now))
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}
