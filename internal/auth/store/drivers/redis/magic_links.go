package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/lapse/internal/auth/domain"
	"github.com/aussiebroadwan/lapse/internal/auth/store"
	"github.com/redis/go-redis/v9"
)

// record is the JSON value stored under each key. The token hash is the
// key itself.
type record struct {
	ID        string `json:"id"`
	Identity  string `json:"identity"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}

type magicLinksRepo struct {
	client *redis.Client
	prefix string
}

func (r *magicLinksRepo) key(tokenHash string) string { return r.prefix + tokenHash }

// Put stores the link with a TTL of its lifetime so the server evicts it
// without help. The TTL comes from the link's own timestamps, never the
// local wall clock.
func (r *magicLinksRepo) Put(ctx context.Context, link domain.MagicLink) error {
	ttl := link.ExpiresAt.Sub(link.IssuedAt)
	if ttl <= 0 {
		return fmt.Errorf("redis store: link %s expires before it is issued", link.ID)
	}

	value, err := json.Marshal(record{
		ID:        link.ID,
		Identity:  link.Identity.String(),
		IssuedAt:  link.IssuedAt.UnixMilli(),
		ExpiresAt: link.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("redis store: encode link: %w", err)
	}

	if err := r.client.Set(ctx, r.key(link.TokenHash), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}

// TakeIfValid relies on GETDEL being atomic on the server: exactly one
// caller receives the value. The expiry check runs afterwards, so a
// link found past its expiry is still removed.
func (r *magicLinksRepo) TakeIfValid(ctx context.Context, tokenHash string, now time.Time) (domain.MagicLink, error) {
	value, err := r.client.GetDel(ctx, r.key(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.MagicLink{}, store.ErrNotFound
	}
	if err != nil {
		return domain.MagicLink{}, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}

	var rec record
	if err := json.Unmarshal(value, &rec); err != nil {
		return domain.MagicLink{}, fmt.Errorf("redis store: decode link: %w", err)
	}

	link := domain.MagicLink{
		ID:        rec.ID,
		TokenHash: tokenHash,
		Identity:  domain.Identity(rec.Identity),
		IssuedAt:  time.UnixMilli(rec.IssuedAt).UTC(),
		ExpiresAt: time.UnixMilli(rec.ExpiresAt).UTC(),
	}
	if !link.Pending(now) {
		return domain.MagicLink{}, store.ErrNotFound
	}
	return link, nil
}

func (r *magicLinksRepo) Delete(ctx context.Context, tokenHash string) error {
	if err := r.client.Del(ctx, r.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}

// DeleteExpired has nothing to do; key TTLs already evict expired links.
func (r *magicLinksRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
