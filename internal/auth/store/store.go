package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/lapse/internal/auth/domain"
)

var (
	// ErrNotFound covers every reason a link can't be taken: it never
	// existed, it was already consumed, or it expired.
	ErrNotFound = errors.New("store: not found")

	// ErrUnavailable wraps failures to reach the backing store.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres, redis) implement this and hand out sub-repositories so callers
// only see the operations they need.
type Store interface {
	MagicLinks() MagicLinks

	// ApplyMigrations brings the schema up to date. Drivers without a
	// schema treat this as a no-op.
	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the backing store is still reachable.
	Ping(ctx context.Context) error
}

// MagicLinks is the durable record of outstanding magic links, keyed by the
// fingerprint of the link secret.
type MagicLinks interface {
	// Put inserts the link, replacing any record with the same TokenHash.
	Put(ctx context.Context, link domain.MagicLink) error

	// TakeIfValid deletes and returns the link for tokenHash if it exists and
	// expires after now. It is atomic: for a given hash at most one caller,
	// across every process sharing the store, ever gets a nil error.
	// Everything else returns ErrNotFound.
	TakeIfValid(ctx context.Context, tokenHash string, now time.Time) (domain.MagicLink, error)

	// Delete removes the link for tokenHash if present. Deleting a missing
	// link is not an error.
	Delete(ctx context.Context, tokenHash string) error

	// DeleteExpired removes every link with ExpiresAt <= now and reports how
	// many went.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
