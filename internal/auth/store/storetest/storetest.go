// Package storetest holds behaviour checks every store driver must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/lapse/internal/auth/domain"
	"github.com/aussiebroadwan/lapse/internal/auth/store"
	"github.com/aussiebroadwan/lapse/pkg/cryptox"
	"github.com/aussiebroadwan/lapse/pkg/idx"
	"github.com/stretchr/testify/require"
)

// Options tweaks the suite for driver quirks.
type Options struct {
	// NativeExpiry is set for drivers where the backend evicts expired
	// records by itself, so DeleteExpired reports nothing.
	NativeExpiry bool
}

// NewLink builds a link for identity that expires ttl after now, returning
// the raw secret alongside it.
func NewLink(t *testing.T, identity domain.Identity, now time.Time, ttl time.Duration) (string, domain.MagicLink) {
	t.Helper()

	secret, err := cryptox.GenerateToken(cryptox.TokenSize256)
	require.NoError(t, err)

	return secret, domain.MagicLink{
		ID:        idx.NewAt(now).String(),
		TokenHash: cryptox.FingerprintToken(secret),
		Identity:  identity,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// RunMagicLinks runs the magic link behaviour suite against fresh stores
// from newStore.
func RunMagicLinks(t *testing.T, newStore func(t *testing.T) store.Store, opts Options) {
	ctx := context.Background()

	// Redis evicts in real time, so the suite stays near the wall clock.
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("take succeeds once", func(t *testing.T) {
		links := newStore(t).MagicLinks()
		_, link := NewLink(t, "alice@example.org", now, 10*time.Minute)
		require.NoError(t, links.Put(ctx, link))

		got, err := links.TakeIfValid(ctx, link.TokenHash, now.Add(9*time.Minute))
		require.NoError(t, err)
		require.Equal(t, link.ID, got.ID)
		require.Equal(t, link.Identity, got.Identity)
		require.True(t, link.ExpiresAt.Equal(got.ExpiresAt))
		require.True(t, link.IssuedAt.Equal(got.IssuedAt))

		_, err = links.TakeIfValid(ctx, link.TokenHash, now.Add(9*time.Minute))
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("caller clock decides expiry", func(t *testing.T) {
		links := newStore(t).MagicLinks()
		issued := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
		_, link := NewLink(t, "alice@example.org", issued, 10*time.Minute)
		require.NoError(t, links.Put(ctx, link))

		got, err := links.TakeIfValid(ctx, link.TokenHash, issued.Add(5*time.Minute))
		require.NoError(t, err)
		require.Equal(t, link.ID, got.ID)
	})

	t.Run("unknown hash", func(t *testing.T) {
		links := newStore(t).MagicLinks()
		_, err := links.TakeIfValid(ctx, cryptox.FingerprintToken("never-issued"), now)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("expired link is never taken", func(t *testing.T) {
		links := newStore(t).MagicLinks()
		_, link := NewLink(t, "alice@example.org", now, 10*time.Minute)
		require.NoError(t, links.Put(ctx, link))

		_, err := links.TakeIfValid(ctx, link.TokenHash, link.ExpiresAt)
		require.ErrorIs(t, err, store.ErrNotFound, "expiresAt <= now must fail")

		_, err = links.TakeIfValid(ctx, link.TokenHash, now.Add(11*time.Minute))
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("put replaces same hash", func(t *testing.T) {
		links := newStore(t).MagicLinks()
		_, link := NewLink(t, "alice@example.org", now, 10*time.Minute)
		require.NoError(t, links.Put(ctx, link))

		link.Identity = "bob@example.org"
		require.NoError(t, links.Put(ctx, link))

		got, err := links.TakeIfValid(ctx, link.TokenHash, now)
		require.NoError(t, err)
		require.Equal(t, domain.Identity("bob@example.org"), got.Identity)
	})

	t.Run("several links per identity", func(t *testing.T) {
		links := newStore(t).MagicLinks()
		_, first := NewLink(t, "alice@example.org", now, 10*time.Minute)
		_, second := NewLink(t, "alice@example.org", now, 10*time.Minute)
		require.NoError(t, links.Put(ctx, first))
		require.NoError(t, links.Put(ctx, second))

		_, err := links.TakeIfValid(ctx, first.TokenHash, now)
		require.NoError(t, err)
		_, err = links.TakeIfValid(ctx, second.TokenHash, now)
		require.NoError(t, err)
	})

	t.Run("delete is a rollback", func(t *testing.T) {
		links := newStore(t).MagicLinks()
		_, link := NewLink(t, "alice@example.org", now, 10*time.Minute)
		require.NoError(t, links.Put(ctx, link))

		require.NoError(t, links.Delete(ctx, link.TokenHash))
		require.NoError(t, links.Delete(ctx, link.TokenHash), "deleting twice is fine")

		_, err := links.TakeIfValid(ctx, link.TokenHash, now)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("sweep keeps pending links", func(t *testing.T) {
		links := newStore(t).MagicLinks()
		_, short := NewLink(t, "alice@example.org", now, time.Minute)
		_, long := NewLink(t, "bob@example.org", now, time.Hour)
		require.NoError(t, links.Put(ctx, short))
		require.NoError(t, links.Put(ctx, long))

		sweepAt := now.Add(2 * time.Minute)
		n, err := links.DeleteExpired(ctx, sweepAt)
		require.NoError(t, err)
		if !opts.NativeExpiry {
			require.EqualValues(t, 1, n)
		}

		_, err = links.TakeIfValid(ctx, short.TokenHash, sweepAt)
		require.ErrorIs(t, err, store.ErrNotFound)

		got, err := links.TakeIfValid(ctx, long.TokenHash, sweepAt)
		require.NoError(t, err)
		require.Equal(t, long.ID, got.ID)
	})

	t.Run("sweep removes link at its expiry instant", func(t *testing.T) {
		links := newStore(t).MagicLinks()
		_, link := NewLink(t, "alice@example.org", now, time.Minute)
		require.NoError(t, links.Put(ctx, link))

		_, err := links.DeleteExpired(ctx, link.ExpiresAt)
		require.NoError(t, err)

		// Nothing can bring it back to pending, even a clock behind expiry.
		_, err = links.TakeIfValid(ctx, link.TokenHash, now)
		if !opts.NativeExpiry {
			require.ErrorIs(t, err, store.ErrNotFound)
		}
	})

	t.Run("concurrent takes yield one winner", func(t *testing.T) {
		links := newStore(t).MagicLinks()
		_, link := NewLink(t, "alice@example.org", now, 10*time.Minute)
		require.NoError(t, links.Put(ctx, link))

		const callers = 32
		var (
			wg       sync.WaitGroup
			start    = make(chan struct{})
			winners  atomic.Int32
			notFound atomic.Int32
		)
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := links.TakeIfValid(ctx, link.TokenHash, now)
				switch {
				case err == nil:
					winners.Add(1)
				case errors.Is(err, store.ErrNotFound):
					notFound.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.EqualValues(t, 1, winners.Load())
		require.EqualValues(t, callers-1, notFound.Load())
	})
}
