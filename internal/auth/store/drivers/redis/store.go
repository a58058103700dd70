package redis

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/lapse/internal/auth/store"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "lapse:magic_link:"

type Store struct {
	client *redis.Client
	prefix string
}

// NewStore connects to the server at url (redis:// or rediss://) and
// verifies it answers.
func NewStore(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis store: parse url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}

	return &Store{client: client, prefix: defaultPrefix}, nil
}

func (s *Store) Close() error { return s.client.Close() }

// ApplyMigrations is a no-op; keys need no schema.
func (s *Store) ApplyMigrations() error { return nil }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) MagicLinks() store.MagicLinks {
	return &magicLinksRepo{client: s.client, prefix: s.prefix}
}
