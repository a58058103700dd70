package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/lapse/internal/auth/service"
	"github.com/aussiebroadwan/lapse/internal/auth/store"
	"github.com/aussiebroadwan/lapse/internal/auth/store/drivers/postgres"
	"github.com/aussiebroadwan/lapse/internal/auth/store/drivers/redis"
	"github.com/aussiebroadwan/lapse/internal/auth/store/drivers/sqlite"
)

// OpenStore connects to the configured token store. It does not migrate.
func OpenStore(ctx context.Context, cfg Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case DriverSQLite:
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.DatabaseFile)
		return sqlite.NewStore(dsn)
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.DatabaseURL)
	case DriverRedis:
		return redis.NewStore(ctx, cfg.RedisURL)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, cfg.StoreDriver)
	}
}

// Migrate opens the store, brings its schema up to date and closes it.
func Migrate(ctx context.Context, cfg Config, logger *slog.Logger) error {
	if err := cfg.ValidateStore(); err != nil {
		return err
	}

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if err := st.ApplyMigrations(); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	logger.Info("store migrations applied", "driver", cfg.StoreDriver)
	return nil
}

// Sweep runs one expiry sweep against the configured store, bringing the
// schema up to date first as serve does.
func Sweep(ctx context.Context, cfg Config, logger *slog.Logger) (int64, error) {
	if err := cfg.ValidateStore(); err != nil {
		return 0, err
	}

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return 0, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if err := st.ApplyMigrations(); err != nil {
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return service.NewSweeperService(st, logger, cfg.SweepInterval).RunOnce(ctx)
}
