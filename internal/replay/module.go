package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/fylle/workflow-mcp/internal/workflow/domain"
	"github.com/fylle/workflow-mcp/pkg/config"
)

const connectTimeout = 10 * time.Second

// purger is implemented by stores that need expired records swept.
type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// NewStore opens the configured backend.
func NewStore(cfg config.ReplayConfig, logger *slog.Logger) (domain.ReplayStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	switch cfg.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to reach postgres: %w", err)
		}
		store := NewPostgresStore(pool, cfg.TTL, cfg.ClaimTTL)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("Replay store ready", "backend", "postgres")
		return store, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("Replay store ready", "backend", "redis", "addr", cfg.RedisAddr)
		return NewRedisStore(rdb, cfg.RedisPrefix, cfg.TTL, cfg.ClaimTTL), nil

	case "memory", "":
		logger.Info("Replay store ready", "backend", "memory")
		return NewMemoryStore(cfg.TTL, cfg.ClaimTTL), nil
	}
	return nil, fmt.Errorf("unknown replay backend: %s", cfg.Backend)
}

// runJanitor purges expired records every interval until ctx is done.
func runJanitor(ctx context.Context, p purger, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := p.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("Failed to purge expired replay records", "error", err)
				continue
			}
			if removed > 0 {
				logger.Debug("Purged expired replay records", "removed", removed)
			}
		}
	}
}

var Module = fx.Module("replay",
	fx.Provide(func(cfg config.ReplayConfig, logger *slog.Logger) (domain.ReplayStore, error) {
		return NewStore(cfg, logger.With("component", "replay"))
	}),
	fx.Invoke(func(lc fx.Lifecycle, store domain.ReplayStore, cfg config.ReplayConfig, logger *slog.Logger) {
		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				if p, ok := store.(purger); ok {
					go runJanitor(ctx, p, cfg.ClaimTTL, logger.With("component", "replay"))
				}
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return store.Close()
			},
		})
	}),
)
