package cards

import (
	"context"
	"log/slog"

	"github.com/fylle/workflow-mcp/internal/cards/domain"
	"github.com/fylle/workflow-mcp/internal/cards/infrastructure"
	"github.com/fylle/workflow-mcp/internal/retry"
	"github.com/fylle/workflow-mcp/internal/shared/metrics"
	"github.com/fylle/workflow-mcp/pkg/config"
	"go.uber.org/fx"
)

// NewStore returns the cards API client, wrapped in the per-type cache when enabled.
func NewStore(client *infrastructure.CardsAPIClient, cfg config.CardCacheConfig, collector metrics.Collector, logger *slog.Logger) domain.Store {
	if !cfg.Enabled {
		return client
	}
	return infrastructure.NewCachingStore(client, cfg, collector, logger.With("component", "card_cache"))
}

func NewUsageTracker(client *infrastructure.CardsAPIClient, transport *retry.Transport, cfg *config.ServerConfig, logger *slog.Logger) *infrastructure.UsageTracker {
	return infrastructure.NewUsageTracker(client, transport, logger.With("component", "card_usage"), cfg.Timeout)
}

var Module = fx.Module("cards",
	fx.Provide(
		func(cfg config.CardsConfig, logger *slog.Logger) *infrastructure.CardsAPIClient {
			return infrastructure.NewCardsAPIClient(cfg, logger.With("component", "cards_api"))
		},
		NewStore,
		NewUsageTracker,
	),
	fx.Invoke(func(lc fx.Lifecycle, tracker *infrastructure.UsageTracker) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				tracker.Wait()
				return nil
			},
		})
	}),
)
