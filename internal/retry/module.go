package retry

import (
	"log/slog"

	"github.com/fylle/workflow-mcp/internal/shared/metrics"
	"github.com/fylle/workflow-mcp/pkg/config"
	"go.uber.org/fx"
)

func PolicyFromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Multiplier:     cfg.Multiplier,
		Jitter:         cfg.Jitter,
		AttemptTimeout: cfg.AttemptTimeout,
	}
}

func NewTransportFromConfig(cfg config.RetryConfig, logger *slog.Logger, collector metrics.Collector) *Transport {
	return NewTransport(PolicyFromConfig(cfg), logger.With("component", "retry"), collector)
}

var Module = fx.Module("retry",
	fx.Provide(NewTransportFromConfig),
)
