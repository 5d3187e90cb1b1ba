package costs

import (
	"context"
	"log/slog"

	"github.com/fylle/workflow-mcp/pkg/config"
	"go.uber.org/fx"
)

func NewAttributorFromConfig(cfg config.CostsConfig, logger *slog.Logger) (*Attributor, error) {
	sources := []OverrideSource{
		&StaticSource{Rates: cfg.Overrides},
		NewEnvSource(cfg.EnvPrefix),
	}
	return NewAttributor(context.Background(), logger.With("component", "costs"), sources)
}

var Module = fx.Module("costs",
	fx.Provide(NewAttributorFromConfig),
)
