package costs

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/fylle/workflow-mcp/internal/costs"
	serverDomain "github.com/fylle/workflow-mcp/internal/server-plugin/domain"
	"github.com/fylle/workflow-mcp/internal/shared/audit"
	"github.com/fylle/workflow-mcp/internal/shared/metrics"
)

func newCostsPlugin(attributor *costs.Attributor, collector metrics.Collector, logger *slog.Logger) *CostsServerPlugin {
	return NewCostsServerPlugin(attributor, collector, audit.NewSlogSink(logger), logger.With("plugin", "costs"))
}

var Module = fx.Module("costs_plugin",
	fx.Provide(
		fx.Annotate(
			newCostsPlugin,
			fx.As(new(serverDomain.ServerPlugin)),
			fx.ResultTags(`group:"server_plugins"`),
		),
	),
)
