package core

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/fylle/workflow-mcp/internal/costs"
	serverDomain "github.com/fylle/workflow-mcp/internal/server-plugin/domain"
	"github.com/fylle/workflow-mcp/pkg/config"
	"github.com/fylle/workflow-mcp/pkg/logger"
)

func newCorePlugin(cfg *config.ServerConfig, buffer *logger.RingBuffer, attributor *costs.Attributor, logger *slog.Logger) *CoreServerPlugin {
	return NewCoreServerPlugin(cfg, buffer, attributor, logger.With("plugin", "core"))
}

// CoreModule provides dependency injection for the core plugin
var CoreModule = fx.Module("core",
	fx.Provide(
		fx.Annotate(
			newCorePlugin,
			fx.As(new(serverDomain.ServerPlugin)),
			fx.ResultTags(`group:"server_plugins"`),
		),
	),
)
