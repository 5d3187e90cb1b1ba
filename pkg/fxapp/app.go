package fxapp

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/fylle/workflow-mcp/internal/cards"
	"github.com/fylle/workflow-mcp/internal/costs"
	"github.com/fylle/workflow-mcp/internal/replay"
	"github.com/fylle/workflow-mcp/internal/retry"
	"github.com/fylle/workflow-mcp/internal/server"
	"github.com/fylle/workflow-mcp/internal/server-plugins/core"
	costsplugin "github.com/fylle/workflow-mcp/internal/server-plugins/costs"
	"github.com/fylle/workflow-mcp/internal/server-plugins/onboarding"
	workflowplugin "github.com/fylle/workflow-mcp/internal/server-plugins/workflow"
	"github.com/fylle/workflow-mcp/internal/shared/metrics"
	"github.com/fylle/workflow-mcp/internal/workflow"
	"github.com/fylle/workflow-mcp/pkg/config"
	"github.com/fylle/workflow-mcp/pkg/logger"
)

// New assembles the server from an already loaded configuration.
func New(cfg *config.ServerConfig) *fx.App {
	// Default to a verbose logger for debug level
	var fxLogger fx.Option = fx.WithLogger(
		func() fxevent.Logger {
			return &fxevent.ConsoleLogger{W: log.Writer()}
		},
	)

	if cfg.LogLevel != "debug" {
		fxLogger = fx.NopLogger
	}

	return fx.New(
		fxLogger,
		fx.Supply(cfg),
		config.Module,
		logger.Module,
		metrics.Module,
		retry.Module,
		cards.Module,
		costs.Module,
		replay.Module,
		workflow.Module,
		server.Module,
		core.CoreModule,
		costsplugin.Module,
		workflowplugin.Module,
		onboarding.Module,
	)
}
