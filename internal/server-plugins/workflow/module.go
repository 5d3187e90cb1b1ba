package workflow

import (
	"log/slog"

	"go.uber.org/fx"

	serverDomain "github.com/fylle/workflow-mcp/internal/server-plugin/domain"
	"github.com/fylle/workflow-mcp/internal/server/auth"
	"github.com/fylle/workflow-mcp/internal/workflow/application"
	"github.com/fylle/workflow-mcp/internal/workflow/domain"
)

var Module = fx.Module("workflow_plugin",
	fx.Provide(
		fx.Annotate(
			func(executor *application.WorkflowExecutor, catalog domain.Catalog, checker auth.AuthorizationChecker, logger *slog.Logger) *WorkflowServerPlugin {
				return NewWorkflowServerPlugin(executor, catalog, checker, logger.With("plugin", "workflow"))
			},
			fx.As(new(serverDomain.ServerPlugin)),
			fx.ResultTags(`group:"server_plugins"`),
		),
	),
)
