package server

import (
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/fx"

	"github.com/fylle/workflow-mcp/internal/costs"
	plugins "github.com/fylle/workflow-mcp/internal/server-plugin/application"
	serverPluginDomain "github.com/fylle/workflow-mcp/internal/server-plugin/domain"
	"github.com/fylle/workflow-mcp/internal/server-plugin/infrastructure"
	"github.com/fylle/workflow-mcp/internal/server/auth"
	"github.com/fylle/workflow-mcp/internal/workflow/application"
	"github.com/fylle/workflow-mcp/internal/workflow/domain"
	"github.com/fylle/workflow-mcp/pkg/config"
)

// Version is stamped at build time.
var Version = "dev"

// NewMCPServerInstance creates a new MCP server instance.
func NewMCPServerInstance(logger *slog.Logger) *server.MCPServer {
	logger.Debug("Creating MCP server instance")
	mcpServer := server.NewMCPServer(
		"Workflow MCP Server",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithPromptCapabilities(true),
	)
	logger.Debug("MCP server instance created successfully")
	return mcpServer
}

func newHTTPAPI(executor *application.WorkflowExecutor, attributor *costs.Attributor, catalog domain.Catalog, cfg config.DeprecationConfig, logger *slog.Logger) *HTTPAPI {
	return NewHTTPAPI(executor, attributor, catalog, auth.NewHeaderAuthenticator(true), cfg, logger.With("component", "http_api"))
}

var Module = fx.Module("server",
	fx.Provide(
		NewMCPServerInstance,
		plugins.NewServerPluginRegistry,
		fx.Annotate(
			func(dynamicRegistry *plugins.DynamicServerPluginRegistry, mcpServer *server.MCPServer, logger *slog.Logger) *MCPAdapter {
				return NewMCPAdapter(dynamicRegistry, mcpServer, logger)
			},
		),
		fx.Annotate(
			func(adapter *MCPAdapter) ServerPluginProvider { return adapter },
			fx.As(new(ServerPluginProvider)),
		),
		func(cfg *config.ServerConfig, logger *slog.Logger) serverPluginDomain.CapabilityDiscoveryService {
			return infrastructure.NewCapabilityDiscoveryService(cfg, &http.Client{}, logger.With("component", "capability_discovery"))
		},
		plugins.NewDynamicServerPluginRegistry,
		fx.Annotate(
			func() *auth.NoOpAuthorizationChecker { return auth.NewNoOpAuthorizationChecker() },
			fx.As(new(auth.AuthorizationChecker)),
		),
		newHTTPAPI,
		NewEcho,
	),
	fx.Invoke(registerServerHooks),
	fx.Invoke(func(registry *plugins.DynamicServerPluginRegistry, lc fx.Lifecycle) {
		registry.RegisterHooks(lc)
	}),
)
