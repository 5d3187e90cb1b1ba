package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/fx"

	plugins "github.com/fylle/workflow-mcp/internal/server-plugin/application"
	"github.com/fylle/workflow-mcp/internal/shared"
	"github.com/fylle/workflow-mcp/internal/shared/headers"
	"github.com/fylle/workflow-mcp/pkg/config"
)

const shutdownTimeout = 30 * time.Second

// sseContext carries the headers of the SSE connection into every tool call.
func sseContext(ctx context.Context, r *http.Request) context.Context {
	return shared.WithTenantContext(ctx, shared.NewTenantContextFromHeaders(headers.FromHTTP(r.Header)))
}

type serverHooksParams struct {
	fx.In

	Lifecycle       fx.Lifecycle
	Config          *config.ServerConfig
	MCPServer       *server.MCPServer
	Adapter         *MCPAdapter
	DynamicRegistry *plugins.DynamicServerPluginRegistry
	Echo            *echo.Echo
	Logger          *slog.Logger
}

// registerServerHooks uses fx.Hook to manage the server's lifecycle.
func registerServerHooks(p serverHooksParams) {
	var (
		sseServer  *server.SSEServer
		httpServer *http.Server
		cfg        = p.Config
		logger     = p.Logger
	)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Later capability changes republish through the subscription.
			p.DynamicRegistry.Subscribe(func(ctx context.Context) {
				if err := p.Adapter.SyncRegistrations(ctx); err != nil {
					logger.Error("Failed to republish plugin capabilities", "error", err)
				}
			})

			logger.Info("Performing initial plugin synchronization...")
			if err := p.DynamicRegistry.SyncServerPlugins(ctx); err != nil {
				logger.Error("Initial plugin sync failed", "error", err)
			}
			if err := p.Adapter.SyncRegistrations(ctx); err != nil {
				return fmt.Errorf("failed to register server plugins: %w", err)
			}
			logger.Info("Server plugins published", "tools", p.Adapter.RegisteredTools())

			switch cfg.Transport.Type {
			case "sse":
				logger.Info("Starting MCP server with 'sse' transport.")
				sseServer = server.NewSSEServer(p.MCPServer, server.WithSSEContextFunc(sseContext))
				go func() {
					addr := fmt.Sprintf("%s:%d", cfg.Transport.Host, cfg.Transport.Port)
					logger.Info("SSE server listening", "address", addr)
					if err := sseServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("SSE server failed", "error", err)
					}
				}()
			case "stdio":
				logger.Info("Starting MCP server with 'stdio' transport.")
				go func() {
					if err := server.ServeStdio(p.MCPServer); err != nil {
						logger.Error("Stdio server failed", "error", err)
					}
				}()
			default:
				return fmt.Errorf("unknown transport type: %s", cfg.Transport.Type)
			}

			if cfg.HTTP.Enabled {
				httpServer = &http.Server{
					Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
					Handler:      p.Echo,
					ReadTimeout:  cfg.HTTP.ReadTimeout,
					WriteTimeout: cfg.HTTP.WriteTimeout,
				}
				go func() {
					logger.Info("HTTP API listening", "address", httpServer.Addr)
					if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("HTTP API failed", "error", err)
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			var errs []error
			if httpServer != nil {
				logger.Info("Shutting down HTTP API gracefully...")
				errs = append(errs, httpServer.Shutdown(shutdownCtx))
			}
			if sseServer != nil {
				logger.Info("Shutting down SSE server gracefully...")
				errs = append(errs, sseServer.Shutdown(shutdownCtx))
			} else {
				logger.Info("Stdio server shutdown.")
			}
			return errors.Join(errs...)
		},
	})
}
