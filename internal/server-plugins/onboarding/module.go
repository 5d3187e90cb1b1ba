package onboarding

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	mcpserver "github.com/fylle/workflow-mcp/internal/server"
	serverDomain "github.com/fylle/workflow-mcp/internal/server-plugin/domain"
)

var Module = fx.Module("onboarding",
	fx.Provide(
		// The concrete plugin receives the adapter after construction; the
		// adapter itself depends on the server_plugins group.
		NewOnboardingServerPlugin,
		fx.Annotate(
			func(p *OnboardingServerPlugin) serverDomain.ServerPlugin { return p },
			fx.ResultTags(`group:"server_plugins"`),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, logger *slog.Logger, adapter mcpserver.ServerPluginProvider, p *OnboardingServerPlugin) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				p.SetProvider(adapter)
				logger.Debug("Onboarding plugin connected to the plugin adapter")
				return nil
			},
		})
	}),
)
