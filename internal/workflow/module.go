package workflow

import (
	"log/slog"
	"net/http"

	"go.uber.org/fx"

	cards "github.com/fylle/workflow-mcp/internal/cards/domain"
	cardsinfra "github.com/fylle/workflow-mcp/internal/cards/infrastructure"
	"github.com/fylle/workflow-mcp/internal/costs"
	"github.com/fylle/workflow-mcp/internal/retry"
	"github.com/fylle/workflow-mcp/internal/shared/audit"
	"github.com/fylle/workflow-mcp/internal/shared/metrics"
	"github.com/fylle/workflow-mcp/internal/workflow/application"
	"github.com/fylle/workflow-mcp/internal/workflow/domain"
	"github.com/fylle/workflow-mcp/internal/workflow/infrastructure"
	"github.com/fylle/workflow-mcp/pkg/config"
)

func NewCatalog(cfg config.WorkflowsConfig, logger *slog.Logger) (domain.Catalog, error) {
	catalog, err := infrastructure.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	logger.Info("Workflow catalog loaded",
		"path", cfg.CatalogPath,
		"workflows", len(catalog.List()))
	return catalog, nil
}

// NewBodyRunner uses its own transport without a per-attempt timeout: a
// workflow body runs far longer than a card lookup and is bounded by the
// execution deadline instead.
func NewBodyRunner(cfg config.WorkflowsConfig, retryCfg config.RetryConfig, collector metrics.Collector, logger *slog.Logger) domain.BodyRunner {
	policy := retry.PolicyFromConfig(retryCfg)
	policy.AttemptTimeout = 0
	transport := retry.NewTransport(policy, logger.With("component", "retry"), collector)
	return infrastructure.NewHTTPBodyRunner(cfg.BodyRunnerURL, &http.Client{}, transport, logger.With("component", "body_runner"))
}

func NewContextResolver(store cards.Store, transport *retry.Transport, cfg config.CardsConfig, collector metrics.Collector, logger *slog.Logger) *application.ContextResolver {
	return application.NewContextResolver(store, transport, cfg, collector, logger.With("component", "context_resolver"))
}

type executorParams struct {
	fx.In

	Config     *config.ServerConfig
	Resolver   *application.ContextResolver
	Runner     domain.BodyRunner
	Attributor *costs.Attributor
	Catalog    domain.Catalog
	Replay     domain.ReplayStore
	Usage      *cardsinfra.UsageTracker
	Metrics    metrics.Collector
	Logger     *slog.Logger
}

func NewWorkflowExecutor(p executorParams) *application.WorkflowExecutor {
	logger := p.Logger.With("component", "workflow_executor")
	return application.NewWorkflowExecutor(
		p.Resolver,
		p.Runner,
		p.Attributor,
		p.Catalog,
		p.Replay,
		p.Usage,
		p.Metrics,
		audit.NewSlogSink(p.Logger),
		logger,
		application.ExecutorOptions{
			Timeout:      p.Config.Timeout,
			PollInterval: p.Config.Replay.PollInterval,
		},
	)
}

var Module = fx.Module("workflow",
	fx.Provide(
		NewCatalog,
		NewBodyRunner,
		NewContextResolver,
		NewWorkflowExecutor,
	),
)
