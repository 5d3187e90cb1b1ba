package infrastructure

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fylle/workflow-mcp/internal/server-plugin/domain"
	"github.com/fylle/workflow-mcp/pkg/config"
)

// capabilityDiscoveryService implements domain.CapabilityDiscoveryService by
// probing the configured backends over HTTP.
type capabilityDiscoveryService struct {
	backends map[string]string
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
}

// NewCapabilityDiscoveryService creates a discovery service for the cards API
// and the workflow body runner.
func NewCapabilityDiscoveryService(cfg *config.ServerConfig, client *http.Client, logger *slog.Logger) domain.CapabilityDiscoveryService {
	backends := map[string]string{}
	if cfg.Cards.BaseURL != "" {
		backends[domain.CapabilityCardsAPI] = cfg.Cards.BaseURL
	}
	if cfg.Workflows.BodyRunnerURL != "" {
		backends[domain.CapabilityBodyRunner] = cfg.Workflows.BodyRunnerURL
	}
	return &capabilityDiscoveryService{
		backends: backends,
		client:   client,
		timeout:  cfg.Plugins.ProbeTimeout,
		logger:   logger,
	}
}

// GetAvailableCapabilities reports every backend that answers its health
// endpoint. Any HTTP response counts as reachable; only transport failures
// mark a backend unavailable.
func (s *capabilityDiscoveryService) GetAvailableCapabilities(ctx context.Context) ([]string, error) {
	var available []string
	for capability, baseURL := range s.backends {
		if err := s.probe(ctx, baseURL); err != nil {
			s.logger.Warn("Backend unreachable",
				"capability", capability,
				"url", baseURL,
				"error", err)
			continue
		}
		available = append(available, capability)
	}

	s.logger.Debug("Successfully probed backend capabilities",
		"capabilities", available,
		"count", len(available))

	return available, nil
}

func (s *capabilityDiscoveryService) probe(ctx context.Context, baseURL string) error {
	probeCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
