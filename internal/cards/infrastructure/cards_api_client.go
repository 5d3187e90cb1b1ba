package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fylle/workflow-mcp/internal/cards/domain"
	"github.com/fylle/workflow-mcp/internal/retry"
	"github.com/fylle/workflow-mcp/internal/shared/headers"
	"github.com/fylle/workflow-mcp/pkg/config"
	"golang.org/x/time/rate"
)

const (
	retrievePath = "/api/v1/cards/retrieve"
	usagePathFmt = "/api/v1/cards/%s/usage"
)

type retrieveRequest struct {
	TenantID string   `json:"tenant_id"`
	CardIDs  []string `json:"card_ids"`
}

type retrieveResponse struct {
	Cards      []domain.Card `json:"cards"`
	Total      int           `json:"total"`
	Retrieved  int           `json:"retrieved"`
	MissingIDs []string      `json:"missing_ids"`
}

type usageRequest struct {
	WorkflowID   string `json:"workflow_id"`
	WorkflowType string `json:"workflow_type"`
	SessionID    string `json:"session_id,omitempty"`
}

// CardsAPIClient talks to the card service over HTTP. It performs a single
// attempt per call; retries belong to the caller's retry.Transport.
type CardsAPIClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func NewCardsAPIClient(cfg config.CardsConfig, logger *slog.Logger) *CardsAPIClient {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &CardsAPIClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    limiter,
		logger:     logger,
	}
}

func (c *CardsAPIClient) FetchCards(ctx context.Context, tenantID string, ids []string, hdrs map[string]string) (*domain.FetchResult, error) {
	if len(ids) == 0 {
		return &domain.FetchResult{Retrieved: []domain.Card{}, MissingIDs: []string{}}, nil
	}

	var payload retrieveResponse
	start := time.Now()
	if err := c.post(ctx, "retrieve", retrievePath, tenantID, hdrs, retrieveRequest{TenantID: tenantID, CardIDs: ids}, &payload); err != nil {
		return nil, err
	}

	result := alignToRequest(tenantID, ids, payload.Cards, c.logger)
	c.logger.Debug("Cards retrieved",
		"tenant_id", tenantID,
		"requested", len(ids),
		"retrieved", len(result.Retrieved),
		"missing", len(result.MissingIDs),
		"duration", time.Since(start))
	return result, nil
}

func (c *CardsAPIClient) ReportUsage(ctx context.Context, tenantID string, event domain.UsageEvent, hdrs map[string]string) error {
	body := usageRequest{
		WorkflowID:   event.WorkflowID,
		WorkflowType: event.WorkflowType,
		SessionID:    event.SessionID,
	}
	path := fmt.Sprintf(usagePathFmt, url.PathEscape(event.CardID))
	return c.post(ctx, "usage", path, tenantID, hdrs, body, nil)
}

func (c *CardsAPIClient) post(ctx context.Context, op, path, tenantID string, hdrs map[string]string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &domain.StoreError{Operation: op, Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	headers.Apply(req.Header, headers.With(hdrs, headers.TenantID, tenantID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.StoreError{Operation: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return &domain.StoreError{Operation: op, Err: retry.NewStatusError(resp)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.StoreError{Operation: op, Err: retry.Transient(fmt.Errorf("malformed response: %w", err))}
	}
	return nil
}

// alignToRequest orders cards by the requested ids and treats absent ids,
// inactive cards and cards belonging to another tenant as missing.
func alignToRequest(tenantID string, ids []string, cards []domain.Card, logger *slog.Logger) *domain.FetchResult {
	byID := make(map[string]domain.Card, len(cards))
	for _, card := range cards {
		if card.TenantID != "" && card.TenantID != tenantID {
			logger.Warn("Dropping card owned by another tenant",
				"card_id", card.ID,
				"tenant_id", tenantID)
			continue
		}
		if !card.IsActive {
			logger.Debug("Dropping inactive card", "card_id", card.ID, "tenant_id", tenantID)
			continue
		}
		byID[card.ID] = card
	}

	result := &domain.FetchResult{
		Retrieved:  make([]domain.Card, 0, len(ids)),
		MissingIDs: []string{},
	}
	for _, id := range ids {
		if card, ok := byID[id]; ok {
			result.Retrieved = append(result.Retrieved, card)
		} else {
			result.MissingIDs = append(result.MissingIDs, id)
		}
	}
	return result
}
