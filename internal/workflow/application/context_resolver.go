package application

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"golang.org/x/sync/errgroup"

	cards "github.com/fylle/workflow-mcp/internal/cards/domain"
	"github.com/fylle/workflow-mcp/internal/retry"
	"github.com/fylle/workflow-mcp/internal/shared/headers"
	"github.com/fylle/workflow-mcp/internal/shared/metrics"
	"github.com/fylle/workflow-mcp/internal/workflow/domain"
	"github.com/fylle/workflow-mcp/pkg/config"
)

const (
	defaultBatchSize      = 50
	defaultMaxConcurrency = 4
	retrieveOperation     = "cards.retrieve"
)

// ContextResolver turns a request's card ids and legacy context into a
// ResolvedContext.
type ContextResolver struct {
	store          cards.Store
	transport      *retry.Transport
	batchSize      int
	maxConcurrency int
	metrics        metrics.Collector
	logger         *slog.Logger
}

func NewContextResolver(store cards.Store, transport *retry.Transport, cfg config.CardsConfig, collector metrics.Collector, logger *slog.Logger) *ContextResolver {
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}
	r := &ContextResolver{
		store:          store,
		transport:      transport,
		batchSize:      cfg.BatchSize,
		maxConcurrency: cfg.MaxConcurrency,
		metrics:        collector,
		logger:         logger,
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxConcurrency <= 0 {
		r.maxConcurrency = defaultMaxConcurrency
	}
	return r
}

// Resolve builds the context of one execution. Missing cards are reported in
// MissingIDs and never fail the resolution. A card store that stays
// unreachable yields a *domain.ContextUnavailableError; the caller's
// deadline yields an error matching domain.ErrDeadlineExceeded.
func (r *ContextResolver) Resolve(ctx context.Context, req domain.Request, hdrs map[string]string) (*domain.ResolvedContext, error) {
	source := domain.ClassifySource(req)
	rc := domain.NewResolvedContext()

	if legacy := source.Legacy(); legacy != nil {
		rc.DeprecationTriggered = true
		maps.Copy(rc.LegacyFields, legacy)
	}

	ids := uniqueIDs(source.CardIDs())
	rc.RequestedCount = len(ids)
	if len(ids) == 0 {
		return rc, nil
	}

	propagated := headers.Propagate(hdrs)
	tenantID := propagated[headers.TenantID]
	if tenantID == "" {
		return nil, domain.NewValidationError(headers.TenantID, "tenant header is required to fetch cards")
	}

	start := time.Now()
	results, err := r.fetchBatches(ctx, tenantID, ids, propagated)
	r.metrics.RecordCardRetrieval(ctx, len(ids), countRetrieved(results), time.Since(start), err != nil)
	if err != nil {
		return nil, r.classifyFailure(ctx, len(ids), err)
	}

	byID := make(map[string]cards.Card, len(ids))
	hits := 0
	for _, res := range results {
		if res == nil {
			continue
		}
		hits += res.CacheHits
		for _, card := range res.Retrieved {
			byID[card.ID] = card
		}
	}
	for _, id := range ids {
		if card, ok := byID[id]; ok {
			rc.Cards = append(rc.Cards, card)
		} else {
			rc.MissingIDs = append(rc.MissingIDs, id)
		}
	}
	rc.CacheHitRate = float64(hits) / float64(len(ids))

	if rc.Partial() {
		r.logger.Warn("Partial card retrieval",
			"tenant_id", tenantID,
			"requested", len(ids),
			"retrieved", len(rc.Cards),
			"missing_ids", rc.MissingIDs)
	} else {
		r.logger.Debug("Cards retrieved",
			"tenant_id", tenantID,
			"retrieved", len(rc.Cards),
			"cache_hit_rate", rc.CacheHitRate)
	}
	return rc, nil
}

// fetchBatches fetches every batch, concurrently up to maxConcurrency, and
// returns the results in batch order once all have finished.
func (r *ContextResolver) fetchBatches(ctx context.Context, tenantID string, ids []string, hdrs map[string]string) ([]*cards.FetchResult, error) {
	batches := chunk(ids, r.batchSize)
	results := make([]*cards.FetchResult, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrency)
	for i, batch := range batches {
		g.Go(func() error {
			res, err := retry.Call(gctx, r.transport, retrieveOperation, func(ctx context.Context) (*cards.FetchResult, error) {
				return r.store.FetchCards(ctx, tenantID, batch, hdrs)
			})
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *ContextResolver) classifyFailure(ctx context.Context, requested int, err error) error {
	switch {
	case retry.IsDeadlineExceeded(err):
		return err
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &retry.DeadlineExceededError{Operation: retrieveOperation, LastError: err}
	case ctx.Err() != nil:
		return ctx.Err()
	case domain.IsValidationError(err):
		return err
	}
	r.logger.Error("Card store unavailable",
		"requested", requested,
		"error", err)
	return &domain.ContextUnavailableError{RequestedCount: requested, Err: err}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func chunk(ids []string, size int) [][]string {
	var batches [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batches = append(batches, ids[start:end])
	}
	return batches
}

func countRetrieved(results []*cards.FetchResult) int {
	n := 0
	for _, res := range results {
		if res != nil {
			n += len(res.Retrieved)
		}
	}
	return n
}
