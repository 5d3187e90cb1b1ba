package infrastructure

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/fylle/workflow-mcp/internal/cards/domain"
	"github.com/fylle/workflow-mcp/internal/shared/metrics"
	"github.com/fylle/workflow-mcp/pkg/config"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const unknownCardType = "unknown"

// CachingStore decorates a Store with tenant-scoped LRU caches, one per card
// type so that each type keeps its own TTL.
type CachingStore struct {
	next     domain.Store
	byType   map[domain.CardType]*expirable.LRU[cardKey, domain.Card]
	fallback *expirable.LRU[cardKey, domain.Card]
	metrics  metrics.Collector
	logger   *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCachingStore(next domain.Store, cfg config.CardCacheConfig, collector metrics.Collector, logger *slog.Logger) *CachingStore {
	s := &CachingStore{
		next:     next,
		byType:   make(map[domain.CardType]*expirable.LRU[cardKey, domain.Card]),
		fallback: expirable.NewLRU[cardKey, domain.Card](cfg.MaxSize, nil, cfg.TTL),
		metrics:  collector,
		logger:   logger,
	}
	for _, t := range domain.AllCardTypes() {
		s.byType[t] = expirable.NewLRU[cardKey, domain.Card](cfg.MaxSize, nil, cfg.TTLFor(string(t)))
	}
	return s
}

// cardKey keeps tenant and card id apart; no id can reach another tenant's entry.
type cardKey struct {
	tenantID string
	cardID   string
}

func (s *CachingStore) cacheFor(t domain.CardType) *expirable.LRU[cardKey, domain.Card] {
	if c, ok := s.byType[t]; ok {
		return c
	}
	return s.fallback
}

func (s *CachingStore) lookup(key cardKey) (domain.Card, bool) {
	for _, c := range s.byType {
		if card, ok := c.Get(key); ok {
			return card, true
		}
	}
	return s.fallback.Get(key)
}

// FetchCards serves cached cards and forwards only the misses to the wrapped
// store. FetchResult.CacheHits counts the ids answered from cache.
func (s *CachingStore) FetchCards(ctx context.Context, tenantID string, ids []string, hdrs map[string]string) (*domain.FetchResult, error) {
	cached := make(map[string]domain.Card, len(ids))
	var misses []string
	for _, id := range ids {
		if card, ok := s.lookup(cardKey{tenantID: tenantID, cardID: id}); ok {
			cached[id] = card
			s.hits.Add(1)
			s.metrics.RecordCacheLookup(ctx, string(card.Type), true)
			continue
		}
		misses = append(misses, id)
		s.misses.Add(1)
		s.metrics.RecordCacheLookup(ctx, unknownCardType, false)
	}

	fetched := map[string]domain.Card{}
	if len(misses) > 0 {
		res, err := s.next.FetchCards(ctx, tenantID, misses, hdrs)
		if err != nil {
			return nil, err
		}
		for _, card := range res.Retrieved {
			fetched[card.ID] = card
			s.cacheFor(card.Type).Add(cardKey{tenantID: tenantID, cardID: card.ID}, card)
		}
	}

	result := &domain.FetchResult{
		Retrieved:  make([]domain.Card, 0, len(ids)),
		MissingIDs: []string{},
		CacheHits:  len(cached),
	}
	for _, id := range ids {
		if card, ok := cached[id]; ok {
			result.Retrieved = append(result.Retrieved, card)
		} else if card, ok := fetched[id]; ok {
			result.Retrieved = append(result.Retrieved, card)
		} else {
			result.MissingIDs = append(result.MissingIDs, id)
		}
	}

	s.logger.Debug("Card cache lookup",
		"tenant_id", tenantID,
		"hits", len(cached),
		"misses", len(misses))
	return result, nil
}

// Invalidate drops every cached card of a tenant.
func (s *CachingStore) Invalidate(tenantID string) int {
	removed := 0
	caches := []*expirable.LRU[cardKey, domain.Card]{s.fallback}
	for _, c := range s.byType {
		caches = append(caches, c)
	}
	for _, c := range caches {
		for _, key := range c.Keys() {
			if key.tenantID == tenantID {
				if c.Remove(key) {
					removed++
				}
			}
		}
	}
	return removed
}

// HitRate is hits / (hits + misses) since construction, 0 before any lookup.
func (s *CachingStore) HitRate() float64 {
	hits := s.hits.Load()
	total := hits + s.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
