package infrastructure_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fylle/workflow-mcp/internal/cards/domain"
	"github.com/fylle/workflow-mcp/internal/cards/infrastructure"
	"github.com/fylle/workflow-mcp/internal/shared/metrics"
	"github.com/fylle/workflow-mcp/pkg/config"
)

// countingStore records which ids reach the underlying store.
type countingStore struct {
	cards     map[string]domain.Card
	requested [][]string
	err       error
}

func (s *countingStore) FetchCards(_ context.Context, tenantID string, ids []string, _ map[string]string) (*domain.FetchResult, error) {
	s.requested = append(s.requested, append([]string(nil), ids...))
	if s.err != nil {
		return nil, s.err
	}
	res := &domain.FetchResult{MissingIDs: []string{}}
	for _, id := range ids {
		if c, ok := s.cards[id]; ok && c.TenantID == tenantID {
			res.Retrieved = append(res.Retrieved, c)
		} else {
			res.MissingIDs = append(res.MissingIDs, id)
		}
	}
	return res, nil
}

func cacheConfig() config.CardCacheConfig {
	return config.CardCacheConfig{
		Enabled:   true,
		MaxSize:   100,
		TTL:       time.Hour,
		TTLByType: map[string]time.Duration{"insight": 30 * time.Minute},
	}
}

var _ = Describe("CachingStore", func() {
	var (
		inner *countingStore
		store *infrastructure.CachingStore
		ctx   context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		inner = &countingStore{cards: testCards()}
		store = infrastructure.NewCachingStore(inner, cacheConfig(), metrics.NewNoOpCollector(), createTestLogger())
	})

	It("forwards only misses on the second lookup", func() {
		first, err := store.FetchCards(ctx, "t1", []string{"c1", "c2"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.CacheHits).To(Equal(0))

		second, err := store.FetchCards(ctx, "t1", []string{"c2", "missing", "c1"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.CacheHits).To(Equal(2))
		Expect(second.Retrieved[0].ID).To(Equal("c2"))
		Expect(second.Retrieved[1].ID).To(Equal("c1"))
		Expect(second.MissingIDs).To(Equal([]string{"missing"}))

		Expect(inner.requested).To(Equal([][]string{{"c1", "c2"}, {"missing"}}))
		Expect(store.HitRate()).To(BeNumerically("~", 2.0/5.0, 1e-9))
	})

	It("scopes entries by tenant", func() {
		inner.cards["c1"] = domain.Card{ID: "c1", TenantID: "t1", Type: domain.CardTypeCompany}
		_, err := store.FetchCards(ctx, "t1", []string{"c1"}, nil)
		Expect(err).NotTo(HaveOccurred())

		res, err := store.FetchCards(ctx, "t2", []string{"c1"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.CacheHits).To(BeZero())
		Expect(res.Retrieved).To(BeEmpty())
	})

	It("keeps tenants apart when a tenant id contains the separator of another's card id", func() {
		inner.cards["1"] = domain.Card{ID: "1", TenantID: "acme/eu", Type: domain.CardTypeCompany}
		_, err := store.FetchCards(ctx, "acme/eu", []string{"1"}, nil)
		Expect(err).NotTo(HaveOccurred())

		res, err := store.FetchCards(ctx, "acme", []string{"eu/1"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.CacheHits).To(BeZero())
		Expect(res.Retrieved).To(BeEmpty())
		Expect(res.MissingIDs).To(Equal([]string{"eu/1"}))
	})

	It("invalidates only the named tenant", func() {
		inner.cards["1"] = domain.Card{ID: "1", TenantID: "t1/x", Type: domain.CardTypeCompany}
		_, err := store.FetchCards(ctx, "t1/x", []string{"1"}, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = store.FetchCards(ctx, "t1", []string{"c1"}, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(store.Invalidate("t1")).To(Equal(1))
		res, err := store.FetchCards(ctx, "t1/x", []string{"1"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.CacheHits).To(Equal(1))
	})

	It("does not cache failures", func() {
		inner.err = errors.New("down")
		_, err := store.FetchCards(ctx, "t1", []string{"c1"}, nil)
		Expect(err).To(MatchError("down"))

		inner.err = nil
		res, err := store.FetchCards(ctx, "t1", []string{"c1"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.CacheHits).To(BeZero())
		Expect(res.Retrieved).To(HaveLen(1))
	})

	It("invalidates a tenant's entries", func() {
		_, err := store.FetchCards(ctx, "t1", []string{"c1", "c2"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Invalidate("t1")).To(Equal(2))

		res, err := store.FetchCards(ctx, "t1", []string{"c1"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.CacheHits).To(BeZero())
	})

	It("reports a zero hit rate before any lookup", func() {
		Expect(store.HitRate()).To(BeZero())
	})
})
