package infrastructure_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fylle/workflow-mcp/internal/cards/domain"
	"github.com/fylle/workflow-mcp/internal/cards/infrastructure"
	"github.com/fylle/workflow-mcp/internal/retry"
	"github.com/fylle/workflow-mcp/pkg/config"
)

// fakeCardsAPI serves the retrieve and usage endpoints from an in-memory card set.
type fakeCardsAPI struct {
	mu          sync.Mutex
	cards       map[string]domain.Card
	failures    int32
	failStatus  int
	retrieveHit atomic.Int32
	usageHits   atomic.Int32
	lastHeaders http.Header
	lastIDs     []string
}

func (f *fakeCardsAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/cards/retrieve", func(w http.ResponseWriter, r *http.Request) {
		f.retrieveHit.Add(1)
		if atomic.AddInt32(&f.failures, -1) >= 0 {
			w.WriteHeader(f.failStatus)
			return
		}
		var body struct {
			CardIDs []string `json:"card_ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.lastHeaders = r.Header.Clone()
		f.lastIDs = body.CardIDs
		var found []domain.Card
		var missing []string
		// answer in reverse order to exercise reordering
		for i := len(body.CardIDs) - 1; i >= 0; i-- {
			if c, ok := f.cards[body.CardIDs[i]]; ok {
				found = append(found, c)
			} else {
				missing = append(missing, body.CardIDs[i])
			}
		}
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"cards":       found,
			"total":       len(body.CardIDs),
			"retrieved":   len(found),
			"missing_ids": missing,
		})
	})
	mux.HandleFunc("POST /api/v1/cards/{id}/usage", func(w http.ResponseWriter, r *http.Request) {
		f.usageHits.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"event_recorded":true}`))
	})
	return mux
}

func testCards() map[string]domain.Card {
	return map[string]domain.Card{
		"c1": {ID: "c1", TenantID: "t1", Type: domain.CardTypeCompany, Title: "Acme", Content: map[string]any{"name": "Acme"}, IsActive: true, UsageCount: 42},
		"c2": {ID: "c2", TenantID: "t1", Type: domain.CardTypeVoice, Title: "Voice", Content: map[string]any{"tone": "warm"}, IsActive: true},
		"x9": {ID: "x9", TenantID: "other", Type: domain.CardTypeInsight, Title: "Foreign", IsActive: true},
		"old": {ID: "old", TenantID: "t1", Type: domain.CardTypeInsight, Title: "Retired"},
	}
}

func newClient(url string) *infrastructure.CardsAPIClient {
	return infrastructure.NewCardsAPIClient(config.CardsConfig{
		BaseURL:        url,
		RequestTimeout: time.Second,
	}, createTestLogger())
}

var _ = Describe("CardsAPIClient", func() {
	var (
		api    *fakeCardsAPI
		server *httptest.Server
		client *infrastructure.CardsAPIClient
	)

	BeforeEach(func() {
		api = &fakeCardsAPI{cards: testCards(), failStatus: http.StatusServiceUnavailable}
		server = httptest.NewServer(api.handler())
		client = newClient(server.URL)
	})

	AfterEach(func() {
		server.Close()
	})

	It("returns cards in request order and reports missing ids", func() {
		res, err := client.FetchCards(context.Background(), "t1", []string{"c1", "nope", "c2"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Retrieved).To(HaveLen(2))
		Expect(res.Retrieved[0].ID).To(Equal("c1"))
		Expect(res.Retrieved[1].ID).To(Equal("c2"))
		Expect(res.MissingIDs).To(Equal([]string{"nope"}))
	})

	It("treats cards owned by another tenant as missing", func() {
		res, err := client.FetchCards(context.Background(), "t1", []string{"x9"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Retrieved).To(BeEmpty())
		Expect(res.MissingIDs).To(Equal([]string{"x9"}))
	})

	It("treats inactive cards as missing and keeps usage counts", func() {
		res, err := client.FetchCards(context.Background(), "t1", []string{"c1", "old"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Retrieved).To(HaveLen(1))
		Expect(res.Retrieved[0].UsageCount).To(Equal(42))
		Expect(res.MissingIDs).To(Equal([]string{"old"}))
	})

	It("reads cards without is_active as active", func() {
		raw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"cards":[{"card_id":"c7","tenant_id":"t1","card_type":"voice","title":"Voice","content":{},"usage_count":3}],"missing_ids":[]}`))
		}))
		defer raw.Close()

		res, err := newClient(raw.URL).FetchCards(context.Background(), "t1", []string{"c7"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Retrieved).To(HaveLen(1))
		Expect(res.Retrieved[0].IsActive).To(BeTrue())
		Expect(res.Retrieved[0].UsageCount).To(Equal(3))
	})

	It("propagates only allow-listed headers and forces the tenant", func() {
		_, err := client.FetchCards(context.Background(), "t1", []string{"c1"}, map[string]string{
			"X-Trace-ID":    "trace-1",
			"X-Tenant-ID":   "spoofed",
			"Authorization": "secret",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(api.lastHeaders.Get("X-Trace-ID")).To(Equal("trace-1"))
		Expect(api.lastHeaders.Get("X-Tenant-ID")).To(Equal("t1"))
		Expect(api.lastHeaders.Get("Authorization")).To(BeEmpty())
	})

	It("short-circuits an empty request", func() {
		res, err := client.FetchCards(context.Background(), "t1", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Retrieved).To(BeEmpty())
		Expect(api.retrieveHit.Load()).To(BeZero())
	})

	It("surfaces server errors as retryable store errors", func() {
		api.failures = 1
		_, err := client.FetchCards(context.Background(), "t1", []string{"c1"}, nil)
		Expect(domain.IsStoreUnavailable(err)).To(BeTrue())
		Expect(retry.IsRetryable(err)).To(BeTrue())

		var statusErr *retry.StatusError
		Expect(errors.As(err, &statusErr)).To(BeTrue())
		Expect(statusErr.StatusCode).To(Equal(http.StatusServiceUnavailable))
	})

	It("recovers through the retry transport", func() {
		api.failures = 2
		transport := retry.NewTransport(retry.Policy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     2,
		}, createTestLogger(), nil)

		res, err := retry.Call(context.Background(), transport, "cards.retrieve", func(ctx context.Context) (*domain.FetchResult, error) {
			return client.FetchCards(ctx, "t1", []string{"c1"}, nil)
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Retrieved).To(HaveLen(1))
		Expect(api.retrieveHit.Load()).To(BeNumerically("==", 3))
	})

	It("does not classify client errors as retryable", func() {
		api.failures = 1
		api.failStatus = http.StatusForbidden
		_, err := client.FetchCards(context.Background(), "t1", []string{"c1"}, nil)
		Expect(err).To(HaveOccurred())
		Expect(retry.IsRetryable(err)).To(BeFalse())
	})

	It("reports usage", func() {
		err := client.ReportUsage(context.Background(), "t1", domain.UsageEvent{CardID: "c1", WorkflowID: "wf", WorkflowType: "premium_newsletter"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(api.usageHits.Load()).To(BeNumerically("==", 1))
	})
})

var _ = Describe("UsageTracker", func() {
	It("reports each workflow and card pair once", func() {
		api := &fakeCardsAPI{cards: testCards()}
		server := httptest.NewServer(api.handler())
		defer server.Close()

		transport := retry.NewTransport(retry.DefaultPolicy(), createTestLogger(), nil)
		tracker := infrastructure.NewUsageTracker(newClient(server.URL), transport, createTestLogger(), time.Second)

		event := domain.UsageEvent{CardID: "c1", WorkflowID: "wf-1", WorkflowType: "premium_newsletter"}
		Expect(tracker.Track("t1", event, nil)).To(BeTrue())
		Expect(tracker.Track("t1", event, nil)).To(BeFalse())
		Expect(tracker.Track("t1", domain.UsageEvent{CardID: "c1", WorkflowID: "wf-2"}, nil)).To(BeTrue())
		tracker.Wait()

		Expect(api.usageHits.Load()).To(BeNumerically("==", 2))
	})
})
