package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fylle/workflow-mcp/internal/costs"
	"github.com/fylle/workflow-mcp/internal/replay"
	"github.com/fylle/workflow-mcp/internal/retry"
	"github.com/fylle/workflow-mcp/internal/workflow/application"
	"github.com/fylle/workflow-mcp/internal/workflow/domain"
	"github.com/fylle/workflow-mcp/internal/workflow/infrastructure"
	"github.com/fylle/workflow-mcp/pkg/config"
)

var _ = Describe("IdempotencyKey", func() {
	req := domain.Request{WorkflowType: domain.TypePremiumNewsletter, CardIDs: []string{"c1"}}

	It("prefers the caller's key and scopes it to the tenant", func() {
		key, err := application.IdempotencyKey("t1", "abc", req)
		Expect(err).NotTo(HaveOccurred())
		Expect(key).To(Equal("workflow_execute-t1:abc"))
	})

	It("falls back to the request hash", func() {
		a, err := application.IdempotencyKey("t1", "", req)
		Expect(err).NotTo(HaveOccurred())
		b, _ := application.IdempotencyKey("t1", "", req)
		other, _ := application.IdempotencyKey("t2", "", req)

		Expect(a).To(Equal(b))
		Expect(a).To(HavePrefix("workflow_execute-t1:"))
		Expect(a).To(HaveLen(len("workflow_execute-t1:") + 64))
		Expect(a).NotTo(Equal(other))
	})

	It("tells an empty legacy context apart from no context", func() {
		none := domain.Request{WorkflowType: domain.TypePremiumNewsletter}
		empty := domain.Request{WorkflowType: domain.TypePremiumNewsletter, LegacyContext: map[string]any{}}
		k1, err := application.IdempotencyKey("t1", "", none)
		Expect(err).NotTo(HaveOccurred())
		k2, err := application.IdempotencyKey("t1", "", empty)
		Expect(err).NotTo(HaveOccurred())
		Expect(k1).NotTo(Equal(k2))
	})

	It("ignores map ordering in the request", func() {
		one := domain.Request{WorkflowType: "x", Parameters: map[string]any{"a": 1, "b": 2}}
		two := domain.Request{WorkflowType: "x", Parameters: map[string]any{"b": 2, "a": 1}}
		k1, _ := application.IdempotencyKey("t1", "", one)
		k2, _ := application.IdempotencyKey("t1", "", two)
		Expect(k1).To(Equal(k2))
	})
})

var _ = Describe("WorkflowExecutor", func() {
	var (
		store    *fakeCardStore
		runner   *fakeRunner
		tracker  *recordingTracker
		replays  *replay.MemoryStore
		executor *application.WorkflowExecutor
		hdrs     map[string]string
		ctx      context.Context
	)

	newExecutor := func(rs domain.ReplayStore) *application.WorkflowExecutor {
		resolver := application.NewContextResolver(store, fastTransport(), config.CardsConfig{}, nil, createTestLogger())
		attributor, err := costs.NewAttributor(context.Background(), createTestLogger(), nil)
		Expect(err).NotTo(HaveOccurred())
		ids := 0
		var mu sync.Mutex
		return application.NewWorkflowExecutor(
			resolver, runner, attributor,
			infrastructure.NewStaticCatalog(infrastructure.BuiltinDefinitions()),
			rs, tracker, nil, nil, createTestLogger(),
			application.ExecutorOptions{
				Timeout:      time.Second,
				PollInterval: 2 * time.Millisecond,
				NewID: func() string {
					mu.Lock()
					defer mu.Unlock()
					ids++
					return fmt.Sprintf("wf-%d", ids)
				},
			},
		)
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = newFakeCardStore(
			card("c1", map[string]any{"company": "Acme"}),
			card("c2", map[string]any{"audience": "CTOs"}),
			card("c3", map[string]any{"voice": "warm"}),
			card("c4", map[string]any{"insight": "AI adoption"}),
		)
		runner = &fakeRunner{output: &domain.BodyOutput{
			Output:     map[string]any{"newsletter": "# Weekly"},
			LLMCalls:   3,
			TokensUsed: 4200,
		}}
		tracker = &recordingTracker{}
		replays = replay.NewMemoryStore(time.Hour, time.Minute)
		executor = newExecutor(replays)
		hdrs = map[string]string{"X-Tenant-ID": "t1", "X-Trace-ID": "tr1", "X-Session-ID": "s1"}
	})

	newsletter := func(ids ...string) domain.Request {
		return domain.Request{WorkflowType: domain.TypePremiumNewsletter, CardIDs: ids, Parameters: map[string]any{"topic": "AI"}}
	}

	It("completes a card-only execution", func() {
		res, err := executor.Execute(ctx, newsletter("c1", "c2", "c3", "c4"), hdrs)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(domain.StatusCompleted))
		Expect(res.WorkflowID).To(Equal("wf-1"))
		Expect(res.Output).To(HaveKeyWithValue("newsletter", "# Weekly"))
		Expect(res.Metrics.CardsUsed).To(Equal(4))
		Expect(res.Metrics.LLMCalls).To(Equal(3))
		Expect(res.Metrics.TokensUsed).To(Equal(4200))
		Expect(res.Metrics.MissingCardIDs).To(BeEmpty())
		Expect(res.Metrics.LegacyContextUsed).To(BeFalse())
		Expect(res.Signals).To(Equal(domain.Signals{RequestedCount: 4}))

		in := runner.lastInput()
		Expect(in.Cards).To(Equal([]string{"c1", "c2", "c3", "c4"}))
		Expect(in.Context).To(HaveKeyWithValue("company", "Acme"))
		Expect(in.Headers).To(HaveKeyWithValue("Idempotency-Key", HavePrefix("workflow_execute-t1:")))
		Expect(tracker.cardIDs()).To(Equal([]string{"c1", "c2", "c3", "c4"}))
	})

	It("reports partial context and legacy use through signals", func() {
		req := newsletter("c1", "c9")
		req.LegacyContext = map[string]any{"company": "Legacy", "topic": "old"}
		res, err := executor.Execute(ctx, req, hdrs)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(domain.StatusCompleted))
		Expect(res.Metrics.MissingCardIDs).To(Equal([]string{"c9"}))
		Expect(res.Signals.PartialResult).To(BeTrue())
		Expect(res.Signals.LegacyContextUsed).To(BeTrue())
		Expect(res.Signals.MissingCount).To(Equal(1))
		Expect(res.Signals.RequestedCount).To(Equal(2))
		Expect(runner.lastInput().Context).To(HaveKeyWithValue("company", "Acme"))
	})

	It("attributes and sums tool costs", func() {
		runner.output.ToolInvocations = []costs.Invocation{
			{ToolName: "web_search", ExecutionMetadata: map[string]any{"cost_usd": 0.05}},
			{ToolName: "llm", ExecutionMetadata: map[string]any{"usage_tokens": 2000, "cost_per_1k_tokens_usd": 0.002}},
			{ToolName: "free_tool"},
		}
		res, err := executor.Execute(ctx, newsletter("c1"), hdrs)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Metrics.ToolCosts).To(HaveLen(3))
		Expect(res.Metrics.ToolCosts[0].Source).To(Equal(costs.SourceExecution))
		Expect(res.Metrics.ToolCosts[1].Source).To(Equal(costs.SourceUsage))
		Expect(res.Metrics.ToolCosts[1].CostUSD).To(BeNumerically("~", 0.004, 1e-12))
		Expect(res.Metrics.ToolCosts[2].Source).To(Equal(costs.SourceNone))
		Expect(res.Metrics.TotalCostUSD).To(BeNumerically("~", 0.054, 1e-12))
		Expect(res.Metrics.DegradedCostCount).To(Equal(1))
	})

	It("returns a failed result, not an error, when the body fails", func() {
		runner.output = &domain.BodyOutput{Output: map[string]any{"draft": "partial"}}
		runner.err = errors.New("llm provider exploded")

		res, err := executor.Execute(ctx, newsletter("c1"), hdrs)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(domain.StatusFailed))
		Expect(res.Output).To(HaveKeyWithValue("draft", "partial"))
		Expect(res.Error).To(ContainSubstring("llm provider exploded"))
	})

	It("fails with a typed error when the card store is unreachable", func() {
		store.setErr(&retry.StatusError{StatusCode: http.StatusBadGateway, Message: "bad gateway"})
		_, err := executor.Execute(ctx, newsletter("c1"), hdrs)
		Expect(domain.IsContextUnavailable(err)).To(BeTrue())
		Expect(runner.calls.Load()).To(BeZero())

		By("releasing the claim so the request can be retried")
		store.setErr(nil)
		res, err := executor.Execute(ctx, newsletter("c1"), hdrs)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status).To(Equal(domain.StatusCompleted))
		Expect(res.Signals.Replayed).To(BeFalse())
	})

	It("returns a deadline error when the body outlives the deadline", func() {
		runner.block = true
		deadlineCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := executor.Execute(deadlineCtx, newsletter("c1"), hdrs)
		Expect(domain.IsDeadlineExceeded(err)).To(BeTrue())

		runner.block = false
		res, err := executor.Execute(ctx, newsletter("c1"), hdrs)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Signals.Replayed).To(BeFalse())
	})

	DescribeTable("rejects invalid requests before doing any work",
		func(req domain.Request, headers map[string]string, field string) {
			_, err := executor.Execute(ctx, req, headers)
			var ve *domain.ValidationError
			Expect(errors.As(err, &ve)).To(BeTrue())
			Expect(ve.Field).To(Equal(field))
			Expect(store.calls.Load()).To(BeZero())
			Expect(runner.calls.Load()).To(BeZero())
		},
		Entry("missing tenant", domain.Request{WorkflowType: domain.TypePremiumNewsletter}, map[string]string{}, "X-Tenant-ID"),
		Entry("missing workflow type", domain.Request{}, map[string]string{"X-Tenant-ID": "t1"}, "workflow_type"),
		Entry("unknown workflow type", domain.Request{WorkflowType: "haiku"}, map[string]string{"X-Tenant-ID": "t1"}, "workflow_type"),
		Entry("blank card id", domain.Request{WorkflowType: domain.TypeOnboardingContent, CardIDs: []string{"c1", " "}}, map[string]string{"X-Tenant-ID": "t1"}, "card_ids[1]"),
	)

	Describe("idempotent replay", func() {
		encode := func(r *domain.ExecutionResult) []byte {
			data, err := json.Marshal(r)
			Expect(err).NotTo(HaveOccurred())
			return data
		}

		It("returns a byte-identical result without running again", func() {
			first, err := executor.Execute(ctx, newsletter("c1", "c2"), hdrs)
			Expect(err).NotTo(HaveOccurred())
			second, err := executor.Execute(ctx, newsletter("c1", "c2"), hdrs)
			Expect(err).NotTo(HaveOccurred())

			Expect(runner.calls.Load()).To(BeNumerically("==", 1))
			Expect(encode(second)).To(Equal(encode(first)))
			Expect(first.Signals.Replayed).To(BeFalse())
			Expect(second.Signals.Replayed).To(BeTrue())
		})

		It("replays failed results too", func() {
			runner.err = errors.New("boom")
			first, _ := executor.Execute(ctx, newsletter("c1"), hdrs)
			second, _ := executor.Execute(ctx, newsletter("c1"), hdrs)
			Expect(second.Status).To(Equal(domain.StatusFailed))
			Expect(encode(second)).To(Equal(encode(first)))
			Expect(runner.calls.Load()).To(BeNumerically("==", 1))
		})

		It("keys on the Idempotency-Key header when present", func() {
			withKey := map[string]string{"X-Tenant-ID": "t1", "Idempotency-Key": "order-42"}
			_, err := executor.Execute(ctx, newsletter("c1"), withKey)
			Expect(err).NotTo(HaveOccurred())
			res, err := executor.Execute(ctx, newsletter("c2"), withKey)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Signals.Replayed).To(BeTrue())
			Expect(runner.calls.Load()).To(BeNumerically("==", 1))
		})

		It("does not replay a no-context result for an empty legacy context", func() {
			plain := domain.Request{WorkflowType: domain.TypePremiumNewsletter}
			first, err := executor.Execute(ctx, plain, hdrs)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Signals.LegacyContextUsed).To(BeFalse())

			plain.LegacyContext = map[string]any{}
			second, err := executor.Execute(ctx, plain, hdrs)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Signals.Replayed).To(BeFalse())
			Expect(second.Signals.LegacyContextUsed).To(BeTrue())
			Expect(runner.calls.Load()).To(BeNumerically("==", 2))
		})

		It("never shares results across tenants", func() {
			_, err := executor.Execute(ctx, newsletter("c1"), map[string]string{"X-Tenant-ID": "t1", "Idempotency-Key": "k"})
			Expect(err).NotTo(HaveOccurred())
			res, err := executor.Execute(ctx, newsletter("c1"), map[string]string{"X-Tenant-ID": "t2", "Idempotency-Key": "k"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Signals.Replayed).To(BeFalse())
			Expect(runner.calls.Load()).To(BeNumerically("==", 2))
		})

		It("runs the body once under concurrent duplicates", func() {
			runner.gate = make(chan struct{})
			const n = 10
			results := make([][]byte, n)
			var wg sync.WaitGroup
			for i := range n {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					res, err := executor.Execute(ctx, newsletter("c1", "c2"), hdrs)
					Expect(err).NotTo(HaveOccurred())
					results[i] = encode(res)
				}()
			}
			Eventually(runner.calls.Load).Should(BeNumerically("==", 1))
			close(runner.gate)
			wg.Wait()

			Expect(runner.calls.Load()).To(BeNumerically("==", 1))
			for _, r := range results {
				Expect(r).To(Equal(results[0]))
			}
		})

		It("reports a pending replay when the claim outlives the deadline", func() {
			key, err := application.IdempotencyKey("t1", "", newsletter("c1"))
			Expect(err).NotTo(HaveOccurred())
			claim, err := replays.Claim(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(claim.Exists).To(BeFalse())

			short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			_, err = executor.Execute(short, newsletter("c1"), hdrs)

			Expect(err).To(MatchError(domain.ErrReplayPending))
			Expect(domain.IsDeadlineExceeded(err)).To(BeTrue())
			Expect(runner.calls.Load()).To(BeZero())
		})

		It("lets a duplicate give up at its own deadline while the first call runs", func() {
			runner.gate = make(chan struct{})

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(done)
				_, err := executor.Execute(ctx, newsletter("c2"), hdrs)
				Expect(err).NotTo(HaveOccurred())
			}()
			Eventually(runner.calls.Load).Should(BeNumerically("==", 1))

			short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			started := time.Now()
			_, err := executor.Execute(short, newsletter("c2"), hdrs)

			Expect(domain.IsDeadlineExceeded(err)).To(BeTrue())
			Expect(time.Since(started)).To(BeNumerically("<", 500*time.Millisecond))
			Expect(runner.calls.Load()).To(BeNumerically("==", 1))

			close(runner.gate)
			Eventually(done).Should(BeClosed())
		})

		It("does not hand the first call's deadline to a duplicate that still has time", func() {
			runner.blockFirst = true
			leaderCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
			defer cancel()

			leaderErr := make(chan error, 1)
			go func() {
				_, err := executor.Execute(leaderCtx, newsletter("c4"), hdrs)
				leaderErr <- err
			}()
			Eventually(runner.calls.Load).Should(BeNumerically("==", 1))

			res, err := executor.Execute(ctx, newsletter("c4"), hdrs)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(domain.StatusCompleted))
			Expect(domain.IsDeadlineExceeded(<-leaderErr)).To(BeTrue())
			Expect(runner.calls.Load()).To(BeNumerically("==", 2))
		})

		It("runs the body once across executors sharing a store", func() {
			runner.gate = make(chan struct{})
			other := newExecutor(replays)

			var wg sync.WaitGroup
			var a, b *domain.ExecutionResult
			wg.Add(2)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				var err error
				a, err = executor.Execute(ctx, newsletter("c3"), hdrs)
				Expect(err).NotTo(HaveOccurred())
			}()
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				var err error
				b, err = other.Execute(ctx, newsletter("c3"), hdrs)
				Expect(err).NotTo(HaveOccurred())
			}()
			Eventually(runner.calls.Load).Should(BeNumerically("==", 1))
			Consistently(runner.calls.Load, 30*time.Millisecond).Should(BeNumerically("==", 1))
			close(runner.gate)
			wg.Wait()

			Expect(encode(a)).To(Equal(encode(b)))
			Expect(a.Signals.Replayed != b.Signals.Replayed).To(BeTrue())
		})
	})
})
