package domain_test

import (
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	cards "github.com/fylle/workflow-mcp/internal/cards/domain"
	"github.com/fylle/workflow-mcp/internal/retry"
	"github.com/fylle/workflow-mcp/internal/workflow/domain"
)

var _ = Describe("ClassifySource", func() {
	DescribeTable("selects the context shape",
		func(req domain.Request, expected domain.ContextSource, legacy bool) {
			source := domain.ClassifySource(req)
			Expect(source).To(Equal(expected))
			Expect(domain.UsesLegacy(source)).To(Equal(legacy))
		},
		Entry("cards only",
			domain.Request{CardIDs: []string{"c1"}},
			domain.CardSource{IDs: []string{"c1"}}, false),
		Entry("legacy only",
			domain.Request{LegacyContext: map[string]any{"a": 1}},
			domain.LegacySource{Fields: map[string]any{"a": 1}}, true),
		Entry("both",
			domain.Request{CardIDs: []string{"c1"}, LegacyContext: map[string]any{"a": 1}},
			domain.DualSource{IDs: []string{"c1"}, Fields: map[string]any{"a": 1}}, true),
		Entry("an empty but present legacy map",
			domain.Request{LegacyContext: map[string]any{}},
			domain.LegacySource{Fields: map[string]any{}}, true),
		Entry("neither",
			domain.Request{CardIDs: []string{}},
			domain.NoSource{}, false),
	)
})

var _ = Describe("ResolvedContext", func() {
	var rc *domain.ResolvedContext

	BeforeEach(func() {
		rc = domain.NewResolvedContext()
		rc.Cards = []cards.Card{
			{ID: "c1", Content: map[string]any{"company": "Acme", "tone": "formal"}},
			{ID: "c2", Content: map[string]any{"tone": "warm", "audience": "CTOs"}},
		}
		rc.LegacyFields = map[string]any{"company": "Legacy Inc", "topic": "AI"}
	})

	It("lets card fields win over legacy fields", func() {
		fields := rc.Fields()
		Expect(fields).To(HaveKeyWithValue("company", "Acme"))
		Expect(fields).To(HaveKeyWithValue("topic", "AI"))
		Expect(fields).To(HaveKeyWithValue("audience", "CTOs"))
	})

	It("keeps the first card's value on collisions between cards", func() {
		Expect(rc.Fields()).To(HaveKeyWithValue("tone", "formal"))
	})

	It("reports shadowed legacy keys", func() {
		Expect(rc.ShadowedLegacyKeys()).To(Equal([]string{"company"}))
	})

	It("is empty with no sources", func() {
		empty := domain.NewResolvedContext()
		Expect(empty.Fields()).To(BeEmpty())
		Expect(empty.ShadowedLegacyKeys()).To(BeNil())
		Expect(empty.Partial()).To(BeFalse())
	})
})

var _ = Describe("Execution", func() {
	newExecution := func() *domain.Execution {
		return domain.NewExecution("wf-1", "t1", domain.Request{WorkflowType: domain.TypePremiumNewsletter}, time.Now())
	}

	It("walks the happy path", func() {
		exec := newExecution()
		Expect(exec.State()).To(Equal(domain.StateReceived))
		Expect(exec.Status()).To(Equal(domain.StatusRunning))

		Expect(exec.ContextResolved(domain.NewResolvedContext())).To(Succeed())
		Expect(exec.Start()).To(Succeed())
		Expect(exec.Complete()).To(Succeed())

		Expect(exec.Status()).To(Equal(domain.StatusCompleted))
		Expect(exec.State().IsTerminal()).To(BeTrue())
		Expect(exec.History()).To(Equal([]domain.State{
			domain.StateReceived, domain.StateContextResolved, domain.StateRunning, domain.StateCompleted,
		}))
	})

	It("fails straight from received", func() {
		exec := newExecution()
		Expect(exec.Fail()).To(Succeed())
		Expect(exec.Status()).To(Equal(domain.StatusFailed))
	})

	It("rejects skipping states", func() {
		exec := newExecution()
		err := exec.Start()
		Expect(err).To(MatchError(domain.ErrInvalidTransition))
		Expect(exec.State()).To(Equal(domain.StateReceived))
	})

	It("rejects leaving a terminal state", func() {
		exec := newExecution()
		Expect(exec.Fail()).To(Succeed())
		Expect(exec.Complete()).To(MatchError(domain.ErrInvalidTransition))
	})
})

var _ = Describe("Errors", func() {
	It("keeps the cause of a context failure", func() {
		cause := &retry.StatusError{StatusCode: 503, Message: "down"}
		err := fmt.Errorf("resolve: %w", &domain.ContextUnavailableError{RequestedCount: 2, Err: cause})

		Expect(domain.IsContextUnavailable(err)).To(BeTrue())
		var statusErr *retry.StatusError
		Expect(errors.As(err, &statusErr)).To(BeTrue())
		Expect(statusErr).To(BeIdenticalTo(cause))
	})

	It("matches the transport's deadline error", func() {
		err := &retry.DeadlineExceededError{Operation: "cards.retrieve", Attempts: 1}
		Expect(domain.IsDeadlineExceeded(err)).To(BeTrue())
		Expect(domain.IsContextUnavailable(err)).To(BeFalse())
	})

	It("identifies validation errors", func() {
		err := domain.NewValidationError("workflow_type", "required")
		Expect(domain.IsValidationError(err)).To(BeTrue())
		Expect(err.Error()).To(Equal("validation failed: workflow_type: required"))
	})
})

var _ = Describe("SignalsFor", func() {
	It("derives counts from the metrics", func() {
		res := &domain.ExecutionResult{Metrics: domain.Metrics{
			CardsUsed:      3,
			MissingCardIDs: []string{"c4"},
			PartialResult:  true,
		}}
		Expect(domain.SignalsFor(res, true)).To(Equal(domain.Signals{
			PartialResult:  true,
			Replayed:       true,
			MissingCount:   1,
			RequestedCount: 4,
		}))
	})
})
