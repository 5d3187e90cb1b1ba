package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	cards "github.com/fylle/workflow-mcp/internal/cards/domain"
	"github.com/fylle/workflow-mcp/internal/costs"
	"github.com/fylle/workflow-mcp/internal/retry"
	"github.com/fylle/workflow-mcp/internal/shared/audit"
	"github.com/fylle/workflow-mcp/internal/shared/hashing"
	"github.com/fylle/workflow-mcp/internal/shared/headers"
	"github.com/fylle/workflow-mcp/internal/shared/metrics"
	"github.com/fylle/workflow-mcp/internal/workflow/domain"
)

const (
	requestTypeHint   = "workflow_request"
	executeOperation  = "workflow_execute"
	defaultPollPeriod = 200 * time.Millisecond
)

// CostAttributor prices a single tool invocation.
type CostAttributor interface {
	Attribute(in costs.Invocation) costs.Result
}

// UsageTracker reports card consumption to the card store in the background.
type UsageTracker interface {
	Track(tenantID string, event cards.UsageEvent, hdrs map[string]string) bool
}

// ExecutorOptions holds the executor's tunables.
type ExecutorOptions struct {
	// Timeout is applied when the caller's context has no deadline.
	Timeout time.Duration
	// PollInterval paces waiting on a key claimed by another process.
	PollInterval time.Duration
	NewID        func() string
	Now          func() time.Time
}

// WorkflowExecutor coordinates one workflow execution: validation, replay
// protection, context resolution, the workflow body and cost attribution.
type WorkflowExecutor struct {
	resolver *ContextResolver
	runner   domain.BodyRunner
	costs    CostAttributor
	catalog  domain.Catalog
	replay   domain.ReplayStore
	usage    UsageTracker
	metrics  metrics.Collector
	audit    audit.EventSink
	logger   *slog.Logger
	opts     ExecutorOptions
	inflight singleflight.Group
}

func NewWorkflowExecutor(
	resolver *ContextResolver,
	runner domain.BodyRunner,
	attributor CostAttributor,
	catalog domain.Catalog,
	replay domain.ReplayStore,
	usage UsageTracker,
	collector metrics.Collector,
	sink audit.EventSink,
	logger *slog.Logger,
	opts ExecutorOptions,
) *WorkflowExecutor {
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}
	if sink == nil {
		sink = audit.NewNoOpSink()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollPeriod
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &WorkflowExecutor{
		resolver: resolver,
		runner:   runner,
		costs:    attributor,
		catalog:  catalog,
		replay:   replay,
		usage:    usage,
		metrics:  collector,
		audit:    sink,
		logger:   logger,
		opts:     opts,
	}
}

// hashedRequest is the content a request key is derived from. The request's
// JSON omits an empty legacy context, so its presence is recorded apart:
// sending the field selects the deprecated path.
type hashedRequest struct {
	domain.Request
	LegacyContextSent bool `json:"legacy_context_sent,omitempty"`
}

// IdempotencyKey derives the replay key of a request. An explicit
// Idempotency-Key header takes precedence over the request's content hash;
// either way the key is scoped to the tenant.
func IdempotencyKey(tenantID, headerKey string, req domain.Request) (string, error) {
	entity := headerKey
	if entity == "" {
		hashed := hashedRequest{Request: req, LegacyContextSent: req.LegacyContext != nil}
		h, err := hashing.Hash(hashed, requestTypeHint)
		if err != nil {
			return "", fmt.Errorf("failed to hash request: %w", err)
		}
		entity = h
	}
	return hashing.IdempotencyKey(tenantID+":"+entity, executeOperation), nil
}

// Execute runs a workflow at most once per idempotency key. A failing workflow
// body is reported through Status, not as an error. Errors are validation
// failures, context unavailability, the caller's deadline or replay store
// failures.
func (e *WorkflowExecutor) Execute(ctx context.Context, req domain.Request, hdrs map[string]string) (*domain.ExecutionResult, error) {
	propagated := headers.Propagate(hdrs)
	tenantID := propagated[headers.TenantID]
	if err := e.validate(tenantID, req); err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok && e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	key, err := IdempotencyKey(tenantID, propagated[headers.IdempotencyKey], req)
	if err != nil {
		return nil, err
	}

	out, ran, err := e.shared(ctx, key, tenantID, propagated, req)
	if err != nil {
		return nil, err
	}

	var result domain.ExecutionResult
	if err := json.Unmarshal(out.data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode execution result: %w", err)
	}
	replayed := out.replayed || !ran
	result.Signals = domain.SignalsFor(&result, replayed)

	if replayed {
		e.logger.Info("Workflow execution replayed",
			"workflow_id", result.WorkflowID,
			"tenant_id", tenantID,
			"idempotency_key", key)
		e.record(ctx, audit.Event{
			TenantID:   tenantID,
			WorkflowID: result.WorkflowID,
			Action:     audit.ActionWorkflowReplayed,
			Resource:   string(req.WorkflowType),
			Result:     string(result.Status),
			TraceID:    propagated[headers.TraceID],
		})
	}
	return &result, nil
}

type outcome struct {
	data     []byte
	replayed bool
}

// shared joins concurrent in-process executions of one key. Each caller
// waits under its own deadline. A follower handed the leader's context error
// while its own context is alive claims the key itself; the replay store
// then serves the leader's result or polls its pending claim.
func (e *WorkflowExecutor) shared(ctx context.Context, key, tenantID string, hdrs map[string]string, req domain.Request) (outcome, bool, error) {
	var ran atomic.Bool
	ch := e.inflight.DoChan(key, func() (any, error) {
		ran.Store(true)
		return e.executeOnce(ctx, key, tenantID, hdrs, req)
	})

	select {
	case <-ctx.Done():
		return outcome{}, false, deadlineOrCancel(ctx, "workflow.execute", nil)
	case res := <-ch:
		leader := ran.Load()
		if res.Err == nil {
			return res.Val.(outcome), leader, nil
		}
		if leader || !isContextError(res.Err) || ctx.Err() != nil {
			return outcome{}, leader, res.Err
		}
		e.logger.Debug("Shared execution ended with the leader's context, claiming for this caller",
			"idempotency_key", key,
			"error", res.Err)
		out, err := e.executeOnce(ctx, key, tenantID, hdrs, req)
		return out, true, err
	}
}

func isContextError(err error) bool {
	return domain.IsDeadlineExceeded(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// executeOnce claims the key and runs the workflow, or returns the result
// stored by whoever claimed it first. A claim without a result belongs to an
// execution still in progress elsewhere and is polled until it resolves.
func (e *WorkflowExecutor) executeOnce(ctx context.Context, key, tenantID string, hdrs map[string]string, req domain.Request) (outcome, error) {
	for {
		claim, err := e.replay.Claim(ctx, key)
		if err != nil {
			if ctxErr := deadlineOrCancel(ctx, "replay.claim", err); ctxErr != nil {
				return outcome{}, ctxErr
			}
			return outcome{}, fmt.Errorf("failed to claim idempotency key: %w", err)
		}
		if !claim.Exists {
			data, err := e.runClaimed(ctx, key, tenantID, hdrs, req)
			return outcome{data: data}, err
		}
		if claim.Result != nil {
			return outcome{data: claim.Result, replayed: true}, nil
		}

		e.logger.Debug("Idempotency key held by another execution, waiting",
			"idempotency_key", key)
		timer := time.NewTimer(e.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return outcome{}, fmt.Errorf("%w: %w", domain.ErrReplayPending, deadlineOrCancel(ctx, "replay.wait", nil))
		case <-timer.C:
		}
	}
}

// runClaimed executes under a held claim. The result is stored for replay;
// an execution that produced no result releases the claim.
func (e *WorkflowExecutor) runClaimed(ctx context.Context, key, tenantID string, hdrs map[string]string, req domain.Request) ([]byte, error) {
	cleanupCtx := context.WithoutCancel(ctx)

	result, err := e.run(ctx, key, tenantID, hdrs, req)
	if err != nil {
		if relErr := e.replay.Release(cleanupCtx, key); relErr != nil {
			e.logger.Warn("Failed to release idempotency claim",
				"idempotency_key", key,
				"error", relErr)
		}
		return nil, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		_ = e.replay.Release(cleanupCtx, key)
		return nil, fmt.Errorf("failed to encode execution result: %w", err)
	}
	if err := e.replay.Store(cleanupCtx, key, data); err != nil {
		e.logger.Error("Failed to store execution result for replay",
			"workflow_id", result.WorkflowID,
			"idempotency_key", key,
			"error", err)
		if relErr := e.replay.Release(cleanupCtx, key); relErr != nil {
			e.logger.Warn("Failed to release idempotency claim",
				"idempotency_key", key,
				"error", relErr)
		}
	}
	return data, nil
}

func (e *WorkflowExecutor) run(ctx context.Context, key, tenantID string, hdrs map[string]string, req domain.Request) (*domain.ExecutionResult, error) {
	start := e.opts.Now()
	exec := domain.NewExecution(e.opts.NewID(), tenantID, req, start)
	logger := e.logger.With(
		"workflow_id", exec.ID,
		"workflow_type", req.WorkflowType,
		"tenant_id", tenantID)

	source := domain.ClassifySource(req)
	_, cardOnly := source.(domain.CardSource)
	e.metrics.RecordContextPath(ctx, string(req.WorkflowType), cardOnly, domain.UsesLegacy(source))

	rc, err := e.resolver.Resolve(ctx, req, hdrs)
	if err != nil {
		_ = exec.Fail()
		e.finish(ctx, exec, start, hdrs, err)
		logger.Error("Context resolution failed", "error", err)
		return nil, err
	}
	if err := exec.ContextResolved(rc); err != nil {
		return nil, err
	}
	if rc.RequestedCount > 0 {
		e.metrics.RecordCacheHitRate(ctx, string(req.WorkflowType), rc.CacheHitRate)
	}
	if rc.DeprecationTriggered {
		logger.Warn("Deprecated inline context used",
			"legacy_fields", len(rc.LegacyFields),
			"shadowed_by_cards", rc.ShadowedLegacyKeys())
	}
	e.trackUsage(tenantID, exec.ID, req.WorkflowType, rc.Cards, hdrs)

	if err := exec.Start(); err != nil {
		return nil, err
	}
	body, runErr := e.runner.Run(ctx, domain.BodyInput{
		WorkflowID:   exec.ID,
		WorkflowType: req.WorkflowType,
		TenantID:     tenantID,
		Context:      rc.Fields(),
		Cards:        cardIDs(rc.Cards),
		Parameters:   req.Parameters,
		Headers:      headers.With(hdrs, headers.IdempotencyKey, key),
	})
	if runErr != nil {
		if ctxErr := deadlineOrCancel(ctx, "workflow.run", runErr); ctxErr != nil {
			_ = exec.Fail()
			e.finish(ctx, exec, start, hdrs, ctxErr)
			return nil, ctxErr
		}
	}
	if body == nil {
		body = &domain.BodyOutput{}
	}

	metricsOut := domain.Metrics{
		CardsUsed:         len(rc.Cards),
		LLMCalls:          body.LLMCalls,
		TokensUsed:        body.TokensUsed,
		CacheHitRate:      rc.CacheHitRate,
		MissingCardIDs:    rc.MissingIDs,
		PartialResult:     rc.Partial(),
		LegacyContextUsed: rc.DeprecationTriggered,
		ToolCosts:         make([]costs.Result, 0, len(body.ToolInvocations)),
	}
	for _, inv := range body.ToolInvocations {
		cost := e.costs.Attribute(inv)
		metricsOut.ToolCosts = append(metricsOut.ToolCosts, cost)
		metricsOut.TotalCostUSD += cost.CostUSD
		if cost.Degraded() {
			metricsOut.DegradedCostCount++
		}
		e.metrics.RecordToolCost(ctx, cost.ToolName, string(cost.Source), cost.CostUSD)
		e.record(ctx, audit.Event{
			TenantID:   tenantID,
			WorkflowID: exec.ID,
			Action:     audit.ActionToolCostAttributed,
			Resource:   cost.ToolName,
			Result:     string(cost.Source),
			TraceID:    hdrs[headers.TraceID],
			Parameters: map[string]any{"cost_usd": cost.CostUSD, "units": cost.Units},
		})
	}

	result := &domain.ExecutionResult{
		WorkflowID:   exec.ID,
		WorkflowType: req.WorkflowType,
		Output:       body.Output,
	}
	if result.Output == nil {
		result.Output = map[string]any{}
	}
	if runErr != nil {
		_ = exec.Fail()
		result.Error = runErr.Error()
		logger.Error("Workflow body failed", "error", runErr)
	} else {
		_ = exec.Complete()
	}
	result.Status = exec.Status()
	metricsOut.ExecutionTimeMs = e.opts.Now().Sub(start).Milliseconds()
	result.Metrics = metricsOut

	e.finish(ctx, exec, start, hdrs, runErr)
	logger.Info("Workflow execution finished",
		"status", result.Status,
		"cards_used", metricsOut.CardsUsed,
		"missing_cards", len(metricsOut.MissingCardIDs),
		"total_cost_usd", metricsOut.TotalCostUSD,
		"duration_ms", metricsOut.ExecutionTimeMs)
	return result, nil
}

func (e *WorkflowExecutor) validate(tenantID string, req domain.Request) error {
	if tenantID == "" {
		return domain.NewValidationError(headers.TenantID, "tenant header is required")
	}
	if req.WorkflowType == "" {
		return domain.NewValidationError("workflow_type", "is required")
	}
	if _, ok := e.catalog.Lookup(req.WorkflowType); !ok {
		return domain.NewValidationError("workflow_type",
			fmt.Sprintf("%s: %q", domain.ErrUnknownWorkflow, req.WorkflowType))
	}
	for i, id := range req.CardIDs {
		if strings.TrimSpace(id) == "" {
			return domain.NewValidationError(fmt.Sprintf("card_ids[%d]", i), "must not be empty")
		}
	}
	return nil
}

func (e *WorkflowExecutor) trackUsage(tenantID, workflowID string, wt domain.Type, used []cards.Card, hdrs map[string]string) {
	if e.usage == nil {
		return
	}
	for _, card := range used {
		e.usage.Track(tenantID, cards.UsageEvent{
			CardID:       card.ID,
			WorkflowID:   workflowID,
			WorkflowType: string(wt),
			SessionID:    hdrs[headers.SessionID],
		}, hdrs)
	}
}

func (e *WorkflowExecutor) finish(ctx context.Context, exec *domain.Execution, start time.Time, hdrs map[string]string, err error) {
	duration := e.opts.Now().Sub(start)
	e.metrics.RecordWorkflowExecution(ctx, string(exec.Request.WorkflowType), string(exec.Status()), duration)
	event := audit.Event{
		TenantID:   exec.TenantID,
		WorkflowID: exec.ID,
		Action:     audit.ActionWorkflowExecuted,
		Resource:   string(exec.Request.WorkflowType),
		Result:     string(exec.Status()),
		Duration:   duration,
		TraceID:    hdrs[headers.TraceID],
	}
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	e.record(ctx, event)
}

func (e *WorkflowExecutor) record(ctx context.Context, event audit.Event) {
	if err := e.audit.Record(ctx, event); err != nil {
		e.logger.Warn("Failed to record audit event",
			"action", event.Action,
			"error", err)
	}
}

// deadlineOrCancel maps an error observed after the caller's context ended to
// the deadline error or the cancellation. It returns nil while ctx is alive.
func deadlineOrCancel(ctx context.Context, operation string, err error) error {
	if ctx.Err() == nil {
		return nil
	}
	if retry.IsDeadlineExceeded(err) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &retry.DeadlineExceededError{Operation: operation, LastError: err}
	}
	return ctx.Err()
}

func cardIDs(used []cards.Card) []string {
	ids := make([]string, len(used))
	for i, c := range used {
		ids[i] = c.ID
	}
	return ids
}
