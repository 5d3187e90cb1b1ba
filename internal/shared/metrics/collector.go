package metrics

import (
	"context"
	"time"
)

type Collector interface {
	RecordWorkflowExecution(ctx context.Context, workflowType, status string, duration time.Duration)
	RecordContextPath(ctx context.Context, workflowType string, cardOnly, legacy bool)
	RecordCardRetrieval(ctx context.Context, requested, retrieved int, duration time.Duration, failed bool)
	RecordCacheLookup(ctx context.Context, cardType string, hit bool)
	RecordCacheHitRate(ctx context.Context, workflowType string, rate float64)
	RecordRetry(ctx context.Context, operation string, attempt int)
	RecordToolCost(ctx context.Context, toolName, source string, costUSD float64)
	Close() error
}

type NoOpCollector struct{}

func NewNoOpCollector() *NoOpCollector {
	return &NoOpCollector{}
}

func (c *NoOpCollector) RecordWorkflowExecution(ctx context.Context, workflowType, status string, duration time.Duration) {
}

func (c *NoOpCollector) RecordContextPath(ctx context.Context, workflowType string, cardOnly, legacy bool) {
}

func (c *NoOpCollector) RecordCardRetrieval(ctx context.Context, requested, retrieved int, duration time.Duration, failed bool) {
}

func (c *NoOpCollector) RecordCacheLookup(ctx context.Context, cardType string, hit bool) {
}

func (c *NoOpCollector) RecordCacheHitRate(ctx context.Context, workflowType string, rate float64) {
}

func (c *NoOpCollector) RecordRetry(ctx context.Context, operation string, attempt int) {
}

func (c *NoOpCollector) RecordToolCost(ctx context.Context, toolName, source string, costUSD float64) {
}

func (c *NoOpCollector) Close() error {
	return nil
}
