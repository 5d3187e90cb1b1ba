package metrics

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/fylle/workflow-mcp"

// OTelCollector records metrics through the global OpenTelemetry MeterProvider.
// Configure the provider with otel.SetMeterProvider before construction; the
// default provider discards everything.
type OTelCollector struct {
	executions        metric.Int64Counter
	executionDuration metric.Float64Histogram
	cardOnly          metric.Int64Counter
	legacyContext     metric.Int64Counter
	retrieveDuration  metric.Float64Histogram
	retrieveFailures  metric.Int64Counter
	cardsRequested    metric.Int64Counter
	cardsRetrieved    metric.Int64Counter
	cacheLookups      metric.Int64Counter
	cacheHitRate      metric.Float64Histogram
	retries           metric.Int64Counter
	toolCost          metric.Float64Counter
}

func NewOTelCollector() (*OTelCollector, error) {
	return NewOTelCollectorWithMeter(otel.Meter(meterName))
}

func NewOTelCollectorWithMeter(meter metric.Meter) (*OTelCollector, error) {
	c := &OTelCollector{}
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	c.executions, err = meter.Int64Counter("workflow_executions_total",
		metric.WithDescription("Workflow executions by type and terminal status"))
	collect(err)
	c.executionDuration, err = meter.Float64Histogram("workflow_execution_duration_ms",
		metric.WithDescription("Workflow execution latency"), metric.WithUnit("ms"))
	collect(err)
	c.cardOnly, err = meter.Int64Counter("workflow_card_only_total",
		metric.WithDescription("Executions resolved from context cards only"))
	collect(err)
	c.legacyContext, err = meter.Int64Counter("workflow_legacy_context_total",
		metric.WithDescription("Executions that supplied the deprecated legacy context"))
	collect(err)
	c.retrieveDuration, err = meter.Float64Histogram("workflow_retrieve_duration_ms",
		metric.WithDescription("Card retrieval latency"), metric.WithUnit("ms"))
	collect(err)
	c.retrieveFailures, err = meter.Int64Counter("workflow_retrieve_failures_total",
		metric.WithDescription("Card retrievals that failed after retries"))
	collect(err)
	c.cardsRequested, err = meter.Int64Counter("workflow_cards_requested_total")
	collect(err)
	c.cardsRetrieved, err = meter.Int64Counter("workflow_cards_retrieved_total")
	collect(err)
	c.cacheLookups, err = meter.Int64Counter("workflow_card_cache_lookups_total",
		metric.WithDescription("Card cache lookups by card type and outcome"))
	collect(err)
	c.cacheHitRate, err = meter.Float64Histogram("workflow_cache_hit_rate",
		metric.WithDescription("Per-execution card cache hit rate"))
	collect(err)
	c.retries, err = meter.Int64Counter("outbound_retries_total",
		metric.WithDescription("Retried outbound calls by operation"))
	collect(err)
	c.toolCost, err = meter.Float64Counter("tool_cost_usd_total",
		metric.WithDescription("Attributed tool cost"), metric.WithUnit("USD"))
	collect(err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

func (c *OTelCollector) RecordWorkflowExecution(ctx context.Context, workflowType, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("workflow_type", workflowType),
		attribute.String("status", status),
	)
	c.executions.Add(ctx, 1, attrs)
	c.executionDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (c *OTelCollector) RecordContextPath(ctx context.Context, workflowType string, cardOnly, legacy bool) {
	attrs := metric.WithAttributes(attribute.String("workflow_type", workflowType))
	if cardOnly {
		c.cardOnly.Add(ctx, 1, attrs)
	}
	if legacy {
		c.legacyContext.Add(ctx, 1, attrs)
	}
}

func (c *OTelCollector) RecordCardRetrieval(ctx context.Context, requested, retrieved int, duration time.Duration, failed bool) {
	c.retrieveDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.Bool("failed", failed)))
	c.cardsRequested.Add(ctx, int64(requested))
	c.cardsRetrieved.Add(ctx, int64(retrieved))
	if failed {
		c.retrieveFailures.Add(ctx, 1)
	}
}

func (c *OTelCollector) RecordCacheLookup(ctx context.Context, cardType string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	c.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("card_type", cardType),
		attribute.String("outcome", outcome),
	))
}

func (c *OTelCollector) RecordCacheHitRate(ctx context.Context, workflowType string, rate float64) {
	c.cacheHitRate.Record(ctx, rate, metric.WithAttributes(attribute.String("workflow_type", workflowType)))
}

func (c *OTelCollector) RecordRetry(ctx context.Context, operation string, attempt int) {
	c.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Int("attempt", attempt),
	))
}

func (c *OTelCollector) RecordToolCost(ctx context.Context, toolName, source string, costUSD float64) {
	c.toolCost.Add(ctx, costUSD, metric.WithAttributes(
		attribute.String("tool", toolName),
		attribute.String("source", source),
	))
}

func (c *OTelCollector) Close() error {
	return nil
}
