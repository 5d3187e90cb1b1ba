package audit

import (
	"context"
	"log/slog"
	"time"
)

const (
	ActionWorkflowExecuted   = "workflow.executed"
	ActionWorkflowReplayed   = "workflow.replayed"
	ActionToolCostAttributed = "tool.cost_attributed"
	ActionCostOverridesReset = "tool.cost_overrides_reloaded"
)

type Event struct {
	Timestamp    time.Time
	TenantID     string
	WorkflowID   string
	Action       string
	Resource     string
	Parameters   map[string]any
	Result       string
	ErrorMessage string
	Duration     time.Duration
	TraceID      string
	Metadata     map[string]string
}

type EventSink interface {
	Record(ctx context.Context, event Event) error
	Close() error
}

type NoOpSink struct{}

func NewNoOpSink() *NoOpSink {
	return &NoOpSink{}
}

func (s *NoOpSink) Record(ctx context.Context, event Event) error {
	return nil
}

func (s *NoOpSink) Close() error {
	return nil
}

// SlogSink writes audit events as structured log records under the "audit" group.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger.WithGroup("audit")}
}

func (s *SlogSink) Record(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	attrs := []any{
		"timestamp", event.Timestamp,
		"tenant_id", event.TenantID,
		"action", event.Action,
		"result", event.Result,
	}
	if event.WorkflowID != "" {
		attrs = append(attrs, "workflow_id", event.WorkflowID)
	}
	if event.Resource != "" {
		attrs = append(attrs, "resource", event.Resource)
	}
	if event.TraceID != "" {
		attrs = append(attrs, "trace_id", event.TraceID)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	if event.ErrorMessage != "" {
		attrs = append(attrs, "error", event.ErrorMessage)
	}
	if len(event.Parameters) > 0 {
		attrs = append(attrs, "parameters", event.Parameters)
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, k, v)
	}
	s.logger.InfoContext(ctx, "audit event", attrs...)
	return nil
}

func (s *SlogSink) Close() error {
	return nil
}
