package shared

import (
	"context"
	"log/slog"
	"time"

	"github.com/fylle/workflow-mcp/internal/shared/headers"
)

// TenantContext is the caller identity and correlation data for one request.
type TenantContext struct {
	TenantID       string
	TraceID        string
	SessionID      string
	IdempotencyKey string
	ReceivedAt     time.Time
}

// NewTenantContextFromHeaders builds a TenantContext from propagated headers.
func NewTenantContextFromHeaders(h map[string]string) *TenantContext {
	p := headers.Propagate(h)
	return &TenantContext{
		TenantID:       p[headers.TenantID],
		TraceID:        p[headers.TraceID],
		SessionID:      p[headers.SessionID],
		IdempotencyKey: p[headers.IdempotencyKey],
		ReceivedAt:     time.Now(),
	}
}

// Headers returns the propagatable view of the context.
func (tc *TenantContext) Headers() map[string]string {
	return headers.Propagate(map[string]string{
		headers.TenantID:       tc.TenantID,
		headers.TraceID:        tc.TraceID,
		headers.SessionID:      tc.SessionID,
		headers.IdempotencyKey: tc.IdempotencyKey,
	})
}

func (tc *TenantContext) HasTenant() bool {
	return tc.TenantID != ""
}

// LogAttr groups the correlation fields for slog. The idempotency key is left
// out; it is a client secret for replay purposes.
func (tc *TenantContext) LogAttr() slog.Attr {
	attrs := []any{slog.String("tenant_id", tc.TenantID)}
	if tc.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", tc.TraceID))
	}
	if tc.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", tc.SessionID))
	}
	return slog.Group("tenant", attrs...)
}

type contextKey struct{}

func WithTenantContext(ctx context.Context, tenant *TenantContext) context.Context {
	return context.WithValue(ctx, contextKey{}, tenant)
}

func GetTenantContext(ctx context.Context) (*TenantContext, bool) {
	tenant, ok := ctx.Value(contextKey{}).(*TenantContext)
	return tenant, ok && tenant != nil
}

// MustGetTenantContext is for handlers behind the tenant middleware, where a
// missing context is a wiring bug.
func MustGetTenantContext(ctx context.Context) *TenantContext {
	tenant, ok := GetTenantContext(ctx)
	if !ok {
		panic("tenant context not found in context")
	}
	return tenant
}
