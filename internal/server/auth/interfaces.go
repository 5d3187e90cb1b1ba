package auth

import (
	"context"

	"github.com/fylle/workflow-mcp/internal/shared"
)

// Authenticator turns propagated request headers into a caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, hdrs map[string]string) (*shared.TenantContext, error)
}

type AuthorizationChecker interface {
	CheckPermission(ctx context.Context, tenant *shared.TenantContext, resource, action string) error
}
