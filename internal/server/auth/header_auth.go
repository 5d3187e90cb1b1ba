package auth

import (
	"context"
	"errors"

	"github.com/fylle/workflow-mcp/internal/shared"
)

var ErrMissingTenant = errors.New("missing tenant header")

// HeaderAuthenticator trusts the tenant header set by the gateway in front of
// this service. It identifies callers; it does not verify them.
type HeaderAuthenticator struct {
	requireTenant bool
}

func NewHeaderAuthenticator(requireTenant bool) *HeaderAuthenticator {
	return &HeaderAuthenticator{requireTenant: requireTenant}
}

func (a *HeaderAuthenticator) Authenticate(_ context.Context, hdrs map[string]string) (*shared.TenantContext, error) {
	tc := shared.NewTenantContextFromHeaders(hdrs)
	if a.requireTenant && !tc.HasTenant() {
		return nil, ErrMissingTenant
	}
	return tc, nil
}

type NoOpAuthorizationChecker struct{}

func NewNoOpAuthorizationChecker() *NoOpAuthorizationChecker {
	return &NoOpAuthorizationChecker{}
}

func (c *NoOpAuthorizationChecker) CheckPermission(ctx context.Context, tenant *shared.TenantContext, resource, action string) error {
	return nil
}
