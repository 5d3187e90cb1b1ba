package authorization

import (
	"context"
	"fmt"
	"log/slog"

	mcpserver "github.com/fylle/workflow-mcp/internal/server"
	"github.com/fylle/workflow-mcp/internal/server-plugin/domain"
	"github.com/fylle/workflow-mcp/internal/server/auth"
	"github.com/fylle/workflow-mcp/internal/shared"
	"github.com/fylle/workflow-mcp/internal/shared/headers"
	"github.com/mark3labs/mcp-go/mcp"
)

// HeadersArgument is the tool argument carrying propagated request headers.
// MCP transports have no per-call headers, so callers pass them as an object.
const HeadersArgument = "headers"

// RequestHeaders merges the tenant context already on ctx with the headers
// argument of the tool call. Argument values win.
func RequestHeaders(ctx context.Context, request mcp.CallToolRequest) map[string]string {
	merged := map[string]string{}
	if tc, ok := shared.GetTenantContext(ctx); ok {
		for k, v := range tc.Headers() {
			merged[k] = v
		}
	}
	if raw, ok := request.GetArguments()[HeadersArgument].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				merged[k] = s
			}
		}
	}
	return headers.Propagate(merged)
}

// WrapToolWithTenant resolves the caller's tenant before the tool runs and
// places it on the handler's context. Authentication and permission failures
// are answered with an error envelope; the wrapped handler never runs.
func WrapToolWithTenant(
	tool domain.Tool,
	resource string,
	action string,
	authenticator auth.Authenticator,
	authChecker auth.AuthorizationChecker,
	logger *slog.Logger,
) domain.Tool {
	originalHandler := tool.Handler
	tenantHandler := func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenantCtx, err := authenticator.Authenticate(ctx, RequestHeaders(ctx, request))
		if err != nil {
			logger.Warn("Authentication failed", "tool", tool.Name, "error", err)
			return mcpserver.Error("unauthenticated", err.Error(),
				fmt.Sprintf("Pass %s in the %q argument", headers.TenantID, HeadersArgument), nil), nil
		}

		if authChecker != nil {
			if err := authChecker.CheckPermission(ctx, tenantCtx, resource, action); err != nil {
				logger.Warn("Authorization failed",
					"tool", tool.Name,
					tenantCtx.LogAttr(),
					"resource", resource,
					"action", action,
					"error", err)
				resp := mcpserver.ToolResponse{
					Status:  mcpserver.ToolStatusError,
					Code:    "permission_denied",
					Message: fmt.Sprintf("%s %s: %v", action, resource, err),
				}
				return mcpserver.Respond(shared.WithTenantContext(ctx, tenantCtx), resp, logger), nil
			}
		}

		logger.Debug("Tool call authenticated", "tool", tool.Name, tenantCtx.LogAttr())

		return originalHandler(shared.WithTenantContext(ctx, tenantCtx), request)
	}

	return domain.Tool{
		Name:        tool.Name,
		Description: tool.Description,
		Builder:     tool.Builder,
		Handler:     tenantHandler,
	}
}
