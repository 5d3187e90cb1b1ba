package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	mcpserver "github.com/fylle/workflow-mcp/internal/server"
	"github.com/fylle/workflow-mcp/internal/server-plugin/authorization"
	serverDomain "github.com/fylle/workflow-mcp/internal/server-plugin/domain"
	"github.com/fylle/workflow-mcp/internal/server/auth"
	"github.com/fylle/workflow-mcp/internal/shared"
	"github.com/fylle/workflow-mcp/internal/workflow/domain"
)

const CatalogURI = "workflow://catalog"

// WorkflowServerPlugin exposes workflow execution over MCP.
type WorkflowServerPlugin struct {
	executor      mcpserver.WorkflowExecutor
	catalog       domain.Catalog
	authenticator auth.Authenticator
	authChecker   auth.AuthorizationChecker
	logger        *slog.Logger
}

func NewWorkflowServerPlugin(executor mcpserver.WorkflowExecutor, catalog domain.Catalog, authChecker auth.AuthorizationChecker, logger *slog.Logger) *WorkflowServerPlugin {
	return &WorkflowServerPlugin{
		executor:      executor,
		catalog:       catalog,
		authenticator: auth.NewHeaderAuthenticator(true),
		authChecker:   authChecker,
		logger:        logger,
	}
}

func (p *WorkflowServerPlugin) ID() string   { return "workflow" }
func (p *WorkflowServerPlugin) Name() string { return "Workflow Execution" }
func (p *WorkflowServerPlugin) Description() string {
	return "Runs content workflows against context cards with idempotent replay"
}
func (p *WorkflowServerPlugin) Version() string { return "0.1.0" }
func (p *WorkflowServerPlugin) RequiredCapability() string {
	return serverDomain.CapabilityBodyRunner
}

// ResourceProvider implementation
func (p *WorkflowServerPlugin) GetResources(ctx context.Context) ([]serverDomain.Resource, error) {
	return []serverDomain.Resource{
		{
			URI:         CatalogURI,
			Name:        "Workflow Catalog",
			Description: "Known workflow types with the card types they consume",
			MIMEType:    "application/json",
			Handler:     p.handleCatalogResource,
		},
	}, nil
}

func (p *WorkflowServerPlugin) handleCatalogResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	jsonData, err := json.MarshalIndent(p.catalog.List(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workflow catalog: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}

// ToolProvider implementation
func (p *WorkflowServerPlugin) GetTools(ctx context.Context) ([]serverDomain.Tool, error) {
	execute := serverDomain.Tool{
		Name:        "execute_workflow",
		Description: "Execute a workflow using context cards; repeated calls with the same idempotency key replay the first result",
		Builder:     p.buildExecuteWorkflowTool,
		Handler:     p.handleExecuteWorkflow,
	}
	return []serverDomain.Tool{
		authorization.WrapToolWithTenant(execute, "workflow", "execute", p.authenticator, p.authChecker, p.logger),
	}, nil
}

func (p *WorkflowServerPlugin) buildExecuteWorkflowTool() mcp.Tool {
	return mcp.NewTool(
		"execute_workflow",
		mcp.WithDescription("Execute a workflow using context cards; repeated calls with the same idempotency key replay the first result"),
		mcp.WithString("workflow_type",
			mcp.Required(),
			mcp.Description("Workflow type, see "+CatalogURI),
		),
		mcp.WithArray("card_ids",
			mcp.Description("Ids of the context cards to use"),
			mcp.WithStringItems(),
		),
		mcp.WithObject("context",
			mcp.Description("Deprecated inline context; prefer card_ids"),
		),
		mcp.WithObject("parameters",
			mcp.Description("Workflow specific parameters"),
		),
		mcp.WithObject(authorization.HeadersArgument,
			mcp.Required(),
			mcp.Description("Propagated headers: X-Tenant-ID (required), X-Trace-ID, X-Session-ID, Idempotency-Key"),
		),
	)
}

func (p *WorkflowServerPlugin) handleExecuteWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wr, err := requestFromArguments(req)
	if err != nil {
		return mcpserver.Error("invalid_arguments", err.Error(), "card_ids must be an array of strings", nil), nil
	}

	tenantCtx := shared.MustGetTenantContext(ctx)
	result, err := p.executor.Execute(ctx, wr, tenantCtx.Headers())
	if err != nil {
		code, hint := errorCode(err)
		return mcpserver.NewResultWithLogger(mcpserver.ToolResponse{
			Status:    mcpserver.ToolStatusError,
			Code:      code,
			Message:   err.Error(),
			RequestID: tenantCtx.TraceID,
			Hint:      hint,
		}, p.logger), nil
	}

	resp := mcpserver.ToolResponse{
		Status:    mcpserver.ToolStatusOK,
		Message:   fmt.Sprintf("Workflow %s %s", result.WorkflowID, result.Status),
		RequestID: tenantCtx.TraceID,
		Data:      result,
	}
	s := result.Signals
	switch {
	case result.Status == domain.StatusFailed:
		resp.Status = mcpserver.ToolStatusError
		resp.Code = "workflow_failed"
	case s.PartialResult:
		resp.Status = mcpserver.ToolStatusPartial
		resp.Message = fmt.Sprintf("Retrieved %d/%d cards", s.RequestedCount-s.MissingCount, s.RequestedCount)
	}
	if s.Replayed {
		resp.Code = "replayed"
	}
	if s.LegacyContextUsed {
		resp.Hint = "The context argument is deprecated, use card_ids instead"
		resp.Links = []mcpserver.ToolLink{{Rel: "migration-guide", Tool: "read_resource", Params: map[string]any{"uri": "workflow://onboarding/migration"}}}
	}
	return mcpserver.NewResultWithLogger(resp, p.logger), nil
}

func requestFromArguments(req mcp.CallToolRequest) (domain.Request, error) {
	wt, err := req.RequireString("workflow_type")
	if err != nil {
		return domain.Request{}, err
	}
	args := req.GetArguments()
	wr := domain.Request{WorkflowType: domain.Type(wt)}

	if raw, ok := args["card_ids"]; ok && raw != nil {
		items, ok := raw.([]any)
		if !ok {
			return domain.Request{}, errors.New("card_ids must be an array")
		}
		wr.CardIDs = make([]string, 0, len(items))
		for i, item := range items {
			id, ok := item.(string)
			if !ok {
				return domain.Request{}, fmt.Errorf("card_ids[%d] must be a string", i)
			}
			wr.CardIDs = append(wr.CardIDs, id)
		}
	}
	if legacy, ok := args["context"].(map[string]any); ok {
		wr.LegacyContext = legacy
	}
	if params, ok := args["parameters"].(map[string]any); ok {
		wr.Parameters = params
	}
	return wr, nil
}

func errorCode(err error) (code, hint string) {
	switch {
	case domain.IsValidationError(err):
		return "validation_error", "Fix the request; it will not succeed on retry"
	case errors.Is(err, domain.ErrReplayPending):
		return "replay_pending", "Another call with this idempotency key is still running; retry later"
	case domain.IsContextUnavailable(err):
		return "context_unavailable", "The cards service is unreachable; retrying with the same idempotency key is safe"
	case domain.IsDeadlineExceeded(err):
		return "deadline_exceeded", "Retrying with the same idempotency key is safe"
	default:
		return "execution_error", ""
	}
}

// PromptProvider implementation
func (p *WorkflowServerPlugin) GetPrompts(ctx context.Context) ([]serverDomain.Prompt, error) {
	return []serverDomain.Prompt{
		{
			Name:        "plan_workflow",
			Description: "Choose the context cards for a workflow before executing it",
			Builder:     p.buildPlanWorkflowPrompt,
			Handler:     p.handlePlanWorkflowPrompt,
		},
	}, nil
}

func (p *WorkflowServerPlugin) buildPlanWorkflowPrompt() mcp.Prompt {
	return mcp.NewPrompt(
		"plan_workflow",
		mcp.WithPromptDescription("Choose the context cards for a workflow before executing it"),
		mcp.WithArgument("workflow_type",
			mcp.RequiredArgument(),
			mcp.ArgumentDescription("Workflow type to plan, see "+CatalogURI),
		),
	)
}

func (p *WorkflowServerPlugin) handlePlanWorkflowPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	wt := req.Params.Arguments["workflow_type"]
	def, ok := p.catalog.Lookup(domain.Type(wt))
	if !ok {
		return &mcp.GetPromptResult{
			Description: "unknown workflow type",
		}, fmt.Errorf("%w: %q", domain.ErrUnknownWorkflow, wt)
	}

	cardTypes := "any"
	if len(def.CardTypes) > 0 {
		cardTypes = strings.Join(def.CardTypes, ", ")
	}
	text := fmt.Sprintf(`Prepare a call to execute_workflow for the %q workflow (%s).

%s

1. Pick the context cards of these types: %s.
2. Pass their ids as card_ids. Do not inline context; the context argument is deprecated.
3. Set headers.X-Tenant-ID and a stable headers.Idempotency-Key so a retry replays the first result.
4. If the response status is "partial", report which card ids were missing.`,
		def.Type, def.Name, def.Description, cardTypes)

	return &mcp.GetPromptResult{
		Description: "Plan the " + def.Name + " workflow",
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.TextContent{Type: "text", Text: text},
			},
		},
	}, nil
}
