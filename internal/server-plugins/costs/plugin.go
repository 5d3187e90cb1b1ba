package costs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fylle/workflow-mcp/internal/costs"
	mcpserver "github.com/fylle/workflow-mcp/internal/server"
	serverDomain "github.com/fylle/workflow-mcp/internal/server-plugin/domain"
	"github.com/fylle/workflow-mcp/internal/shared"
	"github.com/fylle/workflow-mcp/internal/shared/audit"
	"github.com/fylle/workflow-mcp/internal/shared/metrics"
)

const OverridesURI = "workflow://costs/overrides"

// Attributor prices tool invocations and reloads its override table.
type Attributor interface {
	Attribute(in costs.Invocation) costs.Result
	Reload(ctx context.Context) (int, error)
	Overrides() *costs.OverrideTable
}

// CostsServerPlugin exposes tool cost attribution over MCP.
type CostsServerPlugin struct {
	attributor Attributor
	metrics    metrics.Collector
	audit      audit.EventSink
	logger     *slog.Logger
}

func NewCostsServerPlugin(attributor Attributor, collector metrics.Collector, sink audit.EventSink, logger *slog.Logger) *CostsServerPlugin {
	return &CostsServerPlugin{
		attributor: attributor,
		metrics:    collector,
		audit:      sink,
		logger:     logger,
	}
}

func (p *CostsServerPlugin) ID() string                 { return "costs" }
func (p *CostsServerPlugin) Name() string               { return "Tool Cost Attribution" }
func (p *CostsServerPlugin) Version() string            { return "0.1.0" }
func (p *CostsServerPlugin) RequiredCapability() string { return "" }
func (p *CostsServerPlugin) Description() string {
	return "Prices tool invocations from execution metadata, usage, tool metadata and overrides"
}

// GetResources lists the active override keys.
func (p *CostsServerPlugin) GetResources(ctx context.Context) ([]serverDomain.Resource, error) {
	return []serverDomain.Resource{
		{
			URI:         OverridesURI,
			Name:        "Tool Cost Overrides",
			Description: "Normalised tool names with an active per-call cost override",
			MIMEType:    "application/json",
			Handler:     p.handleOverridesResource,
		},
	}, nil
}

func (p *CostsServerPlugin) handleOverridesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	table := p.attributor.Overrides()
	rates := make(map[string]float64, table.Len())
	for _, k := range table.Keys() {
		rates[k], _ = table.Lookup(k)
	}
	jsonData, err := json.MarshalIndent(rates, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize cost overrides: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}

func (p *CostsServerPlugin) GetTools(ctx context.Context) ([]serverDomain.Tool, error) {
	return []serverDomain.Tool{
		{
			Name:        "attribute_tool_cost",
			Description: "Attribute a USD cost to one tool invocation",
			Builder:     p.buildAttributeTool,
			Handler:     p.handleAttribute,
		},
		{
			Name:        "reload_cost_overrides",
			Description: "Reload tool cost overrides from configuration and the environment",
			Builder:     p.buildReloadTool,
			Handler:     p.handleReload,
		},
	}, nil
}

func (p *CostsServerPlugin) buildAttributeTool() mcp.Tool {
	return mcp.NewTool(
		"attribute_tool_cost",
		mcp.WithDescription("Attribute a USD cost to one tool invocation"),
		mcp.WithString("tool_name",
			mcp.Required(),
			mcp.Description("Name of the invoked tool"),
		),
		mcp.WithObject("tool_metadata",
			mcp.Description("Static tool metadata such as cost_per_call or unit_cost"),
		),
		mcp.WithObject("execution_metadata",
			mcp.Description("Metadata returned by the invocation such as cost_usd, usage or units"),
		),
	)
}

func (p *CostsServerPlugin) buildReloadTool() mcp.Tool {
	return mcp.NewTool(
		"reload_cost_overrides",
		mcp.WithDescription("Reload tool cost overrides from configuration and the environment"),
	)
}

func (p *CostsServerPlugin) handleAttribute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("tool_name")
	if err != nil {
		return mcpserver.Error("invalid_arguments", err.Error(), "", nil), nil
	}
	args := req.GetArguments()
	in := costs.Invocation{ToolName: name}
	in.ToolMetadata, _ = args["tool_metadata"].(map[string]any)
	in.ExecutionMetadata, _ = args["execution_metadata"].(map[string]any)

	res := p.attributor.Attribute(in)
	p.metrics.RecordToolCost(ctx, res.ToolName, string(res.Source), res.CostUSD)

	resp := mcpserver.ToolResponse{
		Status:  mcpserver.ToolStatusOK,
		Message: fmt.Sprintf("%s costs $%.6f (%s)", res.ToolName, res.CostUSD, res.Source),
		Data:    res,
	}
	if res.Degraded() {
		resp.Status = mcpserver.ToolStatusPartial
		resp.Code = "no_pricing_evidence"
		resp.Hint = "Add a cost override for this tool or report cost_usd in the execution metadata"
	}
	return mcpserver.Respond(ctx, resp, p.logger), nil
}

func (p *CostsServerPlugin) handleReload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	n, err := p.attributor.Reload(ctx)

	event := audit.Event{
		Action:   audit.ActionCostOverridesReset,
		Result:   "success",
		Duration: time.Since(start),
	}
	if tenant, ok := shared.GetTenantContext(ctx); ok {
		event.TenantID = tenant.TenantID
		event.TraceID = tenant.TraceID
	}
	if err != nil {
		event.Result = "failure"
		event.ErrorMessage = err.Error()
	}
	if recErr := p.audit.Record(ctx, event); recErr != nil {
		p.logger.Warn("Failed to record audit event", "action", event.Action, "error", recErr)
	}

	if err != nil {
		p.logger.Error("Cost override reload failed", "error", err)
		return mcpserver.Respond(ctx, mcpserver.ToolResponse{
			Status:  mcpserver.ToolStatusError,
			Code:    "reload_failed",
			Message: err.Error(),
			Hint:    "The previous overrides remain active",
		}, p.logger), nil
	}
	p.logger.Info("Cost overrides reloaded", "count", n)
	return mcpserver.Respond(ctx, mcpserver.ToolResponse{
		Status:  mcpserver.ToolStatusOK,
		Message: fmt.Sprintf("%d cost overrides active", n),
		Data:    map[string]int{"overrides": n},
	}, p.logger), nil
}
