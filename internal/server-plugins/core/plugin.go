package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fylle/workflow-mcp/internal/costs"
	mcpserver "github.com/fylle/workflow-mcp/internal/server"
	serverDomain "github.com/fylle/workflow-mcp/internal/server-plugin/domain"
	"github.com/fylle/workflow-mcp/internal/server-plugins/core/domain"
	"github.com/fylle/workflow-mcp/internal/shared/hashing"
	"github.com/fylle/workflow-mcp/pkg/config"
	"github.com/fylle/workflow-mcp/pkg/logger"
)

const (
	LogsURI = "workflow://server/logs"
	InfoURI = "workflow://server/info"

	defaultLogLines = 100
)

// OverrideLister exposes the active tool cost overrides.
type OverrideLister interface {
	Overrides() *costs.OverrideTable
}

// CoreServerPlugin provides server introspection and content hashing.
type CoreServerPlugin struct {
	cfg       *config.ServerConfig
	buffer    *logger.RingBuffer
	overrides OverrideLister
	startedAt time.Time
	logger    *slog.Logger
}

// NewCoreServerPlugin creates a new core functionality server plugin
func NewCoreServerPlugin(cfg *config.ServerConfig, buffer *logger.RingBuffer, overrides OverrideLister, logger *slog.Logger) *CoreServerPlugin {
	return &CoreServerPlugin{
		cfg:       cfg,
		buffer:    buffer,
		overrides: overrides,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// ServerPlugin interface implementation
func (p *CoreServerPlugin) ID() string {
	return "core"
}

func (p *CoreServerPlugin) Name() string {
	return "Core Functionality"
}

func (p *CoreServerPlugin) Description() string {
	return "Server information, sanitised logs and content hashing"
}

func (p *CoreServerPlugin) Version() string {
	return "0.1.0"
}

func (p *CoreServerPlugin) RequiredCapability() string {
	return "" // always active
}

// ResourceProvider implementation
func (p *CoreServerPlugin) GetResources(ctx context.Context) ([]serverDomain.Resource, error) {
	p.logger.Debug("Core plugin: Getting MCP resources")

	return []serverDomain.Resource{
		{
			URI:         InfoURI,
			Name:        "Server Information",
			Description: "Transport, replay backend, cache and cost override configuration of this server",
			MIMEType:    "application/json",
			Handler:     p.handleServerInfoResource,
		},
		{
			URI:         LogsURI,
			Name:        "Server Logs",
			Description: "Most recent server log lines with credentials redacted",
			MIMEType:    "application/json",
			Handler:     p.handleLogsResource,
		},
	}, nil
}

func (p *CoreServerPlugin) serverInfo() domain.ServerInfo {
	return domain.ServerInfo{
		Name:          "Workflow MCP Server",
		Version:       mcpserver.Version,
		Transport:     p.cfg.Transport.Type,
		HTTPEnabled:   p.cfg.HTTP.Enabled,
		ReplayBackend: p.cfg.Replay.Backend,
		CardCache:     p.cfg.CardCache.Enabled,
		CostOverrides: p.overrides.Overrides().Keys(),
		StartedAt:     p.startedAt,
	}
}

func (p *CoreServerPlugin) logs(filter string, n int) domain.LogsView {
	var lines []string
	if filter != "" {
		lines = p.buffer.Filter(filter, n)
	} else {
		lines = p.buffer.GetLast(n)
	}
	if lines == nil {
		lines = []string{}
	}
	return domain.LogsView{
		Lines:    mcpserver.SanitizeLogLines(lines),
		Filter:   filter,
		Capacity: p.buffer.Capacity(),
	}
}

func (p *CoreServerPlugin) handleServerInfoResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(req.Params.URI, p.serverInfo())
}

func (p *CoreServerPlugin) handleLogsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(req.Params.URI, p.logs("", defaultLogLines))
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}

// ToolProvider implementation
func (p *CoreServerPlugin) GetTools(ctx context.Context) ([]serverDomain.Tool, error) {
	p.logger.Debug("Core plugin: Getting MCP tools")

	return []serverDomain.Tool{
		{
			Name:        "hash_content",
			Description: "Compute the deterministic content hash of a JSON payload",
			Builder:     p.buildHashContentTool,
			Handler:     p.handleHashContent,
		},
		{
			Name:        "get_server_logs",
			Description: "Return recent server log lines with credentials redacted",
			Builder:     p.buildGetServerLogsTool,
			Handler:     p.handleGetServerLogs,
		},
	}, nil
}

// Tool builders
func (p *CoreServerPlugin) buildHashContentTool() mcp.Tool {
	return mcp.NewTool(
		"hash_content",
		mcp.WithDescription("Compute the deterministic content hash of a JSON payload"),
		mcp.WithObject("payload",
			mcp.Required(),
			mcp.Description("Payload to hash; key order does not affect the result"),
		),
		mcp.WithString("type_hint",
			mcp.Description("Kind of content hashed, part of the hash input (defaults to unknown)"),
		),
	)
}

func (p *CoreServerPlugin) buildGetServerLogsTool() mcp.Tool {
	return mcp.NewTool(
		"get_server_logs",
		mcp.WithDescription("Return recent server log lines with credentials redacted"),
		mcp.WithNumber("lines",
			mcp.Description("Number of lines to return (default 100)"),
		),
		mcp.WithString("filter",
			mcp.Description("Only return lines containing this text"),
		),
	)
}

// Tool handlers
func (p *CoreServerPlugin) handleHashContent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload, ok := req.GetArguments()["payload"]
	if !ok {
		return mcpserver.Error("invalid_arguments", "payload is required", "", nil), nil
	}
	typeHint := req.GetString("type_hint", hashing.UnknownType)

	hash, err := hashing.Hash(payload, typeHint)
	if err != nil {
		if errors.Is(err, hashing.ErrUnhashable) {
			return mcpserver.Error("unhashable_payload", err.Error(), "Pass a JSON object", nil), nil
		}
		return mcpserver.Error("hash_failed", err.Error(), "", nil), nil
	}
	return mcpserver.OK("Content hashed", domain.HashResult{Hash: hash, TypeHint: typeHint}), nil
}

func (p *CoreServerPlugin) handleGetServerLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := req.GetInt("lines", defaultLogLines)
	if n <= 0 {
		return mcpserver.Error("invalid_arguments", "lines must be positive", "", nil), nil
	}
	return mcpserver.OK("Server logs", p.logs(req.GetString("filter", ""), n)), nil
}
