package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fylle/workflow-mcp/internal/shared"
)

// ToolStatus represents the high-level status of a tool call
type ToolStatus string

const (
	ToolStatusOK      ToolStatus = "ok"
	ToolStatusError   ToolStatus = "error"
	ToolStatusPartial ToolStatus = "partial"
)

// ToolLink points the client at a follow-up tool call or resource read.
type ToolLink struct {
	Rel    string         `json:"rel"`
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
}

// ToolResponse is the JSON envelope every tool answers with. RequestID
// carries the trace id of the call so clients can correlate it with logs.
type ToolResponse struct {
	Status    ToolStatus `json:"status"`
	Code      string     `json:"code,omitempty"`
	Message   string     `json:"message,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	Data      any        `json:"data,omitempty"`
	Links     []ToolLink `json:"links,omitempty"`
	Hint      string     `json:"hint,omitempty"`
}

func (r ToolResponse) marshal(logger *slog.Logger) string {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		if logger != nil {
			logger.Error("Failed to marshal tool response", "error", err, "code", r.Code)
		}
		fallback := ToolResponse{
			Status:    ToolStatusError,
			Code:      "tool_response_marshal_error",
			Message:   "failed to serialize tool response",
			RequestID: r.RequestID,
		}
		fb, _ := json.MarshalIndent(fallback, "", "  ")
		return string(fb)
	}
	return string(b)
}

// NewResult builds an MCP result from a ToolResponse in one line
func NewResult(resp ToolResponse) *mcp.CallToolResult {
	return NewResultWithLogger(resp, nil)
}

// NewResultWithLogger builds an MCP result from a ToolResponse. Error
// envelopes are flagged as tool errors so clients do not treat them as data.
func NewResultWithLogger(resp ToolResponse, logger *slog.Logger) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: resp.marshal(logger)}},
		IsError: resp.Status == ToolStatusError,
	}
}

// Respond fills RequestID from the tenant context on ctx when unset.
func Respond(ctx context.Context, resp ToolResponse, logger *slog.Logger) *mcp.CallToolResult {
	if resp.RequestID == "" {
		if tenant, ok := shared.GetTenantContext(ctx); ok {
			resp.RequestID = tenant.TraceID
		}
	}
	return NewResultWithLogger(resp, logger)
}

// OK is a convenience for success responses
func OK(message string, data any) *mcp.CallToolResult {
	return NewResult(ToolResponse{Status: ToolStatusOK, Message: message, Data: data})
}

// Error is a convenience for error responses
func Error(code, message, hint string, data any) *mcp.CallToolResult {
	return NewResult(ToolResponse{Status: ToolStatusError, Code: code, Message: message, Hint: hint, Data: data})
}
