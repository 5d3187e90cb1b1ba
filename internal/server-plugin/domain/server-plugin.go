package domain

import (
	"context"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerPlugin is a unit of MCP surface (tools, resources, prompts) that is
// published while its backend capability is reachable.
type ServerPlugin interface {
	ID() string
	Name() string
	Description() string
	Version() string

	// Backend capability the plugin needs (empty string means no dependency)
	RequiredCapability() string
}

// ResourceProvider defines plugins that can provide resources
type ResourceProvider interface {
	ServerPlugin
	GetResources(ctx context.Context) ([]Resource, error)
}

// ToolProvider defines plugins that can provide tools
type ToolProvider interface {
	ServerPlugin
	GetTools(ctx context.Context) ([]Tool, error)
}

// PromptProvider defines plugins that can provide prompts
type PromptProvider interface {
	ServerPlugin
	GetPrompts(ctx context.Context) ([]Prompt, error)
}

// Resource is a readable document published under URI.
type Resource struct {
	URI         string
	Name        string
	Description string
	MIMEType    string
	Handler     ResourceHandler
}

// Tool pairs an mcp-go tool definition with its handler. Name must match the
// name Builder produces; it is used to withdraw the tool.
type Tool struct {
	Name        string
	Description string
	Builder     func() mcp.Tool
	Handler     ToolHandler
}

// Prompt pairs an mcp-go prompt definition with its handler.
type Prompt struct {
	Name        string
	Description string
	Builder     func() mcp.Prompt
	Handler     PromptHandler
}

// Handlers are the mcp-go handler signatures.
type ResourceHandler = server.ResourceHandlerFunc
type ToolHandler = server.ToolHandlerFunc
type PromptHandler = server.PromptHandlerFunc

// Capabilities a plugin may depend on. cards_api is the Cards service answering
// its health probe; body_runner means a workflow body is wired for execution.
const (
	CapabilityCardsAPI   = "cards_api"
	CapabilityBodyRunner = "body_runner"
)

// ShouldActivate reports whether plugin belongs in the active set: it is not
// in disabled and its required capability, if any, is among available.
func ShouldActivate(plugin ServerPlugin, disabled, available []string) bool {
	if slices.Contains(disabled, plugin.ID()) {
		return false
	}
	capability := plugin.RequiredCapability()
	return capability == "" || slices.Contains(available, capability)
}

// CapabilityDiscoveryService reports which backend capabilities are reachable.
type CapabilityDiscoveryService interface {
	GetAvailableCapabilities(ctx context.Context) ([]string, error)
}
