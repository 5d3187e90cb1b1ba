package server

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fylle/workflow-mcp/internal/server-plugin/domain"
)

// ServerPluginProvider interface defines what we need from the plugin registry
type ServerPluginProvider interface {
	GetResourceProviders() []domain.ResourceProvider
	GetToolProviders() []domain.ToolProvider
	GetPromptProviders() []domain.PromptProvider
}

// DynamicServerPluginProvider provides access to only active plugins
type DynamicServerPluginProvider interface {
	GetActiveServerPlugins() []domain.ServerPlugin
}

// registration is what one plugin currently has published on the MCP server.
type registration struct {
	resources []string
	tools     []string
	prompts   []string
}

// MCPAdapter keeps the MCP server's tools, resources and prompts in line with
// the set of active plugins.
type MCPAdapter struct {
	dynamicRegistry DynamicServerPluginProvider
	mcpServer       *server.MCPServer
	logger          *slog.Logger

	mu         sync.Mutex
	registered map[string]registration
}

// NewMCPAdapter creates a new MCP adapter using the dynamic registry
func NewMCPAdapter(dynamicRegistry DynamicServerPluginProvider, mcpServer *server.MCPServer, logger *slog.Logger) *MCPAdapter {
	return &MCPAdapter{
		dynamicRegistry: dynamicRegistry,
		mcpServer:       mcpServer,
		logger:          logger,
		registered:      make(map[string]registration),
	}
}

// GetResourceProviders returns resource providers from active plugins only
func (a *MCPAdapter) GetResourceProviders() []domain.ResourceProvider {
	var providers []domain.ResourceProvider
	for _, plugin := range a.dynamicRegistry.GetActiveServerPlugins() {
		if provider, ok := plugin.(domain.ResourceProvider); ok {
			providers = append(providers, provider)
		}
	}
	return providers
}

// GetToolProviders returns tool providers from active plugins only
func (a *MCPAdapter) GetToolProviders() []domain.ToolProvider {
	var providers []domain.ToolProvider
	for _, plugin := range a.dynamicRegistry.GetActiveServerPlugins() {
		if provider, ok := plugin.(domain.ToolProvider); ok {
			providers = append(providers, provider)
		}
	}
	return providers
}

// GetPromptProviders returns prompt providers from active plugins only
func (a *MCPAdapter) GetPromptProviders() []domain.PromptProvider {
	var providers []domain.PromptProvider
	for _, plugin := range a.dynamicRegistry.GetActiveServerPlugins() {
		if provider, ok := plugin.(domain.PromptProvider); ok {
			providers = append(providers, provider)
		}
	}
	return providers
}

// SyncRegistrations publishes the capabilities of newly active plugins and
// withdraws those of plugins that are no longer active. Clients are notified
// of the list changes by the MCP server.
func (a *MCPAdapter) SyncRegistrations(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	active := a.dynamicRegistry.GetActiveServerPlugins()
	activeIDs := make(map[string]bool, len(active))
	for _, plugin := range active {
		activeIDs[plugin.ID()] = true
	}

	for id, reg := range a.registered {
		if activeIDs[id] {
			continue
		}
		a.unregister(id, reg)
		delete(a.registered, id)
	}

	for _, plugin := range active {
		if _, ok := a.registered[plugin.ID()]; ok {
			continue
		}
		a.registered[plugin.ID()] = a.register(ctx, plugin)
	}

	a.logger.Debug("MCP registrations synchronized", "active_plugins", len(active))
	return nil
}

// RegisteredTools lists the tool names currently published, sorted.
func (a *MCPAdapter) RegisteredTools() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var names []string
	for _, reg := range a.registered {
		names = append(names, reg.tools...)
	}
	slices.Sort(names)
	return names
}

// register publishes everything a plugin provides. A provider that fails is
// logged and skipped so one plugin cannot block the others.
func (a *MCPAdapter) register(ctx context.Context, plugin domain.ServerPlugin) registration {
	var reg registration

	if provider, ok := plugin.(domain.ResourceProvider); ok {
		resources, err := provider.GetResources(ctx)
		if err != nil {
			a.logger.Error("Failed to get resources from plugin", "plugin", plugin.ID(), "error", err)
		}
		for _, resource := range resources {
			a.mcpServer.AddResource(mcp.NewResource(
				resource.URI,
				resource.Name,
				mcp.WithResourceDescription(resource.Description),
				mcp.WithMIMEType(resource.MIMEType),
			), resource.Handler)
			reg.resources = append(reg.resources, resource.URI)
		}
	}

	if provider, ok := plugin.(domain.ToolProvider); ok {
		tools, err := provider.GetTools(ctx)
		if err != nil {
			a.logger.Error("Failed to get tools from plugin", "plugin", plugin.ID(), "error", err)
		}
		for _, tool := range tools {
			a.mcpServer.AddTool(tool.Builder(), tool.Handler)
			reg.tools = append(reg.tools, tool.Name)
		}
	}

	if provider, ok := plugin.(domain.PromptProvider); ok {
		prompts, err := provider.GetPrompts(ctx)
		if err != nil {
			a.logger.Error("Failed to get prompts from plugin", "plugin", plugin.ID(), "error", err)
		}
		for _, prompt := range prompts {
			a.mcpServer.AddPrompt(prompt.Builder(), prompt.Handler)
			reg.prompts = append(reg.prompts, prompt.Name)
		}
	}

	a.logger.Info("ServerPlugin published",
		"plugin", plugin.ID(),
		"resources", len(reg.resources),
		"tools", len(reg.tools),
		"prompts", len(reg.prompts))
	return reg
}

func (a *MCPAdapter) unregister(id string, reg registration) {
	for _, uri := range reg.resources {
		a.mcpServer.RemoveResource(uri)
	}
	if len(reg.tools) > 0 {
		a.mcpServer.DeleteTools(reg.tools...)
	}
	if len(reg.prompts) > 0 {
		a.mcpServer.DeletePrompts(reg.prompts...)
	}
	a.logger.Info("ServerPlugin withdrawn", "plugin", id, "tools", reg.tools)
}
