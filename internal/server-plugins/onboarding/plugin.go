package onboarding

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	mcpserver "github.com/fylle/workflow-mcp/internal/server"
	serverDomain "github.com/fylle/workflow-mcp/internal/server-plugin/domain"
	onbDomain "github.com/fylle/workflow-mcp/internal/server-plugins/onboarding/domain"
	"github.com/fylle/workflow-mcp/pkg/config"
)

const (
	QuickstartURI   = "workflow://onboarding/quickstart"
	CapabilitiesURI = "workflow://onboarding/capabilities"
	IntentMapURI    = "workflow://onboarding/intent-map"
	MigrationURI    = "workflow://onboarding/migration"
)

// OnboardingServerPlugin provides discovery and onboarding resources
type OnboardingServerPlugin struct {
	provider    mcpserver.ServerPluginProvider
	deprecation config.DeprecationConfig
}

func NewOnboardingServerPlugin(deprecation config.DeprecationConfig) *OnboardingServerPlugin {
	return &OnboardingServerPlugin{deprecation: deprecation}
}

// SetProvider allows late injection to avoid Fx cycles
func (p *OnboardingServerPlugin) SetProvider(provider mcpserver.ServerPluginProvider) {
	p.provider = provider
}

// ServerPlugin interface
func (p *OnboardingServerPlugin) ID() string   { return "onboarding" }
func (p *OnboardingServerPlugin) Name() string { return "Onboarding & Discovery" }
func (p *OnboardingServerPlugin) Description() string {
	return "LLM onboarding resources, capability discovery and the card migration guide"
}
func (p *OnboardingServerPlugin) Version() string { return "0.1.0" }
func (p *OnboardingServerPlugin) RequiredCapability() string {
	return "" // always active
}

// ResourceProvider implementation
func (p *OnboardingServerPlugin) GetResources(ctx context.Context) ([]serverDomain.Resource, error) {
	return []serverDomain.Resource{
		{
			URI:         QuickstartURI,
			Name:        "Quickstart",
			Description: "Start here: how to run workflows with context cards, idempotency and costs",
			MIMEType:    "text/markdown",
			Handler:     p.handleQuickstartResource,
		},
		{
			URI:         CapabilitiesURI,
			Name:        "Capabilities Index",
			Description: "Index of the currently active tools, resources and prompts, with examples",
			MIMEType:    "application/json",
			Handler:     p.handleCapabilitiesIndexResource,
		},
		{
			URI:         IntentMapURI,
			Name:        "Intent Map",
			Description: "Mapping of content goals and synonyms to tools",
			MIMEType:    "application/json",
			Handler:     p.handleIntentMapResource,
		},
		{
			URI:         MigrationURI,
			Name:        "Context Migration Guide",
			Description: "Replacing the deprecated context argument with card_ids",
			MIMEType:    "application/json",
			Handler:     p.handleMigrationResource,
		},
	}, nil
}

// Handlers
func (p *OnboardingServerPlugin) handleQuickstartResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	md := "# Quickstart\n\n" +
		"This MCP server runs content workflows against context cards held by the cards service.\n\n" +
		"## What you can do\n" +
		"- Run a workflow: `execute_workflow`\n" +
		"- Price a tool call: `attribute_tool_cost`\n" +
		"- Fingerprint content: `hash_content`\n" +
		"- Read recent logs: `get_server_logs`\n\n" +
		"## Core flow\n" +
		"1) Read `workflow://catalog` and pick a `workflow_type`\n" +
		"2) Use the `plan_workflow` prompt to choose card ids\n" +
		"3) `execute_workflow` with `{ workflow_type, card_ids, headers: { \"X-Tenant-ID\": \"...\", \"Idempotency-Key\": \"...\" } }`\n\n" +
		"## Idempotency\n" +
		"Repeating a call with the same `Idempotency-Key` and tenant returns the first result (code `replayed`) " +
		"instead of running the workflow again. A `replay_pending` error means the first call is still running.\n\n" +
		"## Partial results\n" +
		"Cards that cannot be found are skipped. The response status is `partial` and " +
		"`data.metrics.missing_card_ids` lists them.\n\n" +
		"## Deprecated inline context\n" +
		"The `context` argument still works but is deprecated. See `" + MigrationURI + "`.\n\n" +
		"## Discover\n" +
		"- Goals → tools: `" + IntentMapURI + "`\n" +
		"- Everything active right now: `" + CapabilitiesURI + "`\n" +
		"- Server configuration: `workflow://server/info`\n"
	return []mcp.ResourceContents{mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "text/markdown", Text: md}}, nil
}

var toolExamples = map[string]onbDomain.CapabilityToolExample{
	"execute_workflow": {
		Tool: "execute_workflow",
		Params: map[string]any{
			"workflow_type": "premium_newsletter",
			"card_ids":      []string{"card-company-1", "card-audience-2"},
			"headers":       map[string]string{"X-Tenant-ID": "acme", "Idempotency-Key": "newsletter-2024-w12"},
		},
	},
	"attribute_tool_cost": {
		Tool: "attribute_tool_cost",
		Params: map[string]any{
			"tool_name":          "web_search",
			"execution_metadata": map[string]any{"units": 3},
		},
	},
	"hash_content": {
		Tool:   "hash_content",
		Params: map[string]any{"payload": map[string]any{"title": "Weekly"}, "type_hint": "card"},
	},
}

func (p *OnboardingServerPlugin) handleCapabilitiesIndexResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	index := onbDomain.NewCapabilityIndex()

	for _, tp := range p.provider.GetToolProviders() {
		ts, err := tp.GetTools(ctx)
		if err != nil {
			continue
		}
		for _, t := range ts {
			entry := onbDomain.CapabilityTool{Plugin: tp.ID(), Name: t.Name, Description: t.Description}
			if ex, ok := toolExamples[t.Name]; ok {
				entry.Examples = []onbDomain.CapabilityToolExample{ex}
			}
			index.Tools = append(index.Tools, entry)
		}
	}
	for _, rp := range p.provider.GetResourceProviders() {
		rs, err := rp.GetResources(ctx)
		if err != nil {
			continue
		}
		for _, r := range rs {
			index.Resources = append(index.Resources, onbDomain.CapabilityResource{URI: r.URI, Name: r.Name, Description: r.Description, MIMEType: r.MIMEType})
		}
	}
	index.Prompts = p.aggregatePrompts(ctx)

	sort.Slice(index.Tools, func(i, j int) bool { return index.Tools[i].Name < index.Tools[j].Name })
	sort.Slice(index.Resources, func(i, j int) bool { return index.Resources[i].URI < index.Resources[j].URI })

	b, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capabilities index: %w", err)
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(b)}}, nil
}

func (p *OnboardingServerPlugin) handleIntentMapResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	mapping := onbDomain.IntentMap{
		"newsletter":  {Synonyms: []string{"digest", "weekly email", "bulletin"}, Tool: "execute_workflow", Params: []string{"workflow_type=premium_newsletter", "card_ids"}},
		"onboarding":  {Synonyms: []string{"welcome content", "getting started", "kickoff pack"}, Tool: "execute_workflow", Params: []string{"workflow_type=onboarding_content", "card_ids"}},
		"cost":        {Synonyms: []string{"price", "spend", "billing", "how much"}, Tool: "attribute_tool_cost", Params: []string{"tool_name", "execution_metadata"}},
		"fingerprint": {Synonyms: []string{"hash", "dedupe", "checksum"}, Tool: "hash_content", Params: []string{"payload", "type_hint"}},
		"diagnose":    {Synonyms: []string{"logs", "what failed", "debug"}, Tool: "get_server_logs", Params: []string{"lines", "filter"}},
	}
	jsonData, err := json.MarshalIndent(mapping, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intent map: %w", err)
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(jsonData)}}, nil
}

func (p *OnboardingServerPlugin) handleMigrationResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	guide := onbDomain.MigrationGuide{
		Deprecated:  "context",
		Replacement: "card_ids",
		GuideURL:    p.deprecation.MigrationGuideURL,
		Signals: []string{
			"MCP: hint and migration-guide link on the execute_workflow response",
			"HTTP: " + mcpserver.HeaderDeprecationWarning + " and " + mcpserver.HeaderMigrationGuide + " response headers",
		},
		Before: onbDomain.CapabilityToolExample{
			Tool: "execute_workflow",
			Params: map[string]any{
				"workflow_type": "premium_newsletter",
				"context":       map[string]any{"company_name": "Acme", "audience": "developers"},
			},
		},
		After: onbDomain.CapabilityToolExample{
			Tool: "execute_workflow",
			Params: map[string]any{
				"workflow_type": "premium_newsletter",
				"card_ids":      []string{"card-company-1", "card-audience-2"},
			},
		},
	}
	jsonData, err := json.MarshalIndent(guide, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal migration guide: %w", err)
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(jsonData)}}, nil
}

// aggregatePrompts collects prompts across active plugins
func (p *OnboardingServerPlugin) aggregatePrompts(ctx context.Context) []onbDomain.PromptMeta {
	prompts := make([]onbDomain.PromptMeta, 0)
	for _, pp := range p.provider.GetPromptProviders() {
		ps, err := pp.GetPrompts(ctx)
		if err != nil {
			continue
		}
		for _, pr := range ps {
			prompts = append(prompts, onbDomain.PromptMeta{Plugin: pp.ID(), Name: pr.Name, Description: pr.Description})
		}
	}
	return prompts
}
