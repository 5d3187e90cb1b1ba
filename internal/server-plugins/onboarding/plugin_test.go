package onboarding_test

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	mcpserver "github.com/fylle/workflow-mcp/internal/server"
	serverDomain "github.com/fylle/workflow-mcp/internal/server-plugin/domain"
	"github.com/fylle/workflow-mcp/internal/server-plugins/onboarding"
	onbDomain "github.com/fylle/workflow-mcp/internal/server-plugins/onboarding/domain"
	"github.com/fylle/workflow-mcp/pkg/config"
)

type stubPlugin struct{}

func (stubPlugin) ID() string                 { return "stub" }
func (stubPlugin) Name() string               { return "Stub" }
func (stubPlugin) Description() string        { return "" }
func (stubPlugin) Version() string            { return "0.0.1" }
func (stubPlugin) RequiredCapability() string { return "" }

func (stubPlugin) GetTools(context.Context) ([]serverDomain.Tool, error) {
	return []serverDomain.Tool{{Name: "execute_workflow", Description: "run"}}, nil
}

func (stubPlugin) GetPrompts(context.Context) ([]serverDomain.Prompt, error) {
	return []serverDomain.Prompt{{Name: "plan_workflow", Description: "plan"}}, nil
}

type stubProvider struct {
	resources []serverDomain.ResourceProvider
	tools     []serverDomain.ToolProvider
	prompts   []serverDomain.PromptProvider
}

func (s stubProvider) GetResourceProviders() []serverDomain.ResourceProvider { return s.resources }
func (s stubProvider) GetToolProviders() []serverDomain.ToolProvider         { return s.tools }
func (s stubProvider) GetPromptProviders() []serverDomain.PromptProvider     { return s.prompts }

var _ = Describe("OnboardingServerPlugin", func() {
	var (
		plugin    *onboarding.OnboardingServerPlugin
		resources map[string]serverDomain.Resource
	)

	read := func(uri string) string {
		req := mcp.ReadResourceRequest{}
		req.Params.URI = uri
		contents, err := resources[uri].Handler(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())
		Expect(contents).To(HaveLen(1))
		return contents[0].(mcp.TextResourceContents).Text
	}

	BeforeEach(func() {
		plugin = onboarding.NewOnboardingServerPlugin(config.DeprecationConfig{MigrationGuideURL: "https://docs.example.com/cards"})
		plugin.SetProvider(stubProvider{
			resources: []serverDomain.ResourceProvider{plugin},
			tools:     []serverDomain.ToolProvider{stubPlugin{}},
			prompts:   []serverDomain.PromptProvider{stubPlugin{}},
		})

		list, err := plugin.GetResources(context.Background())
		Expect(err).NotTo(HaveOccurred())
		resources = map[string]serverDomain.Resource{}
		for _, r := range list {
			resources[r.URI] = r
		}
	})

	It("exposes the onboarding resources", func() {
		Expect(resources).To(HaveKey(onboarding.QuickstartURI))
		Expect(resources).To(HaveKey(onboarding.CapabilitiesURI))
		Expect(resources).To(HaveKey(onboarding.IntentMapURI))
		Expect(resources).To(HaveKey(onboarding.MigrationURI))
	})

	It("points the quickstart at card ids", func() {
		Expect(read(onboarding.QuickstartURI)).To(ContainSubstring("card_ids"))
	})

	It("indexes the active capabilities with examples", func() {
		var index onbDomain.CapabilityIndex
		Expect(json.Unmarshal([]byte(read(onboarding.CapabilitiesURI)), &index)).To(Succeed())

		Expect(index.Tools).To(HaveLen(1))
		Expect(index.Tools[0].Plugin).To(Equal("stub"))
		Expect(index.Tools[0].Examples).To(HaveLen(1))
		Expect(index.Resources).To(HaveLen(4))
		Expect(index.Prompts).To(ConsistOf(onbDomain.PromptMeta{Plugin: "stub", Name: "plan_workflow", Description: "plan"}))
	})

	It("describes the context migration", func() {
		var guide onbDomain.MigrationGuide
		Expect(json.Unmarshal([]byte(read(onboarding.MigrationURI)), &guide)).To(Succeed())

		Expect(guide.Deprecated).To(Equal("context"))
		Expect(guide.Replacement).To(Equal("card_ids"))
		Expect(guide.GuideURL).To(Equal("https://docs.example.com/cards"))
		Expect(guide.Signals).To(ContainElement(ContainSubstring(mcpserver.HeaderDeprecationWarning)))
		Expect(guide.After.Params).To(HaveKey("card_ids"))
	})

	It("maps content goals to tools", func() {
		var intents onbDomain.IntentMap
		Expect(json.Unmarshal([]byte(read(onboarding.IntentMapURI)), &intents)).To(Succeed())
		Expect(intents["newsletter"].Tool).To(Equal("execute_workflow"))
	})
})
