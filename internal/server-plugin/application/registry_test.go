//go:build !integration

package plugins_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/fx"

	plugins "github.com/fylle/workflow-mcp/internal/server-plugin/application"
	"github.com/fylle/workflow-mcp/internal/server-plugin/domain"
	"github.com/fylle/workflow-mcp/pkg/config"
)

// createTestLogger creates a quiet logger for testing that discards output
func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type mockDiscoveryService struct {
	mu           sync.Mutex
	capabilities []string
	err          error
	calls        int
}

func (m *mockDiscoveryService) GetAvailableCapabilities(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.capabilities, m.err
}

func (m *mockDiscoveryService) set(capabilities ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capabilities = capabilities
}

type mockServerPlugin struct {
	id         string
	capability string
}

func (m *mockServerPlugin) ID() string                 { return m.id }
func (m *mockServerPlugin) Name() string               { return m.id }
func (m *mockServerPlugin) Description() string        { return "Mock plugin for testing" }
func (m *mockServerPlugin) Version() string            { return "1.0.0" }
func (m *mockServerPlugin) RequiredCapability() string { return m.capability }

var _ = Describe("DynamicServerPluginRegistry", func() {
	var (
		discovery *mockDiscoveryService
		core      *mockServerPlugin
		workflow  *mockServerPlugin
		pluginCfg config.PluginsConfig
	)

	newRegistry := func() *plugins.DynamicServerPluginRegistry {
		return plugins.NewDynamicServerPluginRegistry(plugins.DynamicServerPluginRegistryParams{
			PluginRegistry: plugins.NewServerPluginRegistry(),
			Discovery:      discovery,
			Logger:         createTestLogger(),
			PluginsConfig:  pluginCfg,
			ServerPlugins:  []domain.ServerPlugin{core, workflow},
		})
	}

	BeforeEach(func() {
		discovery = &mockDiscoveryService{}
		core = &mockServerPlugin{id: "core"}
		workflow = &mockServerPlugin{id: "workflow", capability: domain.CapabilityBodyRunner}
		pluginCfg = config.PluginsConfig{}
	})

	It("always activates plugins without a capability", func() {
		registry := newRegistry()
		Expect(registry.SyncServerPlugins(context.Background())).To(Succeed())

		Expect(registry.IsServerPluginActive("core")).To(BeTrue())
		Expect(registry.IsServerPluginActive("workflow")).To(BeFalse())
		Expect(registry.GetActiveServerPlugins()).To(HaveLen(1))
		Expect(discovery.calls).To(Equal(1))
	})

	It("follows the capability as it comes and goes", func() {
		registry := newRegistry()
		discovery.set(domain.CapabilityBodyRunner)
		Expect(registry.SyncServerPlugins(context.Background())).To(Succeed())
		Expect(registry.IsServerPluginActive("workflow")).To(BeTrue())

		discovery.set()
		Expect(registry.SyncServerPlugins(context.Background())).To(Succeed())
		Expect(registry.IsServerPluginActive("workflow")).To(BeFalse())
		Expect(registry.IsServerPluginActive("core")).To(BeTrue())
	})

	It("keeps disabled plugins inactive", func() {
		pluginCfg.Disabled = []string{"core", "workflow"}
		discovery.set(domain.CapabilityBodyRunner)
		registry := newRegistry()
		Expect(registry.SyncServerPlugins(context.Background())).To(Succeed())
		Expect(registry.GetActiveServerPlugins()).To(BeEmpty())
	})

	It("falls back to core plugins when discovery fails", func() {
		discovery.err = errors.New("boom")
		discovery.capabilities = []string{domain.CapabilityBodyRunner}
		registry := newRegistry()
		Expect(registry.SyncServerPlugins(context.Background())).To(Succeed())
		Expect(registry.IsServerPluginActive("core")).To(BeTrue())
		Expect(registry.IsServerPluginActive("workflow")).To(BeFalse())
	})

	It("notifies subscribers only when the active set changes", func() {
		registry := newRegistry()
		notified := 0
		registry.Subscribe(func(context.Context) { notified++ })

		Expect(registry.SyncServerPlugins(context.Background())).To(Succeed())
		Expect(notified).To(Equal(1))

		Expect(registry.SyncServerPlugins(context.Background())).To(Succeed())
		Expect(notified).To(Equal(1))

		discovery.set(domain.CapabilityBodyRunner)
		Expect(registry.SyncServerPlugins(context.Background())).To(Succeed())
		Expect(notified).To(Equal(2))
	})

	It("reports unknown plugins as inactive", func() {
		registry := newRegistry()
		Expect(registry.SyncServerPlugins(context.Background())).To(Succeed())
		Expect(registry.IsServerPluginActive("nonexistent")).To(BeFalse())
	})

	Describe("Fx Integration", func() {
		It("registers grouped plugins on start", func() {
			var (
				dynamic *plugins.DynamicServerPluginRegistry
				basic   *plugins.ServerPluginRegistry
			)

			app := fx.New(
				fx.Provide(
					func() domain.CapabilityDiscoveryService { return discovery },
					func() *slog.Logger { return createTestLogger() },
					func() config.PluginsConfig { return config.PluginsConfig{} },
					fx.Annotate(
						func() domain.ServerPlugin { return core },
						fx.ResultTags(`group:"server_plugins"`),
					),
					plugins.NewServerPluginRegistry,
					plugins.NewDynamicServerPluginRegistry,
				),
				fx.Invoke(func(r *plugins.DynamicServerPluginRegistry, lc fx.Lifecycle) { r.RegisterHooks(lc) }),
				fx.Populate(&dynamic, &basic),
				fx.NopLogger,
			)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			Expect(app.Start(ctx)).To(Succeed())
			Expect(dynamic).NotTo(BeNil())
			_, ok := basic.Get("core")
			Expect(ok).To(BeTrue())
			Expect(app.Stop(ctx)).To(Succeed())
		})
	})
})
