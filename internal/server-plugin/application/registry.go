package plugins

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/fylle/workflow-mcp/internal/server-plugin/domain"
	"github.com/fylle/workflow-mcp/pkg/config"
	"go.uber.org/fx"
)

// ServerPluginRegistry manages the basic registration of server plugins
type ServerPluginRegistry struct {
	plugins map[string]domain.ServerPlugin
	mu      sync.RWMutex
}

// NewServerPluginRegistry creates a new server plugin registry
func NewServerPluginRegistry() *ServerPluginRegistry {
	return &ServerPluginRegistry{
		plugins: make(map[string]domain.ServerPlugin),
	}
}

// Register registers a server plugin
func (r *ServerPluginRegistry) Register(plugin domain.ServerPlugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.plugins[plugin.ID()] = plugin
	return nil
}

// Get returns a registered plugin by id.
func (r *ServerPluginRegistry) Get(id string) (domain.ServerPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugin, ok := r.plugins[id]
	return plugin, ok
}

// Len returns the number of registered plugins.
func (r *ServerPluginRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// DynamicServerPluginRegistry activates server plugins according to the
// configured deny-list and the backend capabilities that are reachable.
type DynamicServerPluginRegistry struct {
	pluginRegistry *ServerPluginRegistry
	discovery      domain.CapabilityDiscoveryService
	logger         *slog.Logger
	pluginsConfig  config.PluginsConfig

	allServerPlugins []domain.ServerPlugin
	active           map[string]bool
	subscribers      []func(context.Context)
	mu               sync.RWMutex
}

type DynamicServerPluginRegistryParams struct {
	fx.In
	PluginRegistry *ServerPluginRegistry
	Discovery      domain.CapabilityDiscoveryService
	Logger         *slog.Logger
	PluginsConfig  config.PluginsConfig
	ServerPlugins  []domain.ServerPlugin `group:"server_plugins"`
}

// NewDynamicServerPluginRegistry creates a new dynamic server plugin registry
func NewDynamicServerPluginRegistry(params DynamicServerPluginRegistryParams) *DynamicServerPluginRegistry {
	return &DynamicServerPluginRegistry{
		pluginRegistry:   params.PluginRegistry,
		discovery:        params.Discovery,
		logger:           params.Logger,
		pluginsConfig:    params.PluginsConfig,
		allServerPlugins: params.ServerPlugins,
		active:           make(map[string]bool),
	}
}

// RegisterHooks connects the registry's lifecycle to the Fx application lifecycle.
func (r *DynamicServerPluginRegistry) RegisterHooks(lc fx.Lifecycle) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			r.logger.Info("DynamicServerPluginRegistry starting...")

			for _, srvPlugin := range r.allServerPlugins {
				if err := r.pluginRegistry.Register(srvPlugin); err != nil {
					r.logger.Error("Failed to register server plugin",
						"plugin", srvPlugin.ID(),
						"error", err)
					continue
				}
				r.logger.Debug("ServerPlugin registered with registry",
					"plugin", srvPlugin.ID(),
					"name", srvPlugin.Name(),
					"capability", srvPlugin.RequiredCapability())
			}

			// The initial sync runs from the server hooks, before MCP registration.
			if interval := r.pluginsConfig.SyncInterval; interval > 0 {
				r.logger.Info("Starting capability sync loop", "interval", interval)
				go r.runSyncLoop(ctx, interval)
			} else {
				r.logger.Info("Capability sync loop disabled")
			}
			return nil
		},
		OnStop: func(context.Context) error {
			r.logger.Info("DynamicServerPluginRegistry stopping...")
			cancel()
			return nil
		},
	})
}

func (r *DynamicServerPluginRegistry) runSyncLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("ServerPlugin synchronization loop stopped")
			return
		case <-ticker.C:
			if err := r.syncServerPlugins(ctx); err != nil {
				r.logger.Error("ServerPlugin sync failed", "error", err)
			}
		}
	}
}

// Subscribe registers fn to run after every synchronization that changed the
// active set. fn runs on the synchronizing goroutine without the registry lock.
func (r *DynamicServerPluginRegistry) Subscribe(fn func(context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

func (r *DynamicServerPluginRegistry) syncServerPlugins(ctx context.Context) error {
	r.logger.Debug("Starting server plugin synchronization")

	capabilities, err := r.discovery.GetAvailableCapabilities(ctx)
	if err != nil {
		r.logger.Error("Failed to discover backend capabilities, proceeding with core plugins only", "error", err)
		capabilities = []string{}
	}

	changed, subscribers := r.applyCapabilities(capabilities)
	if changed {
		for _, fn := range subscribers {
			fn(ctx)
		}
	}
	return nil
}

func (r *DynamicServerPluginRegistry) applyCapabilities(capabilities []string) (bool, []func(context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	activatedCount := 0
	deactivatedCount := 0

	for _, srvPlugin := range r.allServerPlugins {
		id := srvPlugin.ID()
		capability := srvPlugin.RequiredCapability()

		shouldBeActive := domain.ShouldActivate(srvPlugin, r.pluginsConfig.Disabled, capabilities)
		isCurrentlyActive := r.active[id]

		switch {
		case shouldBeActive && !isCurrentlyActive:
			r.active[id] = true
			r.logger.Info("ServerPlugin activated",
				"plugin", id,
				"name", srvPlugin.Name(),
				"capability", capability)
			activatedCount++
		case !shouldBeActive && isCurrentlyActive:
			r.active[id] = false
			r.logger.Info("ServerPlugin deactivated",
				"plugin", id,
				"name", srvPlugin.Name(),
				"capability", capability)
			deactivatedCount++
		}
	}

	r.logger.Info("ServerPlugin synchronization completed",
		"activated", activatedCount,
		"deactivated", deactivatedCount,
		"total_active", r.activeCountLocked())

	return activatedCount+deactivatedCount > 0, slices.Clone(r.subscribers)
}

// activeCountLocked must be called with r.mu held.
func (r *DynamicServerPluginRegistry) activeCountLocked() int {
	count := 0
	for _, plugin := range r.allServerPlugins {
		if r.active[plugin.ID()] {
			count++
		}
	}
	return count
}

// GetActiveServerPlugins returns a list of currently active server plugins.
func (r *DynamicServerPluginRegistry) GetActiveServerPlugins() []domain.ServerPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var activeServerPlugins []domain.ServerPlugin
	for _, srvPlugin := range r.allServerPlugins {
		if r.active[srvPlugin.ID()] {
			activeServerPlugins = append(activeServerPlugins, srvPlugin)
		}
	}

	return activeServerPlugins
}

// IsServerPluginActive checks if a specific plugin is currently active.
func (r *DynamicServerPluginRegistry) IsServerPluginActive(srvPluginID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.active[srvPluginID]
}

// SyncServerPlugins performs a manual synchronization of server plugins.
func (r *DynamicServerPluginRegistry) SyncServerPlugins(ctx context.Context) error {
	return r.syncServerPlugins(ctx)
}
