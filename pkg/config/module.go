package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	// Specific, smaller configs for consumers; the full ServerConfig is supplied by fxapp
	fx.Provide(func(cfg *ServerConfig) TransportConfig { return cfg.Transport }),
	fx.Provide(func(cfg *ServerConfig) HTTPConfig { return cfg.HTTP }),
	fx.Provide(func(cfg *ServerConfig) CardsConfig { return cfg.Cards }),
	fx.Provide(func(cfg *ServerConfig) CardCacheConfig { return cfg.CardCache }),
	fx.Provide(func(cfg *ServerConfig) RetryConfig { return cfg.Retry }),
	fx.Provide(func(cfg *ServerConfig) ReplayConfig { return cfg.Replay }),
	fx.Provide(func(cfg *ServerConfig) CostsConfig { return cfg.Costs }),
	fx.Provide(func(cfg *ServerConfig) WorkflowsConfig { return cfg.Workflows }),
	fx.Provide(func(cfg *ServerConfig) DeprecationConfig { return cfg.Deprecation }),
	fx.Provide(func(cfg *ServerConfig) PluginsConfig { return cfg.Plugins }),
)
