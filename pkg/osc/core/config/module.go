package config

import "go.uber.org/fx"

// Module provides *Config and its sections to Fx so components can depend on only what they use.
var Module = fx.Options(
	fx.Provide(func() EnvironmentExpander {
		return NewOsEnvironmentExpander()
	}),
	fx.Provide(NewConfigProvider),
	fx.Provide(
		func(cfg *Config) *LoggingConfig { return &cfg.Mysqler.System.Logging },
		func(cfg *Config) *StoreConfig { return &cfg.Mysqler.Store },
		func(cfg *Config) *CommandConfig { return &cfg.Mysqler.Command },
		func(cfg *Config) *SupervisorConfig { return &cfg.Mysqler.Supervisor },
		func(cfg *Config) *ControllerConfig { return &cfg.Mysqler.Controller },
		func(cfg *Config) *BroadcastConfig { return &cfg.Mysqler.Broadcast },
		func(cfg *Config) *HTTPConfig { return &cfg.Mysqler.HTTP },
		func(cfg *Config) *MetricsConfig { return &cfg.Mysqler.Metrics },
		func(cfg *Config) *TracingConfig { return &cfg.Mysqler.Tracing },
		func(cfg *Config) *ArchiveConfig { return &cfg.Mysqler.Archive },
		func(cfg *Config) *ExportConfig { return &cfg.Mysqler.Export },
	),
)
