// Package config provides the configuration structures of the orchestration engine and the
// loader that layers defaults, embedded YAML, .env files and environment variables.
package config

import "time"

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// RetryConfig holds configuration for bounded retries with exponential backoff.
type RetryConfig struct {
	MaxAttempts     int     `yaml:"max_attempts"`     // MaxAttempts includes the first attempt.
	InitialInterval int     `yaml:"initial_interval"` // InitialInterval is the first backoff in milliseconds.
	MaxInterval     int     `yaml:"max_interval"`     // MaxInterval caps the backoff in milliseconds.
	Factor          float64 `yaml:"factor"`           // Factor multiplies the interval after each attempt.
	// RetryableExceptions names registered error types that are retried in addition to
	// errors flagged retryable.
	RetryableExceptions []string `yaml:"retryable_exceptions"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g. "INFO", "DEBUG"
	Format string `yaml:"format"` // "console" or "json"
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	NodeID   string        `yaml:"node_id"` // NodeID tags broadcast events; generated when empty.
	Logging  LoggingConfig `yaml:"logging"`
}

// StoreConfig selects and tunes the Job Store.
type StoreConfig struct {
	Type           string      `yaml:"type"`   // "sql" or "memory"
	DBRef          string      `yaml:"db_ref"` // name of the entry under `database`
	SkipMigrations bool        `yaml:"skip_migrations"`
	Retry          RetryConfig `yaml:"retry"`
}

// CommandConfig holds the tool binary and the default tool parameters.
type CommandConfig struct {
	Tool             string `yaml:"tool"`
	DefaultChunkSize int    `yaml:"default_chunk_size"`
	MaxLoad          string `yaml:"max_load"`
	CriticalLoad     string `yaml:"critical_load"`
	Charset          string `yaml:"charset"`
	LockWaitTimeout  int    `yaml:"lock_wait_timeout"`
	CheckInterval    int    `yaml:"check_interval"`
	MaxLag           int    `yaml:"max_lag"`
	Progress         string `yaml:"progress"`
}

// DockerConfig configures the containerized runner.
type DockerConfig struct {
	Binary  string `yaml:"binary"`
	Image   string `yaml:"image"`
	Network string `yaml:"network"`
	// HostAlias replaces localhost addresses so the container can reach the host's MySQL.
	HostAlias string `yaml:"host_alias"`
}

// SupervisorConfig configures subprocess supervision.
type SupervisorConfig struct {
	Runner      string        `yaml:"runner"` // "local" or "docker"
	Shell       string        `yaml:"shell"`
	GracePeriod time.Duration `yaml:"grace_period"`
	TailLines   int           `yaml:"tail_lines"`
	EventBuffer int           `yaml:"event_buffer"`
	// AdoptPollInterval is how often a process adopted after a restart is checked for exit.
	AdoptPollInterval time.Duration `yaml:"adopt_poll_interval"`
	Docker            DockerConfig  `yaml:"docker"`
}

// ControllerConfig tunes the execution controller.
type ControllerConfig struct {
	// ProgressFlushInterval throttles progress writes to the Job Store.
	ProgressFlushInterval time.Duration `yaml:"progress_flush_interval"`
	// StopWaitMargin is added to the grace period when waiting for a stopped job to finish.
	StopWaitMargin time.Duration `yaml:"stop_wait_margin"`
	// MaxConcurrent caps running jobs across all targets. Zero or less disables the cap.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// RedisConfig configures the cross-node event relay.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// BroadcastConfig configures the progress broadcaster.
type BroadcastConfig struct {
	BufferSize int         `yaml:"buffer_size"`
	Redis      RedisConfig `yaml:"redis"`
}

// HTTPConfig configures the HTTP boundary.
type HTTPConfig struct {
	Address         string        `yaml:"address"`
	Mode            string        `yaml:"mode"` // gin mode: debug, release, test
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OTLPConfig configures an OTLP exporter.
type OTLPConfig struct {
	Protocol string `yaml:"protocol"` // "grpc" or "http"
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	Backend         string        `yaml:"backend"` // "prometheus", "otel" or "none"
	AsyncBufferSize int           `yaml:"async_buffer_size"`
	ExportInterval  time.Duration `yaml:"export_interval"`
	OTLP            OTLPConfig    `yaml:"otlp"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool       `yaml:"enabled"`
	ServiceName string     `yaml:"service_name"`
	SampleRatio float64    `yaml:"sample_ratio"`
	OTLP        OTLPConfig `yaml:"otlp"`
}

// ArchiveConfig configures uploading of finished jobs' logs to object storage.
type ArchiveConfig struct {
	Enabled    bool   `yaml:"enabled"`
	StorageRef string `yaml:"storage_ref"`
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
}

// ExportConfig configures Parquet export of job history.
type ExportConfig struct {
	StorageRef  string `yaml:"storage_ref"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Compression string `yaml:"compression"`
	Parallelism int64  `yaml:"parallelism"`
}

// MysqlerConfig holds everything under the "mysqler" top-level key.
type MysqlerConfig struct {
	System     SystemConfig     `yaml:"system"`
	Store      StoreConfig      `yaml:"store"`
	Command    CommandConfig    `yaml:"command"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Controller ControllerConfig `yaml:"controller"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	HTTP       HTTPConfig       `yaml:"http"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Export     ExportConfig     `yaml:"export"`

	// Databases holds named Job Store databases, decoded by the gorm adapter.
	Databases map[string]interface{} `yaml:"database"`
	// Connections holds named MySQL targets, decoded by the connection resolver.
	Connections map[string]interface{} `yaml:"connections"`
	// Storage holds named object storage configs, decoded by the storage adapters.
	Storage map[string]interface{} `yaml:"storage"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Mysqler        MysqlerConfig  `yaml:"mysqler"`
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Mysqler: MysqlerConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO", Format: "console"},
			},
			Store: StoreConfig{
				Type:  "sql",
				DBRef: "metadata",
				Retry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: 100,
					MaxInterval:     2000,
					Factor:          2.0,
					RetryableExceptions: []string{
						"OptimisticLockingFailureException",
						"sql.ErrConnDone",
					},
				},
			},
			Command: CommandConfig{
				Tool:             "pt-online-schema-change",
				DefaultChunkSize: 1000,
				MaxLoad:          "Threads_running=25",
				CriticalLoad:     "Threads_running=50",
				Charset:          "utf8mb4",
				CheckInterval:    1,
				MaxLag:           1,
				Progress:         "time,5",
			},
			Supervisor: SupervisorConfig{
				Runner:            "local",
				Shell:             "sh",
				GracePeriod:       10 * time.Second,
				TailLines:         200,
				EventBuffer:       256,
				AdoptPollInterval: 2 * time.Second,
				Docker: DockerConfig{
					Binary:    "docker",
					Image:     "perconalab/percona-toolkit:latest",
					HostAlias: "host.docker.internal",
				},
			},
			Controller: ControllerConfig{
				ProgressFlushInterval: 2 * time.Second,
				StopWaitMargin:        5 * time.Second,
				MaxConcurrent:         10,
			},
			Broadcast: BroadcastConfig{
				BufferSize: 64,
				Redis:      RedisConfig{Addr: "localhost:6379", Channel: "mysqler:events"},
			},
			HTTP: HTTPConfig{
				Address:         ":8080",
				Mode:            "release",
				ShutdownTimeout: 10 * time.Second,
			},
			Metrics: MetricsConfig{
				Backend:         "prometheus",
				AsyncBufferSize: 100,
				ExportInterval:  15 * time.Second,
				OTLP:            OTLPConfig{Protocol: "grpc", Endpoint: "localhost:4317", Insecure: true},
			},
			Tracing: TracingConfig{
				ServiceName: "mysqler",
				SampleRatio: 1.0,
				OTLP:        OTLPConfig{Protocol: "grpc", Endpoint: "localhost:4317", Insecure: true},
			},
			Archive: ArchiveConfig{
				StorageRef: "archive",
				Prefix:     "job-logs/",
			},
			Export: ExportConfig{
				StorageRef:  "archive",
				Prefix:      "exports/",
				Compression: "SNAPPY",
				Parallelism: 4,
			},
			Databases:   map[string]interface{}{},
			Connections: map[string]interface{}{},
			Storage:     map[string]interface{}{},
		},
	}
}

// GlobalConfig is the configuration shared across the application, set by NewConfigProvider.
var GlobalConfig *Config
