package config

import "context"

// Package config provides configuration management for prometheus-core.
//
// Responsibilities:
//   - Load configuration from YAML files, .env files and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Hot-reload thresholds when the config file changes
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (PROMETHEUS_* prefix, "." replaced by "_")
//   2. .env file (loaded into the environment, never overrides set variables)
//   3. YAML config file (optional)
//   4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - port: HTTP listen port (default 8080)
//      - grpc_port: gRPC health port (default 9090, 0 disables)
//      - allowed_origins: WebSocket origins
//      - rate_limit_per_min: REST requests per client per minute
//      - shutdown_timeout_seconds: graceful shutdown budget
//
//   2. Logging
//      - level: "debug" | "info" | "warn" | "error"
//      - format: "json" | "console"
//      - file: rotate into this file instead of stderr
//      - max_size_mb, max_backups, max_age_days, compress
//
//   3. Audit
//      - path: audit log file (empty routes events to the app logger)
//
//   4. Analytics
//      - latency_threshold, error_rate_threshold, request_spike_threshold
//      - window_hours: trailing window length
//
//   5. Prediction
//      - smoothing_alpha: exponential smoothing factor
//      - anomaly_thresholds: per-feature minimum deviation ratio
//
//   6. Automation
//      - cpu_threshold, error_rate_threshold, quota_usage_threshold
//      - simulated_latency_ms: duration of simulated side effects
//
//   7. Providers
//      - list of {name, daily_limit} in fallback order
//
//   8. Stream
//      - enabled, interval_ms, ingest
//
//   9. NATS
//      - enabled, url, subject
//
// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Port     int
		GRPCPort int
		// AllowedOrigins is a list of origins permitted to open WebSocket connections.
		// Use ["*"] to allow any origin (development only).
		AllowedOrigins         []string
		RateLimitPerMin        int
		ShutdownTimeoutSeconds int
	}

	// Logging configuration
	Logging LoggingConfig

	// Audit configuration
	Audit struct {
		Path string
	}

	// Analytics configuration
	Analytics struct {
		LatencyThreshold      float64
		ErrorRateThreshold    float64
		RequestSpikeThreshold float64
		WindowHours           int
	}

	// Prediction configuration
	Prediction struct {
		SmoothingAlpha    float64
		AnomalyThresholds map[string]float64
	}

	// Automation configuration
	Automation struct {
		CPUThreshold        float64
		ErrorRateThreshold  float64
		QuotaUsageThreshold float64
		SimulatedLatencyMs  int
	}

	// Providers in fallback order
	Providers []ProviderConfig

	// Stream configuration
	Stream struct {
		Enabled    bool
		IntervalMs int
		Ingest     bool
	}

	// NATS configuration
	NATS struct {
		Enabled bool
		URL     string
		Subject string
	}
}

// LoggingConfig configures the application logger.
type LoggingConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ProviderConfig is one entry of the provider fallback list.
type ProviderConfig struct {
	Name       string `mapstructure:"name"`
	DailyLimit int    `mapstructure:"daily_limit"`
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches the config file and sends every valid reload.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager. An empty path
// skips the config file.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/prometheus-core/config.yaml")
}
