package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/auralis/prometheus-core/internal/models"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PROMETHEUS"

// LoadEnvFile loads KEY=VALUE pairs from path into the environment.
// Variables already set are kept. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error loading env file %s: %w", path, err)
	}
	return nil
}

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	mu         sync.RWMutex
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
	watchOnce  sync.Once
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	if m.configPath != "" {
		m.viper.SetConfigFile(m.configPath)
		m.viper.SetConfigType("yaml")
	}

	m.viper.SetEnvPrefix(EnvPrefix)
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	if err := m.readConfigFile(); err != nil {
		return err
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

// readConfigFile reads the optional YAML file. A missing file falls back to
// defaults and environment variables.
func (m *viperConfigManager) readConfigFile() error {
	if m.configPath == "" {
		return nil
	}
	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches the config file for changes. Each change that parses and
// validates is sent on the returned channel; invalid changes are dropped
// and the previous configuration stays active. Updates stop after ctx is
// cancelled. Without a config file the channel never receives.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	if m.configPath == "" || m.viper == nil {
		return m.watchChan
	}

	m.watchOnce.Do(func() {
		m.viper.OnConfigChange(func(e fsnotify.Event) {
			if ctx.Err() != nil {
				return
			}
			if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
				return
			}
			if err := m.Reload(ctx); err != nil {
				return
			}
			cfg := *m.Get(ctx)
			select {
			case m.watchChan <- cfg:
			default:
				// Drop the stale pending update in favour of this one.
				select {
				case <-m.watchChan:
				default:
				}
				m.watchChan <- cfg
			}
		})
		m.viper.WatchConfig()
	})

	return m.watchChan
}

// Reload re-reads the config file and swaps in the new configuration when
// it validates.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if m.viper == nil {
		return m.Load(ctx)
	}

	previous := m.Get(ctx)
	if err := m.readConfigFile(); err != nil {
		return err
	}
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := m.Validate(ctx); err != nil {
		m.mu.Lock()
		m.config = previous
		m.mu.Unlock()
		return err
	}
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.grpc_port", defaults.Server.GRPCPort)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.rate_limit_per_min", defaults.Server.RateLimitPerMin)
	m.viper.SetDefault("server.shutdown_timeout_seconds", defaults.Server.ShutdownTimeoutSeconds)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file", defaults.Logging.File)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Audit defaults
	m.viper.SetDefault("audit.path", defaults.Audit.Path)

	// Analytics defaults
	m.viper.SetDefault("analytics.latency_threshold", defaults.Analytics.LatencyThreshold)
	m.viper.SetDefault("analytics.error_rate_threshold", defaults.Analytics.ErrorRateThreshold)
	m.viper.SetDefault("analytics.request_spike_threshold", defaults.Analytics.RequestSpikeThreshold)
	m.viper.SetDefault("analytics.window_hours", defaults.Analytics.WindowHours)

	// Prediction defaults
	m.viper.SetDefault("prediction.smoothing_alpha", defaults.Prediction.SmoothingAlpha)
	m.viper.SetDefault("prediction.anomaly_thresholds", map[string]interface{}{})

	// Automation defaults
	m.viper.SetDefault("automation.cpu_threshold", defaults.Automation.CPUThreshold)
	m.viper.SetDefault("automation.error_rate_threshold", defaults.Automation.ErrorRateThreshold)
	m.viper.SetDefault("automation.quota_usage_threshold", defaults.Automation.QuotaUsageThreshold)
	m.viper.SetDefault("automation.simulated_latency_ms", defaults.Automation.SimulatedLatencyMs)

	// Stream defaults
	m.viper.SetDefault("stream.enabled", defaults.Stream.Enabled)
	m.viper.SetDefault("stream.interval_ms", defaults.Stream.IntervalMs)
	m.viper.SetDefault("stream.ingest", defaults.Stream.Ingest)

	// NATS defaults
	m.viper.SetDefault("nats.enabled", defaults.NATS.Enabled)
	m.viper.SetDefault("nats.url", defaults.NATS.URL)
	m.viper.SetDefault("nats.subject", defaults.NATS.Subject)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.GRPCPort = m.viper.GetInt("server.grpc_port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.RateLimitPerMin = m.viper.GetInt("server.rate_limit_per_min")
	cfg.Server.ShutdownTimeoutSeconds = m.viper.GetInt("server.shutdown_timeout_seconds")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.File = m.viper.GetString("logging.file")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")

	// Audit
	cfg.Audit.Path = m.viper.GetString("audit.path")

	// Analytics
	cfg.Analytics.LatencyThreshold = m.viper.GetFloat64("analytics.latency_threshold")
	cfg.Analytics.ErrorRateThreshold = m.viper.GetFloat64("analytics.error_rate_threshold")
	cfg.Analytics.RequestSpikeThreshold = m.viper.GetFloat64("analytics.request_spike_threshold")
	cfg.Analytics.WindowHours = m.viper.GetInt("analytics.window_hours")

	// Prediction
	cfg.Prediction.SmoothingAlpha = m.viper.GetFloat64("prediction.smoothing_alpha")
	cfg.Prediction.AnomalyThresholds = make(map[string]float64)
	for key := range m.viper.GetStringMap("prediction.anomaly_thresholds") {
		// viper lower-cases keys; restore the canonical feature name.
		cfg.Prediction.AnomalyThresholds[canonicalFeature(key)] = m.viper.GetFloat64("prediction.anomaly_thresholds." + key)
	}

	// Automation
	cfg.Automation.CPUThreshold = m.viper.GetFloat64("automation.cpu_threshold")
	cfg.Automation.ErrorRateThreshold = m.viper.GetFloat64("automation.error_rate_threshold")
	cfg.Automation.QuotaUsageThreshold = m.viper.GetFloat64("automation.quota_usage_threshold")
	cfg.Automation.SimulatedLatencyMs = m.viper.GetInt("automation.simulated_latency_ms")

	// Providers keep the defaults unless the file lists its own.
	if m.viper.IsSet("providers") {
		if err := m.viper.UnmarshalKey("providers", &cfg.Providers); err != nil {
			return fmt.Errorf("providers: %w", err)
		}
	} else {
		cfg.Providers = DefaultConfig().Providers
	}

	// Stream
	cfg.Stream.Enabled = m.viper.GetBool("stream.enabled")
	cfg.Stream.IntervalMs = m.viper.GetInt("stream.interval_ms")
	cfg.Stream.Ingest = m.viper.GetBool("stream.ingest")

	// NATS
	cfg.NATS.Enabled = m.viper.GetBool("nats.enabled")
	cfg.NATS.URL = m.viper.GetString("nats.url")
	cfg.NATS.Subject = m.viper.GetString("nats.subject")

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

func canonicalFeature(key string) string {
	for _, f := range models.KnownFeatures {
		if strings.EqualFold(string(f), key) {
			return string(f)
		}
	}
	return key
}
