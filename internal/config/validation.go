package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.grpc_port",
			Message: fmt.Sprintf("grpc_port must be between 0 and 65535, got %d", c.Server.GRPCPort),
		})
	} else if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		errs = append(errs, &ValidationError{
			Field:   "server.grpc_port",
			Message: "grpc_port must differ from port",
		})
	}

	if c.Server.RateLimitPerMin < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_per_min",
			Message: fmt.Sprintf("rate_limit_per_min cannot be negative, got %d", c.Server.RateLimitPerMin),
		})
	}

	if c.Server.ShutdownTimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.shutdown_timeout_seconds",
			Message: fmt.Sprintf("shutdown timeout must be at least 1 second, got %d", c.Server.ShutdownTimeoutSeconds),
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, console", c.Logging.Format),
		})
	}

	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		errs = append(errs, &ValidationError{
			Field:   "logging",
			Message: "rotation settings cannot be negative",
		})
	}

	// Validate analytics configuration
	if c.Analytics.LatencyThreshold <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "analytics.latency_threshold",
			Message: fmt.Sprintf("latency_threshold must be positive, got %g", c.Analytics.LatencyThreshold),
		})
	}
	if c.Analytics.ErrorRateThreshold < 0 || c.Analytics.ErrorRateThreshold > 1 {
		errs = append(errs, &ValidationError{
			Field:   "analytics.error_rate_threshold",
			Message: fmt.Sprintf("error_rate_threshold must be between 0 and 1, got %g", c.Analytics.ErrorRateThreshold),
		})
	}
	if c.Analytics.RequestSpikeThreshold <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "analytics.request_spike_threshold",
			Message: fmt.Sprintf("request_spike_threshold must be positive, got %g", c.Analytics.RequestSpikeThreshold),
		})
	}
	if c.Analytics.WindowHours < 1 {
		errs = append(errs, &ValidationError{
			Field:   "analytics.window_hours",
			Message: fmt.Sprintf("window_hours must be at least 1, got %d", c.Analytics.WindowHours),
		})
	}

	// Validate prediction configuration
	if c.Prediction.SmoothingAlpha <= 0 || c.Prediction.SmoothingAlpha > 1 {
		errs = append(errs, &ValidationError{
			Field:   "prediction.smoothing_alpha",
			Message: fmt.Sprintf("smoothing_alpha must be in (0, 1], got %g", c.Prediction.SmoothingAlpha),
		})
	}
	for feature, ratio := range c.Prediction.AnomalyThresholds {
		if ratio < 0 {
			errs = append(errs, &ValidationError{
				Field:   "prediction.anomaly_thresholds." + feature,
				Message: fmt.Sprintf("threshold cannot be negative, got %g", ratio),
			})
		}
	}

	// Validate automation configuration
	if c.Automation.QuotaUsageThreshold < 0 || c.Automation.QuotaUsageThreshold > 100 {
		errs = append(errs, &ValidationError{
			Field:   "automation.quota_usage_threshold",
			Message: fmt.Sprintf("quota_usage_threshold is a percentage, got %g", c.Automation.QuotaUsageThreshold),
		})
	}
	if c.Automation.SimulatedLatencyMs < 0 {
		errs = append(errs, &ValidationError{
			Field:   "automation.simulated_latency_ms",
			Message: fmt.Sprintf("simulated_latency_ms cannot be negative, got %d", c.Automation.SimulatedLatencyMs),
		})
	}

	// Validate providers
	if len(c.Providers) == 0 {
		errs = append(errs, &ValidationError{
			Field:   "providers",
			Message: "at least one provider is required",
		})
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, &ValidationError{Field: field + ".name", Message: "provider name is required"})
			continue
		}
		if seen[p.Name] {
			errs = append(errs, &ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate provider '%s'", p.Name)})
		}
		seen[p.Name] = true
		if p.DailyLimit < 1 {
			errs = append(errs, &ValidationError{
				Field:   field + ".daily_limit",
				Message: fmt.Sprintf("daily_limit must be at least 1, got %d", p.DailyLimit),
			})
		}
	}

	// Validate stream configuration
	if c.Stream.Enabled && c.Stream.IntervalMs < 100 {
		errs = append(errs, &ValidationError{
			Field:   "stream.interval_ms",
			Message: fmt.Sprintf("interval_ms must be at least 100 when streaming, got %d", c.Stream.IntervalMs),
		})
	}

	// Validate NATS configuration
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			errs = append(errs, &ValidationError{
				Field:   "nats.url",
				Message: "url is required when nats is enabled",
			})
		}
		if c.NATS.Subject == "" {
			errs = append(errs, &ValidationError{
				Field:   "nats.subject",
				Message: "subject is required when nats is enabled",
			})
		}
	}

	return errs
}
