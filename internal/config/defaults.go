package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8080
	cfg.Server.GRPCPort = 9090
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.RateLimitPerMin = 600
	cfg.Server.ShutdownTimeoutSeconds = 15

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	// Audit defaults
	cfg.Audit.Path = "logs/audit.log"

	// Analytics defaults
	cfg.Analytics.LatencyThreshold = 200
	cfg.Analytics.ErrorRateThreshold = 0.1
	cfg.Analytics.RequestSpikeThreshold = 100
	cfg.Analytics.WindowHours = 24

	// Prediction defaults
	cfg.Prediction.SmoothingAlpha = 0.3
	cfg.Prediction.AnomalyThresholds = map[string]float64{}

	// Automation defaults
	cfg.Automation.CPUThreshold = 80
	cfg.Automation.ErrorRateThreshold = 0.1
	cfg.Automation.QuotaUsageThreshold = 90
	cfg.Automation.SimulatedLatencyMs = 500

	// Provider defaults, in fallback order
	cfg.Providers = []ProviderConfig{
		{Name: "HuggingFace", DailyLimit: 10000},
		{Name: "OpenAI", DailyLimit: 200},
		{Name: "Anthropic", DailyLimit: 1000},
	}

	// Stream defaults
	cfg.Stream.Enabled = false
	cfg.Stream.IntervalMs = 2000
	cfg.Stream.Ingest = true

	// NATS defaults
	cfg.NATS.Enabled = false
	cfg.NATS.URL = "nats://127.0.0.1:4222"
	cfg.NATS.Subject = "prometheus.events"

	return cfg
}
