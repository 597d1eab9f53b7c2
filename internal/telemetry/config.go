package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/auralis/prometheus-core/internal/analytics"
	"github.com/auralis/prometheus-core/internal/analytics/forecasting"
	"github.com/auralis/prometheus-core/internal/audit"
	"github.com/auralis/prometheus-core/internal/automation"
	"github.com/auralis/prometheus-core/internal/config"
	"github.com/auralis/prometheus-core/internal/models"
	"github.com/auralis/prometheus-core/internal/notification"
	"github.com/auralis/prometheus-core/internal/provider"
)

// FromConfig builds a Core whose engines follow cfg.
func FromConfig(cfg *config.Config, logger *zap.Logger, auditor audit.Logger) *Core {
	if logger == nil {
		logger = zap.NewNop()
	}

	limits := make([]provider.Limit, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		limits = append(limits, provider.Limit{Name: p.Name, DailyLimit: p.DailyLimit})
	}

	predictions := forecasting.NewPredictionEngine(
		forecasting.WithLogger(logger.Named("prediction")),
		forecasting.WithAlpha(cfg.Prediction.SmoothingAlpha),
	)
	predictions.UpdateAnomalyThresholds(featureThresholds(cfg.Prediction.AnomalyThresholds))

	opts := []Option{
		WithLogger(logger),
		WithAnalytics(analytics.NewEngine(
			analytics.WithLogger(logger.Named("analytics")),
			analytics.WithThresholds(analyticsThresholds(cfg)),
			analytics.WithRetention(time.Duration(cfg.Analytics.WindowHours)*time.Hour),
		)),
		WithPredictions(predictions),
		WithProviders(provider.NewRegistry(
			provider.WithLogger(logger.Named("provider")),
			provider.WithLimits(limits),
		)),
		WithNotifications(notification.NewHub(notification.WithLogger(logger.Named("notification")))),
		WithAutomationOptions(
			automation.WithRuleThresholds(ruleThresholds(cfg)),
			automation.WithSimulatedLatency(time.Duration(cfg.Automation.SimulatedLatencyMs)*time.Millisecond),
		),
	}
	if auditor != nil {
		opts = append(opts, WithAuditor(auditor))
	}
	return New(opts...)
}

// ApplyThresholds pushes reloaded thresholds into the running engines.
// Analytics thresholds, prediction anomaly thresholds and the seeded rule
// thresholds are updated; everything else needs a restart.
func (c *Core) ApplyThresholds(ctx context.Context, cfg *config.Config) {
	th := analyticsThresholds(cfg)
	c.Analytics.UpdateThresholds(analytics.ThresholdUpdate{
		Latency:      &th.Latency,
		ErrorRate:    &th.ErrorRate,
		RequestSpike: &th.RequestSpike,
	})

	if len(cfg.Prediction.AnomalyThresholds) > 0 {
		c.Predictions.UpdateAnomalyThresholds(featureThresholds(cfg.Prediction.AnomalyThresholds))
	}

	rt := ruleThresholds(cfg)
	for id, value := range map[string]float64{
		automation.RuleHighCPU:    rt.CPU,
		automation.RuleErrorSpike: rt.ErrorRate,
		automation.RuleQuotaLimit: rt.QuotaUsage,
	} {
		current, err := c.Automation.Rule(id)
		if err != nil || current.Threshold == value {
			continue
		}
		v := value
		if _, err := c.UpdateRule(ctx, id, automation.RuleUpdate{Threshold: &v}); err != nil {
			c.logger.Warn("failed to apply rule threshold", zap.String("rule", id), zap.Error(err))
		}
	}
	c.logger.Info("thresholds reloaded")
}

func analyticsThresholds(cfg *config.Config) analytics.Thresholds {
	return analytics.Thresholds{
		Latency:      cfg.Analytics.LatencyThreshold,
		ErrorRate:    cfg.Analytics.ErrorRateThreshold,
		RequestSpike: cfg.Analytics.RequestSpikeThreshold,
	}
}

func ruleThresholds(cfg *config.Config) automation.RuleThresholds {
	return automation.RuleThresholds{
		CPU:        cfg.Automation.CPUThreshold,
		ErrorRate:  cfg.Automation.ErrorRateThreshold,
		QuotaUsage: cfg.Automation.QuotaUsageThreshold,
	}
}

func featureThresholds(in map[string]float64) map[models.Feature]float64 {
	out := make(map[models.Feature]float64, len(in))
	for k, v := range in {
		out[models.Feature(k)] = v
	}
	return out
}
