package automation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/auralis/prometheus-core/internal/models"
)

// Seeded rule and response ids.
const (
	RuleHighCPU    = "high-cpu"
	RuleErrorSpike = "error-spike"
	RuleQuotaLimit = "quota-limit"

	ResponseAutoScale        = "auto-scale"
	ResponseFallbackProvider = "fallback-provider"
	ResponseQuotaReset       = "quota-reset"
)

// RuleThresholds are the limits of the seeded rules. They are configured
// independently of the analytics anomaly thresholds.
type RuleThresholds struct {
	CPU        float64
	ErrorRate  float64
	QuotaUsage float64
}

// DefaultRuleThresholds returns cpu 80%, error rate 10% and quota usage 90%.
func DefaultRuleThresholds() RuleThresholds {
	return RuleThresholds{CPU: 80, ErrorRate: 0.1, QuotaUsage: 90}
}

// DefaultRules returns the three seeded rules.
func DefaultRules(th RuleThresholds) []Rule {
	return []Rule{
		{
			ID:         RuleHighCPU,
			Name:       "High CPU usage",
			Condition:  "cpu > threshold (%)",
			Feature:    models.FeatureCPU,
			Threshold:  th.CPU,
			ResponseID: ResponseAutoScale,
			Enabled:    true,
		},
		{
			ID:         RuleErrorSpike,
			Name:       "Error rate spike",
			Condition:  "errorRate over the last minute > threshold",
			Feature:    models.FeatureErrorRate,
			Threshold:  th.ErrorRate,
			ResponseID: ResponseFallbackProvider,
			Enabled:    true,
		},
		{
			ID:         RuleQuotaLimit,
			Name:       "Provider quota nearly used",
			Condition:  "quotaUsage > threshold (%)",
			Feature:    models.FeatureQuotaUsage,
			Threshold:  th.QuotaUsage,
			ResponseID: ResponseQuotaReset,
			Enabled:    true,
		},
	}
}

var errNoProviders = errors.New("no provider registry configured")

// defaultResponses builds the seeded responses around e's collaborators.
func (e *Engine) defaultResponses() []Response {
	return []Response{
		{
			ID:      ResponseAutoScale,
			Trigger: RuleHighCPU,
			Action:  "scale_up",
			Status:  StatusActive,
			run: func(ctx context.Context, p models.MetricPoint) error {
				if err := e.simulate(ctx); err != nil {
					return err
				}
				cpu, _ := p.Value(models.FeatureCPU)
				e.logger.Info("scaled up capacity", zap.Float64("cpu", cpu))
				return nil
			},
		},
		{
			ID:      ResponseFallbackProvider,
			Trigger: RuleErrorSpike,
			Action:  "switch_provider",
			Status:  StatusActive,
			run: func(ctx context.Context, p models.MetricPoint) error {
				if e.providers == nil {
					return errNoProviders
				}
				if err := e.simulate(ctx); err != nil {
					return err
				}
				order := e.providers.RotateDefault()
				e.logger.Info("switched primary provider", zap.Strings("order", order))
				return nil
			},
		},
		{
			ID:      ResponseQuotaReset,
			Trigger: RuleQuotaLimit,
			Action:  "reset_quota",
			Status:  StatusActive,
			run: func(ctx context.Context, p models.MetricPoint) error {
				if e.providers == nil {
					return errNoProviders
				}
				if err := e.simulate(ctx); err != nil {
					return err
				}
				e.providers.ResetQuotas()
				return nil
			},
		},
	}
}

// simulate waits for the configured side-effect latency.
func (e *Engine) simulate(ctx context.Context) error {
	if e.latency <= 0 {
		return nil
	}
	timer := time.NewTimer(e.latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
