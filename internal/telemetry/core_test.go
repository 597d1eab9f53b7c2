package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralis/prometheus-core/internal/analytics"
	"github.com/auralis/prometheus-core/internal/automation"
	"github.com/auralis/prometheus-core/internal/config"
	"github.com/auralis/prometheus-core/internal/models"
	"github.com/auralis/prometheus-core/internal/notification"
	"github.com/auralis/prometheus-core/internal/provider"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Topic)
	}
	return out
}

func point(values map[models.Feature]float64) models.MetricPoint {
	return models.NewMetricPoint(time.Time{}, values)
}

func failingTask(ctx context.Context, name string) (interface{}, error) {
	return nil, errors.New(name + " unavailable")
}

func TestIngestThresholdAnomalyBecomesNotification(t *testing.T) {
	core := New()
	rec := &recorder{}
	core.Subscribe(rec.observe)

	result := core.Ingest(context.Background(), point(map[models.Feature]float64{
		models.FeatureLatency:           450,
		models.FeatureRequestsPerMinute: 150,
	}))

	require.Len(t, result.Anomalies, 2)
	assert.False(t, result.Point.Timestamp.IsZero(), "missing timestamps are stamped")

	notes := core.Notifications.GetNotifications(notification.Filter{})
	require.Len(t, notes, 2)
	// Newest first: the request spike (medium → info), then latency (high → warning).
	assert.Equal(t, models.SeverityInfo, notes[0].Severity)
	assert.Equal(t, models.SeverityWarning, notes[1].Severity)
	assert.Equal(t, models.CategoryPerformance, notes[1].Category)
	assert.Equal(t, 200.0, notes[1].Metadata["threshold"])

	assert.Len(t, core.RecentAnomalies(), 2)
	assert.Equal(t, []string{
		TopicMetrics,
		TopicNotifications, TopicAnomalies,
		TopicNotifications, TopicAnomalies,
	}, rec.topics())
}

func TestIngestRunsAutomation(t *testing.T) {
	core := New()

	result := core.Ingest(context.Background(), point(map[models.Feature]float64{models.FeatureCPU: 95}))

	assert.Equal(t, []string{automation.RuleHighCPU}, result.Automation.Triggered)
	resp, err := core.Automation.Response(automation.ResponseAutoScale)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.SuccessCount)

	notes := core.Notifications.GetNotifications(notification.Filter{})
	require.Len(t, notes, 1)
	assert.Equal(t, models.CategoryAutomation, notes[0].Category)
}

func TestIngestFeedsPredictions(t *testing.T) {
	core := New()
	for i := 0; i < 12; i++ {
		core.Ingest(context.Background(), point(map[models.Feature]float64{
			models.FeatureLatency:   100 + float64(i%3),
			models.FeatureErrorRate: 0.01,
		}))
	}

	assert.NotEmpty(t, core.Predictions.GetPredictions())
	stats := core.Stats()
	assert.Equal(t, 12, stats.WindowSize)
	assert.Equal(t, 12, stats.Summary.SampleCount)
	assert.Nil(t, stats.Forecast, "analytics forecast needs 24 points")
}

func TestRecentAnomaliesAreCapped(t *testing.T) {
	core := New()
	for i := 0; i < RecentAnomalyLimit+10; i++ {
		core.Ingest(context.Background(), point(map[models.Feature]float64{models.FeatureLatency: 1000 + float64(i)}))
	}

	recent := core.RecentAnomalies()
	require.Len(t, recent, RecentAnomalyLimit)
	assert.Equal(t, 1000.0+float64(RecentAnomalyLimit+9), recent[len(recent)-1].Value)
}

func TestRunTaskExhaustion(t *testing.T) {
	core := New()
	rec := &recorder{}
	core.Subscribe(rec.observe)

	result, err := core.RunTask(context.Background(), failingTask)
	assert.Nil(t, result)

	var exhausted *provider.ExhaustionError
	require.True(t, errors.As(err, &exhausted))
	assert.ErrorIs(t, err, provider.ErrAllProvidersFailed)

	critical := core.Notifications.GetNotifications(notification.Filter{Severity: models.SeverityCritical})
	require.Len(t, critical, 1)
	assert.Equal(t, models.CategoryAIProvider, critical[0].Category)

	assert.Contains(t, rec.topics(), TopicProviders)
	assert.Equal(t, 1, core.Analytics.Len(), "task outcome is ingested as a quota point")
	last := core.Analytics.Points()[0]
	_, ok := last.Value(models.FeatureQuotaUsage)
	assert.True(t, ok)
}

func TestRunTaskSuccess(t *testing.T) {
	core := New()
	task := func(ctx context.Context, name string) (interface{}, error) { return "done by " + name, nil }

	result, err := core.RunTask(context.Background(), task, provider.OpenAI)
	require.NoError(t, err)
	assert.Equal(t, provider.OpenAI, result.Provider)
	assert.Empty(t, core.Notifications.GetNotifications(notification.Filter{}))
}

func TestRunTaskQuotaPressureTriggersReset(t *testing.T) {
	core := New(WithProviders(provider.NewRegistry(provider.WithLimits([]provider.Limit{{Name: "tiny", DailyLimit: 10}}))))
	task := func(ctx context.Context, name string) (interface{}, error) { return "ok", nil }

	for i := 0; i < 10; i++ {
		_, err := core.RunTask(context.Background(), task)
		require.NoError(t, err)
	}

	// The tenth call pushes usage to 100%, which fires quota-reset.
	resp, err := core.Automation.Response(automation.ResponseQuotaReset)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.SuccessCount)
	assert.Equal(t, 0.0, core.Providers.MaxUsageRatio())
}

func TestToggleAndResetProviderUnknown(t *testing.T) {
	core := New()

	_, err := core.ToggleProvider(context.Background(), "nope")
	assert.True(t, models.IsNotFound(err))
	assert.True(t, models.IsNotFound(core.ResetProviderQuota(context.Background(), "nope")))

	enabled, err := core.ToggleProvider(context.Background(), provider.OpenAI)
	require.NoError(t, err)
	assert.False(t, enabled)
}

// errorRateSignals reports whether p raised an errorRate threshold anomaly
// and whether it triggered the error-spike rule.
func errorRateSignals(core *Core, rate float64) (anomaly, rule bool) {
	result := core.Ingest(context.Background(), point(map[models.Feature]float64{models.FeatureErrorRate: rate}))
	for _, a := range result.Anomalies {
		if a.Source == models.SourceThreshold && a.Type == string(models.FeatureErrorRate) {
			anomaly = true
		}
	}
	for _, id := range result.Automation.Triggered {
		if id == automation.RuleErrorSpike {
			rule = true
		}
	}
	return anomaly, rule
}

// The errorRate limit exists twice: as the analytics threshold and as the
// error-spike rule threshold. They share a default but are tuned separately.
func TestErrorRateLimitsAreIndependent(t *testing.T) {
	t.Run("defaults agree", func(t *testing.T) {
		core := New()
		assert.Equal(t, 0.1, core.Analytics.Thresholds().ErrorRate)
		rule, err := core.Automation.Rule(automation.RuleErrorSpike)
		require.NoError(t, err)
		assert.Equal(t, 0.1, rule.Threshold)

		anomaly, fired := errorRateSignals(core, 0.2)
		assert.True(t, anomaly)
		assert.True(t, fired)
	})

	t.Run("analytics threshold alone", func(t *testing.T) {
		core := New()
		th := 0.5
		core.Analytics.UpdateThresholds(analytics.ThresholdUpdate{ErrorRate: &th})

		rule, err := core.Automation.Rule(automation.RuleErrorSpike)
		require.NoError(t, err)
		assert.Equal(t, 0.1, rule.Threshold)

		anomaly, fired := errorRateSignals(core, 0.2)
		assert.False(t, anomaly)
		assert.True(t, fired)
	})

	t.Run("rule threshold alone", func(t *testing.T) {
		core := New()
		th := 0.5
		_, err := core.UpdateRule(context.Background(), automation.RuleErrorSpike, automation.RuleUpdate{Threshold: &th})
		require.NoError(t, err)

		assert.Equal(t, 0.1, core.Analytics.Thresholds().ErrorRate)

		anomaly, fired := errorRateSignals(core, 0.2)
		assert.True(t, anomaly)
		assert.False(t, fired)
	})
}

func TestResetClearsState(t *testing.T) {
	core := New()
	core.Ingest(context.Background(), point(map[models.Feature]float64{models.FeatureLatency: 900, models.FeatureCPU: 99}))
	_, _ = core.RunTask(context.Background(), failingTask)
	th := 50.0
	_, err := core.UpdateRule(context.Background(), automation.RuleHighCPU, automation.RuleUpdate{Threshold: &th})
	require.NoError(t, err)

	core.Reset(context.Background())

	assert.Zero(t, core.Analytics.Len())
	assert.Zero(t, core.Predictions.Len())
	assert.Zero(t, core.Notifications.Len())
	assert.Empty(t, core.RecentAnomalies())
	assert.Zero(t, core.Providers.MaxUsageRatio())
	for _, r := range core.Automation.Responses() {
		assert.Zero(t, r.SuccessCount)
	}
	rule, err := core.Automation.Rule(automation.RuleHighCPU)
	require.NoError(t, err)
	assert.Equal(t, 50.0, rule.Threshold, "rules survive a reset")
}

func TestOptimizeRaisesHealth(t *testing.T) {
	core := New()
	before := core.Providers.Health()[0].HealthScore

	health := core.Optimize(context.Background())
	assert.Equal(t, before+5, health[0].HealthScore)
	assert.Equal(t, 1, core.Notifications.Len())
}

func TestObserverPanicIsIsolated(t *testing.T) {
	core := New()
	core.Subscribe(func(Event) { panic("broken socket") })
	rec := &recorder{}
	cancel := core.Subscribe(rec.observe)

	assert.NotPanics(t, func() { core.Publish(TopicMetrics, "x") })
	assert.Equal(t, []string{TopicMetrics}, rec.topics())

	cancel()
	core.Publish(TopicMetrics, "y")
	assert.Len(t, rec.topics(), 1)
}

func TestNotificationSeverity(t *testing.T) {
	tests := []struct {
		in   models.Severity
		want models.Severity
	}{
		{models.SeverityHigh, models.SeverityWarning},
		{models.SeverityMedium, models.SeverityInfo},
		{models.SeverityCritical, models.SeverityCritical},
		{models.SeverityWarning, models.SeverityWarning},
		{models.SeverityInfo, models.SeverityInfo},
		{"", models.SeverityInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NotificationSeverity(models.AnomalyRecord{Severity: tt.in}), "severity %q", tt.in)
	}
}

func TestSystemState(t *testing.T) {
	core := New()
	core.Ingest(context.Background(), point(map[models.Feature]float64{models.FeatureLatency: 300}))

	state := core.SystemState()
	assert.Len(t, state.Providers, 3)
	assert.Len(t, state.Rules, 3)
	assert.Len(t, state.Responses, 3)
	assert.Equal(t, 1, state.UnreadNotifications)
	assert.Len(t, state.RecentAnomalies, 1)
	assert.Equal(t, 300.0, state.Summary.AverageLatency)
}

func TestFromConfigAndApplyThresholds(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers = []config.ProviderConfig{{Name: "local", DailyLimit: 3}}
	cfg.Analytics.LatencyThreshold = 500
	cfg.Automation.SimulatedLatencyMs = 0

	core := FromConfig(cfg, nil, nil)
	assert.Equal(t, []string{"local"}, core.Providers.DefaultOrder())
	assert.Equal(t, 500.0, core.Analytics.Thresholds().Latency)

	assert.Empty(t, core.Ingest(context.Background(), point(map[models.Feature]float64{models.FeatureLatency: 400})).Anomalies)

	cfg.Analytics.LatencyThreshold = 300
	cfg.Automation.CPUThreshold = 60
	cfg.Prediction.AnomalyThresholds = map[string]float64{"latency": 2}
	core.ApplyThresholds(context.Background(), cfg)

	assert.Equal(t, 300.0, core.Analytics.Thresholds().Latency)
	assert.Equal(t, 2.0, core.Predictions.AnomalyThresholds()[models.FeatureLatency])
	rule, err := core.Automation.Rule(automation.RuleHighCPU)
	require.NoError(t, err)
	assert.Equal(t, 60.0, rule.Threshold)
}
