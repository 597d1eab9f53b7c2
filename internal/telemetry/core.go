package telemetry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/auralis/prometheus-core/internal/analytics"
	"github.com/auralis/prometheus-core/internal/analytics/forecasting"
	"github.com/auralis/prometheus-core/internal/audit"
	"github.com/auralis/prometheus-core/internal/automation"
	"github.com/auralis/prometheus-core/internal/models"
	"github.com/auralis/prometheus-core/internal/notification"
	"github.com/auralis/prometheus-core/internal/provider"
)

// Package telemetry wires the engines into one pipeline.
//
// Responsibilities:
//   - Own the analytics, prediction, automation, provider and notification engines
//   - Run every ingested point through analytics, prediction and automation
//   - Turn anomalies into performance notifications
//   - Run AI tasks through the provider fallback chain
//   - Publish pipeline events to observers (WebSocket topics, NATS)
//   - Reset and optimize the whole system
//
// Integration Points:
//   - Server: REST handlers and WebSocket hub call into Core
//   - Stream: periodic samples are ingested through Core
//   - Audit: operator and automated changes are recorded

// Topics published to observers.
const (
	TopicMetrics       = "metrics"
	TopicAnomalies     = "anomalies"
	TopicPredictions   = "predictions"
	TopicNotifications = "notifications"
	TopicAutomation    = "automation"
	TopicProviders     = "providers"
)

// Topics lists every topic in a stable order.
var Topics = []string{TopicMetrics, TopicAnomalies, TopicPredictions, TopicNotifications, TopicAutomation, TopicProviders}

// RecentAnomalyLimit caps the anomalies kept for Stats.
const RecentAnomalyLimit = 50

// Event is one observer message.
type Event struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// Observer receives pipeline events. It runs on the publishing goroutine.
type Observer func(Event)

// Core holds every engine.
type Core struct {
	Analytics     *analytics.Engine
	Predictions   forecasting.PredictionEngine
	Automation    *automation.Engine
	Providers     provider.Registry
	Notifications *notification.Hub

	auditor audit.Logger
	logger  *zap.Logger
	now     func() time.Time

	automationOpts []automation.Option

	mu        sync.RWMutex
	recent    []models.AnomalyRecord
	observers map[uint64]Observer
	nextObsID uint64
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the core logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Core) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the clock used to stamp points.
func WithClock(now func() time.Time) Option {
	return func(c *Core) {
		if now != nil {
			c.now = now
		}
	}
}

// WithAuditor records changes in the audit trail.
func WithAuditor(a audit.Logger) Option {
	return func(c *Core) { c.auditor = a }
}

// WithAnalytics replaces the default analytics engine.
func WithAnalytics(e *analytics.Engine) Option {
	return func(c *Core) { c.Analytics = e }
}

// WithPredictions replaces the default prediction engine.
func WithPredictions(e forecasting.PredictionEngine) Option {
	return func(c *Core) { c.Predictions = e }
}

// WithProviders replaces the default provider registry.
func WithProviders(r provider.Registry) Option {
	return func(c *Core) { c.Providers = r }
}

// WithNotifications replaces the default notification hub.
func WithNotifications(h *notification.Hub) Option {
	return func(c *Core) { c.Notifications = h }
}

// WithAutomationOptions adds options to the automation engine. The engine is
// always wired to the core's providers, hub and auditor.
func WithAutomationOptions(opts ...automation.Option) Option {
	return func(c *Core) { c.automationOpts = append(c.automationOpts, opts...) }
}

// New creates a Core. Engines not supplied are created with defaults.
func New(opts ...Option) *Core {
	c := &Core{
		logger:    zap.NewNop(),
		now:       time.Now,
		observers: make(map[uint64]Observer),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.Analytics == nil {
		c.Analytics = analytics.NewEngine(analytics.WithLogger(c.logger.Named("analytics")), analytics.WithClock(c.now))
	}
	if c.Predictions == nil {
		c.Predictions = forecasting.NewPredictionEngine(forecasting.WithLogger(c.logger.Named("prediction")), forecasting.WithClock(c.now))
	}
	if c.Providers == nil {
		c.Providers = provider.NewRegistry(provider.WithLogger(c.logger.Named("provider")), provider.WithClock(c.now))
	}
	if c.Notifications == nil {
		c.Notifications = notification.NewHub(notification.WithLogger(c.logger.Named("notification")), notification.WithClock(c.now))
	}

	autoOpts := []automation.Option{
		automation.WithLogger(c.logger.Named("automation")),
		automation.WithClock(c.now),
		automation.WithProviders(c.Providers),
		automation.WithNotifier(c.Notifications),
	}
	if c.auditor != nil {
		autoOpts = append(autoOpts, automation.WithAuditor(c.auditor))
	}
	c.Automation = automation.NewEngine(append(autoOpts, c.automationOpts...)...)

	c.Notifications.Subscribe(func(n models.Notification) error {
		c.Publish(TopicNotifications, n)
		return nil
	})
	return c
}

// ─── Observers ────────────────────────────────────────────────────────────────

// Subscribe registers an observer and returns its cancel function.
func (c *Core) Subscribe(o Observer) func() {
	c.mu.Lock()
	c.nextObsID++
	id := c.nextObsID
	c.observers[id] = o
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Publish sends an event to every observer in subscription order. A
// panicking observer is logged and skipped.
func (c *Core) Publish(topic string, payload interface{}) {
	c.mu.RLock()
	ids := make([]uint64, 0, len(c.observers))
	for id := range c.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	obs := make([]Observer, len(ids))
	for i, id := range ids {
		obs[i] = c.observers[id]
	}
	c.mu.RUnlock()

	ev := Event{Topic: topic, Payload: payload}
	for _, o := range obs {
		c.deliver(o, ev)
	}
}

func (c *Core) deliver(o Observer, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("observer panicked", zap.String("topic", ev.Topic), zap.Any("panic", rec))
		}
	}()
	o(ev)
}

// ─── Metric pipeline ──────────────────────────────────────────────────────────

// IngestResult reports what one point caused.
type IngestResult struct {
	Point      models.MetricPoint     `json:"point"`
	Anomalies  []models.AnomalyRecord `json:"anomalies"`
	Automation automation.Evaluation  `json:"automation"`
}

// Ingest runs p through analytics, prediction and automation, in that
// order. Every anomaly becomes a performance notification.
func (c *Core) Ingest(ctx context.Context, p models.MetricPoint) IngestResult {
	if p.Timestamp.IsZero() {
		p.Timestamp = c.now()
	}
	c.Publish(TopicMetrics, p)

	anomalies := c.Analytics.RecordMetric(p)
	anomalies = append(anomalies, c.Predictions.AddDataPoint(p)...)

	for _, a := range anomalies {
		c.Notifications.NotifyPerformanceIssue(a.Type, a.Value, limitOf(a), NotificationSeverity(a))
		c.Publish(TopicAnomalies, a)
	}
	c.remember(anomalies)

	if preds := c.Predictions.GetPredictions(); len(preds) > 0 {
		c.Publish(TopicPredictions, preds)
	}

	eval := c.Automation.EvaluateMetrics(ctx, p)
	if len(eval.Triggered) > 0 || len(eval.Errors) > 0 {
		c.Publish(TopicAutomation, eval)
	}

	if anomalies == nil {
		anomalies = []models.AnomalyRecord{}
	}
	return IngestResult{Point: p, Anomalies: anomalies, Automation: eval}
}

// NotificationSeverity maps an anomaly to the severity of its notification.
// Threshold anomalies use high → warning and medium → info; forecast
// severities are used as they are.
func NotificationSeverity(a models.AnomalyRecord) models.Severity {
	switch a.Severity {
	case models.SeverityHigh:
		return models.SeverityWarning
	case models.SeverityMedium:
		return models.SeverityInfo
	case "":
		return models.SeverityInfo
	default:
		return a.Severity
	}
}

// limitOf returns the bound the value crossed.
func limitOf(a models.AnomalyRecord) float64 {
	if a.Source == models.SourceForecast {
		if a.Value > a.Upper {
			return a.Upper
		}
		return a.Lower
	}
	return a.Threshold
}

func (c *Core) remember(anomalies []models.AnomalyRecord) {
	if len(anomalies) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = append(c.recent, anomalies...)
	if over := len(c.recent) - RecentAnomalyLimit; over > 0 {
		c.recent = append([]models.AnomalyRecord(nil), c.recent[over:]...)
	}
}

// RecentAnomalies returns up to the last 50 anomalies, oldest first.
func (c *Core) RecentAnomalies() []models.AnomalyRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.AnomalyRecord{}, c.recent...)
}

// ─── Providers ────────────────────────────────────────────────────────────────

// RunTask runs task through the provider fallback chain. Its outcome is
// ingested as a quota usage point so automation can react to it.
func (c *Core) RunTask(ctx context.Context, task provider.Task, providers ...string) (*provider.Result, error) {
	result, err := c.Providers.ExecuteWithFallback(ctx, task, providers...)

	var attempts []provider.Attempt
	if result != nil {
		attempts = result.Attempts
	}
	var exhausted *provider.ExhaustionError
	if errors.As(err, &exhausted) {
		attempts = exhausted.Attempts
		c.Notifications.NotifyAIProviderIssue("all", exhausted.Error(), models.SeverityCritical)
		if c.auditor != nil {
			_ = c.auditor.LogProviderExhausted(ctx, len(exhausted.Attempts), exhausted)
		}
	}
	for _, a := range attempts {
		if a.Outcome == provider.OutcomeError {
			c.Notifications.NotifyAIProviderIssue(a.Provider, a.Error, models.SeverityWarning)
		}
	}

	c.Publish(TopicProviders, c.Providers.Health())

	if ctx.Err() == nil {
		usage := c.Providers.MaxUsageRatio() * 100
		c.Ingest(ctx, models.NewMetricPoint(c.now(), map[models.Feature]float64{models.FeatureQuotaUsage: usage}))
	}
	return result, err
}

// ToggleProvider flips a provider and records the change.
func (c *Core) ToggleProvider(ctx context.Context, name string) (bool, error) {
	enabled, err := c.Providers.ToggleProvider(name)
	if err != nil {
		return false, err
	}
	if c.auditor != nil {
		_ = c.auditor.LogProviderToggled(ctx, name, enabled)
	}
	c.Publish(TopicProviders, c.Providers.Health())
	return enabled, nil
}

// ResetProviderQuota zeroes one provider's counters and records it.
func (c *Core) ResetProviderQuota(ctx context.Context, name string) error {
	if err := c.Providers.ResetProviderQuota(name); err != nil {
		return err
	}
	if c.auditor != nil {
		_ = c.auditor.LogQuotaReset(ctx, name)
	}
	c.Publish(TopicProviders, c.Providers.Health())
	return nil
}

// ─── Automation ───────────────────────────────────────────────────────────────

// UpdateRule changes a rule and records the change.
func (c *Core) UpdateRule(ctx context.Context, id string, u automation.RuleUpdate) (automation.Rule, error) {
	rule, err := c.Automation.UpdateRule(id, u)
	if err != nil {
		return automation.Rule{}, err
	}
	if c.auditor != nil {
		_ = c.auditor.LogRuleUpdated(ctx, id, ruleChanges(u))
	}
	c.Publish(TopicAutomation, map[string]interface{}{"rules": c.Automation.Rules()})
	return rule, nil
}

func ruleChanges(u automation.RuleUpdate) map[string]interface{} {
	changes := make(map[string]interface{})
	if u.Name != nil {
		changes["name"] = *u.Name
	}
	if u.Condition != nil {
		changes["condition"] = *u.Condition
	}
	if u.Threshold != nil {
		changes["threshold"] = *u.Threshold
	}
	if u.ResponseID != nil {
		changes["action"] = *u.ResponseID
	}
	if u.Enabled != nil {
		changes["enabled"] = *u.Enabled
	}
	return changes
}

// ToggleResponse flips a response between active and inactive.
func (c *Core) ToggleResponse(ctx context.Context, id string) (automation.ResponseStatus, error) {
	status, err := c.Automation.ToggleResponse(id)
	if err != nil {
		return "", err
	}
	c.Publish(TopicAutomation, map[string]interface{}{"responses": c.Automation.Responses()})
	return status, nil
}

// ─── System ───────────────────────────────────────────────────────────────────

// Stats is the analytics view served by the REST API.
type Stats struct {
	Summary         analytics.Summary                 `json:"summary"`
	Trends          analytics.Trends                  `json:"trends"`
	Forecast        *analytics.Forecast               `json:"forecast"`
	Predictions     map[string]forecasting.Prediction `json:"predictions"`
	RecentAnomalies []models.AnomalyRecord            `json:"recentAnomalies"`
	WindowSize      int                               `json:"windowSize"`
}

// Stats snapshots the analytics and prediction engines.
func (c *Core) Stats() Stats {
	return Stats{
		Summary:         c.Analytics.CalculateSummaryMetrics(),
		Trends:          c.Analytics.CalculateTrends(),
		Forecast:        c.Analytics.GeneratePredictions(),
		Predictions:     c.Predictions.GetPredictions(),
		RecentAnomalies: c.RecentAnomalies(),
		WindowSize:      c.Analytics.Len(),
	}
}

// SystemState is the full snapshot sent to new WebSocket clients.
type SystemState struct {
	Timestamp           time.Time                         `json:"timestamp"`
	Summary             analytics.Summary                 `json:"summary"`
	Trends              analytics.Trends                  `json:"trends"`
	Thresholds          analytics.Thresholds              `json:"thresholds"`
	Predictions         map[string]forecasting.Prediction `json:"predictions"`
	Providers           []provider.Health                 `json:"providers"`
	Rules               []automation.Rule                 `json:"rules"`
	Responses           []automation.Response             `json:"responses"`
	Notifications       []models.Notification             `json:"notifications"`
	UnreadNotifications int                               `json:"unreadNotifications"`
	RecentAnomalies     []models.AnomalyRecord            `json:"recentAnomalies"`
}

// SystemState snapshots every engine.
func (c *Core) SystemState() SystemState {
	return SystemState{
		Timestamp:           c.now(),
		Summary:             c.Analytics.CalculateSummaryMetrics(),
		Trends:              c.Analytics.CalculateTrends(),
		Thresholds:          c.Analytics.Thresholds(),
		Predictions:         c.Predictions.GetPredictions(),
		Providers:           c.Providers.Health(),
		Rules:               c.Automation.Rules(),
		Responses:           c.Automation.Responses(),
		Notifications:       c.Notifications.GetNotifications(notification.Filter{Limit: 20}),
		UnreadNotifications: c.Notifications.UnreadCount(),
		RecentAnomalies:     c.RecentAnomalies(),
	}
}

// Reset clears metric history, predictions, response counters, provider
// state, notifications and recent anomalies. Thresholds and rules are kept.
func (c *Core) Reset(ctx context.Context) {
	c.Analytics.Reset()
	c.Predictions.Reset()
	c.Automation.Reset()
	c.Providers.Reset()
	c.Notifications.ClearNotifications()

	c.mu.Lock()
	c.recent = nil
	c.mu.Unlock()

	if c.auditor != nil {
		_ = c.auditor.LogSystemReset(ctx)
	}
	c.logger.Info("system reset")
	c.Publish(TopicProviders, c.Providers.Health())
}

// Optimize raises every provider's health score.
func (c *Core) Optimize(ctx context.Context) []provider.Health {
	health := c.Providers.Optimize()
	if c.auditor != nil {
		_ = c.auditor.LogSystemOptimized(ctx, len(health))
	}
	c.Notifications.NotifySystemEvent("Optimization complete", "Provider health scores raised", models.SeverityInfo,
		map[string]interface{}{"providers": len(health)})
	c.Publish(TopicProviders, health)
	return health
}
