package analytics

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/auralis/prometheus-core/internal/analytics/timeseries"
	"github.com/auralis/prometheus-core/internal/metrics"
	"github.com/auralis/prometheus-core/internal/models"
)

// Package analytics provides rolling statistics over the trailing metric window.
//
// Responsibilities:
//   - Retain the last 24 hours of metric points
//   - Flag threshold anomalies on every recorded point
//   - Summarize latency, request rate and success rate
//   - Label short-term trends and extrapolate next-hour request volume
//
// Threshold anomalies:
//   - latency above the latency threshold        → high
//   - errorRate above the error rate threshold   → high
//   - requestsPerMinute above the spike threshold → medium
//
// Integration Points:
//   - Telemetry core: forwards anomalies to the notification hub
//   - Config watcher: hot-reloads thresholds

// Thresholds are the static limits checked against every recorded point.
// They are independent of the automation rule thresholds.
type Thresholds struct {
	Latency      float64 `json:"latency"`
	ErrorRate    float64 `json:"errorRate"`
	RequestSpike float64 `json:"requestSpike"`
}

// DefaultThresholds returns latency 200ms, error rate 10% and a spike of
// 100 requests per minute.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Latency:      200,
		ErrorRate:    0.1,
		RequestSpike: 100,
	}
}

// ThresholdUpdate is a partial threshold change; nil fields are kept.
type ThresholdUpdate struct {
	Latency      *float64 `json:"latency,omitempty"`
	ErrorRate    *float64 `json:"errorRate,omitempty"`
	RequestSpike *float64 `json:"requestSpike,omitempty"`
}

// Summary aggregates the retained window.
type Summary struct {
	AverageLatency    float64 `json:"averageLatency"`
	RequestsPerMinute float64 `json:"requestsPerMinute"`
	SuccessRate       float64 `json:"successRate"`
	SampleCount       int     `json:"sampleCount"`
}

// Trends labels the recent movement of the headline features.
type Trends struct {
	Latency           TrendDirection `json:"latency"`
	RequestsPerMinute TrendDirection `json:"requestsPerMinute"`
	ErrorRate         TrendDirection `json:"errorRate"`
}

// Forecast is the next-hour extrapolation over the last 24 points.
type Forecast struct {
	NextHourRequests float64   `json:"nextHourRequests"`
	PotentialIssues  []string  `json:"potentialIssues"`
	GeneratedAt      time.Time `json:"generatedAt"`
}

// AnomalyHandler receives every anomaly detected on a recorded point.
type AnomalyHandler func(models.AnomalyRecord)

const (
	trendWindow    = 10
	forecastWindow = 24

	// IssueLatencyIncreasing is reported when latency is trending up.
	IssueLatencyIncreasing = "latency increasing"
)

// Engine is the analytics engine.
type Engine struct {
	mu         sync.RWMutex
	window     *timeseries.Window
	thresholds Thresholds
	handlers   []AnomalyHandler

	logger *zap.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the clock used for window pruning.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithThresholds replaces the default thresholds.
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) { e.thresholds = t }
}

// WithRetention changes the trailing window length.
func WithRetention(d time.Duration) Option {
	return func(e *Engine) { e.window = timeseries.NewWindow(d) }
}

// NewEngine creates a new analytics engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		window:     timeseries.NewWindow(timeseries.DefaultRetention),
		thresholds: DefaultThresholds(),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnAnomaly registers a handler for detected anomalies.
func (e *Engine) OnAnomaly(h AnomalyHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// RecordMetric appends p to the window, prunes it and returns the threshold
// anomalies found on p. A zero timestamp is stamped with the current time.
func (e *Engine) RecordMetric(p models.MetricPoint) []models.AnomalyRecord {
	now := e.now()
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}

	e.mu.Lock()
	e.window.Append(p, now)
	size := e.window.Len()
	handlers := append([]AnomalyHandler(nil), e.handlers...)
	e.mu.Unlock()

	metrics.MetricPointsTotal.WithLabelValues("analytics").Inc()
	metrics.WindowSize.WithLabelValues("analytics").Set(float64(size))

	anomalies := e.DetectAnomalies(p)
	for _, a := range anomalies {
		metrics.AnomaliesTotal.WithLabelValues(string(a.Source), a.Type, string(a.Severity)).Inc()
		e.logger.Warn("threshold anomaly detected",
			zap.String("type", a.Type),
			zap.Float64("value", a.Value),
			zap.Float64("threshold", a.Threshold),
			zap.String("severity", string(a.Severity)),
		)
		for _, h := range handlers {
			h(a)
		}
	}
	return anomalies
}

// DetectAnomalies compares p against the current thresholds.
func (e *Engine) DetectAnomalies(p models.MetricPoint) []models.AnomalyRecord {
	th := e.Thresholds()
	ts := p.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}

	checks := []struct {
		feature   models.Feature
		threshold float64
		severity  models.Severity
	}{
		{models.FeatureLatency, th.Latency, models.SeverityHigh},
		{models.FeatureErrorRate, th.ErrorRate, models.SeverityHigh},
		{models.FeatureRequestsPerMinute, th.RequestSpike, models.SeverityMedium},
	}

	var anomalies []models.AnomalyRecord
	for _, c := range checks {
		v, ok := p.Value(c.feature)
		if !ok || v <= c.threshold {
			continue
		}
		anomalies = append(anomalies, models.AnomalyRecord{
			Type:      string(c.feature),
			Source:    models.SourceThreshold,
			Value:     v,
			Threshold: c.threshold,
			Severity:  c.severity,
			Timestamp: ts,
		})
	}
	return anomalies
}

// CalculateSummaryMetrics averages the retained window. An empty window
// yields a zero Summary.
func (e *Engine) CalculateSummaryMetrics() Summary {
	e.mu.RLock()
	points := e.window.Points()
	e.mu.RUnlock()

	if len(points) == 0 {
		return Summary{}
	}

	s := Summary{SampleCount: len(points), SuccessRate: 1}
	if v := timeseries.Values(points, models.FeatureLatency); len(v) > 0 {
		s.AverageLatency = stat.Mean(v, nil)
	}
	if v := timeseries.Values(points, models.FeatureRequestsPerMinute); len(v) > 0 {
		s.RequestsPerMinute = stat.Mean(v, nil)
	}
	if v := timeseries.Values(points, models.FeatureErrorRate); len(v) > 0 {
		success := make([]float64, len(v))
		for i, rate := range v {
			success[i] = 1 - rate
		}
		s.SuccessRate = stat.Mean(success, nil)
	}
	return s
}

// CalculateTrends labels latency, request rate and error rate over the
// last ten points.
func (e *Engine) CalculateTrends() Trends {
	e.mu.RLock()
	recent := e.window.Last(trendWindow)
	e.mu.RUnlock()

	return Trends{
		Latency:           CalculateTrend(timeseries.Values(recent, models.FeatureLatency)),
		RequestsPerMinute: CalculateTrend(timeseries.Values(recent, models.FeatureRequestsPerMinute)),
		ErrorRate:         CalculateTrend(timeseries.Values(recent, models.FeatureErrorRate)),
	}
}

// GeneratePredictions extrapolates next-hour request volume from the last
// 24 points. It returns nil until 24 points are retained.
func (e *Engine) GeneratePredictions() *Forecast {
	e.mu.RLock()
	if e.window.Len() < forecastWindow {
		e.mu.RUnlock()
		return nil
	}
	recent := e.window.Last(forecastWindow)
	e.mu.RUnlock()

	f := &Forecast{
		PotentialIssues: []string{},
		GeneratedAt:     e.now(),
	}
	if rpm := timeseries.Values(recent, models.FeatureRequestsPerMinute); len(rpm) > 0 {
		f.NextHourRequests = stat.Mean(rpm, nil) * 60
	}
	if CalculateTrend(timeseries.Values(recent, models.FeatureLatency)) == TrendIncreasing {
		f.PotentialIssues = append(f.PotentialIssues, IssueLatencyIncreasing)
	}
	return f
}

// UpdateThresholds merges u into the thresholds and returns the result.
func (e *Engine) UpdateThresholds(u ThresholdUpdate) Thresholds {
	e.mu.Lock()
	defer e.mu.Unlock()

	if u.Latency != nil {
		e.thresholds.Latency = *u.Latency
	}
	if u.ErrorRate != nil {
		e.thresholds.ErrorRate = *u.ErrorRate
	}
	if u.RequestSpike != nil {
		e.thresholds.RequestSpike = *u.RequestSpike
	}
	e.logger.Info("analytics thresholds updated",
		zap.Float64("latency", e.thresholds.Latency),
		zap.Float64("error_rate", e.thresholds.ErrorRate),
		zap.Float64("request_spike", e.thresholds.RequestSpike),
	)
	return e.thresholds
}

// Thresholds returns the current thresholds.
func (e *Engine) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholds
}

// Points returns a copy of the retained window.
func (e *Engine) Points() []models.MetricPoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.window.Points()
}

// Len returns the number of retained points.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.window.Len()
}

// Reset drops the window. Thresholds are kept.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.window.Reset()
	metrics.WindowSize.WithLabelValues("analytics").Set(0)
}
