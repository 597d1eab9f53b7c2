package forecasting

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/auralis/prometheus-core/internal/analytics"
	"github.com/auralis/prometheus-core/internal/analytics/timeseries"
	"github.com/auralis/prometheus-core/internal/metrics"
	"github.com/auralis/prometheus-core/internal/models"
)

const (
	// MinHistory is the number of points a model needs before predicting.
	MinHistory = 10

	seriesWindow = 10
)

// predictionEngineImpl is the in-memory PredictionEngine implementation.
type predictionEngineImpl struct {
	mu sync.RWMutex

	window      *timeseries.Window
	models      []Model
	predictions map[string]Prediction
	thresholds  map[models.Feature]float64
	alpha       float64

	logger *zap.Logger
	now    func() time.Time
}

// Option configures a PredictionEngine.
type Option func(*predictionEngineImpl)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *predictionEngineImpl) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the clock used for window pruning.
func WithClock(now func() time.Time) Option {
	return func(e *predictionEngineImpl) {
		if now != nil {
			e.now = now
		}
	}
}

// WithAlpha sets the exponential smoothing factor.
func WithAlpha(alpha float64) Option {
	return func(e *predictionEngineImpl) {
		if alpha > 0 && alpha <= 1 {
			e.alpha = alpha
		}
	}
}

// WithModels replaces the seeded models.
func WithModels(m []Model) Option {
	return func(e *predictionEngineImpl) {
		e.models = append([]Model(nil), m...)
	}
}

// NewPredictionEngine creates a prediction engine seeded with DefaultModels.
func NewPredictionEngine(opts ...Option) PredictionEngine {
	e := &predictionEngineImpl{
		window:      timeseries.NewWindow(timeseries.DefaultRetention),
		models:      DefaultModels(),
		predictions: make(map[string]Prediction),
		thresholds:  defaultAnomalyThresholds(),
		alpha:       DefaultAlpha,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func defaultAnomalyThresholds() map[models.Feature]float64 {
	out := make(map[models.Feature]float64, len(models.KnownFeatures))
	for _, f := range models.KnownFeatures {
		out[f] = 0
	}
	return out
}

// AddDataPoint records p, recomputes every model and checks p against the
// fresh predictions.
func (e *predictionEngineImpl) AddDataPoint(p models.MetricPoint) []models.AnomalyRecord {
	now := e.now()
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}

	e.mu.Lock()
	e.window.Append(p, now)
	for _, m := range e.models {
		pred := e.generateLocked(m, now)
		if pred == nil {
			continue
		}
		e.predictions[m.Name] = *pred
		metrics.PredictionsTotal.WithLabelValues(m.Name).Inc()
	}
	size := e.window.Len()
	e.mu.Unlock()

	metrics.MetricPointsTotal.WithLabelValues("prediction").Inc()
	metrics.WindowSize.WithLabelValues("prediction").Set(float64(size))

	return e.DetectAnomalies(p)
}

// GeneratePrediction computes the named model's prediction without storing it.
func (e *predictionEngineImpl) GeneratePrediction(model string) (*Prediction, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, m := range e.models {
		if m.Name == model {
			return e.generateLocked(m, e.now()), nil
		}
	}
	return nil, &models.NotFoundError{Kind: "model", ID: model}
}

// generateLocked builds a prediction from the last ten points (caller must
// hold the lock).
func (e *predictionEngineImpl) generateLocked(m Model, now time.Time) *Prediction {
	if e.window.Len() < MinHistory {
		return nil
	}
	recent := e.window.Last(seriesWindow)

	pred := &Prediction{
		Model:       m.Name,
		Timestamp:   now,
		HorizonMs:   m.HorizonMillis(),
		Predictions: make(map[models.Feature]float64, len(m.Features)),
		Trends:      make(map[models.Feature]analytics.TrendDirection, len(m.Features)),
		Intervals:   make(map[models.Feature]ConfidenceInterval, len(m.Features)),
		Confidence:  m.TargetConfidence,
	}
	for _, f := range m.Features {
		values := timeseries.Values(recent, f)
		if len(values) == 0 {
			// unobserved: zero forecast with an unbounded interval
			pred.Predictions[f] = 0
			pred.Trends[f] = analytics.TrendStable
			pred.Intervals[f] = ConfidenceInterval{}
			continue
		}
		pred.Predictions[f] = ExponentialSmoothing(values, e.alpha)
		pred.Trends[f] = SlopeTrend(values)
		pred.Intervals[f] = CalculateConfidenceInterval(values)
	}
	return pred
}

// DetectAnomalies flags values outside a live prediction's interval.
func (e *predictionEngineImpl) DetectAnomalies(current models.MetricPoint) []models.AnomalyRecord {
	e.mu.RLock()
	names := make([]string, 0, len(e.predictions))
	for name := range e.predictions {
		names = append(names, name)
	}
	sort.Strings(names)

	ts := current.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}

	var anomalies []models.AnomalyRecord
	for _, name := range names {
		pred := e.predictions[name]
		features := make([]models.Feature, 0, len(pred.Intervals))
		for f := range pred.Intervals {
			features = append(features, f)
		}
		sort.Slice(features, func(i, j int) bool { return features[i] < features[j] })

		for _, f := range features {
			ci := pred.Intervals[f]
			actual, ok := current.Value(f)
			if !ok || !ci.Bounded() {
				continue
			}
			lower, upper := *ci.Lower, *ci.Upper
			if actual >= lower && actual <= upper {
				continue
			}

			expected := pred.Predictions[f]
			ratio := math.Inf(1)
			if width := upper - lower; width > 0 {
				ratio = math.Abs(actual-expected) / width
			}
			if ratio < e.thresholds[f] {
				continue
			}
			anomalies = append(anomalies, models.AnomalyRecord{
				Type:      string(f),
				Source:    models.SourceForecast,
				Model:     name,
				Value:     actual,
				Expected:  expected,
				Lower:     lower,
				Upper:     upper,
				Deviation: finite(ratio),
				Severity:  DeviationSeverity(ratio),
				Timestamp: ts,
			})
		}
	}
	e.mu.RUnlock()

	for _, a := range anomalies {
		metrics.AnomaliesTotal.WithLabelValues(string(a.Source), a.Type, string(a.Severity)).Inc()
		e.logger.Warn("forecast deviation detected",
			zap.String("model", a.Model),
			zap.String("feature", a.Type),
			zap.Float64("value", a.Value),
			zap.Float64("expected", a.Expected),
			zap.String("severity", string(a.Severity)),
		)
	}
	return anomalies
}

// finite clamps an infinite ratio so it can be encoded as JSON.
func finite(v float64) float64 {
	if math.IsInf(v, 1) {
		return math.MaxFloat64
	}
	return v
}

// GetPredictions returns a copy of the latest prediction per model.
func (e *predictionEngineImpl) GetPredictions() map[string]Prediction {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]Prediction, len(e.predictions))
	for k, v := range e.predictions {
		out[k] = v
	}
	return out
}

// Models returns the registered models.
func (e *predictionEngineImpl) Models() []Model {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Model(nil), e.models...)
}

// UpdateAnomalyThresholds merges per-feature minimum deviation ratios.
func (e *predictionEngineImpl) UpdateAnomalyThresholds(thresholds map[models.Feature]float64) map[models.Feature]float64 {
	e.mu.Lock()
	for f, v := range thresholds {
		e.thresholds[f] = v
	}
	e.mu.Unlock()

	e.logger.Info("prediction anomaly thresholds updated", zap.Int("features", len(thresholds)))
	return e.AnomalyThresholds()
}

// AnomalyThresholds returns a copy of the per-feature thresholds.
func (e *predictionEngineImpl) AnomalyThresholds() map[models.Feature]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[models.Feature]float64, len(e.thresholds))
	for k, v := range e.thresholds {
		out[k] = v
	}
	return out
}

// Len returns the number of retained points.
func (e *predictionEngineImpl) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.window.Len()
}

// Reset drops the window and every prediction. Thresholds are kept.
func (e *predictionEngineImpl) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.window.Reset()
	e.predictions = make(map[string]Prediction)
	metrics.WindowSize.WithLabelValues("prediction").Set(0)
}
