package forecasting

import (
	"time"

	"github.com/auralis/prometheus-core/internal/analytics"
	"github.com/auralis/prometheus-core/internal/models"
)

// Package forecasting provides short-horizon forecasts over the trailing
// metric window.
//
// Responsibilities:
//   - Keep a registry of named models (feature set, horizon, target confidence)
//   - Recompute every model's prediction whenever a point arrives
//   - Flag values that fall outside a model's confidence interval
//
// Per feature, over the last ten points:
//
//   1. Trend
//      - Least-squares slope over index 0..9, divided by the series mean
//      - Same ±10% labels as the analytics engine
//
//   2. Forecast
//      - Simple exponential smoothing, α = 0.3, seeded with the first value
//
//   3. Confidence interval
//      - mean ± 1.96·(σ/√n), σ being the sample standard deviation
//      - Lower/upper are absent below two values
//
// Deviation severity uses |actual − expected| / (upper − lower):
// above 3 is critical, above 2 is warning, anything else is info.
//
// Integration Points:
//   - Telemetry core: AddDataPoint on every ingested point
//   - REST API: predictions endpoint and anomaly threshold updates

// Model describes one forecasting model. Models are fixed after creation.
type Model struct {
	Name             string           `json:"name"`
	Features         []models.Feature `json:"features"`
	Horizon          time.Duration    `json:"-"`
	TargetConfidence float64          `json:"targetConfidence"`
}

// HorizonMillis reports the horizon in milliseconds.
func (m Model) HorizonMillis() int64 {
	return m.Horizon.Milliseconds()
}

// Seeded model names.
const (
	ModelPerformance = "performance"
	ModelErrors      = "errors"
	ModelUsage       = "usage"
)

// DefaultModels returns the performance, errors and usage models.
func DefaultModels() []Model {
	return []Model{
		{
			Name:             ModelPerformance,
			Features:         []models.Feature{models.FeatureLatency, models.FeatureCPU, models.FeatureMemory},
			Horizon:          time.Hour,
			TargetConfidence: 0.95,
		},
		{
			Name:             ModelErrors,
			Features:         []models.Feature{models.FeatureErrorRate, models.FeatureRequestsPerMinute},
			Horizon:          30 * time.Minute,
			TargetConfidence: 0.90,
		},
		{
			Name:             ModelUsage,
			Features:         []models.Feature{models.FeatureRequestsPerMinute, models.FeatureQuotaUsage},
			Horizon:          24 * time.Hour,
			TargetConfidence: 0.85,
		},
	}
}

// ConfidenceInterval is a band around the series mean. Lower and Upper are
// nil when the series is too short to estimate spread.
type ConfidenceInterval struct {
	Lower *float64 `json:"lower"`
	Mean  float64  `json:"mean"`
	Upper *float64 `json:"upper"`
}

// Bounded reports whether both bounds are known.
func (ci ConfidenceInterval) Bounded() bool {
	return ci.Lower != nil && ci.Upper != nil
}

// Prediction is the latest output of one model. It is replaced, not
// appended, on every recomputation. Every model feature is present; a
// feature absent from the last ten points forecasts 0, trends stable and
// has an interval without bounds, so it never flags a deviation.
type Prediction struct {
	Model       string                                     `json:"model"`
	Timestamp   time.Time                                  `json:"timestamp"`
	HorizonMs   int64                                      `json:"horizonMs"`
	Predictions map[models.Feature]float64                 `json:"predictions"`
	Trends      map[models.Feature]analytics.TrendDirection `json:"trends"`
	Intervals   map[models.Feature]ConfidenceInterval      `json:"intervals"`
	Confidence  float64                                    `json:"confidence"`
}

// PredictionEngine defines the forecasting operations.
type PredictionEngine interface {
	// AddDataPoint records p, prunes the window to 24h, recomputes every
	// model and returns the deviation anomalies found on p.
	AddDataPoint(p models.MetricPoint) []models.AnomalyRecord

	// GeneratePrediction computes the named model's prediction from the
	// current window. It returns nil with fewer than ten points.
	GeneratePrediction(model string) (*Prediction, error)

	// DetectAnomalies flags values in current that fall outside a live
	// prediction's confidence interval.
	DetectAnomalies(current models.MetricPoint) []models.AnomalyRecord

	// GetPredictions returns the latest prediction per model.
	GetPredictions() map[string]Prediction

	// Models returns the registered models.
	Models() []Model

	// UpdateAnomalyThresholds merges per-feature minimum deviation ratios
	// and returns the result.
	UpdateAnomalyThresholds(thresholds map[models.Feature]float64) map[models.Feature]float64

	// AnomalyThresholds returns the per-feature minimum deviation ratios.
	AnomalyThresholds() map[models.Feature]float64

	// Len returns the number of retained points.
	Len() int

	// Reset drops the window and every prediction.
	Reset()
}
