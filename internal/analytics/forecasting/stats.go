package forecasting

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/auralis/prometheus-core/internal/analytics"
	"github.com/auralis/prometheus-core/internal/models"
)

const (
	// DefaultAlpha is the exponential smoothing factor.
	DefaultAlpha = 0.3

	// zScore95 is the normal quantile for a two-sided 95% interval.
	zScore95 = 1.96
)

// ExponentialSmoothing folds values into a single forecast, weighting each
// new value by alpha. The result is seeded with the first value, so it
// always lies within [min(values), max(values)] for alpha in [0, 1].
func ExponentialSmoothing(values []float64, alpha float64) float64 {
	if len(values) == 0 {
		return 0
	}
	result := values[0]
	for _, v := range values[1:] {
		result = alpha*v + (1-alpha)*result
	}
	return result
}

// CalculateConfidenceInterval returns mean ± 1.96·(σ/√n).
func CalculateConfidenceInterval(values []float64) ConfidenceInterval {
	switch len(values) {
	case 0:
		return ConfidenceInterval{}
	case 1:
		return ConfidenceInterval{Mean: values[0]}
	}

	mean, std := stat.MeanStdDev(values, nil)
	margin := zScore95 * std / math.Sqrt(float64(len(values)))
	lower := mean - margin
	upper := mean + margin
	return ConfidenceInterval{Lower: &lower, Mean: mean, Upper: &upper}
}

// NormalizedSlope fits a least-squares line over index 0..n-1 and divides
// the slope by the series mean.
func NormalizedSlope(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	xs := make([]float64, len(values))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, values, nil, false)

	mean := stat.Mean(values, nil)
	if mean == 0 {
		switch {
		case slope > 0:
			return math.Inf(1)
		case slope < 0:
			return math.Inf(-1)
		}
		return 0
	}
	return slope / mean
}

// SlopeTrend labels a series by its normalized regression slope.
func SlopeTrend(values []float64) analytics.TrendDirection {
	return analytics.ClassifyChange(NormalizedSlope(values))
}

// DeviationSeverity maps a deviation ratio to a severity: above 3 is
// critical, above 2 is warning, anything else is info.
func DeviationSeverity(ratio float64) models.Severity {
	switch {
	case ratio > 3:
		return models.SeverityCritical
	case ratio > 2:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}
