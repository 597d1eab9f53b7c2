package analytics

import "gonum.org/v1/gonum/stat"

// TrendDirection labels the recent movement of a series.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// TrendChangeThreshold is the relative change beyond which a series is no
// longer considered stable.
const TrendChangeThreshold = 0.1

// ClassifyChange labels a relative change: above +10% is increasing,
// below −10% is decreasing, anything else is stable.
func ClassifyChange(relative float64) TrendDirection {
	switch {
	case relative > TrendChangeThreshold:
		return TrendIncreasing
	case relative < -TrendChangeThreshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// CalculateTrend compares the most recent value against the series mean.
// Fewer than two values are always stable.
func CalculateTrend(values []float64) TrendDirection {
	if len(values) < 2 {
		return TrendStable
	}

	avg := stat.Mean(values, nil)
	recent := values[len(values)-1]
	if avg == 0 {
		// relative change is undefined; fall back to the sign of the latest value
		switch {
		case recent > 0:
			return TrendIncreasing
		case recent < 0:
			return TrendDecreasing
		}
		return TrendStable
	}
	return ClassifyChange((recent - avg) / avg)
}
