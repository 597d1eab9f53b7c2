package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/auralis/prometheus-core/internal/models"
)

func point(ts time.Time, latency float64) models.MetricPoint {
	return models.NewMetricPoint(ts, map[models.Feature]float64{models.FeatureLatency: latency})
}

func TestWindowPrunesOldPoints(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	w := NewWindow(24 * time.Hour)

	w.Append(point(base, 1), base)
	w.Append(point(base.Add(12*time.Hour), 2), base.Add(12*time.Hour))
	assert.Equal(t, 2, w.Len())

	now := base.Add(25 * time.Hour)
	w.Append(point(now, 3), now)

	assert.Equal(t, 2, w.Len())
	cutoff := now.Add(-24 * time.Hour)
	for _, p := range w.Points() {
		assert.False(t, p.Timestamp.Before(cutoff), "point %v older than cutoff", p.Timestamp)
	}
}

func TestWindowNeverHoldsStalePoints(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	w := NewWindow(24 * time.Hour)

	// irregular spacing, including a late-arriving stale point
	offsets := []time.Duration{0, 3 * time.Hour, 20 * time.Hour, 26 * time.Hour, 49 * time.Hour, 50 * time.Hour}
	for _, off := range offsets {
		now := base.Add(off)
		w.Append(point(now, off.Hours()), now)
		w.Append(point(base, -1), now)

		cutoff := now.Add(-24 * time.Hour)
		for _, p := range w.Points() {
			assert.False(t, p.Timestamp.Before(cutoff))
		}
	}
}

func TestWindowLast(t *testing.T) {
	now := time.Now()
	w := NewWindow(0)
	for i := 0; i < 5; i++ {
		w.Append(point(now, float64(i)), now)
	}

	last := Values(w.Last(3), models.FeatureLatency)
	assert.Equal(t, []float64{2, 3, 4}, last)
	assert.Len(t, w.Last(10), 5)
	assert.Nil(t, w.Last(0))

	w.Reset()
	assert.Equal(t, 0, w.Len())
}
