package timeseries

import (
	"time"

	"github.com/auralis/prometheus-core/internal/models"
)

// Package timeseries holds the trailing metric window shared by the
// analytics and forecasting engines.
//
// A Window keeps points in insertion order and drops every point older
// than now − retention each time a point is appended. It is not safe for
// concurrent use; the owning engine serializes access.

// DefaultRetention is the trailing window kept by the engines.
const DefaultRetention = 24 * time.Hour

// Window is a time-pruned, append-only sequence of metric points.
type Window struct {
	retention time.Duration
	points    []models.MetricPoint
}

// NewWindow creates a window that retains points newer than now − retention.
func NewWindow(retention time.Duration) *Window {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Window{retention: retention}
}

// Append adds p and prunes the window relative to now.
func (w *Window) Append(p models.MetricPoint, now time.Time) {
	w.points = append(w.points, p)
	w.Prune(now)
}

// Prune drops every point with a timestamp before now − retention.
func (w *Window) Prune(now time.Time) {
	cutoff := now.Add(-w.retention)
	kept := w.points[:0]
	for _, p := range w.points {
		if !p.Timestamp.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	// zero the tail so dropped points can be collected
	for i := len(kept); i < len(w.points); i++ {
		w.points[i] = models.MetricPoint{}
	}
	w.points = kept
}

// Len returns the number of retained points.
func (w *Window) Len() int {
	return len(w.points)
}

// Points returns a copy of every retained point, oldest first.
func (w *Window) Points() []models.MetricPoint {
	out := make([]models.MetricPoint, len(w.points))
	copy(out, w.points)
	return out
}

// Last returns up to n of the most recent points, oldest first.
func (w *Window) Last(n int) []models.MetricPoint {
	if n <= 0 {
		return nil
	}
	if n > len(w.points) {
		n = len(w.points)
	}
	out := make([]models.MetricPoint, n)
	copy(out, w.points[len(w.points)-n:])
	return out
}

// Reset drops every point.
func (w *Window) Reset() {
	w.points = nil
}

// Values extracts feature f from points, skipping points that lack it.
func Values(points []models.MetricPoint, f models.Feature) []float64 {
	out := make([]float64, 0, len(points))
	for _, p := range points {
		if v, ok := p.Value(f); ok {
			out = append(out, v)
		}
	}
	return out
}
