package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Package models defines the data types shared by the telemetry engines.
//
// A MetricPoint is one timestamped sample. The well-known features are
// typed optional fields; anything else a source reports is preserved in
// Extra so models can still forecast it. Points are values: engines copy
// them and never mutate a point after it has been recorded.

// Feature names a numeric measurement carried by a MetricPoint.
type Feature string

const (
	FeatureLatency           Feature = "latency"
	FeatureErrorRate         Feature = "errorRate"
	FeatureRequestsPerMinute Feature = "requestsPerMinute"
	FeatureCPU               Feature = "cpu"
	FeatureMemory            Feature = "memory"
	FeatureQuotaUsage        Feature = "quotaUsage"
)

// MaxFeatureMagnitude bounds decoded feature values. Anything larger would
// overflow window statistics (sums, variances) to infinity.
const MaxFeatureMagnitude = 1e12

// KnownFeatures lists the typed features in their canonical order.
var KnownFeatures = []Feature{
	FeatureLatency,
	FeatureErrorRate,
	FeatureRequestsPerMinute,
	FeatureCPU,
	FeatureMemory,
	FeatureQuotaUsage,
}

// MetricPoint is a single sample of named numeric measurements.
type MetricPoint struct {
	Timestamp time.Time

	Latency           *float64
	ErrorRate         *float64
	RequestsPerMinute *float64
	CPU               *float64
	Memory            *float64
	QuotaUsage        *float64

	// Extra holds features outside the typed set.
	Extra map[string]float64
}

// Float returns a pointer to v, for building points literally.
func Float(v float64) *float64 {
	return &v
}

// NewMetricPoint builds a point from a feature map.
func NewMetricPoint(ts time.Time, values map[Feature]float64) MetricPoint {
	p := MetricPoint{Timestamp: ts}
	for f, v := range values {
		p.set(f, v)
	}
	return p
}

// Value returns the value of feature f and whether the point carries it.
func (p MetricPoint) Value(f Feature) (float64, bool) {
	if ptr := p.field(f); ptr != nil {
		if *ptr == nil {
			return 0, false
		}
		return **ptr, true
	}
	v, ok := p.Extra[string(f)]
	return v, ok
}

// With returns a copy of p with feature f set to v.
func (p MetricPoint) With(f Feature, v float64) MetricPoint {
	cp := p.clone()
	cp.set(f, v)
	return cp
}

// Features returns every feature present on the point.
func (p MetricPoint) Features() map[Feature]float64 {
	out := make(map[Feature]float64)
	for _, f := range KnownFeatures {
		if v, ok := p.Value(f); ok {
			out[f] = v
		}
	}
	for k, v := range p.Extra {
		out[Feature(k)] = v
	}
	return out
}

func (p MetricPoint) clone() MetricPoint {
	cp := p
	for _, f := range KnownFeatures {
		if v, ok := p.Value(f); ok {
			*cp.field(f) = Float(v)
		}
	}
	if p.Extra != nil {
		cp.Extra = make(map[string]float64, len(p.Extra))
		for k, v := range p.Extra {
			cp.Extra[k] = v
		}
	}
	return cp
}

func (p *MetricPoint) set(f Feature, v float64) {
	if ptr := p.field(f); ptr != nil {
		*ptr = Float(v)
		return
	}
	if p.Extra == nil {
		p.Extra = make(map[string]float64)
	}
	p.Extra[string(f)] = v
}

func (p *MetricPoint) field(f Feature) **float64 {
	switch f {
	case FeatureLatency:
		return &p.Latency
	case FeatureErrorRate:
		return &p.ErrorRate
	case FeatureRequestsPerMinute:
		return &p.RequestsPerMinute
	case FeatureCPU:
		return &p.CPU
	case FeatureMemory:
		return &p.Memory
	case FeatureQuotaUsage:
		return &p.QuotaUsage
	}
	return nil
}

// ─── JSON boundary ───────────────────────────────────────────────────────────

// MarshalJSON renders the point as a flat object of numeric features plus
// an RFC 3339 timestamp.
func (p MetricPoint) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(p.Extra)+len(KnownFeatures)+1)
	if !p.Timestamp.IsZero() {
		out["timestamp"] = p.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	for f, v := range p.Features() {
		out[string(f)] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts a flat object of numeric features. The timestamp
// may be an RFC 3339 string or Unix milliseconds; when absent it stays zero
// and the recording engine stamps the point. A null value is treated as
// absent. Values beyond ±MaxFeatureMagnitude are rejected.
func (p *MetricPoint) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("metric point: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	next := MetricPoint{}
	for _, k := range keys {
		v := raw[k]
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		if k == "timestamp" {
			ts, err := parseTimestamp(v)
			if err != nil {
				return err
			}
			next.Timestamp = ts
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return fmt.Errorf("metric point: feature %q must be numeric", k)
		}
		if math.IsNaN(f) || math.Abs(f) > MaxFeatureMagnitude {
			return fmt.Errorf("metric point: feature %q is out of range (|v| <= %g)", k, MaxFeatureMagnitude)
		}
		next.set(Feature(k), f)
	}
	*p = next
	return nil
}

func parseTimestamp(v json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms), nil
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("metric point: invalid timestamp %q: %w", s, err)
		}
		return ts, nil
	}
	var ms float64
	if err := json.Unmarshal(v, &ms); err != nil {
		return time.Time{}, fmt.Errorf("metric point: timestamp must be a string or number")
	}
	return time.UnixMilli(int64(ms)), nil
}
