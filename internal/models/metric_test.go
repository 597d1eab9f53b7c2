package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricPointValue(t *testing.T) {
	p := NewMetricPoint(time.Unix(100, 0), map[Feature]float64{
		FeatureLatency: 120,
		"queueDepth":   7,
	})

	v, ok := p.Value(FeatureLatency)
	assert.True(t, ok)
	assert.Equal(t, 120.0, v)
	require.NotNil(t, p.Latency)

	v, ok = p.Value("queueDepth")
	assert.True(t, ok)
	assert.Equal(t, 7.0, v)

	_, ok = p.Value(FeatureCPU)
	assert.False(t, ok)
}

func TestMetricPointWithDoesNotMutate(t *testing.T) {
	orig := NewMetricPoint(time.Now(), map[Feature]float64{FeatureCPU: 40, "custom": 1})
	next := orig.With(FeatureCPU, 95).With("custom", 2)

	cpu, _ := orig.Value(FeatureCPU)
	custom, _ := orig.Value("custom")
	assert.Equal(t, 40.0, cpu)
	assert.Equal(t, 1.0, custom)

	cpu, _ = next.Value(FeatureCPU)
	custom, _ = next.Value("custom")
	assert.Equal(t, 95.0, cpu)
	assert.Equal(t, 2.0, custom)
}

func TestMetricPointUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantTS  time.Time
		wantErr bool
	}{
		{
			name:   "millisecond timestamp",
			body:   `{"timestamp": 1700000000000, "latency": 250, "errorRate": 0.02, "queueDepth": 3}`,
			wantTS: time.UnixMilli(1700000000000),
		},
		{
			name:   "rfc3339 timestamp",
			body:   `{"timestamp": "2024-01-02T03:04:05Z", "latency": 250}`,
			wantTS: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		{
			name: "implicit timestamp",
			body: `{"latency": 250}`,
		},
		{
			name:    "non numeric feature",
			body:    `{"latency": "fast"}`,
			wantErr: true,
		},
		{
			name:    "overflowing feature",
			body:    `{"latency": 1e308}`,
			wantErr: true,
		},
		{
			name:    "overflowing extra feature",
			body:    `{"latency": 250, "queueDepth": -1e13}`,
			wantErr: true,
		},
		{
			name: "largest accepted magnitude",
			body: `{"latency": 250, "queueDepth": 1e12}`,
		},
		{
			name: "null timestamp is absent",
			body: `{"timestamp": null, "latency": 250}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p MetricPoint
			err := json.Unmarshal([]byte(tt.body), &p)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantTS.Equal(p.Timestamp), "timestamp %v", p.Timestamp)
			v, ok := p.Value(FeatureLatency)
			assert.True(t, ok)
			assert.Equal(t, 250.0, v)
		})
	}
}

func TestMetricPointUnmarshalNullIsAbsent(t *testing.T) {
	var p MetricPoint
	require.NoError(t, json.Unmarshal([]byte(`{"latency": null, "cpu": 40, "queueDepth": null}`), &p))

	_, ok := p.Value(FeatureLatency)
	assert.False(t, ok)
	_, ok = p.Value("queueDepth")
	assert.False(t, ok)
	assert.Equal(t, map[Feature]float64{FeatureCPU: 40}, p.Features())
}

func TestMetricPointMarshalKeepsExtraFeatures(t *testing.T) {
	p := NewMetricPoint(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), map[Feature]float64{
		FeatureRequestsPerMinute: 42,
		"queueDepth":             3,
	})

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var flat map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, 42.0, flat["requestsPerMinute"])
	assert.Equal(t, 3.0, flat["queueDepth"])
	assert.Equal(t, "2024-01-01T00:00:00Z", flat["timestamp"])
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityCritical.Rank(), SeverityWarning.Rank())
	assert.Less(t, SeverityWarning.Rank(), SeverityInfo.Rank())
	assert.False(t, SeverityHigh.Valid())
	assert.True(t, SeverityInfo.Valid())
}
