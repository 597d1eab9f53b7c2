package stream

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/auralis/prometheus-core/internal/models"
)

// Sampler produces one metric point per tick.
type Sampler interface {
	Sample(ctx context.Context) (models.MetricPoint, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (models.MetricPoint, error)

// Sample calls f.
func (f SamplerFunc) Sample(ctx context.Context) (models.MetricPoint, error) { return f(ctx) }

// QuotaSource reports the current quota usage percentage.
type QuotaSource func() float64

// HostSampler reads cpu and memory from the host and adds synthetic
// request traffic around a baseline.
type HostSampler struct {
	mu    sync.Mutex
	rng   *rand.Rand
	quota QuotaSource
	now   func() time.Time
}

// NewHostSampler creates a sampler. quota may be nil.
func NewHostSampler(quota QuotaSource, seed int64) *HostSampler {
	return &HostSampler{
		rng:   rand.New(rand.NewSource(seed)),
		quota: quota,
		now:   time.Now,
	}
}

// Sample implements Sampler. Host read failures leave the feature unset
// instead of failing the whole sample.
func (s *HostSampler) Sample(ctx context.Context) (models.MetricPoint, error) {
	values := make(map[models.Feature]float64, len(models.KnownFeatures))

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		values[models.FeatureCPU] = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		values[models.FeatureMemory] = vm.UsedPercent
	}
	if err := ctx.Err(); err != nil {
		return models.MetricPoint{}, err
	}

	s.mu.Lock()
	values[models.FeatureLatency] = 80 + s.rng.Float64()*240
	values[models.FeatureErrorRate] = s.rng.Float64() * 0.15
	values[models.FeatureRequestsPerMinute] = 40 + s.rng.Float64()*120
	s.mu.Unlock()

	if s.quota != nil {
		values[models.FeatureQuotaUsage] = s.quota()
	}
	return models.NewMetricPoint(s.now(), values), nil
}
