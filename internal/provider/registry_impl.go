package provider

// Package provider: concrete in-memory Registry.
//
// Design:
//   - Quota checks and counter updates happen under the registry lock
//   - Tasks run outside the lock, one provider at a time
//   - A provider's counters roll over once its last reset is a day old

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/auralis/prometheus-core/internal/metrics"
	"github.com/auralis/prometheus-core/internal/models"
)

const (
	quotaPeriod = 24 * time.Hour

	initialHealth  = 90.0
	maxHealth      = 100.0
	successBonus   = 1.0
	failurePenalty = 10.0
	optimizeBonus  = 5.0
)

// ─── Implementation ───────────────────────────────────────────────────────────

type providerState struct {
	limit   int
	quota   Quota
	enabled bool
	health  float64
}

type registryImpl struct {
	mu        sync.RWMutex
	limits    []Limit
	order     []string
	providers map[string]*providerState

	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*registryImpl)

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *registryImpl) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the clock used for quota rollover.
func WithClock(now func() time.Time) Option {
	return func(r *registryImpl) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLimits replaces the seeded providers. Order is the fallback order.
func WithLimits(limits []Limit) Option {
	return func(r *registryImpl) {
		if len(limits) > 0 {
			r.limits = append([]Limit(nil), limits...)
		}
	}
}

// NewRegistry creates a registry seeded with DefaultLimits.
func NewRegistry(opts ...Option) Registry {
	r := &registryImpl{
		limits: DefaultLimits(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.resetLocked()
	return r
}

func (r *registryImpl) resetLocked() {
	now := r.now()
	r.order = make([]string, 0, len(r.limits))
	r.providers = make(map[string]*providerState, len(r.limits))
	for _, l := range r.limits {
		r.order = append(r.order, l.Name)
		r.providers[l.Name] = &providerState{
			limit:   l.DailyLimit,
			quota:   Quota{Provider: l.Name, LastReset: now},
			enabled: true,
			health:  initialHealth,
		}
		metrics.ProviderQuotaUsage.WithLabelValues(l.Name).Set(0)
	}
}

func (r *registryImpl) get(name string) (*providerState, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, &models.NotFoundError{Kind: "provider", ID: name}
	}
	return p, nil
}

// rollover zeroes counters once a day has passed (caller must hold lock).
func (r *registryImpl) rollover(p *providerState, now time.Time) {
	if now.Sub(p.quota.LastReset) >= quotaPeriod {
		p.quota.Requests = 0
		p.quota.Errors = 0
		p.quota.LastReset = now
	}
}

// ─── Fallback execution ───────────────────────────────────────────────────────

// ExecuteWithFallback tries providers strictly in order and returns the
// first success.
func (r *registryImpl) ExecuteWithFallback(ctx context.Context, task Task, providers ...string) (*Result, error) {
	if len(providers) == 0 {
		providers = r.DefaultOrder()
	}

	var (
		attempts []Attempt
		lastErr  error
	)
	for _, name := range providers {
		if err := ctx.Err(); err != nil {
			lastErr = err
			attempts = append(attempts, Attempt{Provider: name, Outcome: OutcomeCancelled, Error: err.Error()})
			metrics.ProviderAttemptsTotal.WithLabelValues(name, OutcomeCancelled).Inc()
			r.logger.Warn("fallback interrupted", zap.String("provider", name), zap.Error(err))
			break
		}

		if outcome, ok := r.admit(name); !ok {
			attempts = append(attempts, Attempt{Provider: name, Outcome: outcome})
			metrics.ProviderAttemptsTotal.WithLabelValues(name, outcome).Inc()
			r.logger.Warn("skipping provider",
				zap.String("provider", name),
				zap.String("reason", outcome),
			)
			continue
		}

		value, err := task(ctx, name)
		if err != nil {
			_ = r.record(name, true)
			lastErr = err
			attempts = append(attempts, Attempt{Provider: name, Outcome: OutcomeError, Error: err.Error()})
			metrics.ProviderAttemptsTotal.WithLabelValues(name, OutcomeError).Inc()
			r.logger.Warn("provider execution failed, falling back",
				zap.String("provider", name),
				zap.Error(err),
			)
			continue
		}

		_ = r.record(name, false)
		attempts = append(attempts, Attempt{Provider: name, Outcome: OutcomeSuccess})
		metrics.ProviderAttemptsTotal.WithLabelValues(name, OutcomeSuccess).Inc()
		return &Result{Provider: name, Value: value, Attempts: attempts}, nil
	}

	metrics.ProviderExhaustionsTotal.Inc()
	r.logger.Error("all providers failed", zap.Strings("providers", providers))
	return nil, &ExhaustionError{Attempts: attempts, Last: lastErr}
}

// admit reports whether name may run a task now, and the skip outcome when
// it may not. Skipped providers are never mutated beyond rollover.
func (r *registryImpl) admit(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[name]
	if !ok {
		return OutcomeUnknown, false
	}
	if !p.enabled {
		return OutcomeSkippedDisabled, false
	}
	r.rollover(p, r.now())
	if p.quota.Requests >= p.limit {
		return OutcomeSkippedQuota, false
	}
	return "", true
}

// record counts one attempt and adjusts health.
func (r *registryImpl) record(name string, failed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.get(name)
	if err != nil {
		return err
	}
	r.rollover(p, r.now())
	p.quota.Requests++
	if failed {
		p.quota.Errors++
		p.health = math.Max(0, p.health-failurePenalty)
	} else {
		p.health = math.Min(maxHealth, p.health+successBonus)
	}
	metrics.ProviderQuotaUsage.WithLabelValues(name).Set(usage(p))
	return nil
}

// ─── Bookkeeping ──────────────────────────────────────────────────────────────

// UpdateQuota counts one request against name.
func (r *registryImpl) UpdateQuota(name string, failed bool) error {
	return r.record(name, failed)
}

// GetProviderLimit returns the daily limit of name.
func (r *registryImpl) GetProviderLimit(name string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, err := r.get(name)
	if err != nil {
		return 0, err
	}
	return p.limit, nil
}

// ResetQuotas zeroes every provider's counters.
func (r *registryImpl) ResetQuotas() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for name, p := range r.providers {
		p.quota = Quota{Provider: name, LastReset: now}
		metrics.ProviderQuotaUsage.WithLabelValues(name).Set(0)
	}
	r.logger.Info("provider quotas reset")
}

// ResetProviderQuota zeroes the counters of name.
func (r *registryImpl) ResetProviderQuota(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.get(name)
	if err != nil {
		return err
	}
	p.quota = Quota{Provider: name, LastReset: r.now()}
	metrics.ProviderQuotaUsage.WithLabelValues(name).Set(0)
	r.logger.Info("provider quota reset", zap.String("provider", name))
	return nil
}

// GetProviderStats returns every provider's stats in default order.
func (r *registryImpl) GetProviderStats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Stats, 0, len(r.order))
	for _, name := range r.order {
		p := r.providers[name]
		remaining := p.limit - p.quota.Requests
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, Stats{
			Quota:       p.quota,
			Limit:       p.limit,
			Remaining:   remaining,
			UsageRatio:  usage(p),
			Enabled:     p.enabled,
			HealthScore: p.health,
		})
	}
	return out
}

// ToggleProvider flips name between enabled and disabled.
func (r *registryImpl) ToggleProvider(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.get(name)
	if err != nil {
		return false, err
	}
	p.enabled = !p.enabled
	r.logger.Info("provider toggled", zap.String("provider", name), zap.Bool("enabled", p.enabled))
	return p.enabled, nil
}

// Health returns every provider's health in default order.
func (r *registryImpl) Health() []Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.healthLocked()
}

func (r *registryImpl) healthLocked() []Health {
	out := make([]Health, 0, len(r.order))
	for _, name := range r.order {
		p := r.providers[name]
		out = append(out, Health{
			Name:        name,
			Enabled:     p.enabled,
			HealthScore: p.health,
			Status:      status(p),
			Requests:    p.quota.Requests,
			Errors:      p.quota.Errors,
			Limit:       p.limit,
		})
	}
	return out
}

// Optimize raises every provider's health score, capped at 100.
func (r *registryImpl) Optimize() []Health {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.providers {
		p.health = math.Min(maxHealth, p.health+optimizeBonus)
	}
	r.logger.Info("provider health optimized")
	return r.healthLocked()
}

// DefaultOrder returns a copy of the default fallback order.
func (r *registryImpl) DefaultOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// RotateDefault moves the first provider to the end of the default order.
func (r *registryImpl) RotateDefault() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) > 1 {
		r.order = append(r.order[1:], r.order[0])
	}
	r.logger.Info("default provider order rotated", zap.Strings("order", r.order))
	return append([]string(nil), r.order...)
}

// MaxUsageRatio returns the highest requests/limit ratio.
func (r *registryImpl) MaxUsageRatio() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	max := 0.0
	for _, p := range r.providers {
		max = math.Max(max, usage(p))
	}
	return max
}

// Reset restores the seeded state.
func (r *registryImpl) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func usage(p *providerState) float64 {
	if p.limit <= 0 {
		return 1
	}
	return float64(p.quota.Requests) / float64(p.limit)
}

func status(p *providerState) string {
	switch {
	case !p.enabled:
		return StatusDisabled
	case p.quota.Requests >= p.limit:
		return StatusExhausted
	case p.health >= 80:
		return StatusHealthy
	case p.health >= 50:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}
