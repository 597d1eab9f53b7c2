package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Package provider runs AI tasks against an ordered list of rate-limited
// external providers.
//
// Responsibilities:
//   - Track per-provider request and error counters against a daily limit
//   - Try providers strictly in order, one at a time
//   - Skip providers that are disabled or at their limit, without touching
//     their counters
//   - Count a failed attempt as both a request and an error, then fall through
//   - Keep a synthetic health score per provider for the operator dashboard
//
// ExhaustionError is the only error ExecuteWithFallback produces; it is
// returned when every provider was skipped or failed, or when the context
// ends mid-run (the remaining provider is recorded as cancelled and the
// error unwraps to ctx.Err()).

// ─── Public types ─────────────────────────────────────────────────────────────

// Task runs one unit of work against the named provider.
type Task func(ctx context.Context, provider string) (interface{}, error)

// Limit is a provider's static daily request limit.
type Limit struct {
	Name       string `json:"name" mapstructure:"name"`
	DailyLimit int    `json:"dailyLimit" mapstructure:"daily_limit"`
}

// Default provider names, in fallback order.
const (
	HuggingFace = "HuggingFace"
	OpenAI      = "OpenAI"
	Anthropic   = "Anthropic"
)

// DefaultLimits returns the seeded providers in fallback order.
func DefaultLimits() []Limit {
	return []Limit{
		{Name: HuggingFace, DailyLimit: 10000},
		{Name: OpenAI, DailyLimit: 200},
		{Name: Anthropic, DailyLimit: 1000},
	}
}

// Quota is the request bookkeeping for one provider.
type Quota struct {
	Provider  string    `json:"provider"`
	Requests  int       `json:"requests"`
	Errors    int       `json:"errors"`
	LastReset time.Time `json:"lastReset"`
}

// Stats combines a provider's quota with its limit and health.
type Stats struct {
	Quota
	Limit       int     `json:"limit"`
	Remaining   int     `json:"remaining"`
	UsageRatio  float64 `json:"usageRatio"`
	Enabled     bool    `json:"enabled"`
	HealthScore float64 `json:"healthScore"`
}

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusExhausted = "exhausted"
	StatusDisabled  = "disabled"
)

// Health is the operator-facing view of one provider.
type Health struct {
	Name        string  `json:"name"`
	Enabled     bool    `json:"enabled"`
	HealthScore float64 `json:"healthScore"`
	Status      string  `json:"status"`
	Requests    int     `json:"requests"`
	Errors      int     `json:"errors"`
	Limit       int     `json:"limit"`
}

// Attempt outcomes.
const (
	OutcomeSuccess         = "success"
	OutcomeError           = "error"
	OutcomeSkippedQuota    = "skipped_quota"
	OutcomeSkippedDisabled = "skipped_disabled"
	OutcomeUnknown         = "unknown_provider"
	OutcomeCancelled       = "cancelled"
)

// Attempt records what happened to one provider during a fallback run.
type Attempt struct {
	Provider string `json:"provider"`
	Outcome  string `json:"outcome"`
	Error    string `json:"error,omitempty"`
}

// Result is the outcome of a successful fallback run.
type Result struct {
	Provider string      `json:"provider"`
	Value    interface{} `json:"value"`
	Attempts []Attempt   `json:"attempts"`
}

// ErrAllProvidersFailed matches every ExhaustionError.
var ErrAllProvidersFailed = errors.New("all providers failed")

// ExhaustionError is returned when no provider could run the task.
type ExhaustionError struct {
	Attempts []Attempt
	Last     error
}

func (e *ExhaustionError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Provider+"="+a.Outcome)
	}
	return fmt.Sprintf("%s: [%s]", ErrAllProvidersFailed, strings.Join(parts, ", "))
}

// Unwrap exposes ErrAllProvidersFailed and the last provider error.
func (e *ExhaustionError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrAllProvidersFailed}
	}
	return []error{ErrAllProvidersFailed, e.Last}
}

// Registry defines the provider fallback operations.
type Registry interface {
	// ExecuteWithFallback runs task against providers in order, or against
	// the default order when none are given.
	ExecuteWithFallback(ctx context.Context, task Task, providers ...string) (*Result, error)

	// UpdateQuota counts one request, and one error when failed is true.
	UpdateQuota(name string, failed bool) error

	// GetProviderLimit returns the daily limit of a provider.
	GetProviderLimit(name string) (int, error)

	// ResetQuotas zeroes every provider's counters.
	ResetQuotas()

	// ResetProviderQuota zeroes one provider's counters.
	ResetProviderQuota(name string) error

	// GetProviderStats returns counters, limits and health in default order.
	GetProviderStats() []Stats

	// ToggleProvider flips a provider between enabled and disabled and
	// returns the new state.
	ToggleProvider(name string) (bool, error)

	// Health returns the health view of every provider in default order.
	Health() []Health

	// Optimize nudges every provider's health score upward.
	Optimize() []Health

	// DefaultOrder returns the current default fallback order.
	DefaultOrder() []string

	// RotateDefault moves the head of the default order to the tail.
	RotateDefault() []string

	// MaxUsageRatio returns the highest requests/limit ratio across providers.
	MaxUsageRatio() float64

	// Reset restores counters, health and enabled state.
	Reset()
}
