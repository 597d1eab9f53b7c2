package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralis/prometheus-core/internal/models"
)

// recordingTask fails for the listed providers and records call order.
func recordingTask(calls *[]string, failing ...string) Task {
	fail := make(map[string]bool, len(failing))
	for _, f := range failing {
		fail[f] = true
	}
	return func(ctx context.Context, provider string) (interface{}, error) {
		*calls = append(*calls, provider)
		if fail[provider] {
			return nil, errors.New(provider + " unavailable")
		}
		return "ok from " + provider, nil
	}
}

func quotaOf(t *testing.T, r Registry, name string) Quota {
	t.Helper()
	for _, s := range r.GetProviderStats() {
		if s.Provider == name {
			return s.Quota
		}
	}
	t.Fatalf("provider %s not found", name)
	return Quota{}
}

func exhaust(r Registry, name string) {
	impl := r.(*registryImpl)
	impl.mu.Lock()
	defer impl.mu.Unlock()
	p := impl.providers[name]
	p.quota.Requests = p.limit
}

func TestDefaultLimits(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, []string{HuggingFace, OpenAI, Anthropic}, r.DefaultOrder())
	limit, err := r.GetProviderLimit(HuggingFace)
	require.NoError(t, err)
	assert.Equal(t, 10000, limit)
	limit, err = r.GetProviderLimit(OpenAI)
	require.NoError(t, err)
	assert.Equal(t, 200, limit)

	_, err = r.GetProviderLimit("Mistral")
	assert.True(t, models.IsNotFound(err))
}

func TestFallbackReturnsFirstSuccess(t *testing.T) {
	r := NewRegistry()
	var calls []string

	res, err := r.ExecuteWithFallback(context.Background(), recordingTask(&calls), HuggingFace, OpenAI, Anthropic)
	require.NoError(t, err)

	assert.Equal(t, HuggingFace, res.Provider)
	assert.Equal(t, "ok from HuggingFace", res.Value)
	assert.Equal(t, []string{HuggingFace}, calls)
	assert.Equal(t, 1, quotaOf(t, r, HuggingFace).Requests)
	assert.Equal(t, 0, quotaOf(t, r, OpenAI).Requests)
}

func TestFallbackSkipsExhaustedProvider(t *testing.T) {
	r := NewRegistry()
	exhaust(r, HuggingFace)
	before := quotaOf(t, r, HuggingFace)

	var calls []string
	res, err := r.ExecuteWithFallback(context.Background(), recordingTask(&calls), HuggingFace, OpenAI)
	require.NoError(t, err)

	assert.Equal(t, OpenAI, res.Provider)
	assert.Equal(t, []string{OpenAI}, calls)
	assert.Equal(t, before, quotaOf(t, r, HuggingFace))
	assert.Equal(t, 10000, quotaOf(t, r, HuggingFace).Requests)
	assert.Equal(t, 1, quotaOf(t, r, OpenAI).Requests)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, OutcomeSkippedQuota, res.Attempts[0].Outcome)
}

func TestFallbackCountsFailures(t *testing.T) {
	r := NewRegistry()
	var calls []string

	res, err := r.ExecuteWithFallback(context.Background(), recordingTask(&calls, HuggingFace), HuggingFace, OpenAI, Anthropic)
	require.NoError(t, err)

	assert.Equal(t, []string{HuggingFace, OpenAI}, calls)
	assert.Equal(t, OpenAI, res.Provider)
	hf := quotaOf(t, r, HuggingFace)
	assert.Equal(t, 1, hf.Requests)
	assert.Equal(t, 1, hf.Errors)
	assert.Equal(t, 0, quotaOf(t, r, Anthropic).Requests)
}

func TestFallbackExhaustion(t *testing.T) {
	r := NewRegistry()
	exhaust(r, OpenAI)
	var calls []string

	_, err := r.ExecuteWithFallback(context.Background(), recordingTask(&calls, HuggingFace, Anthropic), HuggingFace, OpenAI, Anthropic)
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrAllProvidersFailed))
	var exhausted *ExhaustionError
	require.True(t, errors.As(err, &exhausted))
	require.Len(t, exhausted.Attempts, 3)
	assert.Equal(t, OutcomeError, exhausted.Attempts[0].Outcome)
	assert.Equal(t, OutcomeSkippedQuota, exhausted.Attempts[1].Outcome)
	assert.Equal(t, OutcomeError, exhausted.Attempts[2].Outcome)
	assert.EqualError(t, exhausted.Last, "Anthropic unavailable")
	assert.Equal(t, []string{HuggingFace, Anthropic}, calls)
}

func TestFallbackUsesDefaultOrder(t *testing.T) {
	r := NewRegistry()
	var calls []string

	_, err := r.ExecuteWithFallback(context.Background(), recordingTask(&calls, HuggingFace))
	require.NoError(t, err)
	assert.Equal(t, []string{HuggingFace, OpenAI}, calls)

	assert.Equal(t, []string{OpenAI, Anthropic, HuggingFace}, r.RotateDefault())
	calls = nil
	_, err = r.ExecuteWithFallback(context.Background(), recordingTask(&calls))
	require.NoError(t, err)
	assert.Equal(t, []string{OpenAI}, calls)
}

func TestFallbackSkipsDisabledAndUnknown(t *testing.T) {
	r := NewRegistry()
	enabled, err := r.ToggleProvider(HuggingFace)
	require.NoError(t, err)
	assert.False(t, enabled)

	var calls []string
	res, err := r.ExecuteWithFallback(context.Background(), recordingTask(&calls), "Mistral", HuggingFace, OpenAI)
	require.NoError(t, err)

	assert.Equal(t, []string{OpenAI}, calls)
	assert.Equal(t, OutcomeUnknown, res.Attempts[0].Outcome)
	assert.Equal(t, OutcomeSkippedDisabled, res.Attempts[1].Outcome)
	assert.Equal(t, 0, quotaOf(t, r, HuggingFace).Requests)

	_, err = r.ToggleProvider("Mistral")
	assert.True(t, models.IsNotFound(err))
}

func TestFallbackStopsOnCancelledContext(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls []string
	_, err := r.ExecuteWithFallback(ctx, recordingTask(&calls))
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Empty(t, calls)

	var exhausted *ExhaustionError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 1)
	assert.Equal(t, HuggingFace, exhausted.Attempts[0].Provider)
	assert.Equal(t, OutcomeCancelled, exhausted.Attempts[0].Outcome)
	assert.Equal(t, 0, quotaOf(t, r, HuggingFace).Requests)
}

func TestFallbackCancelledMidRun(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task := func(ctx context.Context, name string) (interface{}, error) {
		cancel()
		return nil, errors.New(name + " down")
	}
	_, err := r.ExecuteWithFallback(ctx, task)

	var exhausted *ExhaustionError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 2)
	assert.Equal(t, OutcomeError, exhausted.Attempts[0].Outcome)
	assert.Equal(t, OutcomeCancelled, exhausted.Attempts[1].Outcome)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResetQuotas(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.UpdateQuota(OpenAI, true))
	require.NoError(t, r.UpdateQuota(Anthropic, false))

	require.NoError(t, r.ResetProviderQuota(OpenAI))
	assert.Equal(t, 0, quotaOf(t, r, OpenAI).Requests)
	assert.Equal(t, 1, quotaOf(t, r, Anthropic).Requests)

	r.ResetQuotas()
	for _, s := range r.GetProviderStats() {
		assert.Zero(t, s.Requests)
		assert.Zero(t, s.Errors)
	}

	assert.True(t, models.IsNotFound(r.ResetProviderQuota("Mistral")))
	assert.True(t, models.IsNotFound(r.UpdateQuota("Mistral", false)))
}

func TestQuotaRollsOverDaily(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	r := NewRegistry(WithClock(func() time.Time { return now }))
	exhaust(r, OpenAI)

	var calls []string
	_, err := r.ExecuteWithFallback(context.Background(), recordingTask(&calls), OpenAI)
	require.Error(t, err)

	now = now.Add(24 * time.Hour)
	res, err := r.ExecuteWithFallback(context.Background(), recordingTask(&calls), OpenAI)
	require.NoError(t, err)
	assert.Equal(t, OpenAI, res.Provider)
	assert.Equal(t, 1, quotaOf(t, r, OpenAI).Requests)
}

func TestHealthAndOptimize(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.UpdateQuota(HuggingFace, true))
	require.NoError(t, r.UpdateQuota(HuggingFace, true))
	require.NoError(t, r.UpdateQuota(HuggingFace, true))
	require.NoError(t, r.UpdateQuota(HuggingFace, true))
	exhaust(r, OpenAI)
	_, err := r.ToggleProvider(Anthropic)
	require.NoError(t, err)

	health := r.Health()
	require.Len(t, health, 3)
	assert.Equal(t, 50.0, health[0].HealthScore)
	assert.Equal(t, StatusDegraded, health[0].Status)
	assert.Equal(t, StatusExhausted, health[1].Status)
	assert.Equal(t, StatusDisabled, health[2].Status)

	before := r.Health()
	after := r.Optimize()
	for i := range after {
		assert.GreaterOrEqual(t, after[i].HealthScore, before[i].HealthScore)
		assert.LessOrEqual(t, after[i].HealthScore, 100.0)
	}
	assert.Equal(t, 55.0, after[0].HealthScore)

	for i := 0; i < 5; i++ {
		r.Optimize()
	}
	assert.Equal(t, 100.0, r.Health()[1].HealthScore)
}

func TestMaxUsageRatioAndReset(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 50; i++ {
		require.NoError(t, r.UpdateQuota(OpenAI, false))
	}
	assert.InDelta(t, 0.25, r.MaxUsageRatio(), 1e-9)

	r.RotateDefault()
	_, _ = r.ToggleProvider(OpenAI)
	r.Reset()

	assert.Zero(t, r.MaxUsageRatio())
	assert.Equal(t, []string{HuggingFace, OpenAI, Anthropic}, r.DefaultOrder())
	for _, h := range r.Health() {
		assert.True(t, h.Enabled)
		assert.Equal(t, 90.0, h.HealthScore)
	}
}

func TestSimulatedTask(t *testing.T) {
	task := SimulatedTask(Simulation{Failing: map[string]bool{OpenAI: true}, Prompt: "hi"}, nil)

	_, err := task(context.Background(), OpenAI)
	assert.Error(t, err)

	out, err := task(context.Background(), Anthropic)
	require.NoError(t, err)
	assert.Equal(t, "hi", out.(map[string]interface{})["prompt"])

	slow := SimulatedTask(Simulation{Latency: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = slow(ctx, OpenAI)
	assert.ErrorIs(t, err, context.Canceled)
}
