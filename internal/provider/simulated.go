package provider

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Simulation configures SimulatedTask.
type Simulation struct {
	// Latency is how long each provider call takes.
	Latency time.Duration
	// FailureRate is the probability in [0, 1] that a call fails.
	FailureRate float64
	// Failing lists providers that always fail.
	Failing map[string]bool
	// Prompt is echoed back in the result.
	Prompt string
}

// SimulatedTask returns a Task that stands in for a real provider call.
// Provider clients live outside this service; the simulation lets operators
// exercise the fallback chain end to end.
func SimulatedTask(sim Simulation, rng *rand.Rand) Task {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	var mu sync.Mutex

	return func(ctx context.Context, provider string) (interface{}, error) {
		if sim.Latency > 0 {
			timer := time.NewTimer(sim.Latency)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if sim.Failing[provider] {
			return nil, fmt.Errorf("%s: simulated outage", provider)
		}
		mu.Lock()
		roll := rng.Float64()
		mu.Unlock()
		if roll < sim.FailureRate {
			return nil, fmt.Errorf("%s: simulated error", provider)
		}

		return map[string]interface{}{
			"provider": provider,
			"prompt":   sim.Prompt,
			"output":   fmt.Sprintf("%s completed the task", provider),
		}, nil
	}
}
