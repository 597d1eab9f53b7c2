package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/auralis/prometheus-core/internal/metrics"
	"github.com/auralis/prometheus-core/internal/models"
)

// Package stream emits metric samples on a fixed interval until stopped.
//
// Responsibilities:
//   - Run one sampling loop per Streamer, started and stopped explicitly
//   - Fan each sample out to subscribers in registration order
//   - Keep running when a sample or a subscriber fails
//
// Integration Points:
//   - Server: publishes samples on the "metrics" WebSocket topic
//   - Telemetry core: ingests samples when stream.ingest is set

// DefaultInterval is the sampling period when none is configured.
const DefaultInterval = 2 * time.Second

// ErrAlreadyRunning is returned by Start on a running streamer.
var ErrAlreadyRunning = errors.New("streamer already running")

// Handler receives every sample.
type Handler func(ctx context.Context, p models.MetricPoint)

// Streamer drives a Sampler from a ticker.
type Streamer struct {
	sampler  Sampler
	interval time.Duration
	ticks    <-chan time.Time
	logger   *zap.Logger

	mu       sync.Mutex
	handlers []Handler
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option configures a Streamer.
type Option func(*Streamer)

// WithInterval sets the sampling period.
func WithInterval(d time.Duration) Option {
	return func(s *Streamer) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithTicks drives the loop from ticks instead of an internal ticker.
func WithTicks(ticks <-chan time.Time) Option {
	return func(s *Streamer) { s.ticks = ticks }
}

// WithLogger sets the streamer logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Streamer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStreamer creates a stopped streamer.
func NewStreamer(sampler Sampler, opts ...Option) *Streamer {
	s := &Streamer{
		sampler:  sampler,
		interval: DefaultInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe adds a handler. Handlers run on the streamer goroutine.
func (s *Streamer) Subscribe(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Start launches the sampling loop. The loop ends on Stop or when ctx is
// cancelled.
func (s *Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	ticks := s.ticks
	var ticker *time.Ticker
	if ticks == nil {
		ticker = time.NewTicker(s.interval)
		ticks = ticker.C
	}

	go func(done chan struct{}) {
		defer close(done)
		if ticker != nil {
			defer ticker.Stop()
		}
		s.run(ctx, ticks)
	}(s.done)

	s.logger.Info("metrics streamer started", zap.Duration("interval", s.interval))
	return nil
}

// Stop ends the loop and waits for it to exit. Stopping a stopped
// streamer does nothing.
func (s *Streamer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("metrics streamer stopped")
}

// Running reports whether the loop is active.
func (s *Streamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Streamer) run(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ticks:
			if !ok {
				return
			}
			s.tick(ctx)
		}
	}
}

func (s *Streamer) tick(ctx context.Context) {
	p, err := s.sampler.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.StreamSamplesTotal.WithLabelValues("sampler_error").Inc()
		s.logger.Warn("metric sample failed", zap.Error(err))
		return
	}
	metrics.StreamSamplesTotal.WithLabelValues("ok").Inc()

	s.mu.Lock()
	handlers := append([]Handler(nil), s.handlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		s.dispatch(ctx, h, p)
	}
}

func (s *Streamer) dispatch(ctx context.Context, h Handler, p models.MetricPoint) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("stream handler panicked", zap.Any("panic", rec))
		}
	}()
	h(ctx, p)
}
