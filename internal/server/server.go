package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/auralis/prometheus-core/internal/audit"
	"github.com/auralis/prometheus-core/internal/config"
	"github.com/auralis/prometheus-core/internal/eventbus"
	"github.com/auralis/prometheus-core/internal/middleware"
	"github.com/auralis/prometheus-core/internal/models"
	"github.com/auralis/prometheus-core/internal/stream"
	"github.com/auralis/prometheus-core/internal/telemetry"
)

// Package server exposes the telemetry core over HTTP, WebSocket and gRPC.
//
// Responsibilities:
//   - Serve the REST API under /api/v1 with per-client rate limiting
//   - Push pipeline events to WebSocket clients by topic
//   - Report liveness on /health, /ready and the gRPC health service
//   - Serve Prometheus collectors on /metrics
//   - Own the lifecycle of the streamer, the NATS bridge and the config watcher
//
// Integration Points:
//   - Telemetry core: every handler calls into Core
//   - Config manager: reloaded thresholds are applied while running
//   - Audit: server start and shutdown are recorded

// ─── Server ───────────────────────────────────────────────────────────────────

// Server represents the prometheus-core server.
type Server struct {
	config  *config.Config
	manager config.ConfigManager

	// Core components
	core      *telemetry.Core
	logger    *zap.Logger
	auditor   audit.Logger
	sampler   stream.Sampler
	streamer  *stream.Streamer
	publisher *eventbus.Publisher
	limiter   *middleware.RateLimiter
	hub       *wsHub
	router    *mux.Router

	// Listeners
	httpServer   *http.Server
	httpAddr     net.Addr
	grpcServer   *grpc.Server
	grpcAddr     net.Addr
	healthServer *health.Server

	// Lifecycle
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	detachHub  func()
	detachNATS []func()

	// State
	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the application logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuditor records server and core changes to the audit trail.
func WithAuditor(a audit.Logger) Option {
	return func(s *Server) { s.auditor = a }
}

// WithConfigManager lets the server apply reloaded thresholds.
func WithConfigManager(m config.ConfigManager) Option {
	return func(s *Server) { s.manager = m }
}

// WithCore replaces the core built from config.
func WithCore(c *telemetry.Core) Option {
	return func(s *Server) { s.core = c }
}

// WithSampler replaces the host sampler used by the streamer.
func WithSampler(sampler stream.Sampler) Option {
	return func(s *Server) { s.sampler = sampler }
}

// WithPublisher uses p as the NATS bridge instead of dialing nats.url.
func WithPublisher(p *eventbus.Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// NewServer creates a new server. Nothing listens until Start.
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config: cfg,
		logger: zap.NewNop(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.core == nil {
		s.core = telemetry.FromConfig(cfg, s.logger, s.auditor)
	}

	s.limiter = middleware.NewRateLimiter(cfg.Server.RateLimitPerMin)
	s.hub = newHub(s.core, cfg.Server.AllowedOrigins, s.logger.Named("ws"))
	s.detachHub = s.core.Subscribe(s.hub.publish)

	if cfg.Stream.Enabled {
		if s.sampler == nil {
			providers := s.core.Providers
			s.sampler = stream.NewHostSampler(func() float64 {
				return providers.MaxUsageRatio() * 100
			}, time.Now().UnixNano())
		}
		s.streamer = stream.NewStreamer(s.sampler,
			stream.WithInterval(time.Duration(cfg.Stream.IntervalMs)*time.Millisecond),
			stream.WithLogger(s.logger.Named("stream")),
		)
		s.streamer.Subscribe(s.handleSample)
	}

	s.router = s.routes()
	return s, nil
}

// routes builds the HTTP router.
func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Instrument(s.logger.Named("http")))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.serveWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.limiter.Middleware)

	// Analytics and prediction
	api.HandleFunc("/metrics", s.handleGetMetrics).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.handleIngestMetric).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/predictions", s.handlePredictions).Methods(http.MethodGet)
	api.HandleFunc("/thresholds/analytics", s.handleAnalyticsThresholds).Methods(http.MethodPut)
	api.HandleFunc("/thresholds/prediction", s.handlePredictionThresholds).Methods(http.MethodPut)

	// Automation
	api.HandleFunc("/automation/rules", s.handleListRules).Methods(http.MethodGet)
	api.HandleFunc("/automation/rules/{id}", s.handleUpdateRule).Methods(http.MethodPatch)
	api.HandleFunc("/automation/responses", s.handleListResponses).Methods(http.MethodGet)
	api.HandleFunc("/automation/responses/{id}/toggle", s.handleToggleResponse).Methods(http.MethodPost)

	// Providers
	api.HandleFunc("/providers", s.handleListProviders).Methods(http.MethodGet)
	api.HandleFunc("/providers/tasks", s.handleRunTask).Methods(http.MethodPost)
	api.HandleFunc("/providers/{name}/toggle", s.handleToggleProvider).Methods(http.MethodPost)
	api.HandleFunc("/providers/{name}/reset-quota", s.handleResetQuota).Methods(http.MethodPost)

	// Notifications
	api.HandleFunc("/notifications", s.handleListNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications", s.handleClearNotifications).Methods(http.MethodDelete)
	api.HandleFunc("/notifications/read-all", s.handleMarkAllRead).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{id}/read", s.handleMarkRead).Methods(http.MethodPost)

	// System
	api.HandleFunc("/system/state", s.handleSystemState).Methods(http.MethodGet)
	api.HandleFunc("/system/reset", s.handleSystemReset).Methods(http.MethodPost)
	api.HandleFunc("/system/optimize", s.handleSystemOptimize).Methods(http.MethodPost)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found: " + r.URL.Path})
	})
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})
	r.NotFoundHandler, api.NotFoundHandler = notFound, notFound
	r.MethodNotAllowedHandler, api.MethodNotAllowedHandler = notAllowed, notAllowed
	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Core returns the telemetry core.
func (s *Server) Core() *telemetry.Core {
	return s.core
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// Start binds the HTTP and gRPC listeners and starts the background
// components. Listener errors are returned before anything is served.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("server has been stopped")
	}

	httpLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP port %d: %w", s.config.Server.Port, err)
	}

	var grpcLn net.Listener
	if s.config.Server.GRPCPort > 0 {
		grpcLn, err = net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.GRPCPort))
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("failed to listen on gRPC port %d: %w", s.config.Server.GRPCPort, err)
		}
	}

	s.httpAddr = httpLn.Addr()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("HTTP server listening", zap.String("addr", s.httpAddr.String()))
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	if grpcLn != nil {
		s.startGRPC(grpcLn)
	}

	s.startNATS()

	if s.streamer != nil {
		if err := s.streamer.Start(s.ctx); err != nil {
			s.logger.Warn("metrics streamer not started", zap.Error(err))
		}
	}

	if s.manager != nil {
		s.watchConfig()
	}

	s.running = true
	s.startedAt = time.Now()

	s.logger.Info("prometheus-core server started",
		zap.String("http_addr", s.httpAddr.String()),
		zap.Bool("grpc", s.grpcServer != nil),
		zap.Bool("stream", s.streamer != nil),
		zap.Bool("nats", s.publisher != nil),
		zap.Int("rate_limit_per_min", s.config.Server.RateLimitPerMin),
	)
	if s.auditor != nil {
		_ = s.auditor.LogServerStarted(s.ctx, s.httpAddr.String())
	}
	return nil
}

// startGRPC serves the standard health service on ln.
func (s *Server) startGRPC(ln net.Listener) {
	s.grpcServer = grpc.NewServer(grpc.ConnectionTimeout(30 * time.Second))
	s.healthServer = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.grpcAddr = ln.Addr()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("gRPC health server listening", zap.String("addr", s.grpcAddr.String()))
		if err := s.grpcServer.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("gRPC server error", zap.Error(err))
		}
	}()
}

// startNATS bridges notifications and anomalies to NATS. A failed dial is
// logged and the server keeps running without the bridge.
func (s *Server) startNATS() {
	if s.publisher == nil && s.config.NATS.Enabled {
		p, err := eventbus.Connect(s.config.NATS.URL, s.config.NATS.Subject, s.logger.Named("nats"))
		if err != nil {
			s.logger.Warn("NATS bridge disabled", zap.Error(err))
			return
		}
		s.publisher = p
	}
	if s.publisher == nil {
		return
	}

	sub := s.core.Notifications.Subscribe(s.publisher.NotificationSubscriber())
	publisher := s.publisher
	logger := s.logger
	detach := s.core.Subscribe(func(ev telemetry.Event) {
		if ev.Topic != telemetry.TopicAnomalies {
			return
		}
		a, ok := ev.Payload.(models.AnomalyRecord)
		if !ok {
			return
		}
		if err := publisher.PublishAnomaly(a); err != nil {
			logger.Warn("failed to publish anomaly", zap.Error(err))
		}
	})
	s.detachNATS = []func(){func() { sub.Unsubscribe() }, detach}
}

// watchConfig applies reloaded thresholds until the server stops.
func (s *Server) watchConfig() {
	updates := s.manager.Watch(s.ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ctx.Done():
				return
			case cfg := <-updates:
				s.core.ApplyThresholds(s.ctx, &cfg)
				s.logger.Info("configuration reloaded; thresholds applied")
			}
		}
	}()
}

// handleSample routes one streamer sample into the core, or only to the
// metrics topic when ingestion is off.
func (s *Server) handleSample(ctx context.Context, p models.MetricPoint) {
	if s.config.Stream.Ingest {
		s.core.Ingest(ctx, p)
		return
	}
	s.core.Publish(telemetry.TopicMetrics, p)
}

// Stop gracefully stops the server within the configured shutdown timeout.
func (s *Server) Stop(reason string) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping prometheus-core server", zap.String("reason", reason))

	if s.healthServer != nil {
		s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	if s.streamer != nil {
		s.streamer.Stop()
	}

	timeout := time.Duration(s.config.Server.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	s.hub.close()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown HTTP server: %w", err))
	}
	if s.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			s.logger.Warn("gRPC server forced to stop after timeout")
			s.grpcServer.Stop()
		}
	}

	s.cancel()
	s.wg.Wait()
	s.limiter.Stop()

	for _, detach := range s.detachNATS {
		detach()
	}
	if s.publisher != nil {
		s.publisher.Close()
	}
	s.detachHub()

	if s.auditor != nil {
		_ = s.auditor.LogServerShutdown(context.Background(), reason)
		if err := s.auditor.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync audit log: %w", err))
		}
	}

	s.logger.Info("prometheus-core server stopped")
	return errors.Join(errs...)
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the bound HTTP address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.httpAddr
}

// GRPCAddr returns the bound gRPC address, or nil when gRPC is off.
func (s *Server) GRPCAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grpcAddr
}
