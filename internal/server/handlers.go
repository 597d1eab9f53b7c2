package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/auralis/prometheus-core/internal/analytics"
	"github.com/auralis/prometheus-core/internal/automation"
	"github.com/auralis/prometheus-core/internal/models"
	"github.com/auralis/prometheus-core/internal/notification"
	"github.com/auralis/prometheus-core/internal/provider"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// maxTaskLatency caps the simulated provider latency a caller may request.
const maxTaskLatency = 10 * time.Second

// errorBody is the JSON error envelope.
type errorBody struct {
	Error    string             `json:"error"`
	Attempts []provider.Attempt `json:"attempts,omitempty"`
}

// requestError marks a client error.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...interface{}) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// writeJSON encodes v before committing the status, so an unencodable
// body becomes a 500 instead of an empty success.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if v == nil {
		w.WriteHeader(status)
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		data, _ = json.Marshal(errorBody{Error: fmt.Sprintf("failed to encode response: %v", err)})
		_, _ = w.Write(append(data, '\n'))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

// writeError maps err to a status: unknown ids are 404, provider
// exhaustion is 503, bad input is 400 and anything else is 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		reqErr    *requestError
		exhausted *provider.ExhaustionError
	)
	switch {
	case errors.As(err, &reqErr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case models.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.As(err, &exhausted):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Attempts: exhausted.Attempts})
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

// decodeJSON reads the body into v. An empty body is an error unless
// allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return badRequest("request body is required")
		}
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// ─── Health ───────────────────────────────────────────────────────────────────

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	startedAt := s.startedAt
	s.mu.RUnlock()

	body := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"wsClients": s.hub.clientCount(),
	}
	if !startedAt.IsZero() {
		body["uptimeSeconds"] = int(time.Since(startedAt).Seconds())
	}
	writeJSON(w, http.StatusOK, body)
}

// handleReady handles readiness check requests
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.IsRunning() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ready",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// ─── Analytics ────────────────────────────────────────────────────────────────

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": s.core.Analytics.CalculateSummaryMetrics(),
		"trends":  s.core.Analytics.CalculateTrends(),
	})
}

func (s *Server) handleIngestMetric(w http.ResponseWriter, r *http.Request) {
	var p models.MetricPoint
	if err := decodeJSON(w, r, &p, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(p.Features()) == 0 {
		s.writeError(w, r, badRequest("metric point has no values"))
		return
	}
	writeJSON(w, http.StatusOK, s.core.Ingest(r.Context(), p))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Stats())
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predictions":       s.core.Predictions.GetPredictions(),
		"models":            s.core.Predictions.Models(),
		"anomalyThresholds": s.core.Predictions.AnomalyThresholds(),
		"forecast":          s.core.Analytics.GeneratePredictions(),
	})
}

func (s *Server) handleAnalyticsThresholds(w http.ResponseWriter, r *http.Request) {
	var u analytics.ThresholdUpdate
	if err := decodeJSON(w, r, &u, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	for name, v := range map[string]*float64{"latency": u.Latency, "errorRate": u.ErrorRate, "requestSpike": u.RequestSpike} {
		if v != nil && *v < 0 {
			s.writeError(w, r, badRequest("%s threshold must be non-negative", name))
			return
		}
	}
	writeJSON(w, http.StatusOK, s.core.Analytics.UpdateThresholds(u))
}

func (s *Server) handlePredictionThresholds(w http.ResponseWriter, r *http.Request) {
	var in map[string]float64
	if err := decodeJSON(w, r, &in, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(in) == 0 {
		s.writeError(w, r, badRequest("at least one feature threshold is required"))
		return
	}
	thresholds := make(map[models.Feature]float64, len(in))
	for name, v := range in {
		if v < 0 {
			s.writeError(w, r, badRequest("threshold for %s must be non-negative", name))
			return
		}
		thresholds[models.Feature(name)] = v
	}
	writeJSON(w, http.StatusOK, s.core.Predictions.UpdateAnomalyThresholds(thresholds))
}

// ─── Automation ───────────────────────────────────────────────────────────────

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": s.core.Automation.Rules()})
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var u automation.RuleUpdate
	if err := decodeJSON(w, r, &u, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	rule, err := s.core.UpdateRule(r.Context(), mux.Vars(r)["id"], u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleListResponses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"responses": s.core.Automation.Responses()})
}

func (s *Server) handleToggleResponse(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, err := s.core.ToggleResponse(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": status})
}

// ─── Providers ────────────────────────────────────────────────────────────────

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers":    s.core.Providers.Health(),
		"stats":        s.core.Providers.GetProviderStats(),
		"defaultOrder": s.core.Providers.DefaultOrder(),
	})
}

func (s *Server) handleToggleProvider(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	enabled, err := s.core.ToggleProvider(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"provider": name, "enabled": enabled})
}

func (s *Server) handleResetQuota(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.core.ResetProviderQuota(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"provider": name, "reset": true})
}

// TaskRequest runs a simulated AI task through the provider fallback chain.
type TaskRequest struct {
	Prompt      string   `json:"prompt"`
	Providers   []string `json:"providers,omitempty"`
	FailureRate float64  `json:"failureRate"`
	Failing     []string `json:"failing,omitempty"`
	LatencyMs   int      `json:"latencyMs"`
}

func (req TaskRequest) validate() error {
	if req.FailureRate < 0 || req.FailureRate > 1 {
		return badRequest("failureRate must be between 0 and 1")
	}
	if req.LatencyMs < 0 || time.Duration(req.LatencyMs)*time.Millisecond > maxTaskLatency {
		return badRequest("latencyMs must be between 0 and %d", maxTaskLatency.Milliseconds())
	}
	return nil
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	failing := make(map[string]bool, len(req.Failing))
	for _, name := range req.Failing {
		failing[name] = true
	}
	task := provider.SimulatedTask(provider.Simulation{
		Latency:     time.Duration(req.LatencyMs) * time.Millisecond,
		FailureRate: req.FailureRate,
		Failing:     failing,
		Prompt:      req.Prompt,
	}, nil)

	result, err := s.core.RunTask(r.Context(), task, req.Providers...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ─── Notifications ────────────────────────────────────────────────────────────

func parseNotificationFilter(r *http.Request) (notification.Filter, error) {
	q := r.URL.Query()
	var f notification.Filter

	if v := q.Get("severity"); v != "" {
		sev := models.Severity(v)
		if !sev.Valid() {
			return f, badRequest("invalid severity: %q", v)
		}
		f.Severity = sev
	}
	if v := q.Get("unread"); v != "" {
		unread, err := strconv.ParseBool(v)
		if err != nil {
			return f, badRequest("invalid unread flag: %q", v)
		}
		f.UnreadOnly = unread
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return f, badRequest("invalid limit: %q", v)
		}
		f.Limit = limit
	}
	return f, nil
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	f, err := parseNotificationFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hub := s.core.Notifications
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": hub.GetNotifications(f),
		"unread":        hub.UnreadCount(),
		"total":         hub.Len(),
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.core.Notifications.MarkAsRead(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "read": true})
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"marked": s.core.Notifications.MarkAllAsRead()})
}

func (s *Server) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	s.core.Notifications.ClearNotifications()
	w.WriteHeader(http.StatusNoContent)
}

// ─── System ───────────────────────────────────────────────────────────────────

func (s *Server) handleSystemState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.SystemState())
}

func (s *Server) handleSystemReset(w http.ResponseWriter, r *http.Request) {
	s.core.Reset(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "reset",
		"state":  s.core.SystemState(),
	})
}

func (s *Server) handleSystemOptimize(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "optimized",
		"providers": s.core.Optimize(r.Context()),
	})
}
