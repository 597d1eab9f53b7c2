package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/auralis/prometheus-core/internal/metrics"
	"github.com/auralis/prometheus-core/internal/models"
)

// Engine holds the rule and response registries.
type Engine struct {
	mu        sync.RWMutex
	rules     []*Rule
	ruleIndex map[string]*Rule
	responses map[string]*Response
	respOrder []string

	thresholds RuleThresholds
	latency    time.Duration

	providers ProviderControl
	notifier  Notifier
	auditor   Auditor
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the clock used for lastTriggered.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRuleThresholds replaces the seeded rule thresholds.
func WithRuleThresholds(th RuleThresholds) Option {
	return func(e *Engine) { e.thresholds = th }
}

// WithSimulatedLatency sets how long seeded response side effects take.
func WithSimulatedLatency(d time.Duration) Option {
	return func(e *Engine) { e.latency = d }
}

// WithProviders connects the seeded provider responses to a registry.
func WithProviders(p ProviderControl) Option {
	return func(e *Engine) { e.providers = p }
}

// WithNotifier sends response outcomes to n.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithAuditor records response outcomes with a.
func WithAuditor(a Auditor) Option {
	return func(e *Engine) { e.auditor = a }
}

// NewEngine creates an engine seeded with the default rules and responses.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		thresholds: DefaultRuleThresholds(),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.seed()
	return e
}

func (e *Engine) seed() {
	e.rules = nil
	e.ruleIndex = make(map[string]*Rule)
	e.responses = make(map[string]*Response)
	e.respOrder = nil

	for _, r := range DefaultRules(e.thresholds) {
		r := r
		e.rules = append(e.rules, &r)
		e.ruleIndex[r.ID] = &r
	}
	for _, resp := range e.defaultResponses() {
		resp := resp
		e.responses[resp.ID] = &resp
		e.respOrder = append(e.respOrder, resp.ID)
	}
}

// ─── Registration ─────────────────────────────────────────────────────────────

// AddRule appends a rule. A nil predicate uses the feature/threshold check.
func (e *Engine) AddRule(rule Rule, predicate Predicate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rule.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if _, exists := e.ruleIndex[rule.ID]; exists {
		return fmt.Errorf("rule %s already registered", rule.ID)
	}
	rule.predicate = predicate
	e.rules = append(e.rules, &rule)
	e.ruleIndex[rule.ID] = &rule
	return nil
}

// RegisterResponse adds or replaces a response and its action.
func (e *Engine) RegisterResponse(resp Response, action Action) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if resp.ID == "" {
		return fmt.Errorf("response id is required")
	}
	if action == nil {
		return fmt.Errorf("response %s has no action", resp.ID)
	}
	if resp.Status == "" {
		resp.Status = StatusActive
	}
	resp.run = action
	if _, exists := e.responses[resp.ID]; !exists {
		e.respOrder = append(e.respOrder, resp.ID)
	}
	e.responses[resp.ID] = &resp
	return nil
}

// ─── Evaluation ───────────────────────────────────────────────────────────────

// EvaluateMetrics evaluates every enabled rule in registration order and
// then runs the matched responses one after another.
func (e *Engine) EvaluateMetrics(ctx context.Context, p models.MetricPoint) Evaluation {
	e.mu.RLock()
	rules := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled {
			rules = append(rules, *r)
		}
	}
	e.mu.RUnlock()

	var eval Evaluation
	for _, r := range rules {
		matched, err := evaluate(r, p)
		if err != nil {
			metrics.RuleEvaluationsTotal.WithLabelValues(r.ID, "error").Inc()
			e.logger.Error("rule evaluation failed", zap.String("rule", r.ID), zap.Error(err))
			eval.Errors = append(eval.Errors, err)
			continue
		}
		if !matched {
			metrics.RuleEvaluationsTotal.WithLabelValues(r.ID, "idle").Inc()
			continue
		}
		metrics.RuleEvaluationsTotal.WithLabelValues(r.ID, "triggered").Inc()
		eval.Triggered = append(eval.Triggered, r.ID)
	}

	for _, id := range eval.Triggered {
		r := e.ruleByID(id)
		if r == nil {
			continue
		}
		executed := e.ExecuteResponse(ctx, r.ResponseID, p)
		eval.Executions = append(eval.Executions, Execution{
			RuleID:     id,
			ResponseID: r.ResponseID,
			Executed:   executed,
		})
	}
	return eval
}

func (e *Engine) ruleByID(id string) *Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.ruleIndex[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// evaluate runs a rule, converting errors and panics into RuleEvaluationError.
func evaluate(r Rule, p models.MetricPoint) (matched bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			matched = false
			err = &RuleEvaluationError{RuleID: r.ID, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	matched, err = r.matches(p)
	if err != nil {
		return false, &RuleEvaluationError{RuleID: r.ID, Err: err}
	}
	return matched, nil
}

// ExecuteResponse runs the response with the given id. It returns false
// when the response is unknown, inactive or failed.
func (e *Engine) ExecuteResponse(ctx context.Context, id string, p models.MetricPoint) bool {
	e.mu.RLock()
	resp, ok := e.responses[id]
	if !ok || resp.Status != StatusActive {
		e.mu.RUnlock()
		metrics.ResponseExecutionsTotal.WithLabelValues(id, "skipped").Inc()
		e.logger.Debug("response not executed", zap.String("response", id), zap.Bool("known", ok))
		return false
	}
	run, action := resp.run, resp.Action
	e.mu.RUnlock()

	start := e.now()
	err := execute(ctx, id, run, p)
	elapsed := time.Since(start)
	metrics.ResponseDuration.WithLabelValues(id).Observe(elapsed.Seconds())

	e.mu.Lock()
	if resp, ok = e.responses[id]; ok {
		if err != nil {
			resp.FailureCount++
			resp.LastError = err.Error()
		} else {
			ts := e.now()
			resp.SuccessCount++
			resp.LastTriggered = &ts
			resp.LastError = ""
		}
	}
	e.mu.Unlock()

	if err != nil {
		metrics.ResponseExecutionsTotal.WithLabelValues(id, "failure").Inc()
		e.logger.Error("automated response failed", zap.String("response", id), zap.Error(err))
		if e.auditor != nil {
			_ = e.auditor.LogResponseFailed(ctx, id, action, err)
		}
		if e.notifier != nil {
			e.notifier.NotifyAutomatedResponse(id, action, false, err.Error())
		}
		return false
	}

	metrics.ResponseExecutionsTotal.WithLabelValues(id, "success").Inc()
	e.logger.Info("automated response executed", zap.String("response", id), zap.Duration("duration", elapsed))
	if e.auditor != nil {
		_ = e.auditor.LogResponseExecuted(ctx, id, action, elapsed)
	}
	if e.notifier != nil {
		e.notifier.NotifyAutomatedResponse(id, action, true, "")
	}
	return true
}

// execute runs an action, converting errors and panics into
// ResponseExecutionError.
func execute(ctx context.Context, id string, run Action, p models.MetricPoint) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &ResponseExecutionError{ResponseID: id, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	if run == nil {
		return &ResponseExecutionError{ResponseID: id, Err: fmt.Errorf("no action")}
	}
	if err := run(ctx, p); err != nil {
		return &ResponseExecutionError{ResponseID: id, Err: err}
	}
	return nil
}

// ─── Operator access ──────────────────────────────────────────────────────────

// UpdateRule merges u into the rule with the given id.
func (e *Engine) UpdateRule(id string, u RuleUpdate) (Rule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.ruleIndex[id]
	if !ok {
		return Rule{}, &models.NotFoundError{Kind: "rule", ID: id}
	}
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.Condition != nil {
		r.Condition = *u.Condition
	}
	if u.Threshold != nil {
		r.Threshold = *u.Threshold
	}
	if u.ResponseID != nil {
		r.ResponseID = *u.ResponseID
	}
	if u.Enabled != nil {
		r.Enabled = *u.Enabled
	}
	e.logger.Info("rule updated", zap.String("rule", id), zap.Bool("enabled", r.Enabled), zap.Float64("threshold", r.Threshold))
	return *r, nil
}

// ToggleResponse flips a response between active and inactive.
func (e *Engine) ToggleResponse(id string) (ResponseStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	resp, ok := e.responses[id]
	if !ok {
		return "", &models.NotFoundError{Kind: "response", ID: id}
	}
	if resp.Status == StatusActive {
		resp.Status = StatusInactive
	} else {
		resp.Status = StatusActive
	}
	e.logger.Info("response toggled", zap.String("response", id), zap.String("status", string(resp.Status)))
	return resp.Status, nil
}

// Rules returns a copy of the rules in registration order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	return out
}

// Rule returns one rule by id.
func (e *Engine) Rule(id string) (Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.ruleIndex[id]
	if !ok {
		return Rule{}, &models.NotFoundError{Kind: "rule", ID: id}
	}
	return *r, nil
}

// Responses returns a copy of the responses in registration order.
func (e *Engine) Responses() []Response {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Response, 0, len(e.respOrder))
	for _, id := range e.respOrder {
		out = append(out, *e.responses[id])
	}
	return out
}

// Response returns one response by id.
func (e *Engine) Response(id string) (Response, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	resp, ok := e.responses[id]
	if !ok {
		return Response{}, &models.NotFoundError{Kind: "response", ID: id}
	}
	return *resp, nil
}

// Reset zeroes every response counter. Rules, statuses and registered
// responses are kept.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, resp := range e.responses {
		resp.SuccessCount = 0
		resp.FailureCount = 0
		resp.LastTriggered = nil
		resp.LastError = ""
	}
}
