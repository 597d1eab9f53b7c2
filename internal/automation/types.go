package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/auralis/prometheus-core/internal/models"
)

// Package automation evaluates remediation rules against incoming metrics
// and runs the matching automated responses.
//
// Responsibilities:
//   - Keep the rule registry (condition → response) in registration order
//   - Keep the response registry with success/failure bookkeeping
//   - Evaluate enabled rules on every metric point
//   - Run matched responses one after another
//
// A failing rule never stops the batch: its error is logged and the next
// rule is evaluated. A failing response increments its failure count and
// is logged; the error is not returned to the caller.
//
// Rule thresholds are configured here, separately from the analytics
// anomaly thresholds, even where both watch the same feature.

// ─── Rules ────────────────────────────────────────────────────────────────────

// Predicate decides whether a rule matches a metric point.
type Predicate func(models.MetricPoint) (bool, error)

// Rule maps a condition to a response.
type Rule struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Condition  string         `json:"condition"`
	Feature    models.Feature `json:"feature,omitempty"`
	Threshold  float64        `json:"threshold"`
	ResponseID string         `json:"action"`
	Enabled    bool           `json:"enabled"`

	predicate Predicate
}

// RuleUpdate is a partial rule change; nil fields are kept.
type RuleUpdate struct {
	Name       *string  `json:"name,omitempty"`
	Condition  *string  `json:"condition,omitempty"`
	Threshold  *float64 `json:"threshold,omitempty"`
	ResponseID *string  `json:"action,omitempty"`
	Enabled    *bool    `json:"enabled,omitempty"`
}

// matches evaluates the rule. Rules without a custom predicate fire when
// their feature is present and above the threshold.
func (r Rule) matches(p models.MetricPoint) (bool, error) {
	if r.predicate != nil {
		return r.predicate(p)
	}
	v, ok := p.Value(r.Feature)
	if !ok {
		return false, nil
	}
	return v > r.Threshold, nil
}

// ─── Responses ────────────────────────────────────────────────────────────────

// ResponseStatus is either active or inactive.
type ResponseStatus string

const (
	StatusActive   ResponseStatus = "active"
	StatusInactive ResponseStatus = "inactive"
)

// Action performs an automated response.
type Action func(ctx context.Context, p models.MetricPoint) error

// Response is an automated response and its bookkeeping.
type Response struct {
	ID            string         `json:"id"`
	Trigger       string         `json:"trigger"`
	Action        string         `json:"action"`
	Status        ResponseStatus `json:"status"`
	SuccessCount  int            `json:"successCount"`
	FailureCount  int            `json:"failureCount"`
	LastTriggered *time.Time     `json:"lastTriggered,omitempty"`
	LastError     string         `json:"lastError,omitempty"`

	run Action
}

// ─── Evaluation results ───────────────────────────────────────────────────────

// Execution reports one response run during an evaluation.
type Execution struct {
	RuleID     string `json:"ruleId"`
	ResponseID string `json:"responseId"`
	Executed   bool   `json:"executed"`
}

// Evaluation is the outcome of EvaluateMetrics.
type Evaluation struct {
	Triggered  []string    `json:"triggered"`
	Executions []Execution `json:"executions"`
	Errors     []error     `json:"-"`
}

// ─── Errors ───────────────────────────────────────────────────────────────────

// RuleEvaluationError wraps a failure inside a rule predicate.
type RuleEvaluationError struct {
	RuleID string
	Err    error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s evaluation failed: %v", e.RuleID, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

// ResponseExecutionError wraps a failure inside a response action.
type ResponseExecutionError struct {
	ResponseID string
	Err        error
}

func (e *ResponseExecutionError) Error() string {
	return fmt.Sprintf("response %s execution failed: %v", e.ResponseID, e.Err)
}

func (e *ResponseExecutionError) Unwrap() error { return e.Err }

// ─── Collaborators ────────────────────────────────────────────────────────────

// Notifier receives response outcomes.
type Notifier interface {
	NotifyAutomatedResponse(responseID, action string, success bool, detail string) models.Notification
}

// ProviderControl is the part of the provider registry the seeded
// responses act on.
type ProviderControl interface {
	ResetQuotas()
	RotateDefault() []string
}

// Auditor records response outcomes in the audit trail.
type Auditor interface {
	LogResponseExecuted(ctx context.Context, responseID, action string, duration time.Duration) error
	LogResponseFailed(ctx context.Context, responseID, action string, err error) error
}
