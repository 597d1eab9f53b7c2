package notification

import (
	"fmt"

	"github.com/auralis/prometheus-core/internal/models"
)

// NotifySystemEvent records a system event. An empty severity means info.
func (h *Hub) NotifySystemEvent(title, message string, severity models.Severity, metadata map[string]interface{}) models.Notification {
	if severity == "" {
		severity = models.SeverityInfo
	}
	return h.AddNotification(models.Notification{
		Severity: severity,
		Category: models.CategorySystem,
		Title:    title,
		Message:  message,
		Metadata: metadata,
	})
}

// NotifyPerformanceIssue records a metric that crossed its limit. An empty
// severity means warning.
func (h *Hub) NotifyPerformanceIssue(metric string, value, threshold float64, severity models.Severity) models.Notification {
	if severity == "" {
		severity = models.SeverityWarning
	}
	return h.AddNotification(models.Notification{
		Severity: severity,
		Category: models.CategoryPerformance,
		Title:    fmt.Sprintf("Performance issue: %s", metric),
		Message:  fmt.Sprintf("%s is %.4g (limit %.4g)", metric, value, threshold),
		Metadata: map[string]interface{}{
			"metric":    metric,
			"value":     value,
			"threshold": threshold,
		},
	})
}

// NotifyAIProviderIssue records a provider failure or exhaustion. An empty
// severity means warning.
func (h *Hub) NotifyAIProviderIssue(provider, issue string, severity models.Severity) models.Notification {
	if severity == "" {
		severity = models.SeverityWarning
	}
	return h.AddNotification(models.Notification{
		Severity: severity,
		Category: models.CategoryAIProvider,
		Title:    fmt.Sprintf("AI provider issue: %s", provider),
		Message:  issue,
		Metadata: map[string]interface{}{
			"provider": provider,
		},
	})
}

// NotifySecurityEvent records a security event. Security events are always
// critical.
func (h *Hub) NotifySecurityEvent(title, message string, metadata map[string]interface{}) models.Notification {
	return h.AddNotification(models.Notification{
		Severity: models.SeverityCritical,
		Category: models.CategorySecurity,
		Title:    title,
		Message:  message,
		Metadata: metadata,
	})
}

// NotifyAutomatedResponse records the outcome of an automated response:
// info on success, warning on failure.
func (h *Hub) NotifyAutomatedResponse(responseID, action string, success bool, detail string) models.Notification {
	severity := models.SeverityInfo
	outcome := "succeeded"
	if !success {
		severity = models.SeverityWarning
		outcome = "failed"
	}
	msg := fmt.Sprintf("Automated response %s (%s) %s", responseID, action, outcome)
	if detail != "" {
		msg += ": " + detail
	}
	return h.AddNotification(models.Notification{
		Severity: severity,
		Category: models.CategoryAutomation,
		Title:    fmt.Sprintf("Automated response: %s", action),
		Message:  msg,
		Metadata: map[string]interface{}{
			"response_id": responseID,
			"action":      action,
			"success":     success,
		},
	})
}
