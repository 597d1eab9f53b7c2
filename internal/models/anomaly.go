package models

import "time"

// Severity classifies anomalies and notifications.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityWarning  Severity = "warning"
	SeverityMedium   Severity = "medium"
	SeverityInfo     Severity = "info"
)

// Rank orders notification severities: critical=1 is the most severe.
// Severities outside critical/warning/info rank after info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 1
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 3
	}
	return 4
}

// Valid reports whether s is one of the notification severities.
func (s Severity) Valid() bool {
	return s.Rank() < 4
}

// AnomalySource tells which engine judged a value abnormal.
type AnomalySource string

const (
	SourceThreshold AnomalySource = "threshold"
	SourceForecast  AnomalySource = "forecast"
)

// AnomalyRecord describes one abnormal value. Threshold anomalies carry
// Threshold; forecast anomalies carry Model, Expected and the interval.
type AnomalyRecord struct {
	Type      string        `json:"type"`
	Source    AnomalySource `json:"source"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold,omitempty"`
	Model     string        `json:"model,omitempty"`
	Expected  float64       `json:"expected,omitempty"`
	Lower     float64       `json:"lower,omitempty"`
	Upper     float64       `json:"upper,omitempty"`
	Deviation float64       `json:"deviation,omitempty"`
	Severity  Severity      `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`
}
