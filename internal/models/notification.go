package models

import "time"

// Category groups notifications by the subsystem that raised them.
type Category string

const (
	CategorySystem      Category = "system"
	CategoryPerformance Category = "performance"
	CategoryAIProvider  Category = "ai_provider"
	CategorySecurity    Category = "security"
	CategoryAutomation  Category = "automation"
)

// Notification is one operator-facing message in the notification log.
type Notification struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Severity  Severity               `json:"severity"`
	Category  Category               `json:"category"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Read      bool                   `json:"read"`
	ReadAt    *time.Time             `json:"read_at,omitempty"`
}
