package models

import (
	"strings"
	"time"
)

// AlertCategory groups alerts for filtering and reporting.
type AlertCategory string

const (
	CategoryReliability AlertCategory = "reliability"
	CategoryPerformance AlertCategory = "performance"
	CategorySecurity    AlertCategory = "security"
	CategoryAPI         AlertCategory = "api"
	CategoryGit         AlertCategory = "git"
	CategoryQuality     AlertCategory = "quality"
)

// ParseAlertCategory converts a string to AlertCategory.
func ParseAlertCategory(s string) (AlertCategory, bool) {
	c := AlertCategory(strings.ToLower(s))
	switch c {
	case CategoryReliability, CategoryPerformance, CategorySecurity, CategoryAPI, CategoryGit, CategoryQuality:
		return c, true
	}
	return "", false
}

// AlertSeverity is the ordinal urgency of an alert.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertError    AlertSeverity = "error"
	AlertCritical AlertSeverity = "critical"
)

// ParseAlertSeverity converts a string to AlertSeverity. Unrecognized
// names map to AlertWarning.
func ParseAlertSeverity(s string) AlertSeverity {
	if sev, ok := LookupAlertSeverity(s); ok {
		return sev
	}
	return AlertWarning
}

// LookupAlertSeverity converts a string to AlertSeverity, reporting
// whether the name is recognized.
func LookupAlertSeverity(s string) (AlertSeverity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return AlertInfo, true
	case "warning", "warn":
		return AlertWarning, true
	case "error":
		return AlertError, true
	case "critical":
		return AlertCritical, true
	default:
		return "", false
	}
}

// Rank orders alert severities from 1 (info) to 4 (critical).
func (s AlertSeverity) Rank() int {
	switch s {
	case AlertInfo:
		return 1
	case AlertWarning:
		return 2
	case AlertError:
		return 3
	case AlertCritical:
		return 4
	default:
		return 0
	}
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertSuppressed   AlertStatus = "suppressed"
)

// NotificationRecord logs one delivery attempt of an alert.
type NotificationRecord struct {
	Channel string    `json:"channel"`
	SentAt  time.Time `json:"sent_at"`
	Error   string    `json:"error,omitempty"`
}

// Alert is a persisted alert raised by an alert rule.
type Alert struct {
	ID                  string                 `json:"id"`
	Category            AlertCategory          `json:"category"`
	Severity            AlertSeverity          `json:"severity"`
	Status              AlertStatus            `json:"status"`
	Title               string                 `json:"title"`
	Message             string                 `json:"message"`
	Tool                Tool                   `json:"tool,omitempty"`
	Project             string                 `json:"project,omitempty"`
	TriggeredAt         time.Time              `json:"triggered_at"`
	TriggeredBy         string                 `json:"triggered_by"`
	Context             map[string]interface{} `json:"context,omitempty"`
	RelatedExecutionIDs []string               `json:"related_execution_ids,omitempty"`
	Notifications       []NotificationRecord   `json:"notifications,omitempty"`

	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	Resolution      string     `json:"resolution,omitempty"`
	SuppressedUntil *time.Time `json:"suppressed_until,omitempty"`
	SuppressedBy    string     `json:"suppressed_by,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsOpen reports whether the alert still needs attention.
func (a *Alert) IsOpen() bool {
	return a.Status == AlertActive || a.Status == AlertAcknowledged
}

// AlertUpdate is a status transition applied by storage.
type AlertUpdate struct {
	Status          AlertStatus
	Actor           string
	Resolution      string
	SuppressedUntil *time.Time
}
