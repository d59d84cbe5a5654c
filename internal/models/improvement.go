package models

import (
	"strings"
	"time"
)

// ImprovementType classifies what kind of change an improvement suggests.
type ImprovementType string

const (
	ImprovementPerformance   ImprovementType = "performance"
	ImprovementReliability   ImprovementType = "reliability"
	ImprovementUsability     ImprovementType = "usability"
	ImprovementSecurity      ImprovementType = "security"
	ImprovementFeature       ImprovementType = "feature"
	ImprovementDocumentation ImprovementType = "documentation"
	ImprovementIntegration   ImprovementType = "integration"
)

// IsValid reports whether t is a known improvement type.
func (t ImprovementType) IsValid() bool {
	switch t {
	case ImprovementPerformance, ImprovementReliability, ImprovementUsability, ImprovementSecurity,
		ImprovementFeature, ImprovementDocumentation, ImprovementIntegration:
		return true
	}
	return false
}

// Severity is the ordinal urgency of an improvement.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
	SeverityUrgent Severity = "urgent"
)

// ParseSeverity converts a string to Severity. Unrecognized names map to
// SeverityMedium.
func ParseSeverity(s string) Severity {
	if sev, ok := LookupSeverity(s); ok {
		return sev
	}
	return SeverityMedium
}

// LookupSeverity converts a string to Severity, reporting whether the
// name is recognized.
func LookupSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, true
	case "medium":
		return SeverityMedium, true
	case "high":
		return SeverityHigh, true
	case "urgent", "critical":
		return SeverityUrgent, true
	default:
		return "", false
	}
}

// Rank orders severities from 1 (low) to 4 (urgent).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityUrgent:
		return 4
	default:
		return 0
	}
}

// Scope is the breadth of an improvement's impact.
type Scope string

const (
	ScopeTool      Scope = "tool"
	ScopeLifecycle Scope = "lifecycle"
	ScopeBoth      Scope = "both"
)

// DetectionMethod records how an improvement was found.
type DetectionMethod string

const (
	DetectionRule   DetectionMethod = "rule"
	DetectionAI     DetectionMethod = "ai"
	DetectionManual DetectionMethod = "manual"
)

// ImprovementStatus is the workflow state of an improvement.
type ImprovementStatus string

const (
	ImprovementOpen       ImprovementStatus = "open"
	ImprovementInProgress ImprovementStatus = "in_progress"
	ImprovementResolved   ImprovementStatus = "resolved"
	ImprovementDismissed  ImprovementStatus = "dismissed"
	ImprovementDeferred   ImprovementStatus = "deferred"
)

// IsActive reports whether the improvement is still being worked on.
func (s ImprovementStatus) IsActive() bool {
	return s == ImprovementOpen || s == ImprovementInProgress
}

// Improvement is a persisted improvement suggestion.
type Improvement struct {
	ID               string            `json:"id"`
	Type             ImprovementType   `json:"type"`
	Severity         Severity          `json:"severity"`
	Scope            Scope             `json:"scope"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	SuggestedAction  string            `json:"suggested_action,omitempty"`
	AffectedTools    []Tool            `json:"affected_tools"`
	AffectedProjects []string          `json:"affected_projects"`
	DetectionMethod  DetectionMethod   `json:"detection_method"`
	DetectionContext string            `json:"detection_context"`
	Confidence       float64           `json:"confidence"`
	ExecutionID      string            `json:"execution_id,omitempty"`
	Status           ImprovementStatus `json:"status"`
	DetectedAt       time.Time         `json:"detected_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// AffectsTool reports whether t is among the affected tools.
func (i *Improvement) AffectsTool(t Tool) bool {
	for _, at := range i.AffectedTools {
		if at == t {
			return true
		}
	}
	return false
}

// AffectsProject reports whether p is among the affected projects.
func (i *Improvement) AffectsProject(p string) bool {
	for _, ap := range i.AffectedProjects {
		if ap == p {
			return true
		}
	}
	return false
}
