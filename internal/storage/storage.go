// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/toolwatch/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Executions() ExecutionRepository
	Improvements() ImprovementRepository
	Alerts() AlertRepository
	Cooldowns() CooldownRepository
}

// ExecutionFilter selects executions. Zero values do not filter.
// Results are ordered most recent first.
type ExecutionFilter struct {
	Tool      models.Tool
	Project   string
	Status    models.ExecutionStatus
	Since     time.Time
	Until     time.Time
	ExcludeID string
	Limit     int
}

// ExecutionRepository stores immutable execution records.
type ExecutionRepository interface {
	Insert(ctx context.Context, exec *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	Query(ctx context.Context, filter ExecutionFilter) ([]*models.Execution, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ImprovementFilter selects improvements. Zero values do not filter.
// Results are ordered most recently detected first.
type ImprovementFilter struct {
	Statuses []models.ImprovementStatus
	Type     models.ImprovementType
	Severity models.Severity
	Tool     models.Tool
	Project  string
	// ContextContains matches a substring of the detection context.
	ContextContains string
	Since           time.Time
	Limit           int
}

// ImprovementRepository stores improvement suggestions.
type ImprovementRepository interface {
	// Insert assigns id, timestamps and status "open" when unset.
	Insert(ctx context.Context, imp *models.Improvement) error
	GetByID(ctx context.Context, id string) (*models.Improvement, error)
	Query(ctx context.Context, filter ImprovementFilter) ([]*models.Improvement, error)
	UpdateStatus(ctx context.Context, id string, status models.ImprovementStatus) (*models.Improvement, error)
}

// AlertFilter selects alerts. Zero values do not filter.
// Results are ordered most recently triggered first.
type AlertFilter struct {
	Statuses []models.AlertStatus
	RuleID   string
	Category models.AlertCategory
	Severity models.AlertSeverity
	Tool     models.Tool
	Project  string
	Since    time.Time
	Limit    int
}

// AlertRepository stores alerts and answers durable cooldown queries.
type AlertRepository interface {
	// Insert assigns id, timestamps and status "active" when unset.
	Insert(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	Query(ctx context.Context, filter AlertFilter) ([]*models.Alert, error)
	// Update applies a status transition; returns ErrNotFound for unknown ids.
	Update(ctx context.Context, id string, update models.AlertUpdate, at time.Time) (*models.Alert, error)
	AppendNotification(ctx context.Context, id string, rec models.NotificationRecord) error
	// IsRuleInCooldown reports whether any alert triggered by ruleID has a
	// trigger time within window before now.
	IsRuleInCooldown(ctx context.Context, ruleID string, window time.Duration, now time.Time) (bool, error)
}

// CooldownRepository persists detection rule cooldown entries keyed by
// (rule id, tool, project).
type CooldownRepository interface {
	Record(ctx context.Context, ruleID string, tool models.Tool, project string, at time.Time) error
	LastTriggered(ctx context.Context, ruleID string, tool models.Tool, project string) (time.Time, bool, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
