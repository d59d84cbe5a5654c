package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/toolwatch/internal/models"
)

type sqliteAlertRepo struct {
	db *sql.DB
}

const alertColumns = `id, category, severity, status, title, message, tool, project, triggered_at, triggered_by,
	context_json, related_ids_json, notifications_json, acknowledged_at, acknowledged_by,
	resolved_at, resolved_by, resolution, suppressed_until, suppressed_by, updated_at`

func (r *sqliteAlertRepo) Insert(ctx context.Context, alert *models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Status == "" {
		alert.Status = models.AlertActive
	}
	if alert.TriggeredAt.IsZero() {
		alert.TriggeredAt = time.Now()
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = alert.TriggeredAt
	}

	contextJSON, err := marshalMap(alert.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	relatedJSON, err := json.Marshal(nonNilStrings(alert.RelatedExecutionIDs))
	if err != nil {
		return fmt.Errorf("marshal related ids: %w", err)
	}
	notificationsJSON, err := marshalNotifications(alert.Notifications)
	if err != nil {
		return err
	}

	query := `INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		alert.ID, alert.Category, alert.Severity, alert.Status, alert.Title, alert.Message,
		nullString(string(alert.Tool)), nullString(alert.Project),
		toNanos(alert.TriggeredAt), alert.TriggeredBy,
		contextJSON, string(relatedJSON), notificationsJSON,
		nullNanos(alert.AcknowledgedAt), nullString(alert.AcknowledgedBy),
		nullNanos(alert.ResolvedAt), nullString(alert.ResolvedBy), nullString(alert.Resolution),
		nullNanos(alert.SuppressedUntil), nullString(alert.SuppressedBy),
		toNanos(alert.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`
	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

func (r *sqliteAlertRepo) Query(ctx context.Context, f AlertFilter) ([]*models.Alert, error) {
	var w whereClause
	statuses := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		statuses[i] = string(s)
	}
	w.in("status", statuses)
	if f.RuleID != "" {
		w.add("triggered_by = ?", f.RuleID)
	}
	if f.Category != "" {
		w.add("category = ?", f.Category)
	}
	if f.Severity != "" {
		w.add("severity = ?", f.Severity)
	}
	if f.Tool != "" {
		w.add("tool = ?", f.Tool)
	}
	if f.Project != "" {
		w.add("project = ?", f.Project)
	}
	if !f.Since.IsZero() {
		w.add("triggered_at >= ?", toNanos(f.Since))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts` + w.String() + ` ORDER BY triggered_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (r *sqliteAlertRepo) Update(ctx context.Context, id string, u models.AlertUpdate, at time.Time) (*models.Alert, error) {
	alert, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch u.Status {
	case models.AlertAcknowledged:
		alert.AcknowledgedAt = &at
		alert.AcknowledgedBy = u.Actor
	case models.AlertResolved:
		alert.ResolvedAt = &at
		alert.ResolvedBy = u.Actor
		alert.Resolution = u.Resolution
	case models.AlertSuppressed:
		alert.SuppressedUntil = u.SuppressedUntil
		alert.SuppressedBy = u.Actor
		if u.Resolution != "" {
			alert.Resolution = u.Resolution
		}
	case models.AlertActive:
	default:
		return nil, fmt.Errorf("invalid alert status %q", u.Status)
	}
	alert.Status = u.Status
	alert.UpdatedAt = at

	query := `
		UPDATE alerts SET status = ?, acknowledged_at = ?, acknowledged_by = ?,
			resolved_at = ?, resolved_by = ?, resolution = ?,
			suppressed_until = ?, suppressed_by = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		alert.Status, nullNanos(alert.AcknowledgedAt), nullString(alert.AcknowledgedBy),
		nullNanos(alert.ResolvedAt), nullString(alert.ResolvedBy), nullString(alert.Resolution),
		nullNanos(alert.SuppressedUntil), nullString(alert.SuppressedBy), toNanos(alert.UpdatedAt),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrNotFound
	}
	return alert, nil
}

func (r *sqliteAlertRepo) AppendNotification(ctx context.Context, id string, rec models.NotificationRecord) error {
	alert, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	notificationsJSON, err := marshalNotifications(append(alert.Notifications, rec))
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, "UPDATE alerts SET notifications_json = ? WHERE id = ?", notificationsJSON, id)
	if err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) IsRuleInCooldown(ctx context.Context, ruleID string, window time.Duration, now time.Time) (bool, error) {
	if window <= 0 {
		return false, nil
	}
	var exists int
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM alerts WHERE triggered_by = ? AND triggered_at >= ?)",
		ruleID, toNanos(now.Add(-window)),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check rule cooldown: %w", err)
	}
	return exists != 0, nil
}

func scanAlert(row scanner) (*models.Alert, error) {
	alert := &models.Alert{}
	var tool, project, acknowledgedBy, resolvedBy, resolution, suppressedBy sql.NullString
	var acknowledgedAt, resolvedAt, suppressedUntil sql.NullInt64
	var triggeredAt, updatedAt int64
	var contextJSON, relatedJSON, notificationsJSON string

	err := row.Scan(
		&alert.ID, &alert.Category, &alert.Severity, &alert.Status, &alert.Title, &alert.Message,
		&tool, &project, &triggeredAt, &alert.TriggeredBy,
		&contextJSON, &relatedJSON, &notificationsJSON,
		&acknowledgedAt, &acknowledgedBy, &resolvedAt, &resolvedBy, &resolution,
		&suppressedUntil, &suppressedBy, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	alert.Tool = models.Tool(tool.String)
	alert.Project = project.String
	alert.TriggeredAt = fromNanos(triggeredAt)
	alert.UpdatedAt = fromNanos(updatedAt)
	alert.AcknowledgedAt = fromNullNanos(acknowledgedAt)
	alert.AcknowledgedBy = acknowledgedBy.String
	alert.ResolvedAt = fromNullNanos(resolvedAt)
	alert.ResolvedBy = resolvedBy.String
	alert.Resolution = resolution.String
	alert.SuppressedUntil = fromNullNanos(suppressedUntil)
	alert.SuppressedBy = suppressedBy.String

	if alert.Context, err = unmarshalMap(contextJSON); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	if err := json.Unmarshal([]byte(relatedJSON), &alert.RelatedExecutionIDs); err != nil {
		return nil, fmt.Errorf("unmarshal related ids: %w", err)
	}
	if err := json.Unmarshal([]byte(notificationsJSON), &alert.Notifications); err != nil {
		return nil, fmt.Errorf("unmarshal notifications: %w", err)
	}
	return alert, nil
}

func marshalNotifications(recs []models.NotificationRecord) (string, error) {
	if recs == nil {
		recs = []models.NotificationRecord{}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return "", fmt.Errorf("marshal notifications: %w", err)
	}
	return string(data), nil
}
