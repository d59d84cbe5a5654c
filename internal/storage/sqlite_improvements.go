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

type sqliteImprovementRepo struct {
	db *sql.DB
}

const improvementColumns = `id, type, severity, scope, title, description, suggested_action,
	affected_tools_json, affected_projects_json, detection_method, detection_context, confidence,
	execution_id, status, detected_at, updated_at`

func (r *sqliteImprovementRepo) Insert(ctx context.Context, imp *models.Improvement) error {
	if imp.ID == "" {
		imp.ID = uuid.New().String()
	}
	if imp.Status == "" {
		imp.Status = models.ImprovementOpen
	}
	if imp.DetectionMethod == "" {
		imp.DetectionMethod = models.DetectionRule
	}
	now := time.Now()
	if imp.DetectedAt.IsZero() {
		imp.DetectedAt = now
	}
	if imp.UpdatedAt.IsZero() {
		imp.UpdatedAt = imp.DetectedAt
	}

	toolsJSON, err := json.Marshal(nonNilTools(imp.AffectedTools))
	if err != nil {
		return fmt.Errorf("marshal affected tools: %w", err)
	}
	projectsJSON, err := json.Marshal(nonNilStrings(imp.AffectedProjects))
	if err != nil {
		return fmt.Errorf("marshal affected projects: %w", err)
	}

	query := `INSERT INTO improvements (` + improvementColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		imp.ID, imp.Type, imp.Severity, imp.Scope, imp.Title, nullString(imp.Description),
		nullString(imp.SuggestedAction), string(toolsJSON), string(projectsJSON),
		imp.DetectionMethod, imp.DetectionContext, imp.Confidence, nullString(imp.ExecutionID),
		imp.Status, toNanos(imp.DetectedAt), toNanos(imp.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert improvement: %w", err)
	}
	return nil
}

func (r *sqliteImprovementRepo) GetByID(ctx context.Context, id string) (*models.Improvement, error) {
	query := `SELECT ` + improvementColumns + ` FROM improvements WHERE id = ?`
	imp, err := scanImprovement(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return imp, err
}

func (r *sqliteImprovementRepo) Query(ctx context.Context, f ImprovementFilter) ([]*models.Improvement, error) {
	var w whereClause
	statuses := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		statuses[i] = string(s)
	}
	w.in("status", statuses)
	if f.Type != "" {
		w.add("type = ?", f.Type)
	}
	if f.Severity != "" {
		w.add("severity = ?", f.Severity)
	}
	if f.ContextContains != "" {
		w.add("instr(detection_context, ?) > 0", f.ContextContains)
	}
	if !f.Since.IsZero() {
		w.add("detected_at >= ?", toNanos(f.Since))
	}

	query := `SELECT ` + improvementColumns + ` FROM improvements` + w.String() + ` ORDER BY detected_at DESC, rowid DESC`

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query improvements: %w", err)
	}
	defer rows.Close()

	var imps []*models.Improvement
	for rows.Next() {
		imp, err := scanImprovement(rows)
		if err != nil {
			return nil, err
		}
		// Tool and project live in JSON arrays, so they are filtered here.
		if f.Tool != "" && !imp.AffectsTool(f.Tool) {
			continue
		}
		if f.Project != "" && !imp.AffectsProject(f.Project) {
			continue
		}
		imps = append(imps, imp)
		if f.Limit > 0 && len(imps) >= f.Limit {
			break
		}
	}
	return imps, rows.Err()
}

func (r *sqliteImprovementRepo) UpdateStatus(ctx context.Context, id string, status models.ImprovementStatus) (*models.Improvement, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE improvements SET status = ?, updated_at = ? WHERE id = ?",
		status, toNanos(time.Now()), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update improvement: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func scanImprovement(row scanner) (*models.Improvement, error) {
	imp := &models.Improvement{}
	var description, suggestedAction, executionID sql.NullString
	var toolsJSON, projectsJSON string
	var detectedAt, updatedAt int64

	err := row.Scan(
		&imp.ID, &imp.Type, &imp.Severity, &imp.Scope, &imp.Title, &description, &suggestedAction,
		&toolsJSON, &projectsJSON, &imp.DetectionMethod, &imp.DetectionContext, &imp.Confidence,
		&executionID, &imp.Status, &detectedAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan improvement: %w", err)
	}

	imp.Description = description.String
	imp.SuggestedAction = suggestedAction.String
	imp.ExecutionID = executionID.String
	imp.DetectedAt = fromNanos(detectedAt)
	imp.UpdatedAt = fromNanos(updatedAt)

	if err := json.Unmarshal([]byte(toolsJSON), &imp.AffectedTools); err != nil {
		return nil, fmt.Errorf("unmarshal affected tools: %w", err)
	}
	if err := json.Unmarshal([]byte(projectsJSON), &imp.AffectedProjects); err != nil {
		return nil, fmt.Errorf("unmarshal affected projects: %w", err)
	}
	return imp, nil
}

func nonNilTools(t []models.Tool) []models.Tool {
	if t == nil {
		return []models.Tool{}
	}
	return t
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
