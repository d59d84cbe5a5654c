package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/toolwatch/internal/metrics"
	"github.com/good-yellow-bee/toolwatch/internal/models"
)

type sqliteExecutionRepo struct {
	db *sql.DB
}

const executionColumns = `id, timestamp, tool, project, project_path, command, duration_ms, status,
	error_category, error_message, error_stack, context_json, metadata_json`

func (r *sqliteExecutionRepo) Insert(ctx context.Context, exec *models.Execution) error {
	exec.Normalize()
	if err := exec.Validate(); err != nil {
		return fmt.Errorf("invalid execution: %w", err)
	}
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.Timestamp.IsZero() {
		exec.Timestamp = time.Now()
	}

	contextJSON, err := marshalMap(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	metadataJSON, err := marshalMap(exec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `INSERT INTO executions (` + executionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		exec.ID, toNanos(exec.Timestamp), exec.Tool, exec.Project, nullString(exec.ProjectPath),
		exec.Command, exec.DurationMs, exec.Status,
		nullString(string(exec.ErrorCategory)), nullString(exec.ErrorMessage), nullString(exec.ErrorStack),
		contextJSON, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	metrics.ExecutionsRecordedTotal.WithLabelValues(string(exec.Tool), string(exec.Status)).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(exec.Tool)).Observe(float64(exec.DurationMs) / 1000)
	return nil
}

func (r *sqliteExecutionRepo) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = ?`
	exec, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return exec, err
}

func (r *sqliteExecutionRepo) Query(ctx context.Context, f ExecutionFilter) ([]*models.Execution, error) {
	var w whereClause
	if f.Tool != "" {
		w.add("tool = ?", f.Tool)
	}
	if f.Project != "" {
		w.add("project = ?", f.Project)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if !f.Since.IsZero() {
		w.add("timestamp >= ?", toNanos(f.Since))
	}
	if !f.Until.IsZero() {
		w.add("timestamp <= ?", toNanos(f.Until))
	}
	if f.ExcludeID != "" {
		w.add("id != ?", f.ExcludeID)
	}

	query := `SELECT ` + executionColumns + ` FROM executions` + w.String() + ` ORDER BY timestamp DESC, rowid DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var execs []*models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func (r *sqliteExecutionRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM executions WHERE timestamp < ?", toNanos(before))
	if err != nil {
		return 0, fmt.Errorf("delete executions: %w", err)
	}
	return result.RowsAffected()
}

func scanExecution(row scanner) (*models.Execution, error) {
	exec := &models.Execution{}
	var ts int64
	var projectPath, errorCategory, errorMessage, errorStack sql.NullString
	var contextJSON, metadataJSON string

	err := row.Scan(
		&exec.ID, &ts, &exec.Tool, &exec.Project, &projectPath, &exec.Command, &exec.DurationMs, &exec.Status,
		&errorCategory, &errorMessage, &errorStack, &contextJSON, &metadataJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	exec.Timestamp = fromNanos(ts)
	exec.ProjectPath = projectPath.String
	exec.ErrorCategory = models.ErrorCategory(errorCategory.String)
	exec.ErrorMessage = errorMessage.String
	exec.ErrorStack = errorStack.String

	if exec.Context, err = unmarshalMap(contextJSON); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	if exec.Metadata, err = unmarshalMap(metadataJSON); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return exec, nil
}

func marshalMap(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMap(s string) (map[string]interface{}, error) {
	m := make(map[string]interface{})
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
