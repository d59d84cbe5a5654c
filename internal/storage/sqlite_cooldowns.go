package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/good-yellow-bee/toolwatch/internal/models"
)

type sqliteCooldownRepo struct {
	db *sql.DB
}

func (r *sqliteCooldownRepo) Record(ctx context.Context, ruleID string, tool models.Tool, project string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO detection_cooldowns (rule_id, tool, project, triggered_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (rule_id, tool, project) DO UPDATE SET triggered_at = excluded.triggered_at
	`, ruleID, tool, project, toNanos(at))
	if err != nil {
		return fmt.Errorf("record cooldown: %w", err)
	}
	return nil
}

func (r *sqliteCooldownRepo) LastTriggered(ctx context.Context, ruleID string, tool models.Tool, project string) (time.Time, bool, error) {
	var at int64
	err := r.db.QueryRowContext(ctx,
		"SELECT triggered_at FROM detection_cooldowns WHERE rule_id = ? AND tool = ? AND project = ?",
		ruleID, tool, project,
	).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get cooldown: %w", err)
	}
	return fromNanos(at), true, nil
}

func (r *sqliteCooldownRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM detection_cooldowns WHERE triggered_at < ?", toNanos(before))
	if err != nil {
		return 0, fmt.Errorf("delete cooldowns: %w", err)
	}
	return result.RowsAffected()
}
