package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
// Timestamps are INTEGER Unix nanoseconds.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Executions are immutable once inserted
			CREATE TABLE IF NOT EXISTS executions (
				id TEXT PRIMARY KEY,
				timestamp INTEGER NOT NULL,
				tool TEXT NOT NULL,
				project TEXT NOT NULL,
				project_path TEXT,
				command TEXT NOT NULL,
				duration_ms INTEGER NOT NULL CHECK (duration_ms >= 0),
				status TEXT NOT NULL,
				error_category TEXT,
				error_message TEXT,
				error_stack TEXT,
				context_json TEXT NOT NULL DEFAULT '{}',
				metadata_json TEXT NOT NULL DEFAULT '{}'
			);

			-- Improvement suggestions
			CREATE TABLE IF NOT EXISTS improvements (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				severity TEXT NOT NULL,
				scope TEXT NOT NULL,
				title TEXT NOT NULL,
				description TEXT,
				suggested_action TEXT,
				affected_tools_json TEXT NOT NULL DEFAULT '[]',
				affected_projects_json TEXT NOT NULL DEFAULT '[]',
				detection_method TEXT NOT NULL,
				detection_context TEXT NOT NULL,
				confidence REAL NOT NULL,
				execution_id TEXT,
				status TEXT NOT NULL DEFAULT 'open',
				detected_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);

			-- Alerts
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				category TEXT NOT NULL,
				severity TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'active',
				title TEXT NOT NULL,
				message TEXT NOT NULL,
				tool TEXT,
				project TEXT,
				triggered_at INTEGER NOT NULL,
				triggered_by TEXT NOT NULL,
				context_json TEXT NOT NULL DEFAULT '{}',
				related_ids_json TEXT NOT NULL DEFAULT '[]',
				notifications_json TEXT NOT NULL DEFAULT '[]',
				acknowledged_at INTEGER,
				acknowledged_by TEXT,
				resolved_at INTEGER,
				resolved_by TEXT,
				resolution TEXT,
				suppressed_until INTEGER,
				suppressed_by TEXT,
				updated_at INTEGER NOT NULL
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_executions_timestamp ON executions(timestamp);
			CREATE INDEX IF NOT EXISTS idx_executions_tool ON executions(tool, timestamp);
			CREATE INDEX IF NOT EXISTS idx_executions_project ON executions(project, timestamp);
			CREATE INDEX IF NOT EXISTS idx_improvements_status ON improvements(status, detected_at);
			CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
			CREATE INDEX IF NOT EXISTS idx_alerts_rule ON alerts(triggered_by, triggered_at);
		`,
	},
	{
		Version: 2,
		Name:    "detection_cooldowns",
		Up: `
			CREATE TABLE IF NOT EXISTS detection_cooldowns (
				rule_id TEXT NOT NULL,
				tool TEXT NOT NULL,
				project TEXT NOT NULL,
				triggered_at INTEGER NOT NULL,
				PRIMARY KEY (rule_id, tool, project)
			);

			CREATE INDEX IF NOT EXISTS idx_cooldowns_triggered ON detection_cooldowns(triggered_at);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	// Apply pending migrations
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		// Run migration in transaction
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now().UnixNano(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
