package store

import (
	"context"
	"database/sql"
	"fmt"
)

// sqliteSchema mirrors db/migrations for the embedded backend. Positions are
// INTEGER (64-bit in sqlite) so the parking sentinels fit.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS task_statuses (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		status_id TEXT NOT NULL REFERENCES task_statuses(id),
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		assignee_id TEXT,
		category_id TEXT,
		priority TEXT NOT NULL DEFAULT 'none',
		start_date TEXT,
		due_date TEXT,
		created_by TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (organization_id, project_id, status_id, position)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_partition
		ON tasks (organization_id, project_id, status_id, position)`,
	`CREATE TABLE IF NOT EXISTS task_positions (
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		organization_id TEXT NOT NULL REFERENCES organizations(id),
		context TEXT NOT NULL,
		context_id TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL,
		PRIMARY KEY (task_id, context),
		UNIQUE (organization_id, context, context_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS change_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		change_set TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_change_records_task
		ON change_records (task_id, organization_id)`,
}

// ApplySQLiteSchema creates the embedded backend's schema.
func ApplySQLiteSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}
