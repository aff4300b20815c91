package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
//
// Timestamps are stored as unix nanoseconds. task_dependencies has no foreign
// key on blocked_by: a dangling reference is a plan error for the validator
// to report, not something the store refuses to record.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		blocks TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		blocked_by TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (task_id, blocked_by),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_dependencies_blocked_by ON task_dependencies(blocked_by);

	CREATE TABLE IF NOT EXISTS task_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		at INTEGER NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_transitions_task_at
		ON task_transitions(task_id, at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
