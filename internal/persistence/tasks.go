package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/taskgraph/internal/scheduler"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const taskColumns = `id, subject, description, status, owner, blocks, metadata, version, updated_at`

// SaveTask saves or updates a task and its dependencies.
// Uses ON CONFLICT to make saves idempotent. Each save bumps the version and
// stamps updated_at from the store clock. BlockedBy entries are stored as
// given, even when they name tasks that do not exist.
func (s *SQLiteStore) SaveTask(ctx context.Context, task *scheduler.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task id is required")
	}

	status := task.Status
	if status == "" {
		status = scheduler.TaskPending
	}

	blocks, err := json.Marshal(nonNil(task.Blocks))
	if err != nil {
		return fmt.Errorf("failed to encode blocks: %w", err)
	}
	metadata := task.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC().UnixNano()

	// Upsert task (insert or update on conflict)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, subject, description, status, owner, blocks, metadata, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subject = excluded.subject,
			description = excluded.description,
			status = excluded.status,
			owner = excluded.owner,
			blocks = excluded.blocks,
			metadata = excluded.metadata,
			version = tasks.version + 1,
			updated_at = excluded.updated_at
	`, task.ID, task.Subject, task.Description, string(status), task.Owner, string(blocks), string(metaJSON), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}

	if err := replaceDependencies(ctx, tx, task.ID, task.BlockedBy); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// SetDependencies implements Store.
func (s *SQLiteStore) SetDependencies(ctx context.Context, taskID string, blockedBy []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET version = version + 1, updated_at = ? WHERE id = ?
	`, s.now().UTC().UnixNano(), taskID)
	if err != nil {
		return fmt.Errorf("failed to touch task: %w", err)
	}
	if err := requireRow(res, taskID); err != nil {
		return err
	}

	if err := replaceDependencies(ctx, tx, taskID, blockedBy); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// SetBlocksMirror implements Store. The version is bumped but updated_at is
// left alone, so refreshing derived data never resets a staleness clock.
func (s *SQLiteStore) SetBlocksMirror(ctx context.Context, taskID string, blocks []string) error {
	data, err := json.Marshal(nonNil(blocks))
	if err != nil {
		return fmt.Errorf("failed to encode blocks: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET blocks = ?, version = version + 1 WHERE id = ?
	`, string(data), taskID)
	if err != nil {
		return fmt.Errorf("failed to update blocks: %w", err)
	}
	return requireRow(res, taskID)
}

// replaceDependencies swaps the stored blockedBy list of taskID, keeping order
// and dropping duplicates.
func replaceDependencies(ctx context.Context, tx *sql.Tx, taskID string, blockedBy []string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}

	seen := make(map[string]bool, len(blockedBy))
	for pos, depID := range blockedBy {
		if seen[depID] {
			continue
		}
		seen[depID] = true

		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, blocked_by, position)
			VALUES (?, ?, ?)
		`, taskID, depID, pos)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", taskID, depID, err)
		}
	}
	return nil
}

func requireRow(res sql.Result, taskID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return nil
}

// GetTask retrieves a task by ID, including its dependencies.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*scheduler.Task, error) {
	return getTask(ctx, s.db, taskID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getTask(ctx context.Context, q querier, taskID string) (*scheduler.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	// Load dependencies
	rows, err := q.QueryContext(ctx, `
		SELECT blocked_by
		FROM task_dependencies
		WHERE task_id = ?
		ORDER BY position
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var depID string
		if err := rows.Scan(&depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		task.BlockedBy = append(task.BlockedBy, depID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}

	return task, nil
}

// ListTasks returns all tasks with their dependencies, in insertion order.
// Both queries run in one transaction, so the edges always belong to the
// same moment as the task rows.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*scheduler.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Read-only; nothing to commit

	// Query all tasks
	rows, err := tx.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	tasks := []*scheduler.Task{}
	byID := make(map[string]*scheduler.Task)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
		byID[task.ID] = task
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	// Load every dependency in one pass once the task cursor is closed, so a
	// single connection is enough
	depRows, err := tx.QueryContext(ctx, `
		SELECT task_id, blocked_by
		FROM task_dependencies
		ORDER BY task_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer depRows.Close()

	for depRows.Next() {
		var taskID, depID string
		if err := depRows.Scan(&taskID, &depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		if task, ok := byID[taskID]; ok {
			task.BlockedBy = append(task.BlockedBy, depID)
		}
	}

	if err := depRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}

	return tasks, nil
}

// CompareAndSwapStatus implements Store. The status check and the write are
// one UPDATE, so two callers racing on the same expected status cannot both
// succeed. Moving to pending clears the owner.
func (s *SQLiteStore) CompareAndSwapStatus(ctx context.Context, taskID string, change StatusChange) (*scheduler.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC().UnixNano()

	// Versions start at 1, so a zero ExpectedVersion turns the version check off
	var res sql.Result
	switch change.Next {
	case scheduler.TaskCompleted:
		res, err = tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND status = ? AND (? = 0 OR version = ?)
		`, string(change.Next), now, taskID, string(change.Expected), change.ExpectedVersion, change.ExpectedVersion)
	default:
		owner := change.Owner
		if change.Next == scheduler.TaskPending {
			owner = ""
		}
		res, err = tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, owner = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND status = ? AND (? = 0 OR version = ?)
		`, string(change.Next), owner, now, taskID, string(change.Expected), change.ExpectedVersion, change.ExpectedVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update task status: %w", err)
	}

	// Check whether the row matched
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		var current string
		var version int64
		err := tx.QueryRowContext(ctx, `SELECT status, version FROM tasks WHERE id = ?`, taskID).Scan(&current, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query task status: %w", err)
		}
		if current != string(change.Expected) {
			return nil, fmt.Errorf("%w: task %s is %s, expected %s", ErrStatusConflict, taskID, current, change.Expected)
		}
		return nil, fmt.Errorf("%w: task %s is at version %d, expected %d", ErrStatusConflict, taskID, version, change.ExpectedVersion)
	}

	// Record the transition (append-only)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_transitions (task_id, from_status, to_status, owner, reason, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, taskID, string(change.Expected), string(change.Next), change.Owner, change.Reason, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record transition: %w", err)
	}

	task, err := getTask(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return task, nil
}

// History returns the recorded status transitions of a task, oldest first.
// Returns empty slice (not nil) if there are none.
func (s *SQLiteStore) History(ctx context.Context, taskID string) ([]Transition, error) {
	// Double sort: at ASC, id ASC keeps order stable for identical timestamps
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, from_status, to_status, owner, reason, at
		FROM task_transitions
		WHERE task_id = ?
		ORDER BY at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := []Transition{}
	for rows.Next() {
		var tr Transition
		var from, to string
		var at int64
		if err := rows.Scan(&tr.TaskID, &from, &to, &tr.Owner, &tr.Reason, &at); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		tr.From = scheduler.TaskStatus(from)
		tr.To = scheduler.TaskStatus(to)
		tr.At = time.Unix(0, at).UTC()
		history = append(history, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return history, nil
}

func scanTask(row rowScanner) (*scheduler.Task, error) {
	task := &scheduler.Task{}
	var status, blocks, metadata string
	var updatedAt int64

	if err := row.Scan(&task.ID, &task.Subject, &task.Description, &status, &task.Owner, &blocks, &metadata, &task.Version, &updatedAt); err != nil {
		return nil, err
	}

	task.Status = scheduler.TaskStatus(status)
	task.UpdatedAt = time.Unix(0, updatedAt).UTC()

	if err := json.Unmarshal([]byte(blocks), &task.Blocks); err != nil {
		return nil, fmt.Errorf("failed to decode blocks of %s: %w", task.ID, err)
	}
	if len(task.Blocks) == 0 {
		task.Blocks = nil
	}
	if err := json.Unmarshal([]byte(metadata), &task.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of %s: %w", task.ID, err)
	}
	if len(task.Metadata) == 0 {
		task.Metadata = nil
	}

	return task, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
