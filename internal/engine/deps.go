package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/persistence"
	"github.com/aristath/taskgraph/internal/scheduler"
)

// AddDependency makes taskID wait for blockerID. Only the task's blockedBy
// is authoritative; the blocker's stored blocks mirror is refreshed from the
// derived index afterwards. Adding an edge that already exists is a no-op.
func (e *Engine) AddDependency(ctx context.Context, taskID, blockerID string) error {
	if taskID == blockerID {
		return fmt.Errorf("%w: task %s cannot depend on itself", ErrDependencyCycle, taskID)
	}

	release := e.locks.Acquire(scheduler.TaskLockKey(taskID), scheduler.TaskLockKey(blockerID))
	defer release()

	d, err := e.Snapshot(ctx)
	if err != nil {
		return err
	}
	task, err := requireTask(d, taskID)
	if err != nil {
		return err
	}
	if _, err := requireTask(d, blockerID); err != nil {
		return err
	}
	if task.HasBlocker(blockerID) {
		return nil
	}
	if d.Reaches(blockerID, taskID) {
		return fmt.Errorf("%w: %s already depends on %s", ErrDependencyCycle, blockerID, taskID)
	}

	blockedBy := append(task.BlockedBy, blockerID)
	if err := e.store.SetDependencies(ctx, taskID, blockedBy); err != nil {
		return fmt.Errorf("adding dependency %s -> %s: %w", taskID, blockerID, err)
	}

	dependents := append(d.DependentsOf(blockerID), taskID)
	if err := e.store.SetBlocksMirror(ctx, blockerID, dependents); err != nil {
		return fmt.Errorf("refreshing blocks of %s: %w", blockerID, err)
	}

	e.logger.Info("dependency added", "task", taskID, "blocker", blockerID)
	e.events.Publish(events.DependencyChangedEvent{
		ID:        taskID,
		BlockerID: blockerID,
		Added:     true,
		Timestamp: e.now(),
	})
	return nil
}

// RemoveDependency drops blockerID from taskID's blockedBy. The blocker may
// be a dangling reference; removing an edge that does not exist is a no-op.
func (e *Engine) RemoveDependency(ctx context.Context, taskID, blockerID string) error {
	release := e.locks.Acquire(scheduler.TaskLockKey(taskID), scheduler.TaskLockKey(blockerID))
	defer release()

	d, err := e.Snapshot(ctx)
	if err != nil {
		return err
	}
	task, err := requireTask(d, taskID)
	if err != nil {
		return err
	}
	if !task.HasBlocker(blockerID) {
		return nil
	}

	blockedBy := make([]string, 0, len(task.BlockedBy))
	for _, dep := range task.BlockedBy {
		if dep != blockerID {
			blockedBy = append(blockedBy, dep)
		}
	}
	if err := e.store.SetDependencies(ctx, taskID, blockedBy); err != nil {
		return fmt.Errorf("removing dependency %s -> %s: %w", taskID, blockerID, err)
	}

	if d.Has(blockerID) {
		dependents := make([]string, 0)
		for _, id := range d.DependentsOf(blockerID) {
			if id != taskID {
				dependents = append(dependents, id)
			}
		}
		err := e.store.SetBlocksMirror(ctx, blockerID, dependents)
		if err != nil && !errors.Is(err, persistence.ErrTaskNotFound) {
			return fmt.Errorf("refreshing blocks of %s: %w", blockerID, err)
		}
	}

	e.logger.Info("dependency removed", "task", taskID, "blocker", blockerID)
	e.events.Publish(events.DependencyChangedEvent{
		ID:        taskID,
		BlockerID: blockerID,
		Added:     false,
		Timestamp: e.now(),
	})
	return nil
}

// Import writes a batch of task records. Stored blocks mirrors are replaced
// by the index derived from the imported set merged over the current store,
// so a consistent import never trips the inconsistent_blocks warning.
func (e *Engine) Import(ctx context.Context, tasks []*scheduler.Task) (int, error) {
	current, err := e.store.ListTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading task snapshot: %w", err)
	}

	merged := make(map[string]*scheduler.Task, len(current)+len(tasks))
	order := make([]string, 0, len(current)+len(tasks))
	for _, t := range current {
		merged[t.ID] = t
		order = append(order, t.ID)
	}
	for _, t := range tasks {
		if t == nil || t.ID == "" {
			return 0, fmt.Errorf("import: task without id")
		}
		if _, ok := merged[t.ID]; !ok {
			order = append(order, t.ID)
		}
		merged[t.ID] = t
	}

	all := make([]*scheduler.Task, 0, len(order))
	for _, id := range order {
		all = append(all, merged[id])
	}
	d := scheduler.NewDAG(all)

	for i, t := range tasks {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		record := t.Clone()
		record.Blocks = d.DependentsOf(t.ID)
		if err := e.store.SaveTask(ctx, record); err != nil {
			return i, fmt.Errorf("importing task %s: %w", t.ID, err)
		}
	}

	// Existing tasks gained dependents from the imported set.
	imported := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		imported[t.ID] = true
	}
	for _, t := range current {
		if imported[t.ID] {
			continue
		}
		if err := e.store.SetBlocksMirror(ctx, t.ID, d.DependentsOf(t.ID)); err != nil {
			return len(tasks), fmt.Errorf("refreshing blocks of %s: %w", t.ID, err)
		}
	}

	e.logger.Info("tasks imported", "count", len(tasks))
	return len(tasks), nil
}

func requireTask(d *scheduler.DAG, taskID string) (*scheduler.Task, error) {
	task, ok := d.Get(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrTaskNotFound, taskID)
	}
	return task, nil
}
