package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aristath/taskgraph/internal/conflict"
	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/gate"
	"github.com/aristath/taskgraph/internal/persistence"
	"github.com/aristath/taskgraph/internal/scheduler"
	"github.com/aristath/taskgraph/internal/staleness"
)

// dispatchSlotKey serializes dispatches when a concurrency cap is set, so two
// claims in this process cannot both pass the capacity check.
const dispatchSlotKey = "dispatch:slots"

// Gate evaluates the pre-dispatch gate for a task against a fresh snapshot.
func (e *Engine) Gate(ctx context.Context, taskID string) (gate.Decision, error) {
	d, err := e.Snapshot(ctx)
	if err != nil {
		return gate.Decision{}, err
	}
	return e.gate(d, taskID), nil
}

func (e *Engine) gate(d *scheduler.DAG, taskID string) gate.Decision {
	decision := gate.Evaluate(d, taskID, e.opts.Gate)
	e.events.Publish(events.GateDecisionEvent{
		ID:          taskID,
		CanDispatch: decision.CanDispatch,
		Reasons:     decision.Reasons(),
		Timestamp:   e.now(),
	})
	return decision
}

// Dispatch claims a task for owner: it gates the task on a fresh snapshot and
// then moves it pending -> in_progress with a compare-and-set. An empty owner
// gets a generated one.
//
// The returned decision is always populated when the gate ran. A refusal
// returns ErrNotDispatchable; losing the claim race to another process
// returns persistence.ErrStatusConflict.
func (e *Engine) Dispatch(ctx context.Context, taskID, owner string) (*scheduler.Task, gate.Decision, error) {
	if owner == "" {
		owner = "agent-" + uuid.NewString()
	}

	// Pre-read to learn which files to lock. The gate itself runs on the
	// snapshot taken after the locks are held.
	pre, err := e.store.GetTask(ctx, taskID)
	if err != nil && !errors.Is(err, persistence.ErrTaskNotFound) {
		return nil, gate.Decision{}, err
	}

	keys := []string{scheduler.TaskLockKey(taskID)}
	if pre != nil {
		for _, f := range conflict.ExtractFiles(pre) {
			keys = append(keys, scheduler.FileLockKey(f))
		}
	}
	if e.opts.Gate.ConcurrencyLimit > 0 {
		keys = append(keys, dispatchSlotKey)
	}
	release := e.locks.Acquire(keys...)
	defer release()

	d, err := e.Snapshot(ctx)
	if err != nil {
		return nil, gate.Decision{}, err
	}

	decision := e.gate(d, taskID)
	if !decision.CanDispatch {
		e.logger.Info("dispatch refused", "task", taskID, "reasons", decision.Reasons())
		return nil, decision, fmt.Errorf("%w: %s", ErrNotDispatchable, taskID)
	}

	// Pin the claim to the gated record: any write since the snapshot, such as
	// a blocker added by another process, turns the claim into a conflict
	gated, _ := d.Get(taskID)
	task, err := e.store.CompareAndSwapStatus(ctx, taskID, persistence.StatusChange{
		Expected:        scheduler.TaskPending,
		Next:            scheduler.TaskInProgress,
		Owner:           owner,
		Reason:          "dispatch",
		ExpectedVersion: gated.Version,
	})
	if err != nil {
		if errors.Is(err, persistence.ErrStatusConflict) {
			e.logger.Warn("claim lost to concurrent writer", "task", taskID, "owner", owner)
		}
		return nil, decision, err
	}

	e.logger.Info("task claimed", "task", taskID, "owner", owner)
	e.events.Publish(events.TaskClaimedEvent{ID: taskID, Owner: owner, Timestamp: e.now()})
	return task, decision, nil
}

// Complete moves an in_progress task to completed.
func (e *Engine) Complete(ctx context.Context, taskID string) (*scheduler.Task, error) {
	release := e.locks.Acquire(scheduler.TaskLockKey(taskID))
	defer release()

	current, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransition(scheduler.TaskCompleted) {
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, taskID, current.Status)
	}

	task, err := e.store.CompareAndSwapStatus(ctx, taskID, persistence.StatusChange{
		Expected:        scheduler.TaskInProgress,
		Next:            scheduler.TaskCompleted,
		Owner:           current.Owner,
		Reason:          "complete",
		ExpectedVersion: current.Version,
	})
	if err != nil {
		return nil, err
	}

	duration := e.now().Sub(current.UpdatedAt)
	if current.UpdatedAt.IsZero() || duration < 0 {
		duration = 0
	}

	e.logger.Info("task completed", "task", taskID, "owner", task.Owner, "duration", duration)
	e.events.Publish(events.TaskCompletedEvent{
		ID:        taskID,
		Owner:     task.Owner,
		Duration:  duration,
		Timestamp: e.now(),
	})
	return task, nil
}

// Reset returns a task to pending and clears its owner. Resetting a pending
// task only refreshes its mutation time. Completed tasks cannot be reset.
func (e *Engine) Reset(ctx context.Context, taskID, reason string) (*scheduler.Task, error) {
	release := e.locks.Acquire(scheduler.TaskLockKey(taskID))
	defer release()

	current, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return e.reset(ctx, current, reason)
}

func (e *Engine) reset(ctx context.Context, current *scheduler.Task, reason string) (*scheduler.Task, error) {
	if current.Status == scheduler.TaskCompleted {
		return nil, fmt.Errorf("%w: task %s is completed", ErrInvalidTransition, current.ID)
	}
	if reason == "" {
		reason = "manual reset"
	}

	target := staleness.ResetTarget(current)
	task, err := e.store.CompareAndSwapStatus(ctx, current.ID, persistence.StatusChange{
		Expected:        current.Status,
		Next:            target.Status,
		Owner:           current.Owner, // Recorded in history; the store clears the owner
		Reason:          reason,
		ExpectedVersion: current.Version,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("task reset",
		"task", current.ID,
		"previous_status", current.Status,
		"previous_owner", current.Owner,
		"reason", reason)
	e.events.Publish(events.TaskResetEvent{
		ID:             current.ID,
		PreviousStatus: current.Status,
		PreviousOwner:  current.Owner,
		Reason:         reason,
		Timestamp:      e.now(),
	})
	return task, nil
}

// ResetStale resets every task the staleness detector flags. A task written
// by anyone since the scan is skipped, even if its status is unchanged. The returned list holds the
// tasks that were actually reset.
func (e *Engine) ResetStale(ctx context.Context) ([]staleness.StaleTask, error) {
	stale, err := e.Stale(ctx)
	if err != nil {
		return nil, err
	}

	reset := []staleness.StaleTask{}
	for _, s := range stale {
		if err := ctx.Err(); err != nil {
			return reset, err
		}

		release := e.locks.Acquire(scheduler.TaskLockKey(s.Task.ID))
		_, err := e.reset(ctx, s.Task, "stale: "+s.Reason)
		release()

		if errors.Is(err, persistence.ErrStatusConflict) {
			e.logger.Warn("skipping stale reset, task changed since scan", "task", s.Task.ID)
			continue
		}
		if err != nil {
			return reset, fmt.Errorf("resetting stale task %s: %w", s.Task.ID, err)
		}
		reset = append(reset, s)
	}
	return reset, nil
}
