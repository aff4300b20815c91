// Package staleness flags tasks that have sat in one status for too long.
package staleness

import (
	"fmt"
	"time"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// Policy holds the two independent staleness thresholds.
type Policy struct {
	InProgressThreshold time.Duration // Default 30 minutes
	PendingThreshold    time.Duration // Default 7 days
}

// DefaultPolicy returns the default thresholds.
func DefaultPolicy() Policy {
	return Policy{
		InProgressThreshold: 30 * time.Minute,
		PendingThreshold:    7 * 24 * time.Hour,
	}
}

// StaleTask is a task flagged by the detector.
type StaleTask struct {
	Task                 *scheduler.Task `json:"task"`
	Reason               string          `json:"reason"`
	StaleDurationMinutes int             `json:"staleDurationMinutes"`
}

// Detect returns the tasks whose last mutation is older than the threshold for
// their status. Ages equal to the threshold are not stale. Completed tasks are
// never stale, and tasks without a recorded mutation time are skipped.
func Detect(tasks []*scheduler.Task, now time.Time, policy Policy) []StaleTask {
	stale := []StaleTask{}
	for _, task := range tasks {
		if s, ok := Check(task, now, policy); ok {
			stale = append(stale, s)
		}
	}
	return stale
}

// Check applies the policy to a single task.
func Check(task *scheduler.Task, now time.Time, policy Policy) (StaleTask, bool) {
	if task == nil || task.UpdatedAt.IsZero() {
		return StaleTask{}, false
	}

	age := now.Sub(task.UpdatedAt)
	minutes := int(age / time.Minute)

	switch task.Status {
	case scheduler.TaskInProgress:
		if policy.InProgressThreshold <= 0 || age <= policy.InProgressThreshold {
			return StaleTask{}, false
		}
		return StaleTask{
			Task:                 task.Clone(),
			Reason:               fmt.Sprintf("in progress for %d minutes", minutes),
			StaleDurationMinutes: minutes,
		}, true

	case scheduler.TaskPending:
		if policy.PendingThreshold <= 0 || age <= policy.PendingThreshold {
			return StaleTask{}, false
		}
		return StaleTask{
			Task:                 task.Clone(),
			Reason:               fmt.Sprintf("pending for %d days without updates", int(age/(24*time.Hour))),
			StaleDurationMinutes: minutes,
		}, true
	}

	return StaleTask{}, false
}

// ResetTarget returns the record a reset writes for a stale task: pending with
// no owner. The store stamps the new mutation time.
func ResetTarget(task *scheduler.Task) *scheduler.Task {
	reset := task.Clone()
	reset.Status = scheduler.TaskPending
	reset.Owner = ""
	return reset
}
