// Package gate decides whether a task may be handed to a worker right now.
//
// The decision is a pure function of one snapshot. It is advisory: a caller
// that acts on it must still claim the task with a compare-and-set against
// the store, since the snapshot may be stale by the time it is used.
package gate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aristath/taskgraph/internal/conflict"
	"github.com/aristath/taskgraph/internal/scheduler"
)

// CheckName identifies one step of the gate.
type CheckName string

const (
	CheckExists       CheckName = "exists"
	CheckStatus       CheckName = "status"
	CheckDependencies CheckName = "dependencies"
	CheckConcurrency  CheckName = "concurrency"
	CheckConflicts    CheckName = "conflicts"
	CheckDescription  CheckName = "description"
)

// Check is the outcome of one gate step. Severity is only meaningful when
// Passed is false.
type Check struct {
	Name      CheckName          `json:"name"`
	Passed    bool               `json:"passed"`
	Severity  scheduler.Severity `json:"severity,omitempty"`
	Message   string             `json:"message"`
	TaskIDs   []string           `json:"taskIds,omitempty"`
	Retryable bool               `json:"retryable,omitempty"` // Failure clears by waiting, not by editing the plan
}

// Decision is the gate result for one task.
type Decision struct {
	TaskID      string  `json:"taskId"`
	CanDispatch bool    `json:"canDispatch"`
	Checks      []Check `json:"checks"`
}

// Failed returns the checks that did not pass with the given severity.
func (d Decision) Failed(severity scheduler.Severity) []Check {
	var out []Check
	for _, c := range d.Checks {
		if !c.Passed && c.Severity == severity {
			out = append(out, c)
		}
	}
	return out
}

// Find returns the named check, if it ran.
func (d Decision) Find(name CheckName) (Check, bool) {
	for _, c := range d.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// Retryable reports whether every blocking failure is one that clears on its
// own, so the caller should wait and ask again.
func (d Decision) Retryable() bool {
	errs := d.Failed(scheduler.SeverityError)
	if len(errs) == 0 {
		return false
	}
	for _, c := range errs {
		if !c.Retryable {
			return false
		}
	}
	return true
}

// Reasons returns the messages of every failed check, errors first.
func (d Decision) Reasons() []string {
	var reasons []string
	for _, c := range d.Failed(scheduler.SeverityError) {
		reasons = append(reasons, c.Message)
	}
	for _, c := range d.Failed(scheduler.SeverityWarning) {
		reasons = append(reasons, c.Message)
	}
	return reasons
}

// Options configures the gate.
type Options struct {
	ConcurrencyLimit     int  // Max in_progress tasks; 0 disables the check
	MinDescriptionLength int  // Shorter descriptions get a warning; 0 disables
	WarnOnConflicts      bool // Compare file footprints against running tasks
}

// DefaultOptions returns the default gate settings.
func DefaultOptions() Options {
	return Options{
		ConcurrencyLimit:     4,
		MinDescriptionLength: 50,
		WarnOnConflicts:      true,
	}
}

// Evaluate runs the gate for taskID against the snapshot. A missing task
// fails fast; every other check runs so the caller sees the full picture.
func Evaluate(d *scheduler.DAG, taskID string, opts Options) Decision {
	dec := Decision{TaskID: taskID, Checks: []Check{}}

	task, ok := d.Get(taskID)
	if !ok {
		dec.Checks = append(dec.Checks, Check{
			Name:     CheckExists,
			Severity: scheduler.SeverityError,
			Message:  fmt.Sprintf("task %q does not exist", taskID),
			TaskIDs:  []string{taskID},
		})
		return dec
	}
	dec.Checks = append(dec.Checks, Check{Name: CheckExists, Passed: true, Message: "task exists"})

	dec.Checks = append(dec.Checks,
		checkStatus(task),
		checkDependencies(d, task),
		checkConcurrency(d, opts.ConcurrencyLimit),
	)
	if opts.WarnOnConflicts {
		dec.Checks = append(dec.Checks, checkConflicts(d, task))
	}
	if opts.MinDescriptionLength > 0 {
		dec.Checks = append(dec.Checks, checkDescription(task, opts.MinDescriptionLength))
	}

	dec.CanDispatch = len(dec.Failed(scheduler.SeverityError)) == 0
	return dec
}

func checkStatus(task *scheduler.Task) Check {
	if task.Status == scheduler.TaskPending {
		return Check{Name: CheckStatus, Passed: true, Message: "task is pending"}
	}

	msg := fmt.Sprintf("task is %s", task.Status)
	if task.Status == scheduler.TaskInProgress && task.Owner != "" {
		msg = fmt.Sprintf("task is in_progress (owner %s)", task.Owner)
	}
	return Check{
		Name:     CheckStatus,
		Severity: scheduler.SeverityError,
		Message:  msg,
		TaskIDs:  []string{task.ID},
	}
}

func checkDependencies(d *scheduler.DAG, task *scheduler.Task) Check {
	unmet := d.UnmetBlockers(task.ID)
	if len(unmet) == 0 {
		return Check{Name: CheckDependencies, Passed: true, Message: "all blockers completed"}
	}

	parts := make([]string, 0, len(unmet))
	for _, id := range unmet {
		if blocker, ok := d.Get(id); ok {
			parts = append(parts, fmt.Sprintf("%s (%s)", id, blocker.Status))
		} else {
			parts = append(parts, fmt.Sprintf("%s (missing)", id))
		}
	}
	return Check{
		Name:     CheckDependencies,
		Severity: scheduler.SeverityError,
		Message:  "unmet blockers: " + strings.Join(parts, ", "),
		TaskIDs:  unmet,
	}
}

func checkConcurrency(d *scheduler.DAG, limit int) Check {
	running := d.CountByStatus(scheduler.TaskInProgress)
	if limit <= 0 || running < limit {
		return Check{
			Name:    CheckConcurrency,
			Passed:  true,
			Message: fmt.Sprintf("%d in progress", running),
		}
	}
	return Check{
		Name:      CheckConcurrency,
		Severity:  scheduler.SeverityError,
		Message:   fmt.Sprintf("concurrency limit reached: %d of %d tasks in progress", running, limit),
		Retryable: true,
	}
}

func checkConflicts(d *scheduler.DAG, task *scheduler.Task) Check {
	var running []*scheduler.Task
	for _, t := range d.Tasks() {
		if t.Status == scheduler.TaskInProgress && t.ID != task.ID {
			running = append(running, t)
		}
	}

	conflicts := conflict.Against(d, task.ID, running)
	if len(conflicts) == 0 {
		return Check{Name: CheckConflicts, Passed: true, Message: "no file overlap with running tasks"}
	}

	ids := make([]string, 0, len(conflicts))
	parts := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		other := c.Other(task.ID)
		ids = append(ids, other)
		parts = append(parts, fmt.Sprintf("%s [%s] %s", other, c.Severity, strings.Join(c.Files, ", ")))
	}
	return Check{
		Name:     CheckConflicts,
		Severity: scheduler.SeverityWarning,
		Message:  "may overlap with running tasks: " + strings.Join(parts, "; "),
		TaskIDs:  ids,
	}
}

func checkDescription(task *scheduler.Task, minLength int) Check {
	n := utf8.RuneCountInString(strings.TrimSpace(task.Description))
	if n >= minLength {
		return Check{Name: CheckDescription, Passed: true, Message: "description looks sufficient"}
	}
	return Check{
		Name:     CheckDescription,
		Severity: scheduler.SeverityWarning,
		Message:  fmt.Sprintf("description is %d characters (minimum %d); a worker may lack context", n, minLength),
		TaskIDs:  []string{task.ID},
	}
}
