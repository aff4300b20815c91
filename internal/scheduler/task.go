package scheduler

import (
	"fmt"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"     // Not started, may be blocked
	TaskInProgress TaskStatus = "in_progress" // Claimed by an owner
	TaskCompleted  TaskStatus = "completed"   // Finished; satisfies dependents
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a forward transition.
// The only backward move (in_progress -> pending) is a staleness reset and is
// not a transition in this sense.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskPending:
		return next == TaskInProgress
	case TaskInProgress:
		return next == TaskCompleted
	}
	return false
}

// MetadataFiles is the metadata key holding an explicit file list.
const MetadataFiles = "files"

// Task represents a unit of work in the dependency graph.
type Task struct {
	ID          string         `json:"id" yaml:"id"`
	Subject     string         `json:"subject" yaml:"subject"`
	Description string         `json:"description" yaml:"description"`
	Status      TaskStatus     `json:"status" yaml:"status"`
	Owner       string         `json:"owner,omitempty" yaml:"owner,omitempty"`
	BlockedBy   []string       `json:"blockedBy,omitempty" yaml:"blockedBy,omitempty"` // Authoritative dependency list
	Blocks      []string       `json:"blocks,omitempty" yaml:"blocks,omitempty"`       // Mirror of dependents; derived by DAG
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Owned by the store.
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt,omitempty"`
	Version   int64     `json:"version" yaml:"version,omitempty"`
}

// MetadataString returns the metadata value for key as a string.
// A missing key yields "" and false.
func (t *Task) MetadataString(key string) (string, bool) {
	if t.Metadata == nil {
		return "", false
	}
	v, ok := t.Metadata[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// HasBlocker reports whether id is listed in the task's blockedBy.
func (t *Task) HasBlocker(id string) bool {
	for _, dep := range t.BlockedBy {
		if dep == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	return cloneTask(t)
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.BlockedBy != nil {
		cp.BlockedBy = append([]string(nil), task.BlockedBy...)
	}
	if task.Blocks != nil {
		cp.Blocks = append([]string(nil), task.Blocks...)
	}
	if task.Metadata != nil {
		cp.Metadata = make(map[string]any, len(task.Metadata))
		for k, v := range task.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
