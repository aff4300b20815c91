package staleness

import (
	"testing"
	"time"

	"github.com/aristath/taskgraph/internal/scheduler"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func taskAt(id string, status scheduler.TaskStatus, age time.Duration) *scheduler.Task {
	return &scheduler.Task{
		ID:        id,
		Status:    status,
		Owner:     "agent-" + id,
		UpdatedAt: now.Add(-age),
	}
}

func TestDetectInProgressBoundary(t *testing.T) {
	policy := DefaultPolicy()

	justUnder := taskAt("under", scheduler.TaskInProgress, policy.InProgressThreshold-time.Second)
	justOver := taskAt("over", scheduler.TaskInProgress, policy.InProgressThreshold+time.Second)
	exact := taskAt("exact", scheduler.TaskInProgress, policy.InProgressThreshold)

	stale := Detect([]*scheduler.Task{justUnder, justOver, exact}, now, policy)
	if len(stale) != 1 {
		t.Fatalf("Expected 1 stale task, got %d", len(stale))
	}
	if stale[0].Task.ID != "over" {
		t.Errorf("stale task = %s, want over", stale[0].Task.ID)
	}
	if stale[0].Reason != "in progress for 30 minutes" {
		t.Errorf("Reason = %q", stale[0].Reason)
	}
	if stale[0].StaleDurationMinutes != 30 {
		t.Errorf("StaleDurationMinutes = %d, want 30", stale[0].StaleDurationMinutes)
	}
}

func TestDetectPendingThreshold(t *testing.T) {
	policy := DefaultPolicy()

	old := taskAt("old", scheduler.TaskPending, 9*24*time.Hour+5*time.Minute)
	fresh := taskAt("fresh", scheduler.TaskPending, 6*24*time.Hour)

	stale := Detect([]*scheduler.Task{old, fresh}, now, policy)
	if len(stale) != 1 {
		t.Fatalf("Expected 1 stale task, got %d", len(stale))
	}
	if stale[0].Task.ID != "old" {
		t.Errorf("stale task = %s, want old", stale[0].Task.ID)
	}
	if stale[0].Reason != "pending for 9 days without updates" {
		t.Errorf("Reason = %q", stale[0].Reason)
	}
	if want := 9*24*60 + 5; stale[0].StaleDurationMinutes != want {
		t.Errorf("StaleDurationMinutes = %d, want %d", stale[0].StaleDurationMinutes, want)
	}
}

func TestDetectSkipsCompletedAndUnstamped(t *testing.T) {
	policy := DefaultPolicy()

	done := taskAt("done", scheduler.TaskCompleted, 365*24*time.Hour)
	unstamped := &scheduler.Task{ID: "new", Status: scheduler.TaskInProgress}

	if stale := Detect([]*scheduler.Task{done, unstamped, nil}, now, policy); len(stale) != 0 {
		t.Errorf("Expected nothing stale, got %+v", stale)
	}
}

func TestDetectCustomPolicy(t *testing.T) {
	policy := Policy{InProgressThreshold: 5 * time.Minute}

	task := taskAt("1", scheduler.TaskInProgress, 6*time.Minute)
	pending := taskAt("2", scheduler.TaskPending, 100*24*time.Hour)

	stale := Detect([]*scheduler.Task{task, pending}, now, policy)
	if len(stale) != 1 {
		t.Fatalf("a zero pending threshold disables the pending policy, got %d stale", len(stale))
	}
	if stale[0].Reason != "in progress for 6 minutes" {
		t.Errorf("Reason = %q", stale[0].Reason)
	}
}

func TestResetTargetExcludedFromNextScan(t *testing.T) {
	policy := DefaultPolicy()
	task := taskAt("1", scheduler.TaskInProgress, time.Hour)

	stale := Detect([]*scheduler.Task{task}, now, policy)
	if len(stale) != 1 {
		t.Fatalf("Expected 1 stale task, got %d", len(stale))
	}

	reset := ResetTarget(stale[0].Task)
	if reset.Status != scheduler.TaskPending || reset.Owner != "" {
		t.Errorf("reset target should be pending without owner: %+v", reset)
	}
	if task.Status != scheduler.TaskInProgress {
		t.Error("input must not be modified")
	}

	// The store stamps a fresh mutation time on write
	reset.UpdatedAt = now
	if again := Detect([]*scheduler.Task{reset}, now, policy); len(again) != 0 {
		t.Errorf("a freshly reset task must not be stale, got %+v", again)
	}
}
