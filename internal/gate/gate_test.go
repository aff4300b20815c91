package gate

import (
	"reflect"
	"strings"
	"testing"

	"github.com/aristath/taskgraph/internal/scheduler"
)

const longDescription = "Implement the handler, wire it into the router and cover it with table tests."

func scenario() *scheduler.DAG {
	return scheduler.NewDAG([]*scheduler.Task{
		{ID: "1", Status: scheduler.TaskCompleted, Description: longDescription},
		{ID: "2", Status: scheduler.TaskPending, BlockedBy: []string{"1"}, Description: longDescription},
		{ID: "3", Status: scheduler.TaskPending, BlockedBy: []string{"1"}, Description: longDescription},
		{ID: "4", Status: scheduler.TaskPending, BlockedBy: []string{"2", "3"}, Description: longDescription},
	})
}

func mustFind(t *testing.T, dec Decision, name CheckName) Check {
	t.Helper()
	check, ok := dec.Find(name)
	if !ok {
		t.Fatalf("Expected a %s check in %+v", name, dec.Checks)
	}
	return check
}

func TestEvaluateScenario(t *testing.T) {
	d := scenario()

	ready := Evaluate(d, "2", DefaultOptions())
	if !ready.CanDispatch {
		t.Errorf("Expected task 2 to be dispatchable: %+v", ready)
	}
	if n := len(ready.Failed(scheduler.SeverityError)) + len(ready.Failed(scheduler.SeverityWarning)); n != 0 {
		t.Errorf("Expected no failed checks, got %d", n)
	}

	blocked := Evaluate(d, "4", DefaultOptions())
	if blocked.CanDispatch {
		t.Error("Expected task 4 to be blocked")
	}
	deps := mustFind(t, blocked, CheckDependencies)
	if deps.Passed {
		t.Error("Expected the dependencies check to fail")
	}
	if want := []string{"2", "3"}; !reflect.DeepEqual(deps.TaskIDs, want) {
		t.Errorf("TaskIDs = %v, want %v", deps.TaskIDs, want)
	}
	for _, part := range []string{"2 (pending)", "3 (pending)"} {
		if !strings.Contains(deps.Message, part) {
			t.Errorf("message %q should mention %q", deps.Message, part)
		}
	}
	if blocked.Retryable() {
		t.Error("unmet blockers are not a retryable refusal")
	}
}

func TestEvaluateMissingTaskFailsFast(t *testing.T) {
	dec := Evaluate(scenario(), "99", DefaultOptions())
	if dec.CanDispatch {
		t.Error("Expected a missing task to be refused")
	}
	if len(dec.Checks) != 1 {
		t.Fatalf("Expected exactly one check, got %+v", dec.Checks)
	}
	if dec.Checks[0].Name != CheckExists || dec.Checks[0].Severity != scheduler.SeverityError {
		t.Errorf("unexpected check: %+v", dec.Checks[0])
	}
}

func TestEvaluateStatus(t *testing.T) {
	d := scheduler.NewDAG([]*scheduler.Task{
		{ID: "run", Status: scheduler.TaskInProgress, Owner: "agent-7", Description: longDescription},
		{ID: "done", Status: scheduler.TaskCompleted, Description: longDescription},
	})

	for _, tt := range []struct {
		id   string
		want string
	}{
		{"run", "in_progress (owner agent-7)"},
		{"done", "completed"},
	} {
		t.Run(tt.id, func(t *testing.T) {
			dec := Evaluate(d, tt.id, DefaultOptions())
			if dec.CanDispatch {
				t.Error("Expected a non-pending task to be refused")
			}
			status := mustFind(t, dec, CheckStatus)
			if !strings.Contains(status.Message, tt.want) {
				t.Errorf("status message %q should contain %q", status.Message, tt.want)
			}
			// Later checks still run
			mustFind(t, dec, CheckDescription)
		})
	}
}

func TestEvaluateMissingBlocker(t *testing.T) {
	d := scheduler.NewDAG([]*scheduler.Task{
		{ID: "a", Status: scheduler.TaskPending, BlockedBy: []string{"ghost"}, Description: longDescription},
	})
	dec := Evaluate(d, "a", DefaultOptions())
	if dec.CanDispatch {
		t.Error("Expected a missing blocker to keep the task blocked")
	}
	if deps := mustFind(t, dec, CheckDependencies); !strings.Contains(deps.Message, "ghost (missing)") {
		t.Errorf("unexpected message %q", deps.Message)
	}
}

func TestEvaluateConcurrencyLimit(t *testing.T) {
	tasks := []*scheduler.Task{{ID: "next", Status: scheduler.TaskPending, Description: longDescription}}
	for _, id := range []string{"r1", "r2"} {
		tasks = append(tasks, &scheduler.Task{ID: id, Status: scheduler.TaskInProgress, Owner: "w", Description: longDescription})
	}
	d := scheduler.NewDAG(tasks)

	dec := Evaluate(d, "next", Options{ConcurrencyLimit: 2})
	if dec.CanDispatch {
		t.Error("Expected a full pool to refuse")
	}
	if !dec.Retryable() {
		t.Error("a full worker pool means wait, not fix the plan")
	}

	if dec := Evaluate(d, "next", Options{ConcurrencyLimit: 3}); !dec.CanDispatch {
		t.Errorf("Expected a free slot to pass: %+v", dec)
	}
	if dec := Evaluate(d, "next", Options{ConcurrencyLimit: 0}); !dec.CanDispatch {
		t.Errorf("zero disables the limit: %+v", dec)
	}
}

func TestEvaluateWarningsDoNotBlock(t *testing.T) {
	d := scheduler.NewDAG([]*scheduler.Task{
		{ID: "run", Status: scheduler.TaskInProgress, Owner: "w", Description: "Edit src/app.go " + longDescription},
		{ID: "next", Status: scheduler.TaskPending, Description: "Fix src/app.go"},
	})

	dec := Evaluate(d, "next", DefaultOptions())
	if !dec.CanDispatch {
		t.Errorf("warnings must not block: %+v", dec)
	}
	if warnings := dec.Failed(scheduler.SeverityWarning); len(warnings) != 2 {
		t.Fatalf("Expected 2 warnings, got %+v", warnings)
	}

	conflicts := mustFind(t, dec, CheckConflicts)
	if want := []string{"run"}; !reflect.DeepEqual(conflicts.TaskIDs, want) {
		t.Errorf("conflict TaskIDs = %v, want %v", conflicts.TaskIDs, want)
	}
	if !strings.Contains(conflicts.Message, "src/app.go") {
		t.Errorf("conflict message %q should name the file", conflicts.Message)
	}

	desc := mustFind(t, dec, CheckDescription)
	if desc.Passed || !strings.HasPrefix(desc.Message, "description is 14 characters") {
		t.Errorf("unexpected description check: %+v", desc)
	}

	quiet := Evaluate(d, "next", Options{})
	if !quiet.CanDispatch || len(quiet.Failed(scheduler.SeverityWarning)) != 0 || len(quiet.Reasons()) != 0 {
		t.Errorf("disabled checks should stay silent: %+v", quiet)
	}
}

func TestEvaluateDescriptionCountsCharacters(t *testing.T) {
	// 20 characters, 40 bytes
	desc := strings.Repeat("é", 20)
	d := scheduler.NewDAG([]*scheduler.Task{
		{ID: "a", Status: scheduler.TaskPending, Description: desc},
	})

	check := mustFind(t, Evaluate(d, "a", Options{MinDescriptionLength: 30}), CheckDescription)
	if check.Passed {
		t.Fatal("Expected a 20-character description to fail a 30-character minimum")
	}
	if !strings.HasPrefix(check.Message, "description is 20 characters") {
		t.Errorf("unexpected message %q", check.Message)
	}
}
