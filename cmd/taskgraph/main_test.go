package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/aristath/taskgraph/internal/config"
	"github.com/aristath/taskgraph/internal/gate"
	"github.com/aristath/taskgraph/internal/scheduler"
)

const scenarioJSON = `{
  "tasks": [
    {"id": "1", "subject": "Schema", "description": "Create the tasks table in internal/store/schema.go with indexes.", "status": "completed"},
    {"id": "2", "subject": "Handlers", "description": "Add list and create handlers in internal/api/tasks.go with tests.", "status": "pending", "blockedBy": ["1"]},
    {"id": "3", "subject": "Client", "description": "Generate the typed client in pkg/client/client.go for the new endpoints.", "status": "pending", "blockedBy": ["1"]},
    {"id": "4", "subject": "Docs", "description": "Document the endpoints in docs/api.md including error responses.", "status": "pending", "blockedBy": ["2", "3"]}
  ]
}`

const scenarioYAML = `
- id: a
  subject: First
  description: Touch internal/a.go only, nothing else in the tree at all.
  status: pending
- id: b
  subject: Second
  description: Touch internal/b.go only, nothing else in the tree at all.
  status: pending
  blockedBy: [a]
`

// cli runs the root command against dbPath and returns its stdout.
func cli(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetArgs(append([]string{"--db", dbPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func setup(t *testing.T) string {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "tasks.json")
	if err := os.WriteFile(path, []byte(scenarioJSON), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	dbPath := filepath.Join(dir, "db", "tasks.db")
	if _, err := cli(t, dbPath, "import", path); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	return dbPath
}

func TestImportAndPhases(t *testing.T) {
	dbPath := setup(t)

	out, err := cli(t, dbPath, "phases")
	if err != nil {
		t.Fatalf("phases failed: %v", err)
	}
	if !strings.Contains(out, "Phase 1: 2, 3") || !strings.Contains(out, "Phase 2: 4") {
		t.Errorf("unexpected phases output:\n%s", out)
	}

	out, err = cli(t, dbPath, "--json", "phases")
	if err != nil {
		t.Fatalf("phases --json failed: %v", err)
	}
	var schedule scheduler.Schedule
	if err := json.Unmarshal([]byte(out), &schedule); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if len(schedule.Phases) != 2 {
		t.Errorf("Expected 2 phases, got %v", schedule.Phases)
	}
}

func TestValidateCommand(t *testing.T) {
	dbPath := setup(t)

	out, err := cli(t, dbPath, "validate")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("Expected valid result, got:\n%s", out)
	}

	// Edges to unknown tasks are refused before they reach the store
	if _, err := cli(t, dbPath, "dep", "add", "4", "ghost"); err == nil {
		t.Fatal("Expected dep add on a missing blocker to fail")
	}
}

func TestGateCommand(t *testing.T) {
	dbPath := setup(t)

	out, err := cli(t, dbPath, "--json", "gate", "2")
	if err != nil {
		t.Fatalf("gate 2 failed: %v", err)
	}
	var decision gate.Decision
	if err := json.Unmarshal([]byte(out), &decision); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if !decision.CanDispatch {
		t.Errorf("Expected task 2 to be dispatchable: %+v", decision)
	}

	out, err = cli(t, dbPath, "gate", "4")
	if !errors.Is(err, errCheckFailed) {
		t.Fatalf("Expected errCheckFailed for task 4, got %v", err)
	}
	if !strings.Contains(out, "unmet blockers") {
		t.Errorf("Expected unmet blockers in output:\n%s", out)
	}
}

func TestClaimCompleteHistory(t *testing.T) {
	dbPath := setup(t)

	if _, err := cli(t, dbPath, "claim", "2", "--owner", "worker-a"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := cli(t, dbPath, "claim", "2", "--owner", "worker-b"); err == nil {
		t.Fatal("Expected second claim to fail")
	}
	if _, err := cli(t, dbPath, "complete", "2"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	out, err := cli(t, dbPath, "history", "2")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "pending → in_progress @worker-a") {
		t.Errorf("Expected claim in history:\n%s", out)
	}
	if !strings.Contains(out, "in_progress → completed") {
		t.Errorf("Expected completion in history:\n%s", out)
	}
}

func TestImportYAML(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "tasks.yaml")
	if err := os.WriteFile(path, []byte(scenarioYAML), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	dbPath := filepath.Join(dir, "tasks.db")

	if _, err := cli(t, dbPath, "import", path); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	out, err := cli(t, dbPath, "--json", "ready")
	if err != nil {
		t.Fatalf("ready failed: %v", err)
	}
	var ready []*scheduler.Task
	if err := json.Unmarshal([]byte(out), &ready); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != "a" {
		t.Errorf("Expected only task a ready, got %v", ready)
	}
}

func TestDecodeTasksRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		path string
		data string
	}{
		{"missing id", "t.json", `[{"subject": "no id"}]`},
		{"unknown status", "t.json", `[{"id": "x", "status": "done"}]`},
		{"malformed json", "t.json", `{"tasks": [`},
		{"malformed yaml", "t.yaml", "- id: [unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeTasks(tt.path, []byte(tt.data)); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestConfigFlag(t *testing.T) {
	dbPath := setup(t)

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	cfg := "dispatch:\n  concurrency_limit: 1\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := cli(t, dbPath, "--config", cfgPath, "claim", "2"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := cli(t, dbPath, "--config", cfgPath, "claim", "3"); err == nil {
		t.Fatal("Expected concurrency limit to refuse a second claim")
	}

	if _, err := cli(t, dbPath, "--config", filepath.Join(t.TempDir(), "missing.json"), "ready"); err == nil {
		t.Fatal("Expected an explicit missing config file to fail")
	}
}

func TestConfigInitAndShow(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)
	dbPath := filepath.Join(dir, "tasks.db")

	if _, err := cli(t, dbPath, "config", "init", "--format", "yaml"); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	target := filepath.Join(".taskgraph", "config.yaml")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("Expected %s to exist: %v", target, err)
	}

	if _, err := cli(t, dbPath, "config", "init", "--format", "yaml"); err == nil {
		t.Error("Expected a second init to refuse overwriting")
	}
	if _, err := cli(t, dbPath, "config", "init", "--format", "yaml", "--force"); err != nil {
		t.Errorf("init --force failed: %v", err)
	}
	if _, err := cli(t, dbPath, "config", "init"); err == nil {
		t.Error("Expected a JSON init next to the YAML file to fail")
	}

	// The YAML project file is picked up without --config
	if err := os.WriteFile(target, []byte("dispatch:\n  concurrency_limit: 1\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	out, err := cli(t, dbPath, "--json", "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if cfg.Dispatch.ConcurrencyLimit != 1 {
		t.Errorf("Expected concurrency_limit 1 from the project file, got %d", cfg.Dispatch.ConcurrencyLimit)
	}
	if cfg.Store.Path != dbPath {
		t.Errorf("Expected --db to override store.path, got %q", cfg.Store.Path)
	}
}

func TestEventsFlag(t *testing.T) {
	dbPath := setup(t)

	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetArgs([]string{"--db", dbPath, "--events", "claim", "2", "--owner", "worker-a"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// Log lines share the stream; pick out the event objects
	var claimed int
	for _, raw := range strings.Split(errOut.String(), "\n") {
		var line struct {
			Type string `json:"type"`
			Task string `json:"task"`
		}
		if json.Unmarshal([]byte(raw), &line) != nil || line.Type == "" {
			continue
		}
		if line.Type != "task.claimed" || line.Task != "2" {
			t.Errorf("unexpected event line: %s", raw)
		}
		claimed++
	}
	if claimed != 1 {
		t.Errorf("Expected one task.claimed event, got %d in:\n%s", claimed, errOut.String())
	}
}

// TestSignalContextCancellation verifies that signal.NotifyContext produces
// a context that cancels correctly when a signal is received.
func TestSignalContextCancellation(t *testing.T) {
	// Use SIGUSR1 as a safe test signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGUSR1)
	defer stop()

	// Send SIGUSR1 to self
	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("Failed to send SIGUSR1: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(1 * time.Second):
		t.Fatal("Context did not cancel after SIGUSR1")
	}

	if err := ctx.Err(); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
