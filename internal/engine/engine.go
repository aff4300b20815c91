// Package engine coordinates the task store with the graph analyses.
//
// Every operation reads a fresh snapshot from the store, computes a pure
// result from it, and optionally performs independent per-task writes. All
// results are only valid as of the snapshot's read time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskgraph/internal/config"
	"github.com/aristath/taskgraph/internal/conflict"
	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/gate"
	"github.com/aristath/taskgraph/internal/logging"
	"github.com/aristath/taskgraph/internal/persistence"
	"github.com/aristath/taskgraph/internal/scheduler"
	"github.com/aristath/taskgraph/internal/staleness"
)

var (
	// ErrInvalidTransition is returned for status moves outside
	// pending -> in_progress -> completed, and for resets of completed tasks.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotDispatchable is returned by Dispatch when the gate refuses.
	ErrNotDispatchable = errors.New("task cannot be dispatched")

	// ErrDependencyCycle is returned when a new edge would close a cycle.
	ErrDependencyCycle = errors.New("dependency would create a cycle")
)

// Options configures an Engine.
type Options struct {
	Validation scheduler.ValidationOptions
	Staleness  staleness.Policy
	Gate       gate.Options
	Logger     *slog.Logger     // nil discards
	Events     events.Publisher // nil discards
	Clock      func() time.Time // Reference time for staleness; defaults to time.Now
}

// DefaultOptions returns the built-in thresholds.
func DefaultOptions() Options {
	return Options{
		Validation: scheduler.DefaultValidationOptions(),
		Staleness:  staleness.DefaultPolicy(),
		Gate:       gate.DefaultOptions(),
	}
}

// OptionsFromConfig converts a loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Validation: cfg.ValidationOptions(),
		Staleness:  cfg.StalenessPolicy(),
		Gate:       cfg.GateOptions(),
	}
}

// Engine is the coordinator facade over a Store.
type Engine struct {
	store  persistence.Store
	opts   Options
	logger *slog.Logger
	events events.Publisher
	now    func() time.Time
	locks  *scheduler.KeyedLocker
}

// New creates an engine over store.
func New(store persistence.Store, opts Options) *Engine {
	e := &Engine{
		store:  store,
		opts:   opts,
		logger: logging.OrDiscard(opts.Logger),
		events: opts.Events,
		now:    opts.Clock,
		locks:  scheduler.NewKeyedLocker(),
	}
	if e.events == nil {
		e.events = events.Discard
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() persistence.Store {
	return e.store
}

// Snapshot reads every task from the store into an immutable DAG. A failure
// here is an infrastructure error, never a statement about the plan.
func (e *Engine) Snapshot(ctx context.Context) (*scheduler.DAG, error) {
	tasks, err := e.store.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading task snapshot: %w", err)
	}
	return scheduler.NewDAG(tasks), nil
}

// Validate runs the graph validator over a fresh snapshot.
func (e *Engine) Validate(ctx context.Context) (scheduler.ValidationReport, error) {
	d, err := e.Snapshot(ctx)
	if err != nil {
		return scheduler.ValidationReport{}, err
	}
	return e.validate(d), nil
}

func (e *Engine) validate(d *scheduler.DAG) scheduler.ValidationReport {
	report := d.Validate(e.opts.Validation)
	e.events.Publish(events.GraphValidatedEvent{
		Valid:     report.Valid,
		Tasks:     report.Stats.TotalTasks,
		Errors:    len(report.Errors),
		Warnings:  len(report.Warnings),
		Timestamp: e.now(),
	})
	e.logger.Debug("graph validated",
		"valid", report.Valid,
		"tasks", report.Stats.TotalTasks,
		"errors", len(report.Errors),
		"warnings", len(report.Warnings))
	return report
}

// Phases returns the execution phases of the non-completed tasks.
func (e *Engine) Phases(ctx context.Context) (scheduler.Schedule, error) {
	d, err := e.Snapshot(ctx)
	if err != nil {
		return scheduler.Schedule{}, err
	}
	return d.Phases(), nil
}

// CriticalPath returns the longest blockedBy chain in the snapshot.
func (e *Engine) CriticalPath(ctx context.Context) ([]string, error) {
	d, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return d.CriticalPath(), nil
}

// Ready returns the pending tasks whose blockers are all completed.
func (e *Engine) Ready(ctx context.Context) ([]*scheduler.Task, error) {
	d, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return d.Ready(), nil
}

// Stale returns the tasks the staleness policy flags right now.
func (e *Engine) Stale(ctx context.Context) ([]staleness.StaleTask, error) {
	d, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return staleness.Detect(d.Tasks(), e.now(), e.opts.Staleness), nil
}

// Conflicts returns the file-overlap report for the active tasks.
func (e *Engine) Conflicts(ctx context.Context) (conflict.Report, error) {
	d, err := e.Snapshot(ctx)
	if err != nil {
		return conflict.Report{}, err
	}
	return conflict.Analyze(d), nil
}

// Task returns one task from a fresh snapshot, with the derived blocks list.
func (e *Engine) Task(ctx context.Context, taskID string) (*scheduler.Task, error) {
	d, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	task, ok := d.Get(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrTaskNotFound, taskID)
	}
	return task, nil
}

// History returns the recorded status transitions of a task.
func (e *Engine) History(ctx context.Context, taskID string) ([]persistence.Transition, error) {
	return e.store.History(ctx, taskID)
}

// Analysis bundles every read-only result computed from one snapshot.
type Analysis struct {
	ReadAt     time.Time                  `json:"readAt"`
	Validation scheduler.ValidationReport `json:"validation"`
	Ready      []*scheduler.Task          `json:"ready"`
	Stale      []staleness.StaleTask      `json:"stale"`
	Conflicts  conflict.Report            `json:"conflicts"`
}

// Analyze computes the validation report, ready list, staleness scan and
// conflict report over a single snapshot. The analyses are independent pure
// functions of the immutable DAG, so they run concurrently.
func (e *Engine) Analyze(ctx context.Context) (*Analysis, error) {
	d, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	a := &Analysis{ReadAt: d.ReadAt()}
	now := e.now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Validation = e.validate(d)
		return gctx.Err()
	})
	g.Go(func() error {
		a.Ready = d.Ready()
		return gctx.Err()
	})
	g.Go(func() error {
		a.Stale = staleness.Detect(d.Tasks(), now, e.opts.Staleness)
		return gctx.Err()
	})
	g.Go(func() error {
		a.Conflicts = conflict.Analyze(d)
		return gctx.Err()
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return a, nil
}
