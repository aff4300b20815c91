package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gammazero/toposort"
)

// Severity classifies a validation issue or gate check.
type Severity string

const (
	SeverityError   Severity = "error"   // Structural; blocks the dependent operation
	SeverityWarning Severity = "warning" // Informational only
)

// IssueKind identifies the rule that produced an issue.
type IssueKind string

const (
	IssueCircularDependency IssueKind = "circular_dependency"
	IssueMissingReference   IssueKind = "missing_reference"
	IssueSelfReference      IssueKind = "self_reference"
	IssueDuplicateID        IssueKind = "duplicate_id"
	IssueInvalidStatus      IssueKind = "invalid_status"

	IssueOrphan             IssueKind = "orphan"
	IssueLongChain          IssueKind = "long_chain"
	IssueWideParallelism    IssueKind = "wide_parallelism"
	IssueMissingOwner       IssueKind = "missing_owner"
	IssueInconsistentBlocks IssueKind = "inconsistent_blocks"
	IssueUnschedulable      IssueKind = "unschedulable"
)

// Issue is a single validation finding.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	TaskIDs  []string  `json:"taskIds"`
}

// GraphStats holds structural statistics of a snapshot.
type GraphStats struct {
	TotalTasks    int `json:"totalTasks"`
	Pending       int `json:"pending"`
	InProgress    int `json:"inProgress"`
	Completed     int `json:"completed"`
	Edges         int `json:"edges"`
	Roots         int `json:"roots"`
	Leaves        int `json:"leaves"`
	MaxDepth      int `json:"maxDepth"`
	PhaseCount    int `json:"phaseCount"`
	MaxPhaseWidth int `json:"maxPhaseWidth"`
}

// ValidationReport is the structured output of Validate.
type ValidationReport struct {
	Valid        bool       `json:"valid"`
	Errors       []Issue    `json:"errors"`
	Warnings     []Issue    `json:"warnings"`
	Stats        GraphStats `json:"stats"`
	Order        []string   `json:"order,omitempty"` // Topological order, only for valid graphs
	Schedule     Schedule   `json:"schedule"`
	CriticalPath []string   `json:"criticalPath"`
}

// IssuesOf returns all errors and warnings of the given kind.
func (r ValidationReport) IssuesOf(kind IssueKind) []Issue {
	var out []Issue
	for _, list := range [][]Issue{r.Errors, r.Warnings} {
		for _, issue := range list {
			if issue.Kind == kind {
				out = append(out, issue)
			}
		}
	}
	return out
}

// ValidationOptions configures the structural warning thresholds.
type ValidationOptions struct {
	MaxChainDepth int // Chains deeper than this trigger long_chain (default 10)
	MaxPhaseWidth int // Phases wider than this trigger wide_parallelism (default 5)
}

// DefaultValidationOptions returns the default thresholds.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MaxChainDepth: 10,
		MaxPhaseWidth: 5,
	}
}

// Validate checks the snapshot for cycles, dangling references, self-references
// and structural smells. It never fails: problems are reported as issues.
func (d *DAG) Validate(opts ValidationOptions) ValidationReport {
	if opts.MaxChainDepth <= 0 || opts.MaxPhaseWidth <= 0 {
		def := DefaultValidationOptions()
		if opts.MaxChainDepth <= 0 {
			opts.MaxChainDepth = def.MaxChainDepth
		}
		if opts.MaxPhaseWidth <= 0 {
			opts.MaxPhaseWidth = def.MaxPhaseWidth
		}
	}

	r := ValidationReport{
		Errors:   []Issue{},
		Warnings: []Issue{},
	}

	for _, id := range d.duplicates {
		r.addError(IssueDuplicateID, fmt.Sprintf("task %q appears more than once", id), id)
	}

	for _, id := range d.order {
		task := d.tasks[id]

		if !task.Status.Valid() {
			r.addError(IssueInvalidStatus, fmt.Sprintf("task %q has unknown status %q", id, task.Status), id)
		}

		for _, depID := range task.BlockedBy {
			if depID == id {
				r.addError(IssueSelfReference, fmt.Sprintf("task %q lists itself in blockedBy", id), id)
				continue
			}
			if !d.Has(depID) {
				r.addError(IssueMissingReference, fmt.Sprintf("task %q is blocked by non-existent task %q", id, depID), id, depID)
			}
		}
		for _, blockedID := range task.Blocks {
			if !d.Has(blockedID) {
				r.addError(IssueMissingReference, fmt.Sprintf("task %q blocks non-existent task %q", id, blockedID), id, blockedID)
			}
		}
	}

	for _, cycle := range d.detectCycles() {
		r.addError(IssueCircularDependency, fmt.Sprintf("circular dependency: %s", strings.Join(append(append([]string(nil), cycle...), cycle[0]), " -> ")), cycle...)
	}

	d.structuralWarnings(&r, opts)

	r.Valid = len(r.Errors) == 0
	if r.Valid {
		order, err := d.topoOrder()
		if err != nil {
			// Cycle detection above should have caught this.
			r.addError(IssueCircularDependency, fmt.Sprintf("topological sort failed: %v", err))
			r.Valid = false
		} else {
			r.Order = order
		}
	}

	return r
}

func (d *DAG) structuralWarnings(r *ValidationReport, opts ValidationOptions) {
	total := len(d.order)
	r.Stats.TotalTasks = total

	for _, id := range d.order {
		task := d.tasks[id]
		dependents := d.dependents[id]

		switch task.Status {
		case TaskPending:
			r.Stats.Pending++
		case TaskInProgress:
			r.Stats.InProgress++
			if task.Owner == "" {
				r.addWarning(IssueMissingOwner, fmt.Sprintf("task %q is in progress without an owner", id), id)
			}
		case TaskCompleted:
			r.Stats.Completed++
		}

		for _, depID := range task.BlockedBy {
			if d.Has(depID) {
				r.Stats.Edges++
			}
		}
		if len(task.BlockedBy) == 0 {
			r.Stats.Roots++
		}
		if len(dependents) == 0 {
			r.Stats.Leaves++
		}

		if total > 1 && len(task.BlockedBy) == 0 && len(task.Blocks) == 0 && len(dependents) == 0 {
			r.addWarning(IssueOrphan, fmt.Sprintf("task %q has no dependencies and no dependents", id), id)
		}

		if len(task.Blocks) > 0 && !sameSet(task.Blocks, dependents) {
			r.addWarning(IssueInconsistentBlocks,
				fmt.Sprintf("task %q stores blocks %v but blockedBy implies %v", id, task.Blocks, dependents), id)
		}
	}

	r.CriticalPath = d.CriticalPath()
	r.Stats.MaxDepth = len(r.CriticalPath)
	if r.Stats.MaxDepth > opts.MaxChainDepth {
		r.addWarning(IssueLongChain,
			fmt.Sprintf("dependency chain of %d tasks exceeds threshold %d", r.Stats.MaxDepth, opts.MaxChainDepth),
			r.CriticalPath...)
	}

	r.Schedule = d.Phases()
	r.Stats.PhaseCount = len(r.Schedule.Phases)
	r.Stats.MaxPhaseWidth = r.Schedule.MaxPhaseWidth()
	for i, phase := range r.Schedule.Phases {
		if len(phase) > opts.MaxPhaseWidth {
			r.addWarning(IssueWideParallelism,
				fmt.Sprintf("phase %d runs %d tasks in parallel, above threshold %d", i+1, len(phase), opts.MaxPhaseWidth),
				phase...)
		}
	}
	if len(r.Schedule.Unscheduled) > 0 {
		r.addWarning(IssueUnschedulable,
			fmt.Sprintf("%d task(s) can never become ready: %s", len(r.Schedule.Unscheduled), strings.Join(r.Schedule.Unscheduled, ", ")),
			r.Schedule.Unscheduled...)
	}
}

type dfsFrame struct {
	id   string
	next int // Index of the next blocker to visit
}

// detectCycles runs an iterative depth-first search along blockedBy edges from
// every unvisited task. Reaching a task that is still on the current path
// yields the path slice from that task to the current one.
func (d *DAG) detectCycles() [][]string {
	visited := make(map[string]bool, len(d.order))
	onStack := make(map[string]bool)
	var cycles [][]string

	for _, start := range d.order {
		if visited[start] {
			continue
		}

		visited[start] = true
		onStack[start] = true
		stack := []dfsFrame{{id: start}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := d.tasks[top.id].BlockedBy
			if top.next >= len(deps) {
				onStack[top.id] = false
				stack = stack[:len(stack)-1]
				continue
			}

			depID := deps[top.next]
			top.next++

			if !d.Has(depID) {
				continue
			}
			if onStack[depID] {
				cycles = append(cycles, cycleFrom(stack, depID))
				continue
			}
			if visited[depID] {
				continue
			}

			visited[depID] = true
			onStack[depID] = true
			stack = append(stack, dfsFrame{id: depID})
		}
	}

	return cycles
}

func cycleFrom(stack []dfsFrame, from string) []string {
	var cycle []string
	found := false
	for _, f := range stack {
		if f.id == from {
			found = true
		}
		if found {
			cycle = append(cycle, f.id)
		}
	}
	return cycle
}

// topoOrder runs topological sort using gammazero/toposort.
// Edge (depID, taskID) means depID must come before taskID.
func (d *DAG) topoOrder() ([]string, error) {
	var edges []toposort.Edge
	for _, taskID := range d.order {
		task := d.tasks[taskID]
		if len(task.BlockedBy) == 0 {
			// Task with no dependencies - add edge from nil to ensure it's included
			edges = append(edges, toposort.Edge{nil, taskID})
			continue
		}
		for _, depID := range task.BlockedBy {
			edges = append(edges, toposort.Edge{depID, taskID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}

func (r *ValidationReport) addError(kind IssueKind, msg string, taskIDs ...string) {
	r.Errors = append(r.Errors, Issue{Kind: kind, Severity: SeverityError, Message: msg, TaskIDs: taskIDs})
}

func (r *ValidationReport) addWarning(kind IssueKind, msg string, taskIDs ...string) {
	r.Warnings = append(r.Warnings, Issue{Kind: kind, Severity: SeverityWarning, Message: msg, TaskIDs: taskIDs})
}

func sameSet(a, b []string) bool {
	as := uniqueSorted(a)
	bs := uniqueSorted(b)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
