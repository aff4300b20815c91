package scheduler

import "time"

// DAG is a read-only snapshot of the task set, indexed by ID.
//
// blockedBy is the only source of truth for edges. The dependents index
// (the "blocks" relation) is derived when the snapshot is built, so results
// computed from a DAG are only valid as of the moment the tasks were read.
// A DAG is never mutated after construction and is safe for concurrent readers.
type DAG struct {
	tasks      map[string]*Task    // All tasks indexed by ID
	order      []string            // IDs in the order the store returned them
	dependents map[string][]string // Maps taskID -> tasks that list it in blockedBy
	duplicates []string            // IDs seen more than once while building
	readAt     time.Time
}

// NewDAG builds a snapshot from the given tasks. Tasks are cloned, so later
// changes to the input do not leak into the snapshot. When an ID appears more
// than once the first record wins and the ID is remembered for validation.
func NewDAG(tasks []*Task) *DAG {
	d := &DAG{
		tasks:      make(map[string]*Task, len(tasks)),
		order:      make([]string, 0, len(tasks)),
		dependents: make(map[string][]string),
		readAt:     time.Now(),
	}

	for _, task := range tasks {
		if task == nil {
			continue
		}
		if _, exists := d.tasks[task.ID]; exists {
			d.duplicates = append(d.duplicates, task.ID)
			continue
		}
		d.tasks[task.ID] = cloneTask(task)
		d.order = append(d.order, task.ID)
	}

	// Build dependents map for efficient downstream lookup
	for _, id := range d.order {
		seen := make(map[string]bool)
		for _, depID := range d.tasks[id].BlockedBy {
			if seen[depID] {
				continue
			}
			seen[depID] = true
			d.dependents[depID] = append(d.dependents[depID], id)
		}
	}

	return d
}

// ReadAt returns when the snapshot was built.
func (d *DAG) ReadAt() time.Time {
	return d.readAt
}

// Len returns the number of tasks in the snapshot.
func (d *DAG) Len() int {
	return len(d.order)
}

// Has reports whether a task with the given ID exists.
func (d *DAG) Has(taskID string) bool {
	_, ok := d.tasks[taskID]
	return ok
}

// Get returns a copy of the task by ID. The returned Blocks field always holds
// the derived dependents, never the stored mirror.
func (d *DAG) Get(taskID string) (*Task, bool) {
	task, exists := d.tasks[taskID]
	if !exists {
		return nil, false
	}
	return d.export(task), true
}

// Tasks returns copies of all tasks in snapshot order.
func (d *DAG) Tasks() []*Task {
	tasks := make([]*Task, 0, len(d.order))
	for _, id := range d.order {
		tasks = append(tasks, d.export(d.tasks[id]))
	}
	return tasks
}

// IDs returns all task IDs in snapshot order.
func (d *DAG) IDs() []string {
	return append([]string(nil), d.order...)
}

// DependenciesOf returns the blockedBy list of a task, or nil if it does not exist.
func (d *DAG) DependenciesOf(taskID string) []string {
	task, exists := d.tasks[taskID]
	if !exists {
		return nil
	}
	return append([]string(nil), task.BlockedBy...)
}

// DependentsOf returns the IDs of tasks that list taskID in their blockedBy.
func (d *DAG) DependentsOf(taskID string) []string {
	return append([]string(nil), d.dependents[taskID]...)
}

// Related reports whether a and b are ordered by the graph, that is whether
// either one reaches the other through blockedBy edges. Related tasks can
// never run at the same time.
func (d *DAG) Related(a, b string) bool {
	return d.Reaches(a, b) || d.Reaches(b, a)
}

// Reaches reports whether to is reachable from from by following blockedBy
// edges. Dangling references are leaves.
func (d *DAG) Reaches(from, to string) bool {
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		task, ok := d.tasks[id]
		if !ok {
			continue
		}
		for _, dep := range task.BlockedBy {
			if !seen[dep] {
				seen[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return false
}

// CountByStatus returns how many tasks currently have the given status.
func (d *DAG) CountByStatus(status TaskStatus) int {
	n := 0
	for _, id := range d.order {
		if d.tasks[id].Status == status {
			n++
		}
	}
	return n
}

// Ready returns pending tasks whose blockers all exist and are completed.
// A blocker that is missing from the snapshot keeps the task blocked.
func (d *DAG) Ready() []*Task {
	ready := []*Task{}
	for _, id := range d.order {
		task := d.tasks[id]
		if task.Status != TaskPending {
			continue
		}
		if len(d.UnmetBlockers(id)) == 0 {
			ready = append(ready, d.export(task))
		}
	}
	return ready
}

// UnmetBlockers returns the blockers of taskID that are not completed,
// including blockers that do not exist.
func (d *DAG) UnmetBlockers(taskID string) []string {
	task, exists := d.tasks[taskID]
	if !exists {
		return nil
	}

	var unmet []string
	for _, depID := range task.BlockedBy {
		if !d.isDependencyResolved(depID) {
			unmet = append(unmet, depID)
		}
	}
	return unmet
}

// isDependencyResolved checks if a dependency exists and is completed.
func (d *DAG) isDependencyResolved(depID string) bool {
	dep, exists := d.tasks[depID]
	return exists && dep.Status == TaskCompleted
}

func (d *DAG) export(task *Task) *Task {
	cp := cloneTask(task)
	cp.Blocks = d.DependentsOf(task.ID)
	return cp
}
