package conflict

import (
	"fmt"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// Severity ranks a pairwise conflict.
type Severity string

const (
	SeverityHigh   Severity = "high"   // Identical path, no dependency between the tasks
	SeverityMedium Severity = "medium" // Parent/child or same file name, no dependency
	SeverityLow    Severity = "low"    // Overlap, but a dependency already serializes the pair
)

// Conflict is a likely file overlap between two active tasks.
type Conflict struct {
	TaskA      string   `json:"taskA"`
	TaskB      string   `json:"taskB"`
	Files      []string `json:"files"`
	Severity   Severity `json:"severity"`
	Suggestion string   `json:"suggestion"`
}

// Involves reports whether the conflict names taskID.
func (c Conflict) Involves(taskID string) bool {
	return c.TaskA == taskID || c.TaskB == taskID
}

// Other returns the task on the other side of the conflict from taskID.
func (c Conflict) Other(taskID string) string {
	if c.TaskA == taskID {
		return c.TaskB
	}
	return c.TaskA
}

// Report is the full output of Analyze.
type Report struct {
	Files      map[string][]string `json:"files"`      // Extracted paths per active task
	Conflicts  []Conflict          `json:"conflicts"`  // Pairwise, in snapshot order
	SafeGroups [][]string          `json:"safeGroups"` // File-disjoint groups of active tasks
}

// For returns every conflict naming taskID. Conflicts are symmetric: if A
// lists B, B lists A.
func (r Report) For(taskID string) []Conflict {
	var out []Conflict
	for _, c := range r.Conflicts {
		if c.Involves(taskID) {
			out = append(out, c)
		}
	}
	return out
}

// Analyze extracts files for every non-completed task and reports pairwise
// overlaps plus a first-fit partition into file-disjoint groups.
func Analyze(d *scheduler.DAG) Report {
	active := ActiveTasks(d)

	r := Report{
		Files:      make(map[string][]string, len(active)),
		Conflicts:  []Conflict{},
		SafeGroups: [][]string{},
	}
	for _, task := range active {
		r.Files[task.ID] = ExtractFiles(task)
	}

	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i].ID, active[j].ID
			if c, ok := pairConflict(d, a, b, r.Files[a], r.Files[b]); ok {
				r.Conflicts = append(r.Conflicts, c)
			}
		}
	}

	r.SafeGroups = SafeGroups(active, r.Files)
	return r
}

// Against returns the conflicts between taskID and each of the others.
func Against(d *scheduler.DAG, taskID string, others []*scheduler.Task) []Conflict {
	task, ok := d.Get(taskID)
	if !ok {
		return nil
	}
	files := ExtractFiles(task)

	var out []Conflict
	for _, other := range others {
		if other.ID == taskID {
			continue
		}
		if c, ok := pairConflict(d, taskID, other.ID, files, ExtractFiles(other)); ok {
			out = append(out, c)
		}
	}
	return out
}

func pairConflict(d *scheduler.DAG, a, b string, filesA, filesB []string) (Conflict, bool) {
	shared, exact := SharedFiles(filesA, filesB)
	if len(shared) == 0 {
		return Conflict{}, false
	}

	c := Conflict{TaskA: a, TaskB: b, Files: shared}
	switch {
	case d.Related(a, b):
		c.Severity = SeverityLow
		c.Suggestion = "already serialized by a dependency; no action needed"
	case exact:
		c.Severity = SeverityHigh
		c.Suggestion = fmt.Sprintf("add %q to the blockedBy of %q (or the reverse) so they do not run concurrently", a, b)
	default:
		c.Severity = SeverityMedium
		c.Suggestion = fmt.Sprintf("consider adding %q to the blockedBy of %q (or the reverse)", a, b)
	}
	return c, true
}

// SafeGroups partitions tasks greedily: each task joins the first existing
// group where it overlaps no member, otherwise it starts a new group. The
// partition is not minimal; only the no-overlap-within-group property holds.
func SafeGroups(tasks []*scheduler.Task, files map[string][]string) [][]string {
	groups := [][]string{}
	for _, task := range tasks {
		placed := false
		for gi, group := range groups {
			if !overlapsAny(files[task.ID], group, files) {
				groups[gi] = append(group, task.ID)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []string{task.ID})
		}
	}
	return groups
}

func overlapsAny(taskFiles []string, group []string, files map[string][]string) bool {
	for _, member := range group {
		if shared, _ := SharedFiles(taskFiles, files[member]); len(shared) > 0 {
			return true
		}
	}
	return false
}

// ActiveTasks returns the non-completed tasks of the snapshot in order.
func ActiveTasks(d *scheduler.DAG) []*scheduler.Task {
	var active []*scheduler.Task
	for _, task := range d.Tasks() {
		if task.Status != scheduler.TaskCompleted {
			active = append(active, task)
		}
	}
	return active
}
