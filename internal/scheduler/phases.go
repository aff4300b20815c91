package scheduler

// Schedule is the result of phase computation over the non-completed tasks.
type Schedule struct {
	Phases      [][]string `json:"phases"`      // Ordered topological generations
	Unscheduled []string   `json:"unscheduled"` // Tasks that could never become ready
}

// MaxPhaseWidth returns the size of the widest phase.
func (s Schedule) MaxPhaseWidth() int {
	width := 0
	for _, phase := range s.Phases {
		if len(phase) > width {
			width = len(phase)
		}
	}
	return width
}

// PhaseOf returns the index of the phase containing taskID, or -1.
func (s Schedule) PhaseOf(taskID string) int {
	for i, phase := range s.Phases {
		for _, id := range phase {
			if id == taskID {
				return i
			}
		}
	}
	return -1
}

// Phases groups the non-completed tasks into execution phases. A task lands in
// the first phase after all of its blockers are either completed or placed in
// an earlier phase. Completed tasks count as satisfied and are never scheduled.
//
// When remaining tasks exist but none can be placed, computation stops and the
// remainder is returned in Unscheduled. That only happens for cycles or for
// blockers missing from the snapshot; callers cross-check with Validate.
func (d *DAG) Phases() Schedule {
	satisfied := make(map[string]bool)
	var remaining []string
	for _, id := range d.order {
		if d.tasks[id].Status == TaskCompleted {
			satisfied[id] = true
			continue
		}
		remaining = append(remaining, id)
	}

	sched := Schedule{Phases: [][]string{}}
	for len(remaining) > 0 {
		var phase, next []string
		for _, id := range remaining {
			if d.blockersSatisfied(id, satisfied) {
				phase = append(phase, id)
			} else {
				next = append(next, id)
			}
		}

		if len(phase) == 0 {
			sched.Unscheduled = next
			break
		}

		// Members are satisfied only after the whole phase is collected, so a
		// task never shares a phase with its own blocker.
		for _, id := range phase {
			satisfied[id] = true
		}
		sched.Phases = append(sched.Phases, phase)
		remaining = next
	}

	return sched
}

func (d *DAG) blockersSatisfied(taskID string, satisfied map[string]bool) bool {
	for _, depID := range d.tasks[taskID].BlockedBy {
		if !satisfied[depID] {
			return false
		}
	}
	return true
}

// CriticalPath returns the longest chain of blockedBy edges over all tasks,
// ordered from the first blocker to the final dependent. Completed tasks are
// included because they bound the elapsed plan, not the remaining work.
//
// depth(n) = 1 + max(depth(d)) over existing blockers d, and 1 without any.
// Ties go to the first-discovered candidate. A node reached again while it is
// still on the current path contributes depth 0, so cyclic input terminates.
func (d *DAG) CriticalPath() []string {
	depth := make(map[string]int, len(d.order))
	pred := make(map[string]string, len(d.order))
	onPath := make(map[string]bool)

	var longest func(id string) int
	longest = func(id string) int {
		if onPath[id] {
			return 0
		}
		if v, ok := depth[id]; ok {
			return v
		}
		task, exists := d.tasks[id]
		if !exists {
			return 0
		}

		onPath[id] = true
		best := 0
		for _, depID := range task.BlockedBy {
			if l := longest(depID); l > best {
				best = l
				pred[id] = depID
			}
		}
		onPath[id] = false

		depth[id] = best + 1
		return depth[id]
	}

	end, endDepth := "", 0
	for _, id := range d.order {
		if l := longest(id); l > endDepth {
			end, endDepth = id, l
		}
	}
	if end == "" {
		return nil
	}

	path := []string{end}
	seen := map[string]bool{end: true}
	for cur := end; ; {
		p, ok := pred[cur]
		if !ok || seen[p] {
			break
		}
		seen[p] = true
		path = append(path, p)
		cur = p
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
