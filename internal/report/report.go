// Package report renders engine results as human-readable text.
//
// Every function takes the plain result value and writes it; nothing here
// computes graph properties.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/aristath/taskgraph/internal/conflict"
	"github.com/aristath/taskgraph/internal/engine"
	"github.com/aristath/taskgraph/internal/gate"
	"github.com/aristath/taskgraph/internal/persistence"
	"github.com/aristath/taskgraph/internal/scheduler"
	"github.com/aristath/taskgraph/internal/staleness"
)

// Renderer writes styled reports to a writer.
type Renderer struct {
	w   io.Writer
	st  styles
	now func() time.Time
}

// New creates a renderer for w. Colors are only emitted when w is a terminal.
func New(w io.Writer) *Renderer {
	return &Renderer{
		w:   w,
		st:  newStyles(lipgloss.NewRenderer(w)),
		now: time.Now,
	}
}

// WithClock sets the reference time for relative timestamps.
func (r *Renderer) WithClock(now func() time.Time) *Renderer {
	r.now = now
	return r
}

// JSON writes v as indented JSON.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *Renderer) printf(format string, args ...any) {
	fmt.Fprintf(r.w, format, args...)
}

func (r *Renderer) heading(title string) {
	t := r.st.title.Render(title)
	r.printf("%s\n%s\n", t, strings.Repeat("=", lipgloss.Width(t)))
}

func (r *Renderer) status(s scheduler.TaskStatus) string {
	switch s {
	case scheduler.TaskPending:
		return r.st.pending.Render(string(s))
	case scheduler.TaskInProgress:
		return r.st.inProgress.Render(string(s))
	case scheduler.TaskCompleted:
		return r.st.completed.Render(string(s))
	}
	return r.st.failure.Render(string(s))
}

func (r *Renderer) since(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, r.now(), "ago", "from now")
}

func ids(list []string) string {
	if len(list) == 0 {
		return "-"
	}
	return strings.Join(list, ", ")
}

// Validation renders a validation report.
func (r *Renderer) Validation(rep scheduler.ValidationReport) {
	r.heading("Graph Validation")

	if rep.Valid {
		r.printf("Result:   %s\n", r.st.ok.Render("valid"))
	} else {
		r.printf("Result:   %s\n", r.st.failure.Render("invalid"))
	}

	s := rep.Stats
	r.printf("Tasks:    %d (%d pending, %d in progress, %d completed)\n",
		s.TotalTasks, s.Pending, s.InProgress, s.Completed)
	r.printf("Edges:    %d, roots %d, leaves %d\n", s.Edges, s.Roots, s.Leaves)
	r.printf("Depth:    %d, phases %d, widest %d\n", s.MaxDepth, s.PhaseCount, s.MaxPhaseWidth)

	if len(rep.Errors) > 0 {
		r.printf("\n%s\n", r.st.label.Render(fmt.Sprintf("Errors (%d)", len(rep.Errors))))
		for _, issue := range rep.Errors {
			r.printf("  %s %s [%s]\n", r.st.failure.Render("✗"), issue.Message, ids(issue.TaskIDs))
		}
	}
	if len(rep.Warnings) > 0 {
		r.printf("\n%s\n", r.st.label.Render(fmt.Sprintf("Warnings (%d)", len(rep.Warnings))))
		for _, issue := range rep.Warnings {
			r.printf("  %s %s [%s]\n", r.st.warning.Render("!"), issue.Message, ids(issue.TaskIDs))
		}
	}
}

// Phases renders an execution schedule.
func (r *Renderer) Phases(s scheduler.Schedule) {
	r.heading("Execution Phases")

	if len(s.Phases) == 0 {
		r.printf("%s\n", r.st.muted.Render("nothing left to schedule"))
	}
	for i, phase := range s.Phases {
		r.printf("Phase %d: %s\n", i+1, ids(phase))
	}
	if len(s.Unscheduled) > 0 {
		r.printf("%s %s\n", r.st.warning.Render("Unschedulable:"), ids(s.Unscheduled))
	}
}

// CriticalPath renders the longest dependency chain.
func (r *Renderer) CriticalPath(path []string) {
	r.heading("Critical Path")

	if len(path) == 0 {
		r.printf("%s\n", r.st.muted.Render("no tasks"))
		return
	}
	r.printf("%s  (%d tasks)\n", strings.Join(path, " → "), len(path))
}

// Tasks renders a task list with status, owner and last mutation time.
func (r *Renderer) Tasks(title string, tasks []*scheduler.Task) {
	r.heading(title)

	if len(tasks) == 0 {
		r.printf("%s\n", r.st.muted.Render("none"))
		return
	}
	for _, t := range tasks {
		line := fmt.Sprintf("%-12s %s  %s", t.ID, r.status(t.Status), t.Subject)
		if t.Owner != "" {
			line += r.st.muted.Render(" @" + t.Owner)
		}
		line += r.st.muted.Render(" (updated " + r.since(t.UpdatedAt) + ")")
		r.printf("%s\n", line)
	}
}

// Stale renders the staleness scan.
func (r *Renderer) Stale(stale []staleness.StaleTask) {
	r.heading("Stale Tasks")

	if len(stale) == 0 {
		r.printf("%s\n", r.st.ok.Render("no stale tasks"))
		return
	}
	for _, s := range stale {
		r.printf("%-12s %s  %s", s.Task.ID, r.status(s.Task.Status), r.st.warning.Render(s.Reason))
		if s.Task.Owner != "" {
			r.printf(" %s", r.st.muted.Render("@"+s.Task.Owner))
		}
		r.printf("\n")
	}
}

func (r *Renderer) severity(s conflict.Severity) string {
	switch s {
	case conflict.SeverityHigh:
		return r.st.high.Render(string(s))
	case conflict.SeverityMedium:
		return r.st.medium.Render(string(s))
	}
	return r.st.low.Render(string(s))
}

// Conflicts renders the file-overlap report.
func (r *Renderer) Conflicts(rep conflict.Report) {
	r.heading("File Conflicts")

	if len(rep.Conflicts) == 0 {
		r.printf("%s\n", r.st.ok.Render("no conflicts"))
	}
	for _, c := range rep.Conflicts {
		r.printf("%-6s %s ↔ %s: %s\n", r.severity(c.Severity), c.TaskA, c.TaskB, strings.Join(c.Files, ", "))
		if c.Suggestion != "" {
			r.printf("       %s\n", r.st.muted.Render(c.Suggestion))
		}
	}

	if len(rep.SafeGroups) > 0 {
		r.printf("\n%s\n", r.st.label.Render("Safe parallel groups"))
		for i, group := range rep.SafeGroups {
			r.printf("  %d: %s\n", i+1, ids(group))
		}
	}
}

// Decision renders a gate decision, one line per check.
func (r *Renderer) Decision(d gate.Decision) {
	r.heading("Dispatch Gate: " + d.TaskID)

	for _, c := range d.Checks {
		mark := r.st.ok.Render("✓")
		if !c.Passed {
			mark = r.st.warning.Render("!")
			if c.Severity == scheduler.SeverityError {
				mark = r.st.failure.Render("✗")
			}
		}
		line := fmt.Sprintf("  %s %-13s", mark, c.Name)
		if c.Message != "" {
			line += " " + c.Message
		}
		r.printf("%s\n", line)
	}

	switch {
	case d.CanDispatch:
		r.printf("Result: %s\n", r.st.ok.Render("can dispatch"))
	case d.Retryable():
		r.printf("Result: %s\n", r.st.warning.Render("blocked, retry later"))
	default:
		r.printf("Result: %s\n", r.st.failure.Render("blocked"))
	}
}

// History renders the status transitions of a task.
func (r *Renderer) History(taskID string, transitions []persistence.Transition) {
	r.heading("History: " + taskID)

	if len(transitions) == 0 {
		r.printf("%s\n", r.st.muted.Render("no recorded transitions"))
		return
	}
	for _, t := range transitions {
		line := fmt.Sprintf("  %s → %s", r.status(t.From), r.status(t.To))
		if t.Owner != "" {
			line += " @" + t.Owner
		}
		if t.Reason != "" {
			line += "  " + t.Reason
		}
		r.printf("%s %s\n", line, r.st.muted.Render("("+r.since(t.At)+")"))
	}
}

// Analysis renders the full report produced by engine.Analyze.
func (r *Renderer) Analysis(a *engine.Analysis) {
	r.Validation(a.Validation)
	r.printf("\n")
	r.Phases(a.Validation.Schedule)
	r.printf("\n")
	r.CriticalPath(a.Validation.CriticalPath)
	r.printf("\n")
	r.Tasks("Ready", a.Ready)
	r.printf("\n")
	r.Stale(a.Stale)
	r.printf("\n")
	r.Conflicts(a.Conflicts)
}
