package events

import (
	"time"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Topic() string
	TaskID() string
}

// Topic constants
const (
	TopicTask  = "task"
	TopicGate  = "gate"
	TopicGraph = "graph"
)

// Event type constants
const (
	EventTypeTaskClaimed       = "task.claimed"
	EventTypeTaskCompleted     = "task.completed"
	EventTypeTaskReset         = "task.reset"
	EventTypeDependencyChanged = "task.dependency"
	EventTypeGateDecision      = "gate.decision"
	EventTypeGraphValidated    = "graph.validated"
)

// TaskClaimedEvent is published when a task moves to in_progress.
type TaskClaimedEvent struct {
	ID        string
	Owner     string
	Timestamp time.Time
}

func (e TaskClaimedEvent) EventType() string { return EventTypeTaskClaimed }
func (e TaskClaimedEvent) Topic() string     { return TopicTask }
func (e TaskClaimedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task moves to completed.
type TaskCompletedEvent struct {
	ID        string
	Owner     string
	Duration  time.Duration // Time since the claim, when known
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) Topic() string     { return TopicTask }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskResetEvent is published when a task is returned to pending.
type TaskResetEvent struct {
	ID             string
	PreviousStatus scheduler.TaskStatus
	PreviousOwner  string
	Reason         string
	Timestamp      time.Time
}

func (e TaskResetEvent) EventType() string { return EventTypeTaskReset }
func (e TaskResetEvent) Topic() string     { return TopicTask }
func (e TaskResetEvent) TaskID() string    { return e.ID }

// DependencyChangedEvent is published when a blockedBy edge is added or removed.
type DependencyChangedEvent struct {
	ID        string
	BlockerID string
	Added     bool
	Timestamp time.Time
}

func (e DependencyChangedEvent) EventType() string { return EventTypeDependencyChanged }
func (e DependencyChangedEvent) Topic() string     { return TopicTask }
func (e DependencyChangedEvent) TaskID() string    { return e.ID }

// GateDecisionEvent is published for every pre-dispatch gate evaluation.
type GateDecisionEvent struct {
	ID          string
	CanDispatch bool
	Reasons     []string
	Timestamp   time.Time
}

func (e GateDecisionEvent) EventType() string { return EventTypeGateDecision }
func (e GateDecisionEvent) Topic() string     { return TopicGate }
func (e GateDecisionEvent) TaskID() string    { return e.ID }

// GraphValidatedEvent is published after each validation run.
type GraphValidatedEvent struct {
	Valid     bool
	Tasks     int
	Errors    int
	Warnings  int
	Timestamp time.Time
}

func (e GraphValidatedEvent) EventType() string { return EventTypeGraphValidated }
func (e GraphValidatedEvent) Topic() string     { return TopicGraph }
func (e GraphValidatedEvent) TaskID() string    { return "" }
