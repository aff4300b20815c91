package events

import (
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	bus.Publish(TaskClaimedEvent{ID: "task-1", Owner: "agent", Timestamp: time.Now()})

	select {
	case received := <-ch:
		if received.TaskID() != "task-1" {
			t.Errorf("expected task ID 'task-1', got '%s'", received.TaskID())
		}
		if received.EventType() != EventTypeTaskClaimed {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskClaimed, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	bus.Publish(TaskCompletedEvent{ID: "task-2", Duration: time.Minute, Timestamp: time.Now()})

	// Both channels should receive the event
	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "task-2" {
				t.Errorf("subscriber %d: expected task ID 'task-2', got '%s'", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TaskResetEvent{ID: "task", Reason: "stale", Timestamp: time.Now()})
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	if got := bus.Dropped(); got != 9 {
		t.Errorf("expected 9 dropped deliveries, got %d", got)
	}

	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()

	ch := bus.Subscribe(TopicTask, 10)
	all := bus.SubscribeAll(10)

	bus.Close()
	bus.Close()

	for _, c := range []<-chan Event{ch, all} {
		received := 0
		for range c {
			received++
		}
		if received != 0 {
			t.Errorf("expected 0 events after close, got %d", received)
		}
	}

	// Subscribing after close yields a closed channel
	if _, ok := <-bus.Subscribe(TopicGate, 1); ok {
		t.Error("expected closed channel from subscribe after close")
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	bus.Publish(TaskClaimedEvent{ID: "task-1", Timestamp: time.Now()})
	bus.Publish(nil)
	Discard.Publish(TaskClaimedEvent{ID: "task-1"})
}

// TestTopicRouting verifies each event lands only on its own topic.
func TestTopicRouting(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	gateCh := bus.Subscribe(TopicGate, 10)
	graphCh := bus.Subscribe(TopicGraph, 10)

	bus.Publish(DependencyChangedEvent{ID: "b", BlockerID: "a", Added: true, Timestamp: time.Now()})
	bus.Publish(GateDecisionEvent{ID: "b", CanDispatch: false, Reasons: []string{"unmet blockers: a (pending)"}, Timestamp: time.Now()})
	bus.Publish(GraphValidatedEvent{Valid: true, Tasks: 2, Timestamp: time.Now()})

	expect := map[<-chan Event]string{
		taskCh:  EventTypeDependencyChanged,
		gateCh:  EventTypeGateDecision,
		graphCh: EventTypeGraphValidated,
	}
	for ch, want := range expect {
		select {
		case received := <-ch:
			if received.EventType() != want {
				t.Errorf("expected %s, got %s", want, received.EventType())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout waiting for %s", want)
		}
		select {
		case extra := <-ch:
			t.Errorf("unexpected extra event %s", extra.EventType())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestSubscribeAll verifies that SubscribeAll receives events from all topics.
func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	bus.Publish(TaskClaimedEvent{ID: "task-1", Timestamp: time.Now()})
	bus.Publish(GraphValidatedEvent{Valid: false, Errors: 1, Timestamp: time.Now()})

	receivedTypes := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	if !receivedTypes[EventTypeTaskClaimed] {
		t.Error("SubscribeAll did not receive task event")
	}
	if !receivedTypes[EventTypeGraphValidated] {
		t.Error("SubscribeAll did not receive graph event")
	}

	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
	}
}
