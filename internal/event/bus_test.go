package event

import (
	"sync"
	"testing"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus()

	var received []Event
	bus.Subscribe(TypePhaseChanged, func(e Event) {
		received = append(received, e)
	})

	bus.Publish(NewPhaseChangedEvent("proj-1", "planning"))

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}

	pc, ok := received[0].(PhaseChangedEvent)
	if !ok {
		t.Fatalf("expected PhaseChangedEvent, got %T", received[0])
	}
	if pc.ProjectID != "proj-1" || pc.Phase != "planning" {
		t.Errorf("unexpected payload: %+v", pc)
	}
}

func TestPublishOnlyMatchingType(t *testing.T) {
	bus := NewBus()

	var phaseCount, mergeCount int
	bus.Subscribe(TypePhaseChanged, func(Event) { phaseCount++ })
	bus.Subscribe(TypeMergeResult, func(Event) { mergeCount++ })

	bus.Publish(NewPhaseChangedEvent("proj-1", "executing"))
	bus.Publish(NewPhaseChangedEvent("proj-1", "completed"))
	bus.Publish(NewMergeResultEvent("proj-1", "foreman/agent-1", "task-1", true, ""))

	if phaseCount != 2 {
		t.Errorf("phase handler called %d times, want 2", phaseCount)
	}
	if mergeCount != 1 {
		t.Errorf("merge handler called %d times, want 1", mergeCount)
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus()

	var all []string
	bus.SubscribeAll(func(e Event) {
		all = append(all, e.EventType())
	})

	bus.Publish(NewPlanReadyEvent("proj-1", nil))
	bus.Publish(NewWorkerSpawnedEvent("proj-1", "agent-2", "task-1", "foreman/agent-2"))
	bus.Publish(NewLogEvent("INFO", "orchestrator", "hello", "proj-1", ""))

	want := []string{TypePlanReady, TypeWorkerSpawned, TypeLog}
	if len(all) != len(want) {
		t.Fatalf("received %d events, want %d", len(all), len(want))
	}
	for i, typ := range want {
		if all[i] != typ {
			t.Errorf("event %d = %q, want %q", i, all[i], typ)
		}
	}
}

func TestSpecificHandlersBeforeWildcard(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.SubscribeAll(func(Event) { order = append(order, "wildcard") })
	bus.Subscribe(TypeTaskStatusChanged, func(Event) { order = append(order, "specific") })

	bus.Publish(NewTaskStatusChangedEvent("proj-1", "task-1", "completed", "agent-1", "b"))

	if len(order) != 2 || order[0] != "specific" || order[1] != "wildcard" {
		t.Errorf("dispatch order = %v, want [specific wildcard]", order)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	id := bus.Subscribe(TypePhaseChanged, func(Event) { count++ })

	bus.Publish(NewPhaseChangedEvent("proj-1", "planning"))

	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe returned false for live subscription")
	}
	if bus.Unsubscribe(id) {
		t.Error("Unsubscribe returned true for removed subscription")
	}

	bus.Publish(NewPhaseChangedEvent("proj-1", "reviewing"))

	if count != 1 {
		t.Errorf("handler called %d times after unsubscribe, want 1", count)
	}
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()

	called := false
	bus.Subscribe(TypeLog, func(Event) { panic("boom") })
	bus.Subscribe(TypeLog, func(Event) { called = true })

	bus.Publish(NewLogEvent("ERROR", "test", "msg", "proj-1", ""))

	if !called {
		t.Error("second handler not called after first panicked")
	}
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.Subscribe(TypeTelemetry, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(NewTelemetryEvent("agent-1", "file_edited", "main.go", ""))
			}
		}()
	}
	wg.Wait()

	if count != 1000 {
		t.Errorf("handler called %d times, want 1000", count)
	}
}

func TestClear(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(TypePhaseChanged, func(Event) {})
	bus.SubscribeAll(func(Event) {})

	if got := bus.SubscriptionCount(); got != 2 {
		t.Fatalf("SubscriptionCount = %d, want 2", got)
	}

	bus.Clear()

	if got := bus.SubscriptionCount(); got != 0 {
		t.Errorf("SubscriptionCount after Clear = %d, want 0", got)
	}
}
