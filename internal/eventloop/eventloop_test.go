package eventloop

import (
	"testing"
	"time"
)

func TestHandlersInvokedInPriorityThenFIFOOrder(t *testing.T) {
	l := New(0, 0)

	var order []string
	l.Subscribe("tick", func(e *Event) {
		order = append(order, e.Data["tag"].(string))
	})

	l.Post(&Event{Type: "tick", Priority: PriorityLow, Data: map[string]any{"tag": "low-1"}})
	l.Post(&Event{Type: "tick", Priority: PriorityCritical, Data: map[string]any{"tag": "critical"}})
	l.Post(&Event{Type: "tick", Priority: PriorityLow, Data: map[string]any{"tag": "low-2"}})

	l.ProcessQueuedEventsFor("tick")

	want := []string{"critical", "low-1", "low-2"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestConsumeStopsFurtherHandlers(t *testing.T) {
	l := New(0, 0)

	firstRan, secondRan := false, false
	l.Subscribe("x", func(e *Event) {
		firstRan = true
		e.Consume()
	})
	l.Subscribe("x", func(e *Event) {
		secondRan = true
	})

	l.Post(&Event{Type: "x"})
	l.ProcessQueuedEventsFor("x")

	if !firstRan {
		t.Fatal("expected first handler to run")
	}
	if secondRan {
		t.Fatal("expected second handler to be skipped after Consume")
	}
}

func TestFilterDropsEventBeforeHandlers(t *testing.T) {
	l := New(0, 0)

	ran := false
	l.Subscribe("y", func(e *Event) { ran = true })
	l.SetFilter("y", func(e *Event) bool { return false })

	l.Post(&Event{Type: "y"})
	l.ProcessQueuedEventsFor("y")

	if ran {
		t.Fatal("expected filtered event to never reach handler")
	}
}

func TestOverflowDropsNewestAndEmits(t *testing.T) {
	l := New(1, 0)

	var overflowed int
	l.Overflow.Subscribe(func(OverflowEvent) { overflowed++ })

	l.Post(&Event{Type: "z"})
	l.Post(&Event{Type: "z"}) // queue already at capacity 1

	if overflowed != 1 {
		t.Fatalf("overflowed = %d, want 1", overflowed)
	}
	if l.QueueLen("z") != 1 {
		t.Fatalf("QueueLen = %d, want 1 (newest dropped)", l.QueueLen("z"))
	}
}

func TestPauseStopsProcessingUntilResume(t *testing.T) {
	l := New(0, 0)

	ran := false
	l.Subscribe("p", func(e *Event) { ran = true })
	l.Pause()

	l.Post(&Event{Type: "p"})
	l.ProcessQueuedEventsFor("p")
	if ran {
		t.Fatal("expected no handler invocation while paused")
	}

	l.Resume()
	l.ProcessQueuedEventsFor("p")
	if !ran {
		t.Fatal("expected handler invocation to resume after Resume")
	}
}

func TestPostDelayedFiresAfterTimerScan(t *testing.T) {
	l := New(0, 5*time.Millisecond)

	delivered := make(chan struct{}, 1)
	l.Subscribe("delayed", func(e *Event) { delivered <- struct{}{} })

	l.PostDelayed(&Event{Type: "delayed"}, 1*time.Millisecond)
	l.Start()
	defer l.Stop()

	deadline := time.After(200 * time.Millisecond)
	for {
		l.ProcessQueuedEventsFor("delayed")
		select {
		case <-delivered:
			return
		case <-deadline:
			t.Fatal("delayed event was never delivered")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestProcessQueuedEventsDrainsAllTypes(t *testing.T) {
	l := New(0, 0)

	var a, b bool
	l.Subscribe("a", func(e *Event) { a = true })
	l.Subscribe("b", func(e *Event) { b = true })

	l.Post(&Event{Type: "a"})
	l.Post(&Event{Type: "b"})

	l.ProcessQueuedEvents()

	if !a || !b {
		t.Fatalf("expected both types drained: a=%v b=%v", a, b)
	}
}
