// Package eventloop implements the priority-queued, per-type event
// facility used for lifecycle and system-wide notifications — never on
// the packet hot path (that's internal/dispatcher). The priority
// queue uses container/heap the way grafana-tempo's backendscheduler
// orders its tenant selector and disk_cache orders eviction candidates;
// here it's one max-heap per event type instead of one shared heap.
package eventloop

import (
	"container/heap"
	"sync"
	"time"

	"odin-telemetry/internal/signal"
)

// Priority orders events within a type's queue; higher values are
// serviced first.
type Priority int

const (
	PriorityLowest Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// DefaultMaxQueueSize is the per-type overflow threshold.
const DefaultMaxQueueSize = 10000

// DefaultTimerPeriod is how often the delayed-event list is scanned.
const DefaultTimerPeriod = 10 * time.Millisecond

// Event is one posted occurrence. Data carries arbitrary named fields;
// Consume stops further handler invocation for this event.
type Event struct {
	Type      string
	Priority  Priority
	Timestamp time.Time
	Data      map[string]any

	consumed bool
}

// Consume marks the event so no further handlers for this type run
// against it.
func (e *Event) Consume() { e.consumed = true }

// Consumed reports whether a prior handler already called Consume.
func (e *Event) Consumed() bool { return e.consumed }

// Handler processes one event. Handlers for a type run in subscription
// order until one calls Consume.
type Handler func(*Event)

// OverflowEvent is emitted on the Overflow bus when a per-type queue is
// at capacity and a new event is dropped.
type OverflowEvent struct {
	Type string
	Size int
}

type queueItem struct {
	event *Event
	seq   uint64 // insertion order, for FIFO tie-break within a priority
}

// typeQueue is a max-heap on (Priority, insertion order) — higher
// priority first, older entries first within equal priority.
type typeQueue []*queueItem

func (q typeQueue) Len() int { return len(q) }
func (q typeQueue) Less(i, j int) bool {
	if q[i].event.Priority != q[j].event.Priority {
		return q[i].event.Priority > q[j].event.Priority
	}
	return q[i].seq < q[j].seq
}
func (q typeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *typeQueue) Push(x any)   { *q = append(*q, x.(*queueItem)) }
func (q *typeQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

type delayedEvent struct {
	event  *Event
	fireAt time.Time
}

// Loop is the priority event loop of §4.E.
type Loop struct {
	mu       sync.Mutex
	queues   map[string]*typeQueue
	handlers map[string][]Handler
	filters  map[string]func(*Event) bool
	seq      uint64

	delayed []delayedEvent

	maxQueueSize int
	timerPeriod  time.Duration

	running bool
	paused  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	Overflow *signal.Bus[OverflowEvent]
}

// New creates a Loop. maxQueueSize <= 0 selects DefaultMaxQueueSize;
// timerPeriod <= 0 selects DefaultTimerPeriod.
func New(maxQueueSize int, timerPeriod time.Duration) *Loop {
	if maxQueueSize <= 0 {
		maxQueueSize = DefaultMaxQueueSize
	}
	if timerPeriod <= 0 {
		timerPeriod = DefaultTimerPeriod
	}
	return &Loop{
		queues:       make(map[string]*typeQueue),
		handlers:     make(map[string][]Handler),
		filters:      make(map[string]func(*Event) bool),
		maxQueueSize: maxQueueSize,
		timerPeriod:  timerPeriod,
		Overflow:     signal.New[OverflowEvent](),
	}
}

// Subscribe registers a handler for an event type, invoked in
// subscription order when that type is processed.
func (l *Loop) Subscribe(eventType string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[eventType] = append(l.handlers[eventType], h)
}

// SetFilter installs a per-type predicate; events for which it returns
// false are dropped before any handler runs.
func (l *Loop) SetFilter(eventType string, predicate func(*Event) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filters[eventType] = predicate
}

// Post enqueues an event for its type's priority queue. If the queue is
// at maxQueueSize, the new event is dropped and Overflow fires.
func (l *Loop) Post(e *Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.postLocked(e)
}

func (l *Loop) postLocked(e *Event) {
	q, ok := l.queues[e.Type]
	if !ok {
		q = &typeQueue{}
		l.queues[e.Type] = q
	}
	if q.Len() >= l.maxQueueSize {
		l.Overflow.Emit(OverflowEvent{Type: e.Type, Size: q.Len()})
		return
	}

	l.seq++
	heap.Push(q, &queueItem{event: e, seq: l.seq})
}

// PostDelayed schedules e to enter its type's queue after delay,
// checked by the periodic delayed-event timer.
func (l *Loop) PostDelayed(e *Event, delay time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delayed = append(l.delayed, delayedEvent{event: e, fireAt: time.Now().Add(delay)})
}

// ProcessQueuedEvents drains every type's queue, invoking handlers.
func (l *Loop) ProcessQueuedEvents() {
	l.mu.Lock()
	types := make([]string, 0, len(l.queues))
	for t := range l.queues {
		types = append(types, t)
	}
	l.mu.Unlock()

	for _, t := range types {
		l.ProcessQueuedEventsFor(t)
	}
}

// ProcessQueuedEventsFor drains one type's queue, invoking its handlers
// in priority, then FIFO, order.
func (l *Loop) ProcessQueuedEventsFor(eventType string) {
	for {
		l.mu.Lock()
		if l.paused {
			l.mu.Unlock()
			return
		}
		q, ok := l.queues[eventType]
		if !ok || q.Len() == 0 {
			l.mu.Unlock()
			return
		}
		item := heap.Pop(q).(*queueItem)
		filter := l.filters[eventType]
		handlers := append([]Handler(nil), l.handlers[eventType]...)
		l.mu.Unlock()

		e := item.event
		if filter != nil && !filter(e) {
			continue
		}
		for _, h := range handlers {
			h(e)
			if e.Consumed() {
				break
			}
		}
	}
}

func (l *Loop) scanDelayed() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	remaining := l.delayed[:0]
	for _, d := range l.delayed {
		if !now.Before(d.fireAt) {
			l.postLocked(d.event)
		} else {
			remaining = append(remaining, d)
		}
	}
	l.delayed = remaining
}

// Start begins the delayed-event timer goroutine. Starting twice is a
// no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.paused = false
	l.stopCh = make(chan struct{})
	stopCh := l.stopCh
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.timerPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				l.scanDelayed()
			}
		}
	}()
}

// Stop halts the delayed-event timer and waits for it to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()

	l.wg.Wait()
}

// Pause suspends event processing; posted events still accumulate.
func (l *Loop) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = true
}

// Resume re-enables event processing after Pause.
func (l *Loop) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = false
}

// QueueLen reports the current backlog for a type (for tests/metrics).
func (l *Loop) QueueLen(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	q, ok := l.queues[eventType]
	if !ok {
		return 0
	}
	return q.Len()
}
