// Package threadpool implements the named worker-pool scheduling layer
// of §4.F, generalizing the teacher's fixed-size, channel-queued
// WorkerPool (src/worker_pool.go) into named pools with a choice of
// scheduling policy, per-task priority, and cooperative cancellation.
package threadpool

import (
	"container/heap"
	"sync"
	"sync/atomic"
)

// Policy selects how a submitted task is assigned to a worker.
type Policy string

const (
	PolicyLeastLoaded  Policy = "least_loaded"
	PolicyRoundRobin   Policy = "round_robin"
	PolicyWorkStealing Policy = "work_stealing"
)

// Task is cooperative: it must periodically check Cancelled and return
// early if true. The pool never forcibly interrupts a running task.
type Task func(cancelled func() bool)

// Future is returned by Submit; Wait blocks until the task has run.
// Tasks still queued when Stop is called are run by the workers' drain
// before they exit.
type Future struct {
	done      chan struct{}
	cancelled atomic.Bool
}

// Wait blocks until the task completes.
func (f *Future) Wait() { <-f.done }

// Cancel requests cooperative cancellation. The running task observes
// this the next time it calls its cancelled() callback; the pool does
// not interrupt it forcibly.
func (f *Future) Cancel() { f.cancelled.Store(true) }

func (f *Future) isCancelled() bool { return f.cancelled.Load() }

type job struct {
	task     Task
	priority int
	future   *Future
	seq      uint64
}

// jobHeap is a max-heap on priority, FIFO within equal priority.
type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(*job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// worker owns a local priority deque. WorkStealing lets idle workers
// take the last heap slot of the first peer, in pool order, that has
// queued work.
type worker struct {
	mu     sync.Mutex
	queue  jobHeap
	notify chan struct{}
}

func newWorker() *worker {
	return &worker{notify: make(chan struct{}, 1)}
}

func (w *worker) push(j *job) {
	w.mu.Lock()
	heap.Push(&w.queue, j)
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *worker) popLocal() (*job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil, false
	}
	return heap.Pop(&w.queue).(*job), true
}

// steal removes the last entry of the heap's backing slice: a leaf, so
// never ahead of its ancestors, though not necessarily the lowest-priority
// or oldest entry. Removing it keeps the heap valid without requiring a
// true lock-free deque.
func (w *worker) steal() (*job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.queue)
	if n == 0 {
		return nil, false
	}
	j := w.queue[n-1]
	w.queue[n-1] = nil
	w.queue = w.queue[:n-1]
	return j, true
}

func (w *worker) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Pool is one named group of worker goroutines sharing a scheduling
// policy.
type Pool struct {
	name    string
	policy  Policy
	workers []*worker

	rrNext uint64
	seq    uint64
	seqMu  sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool creates a pool of size workers using the given policy.
// size < 1 is treated as 1.
func NewPool(name string, size int, policy Policy) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		name:    name,
		policy:  policy,
		workers: make([]*worker, size),
		stopCh:  make(chan struct{}),
	}
	for i := range p.workers {
		p.workers[i] = newWorker()
	}
	return p
}

// Start launches the pool's worker goroutines.
func (p *Pool) Start() {
	for _, w := range p.workers {
		p.wg.Add(1)
		go p.runWorker(w)
	}
}

func (p *Pool) runWorker(w *worker) {
	defer p.wg.Done()
	for {
		if j, ok := w.popLocal(); ok {
			p.execute(j)
			continue
		}
		if p.policy == PolicyWorkStealing {
			if j, ok := p.stealFromPeer(w); ok {
				p.execute(j)
				continue
			}
		}
		select {
		case <-w.notify:
		case <-p.stopCh:
			// Drain remaining local work before exiting.
			for {
				j, ok := w.popLocal()
				if !ok {
					return
				}
				p.execute(j)
			}
		}
	}
}

func (p *Pool) stealFromPeer(self *worker) (*job, bool) {
	for _, peer := range p.workers {
		if peer == self {
			continue
		}
		if j, ok := peer.steal(); ok {
			return j, true
		}
	}
	return nil, false
}

func (p *Pool) execute(j *job) {
	defer close(j.future.done)
	j.task(j.future.isCancelled)
}

// Submit schedules task at the given priority (higher runs first among
// queued work) and returns a Future for completion/cancellation.
func (p *Pool) Submit(task Task, priority int) *Future {
	future := &Future{done: make(chan struct{})}

	p.seqMu.Lock()
	p.seq++
	seq := p.seq
	p.seqMu.Unlock()

	j := &job{task: task, priority: priority, future: future, seq: seq}

	target := p.chooseWorker()
	target.push(j)
	return future
}

func (p *Pool) chooseWorker() *worker {
	switch p.policy {
	case PolicyLeastLoaded:
		best := p.workers[0]
		bestLen := best.len()
		for _, w := range p.workers[1:] {
			if l := w.len(); l < bestLen {
				best, bestLen = w, l
			}
		}
		return best
	case PolicyRoundRobin:
		idx := atomic.AddUint64(&p.rrNext, 1) - 1
		return p.workers[idx%uint64(len(p.workers))]
	default: // PolicyWorkStealing: push local-ish, round robin as the "local" assignment
		idx := atomic.AddUint64(&p.rrNext, 1) - 1
		return p.workers[idx%uint64(len(p.workers))]
	}
}

// Size returns the number of worker goroutines.
func (p *Pool) Size() int { return len(p.workers) }

// QueueDepth returns the total queued (not yet started) job count.
func (p *Pool) QueueDepth() int {
	total := 0
	for _, w := range p.workers {
		total += w.len()
	}
	return total
}

// Stop signals workers to drain their local queues and exit, then waits
// for them to finish. In-flight tasks run to completion; they are not
// forcibly interrupted.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}
