// Package ring implements a single-producer single-consumer lock-free
// ring buffer, generalized with generics from the teacher's fixed
// []byte RingBuffer (pkg/websocket/ring_buffer.go) and following the
// cached-tail/cached-head optimization of the original SPSCRingBuffer
// (concurrent/spsc_ring_buffer.h): each side keeps a local copy of the
// other side's cursor so the common-case push/pop avoids a second
// atomic load.
//
// This is strictly single-producer, single-consumer — see spec.md's
// Non-goals. Concurrent pushes from multiple goroutines, or concurrent
// pops from multiple goroutines, are not safe.
package ring

import "sync/atomic"

const cacheLineSize = 64

// pad absorbs the remainder of a cache line after a counter so adjacent
// fields don't share a line with it (teacher: pkg/websocket/ring_buffer.go
// uses the same `_ [64]byte` spacer between head/tail).
type pad [cacheLineSize - 8]byte

// Buffer is an SPSC ring buffer over T, with capacity rounded up to the
// next power of two.
type Buffer[T any] struct {
	head       uint64
	_          pad
	cachedTail uint64
	_          pad

	tail       uint64
	_          pad
	cachedHead uint64
	_          pad

	totalPushes  uint64
	totalPops    uint64
	pushFailures uint64
	popFailures  uint64

	mask uint64
	buf  []T
}

// New creates a buffer with a slot count equal to the next power of two
// at or above capacity (values below 1 are treated as 1). One slot
// always stays empty, so the buffer holds at most that count minus one
// items; a buffer of 1 slot accepts none.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	c := nextPowerOfTwo(uint64(capacity))
	return &Buffer[T]{
		mask: c - 1,
		buf:  make([]T, c),
	}
}

func nextPowerOfTwo(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// Capacity returns the buffer's slot count; at most Capacity()-1 items
// can be queued at once.
func (b *Buffer[T]) Capacity() int { return int(b.mask + 1) }

// TryPush attempts to enqueue item. Returns false if the buffer is full.
// Must only be called from the single producer goroutine.
func (b *Buffer[T]) TryPush(item T) bool {
	head := atomic.LoadUint64(&b.head)
	next := (head + 1) & b.mask

	if next == atomic.LoadUint64(&b.cachedTail) {
		atomic.StoreUint64(&b.cachedTail, atomic.LoadUint64(&b.tail))
		if next == atomic.LoadUint64(&b.cachedTail) {
			atomic.AddUint64(&b.pushFailures, 1)
			return false
		}
	}

	b.buf[head] = item
	atomic.StoreUint64(&b.head, next)
	atomic.AddUint64(&b.totalPushes, 1)
	return true
}

// TryPop attempts to dequeue one item. Returns the zero value and false
// if the buffer is empty. Must only be called from the single consumer
// goroutine.
func (b *Buffer[T]) TryPop() (item T, ok bool) {
	tail := atomic.LoadUint64(&b.tail)

	if tail == atomic.LoadUint64(&b.cachedHead) {
		atomic.StoreUint64(&b.cachedHead, atomic.LoadUint64(&b.head))
		if tail == atomic.LoadUint64(&b.cachedHead) {
			atomic.AddUint64(&b.popFailures, 1)
			return item, false
		}
	}

	item = b.buf[tail]
	var zero T
	b.buf[tail] = zero
	atomic.StoreUint64(&b.tail, (tail+1)&b.mask)
	atomic.AddUint64(&b.totalPops, 1)
	return item, true
}

// TryPeek returns the front item without removing it.
func (b *Buffer[T]) TryPeek() (item T, ok bool) {
	tail := atomic.LoadUint64(&b.tail)

	if tail == atomic.LoadUint64(&b.cachedHead) {
		atomic.StoreUint64(&b.cachedHead, atomic.LoadUint64(&b.head))
		if tail == atomic.LoadUint64(&b.cachedHead) {
			return item, false
		}
	}
	return b.buf[tail], true
}

// Size returns the approximate number of queued items.
func (b *Buffer[T]) Size() int {
	head := atomic.LoadUint64(&b.head)
	tail := atomic.LoadUint64(&b.tail)
	return int((head - tail) & b.mask)
}

// Empty reports whether the buffer currently holds no items.
func (b *Buffer[T]) Empty() bool {
	return atomic.LoadUint64(&b.head) == atomic.LoadUint64(&b.tail)
}

// Full reports whether the buffer currently has no free slot.
func (b *Buffer[T]) Full() bool {
	head := atomic.LoadUint64(&b.head)
	tail := atomic.LoadUint64(&b.tail)
	return (head+1)&b.mask == tail
}

// Clear drains the buffer. Not safe to call concurrently with
// TryPush/TryPop — intended for use only when producer and consumer are
// both idle, matching the original's documented constraint.
func (b *Buffer[T]) Clear() {
	var zero T
	tail := atomic.LoadUint64(&b.tail)
	head := atomic.LoadUint64(&b.head)
	for tail != head {
		b.buf[tail] = zero
		tail = (tail + 1) & b.mask
	}
	atomic.StoreUint64(&b.head, 0)
	atomic.StoreUint64(&b.tail, 0)
	atomic.StoreUint64(&b.cachedHead, 0)
	atomic.StoreUint64(&b.cachedTail, 0)
}

// Stats is a point-in-time snapshot of buffer usage counters.
type Stats struct {
	TotalPushes        uint64
	TotalPops          uint64
	PushFailures       uint64
	PopFailures        uint64
	CurrentSize        int
	UtilizationPercent float64
}

// Stats returns current counters and utilization.
func (b *Buffer[T]) Stats() Stats {
	size := b.Size()
	return Stats{
		TotalPushes:        atomic.LoadUint64(&b.totalPushes),
		TotalPops:          atomic.LoadUint64(&b.totalPops),
		PushFailures:       atomic.LoadUint64(&b.pushFailures),
		PopFailures:        atomic.LoadUint64(&b.popFailures),
		CurrentSize:        size,
		UtilizationPercent: float64(size) / float64(b.Capacity()) * 100,
	}
}

// ResetStats zeroes the counters without touching queued items.
func (b *Buffer[T]) ResetStats() {
	atomic.StoreUint64(&b.totalPushes, 0)
	atomic.StoreUint64(&b.totalPops, 0)
	atomic.StoreUint64(&b.pushFailures, 0)
	atomic.StoreUint64(&b.popFailures, 0)
}
