// Package pool implements named, fixed-capacity memory pools with O(1)
// acquire/release via a free list. It generalizes the teacher's
// sync.Pool-based size-class MessagePool (pkg/websocket/message_pool.go)
// from an unbounded, auto-growing pool into bounded pools that can
// actually exhaust and signal backpressure — sync.Pool has no notion of
// "full", so it can't report memory_pressure the way fixed-block pools
// must.
package pool

import (
	"sync"
	"sync/atomic"

	"odin-telemetry/internal/errs"
	"odin-telemetry/internal/signal"
)

// PressureEvent is emitted on the shared signal bus after each
// successful allocation while utilization across all pools is above the
// configured threshold; Pool is "*" for that aggregate figure.
type PressureEvent struct {
	Pool        string
	Utilization float64
}

// Buffer is a handle to one block leased from a pool. It is move-only in
// spirit: Release returns the block and makes the handle unusable.
// Releasing twice is rejected (errs.ErrDoubleRelease) rather than
// corrupting the free list.
type Buffer struct {
	data  []byte
	pool  *Pool
	freed uint32 // atomic
}

// Bytes returns the block's backing storage. Valid until Release.
func (b *Buffer) Bytes() []byte { return b.data }

// Release returns the block to its owning pool. Safe to call once;
// additional calls return errs.ErrDoubleRelease.
func (b *Buffer) Release() error {
	if !atomic.CompareAndSwapUint32(&b.freed, 0, 1) {
		return errs.ErrDoubleRelease
	}
	b.pool.release(b)
	return nil
}

// Pool is one named, fixed-block-size, fixed-capacity allocation pool.
type Pool struct {
	name      string
	blockSize int

	mu       sync.Mutex
	free     []*Buffer
	total    int
	inUse    int
	allocs   uint64
	releases uint64
	failures uint64
}

func newPool(name string, blockSize, blockCount int) *Pool {
	p := &Pool{name: name, blockSize: blockSize, total: blockCount}
	p.free = make([]*Buffer, 0, blockCount)
	for i := 0; i < blockCount; i++ {
		p.free = append(p.free, &Buffer{data: make([]byte, blockSize), freed: 1})
	}
	return p
}

func (p *Pool) acquire() (*Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		p.failures++
		return nil, false
	}
	buf := p.free[n-1]
	p.free = p.free[:n-1]
	buf.pool = p
	atomic.StoreUint32(&buf.freed, 0)
	p.inUse++
	p.allocs++
	return buf, true
}

func (p *Pool) release(buf *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range buf.data {
		buf.data[i] = 0
	}
	p.free = append(p.free, buf)
	if p.inUse > 0 {
		p.inUse--
	}
	p.releases++
}

// Stats is a point-in-time snapshot of one pool's usage.
type Stats struct {
	Name               string
	BlockSize          int
	Capacity           int
	InUse              int
	Allocations        uint64
	Releases           uint64
	Failures           uint64
	UtilizationPercent float64
}

func (p *Pool) stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	util := 0.0
	if p.total > 0 {
		util = float64(p.inUse) / float64(p.total) * 100
	}
	return Stats{
		Name:               p.name,
		BlockSize:          p.blockSize,
		Capacity:           p.total,
		InUse:              p.inUse,
		Allocations:        p.allocs,
		Releases:           p.releases,
		Failures:           p.failures,
		UtilizationPercent: util,
	}
}

// Manager owns the named pools of §4.B: six size classes by default, each
// independent — there is no cross-pool transfer of blocks.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool
	// sizeOrder lists pool names sorted ascending by block size, so
	// AllocateForSize can find the smallest class that fits a request.
	sizeOrder []string

	pressureThreshold float64
	Pressure          *signal.Bus[PressureEvent]
}

// NewManager creates an empty pool manager. pressureThreshold is the
// global-utilization fraction (0..1) above which a PressureEvent fires;
// 0 selects the spec default of 0.85.
func NewManager(pressureThreshold float64) *Manager {
	if pressureThreshold <= 0 {
		pressureThreshold = 0.85
	}
	return &Manager{
		pools:             make(map[string]*Pool),
		pressureThreshold: pressureThreshold,
		Pressure:          signal.New[PressureEvent](),
	}
}

// CreatePool registers a named pool. Creating a pool after allocation has
// begun elsewhere is permitted, though the spec discourages it.
func (m *Manager) CreatePool(name string, blockSize, blockCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pools[name]; exists {
		return errs.ErrAlreadyRegistered
	}
	m.pools[name] = newPool(name, blockSize, blockCount)

	m.sizeOrder = append(m.sizeOrder, name)
	sortBySize(m.sizeOrder, m.pools)
	return nil
}

func sortBySize(names []string, pools map[string]*Pool) {
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && pools[names[j-1]].blockSize > pools[names[j]].blockSize; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
}

// Allocate leases a block from the named pool.
func (m *Manager) Allocate(name string) (*Buffer, error) {
	m.mu.RLock()
	p, ok := m.pools[name]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.ErrNotFound
	}

	buf, ok := p.acquire()
	if !ok {
		return nil, errs.ErrPoolExhausted
	}
	m.checkPressure()
	return buf, nil
}

// AllocateForSize leases a block from the smallest registered pool whose
// block size is at least n bytes. Returns errs.ErrNoPoolForSize if no
// class fits.
func (m *Manager) AllocateForSize(n int) (*Buffer, error) {
	m.mu.RLock()
	var chosen *Pool
	for _, name := range m.sizeOrder {
		p := m.pools[name]
		if p.blockSize >= n {
			chosen = p
			break
		}
	}
	m.mu.RUnlock()

	if chosen == nil {
		return nil, errs.ErrNoPoolForSize
	}
	buf, ok := chosen.acquire()
	if !ok {
		return nil, errs.ErrPoolExhausted
	}
	m.checkPressure()
	return buf, nil
}

func (m *Manager) checkPressure() {
	util := m.TotalUtilization()
	if util > m.pressureThreshold {
		m.Pressure.Emit(PressureEvent{Pool: "*", Utilization: util})
	}
}

// Stats returns the named pool's usage snapshot.
func (m *Manager) Stats(name string) (Stats, error) {
	m.mu.RLock()
	p, ok := m.pools[name]
	m.mu.RUnlock()
	if !ok {
		return Stats{}, errs.ErrNotFound
	}
	return p.stats(), nil
}

// AllStats returns a snapshot for every registered pool.
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Stats, 0, len(m.pools))
	for _, name := range m.sizeOrder {
		out = append(out, m.pools[name].stats())
	}
	return out
}

// TotalUtilization returns the fraction (0..1) of all blocks, across all
// pools, currently in use.
func (m *Manager) TotalUtilization() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total, inUse int
	for _, p := range m.pools {
		s := p.stats()
		total += s.Capacity
		inUse += s.InUse
	}
	if total == 0 {
		return 0
	}
	return float64(inUse) / float64(total)
}
