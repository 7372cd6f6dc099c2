package threadpool

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"odin-telemetry/internal/errs"
	"odin-telemetry/internal/signal"
)

// DefaultGlobalCap is the process-wide thread cap of §4.F.
const DefaultGlobalCap = 128

// DefaultSampleInterval is how often the manager samples system
// resources.
const DefaultSampleInterval = time.Second

// ResourcePressureEvent is emitted when sampled CPU or memory usage
// crosses its threshold (default 90%).
type ResourcePressureEvent struct {
	CPUPercent float64
	MemPercent float64
}

// PoolLifecycleEvent accompanies pool_created/pool_removed.
type PoolLifecycleEvent struct {
	Name string
}

// PerformanceEvent reports aggregate throughput across all pools.
type PerformanceEvent struct {
	MsgsPerSec   float64
	AvgLatencyUs float64
}

// Manager is the named pool registry and process-wide resource monitor
// of §4.F. The default pool is auto-created with
// threads = max(2, min(16, floor(cores*0.75))).
type Manager struct {
	mu        sync.RWMutex
	pools     map[string]*Pool
	totalSize int
	globalCap int

	sampleInterval time.Duration
	stopSampler    chan struct{}
	samplerWg      sync.WaitGroup

	emergencyLatched bool

	PoolCreated      *signal.Bus[PoolLifecycleEvent]
	PoolRemoved      *signal.Bus[PoolLifecycleEvent]
	ResourcePressure *signal.Bus[ResourcePressureEvent]
	EmergencyStopped *signal.Bus[struct{}]
}

// DefaultPoolThreads computes max(2, min(16, floor(cores*0.75))).
func DefaultPoolThreads() int {
	n := int(float64(runtime.NumCPU()) * 0.75)
	if n > 16 {
		n = 16
	}
	if n < 2 {
		n = 2
	}
	return n
}

// NewManager creates a manager with the default pool already registered
// and running. globalCap <= 0 selects DefaultGlobalCap;
// sampleInterval <= 0 selects DefaultSampleInterval.
func NewManager(globalCap int, sampleInterval time.Duration) *Manager {
	if globalCap <= 0 {
		globalCap = DefaultGlobalCap
	}
	if sampleInterval <= 0 {
		sampleInterval = DefaultSampleInterval
	}

	m := &Manager{
		pools:            make(map[string]*Pool),
		globalCap:        globalCap,
		sampleInterval:   sampleInterval,
		PoolCreated:      signal.New[PoolLifecycleEvent](),
		PoolRemoved:      signal.New[PoolLifecycleEvent](),
		ResourcePressure: signal.New[ResourcePressureEvent](),
		EmergencyStopped: signal.New[struct{}](),
	}

	_ = m.CreatePool("default", DefaultPoolThreads(), PolicyWorkStealing)
	return m
}

// CreatePool registers and starts a new named pool. Fails if the name
// is taken, if the manager is emergency-latched, or if adding size
// threads would exceed the process-wide cap.
func (m *Manager) CreatePool(name string, size int, policy Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.emergencyLatched {
		return errs.ErrLatched
	}
	if _, exists := m.pools[name]; exists {
		return errs.ErrAlreadyRegistered
	}
	if size < 1 {
		size = 1
	}
	if m.totalSize+size > m.globalCap {
		return errs.ErrCapExceeded
	}

	p := NewPool(name, size, policy)
	p.Start()
	m.pools[name] = p
	m.totalSize += size

	m.PoolCreated.Emit(PoolLifecycleEvent{Name: name})
	return nil
}

// RemovePool stops and unregisters a named pool.
func (m *Manager) RemovePool(name string) error {
	m.mu.Lock()
	p, ok := m.pools[name]
	if !ok {
		m.mu.Unlock()
		return errs.ErrNotFound
	}
	delete(m.pools, name)
	m.totalSize -= p.Size()
	m.mu.Unlock()

	p.Stop()
	m.PoolRemoved.Emit(PoolLifecycleEvent{Name: name})
	return nil
}

// Pool returns the named pool for submitting work.
func (m *Manager) Pool(name string) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return p, nil
}

// StartSampling begins periodic CPU/memory sampling via gopsutil,
// emitting ResourcePressure when either exceeds 90%. Grounded on the
// teacher's SystemMetrics.updateCPUMetrics EMA smoothing
// (go-server/internal/metrics/system.go), generalized from a single
// smoothed gauge to a threshold-triggered signal.
func (m *Manager) StartSampling() {
	m.mu.Lock()
	if m.stopSampler != nil {
		m.mu.Unlock()
		return
	}
	m.stopSampler = make(chan struct{})
	stop := m.stopSampler
	m.mu.Unlock()

	m.samplerWg.Add(1)
	go func() {
		defer m.samplerWg.Done()
		ticker := time.NewTicker(m.sampleInterval)
		defer ticker.Stop()

		var smoothedCPU float64
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				cpuPercents, err := cpu.Percent(0, false)
				var current float64
				if err == nil && len(cpuPercents) > 0 {
					current = cpuPercents[0]
				}
				if smoothedCPU == 0 {
					smoothedCPU = current
				} else {
					const alpha = 0.3
					smoothedCPU = alpha*current + (1-alpha)*smoothedCPU
				}

				var memPercent float64
				if vm, err := mem.VirtualMemory(); err == nil {
					memPercent = vm.UsedPercent
				}

				if smoothedCPU > 90 || memPercent > 90 {
					m.ResourcePressure.Emit(ResourcePressureEvent{CPUPercent: smoothedCPU, MemPercent: memPercent})
				}
			}
		}
	}()
}

// StopSampling halts the resource sampler goroutine.
func (m *Manager) StopSampling() {
	m.mu.Lock()
	stop := m.stopSampler
	m.stopSampler = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		m.samplerWg.Wait()
	}
}

// EmergencyStop immediately shuts down every pool and latches the
// manager so future CreatePool calls fail until Reinitialize.
func (m *Manager) EmergencyStop() {
	m.mu.Lock()
	m.emergencyLatched = true
	pools := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.pools = make(map[string]*Pool)
	m.totalSize = 0
	m.mu.Unlock()

	for _, p := range pools {
		p.Stop()
	}
	m.EmergencyStopped.Emit(struct{}{})
}

// Reinitialize clears the emergency latch, permitting CreatePool again.
func (m *Manager) Reinitialize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencyLatched = false
}

// Latched reports whether the manager is currently emergency-latched.
func (m *Manager) Latched() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergencyLatched
}

// TotalThreads returns the sum of worker counts across all pools.
func (m *Manager) TotalThreads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalSize
}
