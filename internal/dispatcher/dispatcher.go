// Package dispatcher implements the Packet Dispatcher (§4.K): the hub
// binding registered sources to the subscription manager, enforcing
// backpressure and exposing start/stop lifecycle plus periodic
// statistics. Grounded on the teacher's hub (adred-codev-ws_poc/src/
// hub.go), whose single run loop multiplexes registration, broadcast,
// and shutdown channels — generalized here from WebSocket connections
// to named packet sources, with a drop-newest backpressure policy in
// place of the teacher's unbounded client broadcast channel.
package dispatcher

import (
	"sync"
	"sync/atomic"
	"time"

	"odin-telemetry/internal/errs"
	"odin-telemetry/internal/packet"
	"odin-telemetry/internal/signal"
	"odin-telemetry/internal/subscription"
)

// DefaultBackpressureThreshold is §4.K's default in-flight ceiling.
const DefaultBackpressureThreshold = 1000

// DefaultMaxSources is §4.K's default source registry ceiling.
const DefaultMaxSources = 10

// Config is the dispatcher's recognized configuration (§4.K).
type Config struct {
	EnableBackpressure    bool
	BackpressureThreshold uint32
	MaxSources            uint32
	EnableMetrics         bool
	StatsInterval         time.Duration
}

// DefaultConfig returns §4.K's documented defaults.
func DefaultConfig() Config {
	return Config{
		EnableBackpressure:    true,
		BackpressureThreshold: DefaultBackpressureThreshold,
		MaxSources:            DefaultMaxSources,
		EnableMetrics:         true,
		StatsInterval:         time.Second,
	}
}

// SourceRegisteredEvent / SourceUnregisteredEvent accompany source
// registry changes.
type SourceRegisteredEvent struct{ Name string }
type SourceUnregisteredEvent struct{ Name string }

// BackpressureEvent accompanies back_pressure_detected.
type BackpressureEvent struct {
	Source string
	Depth  uint32
}

// StatisticsEvent accompanies the periodic statistics_updated signal.
type StatisticsEvent struct {
	Received   uint64
	Processed  uint64
	Dropped    uint64
	InFlight   uint32
	PacketRate float64
}

type registeredSource struct {
	name    string
	enabled bool
}

// Dispatcher is the hub of §4.K.
type Dispatcher struct {
	cfg Config
	sub *subscription.Manager

	mu         sync.RWMutex
	sources    map[string]*registeredSource
	processors []func(*packet.Packet)

	running int32 // atomic bool

	received  uint64 // atomic
	processed uint64 // atomic
	dropped   uint64 // atomic
	inFlight  int32  // atomic

	statsStopCh chan struct{}
	statsWg     sync.WaitGroup

	SourceRegistered   *signal.Bus[SourceRegisteredEvent]
	SourceUnregistered *signal.Bus[SourceUnregisteredEvent]
	PacketProcessed    *signal.Bus[*packet.Packet]
	Backpressure       *signal.Bus[BackpressureEvent]
	StatisticsUpdated  *signal.Bus[StatisticsEvent]
}

// New creates a dispatcher fronting sub with cfg.
func New(cfg Config, sub *subscription.Manager) *Dispatcher {
	if cfg.BackpressureThreshold == 0 {
		cfg.BackpressureThreshold = DefaultBackpressureThreshold
	}
	if cfg.MaxSources == 0 {
		cfg.MaxSources = DefaultMaxSources
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = time.Second
	}
	return &Dispatcher{
		cfg:                cfg,
		sub:                sub,
		sources:            make(map[string]*registeredSource),
		SourceRegistered:   signal.New[SourceRegisteredEvent](),
		SourceUnregistered: signal.New[SourceUnregisteredEvent](),
		PacketProcessed:    signal.New[*packet.Packet](),
		Backpressure:       signal.New[BackpressureEvent](),
		StatisticsUpdated:  signal.New[StatisticsEvent](),
	}
}

// RegisterSource adds name to the source registry. Fails on a
// duplicate name or once max_sources is reached.
func (d *Dispatcher) RegisterSource(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.sources[name]; exists {
		return errs.ErrAlreadyRegistered
	}
	if uint32(len(d.sources)) >= d.cfg.MaxSources {
		return errs.ErrTooManySources
	}
	d.sources[name] = &registeredSource{name: name, enabled: true}
	d.SourceRegistered.Emit(SourceRegisteredEvent{Name: name})
	return nil
}

// UnregisterSource removes name from the registry.
func (d *Dispatcher) UnregisterSource(name string) error {
	d.mu.Lock()
	if _, exists := d.sources[name]; !exists {
		d.mu.Unlock()
		return errs.ErrNotFound
	}
	delete(d.sources, name)
	d.mu.Unlock()

	d.SourceUnregistered.Emit(SourceUnregisteredEvent{Name: name})
	return nil
}

// EnableSource toggles whether a registered source's packets are
// accepted on the hot path.
func (d *Dispatcher) EnableSource(name string, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sources[name]
	if !ok {
		return errs.ErrNotFound
	}
	s.enabled = enabled
	return nil
}

// AddProcessor registers a post-distribution hook invoked, in
// registration order, after every successful Distribute. Schema-aware
// processing belongs outside this package; this is a plain extension
// point for things like decimation sampling or latency recording.
func (d *Dispatcher) AddProcessor(p func(*packet.Packet)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processors = append(d.processors, p)
}

// Subscribe forwards to the subscription manager.
func (d *Dispatcher) Subscribe(name string, packetID uint32, cb subscription.Callback, priority uint32) uint64 {
	return d.sub.Subscribe(name, packetID, cb, priority)
}

// Unsubscribe forwards to the subscription manager.
func (d *Dispatcher) Unsubscribe(id uint64) error {
	return d.sub.Unsubscribe(id)
}

func (d *Dispatcher) sourceEnabled(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sources[name]
	return ok && s.enabled
}

// HandlePacket is the hot path: the callback a source's packet_ready
// signal invokes. Drops the packet (without panicking) if the
// dispatcher isn't running, the source is unknown/disabled, or
// backpressure sheds it.
func (d *Dispatcher) HandlePacket(sourceName string, p *packet.Packet) {
	atomic.AddUint64(&d.received, 1)

	if atomic.LoadInt32(&d.running) == 0 || !d.sourceEnabled(sourceName) {
		atomic.AddUint64(&d.dropped, 1)
		return
	}

	if d.cfg.EnableBackpressure {
		depth := atomic.LoadInt32(&d.inFlight)
		if uint32(depth) > d.cfg.BackpressureThreshold {
			d.Backpressure.Emit(BackpressureEvent{Source: sourceName, Depth: uint32(depth)})
			atomic.AddUint64(&d.dropped, 1)
			return
		}
	}

	atomic.AddInt32(&d.inFlight, 1)
	defer atomic.AddInt32(&d.inFlight, -1)

	d.sub.Distribute(p)
	atomic.AddUint64(&d.processed, 1)
	d.PacketProcessed.Emit(p)

	d.mu.RLock()
	processors := make([]func(*packet.Packet), len(d.processors))
	copy(processors, d.processors)
	d.mu.RUnlock()
	for _, proc := range processors {
		proc(p)
	}
}

// Start transitions the dispatcher online and arms the periodic
// statistics timer. Idempotent.
func (d *Dispatcher) Start() {
	if !atomic.CompareAndSwapInt32(&d.running, 0, 1) {
		return
	}
	d.statsStopCh = make(chan struct{})
	d.statsWg.Add(1)
	go d.runStatsTimer()
}

// Stop drains pending work and transitions back to Stopped. Idempotent.
func (d *Dispatcher) Stop() {
	if !atomic.CompareAndSwapInt32(&d.running, 1, 0) {
		return
	}
	if d.statsStopCh != nil {
		close(d.statsStopCh)
	}
	d.statsWg.Wait()
	for atomic.LoadInt32(&d.inFlight) > 0 {
		time.Sleep(time.Millisecond)
	}
}

func (d *Dispatcher) runStatsTimer() {
	defer d.statsWg.Done()

	ticker := time.NewTicker(d.cfg.StatsInterval)
	defer ticker.Stop()

	var lastProcessed uint64
	lastAt := time.Now()

	for {
		select {
		case <-d.statsStopCh:
			return
		case <-ticker.C:
			now := time.Now()
			processed := atomic.LoadUint64(&d.processed)
			elapsed := now.Sub(lastAt).Seconds()
			rate := 0.0
			if elapsed > 0 {
				rate = float64(processed-lastProcessed) / elapsed
			}
			lastProcessed = processed
			lastAt = now

			d.StatisticsUpdated.Emit(StatisticsEvent{
				Received:   atomic.LoadUint64(&d.received),
				Processed:  processed,
				Dropped:    atomic.LoadUint64(&d.dropped),
				InFlight:   uint32(atomic.LoadInt32(&d.inFlight)),
				PacketRate: rate,
			})
		}
	}
}

// Stats is a point-in-time snapshot of dispatcher-owned counters. The
// identity received == processed + dropped + in_flight holds at any
// instant with no packet mid-flight; in_flight accounts for packets
// currently inside Distribute.
type Stats struct {
	Received  uint64
	Processed uint64
	Dropped   uint64
	InFlight  uint32
}

// Stats returns a snapshot of the dispatcher's counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:  atomic.LoadUint64(&d.received),
		Processed: atomic.LoadUint64(&d.processed),
		Dropped:   atomic.LoadUint64(&d.dropped),
		InFlight:  uint32(atomic.LoadInt32(&d.inFlight)),
	}
}

// Running reports whether the dispatcher is currently started.
func (d *Dispatcher) Running() bool {
	return atomic.LoadInt32(&d.running) == 1
}
