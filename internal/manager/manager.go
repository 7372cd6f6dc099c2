// Package manager implements the Packet Manager (§4.L): the top-level
// composition root wiring the memory pools, thread pool, event loop,
// packet factory, subscription manager, dispatcher, and a default
// simulation source into one lifecycle-managed unit. Grounded on the
// teacher's top-level Server (go-server/internal/server/server.go),
// whose New/Start/Stop sequence this mirrors, generalized from an
// HTTP+WebSocket server to the packet pipeline's own composition
// order and explicit state machine.
package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"odin-telemetry/internal/config"
	"odin-telemetry/internal/dispatcher"
	"odin-telemetry/internal/errs"
	"odin-telemetry/internal/eventloop"
	"odin-telemetry/internal/metrics"
	"odin-telemetry/internal/packet"
	"odin-telemetry/internal/pool"
	"odin-telemetry/internal/signal"
	"odin-telemetry/internal/source"
	"odin-telemetry/internal/subscription"
	"odin-telemetry/internal/threadpool"
)

// State is one node of the manager's lifecycle state machine.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateStarting
	StateRunning
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// maxErrorLogSize bounds the retained error ring (§4.L: "last 100
// messages").
const maxErrorLogSize = 100

// ErrorEvent accompanies error_occurred.
type ErrorEvent struct {
	Message string
	At      time.Time
}

// Manager is the Packet Manager of §4.L.
type Manager struct {
	log zerolog.Logger

	mu    sync.RWMutex
	state State

	Pools      *pool.Manager
	Threads    *threadpool.Manager
	EventLoop  *eventloop.Loop
	Factory    *packet.Factory
	Subs       *subscription.Manager
	Dispatcher *dispatcher.Dispatcher
	Metrics    *metrics.Metrics

	defaultSource *source.SimulationSource

	errLog []string

	ErrorOccurred *signal.Bus[ErrorEvent]
}

// New creates a Packet Manager in the Uninitialized state. Call
// Initialize before Start.
func New(log zerolog.Logger) *Manager {
	return &Manager{
		log:           log,
		state:         StateUninitialized,
		ErrorOccurred: signal.New[ErrorEvent](),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) recordError(err error) {
	m.mu.Lock()
	m.errLog = append(m.errLog, err.Error())
	if len(m.errLog) > maxErrorLogSize {
		m.errLog = m.errLog[len(m.errLog)-maxErrorLogSize:]
	}
	m.mu.Unlock()

	m.ErrorOccurred.Emit(ErrorEvent{Message: err.Error(), At: time.Now()})
	m.setState(StateError)
}

// Errors returns a snapshot of the bounded error ring, oldest first.
func (m *Manager) Errors() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.errLog))
	copy(out, m.errLog)
	return out
}

// Initialize wires memory pools, the thread pool, the event loop, and
// the packet factory, then the subscription manager and dispatcher,
// and finally creates (but does not start) a default simulation
// source — in that order, per §4.L.
func (m *Manager) Initialize(cfg config.Config) error {
	m.setState(StateInitializing)

	m.Metrics = metrics.New()

	m.Pools = pool.NewManager(0)
	for _, pc := range cfg.Pools {
		if err := m.Pools.CreatePool(pc.Name, pc.BlockSize, pc.BlockCount); err != nil {
			m.recordError(err)
			return err
		}
	}
	m.Pools.Pressure.Subscribe(func(ev pool.PressureEvent) {
		m.Metrics.PoolUtilization.WithLabelValues(ev.Pool).Set(ev.Utilization * 100)
	})

	m.Threads = threadpool.NewManager(cfg.ThreadPool.GlobalCap, cfg.ThreadPool.SampleInterval)
	m.Threads.ResourcePressure.Subscribe(func(ev threadpool.ResourcePressureEvent) {
		m.Metrics.ResourcePressureCPU.Set(ev.CPUPercent)
		m.Metrics.ResourcePressureMem.Set(ev.MemPercent)
	})

	m.EventLoop = eventloop.New(0, 0)

	m.Factory = packet.NewFactory(m.Pools, cfg.MaxPayloadSize)
	m.Factory.SetCreationHook(m.Metrics.RecordPacketCreation)

	m.Subs = subscription.NewManager()
	m.Subs.Added.Subscribe(func(subscription.AddedEvent) {
		m.Metrics.SubscriptionsActive.Set(float64(m.Subs.ActiveCount()))
	})
	m.Subs.Removed.Subscribe(func(subscription.RemovedEvent) {
		m.Metrics.SubscriptionsActive.Set(float64(m.Subs.ActiveCount()))
	})

	m.Dispatcher = dispatcher.New(dispatcher.Config{
		EnableBackpressure:    cfg.Dispatcher.EnableBackpressure,
		BackpressureThreshold: cfg.Dispatcher.BackpressureThreshold,
		MaxSources:            cfg.Dispatcher.MaxSources,
		EnableMetrics:         cfg.Dispatcher.EnableMetrics,
		StatsInterval:         cfg.Dispatcher.StatsInterval,
	}, m.Subs)
	m.Dispatcher.Backpressure.Subscribe(func(dispatcher.BackpressureEvent) {
		m.Metrics.DispatcherBackpressure.Inc()
	})
	var lastDispatch dispatcher.StatisticsEvent
	m.Dispatcher.StatisticsUpdated.Subscribe(func(ev dispatcher.StatisticsEvent) {
		if d := ev.Received - lastDispatch.Received; d > 0 {
			m.Metrics.DispatcherReceived.Add(float64(d))
		}
		if d := ev.Processed - lastDispatch.Processed; d > 0 {
			m.Metrics.DispatcherProcessed.Add(float64(d))
		}
		if d := ev.Dropped - lastDispatch.Dropped; d > 0 {
			m.Metrics.DispatcherDropped.Add(float64(d))
		}
		m.Metrics.DispatcherInFlight.Set(float64(ev.InFlight))
		m.Metrics.DispatcherPacketRate.Set(ev.PacketRate)
		lastDispatch = ev
	})

	simCfg := cfg.Simulation
	if simCfg.Name == "" {
		simCfg = config.DefaultSimulationConfig()
	}
	m.defaultSource = source.NewSimulationSource(simCfg, m.Factory)
	if err := m.Dispatcher.RegisterSource(m.defaultSource.Name); err != nil {
		m.recordError(err)
		return err
	}
	m.defaultSource.PacketReady.Subscribe(func(p *packet.Packet) {
		m.Dispatcher.HandlePacket(m.defaultSource.Name, p)
	})
	m.defaultSource.PacketReady.Subscribe(func(p *packet.Packet) {
		m.Metrics.SourcePacketsGenerated.WithLabelValues(m.defaultSource.Name).Inc()
	})
	m.defaultSource.StateChanged.Subscribe(func(ev source.StateChangeEvent) {
		m.Metrics.SourceState.WithLabelValues(m.defaultSource.Name).Set(float64(ev.To))
	})
	var lastSourceStats source.Stats
	var lastDeliveryFailures uint64
	m.Dispatcher.StatisticsUpdated.Subscribe(func(dispatcher.StatisticsEvent) {
		st := m.defaultSource.Stats()
		if d := st.Dropped - lastSourceStats.Dropped; d > 0 {
			m.Metrics.SourcePacketsDropped.WithLabelValues(m.defaultSource.Name).Add(float64(d))
		}
		if d := st.Errors - lastSourceStats.Errors; d > 0 {
			m.Metrics.SourceErrors.WithLabelValues(m.defaultSource.Name).Add(float64(d))
		}
		lastSourceStats = st

		if failures := m.Subs.DeliveryFailures(); failures > lastDeliveryFailures {
			m.Metrics.DeliveryFailures.Add(float64(failures - lastDeliveryFailures))
			lastDeliveryFailures = failures
		}
	})

	m.setState(StateReady)
	return nil
}

// Start brings the dispatcher online, starts the event loop and
// resource sampler, and starts the default source.
func (m *Manager) Start() error {
	if m.State() != StateReady {
		return errs.ErrInvalidTransition
	}
	m.setState(StateStarting)

	m.EventLoop.Start()
	m.Threads.StartSampling()
	m.Dispatcher.Start()

	if err := m.defaultSource.Start(); err != nil {
		m.recordError(err)
		return err
	}

	m.setState(StateRunning)
	return nil
}

// Stop reverses Start: stops the default source, dispatcher, sampler,
// and event loop, then returns to Ready.
func (m *Manager) Stop() error {
	if m.State() != StateRunning {
		return errs.ErrInvalidTransition
	}
	m.setState(StateStopping)

	m.defaultSource.Stop()
	m.Dispatcher.Stop()
	m.Threads.StopSampling()
	m.EventLoop.Stop()

	m.setState(StateReady)
	return nil
}
