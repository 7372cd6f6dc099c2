package manager

import (
	"testing"
	"time"

	"odin-telemetry/internal/config"
	"odin-telemetry/internal/logging"
	"odin-telemetry/internal/packet"
)

func testConfig() config.Config {
	cfg := config.Config{
		Pools:      config.DefaultPools(),
		ThreadPool: config.ThreadPoolConfig{GlobalCap: 32, SampleInterval: 50 * time.Millisecond},
		Dispatcher: config.DispatcherConfig{
			EnableBackpressure:    true,
			BackpressureThreshold: 1000,
			MaxSources:            10,
			EnableMetrics:         true,
			StatsInterval:         20 * time.Millisecond,
		},
		Simulation:     config.DefaultSimulationConfig(),
		MaxPayloadSize: 65512,
	}
	return cfg
}

func newTestManager() *Manager {
	return New(logging.New(logging.Config{Service: "test"}))
}

func TestInitializeWiresAllComponentsAndReachesReady(t *testing.T) {
	m := newTestManager()
	if err := m.Initialize(testConfig()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if m.State() != StateReady {
		t.Fatalf("State() = %v, want Ready", m.State())
	}
	if m.Pools == nil || m.Threads == nil || m.EventLoop == nil || m.Factory == nil || m.Subs == nil || m.Dispatcher == nil {
		t.Fatal("Initialize left a core component nil")
	}
}

func TestStartRequiresReadyState(t *testing.T) {
	m := newTestManager()
	if err := m.Start(); err == nil {
		t.Fatal("expected Start before Initialize to fail")
	}
}

func TestStartThenStopRoundTrip(t *testing.T) {
	m := newTestManager()
	if err := m.Initialize(testConfig()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.State() != StateRunning {
		t.Fatalf("State() = %v, want Running", m.State())
	}

	time.Sleep(30 * time.Millisecond)

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.State() != StateReady {
		t.Fatalf("State() after Stop = %v, want Ready", m.State())
	}
}

func TestDefaultSourceDeliversThroughDispatcher(t *testing.T) {
	m := newTestManager()
	if err := m.Initialize(testConfig()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	m.Subs.Subscribe("watcher", 1001, func(p *packet.Packet) bool { return false }, 0)

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(250 * time.Millisecond)
	m.Stop()

	if m.Dispatcher.Stats().Received == 0 {
		t.Fatal("expected the default source to have delivered at least one packet")
	}
}

func TestRegisteringDefaultSourceNameTwiceFails(t *testing.T) {
	m := newTestManager()
	cfg := testConfig()
	cfg.Pools = nil
	m.Initialize(cfg)

	// Force a duplicate-source registration error by registering the
	// same name the default source already holds.
	if err := m.Dispatcher.RegisterSource(m.defaultSource.Name); err == nil {
		t.Fatal("expected duplicate source registration to fail")
	}
}
