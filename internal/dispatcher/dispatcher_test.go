package dispatcher

import (
	"testing"
	"time"

	"odin-telemetry/internal/packet"
	"odin-telemetry/internal/pool"
	"odin-telemetry/internal/subscription"
)

func newTestFactory(t *testing.T) *packet.Factory {
	t.Helper()
	m := pool.NewManager(0)
	if err := m.CreatePool("tiny", 64, 32); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	return packet.NewFactory(m, 0)
}

func TestRegisterSourceRejectsDuplicateName(t *testing.T) {
	d := New(DefaultConfig(), subscription.NewManager())
	if err := d.RegisterSource("a"); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}
	if err := d.RegisterSource("a"); err == nil {
		t.Fatal("expected duplicate name to be rejected")
	}
}

func TestRegisterSourceRejectsExceedingMaxSources(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSources = 1
	d := New(cfg, subscription.NewManager())
	d.RegisterSource("a")
	if err := d.RegisterSource("b"); err == nil {
		t.Fatal("expected max_sources to be enforced")
	}
}

func TestHandlePacketDroppedWhenNotRunning(t *testing.T) {
	f := newTestFactory(t)
	sub := subscription.NewManager()
	d := New(DefaultConfig(), sub)
	d.RegisterSource("s")

	p, _ := f.Create(1, nil, 4)
	d.HandlePacket("s", p)

	if d.Stats().Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", d.Stats().Dropped)
	}
}

func TestHandlePacketDroppedForDisabledSource(t *testing.T) {
	f := newTestFactory(t)
	sub := subscription.NewManager()
	d := New(DefaultConfig(), sub)
	d.RegisterSource("s")
	d.EnableSource("s", false)
	d.Start()
	defer d.Stop()

	p, _ := f.Create(1, nil, 4)
	d.HandlePacket("s", p)

	if d.Stats().Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", d.Stats().Dropped)
	}
}

func TestHandlePacketProcessesAndDistributes(t *testing.T) {
	f := newTestFactory(t)
	sub := subscription.NewManager()
	var delivered bool
	sub.Subscribe("watcher", 1, func(*packet.Packet) bool { delivered = true; return false }, 0)

	d := New(DefaultConfig(), sub)
	d.RegisterSource("s")
	d.Start()
	defer d.Stop()

	p, _ := f.Create(1, nil, 4)
	d.HandlePacket("s", p)

	if !delivered {
		t.Fatal("expected packet to reach subscriber")
	}
	stats := d.Stats()
	if stats.Processed != 1 || stats.Received != 1 {
		t.Fatalf("stats = %+v, want Received=1 Processed=1", stats)
	}
}

func TestHandlePacketBackpressureShedsAboveThreshold(t *testing.T) {
	f := newTestFactory(t)
	sub := subscription.NewManager()

	release := make(chan struct{})
	sub.Subscribe("blocker", 1, func(*packet.Packet) bool { <-release; return false }, 0)

	cfg := DefaultConfig()
	cfg.BackpressureThreshold = 1
	d := New(cfg, sub)
	d.RegisterSource("s")
	d.Start()
	defer d.Stop()

	var fired bool
	d.Backpressure.Subscribe(func(BackpressureEvent) { fired = true })

	p1, _ := f.Create(1, nil, 4)
	p1b, _ := f.Create(1, nil, 4)
	go d.HandlePacket("s", p1)
	go d.HandlePacket("s", p1b)
	time.Sleep(20 * time.Millisecond) // let both enter Distribute and hold in-flight depth at 2

	p2, _ := f.Create(1, nil, 4)
	d.HandlePacket("s", p2)
	close(release)

	if !fired {
		t.Fatal("expected back_pressure_detected to fire while a packet was in flight")
	}
	if d.Stats().Dropped == 0 {
		t.Fatal("expected the second packet to be dropped by backpressure")
	}
}

func TestUnregisterSourceThenRegisterSamNameSucceeds(t *testing.T) {
	d := New(DefaultConfig(), subscription.NewManager())
	d.RegisterSource("a")
	if err := d.UnregisterSource("a"); err != nil {
		t.Fatalf("UnregisterSource: %v", err)
	}
	if err := d.RegisterSource("a"); err != nil {
		t.Fatalf("re-RegisterSource: %v", err)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	d := New(DefaultConfig(), subscription.NewManager())
	d.Start()
	d.Start()
	d.Stop()
	d.Stop()
}

func TestProcessorRunsAfterSuccessfulDistribute(t *testing.T) {
	f := newTestFactory(t)
	sub := subscription.NewManager()
	d := New(DefaultConfig(), sub)
	d.RegisterSource("s")
	d.Start()
	defer d.Stop()

	var seen uint32
	d.AddProcessor(func(p *packet.Packet) { seen = p.ID() })

	p, _ := f.Create(77, nil, 4)
	d.HandlePacket("s", p)

	if seen != 77 {
		t.Fatalf("processor saw ID() = %d, want 77", seen)
	}
}

func TestStatisticsTimerEmitsPeriodically(t *testing.T) {
	f := newTestFactory(t)
	sub := subscription.NewManager()
	cfg := DefaultConfig()
	cfg.StatsInterval = 10 * time.Millisecond
	d := New(cfg, sub)
	d.RegisterSource("s")

	var updates int
	d.StatisticsUpdated.Subscribe(func(StatisticsEvent) { updates++ })

	d.Start()
	p, _ := f.Create(1, nil, 4)
	d.HandlePacket("s", p)
	time.Sleep(50 * time.Millisecond)
	d.Stop()

	if updates == 0 {
		t.Fatal("expected at least one statistics_updated emission")
	}
}
