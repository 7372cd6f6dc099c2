package subscription

import (
	"sync"
	"testing"

	"odin-telemetry/internal/packet"
	"odin-telemetry/internal/pool"
)

func newTestFactory(t *testing.T) *packet.Factory {
	t.Helper()
	m := pool.NewManager(0)
	if err := m.CreatePool("tiny", 64, 32); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	return packet.NewFactory(m, 0)
}

func TestSubscribeAssignsMonotonicNeverReusedIDs(t *testing.T) {
	m := NewManager()
	id1 := m.Subscribe("a", 1, func(*packet.Packet) bool { return false }, 0)
	id2 := m.Subscribe("b", 1, func(*packet.Packet) bool { return false }, 0)
	if id2 <= id1 {
		t.Fatalf("ids not increasing: %d then %d", id1, id2)
	}
	m.Unsubscribe(id1)
	id3 := m.Subscribe("c", 1, func(*packet.Packet) bool { return false }, 0)
	if id3 == id1 {
		t.Fatal("id reused after unsubscribe")
	}
}

func TestDistributeInvokesHighestPriorityFirst(t *testing.T) {
	f := newTestFactory(t)
	m := NewManager()

	var order []string
	m.Subscribe("low", 1, func(*packet.Packet) bool { order = append(order, "low"); return false }, 1)
	m.Subscribe("high", 1, func(*packet.Packet) bool { order = append(order, "high"); return false }, 10)
	m.Subscribe("mid", 1, func(*packet.Packet) bool { order = append(order, "mid"); return false }, 5)

	p, _ := f.Create(1, nil, 4)
	delivered := m.Distribute(p)

	if delivered != 3 {
		t.Fatalf("delivered = %d, want 3", delivered)
	}
	if len(order) != 3 || order[0] != "high" || order[1] != "mid" || order[2] != "low" {
		t.Fatalf("order = %v, want [high mid low]", order)
	}
}

func TestDistributeConsumeStopsLowerPriority(t *testing.T) {
	f := newTestFactory(t)
	m := NewManager()

	var calledLow bool
	m.Subscribe("high", 1, func(*packet.Packet) bool { return true }, 10)
	m.Subscribe("low", 1, func(*packet.Packet) bool { calledLow = true; return false }, 1)

	p, _ := f.Create(1, nil, 4)
	m.Distribute(p)

	if calledLow {
		t.Fatal("lower-priority subscriber was invoked after consume")
	}
}

func TestDistributeSkipsDisabledSubscriptions(t *testing.T) {
	f := newTestFactory(t)
	m := NewManager()

	var called bool
	id := m.Subscribe("s", 1, func(*packet.Packet) bool { called = true; return false }, 0)
	m.Enable(id, false)

	p, _ := f.Create(1, nil, 4)
	delivered := m.Distribute(p)

	if called || delivered != 0 {
		t.Fatal("disabled subscription was invoked")
	}
}

func TestDistributeRejectsNilPacket(t *testing.T) {
	m := NewManager()
	if d := m.Distribute(nil); d != 0 {
		t.Fatalf("Distribute(nil) = %d, want 0", d)
	}
	if m.DeliveryFailures() != 1 {
		t.Fatalf("DeliveryFailures() = %d, want 1", m.DeliveryFailures())
	}
}

func TestDistributeIsolatesPanickingCallback(t *testing.T) {
	f := newTestFactory(t)
	m := NewManager()

	var otherCalled bool
	m.Subscribe("panics", 1, func(*packet.Packet) bool { panic("boom") }, 10)
	m.Subscribe("ok", 1, func(*packet.Packet) bool { otherCalled = true; return false }, 1)

	p, _ := f.Create(1, nil, 4)
	delivered := m.Distribute(p)

	if !otherCalled {
		t.Fatal("expected surviving subscriber to still be invoked")
	}
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
	if m.DeliveryFailures() != 1 {
		t.Fatalf("DeliveryFailures() = %d, want 1", m.DeliveryFailures())
	}
}

func TestUnsubscribeUnknownIDReturnsNotFound(t *testing.T) {
	m := NewManager()
	if err := m.Unsubscribe(99999); err == nil {
		t.Fatal("expected unsubscribe of unknown id to fail")
	}
}

func TestActiveCountTracksSubscribeUnsubscribe(t *testing.T) {
	m := NewManager()
	id := m.Subscribe("a", 1, func(*packet.Packet) bool { return false }, 0)
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}
	m.Unsubscribe(id)
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestConcurrentSubscribeUnsubscribeDuringDistributeDoesNotDeadlock(t *testing.T) {
	f := newTestFactory(t)
	m := NewManager()
	p, _ := f.Create(1, nil, 4)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := m.Subscribe("churn", 1, func(*packet.Packet) bool { return false }, 0)
			m.Distribute(p)
			m.Unsubscribe(id)
		}()
	}
	wg.Wait()
}
