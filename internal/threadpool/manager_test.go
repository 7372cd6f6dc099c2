package threadpool

import "testing"

func TestNewManagerAutoCreatesDefaultPool(t *testing.T) {
	m := NewManager(0, 0)
	defer m.RemovePool("default")

	p, err := m.Pool("default")
	if err != nil {
		t.Fatalf("Pool(default): %v", err)
	}
	if p.Size() < 2 || p.Size() > 16 {
		t.Fatalf("default pool size = %d, want in [2,16]", p.Size())
	}
}

func TestCreatePoolRejectsDuplicateName(t *testing.T) {
	m := NewManager(0, 0)
	defer m.RemovePool("default")

	if err := m.CreatePool("default", 2, PolicyRoundRobin); err == nil {
		t.Fatal("expected duplicate pool name to be rejected")
	}
}

func TestCreatePoolRejectsExceedingGlobalCap(t *testing.T) {
	m := NewManager(10, 0)
	defer m.RemovePool("default")

	if err := m.CreatePool("huge", 1000, PolicyRoundRobin); err == nil {
		t.Fatal("expected pool exceeding global cap to be rejected")
	}
}

func TestEmergencyStopLatchesAndBlocksCreatePool(t *testing.T) {
	m := NewManager(0, 0)

	m.EmergencyStop()

	if !m.Latched() {
		t.Fatal("expected manager to be latched after EmergencyStop")
	}
	if err := m.CreatePool("new", 2, PolicyRoundRobin); err == nil {
		t.Fatal("expected CreatePool to fail while latched")
	}

	m.Reinitialize()
	if m.Latched() {
		t.Fatal("expected Reinitialize to clear the latch")
	}
	if err := m.CreatePool("new", 2, PolicyRoundRobin); err != nil {
		t.Fatalf("CreatePool after Reinitialize: %v", err)
	}
	m.RemovePool("new")
}

func TestRemovePoolUnknownNameFails(t *testing.T) {
	m := NewManager(0, 0)
	defer m.RemovePool("default")

	if err := m.RemovePool("missing"); err == nil {
		t.Fatal("expected removing an unknown pool to fail")
	}
}

func TestDefaultPoolThreadsWithinBounds(t *testing.T) {
	n := DefaultPoolThreads()
	if n < 2 || n > 16 {
		t.Fatalf("DefaultPoolThreads() = %d, want in [2,16]", n)
	}
}
