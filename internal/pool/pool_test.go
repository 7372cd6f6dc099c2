package pool

import (
	"errors"
	"testing"

	"odin-telemetry/internal/errs"
)

func TestAllocateDeallocateRoundTrip(t *testing.T) {
	m := NewManager(0)
	if err := m.CreatePool("small", 64, 2); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}

	buf, err := m.Allocate("small")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(buf.Bytes()) != 64 {
		t.Fatalf("len(Bytes()) = %d, want 64", len(buf.Bytes()))
	}

	if err := buf.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestExhaustionReturnsErrPoolExhausted(t *testing.T) {
	m := NewManager(0)
	m.CreatePool("tiny", 64, 1)

	first, err := m.Allocate("tiny")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if _, err := m.Allocate("tiny"); !errors.Is(err, errs.ErrPoolExhausted) {
		t.Fatalf("second allocation from 1-block pool: err = %v, want ErrPoolExhausted", err)
	}

	first.Release()

	if _, err := m.Allocate("tiny"); err != nil {
		t.Fatalf("Allocate after release: %v", err)
	}
}

func TestDoubleReleaseRejected(t *testing.T) {
	m := NewManager(0)
	m.CreatePool("p", 64, 1)
	buf, _ := m.Allocate("p")

	if err := buf.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := buf.Release(); err == nil {
		t.Fatal("expected second Release to report double-release")
	}
}

func TestAllocateForSizePicksSmallestFittingClass(t *testing.T) {
	m := NewManager(0)
	m.CreatePool("tiny", 64, 4)
	m.CreatePool("small", 512, 4)
	m.CreatePool("medium", 1024, 4)

	buf, err := m.AllocateForSize(100)
	if err != nil {
		t.Fatalf("AllocateForSize: %v", err)
	}
	if len(buf.Bytes()) != 512 {
		t.Fatalf("len(Bytes()) = %d, want 512 (smallest class >= 100)", len(buf.Bytes()))
	}
}

func TestAllocateForSizeTooLargeFails(t *testing.T) {
	m := NewManager(0)
	m.CreatePool("tiny", 64, 4)

	if _, err := m.AllocateForSize(1000); err == nil {
		t.Fatal("expected oversize request to fail")
	}
}

func TestPressureSignalFiresAboveThreshold(t *testing.T) {
	m := NewManager(0.5)
	m.CreatePool("p", 64, 4)

	fired := false
	m.Pressure.Subscribe(func(PressureEvent) { fired = true })

	m.Allocate("p")
	m.Allocate("p")
	m.Allocate("p") // 3/4 = 0.75 > 0.5

	if !fired {
		t.Fatal("expected pressure signal to fire once utilization exceeded threshold")
	}
}

func TestUnknownPoolReturnsErrNotFound(t *testing.T) {
	m := NewManager(0)
	if _, err := m.Allocate("missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("Allocate on unregistered pool: err = %v, want ErrNotFound", err)
	}
}

func TestCreatePoolDuplicateNameRejected(t *testing.T) {
	m := NewManager(0)
	m.CreatePool("p", 64, 1)
	if err := m.CreatePool("p", 64, 1); err == nil {
		t.Fatal("expected duplicate pool name to be rejected")
	}
}
