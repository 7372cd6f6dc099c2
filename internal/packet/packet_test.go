package packet

import (
	"testing"

	"odin-telemetry/internal/pool"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	m := pool.NewManager(0)
	for _, pc := range []struct {
		name string
		size int
	}{
		{"tiny", 64}, {"small", 512}, {"medium", 1024},
		{"large", 2048}, {"xlarge", 4096}, {"xxlarge", 8192},
	} {
		if err := m.CreatePool(pc.name, pc.size, 16); err != nil {
			t.Fatalf("CreatePool(%s): %v", pc.name, err)
		}
	}
	return NewFactory(m, 0)
}

func TestCreateAssignsMonotonicSequence(t *testing.T) {
	f := newTestFactory(t)

	p1, err := f.Create(1, nil, 16)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	p2, err := f.Create(1, nil, 16)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p2.Sequence() <= p1.Sequence() {
		t.Fatalf("sequence not increasing: %d then %d", p1.Sequence(), p2.Sequence())
	}
}

func TestCreateRejectsOversizePayload(t *testing.T) {
	f := newTestFactory(t)
	if _, err := f.Create(1, nil, int(DefaultMaxPayloadSize)+1); err == nil {
		t.Fatal("expected oversize payload to be rejected")
	}
}

func TestCreateFromRawRoundTrip(t *testing.T) {
	f := newTestFactory(t)

	original, err := f.Create(42, []byte("hello"), 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	raw := make([]byte, len(original.Bytes()))
	copy(raw, original.Bytes())

	rebuilt, err := f.CreateFromRaw(raw)
	if err != nil {
		t.Fatalf("CreateFromRaw: %v", err)
	}
	if rebuilt.ID() != 42 {
		t.Fatalf("ID() = %d, want 42", rebuilt.ID())
	}
	if string(rebuilt.Payload()) != "hello" {
		t.Fatalf("Payload() = %q, want %q", rebuilt.Payload(), "hello")
	}
}

func TestCreateFromRawRejectsReservedBits(t *testing.T) {
	f := newTestFactory(t)

	h := Header{ID: 1, PayloadSize: 0, Flags: Flag(1 << 31)}
	raw := make([]byte, HeaderSize)
	h.Encode(raw)

	if _, err := f.CreateFromRaw(raw); err == nil {
		t.Fatal("expected reserved flag bits to be rejected")
	}
}

func TestCreateFromRawRejectsSizeMismatch(t *testing.T) {
	f := newTestFactory(t)

	h := Header{ID: 1, PayloadSize: 10}
	raw := make([]byte, HeaderSize+3) // declares 10 but only has 3
	h.Encode(raw)

	if _, err := f.CreateFromRaw(raw); err == nil {
		t.Fatal("expected size mismatch to be rejected")
	}
}

func TestCloneProducesIndependentCopy(t *testing.T) {
	f := newTestFactory(t)

	original, _ := f.Create(7, []byte("abc"), 3)
	clone, err := f.Clone(original)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if clone.ID() != original.ID() || string(clone.Payload()) != string(original.Payload()) {
		t.Fatal("clone does not match original contents")
	}

	clone.SetSequence(99)
	if original.Sequence() == 99 {
		t.Fatal("mutating clone affected original: buffers are not independent")
	}
}

func TestSetSequenceAndFlagsRewriteBackingBytes(t *testing.T) {
	f := newTestFactory(t)
	p, _ := f.Create(1, nil, 4)

	p.SetSequence(123)
	p.SetFlags(FlagSimulation | FlagTestData)

	reDecoded, err := DecodeHeader(p.Bytes())
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if reDecoded.Sequence != 123 {
		t.Fatalf("re-decoded Sequence = %d, want 123", reDecoded.Sequence)
	}
	if reDecoded.Flags != FlagSimulation|FlagTestData {
		t.Fatalf("re-decoded Flags = %v, want Simulation|TestData", reDecoded.Flags)
	}
}

type stubProvider struct {
	sizes map[string]int
}

func (s stubProvider) Resolve(name string) (int, bool) {
	size, ok := s.sizes[name]
	return size, ok
}

func TestCreateFromStructureAssociatesWeakReference(t *testing.T) {
	f := newTestFactory(t)
	f.SetStructureProvider(stubProvider{sizes: map[string]int{"imu_sample": 32}})

	p, err := f.CreateFromStructure(500, "imu_sample", nil, 0)
	if err != nil {
		t.Fatalf("CreateFromStructure: %v", err)
	}
	if p.StructureName() != "imu_sample" {
		t.Fatalf("StructureName() = %q, want imu_sample", p.StructureName())
	}
	if p.PayloadSize() != 32 {
		t.Fatalf("PayloadSize() = %d, want 32 (resolved from provider)", p.PayloadSize())
	}

	name, ok := f.CachedStructure(500)
	if !ok || name != "imu_sample" {
		t.Fatalf("CachedStructure(500) = %q, %v; want imu_sample, true", name, ok)
	}
}

func TestCreateFromStructureWithoutProviderFails(t *testing.T) {
	f := newTestFactory(t)
	if _, err := f.CreateFromStructure(1, "anything", nil, 0); err == nil {
		t.Fatal("expected missing provider to fail")
	}
}

func TestCreateFromStructureUnknownNameFails(t *testing.T) {
	f := newTestFactory(t)
	f.SetStructureProvider(stubProvider{sizes: map[string]int{}})
	if _, err := f.CreateFromStructure(1, "missing", nil, 0); err == nil {
		t.Fatal("expected unknown structure name to fail")
	}
}

func TestInvalidateStructureRemovesCacheEntry(t *testing.T) {
	f := newTestFactory(t)
	f.SetStructureProvider(stubProvider{sizes: map[string]int{"s": 8}})
	f.CreateFromStructure(9, "s", nil, 8)

	f.InvalidateStructure("s")

	if _, ok := f.CachedStructure(9); ok {
		t.Fatal("expected cache entry to be invalidated")
	}
}

func TestStatsTracksCreationAndErrors(t *testing.T) {
	f := newTestFactory(t)
	f.Create(1, nil, 8)
	f.Create(1, nil, int(DefaultMaxPayloadSize)+1) // fails

	stats := f.Stats()
	if stats.Created != 1 {
		t.Fatalf("Created = %d, want 1", stats.Created)
	}
	if stats.Errors != 1 {
		t.Fatalf("Errors = %d, want 1", stats.Errors)
	}
}

func TestDoubleReleaseOfManagedBufferRejected(t *testing.T) {
	f := newTestFactory(t)
	p, _ := f.Create(1, nil, 8)

	if err := p.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := p.Release(); err == nil {
		t.Fatal("expected second Release to report double-release")
	}
}
