package packet

import (
	"sync"
	"sync/atomic"
	"time"

	"odin-telemetry/internal/errs"
	"odin-telemetry/internal/pool"
)

// StructureProvider resolves a named structure descriptor, the sole
// external collaborator create_from_structure depends on. The parser
// that implements this lives outside this module's scope.
type StructureProvider interface {
	// Resolve reports whether name is a known structure, and if so its
	// expected payload size (0 if the structure doesn't fix one).
	Resolve(name string) (payloadSize int, ok bool)
}

// Stats is a snapshot of factory-wide creation counters.
type Stats struct {
	Created           uint64
	FromRaw           uint64
	FromStructure     uint64
	Errors            uint64
	BytesAllocated    uint64
	AvgCreationTimeNs float64
}

// Factory constructs and validates packets, assigning monotonic
// sequence numbers from a single atomic counter.
type Factory struct {
	pools          *pool.Manager
	maxPayloadSize uint32
	now            func() time.Time

	sequence uint32 // atomic

	mu                sync.Mutex
	created           uint64
	fromRaw           uint64
	fromStructure     uint64
	errors            uint64
	bytesAllocated    uint64
	avgCreationTimeNs float64 // EMA, alpha ~= 0.5

	structureMu    sync.RWMutex
	structureCache map[uint32]string // packet id -> structure name

	provider StructureProvider
	onCreate func(d time.Duration, kind string, err error)
}

// NewFactory creates a packet factory backed by pools for allocation.
// maxPayloadSize of 0 selects DefaultMaxPayloadSize.
func NewFactory(pools *pool.Manager, maxPayloadSize uint32) *Factory {
	if maxPayloadSize == 0 {
		maxPayloadSize = DefaultMaxPayloadSize
	}
	return &Factory{
		pools:          pools,
		maxPayloadSize: maxPayloadSize,
		now:            time.Now,
		structureCache: make(map[uint32]string),
	}
}

// SetStructureProvider wires the optional structure resolver used by
// CreateFromStructure.
func (f *Factory) SetStructureProvider(p StructureProvider) {
	f.provider = p
}

// SetCreationHook wires an observer invoked after every creation
// attempt (Create, CreateFromRaw, CreateFromStructure) with its
// elapsed time, kind ("", "create", "raw", or "structure"), and
// outcome. Used to drive Prometheus instrumentation without this
// package importing the metrics package.
func (f *Factory) SetCreationHook(fn func(d time.Duration, kind string, err error)) {
	f.onCreate = fn
}

// nextSequence returns the next monotonically increasing sequence
// number, wrapping naturally at 2^32.
func (f *Factory) nextSequence() uint32 {
	return atomic.AddUint32(&f.sequence, 1) - 1
}

func (f *Factory) recordCreation(start time.Time, bytes int, kind string, err error) {
	elapsed := f.now().Sub(start)

	f.mu.Lock()
	if err != nil {
		f.errors++
	} else {
		f.created++
		switch kind {
		case "raw":
			f.fromRaw++
		case "structure":
			f.fromStructure++
		}
		f.bytesAllocated += uint64(bytes)

		elapsedNs := float64(elapsed.Nanoseconds())
		if f.avgCreationTimeNs == 0 {
			f.avgCreationTimeNs = elapsedNs
		} else {
			const alpha = 0.5
			f.avgCreationTimeNs = alpha*elapsedNs + (1-alpha)*f.avgCreationTimeNs
		}
	}
	f.mu.Unlock()

	if f.onCreate != nil {
		f.onCreate(elapsed, kind, err)
	}
}

// Stats returns a snapshot of current factory counters.
func (f *Factory) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Created:           f.created,
		FromRaw:           f.fromRaw,
		FromStructure:     f.fromStructure,
		Errors:            f.errors,
		BytesAllocated:    f.bytesAllocated,
		AvgCreationTimeNs: f.avgCreationTimeNs,
	}
}

// Create allocates a new packet of the given id carrying payload (may
// be nil for a zero-filled payload of payloadSize bytes). Fails if
// payloadSize exceeds the factory's maximum or no pool class fits.
func (f *Factory) Create(id uint32, payload []byte, payloadSize int) (*Packet, error) {
	return f.create(id, payload, payloadSize, "create")
}

// create is Create with the creation kind reported to recordCreation.
func (f *Factory) create(id uint32, payload []byte, payloadSize int, kind string) (*Packet, error) {
	start := f.now()

	if uint32(payloadSize) > f.maxPayloadSize {
		f.recordCreation(start, 0, "", errs.ErrPayloadTooLarge)
		return nil, errs.ErrPayloadTooLarge
	}

	total := HeaderSize + payloadSize
	block, err := f.pools.AllocateForSize(total)
	if err != nil {
		f.recordCreation(start, 0, "", err)
		return nil, err
	}

	buf := newManagedBuffer(block, total)
	h := Header{
		ID:          id,
		Sequence:    f.nextSequence(),
		TimestampNs: uint64(start.UnixNano()),
		PayloadSize: uint32(payloadSize),
		Flags:       0,
	}
	h.Encode(buf.Bytes()[:HeaderSize])
	if payload != nil {
		copy(buf.Bytes()[HeaderSize:], payload)
	}

	f.recordCreation(start, total, kind, nil)
	return &Packet{buf: buf, header: h}, nil
}

// CreateFromRaw builds a packet from a verbatim wire image. raw must be
// at least HeaderSize bytes; the declared payload_size must match the
// remaining length exactly.
func (f *Factory) CreateFromRaw(raw []byte) (*Packet, error) {
	start := f.now()

	h, err := DecodeHeader(raw)
	if err != nil {
		f.recordCreation(start, 0, "raw", err)
		return nil, err
	}
	if _, err := Validate(h, f.maxPayloadSize, start); err != nil {
		f.recordCreation(start, 0, "raw", err)
		return nil, err
	}
	if len(raw) != HeaderSize+int(h.PayloadSize) {
		f.recordCreation(start, 0, "raw", errs.ErrSizeMismatch)
		return nil, errs.ErrSizeMismatch
	}

	block, err := f.pools.AllocateForSize(len(raw))
	if err != nil {
		f.recordCreation(start, 0, "raw", err)
		return nil, err
	}
	buf := newManagedBuffer(block, len(raw))
	copy(buf.Bytes(), raw)

	f.recordCreation(start, len(raw), "raw", nil)
	return &Packet{buf: buf, header: h}, nil
}

// Clone duplicates src into a freshly allocated packet with identical
// header and payload bytes (equivalent to CreateFromRaw(src.Bytes())).
func (f *Factory) Clone(src *Packet) (*Packet, error) {
	return f.CreateFromRaw(src.Bytes())
}

// CreateFromStructure resolves structureName via the injected
// StructureProvider and, on success, associates it as a weak reference
// on the resulting packet. Fails with errs.ErrNoStructureProvider or
// errs.ErrUnknownStructure if resolution cannot proceed.
func (f *Factory) CreateFromStructure(id uint32, structureName string, payload []byte, size int) (*Packet, error) {
	if f.provider == nil {
		return nil, errs.ErrNoStructureProvider
	}
	expected, ok := f.provider.Resolve(structureName)
	if !ok {
		return nil, errs.ErrUnknownStructure
	}
	if size == 0 && expected > 0 {
		size = expected
	}

	p, err := f.create(id, payload, size, "structure")
	if err != nil {
		return nil, err
	}
	p.structureName = structureName

	f.structureMu.Lock()
	f.structureCache[id] = structureName
	f.structureMu.Unlock()

	return p, nil
}

// InvalidateStructure drops a cached packet-id -> structure-name
// association, in response to an external structure_removed
// notification.
func (f *Factory) InvalidateStructure(name string) {
	f.structureMu.Lock()
	defer f.structureMu.Unlock()
	for id, n := range f.structureCache {
		if n == name {
			delete(f.structureCache, id)
		}
	}
}

// CachedStructure returns the structure name associated with a packet
// id, if any.
func (f *Factory) CachedStructure(id uint32) (string, bool) {
	f.structureMu.RLock()
	defer f.structureMu.RUnlock()
	name, ok := f.structureCache[id]
	return name, ok
}
