// Package subscription implements the packet-id-indexed subscriber
// registry (§4.J): a priority-ordered fan-out of delivered packets to
// named callbacks, grounded on the teacher's hub subscriber map
// (adred-codev-ws_poc/src/hub.go) generalized from per-connection
// WebSocket registration to per-packet-id callback registration with
// explicit priority ordering and panic isolation.
package subscription

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"odin-telemetry/internal/errs"
	"odin-telemetry/internal/packet"
	"odin-telemetry/internal/signal"
)

// Callback observes one delivered packet. Returning true ("consume")
// stops further delivery of this packet to lower-priority subscribers.
type Callback func(p *packet.Packet) (consume bool)

// Subscription is a snapshot of one registered subscriber's state.
type Subscription struct {
	ID             uint64
	Name           string
	PacketID       uint32
	Priority       uint32
	Enabled        bool
	Received       uint64
	Dropped        uint64
	LastDeliveryNs uint64
}

// AddedEvent / RemovedEvent accompany subscription_added and
// subscription_removed.
type AddedEvent struct {
	ID       uint64
	Name     string
	PacketID uint32
}

type RemovedEvent struct {
	ID       uint64
	Name     string
	PacketID uint32
}

type entry struct {
	id       uint64
	name     string
	packetID uint32
	priority uint32
	callback Callback

	mu      sync.Mutex
	enabled bool

	received       uint64 // atomic
	dropped        uint64 // atomic
	lastDeliveryNs uint64 // atomic
}

// Manager is the subscriber registry of §4.J: a reader-writer-locked
// map of subscriptions, indexed by id and by packet_id (the latter
// kept sorted by descending priority for fan-out order).
type Manager struct {
	mu            sync.RWMutex
	byID          map[uint64]*entry
	byPacketID    map[uint32][]*entry
	nextID        uint64 // atomic
	deliveryFails uint64 // atomic

	Added            *signal.Bus[AddedEvent]
	Removed          *signal.Bus[RemovedEvent]
}

// NewManager creates an empty subscription registry.
func NewManager() *Manager {
	return &Manager{
		byID:       make(map[uint64]*entry),
		byPacketID: make(map[uint32][]*entry),
		Added:      signal.New[AddedEvent](),
		Removed:    signal.New[RemovedEvent](),
	}
}

// Subscribe registers callback for packetID at priority (higher runs
// first), returning a globally unique, never-reused id.
func (m *Manager) Subscribe(name string, packetID uint32, callback Callback, priority uint32) uint64 {
	id := atomic.AddUint64(&m.nextID, 1)
	e := &entry{
		id:       id,
		name:     name,
		packetID: packetID,
		priority: priority,
		callback: callback,
		enabled:  true,
	}

	m.mu.Lock()
	m.byID[id] = e
	list := append(m.byPacketID[packetID], e)
	sort.SliceStable(list, func(i, j int) bool { return list[i].priority > list[j].priority })
	m.byPacketID[packetID] = list
	m.mu.Unlock()

	m.Added.Emit(AddedEvent{ID: id, Name: name, PacketID: packetID})
	return id
}

// Unsubscribe removes a previously registered subscription. A no-op
// (returns errs.ErrNotFound) for an unknown id.
func (m *Manager) Unsubscribe(id uint64) error {
	m.mu.Lock()
	e, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return errs.ErrNotFound
	}
	delete(m.byID, id)

	list := m.byPacketID[e.packetID]
	for i, cand := range list {
		if cand.id == id {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.byPacketID, e.packetID)
	} else {
		m.byPacketID[e.packetID] = list
	}
	m.mu.Unlock()

	m.Removed.Emit(RemovedEvent{ID: id, Name: e.name, PacketID: e.packetID})
	return nil
}

// Enable toggles whether a subscription participates in distribution.
func (m *Manager) Enable(id uint64, enabled bool) error {
	m.mu.RLock()
	e, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return errs.ErrNotFound
	}
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
	return nil
}

// Distribute fans p out to every enabled subscriber registered for
// p.ID(), in descending priority order, stopping early if a callback
// consumes the packet. A panic inside a callback is recovered, counted
// against that subscription and the global delivery-failure count, and
// distribution continues to the remaining subscribers.
func (m *Manager) Distribute(p *packet.Packet) (delivered int) {
	if p == nil {
		atomic.AddUint64(&m.deliveryFails, 1)
		return 0
	}

	m.mu.RLock()
	snapshot := append([]*entry(nil), m.byPacketID[p.ID()]...)
	m.mu.RUnlock()

	for _, e := range snapshot {
		e.mu.Lock()
		enabled := e.enabled
		e.mu.Unlock()
		if !enabled {
			continue
		}

		consume, failed := invoke(e.callback, p)
		if failed {
			atomic.AddUint64(&e.dropped, 1)
			atomic.AddUint64(&m.deliveryFails, 1)
			continue
		}

		atomic.AddUint64(&e.received, 1)
		atomic.StoreUint64(&e.lastDeliveryNs, uint64(time.Now().UnixNano()))
		delivered++

		if consume {
			break
		}
	}
	return delivered
}

func invoke(cb Callback, p *packet.Packet) (consume, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			failed = true
		}
	}()
	return cb(p), false
}

// DeliveryFailures returns the global count of rejected/panicking
// distribution attempts.
func (m *Manager) DeliveryFailures() uint64 {
	return atomic.LoadUint64(&m.deliveryFails)
}

// ActiveCount returns the current number of registered subscriptions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Get returns a snapshot of one subscription's current state.
func (m *Manager) Get(id uint64) (Subscription, bool) {
	m.mu.RLock()
	e, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return Subscription{}, false
	}

	e.mu.Lock()
	enabled := e.enabled
	e.mu.Unlock()

	return Subscription{
		ID:             e.id,
		Name:           e.name,
		PacketID:       e.packetID,
		Priority:       e.priority,
		Enabled:        enabled,
		Received:       atomic.LoadUint64(&e.received),
		Dropped:        atomic.LoadUint64(&e.dropped),
		LastDeliveryNs: atomic.LoadUint64(&e.lastDeliveryNs),
	}, true
}

// All returns a snapshot of every registered subscription.
func (m *Manager) All() []Subscription {
	m.mu.RLock()
	ids := make([]uint64, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make([]Subscription, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.Get(id); ok {
			out = append(out, s)
		}
	}
	return out
}
