package packet

import (
	"odin-telemetry/internal/errs"
	"odin-telemetry/internal/pool"
)

// ManagedBuffer is a move-only handle over a pooled block, holding the
// header+payload bytes that back one Packet. Move (Take) transfers
// ownership and leaves the source handle empty; Release returns the
// block to its pool. This mirrors the original's move-only buffer
// handle, adapted from Go's lack of move semantics via an explicit
// ownership-transfer method instead of a copy constructor.
type ManagedBuffer struct {
	block *pool.Buffer
	size  int // logical size in use; block.Bytes() may be larger (class size)
}

// newManagedBuffer wraps a freshly allocated pool block, truncated
// logically to size bytes.
func newManagedBuffer(block *pool.Buffer, size int) *ManagedBuffer {
	return &ManagedBuffer{block: block, size: size}
}

// Bytes returns the logical (not class-rounded) view of the buffer.
func (m *ManagedBuffer) Bytes() []byte {
	if m.block == nil {
		return nil
	}
	return m.block.Bytes()[:m.size]
}

// Size reports the logical byte length.
func (m *ManagedBuffer) Size() int { return m.size }

// Valid reports whether the handle still owns a block.
func (m *ManagedBuffer) Valid() bool { return m.block != nil }

// Take transfers ownership to a new handle, nulling this one out — the
// Go equivalent of a C++ move constructor.
func (m *ManagedBuffer) Take() *ManagedBuffer {
	moved := &ManagedBuffer{block: m.block, size: m.size}
	m.block = nil
	m.size = 0
	return moved
}

// Release returns the block to its owning pool. Safe to call at most
// once; a second call reports errs.ErrDoubleRelease.
func (m *ManagedBuffer) Release() error {
	if m.block == nil {
		return errs.ErrDoubleRelease
	}
	err := m.block.Release()
	m.block = nil
	m.size = 0
	return err
}
