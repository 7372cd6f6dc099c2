package packet

import "odin-telemetry/internal/errs"

// Packet exclusively owns a pooled buffer of HeaderSize+PayloadSize
// bytes. Per §3, id and payload_size are fixed at construction;
// sequence, flags, and timestamp may be rewritten in place.
type Packet struct {
	buf    *ManagedBuffer
	header Header

	// structureName is a weak reference (name only, not ownership) to a
	// structure descriptor resolved at creation time via a
	// StructureProvider. Empty if none was associated.
	structureName string
}

// ID returns the packet's type identifier.
func (p *Packet) ID() uint32 { return p.header.ID }

// Sequence returns the packet's assigned sequence number.
func (p *Packet) Sequence() uint32 { return p.header.Sequence }

// TimestampNs returns the creation timestamp in nanoseconds.
func (p *Packet) TimestampNs() uint64 { return p.header.TimestampNs }

// Flags returns the current flag bitset.
func (p *Packet) Flags() Flag { return p.header.Flags }

// PayloadSize returns the payload byte count.
func (p *Packet) PayloadSize() uint32 { return p.header.PayloadSize }

// StructureName returns the associated structure descriptor name, or ""
// if none was resolved.
func (p *Packet) StructureName() string { return p.structureName }

// Header returns a copy of the decoded header.
func (p *Packet) Header() Header { return p.header }

// Payload returns the payload bytes, following the header in the
// packet's buffer.
func (p *Packet) Payload() []byte {
	b := p.buf.Bytes()
	if len(b) < HeaderSize {
		return nil
	}
	return b[HeaderSize:]
}

// Bytes returns the full wire representation: header followed by
// payload.
func (p *Packet) Bytes() []byte { return p.buf.Bytes() }

// TotalSize is HeaderSize + payload size.
func (p *Packet) TotalSize() int { return p.buf.Size() }

// SetSequence rewrites the sequence field in place, on both the cached
// header and the backing bytes.
func (p *Packet) SetSequence(seq uint32) {
	p.header.Sequence = seq
	p.syncHeader()
}

// SetFlags rewrites the flags field in place.
func (p *Packet) SetFlags(f Flag) {
	p.header.Flags = f
	p.syncHeader()
}

// AddFlags ORs additional bits into the flags field.
func (p *Packet) AddFlags(f Flag) {
	p.header.Flags |= f
	p.syncHeader()
}

// SetTimestampNs rewrites the creation timestamp in place.
func (p *Packet) SetTimestampNs(ns uint64) {
	p.header.TimestampNs = ns
	p.syncHeader()
}

func (p *Packet) syncHeader() {
	p.header.Encode(p.buf.Bytes()[:HeaderSize])
}

// Release returns the packet's buffer to its pool. A Packet must not be
// used after Release.
func (p *Packet) Release() error {
	if p.buf == nil {
		return errs.ErrDoubleRelease
	}
	err := p.buf.Release()
	p.buf = nil
	return err
}
