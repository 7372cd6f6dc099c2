// Package packet defines the wire packet format, the pool-backed buffer
// that carries it, and the factory that constructs and validates
// packets. The binary layout is grounded on the original header struct
// (packet/core/packet_header.h equivalent described in the distilled
// spec); the pooled-buffer ownership idiom follows the teacher's
// MessageBuffer/MessagePool (pkg/websocket/message_pool.go), generalized
// from a size-class byte slice into a fixed 24-byte header plus payload.
package packet

import (
	"encoding/binary"
	"time"

	"odin-telemetry/internal/errs"
)

// HeaderSize is the fixed, wire-exact size of a packet header.
const HeaderSize = 24

// Flag bits recognized in the header's flags field. Bits outside this
// set are reserved and fail validation.
type Flag uint32

const (
	FlagPriority   Flag = 1 << 0
	FlagCompressed Flag = 1 << 1
	FlagEncrypted  Flag = 1 << 2
	FlagFragmented Flag = 1 << 3
	FlagTestData   Flag = 1 << 4
	FlagSimulation Flag = 1 << 5
	FlagNetwork    Flag = 1 << 6
	FlagOffline    Flag = 1 << 7

	knownFlagsMask = FlagPriority | FlagCompressed | FlagEncrypted | FlagFragmented |
		FlagTestData | FlagSimulation | FlagNetwork | FlagOffline
	reservedMask Flag = ^knownFlagsMask
)

// DefaultMaxPayloadSize is the §3 default for payload_size validation.
const DefaultMaxPayloadSize = 65512

// Header is the decoded form of the 24-byte on-wire packet header.
type Header struct {
	ID          uint32
	Sequence    uint32
	TimestampNs uint64
	PayloadSize uint32
	Flags       Flag
}

// Encode writes h to the first HeaderSize bytes of dst, little-endian.
// dst must be at least HeaderSize bytes.
func (h Header) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], h.ID)
	binary.LittleEndian.PutUint32(dst[4:8], h.Sequence)
	binary.LittleEndian.PutUint64(dst[8:16], h.TimestampNs)
	binary.LittleEndian.PutUint32(dst[16:20], h.PayloadSize)
	binary.LittleEndian.PutUint32(dst[20:24], uint32(h.Flags))
}

// DecodeHeader reads a Header from the first HeaderSize bytes of src.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, errs.ErrHeaderTooShort
	}
	return Header{
		ID:          binary.LittleEndian.Uint32(src[0:4]),
		Sequence:    binary.LittleEndian.Uint32(src[4:8]),
		TimestampNs: binary.LittleEndian.Uint64(src[8:16]),
		PayloadSize: binary.LittleEndian.Uint32(src[16:20]),
		Flags:       Flag(binary.LittleEndian.Uint32(src[20:24])),
	}, nil
}

// ValidationWarning reports a non-fatal anomaly found by Validate.
type ValidationWarning string

const (
	WarnTimestampFuture ValidationWarning = "timestamp is more than 1s in the future"
	WarnTimestampStale  ValidationWarning = "timestamp is more than 60s old"
)

// Validate checks h against §4.C's rules: reserved flag bits must be
// clear and payload_size must not exceed maxPayloadSize. A timestamp
// far in the future or far in the past is reported as a warning, not an
// error — the caller decides whether to log it.
func Validate(h Header, maxPayloadSize uint32, now time.Time) ([]ValidationWarning, error) {
	if h.Flags&reservedMask != 0 {
		return nil, errs.ErrReservedBits
	}
	if h.PayloadSize > maxPayloadSize {
		return nil, errs.ErrPayloadTooLarge
	}

	var warnings []ValidationWarning
	nowNs := uint64(now.UnixNano())
	const second = uint64(time.Second)
	const minute = uint64(time.Minute)

	if h.TimestampNs > nowNs && h.TimestampNs-nowNs > second {
		warnings = append(warnings, WarnTimestampFuture)
	} else if h.TimestampNs < nowNs && nowNs-h.TimestampNs > minute {
		warnings = append(warnings, WarnTimestampStale)
	}

	return warnings, nil
}
