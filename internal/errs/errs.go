// Package errs collects the sentinel error values shared across the
// telemetry pipeline so callers can classify failures with errors.Is
// instead of parsing messages.
package errs

import "errors"

var (
	// Allocation failures (§7.1)
	ErrPoolExhausted    = errors.New("pool exhausted")
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum size")
	ErrNoPoolForSize    = errors.New("no pool size class fits requested size")
	ErrDoubleRelease    = errors.New("buffer released to pool more than once")

	// Validation failures (§7.2)
	ErrHeaderTooShort   = errors.New("raw bytes shorter than header size")
	ErrReservedBits     = errors.New("reserved header flag bits set")
	ErrSizeMismatch     = errors.New("declared payload size does not match buffer length")
	ErrInvalidHeader    = errors.New("invalid packet header")

	// Transport failures (§7.3)
	ErrConnectTimeout   = errors.New("connection attempt timed out")
	ErrStreamOverflow   = errors.New("stream reassembly buffer exceeded maximum size")
	ErrConnectionFailed = errors.New("connection permanently failed")
	ErrNotConnected     = errors.New("not connected")

	// Capacity failures (§7.5)
	ErrBackpressure     = errors.New("backpressure threshold exceeded")
	ErrQueueFull        = errors.New("queue full")

	// Structure lookups (out of scope collaborator, §1)
	ErrNoStructureProvider = errors.New("no structure provider configured")
	ErrUnknownStructure    = errors.New("unknown structure name")

	// Lifecycle / state machine
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrAlreadyRegistered = errors.New("name already registered")
	ErrNotFound          = errors.New("not found")
	ErrTooManySources    = errors.New("maximum source count exceeded")
	ErrCapExceeded       = errors.New("process-wide thread cap exceeded")
	ErrLatched           = errors.New("manager latched by emergency stop")
)
