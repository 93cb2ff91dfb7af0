package ddc

import (
	"errors"
	"fmt"
)

var (
	// ErrShortRead reports a chunk whose byte-count claim was zero or negative.
	ErrShortRead = errors.New("ddc: short read")
	// ErrClaim reports a byte-count claim larger than the report carrying it.
	ErrClaim = errors.New("ddc: byte count exceeds report")
	// ErrChecksum reports a reply window that does not XOR to zero.
	ErrChecksum = errors.New("ddc: checksum mismatch")
	// ErrEcho reports a well-formed reply for a different request.
	ErrEcho = errors.New("ddc: reply does not echo request")
	// ErrPayloadTooLong reports a payload that does not fit a single envelope.
	ErrPayloadTooLong = errors.New("ddc: payload too long")
	// ErrExhaustedRetries reports a command that never produced an acceptable
	// reply within its attempt ceiling.
	ErrExhaustedRetries = errors.New("ddc: retries exhausted")
)

// TransportError wraps a HID failure that survived one recovery cycle.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ddc: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func exhausted(what string, attempts int, last error) error {
	if last == nil {
		return fmt.Errorf("%s after %d attempts: %w", what, attempts, ErrExhaustedRetries)
	}
	return fmt.Errorf("%s after %d attempts: %w (last: %v)", what, attempts, ErrExhaustedRetries, last)
}
