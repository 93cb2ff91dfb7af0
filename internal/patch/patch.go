// Package patch deploys in-place code edits to the running controller
// firmware and confirms they stuck.
package patch

import (
	"encoding/binary"
	"fmt"
)

// SentinelValue marks, in device memory, that the atomic primitives are
// live for the current power cycle.
const SentinelValue uint16 = 0x55aa

// Descriptor is one firmware edit: the bytes to place at Address, usually
// one big-endian machine instruction.
type Descriptor struct {
	Name    string
	Address uint32
	Bytes   []byte
}

// Word returns the first instruction word of the edit, up to four bytes
// read big-endian, and its width.
func (d Descriptor) Word() (uint32, int) {
	n := min(len(d.Bytes), 4)
	var w uint32
	for _, b := range d.Bytes[:n] {
		w = w<<8 | uint32(b)
	}
	return w, n
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s@0x%08x[%d]", d.Name, d.Address, len(d.Bytes))
}

// Check names the 32-bit big-endian word whose value proves deployment.
type Check struct {
	Address  uint32
	Expected uint32
}

// Set is everything the engine applies for one firmware build.
type Set struct {
	// Sentinel is the address of the two-byte completion marker. It is only
	// meaningful when both atomic patches are present.
	Sentinel    uint32
	AtomicRead  *Descriptor
	AtomicWrite *Descriptor
	// Derived edits are applied on every run.
	Derived []Descriptor
	Verify  Check
}

// HasAtomic reports whether the set can install the atomic primitives.
func (s Set) HasAtomic() bool {
	return s.AtomicRead != nil && s.AtomicWrite != nil
}

// Image returns the final bytes every edit in the set leaves in memory,
// keyed by address. Later edits win where they overlap.
func (s Set) Image() map[uint32]byte {
	img := make(map[uint32]byte)
	put := func(d *Descriptor) {
		if d == nil {
			return
		}
		for i, b := range d.Bytes {
			img[d.Address+uint32(i)] = b
		}
	}
	put(s.AtomicRead)
	put(s.AtomicWrite)
	for i := range s.Derived {
		put(&s.Derived[i])
	}
	if s.HasAtomic() {
		var mark [2]byte
		binary.BigEndian.PutUint16(mark[:], SentinelValue)
		img[s.Sentinel] = mark[0]
		img[s.Sentinel+1] = mark[1]
	}
	return img
}

// VerificationError reports that the proof word never matched.
type VerificationError struct {
	Address  uint32
	Expected uint32
	Actual   uint32
	Attempts int
	Err      error
}

func (e *VerificationError) Error() string {
	msg := fmt.Sprintf("patch verification failed at 0x%08x after %d attempts: got 0x%08x, want 0x%08x",
		e.Address, e.Attempts, e.Actual, e.Expected)
	if e.Err != nil {
		msg += fmt.Sprintf(" (last error: %v)", e.Err)
	}
	return msg
}

func (e *VerificationError) Unwrap() error { return e.Err }
