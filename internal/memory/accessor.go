// Package memory reads and writes the display controller's address space
// through vendor command side effects.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mzyy94/monpatch/internal/ddc"
)

// Feature 0x52 returns the byte at the vendor pointer once the getter has
// been patched.
const FeaturePointerRead byte = 0x52

// ErrPointerValue reports a feature 0x52 value that does not fit the
// configured completion rule.
var ErrPointerValue = errors.New("pointer read value out of range")

// Completion selects how a legacy read recognises its result.
type Completion int

const (
	// CompletionNone takes the first feature 0x52 value. Its high byte
	// must be zero.
	CompletionNone Completion = iota
	// CompletionTag polls until the high byte is ddc.CompletionTag.
	CompletionTag
)

// ParseCompletion maps "none" (or empty) and "tag" to a Completion.
func ParseCompletion(s string) (Completion, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompletionNone, nil
	case "tag":
		return CompletionTag, nil
	}
	return 0, fmt.Errorf("unknown legacy read completion %q", s)
}

func (c Completion) String() string {
	if c == CompletionTag {
		return "tag"
	}
	return "none"
}

// DefaultPollLimit bounds the "arm, then poll" loops of both strategies.
const DefaultPollLimit = 1000

// Accessor touches one byte-granular address at a time.
type Accessor interface {
	Peek(addr uint32) (byte, error)
	Poke(addr uint32, v byte) error
	PokeBytes(addr uint32, data []byte) error
}

// Legacy is the two-phase pointer primitive every firmware ships with.
// Writes are unacknowledged and reads can return stale data if the
// controller resets between arming and polling.
type Legacy struct {
	vcp        *ddc.VCP
	PollLimit  int
	Completion Completion
}

// NewLegacy returns a Legacy accessor speaking through v. Reads take the
// first value until Completion is set otherwise.
func NewLegacy(v *ddc.VCP) *Legacy {
	return &Legacy{vcp: v, PollLimit: DefaultPollLimit}
}

// setPointer arms the vendor pointer. It is sent twice because a dropped
// write cannot be detected.
func (l *Legacy) setPointer(addr uint32) error {
	body := []byte{ddc.OpVendor, ddc.VendorSetPointer, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(body[2:], addr)
	for k := 0; k < 2; k++ {
		if err := l.vcp.Vendor(body); err != nil {
			return fmt.Errorf("set pointer 0x%08x: %w", addr, err)
		}
	}
	return nil
}

// Peek arms the pointer at addr and reads feature 0x52. With CompletionTag
// it polls until the tag appears in the high byte.
func (l *Legacy) Peek(addr uint32) (byte, error) {
	if err := l.setPointer(addr); err != nil {
		return 0, err
	}
	if l.Completion == CompletionNone {
		v, err := l.vcp.GetFeature(FeaturePointerRead)
		if err != nil {
			return 0, fmt.Errorf("peek 0x%08x: %w", addr, err)
		}
		if v > 0xff {
			return 0, fmt.Errorf("peek 0x%08x: %w: 0x%04x", addr, ErrPointerValue, v)
		}
		return byte(v), nil
	}
	for i := 0; i < l.PollLimit; i++ {
		v, err := l.vcp.GetFeature(FeaturePointerRead)
		if err != nil {
			return 0, fmt.Errorf("peek 0x%08x: %w", addr, err)
		}
		if byte(v>>8) == ddc.CompletionTag {
			return byte(v), nil
		}
	}
	return 0, fmt.Errorf("peek 0x%08x: no completion tag after %d polls: %w", addr, l.PollLimit, ddc.ErrExhaustedRetries)
}

// Poke stores one byte at addr.
func (l *Legacy) Poke(addr uint32, v byte) error {
	return l.PokeBytes(addr, []byte{v})
}

// PokeBytes stores data starting at addr, re-arming the pointer for every
// chunk that fits a vendor frame.
func (l *Legacy) PokeBytes(addr uint32, data []byte) error {
	const chunk = ddc.MaxVendorBody - 2
	for off := 0; off < len(data); off += chunk {
		end := min(off+chunk, len(data))
		at := addr + uint32(off)
		if err := l.setPointer(at); err != nil {
			return err
		}
		body := append([]byte{ddc.OpVendor, ddc.VendorWriteData}, data[off:end]...)
		if err := l.vcp.Vendor(body); err != nil {
			return fmt.Errorf("poke 0x%08x: %w", at, err)
		}
		slog.Debug("legacy poke", "addr", fmt.Sprintf("0x%08x", at), "len", end-off)
	}
	return nil
}

// Atomic is the single-command primitive that exists once the read and
// write routines have been patched.
type Atomic struct {
	vcp       *ddc.VCP
	PollLimit int
}

// NewAtomic returns an Atomic accessor speaking through v.
func NewAtomic(v *ddc.VCP) *Atomic {
	return &Atomic{vcp: v, PollLimit: DefaultPollLimit}
}

func addrBody(sub byte, addr uint32, extra ...byte) []byte {
	body := []byte{ddc.OpSetFeature, sub, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(body[2:], addr)
	return append(body, extra...)
}

// Probe issues a single atomic read. ok is false when the controller did
// not mark the result valid, which is also what unpatched firmware does.
func (a *Atomic) Probe(addr uint32) (v byte, ok bool, err error) {
	reply, err := a.vcp.SendExtended(addrBody(ddc.ExtAtomicRead, addr), ddc.ExtendedReplyLen)
	if err != nil {
		return 0, false, err
	}
	return reply[1], reply[0] == ddc.CompletionTag, nil
}

// Peek repeats the atomic read until the controller marks it valid.
func (a *Atomic) Peek(addr uint32) (byte, error) {
	for i := 0; i < a.PollLimit; i++ {
		v, ok, err := a.Probe(addr)
		if err != nil {
			return 0, fmt.Errorf("atomic peek 0x%08x: %w", addr, err)
		}
		if ok {
			return v, nil
		}
	}
	return 0, fmt.Errorf("atomic peek 0x%08x: busy after %d polls: %w", addr, a.PollLimit, ddc.ErrExhaustedRetries)
}

// Poke stores one byte at addr in a single command.
func (a *Atomic) Poke(addr uint32, v byte) error {
	if _, err := a.vcp.SendExtended(addrBody(ddc.ExtAtomicWrite, addr, v), ddc.ExtendedReplyLen); err != nil {
		return fmt.Errorf("atomic poke 0x%08x: %w", addr, err)
	}
	return nil
}

// PokeBytes stores data one byte per command.
func (a *Atomic) PokeBytes(addr uint32, data []byte) error {
	for i, b := range data {
		if err := a.Poke(addr+uint32(i), b); err != nil {
			return err
		}
	}
	return nil
}
