// Package simdev simulates the display controller at the HID report level:
// envelopes, VCP frames, vendor memory opcodes and the patched routines.
package simdev

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/mzyy94/monpatch/internal/config"
	"github.com/mzyy94/monpatch/internal/ddc"
	"github.com/mzyy94/monpatch/internal/memory"
)

// ErrIO is returned by injected I/O failures.
var ErrIO = errors.New("simdev: injected i/o failure")

// Region is a span of memory that must hold Bytes for a routine to behave
// as patched.
type Region struct {
	Addr  uint32
	Bytes []byte
}

// Firmware describes the simulated build.
type Firmware struct {
	Version [3]byte
	Model   string

	// PointerRead gates feature 0x52 returning the byte at the pointer.
	PointerRead []Region

	// TaggedPointerRead sets ddc.CompletionTag in the high byte of 0x52.
	TaggedPointerRead bool

	// AtomicRead and AtomicWrite gate the 0xd1 and 0xd5 extended opcodes.
	AtomicRead  []Region
	AtomicWrite []Region
}

// FromProfile derives the simulated firmware from a profile: the pointer
// read works once the profile's proof word is in place, the atomic opcodes
// once their patches are.
func FromProfile(p *config.Profile) Firmware {
	fw := Firmware{Model: p.Model, TaggedPointerRead: p.Completion() == memory.CompletionTag}
	copy(fw.Version[:], p.Firmware)
	set := p.PatchSet()
	for _, d := range set.Derived {
		if d.Address <= set.Verify.Address && set.Verify.Address < d.Address+uint32(len(d.Bytes)) {
			fw.PointerRead = append(fw.PointerRead, Region{d.Address, d.Bytes})
		}
	}
	if set.AtomicRead != nil {
		fw.AtomicRead = []Region{{set.AtomicRead.Address, set.AtomicRead.Bytes}}
	}
	if set.AtomicWrite != nil {
		fw.AtomicWrite = []Region{{set.AtomicWrite.Address, set.AtomicWrite.Bytes}}
	}
	return fw
}

// Store records one memory write the device performed.
type Store struct {
	Addr   uint32
	Data   []byte
	Atomic bool
}

// Feature codes the simulator tracks.
const (
	FeatureSplit = 0xd7
	FeatureInput = 0x60
)

// Device is a simulated controller. It implements ddc.Link.
type Device struct {
	mu sync.Mutex

	fw       Firmware
	pristine map[uint32]byte
	mem      map[uint32]byte
	features map[byte]uint16
	pointer  uint32

	reply   []byte
	pending [][]byte

	writes    int
	dropEvery int
	busy      int
	failIO    int
	closed    bool

	stores       []Store
	atomicReads  int
	resets       int
	opens        int
	droppedCount int
}

// New returns a powered-on Device with empty memory.
func New(fw Firmware) *Device {
	d := &Device{
		fw:       fw,
		pristine: make(map[uint32]byte),
	}
	d.powerOn()
	return d
}

func (d *Device) powerOn() {
	d.mem = maps.Clone(d.pristine)
	d.features = map[byte]uint16{FeatureSplit: 0}
	d.pointer = 0
	d.reply = nil
	d.pending = nil
}

// Load places data in the pristine image; it survives resets.
func (d *Device) Load(addr uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, b := range data {
		d.pristine[addr+uint32(i)] = b
		d.mem[addr+uint32(i)] = b
	}
}

// Poke writes RAM directly, bypassing the protocol. It is lost on reset.
func (d *Device) Poke(addr uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, b := range data {
		d.mem[addr+uint32(i)] = b
	}
}

// Peek reads RAM directly.
func (d *Device) Peek(addr uint32, n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = d.mem[addr+uint32(i)]
	}
	return out
}

// Snapshot returns a copy of RAM.
func (d *Device) Snapshot() map[uint32]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.mem)
}

// DropEvery silently discards every nth host report; zero disables.
func (d *Device) DropEvery(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropEvery = n
}

// SetBusy makes the next n atomic reads report "not ready".
func (d *Device) SetBusy(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy = n
}

// Busy returns the number of busy replies still queued.
func (d *Device) Busy() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

// FailIO makes the next n Write or Read calls fail.
func (d *Device) FailIO(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failIO = n
}

// Reset power-cycles the controller: every RAM patch is lost.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resets++
	d.powerOn()
}

// SetFeature sets a feature value directly.
func (d *Device) SetFeature(code byte, v uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.features[code] = v
}

// Feature reads a feature value directly.
func (d *Device) Feature(code byte) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.features[code]
}

// Stores returns every memory write performed so far.
func (d *Device) Stores() []Store {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Store(nil), d.stores...)
}

// Stats reports counters useful in tests.
type Stats struct {
	Reports     int
	Dropped     int
	AtomicReads int
	Resets      int
	Opens       int
}

// Stats returns the current counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Reports:     d.writes,
		Dropped:     d.droppedCount,
		AtomicReads: d.atomicReads,
		Resets:      d.resets,
		Opens:       d.opens,
	}
}

// Opener returns a ddc.Opener that reconnects to this device.
func (d *Device) Opener() ddc.Opener {
	return func() (ddc.Link, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.closed = false
		d.opens++
		d.pending = nil
		return d, nil
	}
}

// Write accepts one host report.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errors.New("simdev: device closed")
	}
	if d.failIO > 0 {
		d.failIO--
		return 0, ErrIO
	}
	d.writes++
	if d.dropEvery > 0 && d.writes%d.dropEvery == 0 {
		d.droppedCount++
		return len(p), nil
	}

	write, addr, length, payload, err := ddc.ParseEnvelope(p)
	if err != nil || addr != ddc.BusAddrDDC {
		return len(p), nil
	}
	if write {
		d.handleFrame(payload)
		return len(p), nil
	}
	n := min(int(length), len(d.reply))
	if n > 0 {
		d.pending = append(d.pending, ddc.EncodeReadResult(d.reply[:n]))
		d.reply = d.reply[n:]
	}
	return len(p), nil
}

// ReadWithTimeout returns the next queued report, or nothing.
func (d *Device) ReadWithTimeout(p []byte, _ time.Duration) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errors.New("simdev: device closed")
	}
	if d.failIO > 0 {
		d.failIO--
		return 0, ErrIO
	}
	if len(d.pending) == 0 {
		return 0, nil
	}
	r := d.pending[0]
	d.pending = d.pending[1:]
	return copy(p, r), nil
}

// Close marks the handle closed until the next Opener call.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Device) handleFrame(frame []byte) {
	d.reply = nil
	target, body, err := ddc.ParseFrame(frame)
	if err != nil || len(body) == 0 {
		return
	}
	switch {
	case target == ddc.TargetPrimary && body[0] == ddc.OpGetFeature && len(body) >= 2:
		d.reply = ddc.MarshalFeatureReply(body[1], d.maxFor(body[1]), d.getFeature(body[1]))
	case target == ddc.TargetPrimary && body[0] == ddc.OpSetFeature && len(body) >= 4:
		v := binary.BigEndian.Uint16(body[2:4])
		d.features[body[1]] = v
		d.reply = ddc.MarshalFeatureReply(body[1], d.maxFor(body[1]), v)
	case target == ddc.TargetPrimary && body[0] == ddc.OpVendor && len(body) >= 2:
		d.handleVendor(body[1], body[2:])
	case target == ddc.TargetSecondary && body[0] == ddc.OpSetFeature && len(body) >= 2:
		d.reply = d.extended(body[1], body[2:])
	}
}

func (d *Device) maxFor(code byte) uint16 {
	if code == FeatureSplit {
		return 14
	}
	return 0xffff
}

func (d *Device) getFeature(code byte) uint16 {
	if code == memory.FeaturePointerRead {
		if !d.present(d.fw.PointerRead) {
			return 0
		}
		v := uint16(d.mem[d.pointer])
		if d.fw.TaggedPointerRead {
			v |= uint16(ddc.CompletionTag) << 8
		}
		return v
	}
	return d.features[code]
}

func (d *Device) handleVendor(sub byte, args []byte) {
	switch sub {
	case ddc.VendorSetPointer:
		if len(args) >= 4 {
			d.pointer = binary.LittleEndian.Uint32(args)
		}
	case ddc.VendorWriteData:
		d.store(d.pointer, args, false)
		d.pointer += uint32(len(args))
	}
}

func (d *Device) extended(sub byte, args []byte) []byte {
	out := make([]byte, ddc.ExtendedReplyLen)
	switch sub {
	case ddc.ExtFirmwareVersion:
		copy(out, d.fw.Version[:])
	case ddc.ExtModelName:
		copy(out, d.fw.Model)
	case ddc.ExtAtomicRead:
		if len(args) < 4 || !d.present(d.fw.AtomicRead) {
			break
		}
		d.atomicReads++
		if d.busy > 0 {
			d.busy--
			out[1] = 0xee
			break
		}
		out[0] = ddc.CompletionTag
		out[1] = d.mem[binary.BigEndian.Uint32(args)]
	case ddc.ExtAtomicWrite:
		if len(args) < 5 || !d.present(d.fw.AtomicWrite) {
			break
		}
		d.store(binary.BigEndian.Uint32(args), args[4:5], true)
		out[0] = ddc.CompletionTag
	case ddc.ExtPrimaryInput:
		if len(args) >= 2 {
			d.features[FeatureInput] = binary.BigEndian.Uint16(args)
		}
		out[0] = ddc.CompletionTag
	case ddc.ExtReset:
		d.resets++
		d.powerOn()
		out[0] = ddc.CompletionTag
	default:
		return nil
	}
	return out
}

func (d *Device) store(addr uint32, data []byte, atomic bool) {
	for i, b := range data {
		d.mem[addr+uint32(i)] = b
	}
	d.stores = append(d.stores, Store{Addr: addr, Data: append([]byte(nil), data...), Atomic: atomic})
}

func (d *Device) present(regions []Region) bool {
	if len(regions) == 0 {
		return false
	}
	for _, r := range regions {
		for i, b := range r.Bytes {
			if d.mem[r.Addr+uint32(i)] != b {
				return false
			}
		}
	}
	return true
}

func (s Store) String() string {
	return fmt.Sprintf("0x%08x<-% x atomic=%v", s.Addr, s.Data, s.Atomic)
}
