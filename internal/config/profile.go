package config

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/mzyy94/monpatch/internal/memory"
	"github.com/mzyy94/monpatch/internal/patch"
)

// Hex32 is a 32-bit value written as "0x..." in JSON. Plain numbers are
// accepted on input.
type Hex32 uint32

func (h Hex32) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%08x", uint32(h)))
}

func (h *Hex32) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n uint32
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("hex32: %s", b)
		}
		*h = Hex32(n)
		return nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return fmt.Errorf("hex32 %q: %w", s, err)
	}
	*h = Hex32(n)
	return nil
}

// HexBytes is a byte string written as hex digits in JSON. Spaces are
// ignored on input.
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return fmt.Errorf("hex bytes %q: %w", s, err)
	}
	*h = raw
	return nil
}

// Patch is the JSON form of a patch.Descriptor.
type Patch struct {
	Name    string   `json:"name"`
	Address Hex32    `json:"addr"`
	Bytes   HexBytes `json:"bytes"`
}

func (p Patch) descriptor() patch.Descriptor {
	return patch.Descriptor{Name: p.Name, Address: uint32(p.Address), Bytes: append([]byte(nil), p.Bytes...)}
}

// Profile holds the addresses and patch bytes of one firmware build. The
// protocol code treats all of it as opaque data.
type Profile struct {
	Model    string   `json:"model"`
	Firmware HexBytes `json:"firmware"`

	// MonitorInfo is the base of the live monitor state structure.
	MonitorInfo     Hex32 `json:"monitorInfo"`
	SoundOffset     Hex32 `json:"soundOffset"`
	PrimaryOffset   Hex32 `json:"primaryOffset"`
	SecondaryOffset Hex32 `json:"secondaryOffset"`

	Sentinel    Hex32   `json:"sentinel,omitempty"`
	AtomicRead  *Patch  `json:"atomicRead,omitempty"`
	AtomicWrite *Patch  `json:"atomicWrite,omitempty"`
	Derived     []Patch `json:"derived"`

	VerifyAddress  Hex32 `json:"verifyAddress"`
	VerifyExpected Hex32 `json:"verifyExpected"`

	// LegacyCompletion is "none" when the patched 0x52 getter returns the
	// bare byte, "tag" when it sets ddc.CompletionTag in the high byte.
	LegacyCompletion string `json:"legacyCompletion,omitempty"`
}

// Firmware addresses of the 28MQ780 build with scaler version 82 03 30.
const (
	addrVCPD7Set1  = 0x002edc61
	addrVCPD7Set2  = 0x002ee2e8
	addrVCPD7Set3  = 0x002ee2f9
	addrVCPD7Set4  = 0x002ee2cb
	addrVCPD7Set5  = 0x002ee2b2
	addrVCPD7Get1  = 0x0029ef6f
	addrVCP52Get1  = 0x0029f033
	addrVCP52Get2  = 0x0029f02c
	addrMonitorInf = 0x005d5928
)

var nop = []byte{0x80, 0x01}

// DefaultProfile returns the built-in 28MQ780 profile. It carries no atomic
// patches, so deployment runs on the legacy primitive alone.
func DefaultProfile() *Profile {
	p := func(name string, addr uint32, b ...byte) Patch {
		return Patch{Name: name, Address: Hex32(addr), Bytes: b}
	}
	derived := []Patch{
		// split setter: pass raw split values through, 0xe swaps sound
		p("d7set1.beqi0", addrVCPD7Set1+0, 0xd1, 0x40, 0x32, 0x6a),
		p("d7set1.beqie", addrVCPD7Set1+4, 0xd1, 0x4e, 0x33, 0x32),
		p("d7set1.j", addrVCPD7Set1+8, 0xe4, 0x00, 0x0c, 0xfb),
		p("d7set2.nop0", addrVCPD7Set2+0, nop...),
		p("d7set2.nop1", addrVCPD7Set2+2, nop...),
		p("d7set2.nop2", addrVCPD7Set2+4, nop...),
		p("d7set3.mov", addrVCPD7Set3+0, 0x88, 0x6a),
		p("d7set4.jal.get", addrVCPD7Set4+0, 0xe7, 0xf7, 0xec, 0x0e),
		p("d7set4.jal.set", addrVCPD7Set4+4, 0xe7, 0xf8, 0x26, 0xf4),
	}
	for off := uint32(8); off <= 22; off += 2 {
		derived = append(derived, p(fmt.Sprintf("d7set4.nop%d", (off-8)/2), addrVCPD7Set4+off, nop...))
	}
	derived = append(derived,
		p("d7set5.movi", addrVCPD7Set5+0, 0x98, 0x60),
		// split getter: return the raw value
		p("d7get1.nop0", addrVCPD7Get1+0, nop...),
		p("d7get1.nop1", addrVCPD7Get1+2, nop...),
		p("d7get1.mov", addrVCPD7Get1+12, 0x88, 0x83),
		// feature 0x52 getter: return the byte at the vendor pointer
		p("52get2.sw", addrVCP52Get2+0, 0x0c, 0x01, 0x04),
		p("52get1.lwz", addrVCP52Get1+0, 0xec, 0xe7, 0xb5, 0xc2),
		p("52get1.lbz", addrVCP52Get1+4, 0x10, 0xe7, 0x00),
		p("52get1.sbz", addrVCP52Get1+7, 0x18, 0xe1, 0x15),
	)
	return &Profile{
		Model:            "28MQ780",
		Firmware:         HexBytes{0x82, 0x03, 0x30},
		MonitorInfo:      addrMonitorInf,
		SoundOffset:      0x2b5,
		PrimaryOffset:    0x2d0,
		SecondaryOffset:  0x2d1,
		Derived:          derived,
		VerifyAddress:    addrVCP52Get1,
		VerifyExpected:   0xece7b5c2,
		LegacyCompletion: "none",
	}
}

// LoadProfile reads a JSON profile and validates it.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Profile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &p, nil
}

// Validate reports every inconsistency in the profile at once.
func (p *Profile) Validate() error {
	var errs *multierror.Error
	if p.Model == "" {
		errs = multierror.Append(errs, errors.New("model is empty"))
	}
	if len(p.Firmware) != 3 {
		errs = multierror.Append(errs, fmt.Errorf("firmware version has %d bytes, want 3", len(p.Firmware)))
	}
	if len(p.Derived) == 0 {
		errs = multierror.Append(errs, errors.New("no derived patches"))
	}
	if (p.AtomicRead == nil) != (p.AtomicWrite == nil) {
		errs = multierror.Append(errs, errors.New("atomicRead and atomicWrite must be given together"))
	}
	if p.AtomicRead != nil && p.Sentinel == 0 {
		errs = multierror.Append(errs, errors.New("atomic patches need a sentinel address"))
	}
	check := func(what string, q Patch) {
		if len(q.Bytes) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s %q has no bytes", what, q.Name))
		}
	}
	if p.AtomicRead != nil {
		check("atomicRead", *p.AtomicRead)
	}
	if p.AtomicWrite != nil {
		check("atomicWrite", *p.AtomicWrite)
	}
	for _, q := range p.Derived {
		check("derived", q)
	}
	if _, err := memory.ParseCompletion(p.LegacyCompletion); err != nil {
		errs = multierror.Append(errs, err)
	}
	if want, ok := p.expectedWord(uint32(p.VerifyAddress)); !ok {
		errs = multierror.Append(errs, fmt.Errorf("verify address 0x%08x is not fully covered by patches", uint32(p.VerifyAddress)))
	} else if want != uint32(p.VerifyExpected) {
		errs = multierror.Append(errs, fmt.Errorf("verify word 0x%08x disagrees with patched bytes 0x%08x", uint32(p.VerifyExpected), want))
	}
	return errs.ErrorOrNil()
}

// expectedWord derives the big-endian word the patches leave at addr.
func (p *Profile) expectedWord(addr uint32) (uint32, bool) {
	img := p.PatchSet().Image()
	var w uint32
	for i := uint32(0); i < 4; i++ {
		b, ok := img[addr+i]
		if !ok {
			return 0, false
		}
		w = w<<8 | uint32(b)
	}
	return w, true
}

// PatchSet converts the profile to the engine's form.
func (p *Profile) PatchSet() patch.Set {
	s := patch.Set{
		Sentinel: uint32(p.Sentinel),
		Verify:   patch.Check{Address: uint32(p.VerifyAddress), Expected: uint32(p.VerifyExpected)},
	}
	if p.AtomicRead != nil {
		d := p.AtomicRead.descriptor()
		s.AtomicRead = &d
	}
	if p.AtomicWrite != nil {
		d := p.AtomicWrite.descriptor()
		s.AtomicWrite = &d
	}
	for _, q := range p.Derived {
		s.Derived = append(s.Derived, q.descriptor())
	}
	return s
}

// Completion is the legacy read rule. Unknown values, which Validate
// rejects, fall back to CompletionNone.
func (p *Profile) Completion() memory.Completion {
	c, _ := memory.ParseCompletion(p.LegacyCompletion)
	return c
}

// SoundAddr is the byte selecting which input feeds the audio output.
func (p *Profile) SoundAddr() uint32 { return uint32(p.MonitorInfo + p.SoundOffset) }

// PrimaryAddr is the byte holding the primary pane's input.
func (p *Profile) PrimaryAddr() uint32 { return uint32(p.MonitorInfo + p.PrimaryOffset) }

// SecondaryAddr is the byte holding the secondary pane's input.
func (p *Profile) SecondaryAddr() uint32 { return uint32(p.MonitorInfo + p.SecondaryOffset) }
