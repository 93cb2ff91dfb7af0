package memory

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/text/encoding/unicode"

	"github.com/mzyy94/monpatch/internal/ddc"
)

// Mode selects which strategy serves reads and writes.
type Mode struct {
	AtomicRead  bool
	AtomicWrite bool
}

// AtomicMode routes everything through the atomic primitive.
var AtomicMode = Mode{AtomicRead: true, AtomicWrite: true}

func (m Mode) String() string {
	switch {
	case m.AtomicRead && m.AtomicWrite:
		return "atomic"
	case m.AtomicRead:
		return "atomic-read"
	case m.AtomicWrite:
		return "atomic-write"
	}
	return "legacy"
}

// Memory is the typed view of the controller address space. Multi-byte
// helpers take the byte order of the target field explicitly.
type Memory struct {
	legacy *Legacy
	atomic *Atomic

	mu   sync.RWMutex
	mode Mode
}

// New returns a Memory in legacy mode.
func New(v *ddc.VCP) *Memory {
	return &Memory{legacy: NewLegacy(v), atomic: NewAtomic(v)}
}

// Mode returns the active strategy selection. It is safe to call while
// another goroutine is reading or writing.
func (m *Memory) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// SetMode switches strategies.
func (m *Memory) SetMode(mode Mode) {
	m.mu.Lock()
	changed := mode != m.mode
	m.mode = mode
	m.mu.Unlock()
	if changed {
		slog.Info("memory access mode", "mode", mode)
	}
}

// Legacy returns the pointer-indirection strategy.
func (m *Memory) Legacy() *Legacy { return m.legacy }

// Atomic returns the single-command strategy.
func (m *Memory) Atomic() *Atomic { return m.atomic }

func (m *Memory) reader() Accessor {
	if m.Mode().AtomicRead {
		return m.atomic
	}
	return m.legacy
}

func (m *Memory) writer() Accessor {
	if m.Mode().AtomicWrite {
		return m.atomic
	}
	return m.legacy
}

// ReadU8 reads one byte.
func (m *Memory) ReadU8(addr uint32) (byte, error) {
	return m.reader().Peek(addr)
}

// ReadBytes reads n bytes one at a time. progress, when set, is called with
// the running count.
func (m *Memory) ReadBytes(addr uint32, n int, progress func(done int)) ([]byte, error) {
	r := m.reader()
	out := make([]byte, n)
	for i := range out {
		b, err := r.Peek(addr + uint32(i))
		if err != nil {
			return out[:i], err
		}
		out[i] = b
		if progress != nil {
			progress(i + 1)
		}
	}
	return out, nil
}

// ReadU16 reads a 16-bit field.
func (m *Memory) ReadU16(addr uint32, order binary.ByteOrder) (uint16, error) {
	b, err := m.ReadBytes(addr, 2, nil)
	if err != nil {
		return 0, err
	}
	return order.Uint16(b), nil
}

// ReadU32 reads a 32-bit field.
func (m *Memory) ReadU32(addr uint32, order binary.ByteOrder) (uint32, error) {
	b, err := m.ReadBytes(addr, 4, nil)
	if err != nil {
		return 0, err
	}
	return order.Uint32(b), nil
}

// WriteU8 stores one byte.
func (m *Memory) WriteU8(addr uint32, v byte) error {
	return m.writer().Poke(addr, v)
}

// WriteBytes stores data verbatim.
func (m *Memory) WriteBytes(addr uint32, data []byte) error {
	return m.writer().PokeBytes(addr, data)
}

// WriteU16 stores a 16-bit field.
func (m *Memory) WriteU16(addr uint32, v uint16, order binary.ByteOrder) error {
	b := make([]byte, 2)
	order.PutUint16(b, v)
	return m.WriteBytes(addr, b)
}

// WriteU24 stores the low 24 bits of v as a 16-bit word followed by a byte,
// in the requested order.
func (m *Memory) WriteU24(addr uint32, v uint32, order binary.ByteOrder) error {
	if order == binary.LittleEndian {
		if err := m.WriteU16(addr, uint16(v), order); err != nil {
			return err
		}
		return m.WriteU8(addr+2, byte(v>>16))
	}
	if err := m.WriteU16(addr, uint16(v>>8), order); err != nil {
		return err
	}
	return m.WriteU8(addr+2, byte(v))
}

// WriteU32 stores a 32-bit field.
func (m *Memory) WriteU32(addr uint32, v uint32, order binary.ByteOrder) error {
	b := make([]byte, 4)
	order.PutUint32(b, v)
	return m.WriteBytes(addr, b)
}

// EncodeString16 returns s as UTF-16LE code units without a byte order mark,
// followed by a zero terminator.
func EncodeString16(s string) ([]byte, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	b, err := enc.Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode utf-16: %w", err)
	}
	return append(b, 0, 0), nil
}

// WriteString16 stores s as a terminated UTF-16LE string.
func (m *Memory) WriteString16(addr uint32, s string) error {
	b, err := EncodeString16(s)
	if err != nil {
		return err
	}
	return m.WriteBytes(addr, b)
}
