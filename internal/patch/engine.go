package patch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mzyy94/monpatch/internal/memory"
)

// Default ceilings.
const (
	DefaultAttempts          = 10
	DefaultInstallIterations = 10
	DefaultSentinelProbes    = 8
)

var errNotInstalled = errors.New("patch not observed in memory")

// Engine applies a Set through a Memory. All state lives in the device, so
// running it again after a partial failure, a reset or a process restart
// converges on the same memory image.
type Engine struct {
	mem *memory.Memory
	set Set

	// Attempts bounds full probe-install-reapply-verify cycles.
	Attempts int
	// InstallIterations bounds the write-twice-then-verify loop of each
	// atomic patch.
	InstallIterations int
	// SentinelProbes bounds the atomic reads per sentinel byte before the
	// marker counts as absent. A busy controller and unpatched firmware
	// answer alike.
	SentinelProbes int
}

// NewEngine returns an Engine applying set through mem.
func NewEngine(mem *memory.Memory, set Set) *Engine {
	return &Engine{
		mem:               mem,
		set:               set,
		Attempts:          DefaultAttempts,
		InstallIterations: DefaultInstallIterations,
		SentinelProbes:    DefaultSentinelProbes,
	}
}

// Set returns the patch set the engine applies.
func (e *Engine) Set() Set { return e.set }

// Deploy runs Reapply and then checks the proof word, repeating the whole
// cycle until it matches. ctx is only consulted between cycles.
func (e *Engine) Deploy(ctx context.Context) error {
	var (
		actual  uint32
		lastErr error
	)
	for attempt := 1; attempt <= e.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		slog.Info("patch deployment", "attempt", attempt, "mode", e.mem.Mode())

		if err := e.Reapply(); err != nil {
			slog.Warn("patch apply failed", "attempt", attempt, "err", err)
			lastErr = err
			continue
		}

		v, err := e.mem.ReadU32(e.set.Verify.Address, binary.BigEndian)
		if err != nil {
			slog.Warn("patch verification read failed", "attempt", attempt, "err", err)
			lastErr = err
			continue
		}
		actual = v
		if v == e.set.Verify.Expected {
			slog.Info("patch verification passed", "attempt", attempt, "word", fmt.Sprintf("0x%08x", v))
			return nil
		}
		lastErr = nil
		slog.Warn("patch verification mismatch",
			"attempt", attempt,
			"got", fmt.Sprintf("0x%08x", v),
			"want", fmt.Sprintf("0x%08x", e.set.Verify.Expected))
	}
	return &VerificationError{
		Address:  e.set.Verify.Address,
		Expected: e.set.Verify.Expected,
		Actual:   actual,
		Attempts: e.Attempts,
		Err:      lastErr,
	}
}

// Reapply probes the sentinel, installs the atomic primitives when it is
// absent, and writes every derived edit.
func (e *Engine) Reapply() error {
	if e.set.HasAtomic() {
		if err := e.ensureAtomic(); err != nil {
			return err
		}
	}
	for _, d := range e.set.Derived {
		if err := e.mem.WriteBytes(d.Address, d.Bytes); err != nil {
			return fmt.Errorf("apply %s: %w", d, err)
		}
	}
	slog.Debug("derived patches applied", "count", len(e.set.Derived))
	return nil
}

// ensureAtomic leaves the memory in atomic mode, installing the read and
// write patches first unless the sentinel says they are already live.
func (e *Engine) ensureAtomic() error {
	present, err := e.probeSentinel()
	if err != nil {
		return err
	}
	if present {
		slog.Info("sentinel present, atomic access already installed")
		e.mem.SetMode(memory.AtomicMode)
		return nil
	}

	e.mem.SetMode(memory.Mode{})
	if err := e.install(*e.set.AtomicRead, e.probeWord); err != nil {
		return err
	}
	e.mem.SetMode(memory.Mode{AtomicRead: true})
	if err := e.install(*e.set.AtomicWrite, e.readWord); err != nil {
		return err
	}

	var mark [2]byte
	binary.BigEndian.PutUint16(mark[:], SentinelValue)
	if err := e.mem.Atomic().PokeBytes(e.set.Sentinel, mark[:]); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}
	e.mem.SetMode(memory.AtomicMode)
	slog.Info("atomic access installed", "sentinel", fmt.Sprintf("0x%08x", e.set.Sentinel))
	return nil
}

// probeSentinel reads the marker with a few atomic probes per byte.
// Unpatched firmware never marks an atomic read valid, which reads as
// absent once the probes are used up.
func (e *Engine) probeSentinel() (bool, error) {
	var mark [2]byte
	for i := range mark {
		addr := e.set.Sentinel + uint32(i)
		v, ok, err := e.probeByte(addr)
		if err != nil {
			return false, fmt.Errorf("probe sentinel: %w", err)
		}
		if !ok {
			slog.Debug("sentinel not readable", "addr", fmt.Sprintf("0x%08x", addr), "probes", e.SentinelProbes)
			return false, nil
		}
		mark[i] = v
	}
	return binary.BigEndian.Uint16(mark[:]) == SentinelValue, nil
}

func (e *Engine) probeByte(addr uint32) (byte, bool, error) {
	for k, n := 0, max(e.SentinelProbes, 1); k < n; k++ {
		v, ok, err := e.mem.Atomic().Probe(addr)
		if err != nil || ok {
			return v, ok, err
		}
	}
	return 0, false, nil
}

// install writes d twice per iteration through the legacy primitive until
// verify observes its first instruction word.
func (e *Engine) install(d Descriptor, verify func(addr uint32, n int) (uint32, error)) error {
	want, n := d.Word()
	for i := 1; i <= e.InstallIterations; i++ {
		for k := 0; k < 2; k++ {
			if err := e.mem.Legacy().PokeBytes(d.Address, d.Bytes); err != nil {
				return fmt.Errorf("install %s: %w", d, err)
			}
		}
		got, err := verify(d.Address, n)
		if err == nil && got == want {
			slog.Info("atomic patch installed", "patch", d.Name, "iteration", i)
			return nil
		}
		slog.Debug("atomic patch not observed", "patch", d.Name, "iteration", i,
			"got", fmt.Sprintf("0x%x", got), "err", err)
	}
	return fmt.Errorf("install %s after %d iterations: %w", d, e.InstallIterations, errNotInstalled)
}

// probeWord reads n bytes with single atomic probes; the read patch is
// being installed, so an invalid reply means it is not live yet.
func (e *Engine) probeWord(addr uint32, n int) (uint32, error) {
	var w uint32
	for i := 0; i < n; i++ {
		v, ok, err := e.mem.Atomic().Probe(addr + uint32(i))
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, errNotInstalled
		}
		w = w<<8 | uint32(v)
	}
	return w, nil
}

// readWord reads n bytes through the active reader.
func (e *Engine) readWord(addr uint32, n int) (uint32, error) {
	b, err := e.mem.ReadBytes(addr, n, nil)
	if err != nil {
		return 0, err
	}
	var w uint32
	for _, v := range b {
		w = w<<8 | uint32(v)
	}
	return w, nil
}
