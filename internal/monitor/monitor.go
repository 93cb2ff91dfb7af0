// Package monitor is the command surface built on the patched controller:
// identity gate, deployment, split screen and input/audio swapping.
package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mzyy94/monpatch/internal/config"
	"github.com/mzyy94/monpatch/internal/ddc"
	"github.com/mzyy94/monpatch/internal/memory"
	"github.com/mzyy94/monpatch/internal/patch"
)

// Split modes understood by the patched 0xd7 setter.
const (
	SplitNone      = 0x0
	SplitLeftRight = 0x1
	SplitTopBottom = 0x2
	SplitFixAudio  = 0xE
	MaxSplitMode   = 0xE
)

// FeatureSplit is the VCP code of the split-screen layout.
const FeatureSplit byte = 0xd7

// Input indices as the firmware stores them in the monitor info structure.
const (
	InputHDMI1 = iota
	InputHDMI2
	InputDP
	InputUSBC
	InputUSBCAlt
)

// ddcInputs maps firmware input indices to DDC input source codes.
var ddcInputs = []byte{0x90, 0x91, 0xd0, 0xd2, 0xd2}

// DDCInput returns the DDC input source code for a firmware input index, or
// 0 (automatic) for indices it does not know.
func DDCInput(index byte) byte {
	if int(index) >= len(ddcInputs) {
		return 0
	}
	return ddcInputs[index]
}

// ErrSplitMode reports a split mode outside 0..14.
var ErrSplitMode = errors.New("split mode out of range")

// Identity is what the controller reports about itself.
type Identity struct {
	Firmware []byte
	Model    string
}

func (i Identity) String() string {
	return fmt.Sprintf("%s (scaler % x)", i.Model, i.Firmware)
}

// UnsupportedDeviceError is returned when the identity gate refuses a device.
type UnsupportedDeviceError struct {
	Version []byte
	Model   string
}

func (e *UnsupportedDeviceError) Error() string {
	return fmt.Sprintf("unsupported device %q (scaler % x)", e.Model, e.Version)
}

// Status is a snapshot for display.
type Status struct {
	Generation string `json:"generation"`
	Session    string `json:"session"`
	Reconnects int    `json:"reconnects"`
	MemoryMode string `json:"memoryMode"`
	Deployed   bool   `json:"deployed"`
	Model      string `json:"model"`
}

// Controller serialises every operation on one device session.
type Controller struct {
	mu sync.Mutex

	sess    *ddc.Session
	vcp     *ddc.VCP
	mem     *memory.Memory
	engine  *patch.Engine
	profile *config.Profile

	deployed atomic.Bool

	// ResetSettle is how long Start waits after resetting the monitor.
	ResetSettle time.Duration
}

// New wires a Controller over sess. Reconnects re-run the patch engine.
func New(sess *ddc.Session, gen ddc.Generation, profile *config.Profile) *Controller {
	vcp := ddc.NewVCP(sess, gen)
	mem := memory.New(vcp)
	mem.Legacy().Completion = profile.Completion()
	c := &Controller{
		sess:        sess,
		vcp:         vcp,
		mem:         mem,
		engine:      patch.NewEngine(mem, profile.PatchSet()),
		profile:     profile,
		ResetSettle: time.Second,
	}
	sess.OnReconnect(c.engine.Reapply)
	return c
}

// Memory exposes the typed memory view. Callers must not use it while
// another goroutine drives the Controller.
func (c *Controller) Memory() *memory.Memory { return c.mem }

// Engine returns the patch engine.
func (c *Controller) Engine() *patch.Engine { return c.engine }

// Identify reads the scaler firmware version and model name.
func (c *Controller) Identify() (Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identify()
}

func (c *Controller) identify() (Identity, error) {
	fw, err := c.vcp.SendExtended([]byte{ddc.OpSetFeature, ddc.ExtFirmwareVersion, 0, 0}, ddc.ExtendedReplyLen)
	if err != nil {
		return Identity{}, fmt.Errorf("firmware version: %w", err)
	}
	model, err := c.vcp.SendExtended([]byte{ddc.OpSetFeature, ddc.ExtModelName, 0, 0}, ddc.ExtendedReplyLen)
	if err != nil {
		return Identity{}, fmt.Errorf("model name: %w", err)
	}
	n := len(c.profile.Model)
	if n == 0 || n > len(model) {
		n = len(model)
	}
	return Identity{
		Firmware: append([]byte(nil), fw[:3]...),
		Model:    string(bytes.TrimRight(model[:n], "\x00")),
	}, nil
}

// CheckIdentity refuses any device that is not the profile's build.
func (c *Controller) CheckIdentity() (Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkIdentity()
}

func (c *Controller) checkIdentity() (Identity, error) {
	id, err := c.identify()
	if err != nil {
		return id, err
	}
	if !bytes.Equal(id.Firmware, c.profile.Firmware) || id.Model != c.profile.Model {
		return id, &UnsupportedDeviceError{Version: id.Firmware, Model: id.Model}
	}
	slog.Info("device identified", "model", id.Model, "firmware", fmt.Sprintf("% x", id.Firmware))
	return id, nil
}

// Start gates on identity, resets the monitor into a clean state and deploys
// the patches. A failed deployment resets the monitor again before the error
// is returned.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.checkIdentity(); err != nil {
		return err
	}
	if err := c.reset(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.ResetSettle):
	}

	return c.deploy(ctx)
}

// Deploy runs the patch engine. A failed deployment resets the monitor so
// no half-applied patch set stays live.
func (c *Controller) Deploy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deploy(ctx)
}

func (c *Controller) deploy(ctx context.Context) error {
	c.deployed.Store(false)
	if err := c.engine.Deploy(ctx); err != nil {
		if rerr := c.reset(); rerr != nil {
			slog.Warn("reset after failed deployment", "err", rerr)
		}
		return err
	}
	c.deployed.Store(true)
	return nil
}

// Reset asks the monitor to reset itself. RAM patches are lost.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reset()
}

func (c *Controller) reset() error {
	if _, err := c.vcp.SendExtended([]byte{ddc.OpSetFeature, ddc.ExtReset, 0, 0}, ddc.ExtendedReplyLen); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	c.deployed.Store(false)
	slog.Info("monitor reset")
	return nil
}

// GetSplitMode returns the current split layout.
func (c *Controller) GetSplitMode() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getSplit()
}

func (c *Controller) getSplit() (int, error) {
	v, err := c.vcp.GetFeature(FeatureSplit)
	if err != nil {
		return 0, fmt.Errorf("get split: %w", err)
	}
	return int(v), nil
}

// SetSplitMode selects a split layout. Setting the current layout again is
// a no-op.
func (c *Controller) SetSplitMode(mode int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setSplit(mode)
}

func (c *Controller) setSplit(mode int) error {
	if mode < 0 || mode > MaxSplitMode {
		return fmt.Errorf("%w: %d", ErrSplitMode, mode)
	}
	cur, err := c.getSplit()
	if err != nil {
		return err
	}
	if cur == mode {
		slog.Debug("split unchanged", "mode", mode)
		return nil
	}
	if _, err := c.vcp.SetFeature(FeatureSplit, uint16(mode)); err != nil {
		return fmt.Errorf("set split %d: %w", mode, err)
	}
	slog.Info("split mode set", "mode", mode)
	return nil
}

// toggleSound flips which input feeds the audio output and returns the new
// selection.
func (c *Controller) toggleSound() (byte, error) {
	addr := c.profile.SoundAddr()
	cur, err := c.mem.ReadU8(addr)
	if err != nil {
		return 0, fmt.Errorf("read sound source: %w", err)
	}
	next := (cur & 1) ^ 1
	if err := c.mem.WriteU8(addr, next); err != nil {
		return 0, fmt.Errorf("write sound source: %w", err)
	}
	return next, nil
}

// SwapAudioSource moves the audio output to the other pane.
func (c *Controller) SwapAudioSource() (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := c.toggleSound()
	if err != nil {
		return 0, err
	}
	if err := c.setSplit(SplitFixAudio); err != nil {
		return next, err
	}
	slog.Info("audio source swapped", "source", next)
	return next, nil
}

// SwapPrimarySecondaryInput swaps audio and makes the secondary pane's input
// the primary one.
func (c *Controller) SwapPrimarySecondaryInput() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.toggleSound(); err != nil {
		return err
	}
	primary, err := c.mem.ReadU8(c.profile.PrimaryAddr())
	if err != nil {
		return fmt.Errorf("read primary input: %w", err)
	}
	secondary, err := c.mem.ReadU8(c.profile.SecondaryAddr())
	if err != nil {
		return fmt.Errorf("read secondary input: %w", err)
	}
	slog.Info("swapping inputs", "primary", primary, "secondary", secondary)
	return c.setPrimaryInput(secondary)
}

// SetPrimaryInput switches the primary pane to a firmware input index.
func (c *Controller) SetPrimaryInput(index byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setPrimaryInput(index)
}

func (c *Controller) setPrimaryInput(index byte) error {
	code := DDCInput(index)
	if _, err := c.vcp.SendExtended([]byte{ddc.OpSetFeature, ddc.ExtPrimaryInput, 0, code}, ddc.ExtendedReplyLen); err != nil {
		return fmt.Errorf("set primary input: %w", err)
	}
	return nil
}

// DumpMemory reads n bytes of controller memory starting at addr.
func (c *Controller) DumpMemory(ctx context.Context, addr uint32, n int, progress func(done int)) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.mem.ReadBytes(addr, n, progress)
}

// Heartbeat issues one feature read to keep the transport alive.
func (c *Controller) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.vcp.GetFeature(FeatureSplit)
	return err
}

// Status returns a snapshot of the session and deployment state. It does
// not wait for a running operation.
func (c *Controller) Status() Status {
	return Status{
		Generation: c.vcp.Generation().String(),
		Session:    c.sess.State().String(),
		Reconnects: c.sess.Reconnects(),
		MemoryMode: c.mem.Mode().String(),
		Deployed:   c.deployed.Load(),
		Model:      c.profile.Model,
	}
}
