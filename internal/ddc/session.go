package ddc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// State is a phase of the connection recovery cycle.
type State int

const (
	Connected State = iota
	Erroring
	Reopening
	Draining
	Reapplying
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Erroring:
		return "erroring"
	case Reopening:
		return "reopening"
	case Draining:
		return "draining"
	case Reapplying:
		return "reapplying"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var errNoLink = errors.New("no open device")

// Session owns the single HID handle to the controller. Every report goes
// through Write and Read; an I/O failure reopens the handle, drains stale
// reports, runs the reconnect hook and retries the failed call once.
//
// A Session is not safe for concurrent use. Callers serialise access.
type Session struct {
	open   Opener
	timing Timing

	link       Link
	state      State
	recovering bool
	reconnects int
	hook       func() error

	// mu guards state and reconnects for observers.
	mu sync.Mutex
}

// NewSession opens the device and returns a connected Session.
func NewSession(open Opener, timing Timing) (*Session, error) {
	link, err := open()
	if err != nil {
		return nil, err
	}
	return &Session{open: open, timing: timing, link: link}, nil
}

// OnReconnect registers fn to run in the Reapplying phase. fn may use the
// Session; failures inside it are not recovered recursively.
func (s *Session) OnReconnect(fn func() error) {
	s.hook = fn
}

// Timing returns the delays configured for this session.
func (s *Session) Timing() Timing { return s.timing }

// State returns the current recovery phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reconnects returns how many recovery cycles have completed.
func (s *Session) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

// Write sends one report, zero-padded to PacketSize.
func (s *Session) Write(pkt []byte) error {
	buf := make([]byte, PacketSize)
	copy(buf, pkt)

	err := s.write(buf)
	if err == nil {
		return nil
	}
	if s.recovering {
		return &TransportError{Op: "write", Err: err}
	}
	s.recover(err)
	if err := s.write(buf); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// Read waits up to timeout for one report. A timeout yields an empty slice
// and no error.
func (s *Session) Read(timeout time.Duration) ([]byte, error) {
	data, err := s.read(timeout)
	if err == nil {
		return data, nil
	}
	if s.recovering {
		return nil, &TransportError{Op: "read", Err: err}
	}
	s.recover(err)
	data, err = s.read(timeout)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}
	return data, nil
}

// Close releases the device handle.
func (s *Session) Close() error {
	if s.link == nil {
		return nil
	}
	err := s.link.Close()
	s.link = nil
	return err
}

func (s *Session) write(buf []byte) error {
	if s.link == nil {
		return errNoLink
	}
	n, err := s.link.Write(buf)
	if err != nil {
		return err
	}
	if n < len(buf) {
		return io.ErrShortWrite
	}
	return nil
}

func (s *Session) read(timeout time.Duration) ([]byte, error) {
	if s.link == nil {
		return nil, errNoLink
	}
	buf := make([]byte, PacketSize)
	n, err := s.link.ReadWithTimeout(buf, timeout)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	slog.Info("device session", "state", st)
}

// recover runs one Erroring -> Reopening -> Draining -> Reapplying ->
// Connected cycle. A failed reopen leaves the session without a link so
// the retried call fails with a TransportError.
func (s *Session) recover(cause error) {
	s.recovering = true
	defer func() { s.recovering = false }()

	slog.Warn("device i/o failed", "err", cause)
	s.setState(Erroring)
	if s.link != nil {
		s.link.Close()
		s.link = nil
	}

	s.setState(Reopening)
	link, err := s.open()
	if err != nil {
		slog.Error("device reopen failed", "err", err)
		s.setState(Erroring)
		return
	}
	s.link = link

	s.setState(Draining)
	if err := s.drain(); err != nil {
		slog.Debug("drain errors ignored", "err", err)
	}

	if s.hook != nil {
		s.setState(Reapplying)
		if err := s.hook(); err != nil {
			slog.Warn("reconnect hook failed", "err", err)
		}
	}

	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
	s.setState(Connected)
}

// drain discards up to DrainReads stale reports, stopping at the first
// empty read.
func (s *Session) drain() error {
	var errs *multierror.Error
	for i := 0; i < DrainReads; i++ {
		data, err := s.read(s.timing.DrainTimeout)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if len(data) == 0 {
			break
		}
		slog.Debug("drained stale report", "bytes", len(data))
	}
	return errs.ErrorOrNil()
}
