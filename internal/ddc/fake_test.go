package ddc

import (
	"errors"
	"time"
)

var errUnplugged = errors.New("device unplugged")

// streamLink answers every BeginRead with the next bytes of stream.
type streamLink struct {
	stream  []byte
	pos     int
	pending [][]byte
	asks    []int

	// claimZero makes every reply claim no bytes; silent queues nothing.
	claimZero bool
	silent    bool

	failWrites int
	failReads  int
	closed     bool
}

func (l *streamLink) Write(p []byte) (int, error) {
	if l.failWrites > 0 {
		l.failWrites--
		return 0, errUnplugged
	}
	write, _, length, _, err := ParseEnvelope(p)
	if err != nil {
		return 0, err
	}
	if write {
		return len(p), nil
	}
	l.asks = append(l.asks, int(length))
	if l.silent {
		return len(p), nil
	}
	if l.claimZero {
		l.pending = append(l.pending, EncodeReadResult(nil))
		return len(p), nil
	}
	n := min(int(length), len(l.stream)-l.pos)
	l.pending = append(l.pending, EncodeReadResult(l.stream[l.pos:l.pos+n]))
	l.pos += n
	return len(p), nil
}

func (l *streamLink) ReadWithTimeout(p []byte, _ time.Duration) (int, error) {
	if l.failReads > 0 {
		l.failReads--
		return 0, errUnplugged
	}
	if len(l.pending) == 0 {
		return 0, nil
	}
	r := l.pending[0]
	l.pending = l.pending[1:]
	return copy(p, r), nil
}

func (l *streamLink) Close() error {
	l.closed = true
	return nil
}

func zeroTiming() Timing {
	return Timing{}
}

func newTestSession(l Link) *Session {
	s, err := NewSession(func() (Link, error) { return l, nil }, zeroTiming())
	if err != nil {
		panic(err)
	}
	return s
}
