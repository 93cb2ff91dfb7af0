package ddc

import (
	"fmt"
	"log/slog"
	"time"
)

// Bridge tunnels a point-to-point secondary bus through the HID session.
type Bridge struct {
	s       *Session
	ceiling int
}

// NewBridge returns a Bridge whose reads are split into chunks of at most
// ceiling bytes.
func NewBridge(s *Session, ceiling int) *Bridge {
	if ceiling <= 0 || ceiling > PacketSize-readHdrSize {
		ceiling = PacketSize - readHdrSize
	}
	return &Bridge{s: s, ceiling: ceiling}
}

// Session returns the underlying device session.
func (b *Bridge) Session() *Session { return b.s }

// WriteTo sends data to addr in one write envelope. The peer does not
// acknowledge.
func (b *Bridge) WriteTo(addr byte, data []byte) error {
	pkt, err := EncodeWrite(addr, data)
	if err != nil {
		return err
	}
	return b.s.Write(pkt)
}

// ReadFrom collects total bytes from addr in chunks no larger than the
// ceiling. Every chunk is preceded by the settle delay. A chunk that claims
// no bytes fails the whole read with ErrShortRead.
func (b *Bridge) ReadFrom(addr byte, total int) ([]byte, error) {
	out := make([]byte, 0, total)
	for len(out) < total {
		n := min(total-len(out), b.ceiling)
		sleep(b.s.timing.ChunkDelay)
		if err := b.s.Write(EncodeBeginRead(addr, byte(n))); err != nil {
			return nil, err
		}
		raw, err := b.s.Read(b.s.timing.ReadTimeout)
		if err != nil {
			return nil, err
		}
		chunk, err := DecodeReadResult(raw)
		if err != nil {
			return nil, fmt.Errorf("chunk at %d of %d: %w", len(out), total, err)
		}
		slog.Debug("bridge chunk", "addr", fmt.Sprintf("0x%02x", addr), "asked", n, "got", len(chunk))
		out = append(out, chunk...)
	}
	return out[:total], nil
}

// ReadRaw issues a single BeginRead for count bytes and returns the whole
// report without decoding it. Legacy framing indexes replies inside it.
func (b *Bridge) ReadRaw(addr byte, count int) ([]byte, error) {
	if err := b.s.Write(EncodeBeginRead(addr, byte(count))); err != nil {
		return nil, err
	}
	return b.s.Read(b.s.timing.ReadTimeout)
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
