package ddc

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Generation
// --------------------------------------------------------------------------

// Generation selects one of the two framing layouts the controller firmware
// has shipped with. It is configured, never inferred from traffic.
type Generation int

const (
	// Legacy replies are indexed inside the raw HID report, the request
	// length byte carries the 0x80 flag and reads are capped at 16 bytes.
	Legacy Generation = iota
	// Bridged replies are reassembled by the bus bridge and indexed from
	// zero; length bytes are unflagged and reads are capped at 60 bytes.
	Bridged
)

// ParseGeneration maps a configuration string to a Generation.
func ParseGeneration(s string) (Generation, error) {
	switch strings.ToLower(s) {
	case "legacy", "":
		return Legacy, nil
	case "bridge", "bridged":
		return Bridged, nil
	}
	return 0, fmt.Errorf("unknown protocol generation %q", s)
}

func (g Generation) String() string {
	if g == Bridged {
		return "bridge"
	}
	return "legacy"
}

// ChunkCeiling is the largest BeginRead count the bridge hardware honours.
func (g Generation) ChunkCeiling() int {
	if g == Bridged {
		return 60
	}
	return 16
}

// ReplyOffset is where a reply frame starts in the bytes a VCP read returns.
func (g Generation) ReplyOffset() int {
	if g == Bridged {
		return 0
	}
	return readHdrSize
}

func (g Generation) lengthFlag() byte {
	if g == Bridged {
		return 0x00
	}
	return 0x80
}

// --------------------------------------------------------------------------
// Envelopes
// --------------------------------------------------------------------------

func envelope(dir, sub, length, channel, busAddr byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = ReportID
	buf[1] = dir
	buf[2] = envelopeTag
	buf[3] = sub
	buf[4] = length
	buf[5] = 0x00
	buf[6] = channel
	buf[7] = busAddr
	return buf
}

// EncodeWrite builds a 64-byte write envelope carrying payload to busAddr.
func EncodeWrite(busAddr byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLong, len(payload), MaxPayload)
	}
	buf := envelope(dirWrite, subWrite, byte(len(payload)), channelWrite, busAddr)
	copy(buf[envelopeHdrSize:], payload)
	return buf, nil
}

// EncodeBeginRead builds a 64-byte envelope asking busAddr for count bytes.
func EncodeBeginRead(busAddr, count byte) []byte {
	return envelope(dirBeginRead, subBeginRead, count, channelRead, busAddr)
}

// DecodeReadResult extracts the payload of a read report. The first byte
// counts the payload plus the four header bytes.
func DecodeReadResult(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, ErrShortRead
	}
	claim := int(raw[0]) - readHdrSize
	if claim <= 0 {
		return nil, fmt.Errorf("%w: claim %d", ErrShortRead, claim)
	}
	if claim > len(raw)-readHdrSize {
		return nil, fmt.Errorf("%w: claim %d, report %d", ErrClaim, claim, len(raw))
	}
	return raw[readHdrSize : readHdrSize+claim], nil
}

// EncodeReadResult builds the report a peer returns for a BeginRead. It is
// the inverse of DecodeReadResult and is used by simulated peers.
func EncodeReadResult(payload []byte) []byte {
	buf := make([]byte, PacketSize)
	n := copy(buf[readHdrSize:], payload)
	buf[0] = byte(readHdrSize + n)
	buf[1] = dirBeginRead
	buf[2] = envelopeTag
	buf[3] = subBeginRead
	return buf
}

// ParseEnvelope splits a host packet into its direction, bus address and
// length field, plus the payload for write envelopes.
func ParseEnvelope(pkt []byte) (write bool, busAddr, length byte, payload []byte, err error) {
	if len(pkt) < envelopeHdrSize || pkt[0] != ReportID || pkt[2] != envelopeTag {
		return false, 0, 0, nil, fmt.Errorf("ddc: not an envelope: % x", pkt[:min(len(pkt), envelopeHdrSize)])
	}
	length = pkt[4]
	busAddr = pkt[7]
	switch pkt[1] {
	case dirWrite:
		end := envelopeHdrSize + int(length)
		if end > len(pkt) {
			return false, 0, 0, nil, fmt.Errorf("%w: write length %d", ErrClaim, length)
		}
		return true, busAddr, length, pkt[envelopeHdrSize:end], nil
	case dirBeginRead:
		return false, busAddr, length, nil, nil
	}
	return false, 0, 0, nil, fmt.Errorf("ddc: unknown envelope direction 0x%02x", pkt[1])
}

// --------------------------------------------------------------------------
// VCP frames
// --------------------------------------------------------------------------

// MarshalFrame builds [target, flag|len(body), body..., checksum].
func MarshalFrame(target, flag byte, body []byte) []byte {
	frame := make([]byte, 0, len(body)+3)
	frame = append(frame, target, flag|byte(len(body)))
	frame = append(frame, body...)
	return AppendChecksum(frame)
}

// ParseFrame validates a host request frame and returns its target and body.
func ParseFrame(frame []byte) (target byte, body []byte, err error) {
	if len(frame) < 3 {
		return 0, nil, fmt.Errorf("%w: frame of %d bytes", ErrShortRead, len(frame))
	}
	n := int(frame[1] & 0x7F)
	if 2+n+1 > len(frame) {
		return 0, nil, fmt.Errorf("%w: frame length %d", ErrClaim, n)
	}
	if !VerifyRequest(frame[:2+n+1]) {
		return 0, nil, ErrChecksum
	}
	return frame[0], frame[2 : 2+n], nil
}

// MarshalReply builds a reply frame [source, 0x80|len(body), body..., chk]
// whose window verifies under SeedReply.
func MarshalReply(body []byte) []byte {
	frame := make([]byte, 0, len(body)+3)
	frame = append(frame, ReplySource, 0x80|byte(len(body)))
	frame = append(frame, body...)
	return append(frame, Checksum(SeedReply, frame[1:]))
}

// FeatureReply is the typed content of a get/set feature reply.
type FeatureReply struct {
	Opcode byte
	Result byte
	Code   byte
	Max    uint16
	Value  uint16
}

// ParseFeatureReply decodes the 11-byte feature reply starting at off.
func ParseFeatureReply(data []byte, off int) (FeatureReply, error) {
	if len(data) < off+FeatureReplyLen {
		return FeatureReply{}, fmt.Errorf("%w: %d bytes", ErrShortRead, len(data)-off)
	}
	if !VerifyReply(data, off) {
		return FeatureReply{}, ErrChecksum
	}
	return FeatureReply{
		Opcode: data[off+2],
		Result: data[off+3],
		Code:   data[off+4],
		Max:    uint16(data[off+6])<<8 | uint16(data[off+7]),
		Value:  uint16(data[off+8])<<8 | uint16(data[off+9]),
	}, nil
}

// MarshalFeatureReply builds the reply body a controller sends for a get or
// set of code.
func MarshalFeatureReply(code byte, maxValue, value uint16) []byte {
	return MarshalReply([]byte{
		OpGetFeatureReply, 0x00, code, 0x00,
		byte(maxValue >> 8), byte(maxValue),
		byte(value >> 8), byte(value),
	})
}
