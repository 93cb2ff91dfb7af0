package ddc

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeWrite(t *testing.T) {
	payload := []byte{0x51, 0x82, 0x01, 0xd7, 0x00}
	pkt, err := EncodeWrite(BusAddrDDC, payload)
	if err != nil {
		t.Fatalf("EncodeWrite failed: %v", err)
	}
	if len(pkt) != PacketSize {
		t.Fatalf("len = %d, want %d", len(pkt), PacketSize)
	}
	wantHdr := []byte{0x08, 0x01, 0x55, 0x03, 0x05, 0x00, 0x03, 0x37}
	if !bytes.Equal(pkt[:8], wantHdr) {
		t.Errorf("header = % x, want % x", pkt[:8], wantHdr)
	}
	if !bytes.Equal(pkt[8:13], payload) {
		t.Errorf("payload = % x, want % x", pkt[8:13], payload)
	}
	for i := 13; i < PacketSize; i++ {
		if pkt[i] != 0 {
			t.Fatalf("pkt[%d] = 0x%02x, want zero padding", i, pkt[i])
		}
	}
}

func TestEncodeWrite_TooLong(t *testing.T) {
	if _, err := EncodeWrite(BusAddrDDC, make([]byte, MaxPayload)); err != nil {
		t.Errorf("EncodeWrite(%d bytes) failed: %v", MaxPayload, err)
	}
	_, err := EncodeWrite(BusAddrDDC, make([]byte, MaxPayload+1))
	if !errors.Is(err, ErrPayloadTooLong) {
		t.Errorf("err = %v, want ErrPayloadTooLong", err)
	}
}

func TestEncodeBeginRead(t *testing.T) {
	pkt := EncodeBeginRead(BusAddrDDC, 0x0b)
	want := []byte{0x08, 0x02, 0x55, 0x04, 0x0b, 0x00, 0x0b, 0x37}
	if !bytes.Equal(pkt[:8], want) {
		t.Errorf("header = % x, want % x", pkt[:8], want)
	}
	if len(pkt) != PacketSize {
		t.Errorf("len = %d, want %d", len(pkt), PacketSize)
	}
}

func TestDecodeReadResult(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		want    []byte
		wantErr error
	}{
		{"three bytes", []byte{7, 2, 0x55, 4, 0xAA, 0xBB, 0xCC, 0xDD}, []byte{0xAA, 0xBB, 0xCC}, nil},
		{"zero claim", []byte{4, 2, 0x55, 4, 0xAA}, nil, ErrShortRead},
		{"negative claim", []byte{2, 2, 0x55, 4}, nil, ErrShortRead},
		{"empty report", nil, nil, ErrShortRead},
		{"over-length claim", []byte{40, 2, 0x55, 4, 0xAA}, nil, ErrClaim},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeReadResult(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeReadResult failed: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("payload = % x, want % x", got, tt.want)
			}
		})
	}
}

func TestParseEnvelope(t *testing.T) {
	pkt, _ := EncodeWrite(0x37, []byte{1, 2, 3})
	write, addr, length, payload, err := ParseEnvelope(pkt)
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if !write || addr != 0x37 || length != 3 || !bytes.Equal(payload, []byte{1, 2, 3}) {
		t.Errorf("got write=%v addr=0x%02x len=%d payload=% x", write, addr, length, payload)
	}

	write, addr, length, _, err = ParseEnvelope(EncodeBeginRead(0x37, 60))
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if write || addr != 0x37 || length != 60 {
		t.Errorf("got write=%v addr=0x%02x len=%d", write, addr, length)
	}

	if _, _, _, _, err := ParseEnvelope([]byte{0x01, 0x02}); err == nil {
		t.Error("ParseEnvelope accepted garbage")
	}
}

func TestParseFrame(t *testing.T) {
	frame := MarshalFrame(TargetSecondary, 0x80, []byte{0x03, 0xd1, 0x00, 0x5d, 0x59, 0x28})
	target, body, err := ParseFrame(frame)
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	if target != TargetSecondary {
		t.Errorf("target = 0x%02x, want 0x50", target)
	}
	if !bytes.Equal(body, []byte{0x03, 0xd1, 0x00, 0x5d, 0x59, 0x28}) {
		t.Errorf("body = % x", body)
	}

	frame[3] ^= 0xFF
	if _, _, err := ParseFrame(frame); !errors.Is(err, ErrChecksum) {
		t.Errorf("err = %v, want ErrChecksum", err)
	}
}

func TestParseFeatureReply(t *testing.T) {
	frame := MarshalFeatureReply(0xd7, 14, 0x0102)
	if len(frame) != FeatureReplyLen {
		t.Fatalf("len = %d, want %d", len(frame), FeatureReplyLen)
	}

	for _, off := range []int{0, 4} {
		data := frame
		if off == 4 {
			data = EncodeReadResult(frame)
		}
		r, err := ParseFeatureReply(data, off)
		if err != nil {
			t.Fatalf("offset %d: ParseFeatureReply failed: %v", off, err)
		}
		if r.Opcode != OpGetFeatureReply || r.Code != 0xd7 || r.Max != 14 || r.Value != 0x0102 {
			t.Errorf("offset %d: got %+v", off, r)
		}
	}

	if _, err := ParseFeatureReply(frame[:10], 0); !errors.Is(err, ErrShortRead) {
		t.Errorf("err = %v, want ErrShortRead", err)
	}
}

func TestParseGeneration(t *testing.T) {
	tests := []struct {
		in      string
		want    Generation
		ceiling int
		offset  int
	}{
		{"legacy", Legacy, 16, 4},
		{"", Legacy, 16, 4},
		{"bridge", Bridged, 60, 0},
		{"BRIDGED", Bridged, 60, 0},
	}
	for _, tt := range tests {
		g, err := ParseGeneration(tt.in)
		if err != nil {
			t.Fatalf("ParseGeneration(%q) failed: %v", tt.in, err)
		}
		if g != tt.want || g.ChunkCeiling() != tt.ceiling || g.ReplyOffset() != tt.offset {
			t.Errorf("ParseGeneration(%q) = %v (ceiling %d, offset %d)", tt.in, g, g.ChunkCeiling(), g.ReplyOffset())
		}
	}
	if _, err := ParseGeneration("v3"); err == nil {
		t.Error("ParseGeneration(v3) succeeded")
	}
}
