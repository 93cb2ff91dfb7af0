package ddc

import "testing"

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		seed byte
		data []byte
		want byte
	}{
		{"empty", SeedRequest, nil, 0x6E},
		{"get feature d7", SeedRequest, []byte{0x51, 0x82, 0x01, 0xd7}, 0x6E ^ 0x51 ^ 0x82 ^ 0x01 ^ 0xd7},
		{"reply seed", SeedReply, []byte{0x00}, 0x3E},
		{"self cancelling", 0x00, []byte{0xAA, 0xAA}, 0x00},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.seed, tt.data); got != tt.want {
				t.Errorf("Checksum() = 0x%02X, want 0x%02X", got, tt.want)
			}
		})
	}
}

func TestRequestChecksumRoundTrip(t *testing.T) {
	for n := 0; n <= 55; n++ {
		body := make([]byte, n)
		for i := range body {
			body[i] = byte(i*37 + n)
		}
		for _, flag := range []byte{0x00, 0x80} {
			frame := MarshalFrame(TargetPrimary, flag, body)
			if !VerifyRequest(frame) {
				t.Fatalf("VerifyRequest(MarshalFrame(len %d, flag 0x%02X)) = false", n, flag)
			}
			frame[len(frame)-1] ^= 0x01
			if VerifyRequest(frame) {
				t.Fatalf("VerifyRequest accepted corrupted frame of len %d", n)
			}
		}
	}
}

func TestReplyChecksumRoundTrip(t *testing.T) {
	for n := 0; n <= 55; n++ {
		body := make([]byte, n)
		for i := range body {
			body[i] = byte(0xFF - i)
		}
		frame := MarshalReply(body)
		if !VerifyReply(frame, 0) {
			t.Fatalf("VerifyReply(MarshalReply(len %d), 0) = false", n)
		}

		// Same frame inside a legacy report at offset 4.
		raw := EncodeReadResult(frame)
		if len(frame) <= PacketSize-readHdrSize && !VerifyReply(raw, 4) {
			t.Fatalf("VerifyReply(report, 4) = false for len %d", n)
		}
	}
}

func TestVerifyReplyRejects(t *testing.T) {
	good := MarshalFeatureReply(0xd7, 14, 2)

	bad := append([]byte(nil), good...)
	bad[9] ^= 0x40
	if VerifyReply(bad, 0) {
		t.Error("VerifyReply accepted corrupted value byte")
	}
	if VerifyReply(good[:2], 0) {
		t.Error("VerifyReply accepted truncated frame")
	}
	if VerifyReply(good, -1) {
		t.Error("VerifyReply accepted negative offset")
	}
}
