package ddc

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestBridgeReadFrom_Reconstruction(t *testing.T) {
	stream := make([]byte, 1000)
	for i := range stream {
		stream[i] = byte(i*7 + i>>8)
	}

	for _, ceiling := range []int{16, 60} {
		for _, total := range []int{0, 1, 15, 16, 17, 60, 61, 1000} {
			t.Run(fmt.Sprintf("ceiling=%d/total=%d", ceiling, total), func(t *testing.T) {
				link := &streamLink{stream: stream}
				br := NewBridge(newTestSession(link), ceiling)

				got, err := br.ReadFrom(BusAddrDDC, total)
				if err != nil {
					t.Fatalf("ReadFrom failed: %v", err)
				}
				if !bytes.Equal(got, stream[:total]) {
					t.Fatalf("ReadFrom(%d) differs from single logical read", total)
				}

				wantChunks := (total + ceiling - 1) / ceiling
				if len(link.asks) != wantChunks {
					t.Errorf("chunks = %d, want %d", len(link.asks), wantChunks)
				}
				for i, n := range link.asks {
					if n > ceiling {
						t.Errorf("chunk %d asked %d bytes, ceiling %d", i, n, ceiling)
					}
				}
			})
		}
	}
}

func TestBridgeReadFrom_ShortRead(t *testing.T) {
	link := &streamLink{stream: make([]byte, 32), claimZero: true}
	br := NewBridge(newTestSession(link), 16)

	_, err := br.ReadFrom(BusAddrDDC, 11)
	if !errors.Is(err, ErrShortRead) {
		t.Fatalf("err = %v, want ErrShortRead", err)
	}
	if len(link.asks) != 1 {
		t.Errorf("asks = %d, want a single attempt", len(link.asks))
	}
}

func TestBridgeReadFrom_Timeout(t *testing.T) {
	link := &streamLink{silent: true}
	s := newTestSession(link)
	br := NewBridge(s, 16)

	_, err := br.ReadFrom(BusAddrDDC, 4)
	if !errors.Is(err, ErrShortRead) {
		t.Fatalf("err = %v, want ErrShortRead", err)
	}
	if s.Reconnects() != 0 {
		t.Errorf("Reconnects = %d, want 0 for a timeout", s.Reconnects())
	}
}

func TestNewBridge_ClampsCeiling(t *testing.T) {
	br := NewBridge(nil, 200)
	if br.ceiling != 60 {
		t.Errorf("ceiling = %d, want 60", br.ceiling)
	}
}
