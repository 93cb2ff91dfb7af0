package ddc_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mzyy94/monpatch/internal/ddc"
	"github.com/mzyy94/monpatch/internal/simdev"
)

var generations = []ddc.Generation{ddc.Legacy, ddc.Bridged}

func newVCP(t *testing.T, gen ddc.Generation) (*ddc.VCP, *simdev.Device) {
	t.Helper()
	dev := simdev.New(simdev.Firmware{Version: [3]byte{0x82, 0x03, 0x30}, Model: "28MQ780"})
	s, err := ddc.NewSession(dev.Opener(), ddc.Timing{})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return ddc.NewVCP(s, gen), dev
}

func TestVCP_FeatureRoundTrip(t *testing.T) {
	for _, gen := range generations {
		t.Run(gen.String(), func(t *testing.T) {
			v, dev := newVCP(t, gen)

			status, err := v.SetFeature(0xd7, 2)
			if err != nil {
				t.Fatalf("SetFeature failed: %v", err)
			}
			if status != 2 {
				t.Errorf("status = %d, want 2", status)
			}
			if dev.Feature(0xd7) != 2 {
				t.Errorf("device split = %d, want 2", dev.Feature(0xd7))
			}

			dev.SetFeature(0x10, 0x1234)
			got, err := v.GetFeature(0x10)
			if err != nil {
				t.Fatalf("GetFeature failed: %v", err)
			}
			if got != 0x1234 {
				t.Errorf("GetFeature = 0x%04x, want 0x1234", got)
			}
		})
	}
}

func TestVCP_SendExtended_Identity(t *testing.T) {
	for _, gen := range generations {
		t.Run(gen.String(), func(t *testing.T) {
			v, _ := newVCP(t, gen)

			fw, err := v.SendExtended([]byte{ddc.OpSetFeature, ddc.ExtFirmwareVersion, 0, 0}, ddc.ExtendedReplyLen)
			if err != nil {
				t.Fatalf("SendExtended failed: %v", err)
			}
			if !bytes.Equal(fw[:3], []byte{0x82, 0x03, 0x30}) {
				t.Errorf("firmware = % x, want 82 03 30", fw[:3])
			}

			model, err := v.SendExtended([]byte{ddc.OpSetFeature, ddc.ExtModelName, 0, 0}, ddc.ExtendedReplyLen)
			if err != nil {
				t.Fatalf("SendExtended failed: %v", err)
			}
			if string(model[:7]) != "28MQ780" {
				t.Errorf("model = %q, want 28MQ780", model[:7])
			}
		})
	}
}

func TestVCP_RetriesThroughDrops(t *testing.T) {
	for _, gen := range generations {
		t.Run(gen.String(), func(t *testing.T) {
			v, dev := newVCP(t, gen)
			dev.DropEvery(3)
			dev.SetFeature(0xd7, 9)

			for i := 0; i < 5; i++ {
				got, err := v.GetFeature(0xd7)
				if err != nil {
					t.Fatalf("GetFeature failed: %v", err)
				}
				if got != 9 {
					t.Fatalf("GetFeature = %d, want 9", got)
				}
			}
			if dev.Stats().Dropped == 0 {
				t.Error("no reports were dropped")
			}
		})
	}
}

func TestVCP_ExhaustedRetries(t *testing.T) {
	v, dev := newVCP(t, ddc.Legacy)
	dev.DropEvery(1)

	if _, err := v.GetFeature(0xd7); !errors.Is(err, ddc.ErrExhaustedRetries) {
		t.Errorf("GetFeature err = %v, want ErrExhaustedRetries", err)
	}
	if _, err := v.SetFeature(0xd7, 1); !errors.Is(err, ddc.ErrExhaustedRetries) {
		t.Errorf("SetFeature err = %v, want ErrExhaustedRetries", err)
	}
	if _, err := v.SendExtended([]byte{ddc.OpSetFeature, ddc.ExtModelName, 0, 0}, ddc.ExtendedReplyLen); !errors.Is(err, ddc.ErrExhaustedRetries) {
		t.Errorf("SendExtended err = %v, want ErrExhaustedRetries", err)
	}

	// Every attempt costs a request and a BeginRead report.
	if got, want := dev.Stats().Reports, 2*(ddc.GetFeatureAttempts+ddc.SetFeatureAttempts+ddc.ExtendedAttempts); got != want {
		t.Errorf("reports = %d, want %d", got, want)
	}
}

func TestVCP_RecoversFromTransportFailure(t *testing.T) {
	v, dev := newVCP(t, ddc.Bridged)
	dev.SetFeature(0xd7, 3)
	dev.FailIO(1)

	got, err := v.GetFeature(0xd7)
	if err != nil {
		t.Fatalf("GetFeature failed: %v", err)
	}
	if got != 3 {
		t.Errorf("GetFeature = %d, want 3", got)
	}
	if v.Session().Reconnects() != 1 {
		t.Errorf("Reconnects = %d, want 1", v.Session().Reconnects())
	}
}

func TestVCP_TransportErrorIsNotRetried(t *testing.T) {
	v, dev := newVCP(t, ddc.Legacy)
	// Fail the first write, the drain reads and the retried write.
	dev.FailIO(1 + ddc.DrainReads + 1)

	_, err := v.GetFeature(0xd7)
	var te *ddc.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if errors.Is(err, ddc.ErrExhaustedRetries) {
		t.Error("transport failure was reported as exhausted retries")
	}
}

func TestVCP_VendorTooLong(t *testing.T) {
	v, _ := newVCP(t, ddc.Legacy)
	if err := v.Vendor(make([]byte, ddc.MaxVendorBody+1)); !errors.Is(err, ddc.ErrPayloadTooLong) {
		t.Errorf("err = %v, want ErrPayloadTooLong", err)
	}
	if err := v.Vendor(make([]byte, ddc.MaxVendorBody)); err != nil {
		t.Errorf("Vendor(max) failed: %v", err)
	}
}
