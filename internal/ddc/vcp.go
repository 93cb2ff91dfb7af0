package ddc

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
)

// MaxVendorBody is the largest vendor command body that fits one envelope
// once target, length and checksum are added.
const MaxVendorBody = MaxPayload - 3

// VCP frames feature and vendor commands onto the DDC/CI bus address.
type VCP struct {
	br  *Bridge
	gen Generation
}

// NewVCP returns a VCP layer speaking gen's framing over s.
func NewVCP(s *Session, gen Generation) *VCP {
	return &VCP{br: NewBridge(s, gen.ChunkCeiling()), gen: gen}
}

// Generation returns the framing in use.
func (v *VCP) Generation() Generation { return v.gen }

// Session returns the underlying device session.
func (v *VCP) Session() *Session { return v.br.s }

// GetFeature reads the 16-bit current value of feature code. Garbled replies
// are retried up to GetFeatureAttempts times.
func (v *VCP) GetFeature(code byte) (uint16, error) {
	var value uint16
	err := v.retry(fmt.Sprintf("get feature 0x%02x", code), GetFeatureAttempts, func() error {
		data, err := v.exchange(TargetPrimary, []byte{OpGetFeature, code}, FeatureReplyLen)
		if err != nil {
			return err
		}
		r, err := ParseFeatureReply(data, v.gen.ReplyOffset())
		if err != nil {
			return err
		}
		if r.Opcode != OpGetFeatureReply || r.Code != code {
			return fmt.Errorf("%w: opcode 0x%02x code 0x%02x", ErrEcho, r.Opcode, r.Code)
		}
		value = r.Value
		return nil
	})
	return value, err
}

// SetFeature writes value to feature code and returns the status byte the
// controller echoes back.
func (v *VCP) SetFeature(code byte, value uint16) (byte, error) {
	var status byte
	err := v.retry(fmt.Sprintf("set feature 0x%02x", code), SetFeatureAttempts, func() error {
		data, err := v.exchange(TargetPrimary, []byte{OpSetFeature, code, byte(value >> 8), byte(value)}, FeatureReplyLen)
		if err != nil {
			return err
		}
		r, err := ParseFeatureReply(data, v.gen.ReplyOffset())
		if err != nil {
			return err
		}
		if r.Code != code {
			return fmt.Errorf("%w: code 0x%02x", ErrEcho, r.Code)
		}
		status = byte(r.Value)
		return nil
	})
	return status, err
}

// SendExtended sends body to the secondary sub-device and returns its reply
// payload. Replies shorter than expected are retried.
func (v *VCP) SendExtended(body []byte, expected int) ([]byte, error) {
	var reply []byte
	err := v.retry(fmt.Sprintf("extended % x", body[:min(len(body), 2)]), ExtendedAttempts, func() error {
		frame := MarshalFrame(TargetSecondary, v.gen.lengthFlag(), body)
		if err := v.br.WriteTo(BusAddrDDC, frame); err != nil {
			return err
		}
		var data []byte
		if v.gen == Bridged {
			var err error
			if data, err = v.br.ReadFrom(BusAddrDDC, expected); err != nil {
				return err
			}
		} else {
			raw, err := v.br.ReadRaw(BusAddrDDC, expected)
			if err != nil {
				return err
			}
			if data, err = DecodeReadResult(raw); err != nil {
				return err
			}
		}
		if len(data) < expected {
			return fmt.Errorf("%w: %d of %d bytes", ErrShortRead, len(data), expected)
		}
		reply = data
		return nil
	})
	return reply, err
}

// Vendor sends a primary-target vendor command that produces no reply.
func (v *VCP) Vendor(body []byte) error {
	if len(body) > MaxVendorBody {
		return fmt.Errorf("%w: vendor body %d > %d", ErrPayloadTooLong, len(body), MaxVendorBody)
	}
	return v.br.WriteTo(BusAddrDDC, MarshalFrame(TargetPrimary, 0x00, body))
}

// exchange writes one request frame and collects the reply. Legacy framing
// returns the raw report, bridged framing the reassembled payload.
func (v *VCP) exchange(target byte, body []byte, expected int) ([]byte, error) {
	if err := v.br.WriteTo(BusAddrDDC, MarshalFrame(target, v.gen.lengthFlag(), body)); err != nil {
		return nil, err
	}
	if v.gen == Bridged {
		return v.br.ReadFrom(BusAddrDDC, expected)
	}
	return v.br.ReadRaw(BusAddrDDC, expected)
}

// retry runs op until it succeeds or attempts are used up, pausing
// RetryDelay between tries. Transport failures end the loop at once.
func (v *VCP) retry(what string, attempts int, op func() error) error {
	var tries int
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(v.br.s.timing.RetryDelay), uint64(attempts-1))
	err := backoff.RetryNotify(func() error {
		tries++
		err := op()
		var te *TransportError
		if errors.As(err, &te) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, next time.Duration) {
		slog.Debug("vcp retry", "cmd", what, "attempt", tries, "err", err)
	})
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return exhausted(what, tries, err)
}
