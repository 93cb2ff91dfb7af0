package ddc

import (
	"errors"
	"fmt"
	"time"

	"github.com/sstallion/go-hid"
)

// Link is one open handle to the controller's HID interface.
type Link interface {
	Write(p []byte) (int, error)
	// ReadWithTimeout returns 0, nil when no report arrived in time.
	ReadWithTimeout(p []byte, timeout time.Duration) (int, error)
	Close() error
}

// Opener acquires a fresh Link. Sessions call it at start and again on
// every recovery.
type Opener func() (Link, error)

// DeviceInfo describes one enumerated HID interface.
type DeviceInfo struct {
	Path         string
	VendorID     uint16
	ProductID    uint16
	Serial       string
	Manufacturer string
	Product      string
	Interface    int
}

type hidLink struct {
	dev *hid.Device
}

// HIDOpener returns an Opener for the first interface matching vid:pid, or
// for path when it is non-empty. hid.Init must have been called.
func HIDOpener(vid, pid uint16, path string) Opener {
	return func() (Link, error) {
		var (
			dev *hid.Device
			err error
		)
		if path != "" {
			dev, err = hid.OpenPath(path)
		} else {
			dev, err = hid.OpenFirst(vid, pid)
		}
		if err != nil {
			return nil, fmt.Errorf("open hid %04x:%04x: %w", vid, pid, err)
		}
		return &hidLink{dev: dev}, nil
	}
}

func (l *hidLink) Write(p []byte) (int, error) {
	return l.dev.Write(p)
}

func (l *hidLink) ReadWithTimeout(p []byte, timeout time.Duration) (int, error) {
	n, err := l.dev.ReadWithTimeout(p, timeout)
	if errors.Is(err, hid.ErrTimeout) {
		return 0, nil
	}
	return n, err
}

func (l *hidLink) Close() error {
	return l.dev.Close()
}

// Enumerate lists HID interfaces matching vid:pid.
func Enumerate(vid, pid uint16) ([]DeviceInfo, error) {
	var out []DeviceInfo
	err := hid.Enumerate(vid, pid, func(info *hid.DeviceInfo) error {
		out = append(out, DeviceInfo{
			Path:         info.Path,
			VendorID:     info.VendorID,
			ProductID:    info.ProductID,
			Serial:       info.SerialNbr,
			Manufacturer: info.MfrStr,
			Product:      info.ProductStr,
			Interface:    info.InterfaceNbr,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate hid: %w", err)
	}
	return out, nil
}
