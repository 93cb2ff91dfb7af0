package ddc

import "time"

// USB identification of the monitor control interface.
const (
	VendorID  uint16 = 0x043E
	ProductID uint16 = 0x9A39
)

// PacketSize is the fixed HID report length in both directions.
const PacketSize = 64

// Envelope header bytes.
const (
	ReportID        byte = 0x08
	dirWrite        byte = 0x01
	dirBeginRead    byte = 0x02
	envelopeTag     byte = 0x55
	subWrite        byte = 0x03
	subBeginRead    byte = 0x04
	channelWrite    byte = 0x03
	channelRead     byte = 0x0b
)

const (
	envelopeHdrSize = 8
	readHdrSize     = 4
)

// MaxPayload is the largest payload a single write envelope can carry.
const MaxPayload = PacketSize - envelopeHdrSize

// BusAddrDDC is the secondary-bus address of the DDC/CI endpoint.
const BusAddrDDC byte = 0x37

// VCP frame addressing.
const (
	TargetPrimary   byte = 0x51 // feature control and vendor memory opcodes
	TargetSecondary byte = 0x50 // vendor extension sub-device
	ReplySource     byte = 0x6E
)

// Checksum seeds. Requests fold in the host address, replies additionally
// fold in the virtual source address so a valid window XORs to zero.
const (
	SeedRequest byte = 0x6E
	SeedReply   byte = 0x6E ^ 0x50
)

// VCP opcodes.
const (
	OpGetFeature      byte = 0x01
	OpGetFeatureReply byte = 0x02
	OpSetFeature      byte = 0x03
	OpVendor          byte = 0xcc
)

// Vendor memory sub-opcodes carried under OpVendor.
const (
	VendorSetPointer byte = 0xf6 // address, little-endian u32
	VendorWriteData  byte = 0xf4 // bytes stored at the pointer
)

// Extended sub-opcodes carried to TargetSecondary under OpSetFeature.
const (
	ExtFirmwareVersion byte = 0xc9
	ExtModelName       byte = 0xca
	ExtAtomicRead      byte = 0xd1
	ExtAtomicWrite     byte = 0xd5
	ExtPrimaryInput    byte = 0xf4
	ExtReset           byte = 0xf5
)

// Reply sizes.
const (
	FeatureReplyLen  = 11
	ExtendedReplyLen = 0x26
)

// CompletionTag marks a reply whose payload is valid.
const CompletionTag byte = 0x82

// Retry ceilings.
const (
	GetFeatureAttempts = 1000
	SetFeatureAttempts = 10
	ExtendedAttempts   = 10
	DrainReads         = 10
)

// Timing holds the fixed delays of the protocol. Production code uses
// DefaultTiming; tests shrink them to zero.
type Timing struct {
	ReadTimeout  time.Duration // normal report read
	DrainTimeout time.Duration // stale report flush after reopen
	ChunkDelay   time.Duration // settle time before each chunk read
	RetryDelay   time.Duration // pause between VCP attempts
}

// DefaultTiming returns the delays the hardware requires.
func DefaultTiming() Timing {
	return Timing{
		ReadTimeout:  200 * time.Millisecond,
		DrainTimeout: 10 * time.Millisecond,
		ChunkDelay:   10 * time.Millisecond,
		RetryDelay:   100 * time.Millisecond,
	}
}
