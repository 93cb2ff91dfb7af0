package simdev

import "github.com/mzyy94/monpatch/internal/config"

// Stand-in locations for the atomic access patches. The real routines are
// build specific; these only need to be disjoint from the derived patches.
const (
	AtomicReadAddr  = 0x0029e000
	AtomicWriteAddr = 0x0029e100
	SentinelAddr    = 0x005d7000
)

// AtomicProfile returns the built-in profile extended with stand-in atomic
// read and write patches and a sentinel address, so the whole deployment
// path can run against the simulator.
func AtomicProfile() *config.Profile {
	p := config.DefaultProfile()
	p.Sentinel = SentinelAddr
	p.AtomicRead = &config.Patch{
		Name:    "atomic-read",
		Address: AtomicReadAddr,
		Bytes:   config.HexBytes{0xe4, 0x00, 0x00, 0x10, 0x9c, 0x21, 0xff, 0xf8},
	}
	p.AtomicWrite = &config.Patch{
		Name:    "atomic-write",
		Address: AtomicWriteAddr,
		Bytes:   config.HexBytes{0xe4, 0x00, 0x00, 0x22, 0x9c, 0x21, 0xff, 0xf0},
	}
	return p
}

// ForProfile returns a Device whose firmware matches p.
func ForProfile(p *config.Profile) *Device {
	return New(FromProfile(p))
}
