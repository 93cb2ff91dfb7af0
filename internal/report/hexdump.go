// Package report renders controller memory dumps for people: a classic hex
// listing, a byte-level comparison of two dumps, and a printable PDF.
package report

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// BytesPerLine is the width of a dump line.
const BytesPerLine = 16

// HexDump writes data as offset, hex and ASCII columns, addressing the first
// byte as base.
func HexDump(w io.Writer, base uint32, data []byte) error {
	bw := bufio.NewWriter(w)
	for off := 0; off < len(data); off += BytesPerLine {
		bw.WriteString(dumpLine(base+uint32(off), data[off:min(off+BytesPerLine, len(data))]))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func dumpLine(addr uint32, line []byte) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%08x ", addr)
	for i := 0; i < BytesPerLine; i++ {
		if i == BytesPerLine/2 {
			b.WriteByte(' ')
		}
		if i < len(line) {
			fmt.Fprintf(&b, " %02x", line[i])
		} else {
			b.WriteString("   ")
		}
	}
	b.WriteString("  |")
	for _, c := range line {
		if c < 0x20 || c > 0x7e {
			c = '.'
		}
		b.WriteByte(c)
	}
	b.WriteByte('|')
	return b.String()
}

// Change is a run of consecutive differing bytes.
type Change struct {
	Offset int
	Old    []byte
	New    []byte
}

func (c Change) String() string {
	return fmt.Sprintf("+0x%x: % x -> % x", c.Offset, c.Old, c.New)
}

// Diff compares two dumps of the same region and returns the differing runs.
// Bytes past the end of the shorter dump count as changed.
func Diff(a, b []byte) []Change {
	var out []Change
	n := max(len(a), len(b))
	for i := 0; i < n; {
		if i < len(a) && i < len(b) && a[i] == b[i] {
			i++
			continue
		}
		start := i
		for i < n && !(i < len(a) && i < len(b) && a[i] == b[i]) {
			i++
		}
		out = append(out, Change{
			Offset: start,
			Old:    clip(a, start, i),
			New:    clip(b, start, i),
		})
	}
	return out
}

func clip(b []byte, from, to int) []byte {
	from = min(from, len(b))
	to = min(to, len(b))
	return append([]byte(nil), b[from:to]...)
}
