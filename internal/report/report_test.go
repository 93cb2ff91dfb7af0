package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHexDump(t *testing.T) {
	data := []byte("28MQ780\x00\x82\x03\x30ABCDEFGHIJ")
	var buf bytes.Buffer
	if err := HexDump(&buf, 0x5d5928, data); err != nil {
		t.Fatalf("HexDump failed: %v", err)
	}
	want := "005d5928  32 38 4d 51 37 38 30 00  82 03 30 41 42 43 44 45  |28MQ780...0ABCDE|\n" +
		"005d5938  46 47 48 49 4a                                    |FGHIJ|\n"
	if got := buf.String(); got != want {
		t.Errorf("HexDump =\n%s\nwant\n%s", got, want)
	}
}

func TestHexDump_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := HexDump(&buf, 0, nil); err != nil {
		t.Fatalf("HexDump failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("HexDump(nil) = %q, want empty", buf.String())
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
		want []string
	}{
		{"equal", []byte{1, 2, 3}, []byte{1, 2, 3}, nil},
		{"one byte", []byte{1, 2, 3}, []byte{1, 9, 3}, []string{"+0x1: 02 -> 09"}},
		{"runs", []byte{1, 2, 3, 4, 5, 6}, []byte{0, 0, 3, 4, 0, 6}, []string{"+0x0: 01 02 -> 00 00", "+0x4: 05 -> 00"}},
		{"grown", []byte{1, 2}, []byte{1, 2, 3, 4}, []string{"+0x2:  -> 03 04"}},
		{"shrunk", []byte{1, 2, 3}, []byte{1}, []string{"+0x1: 02 03 -> "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes := Diff(tt.a, tt.b)
			var got []string
			for _, c := range changes {
				got = append(got, c.String())
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("Diff = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWritePDF(t *testing.T) {
	data := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 600)
	path := filepath.Join(t.TempDir(), "dump.pdf")
	if err := WritePDF(path, "28MQ780 monitor info", 0x5d5928, data); err != nil {
		t.Fatalf("WritePDF failed: %v", err)
	}
	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-")) {
		t.Errorf("output starts with %q, want %%PDF-", out[:min(8, len(out))])
	}
	// 2400 bytes at 1024 bytes per page.
	if n := bytes.Count(out, []byte("/Type /Page\n")); n != 3 {
		t.Errorf("pages = %d, want 3", n)
	}
}

func TestGeneratePDF_Empty(t *testing.T) {
	if _, err := GeneratePDF("empty", 0, nil); err == nil {
		t.Error("GeneratePDF(nil) succeeded, want error")
	}
}
