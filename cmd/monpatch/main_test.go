package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"

	"github.com/mzyy94/monpatch/internal/patch"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNumMapper(t *testing.T) {
	var args struct {
		Addr uint32 `arg:"" type:"hex"`
		Len  int    `arg:"" type:"num"`
		VID  uint16 `type:"hex"`
	}
	parser, err := kong.New(&args,
		kong.NamedMapper("num", numMapper{}),
		kong.NamedMapper("hex", numMapper{base: 16}),
	)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := parser.Parse([]string{"5d5928", "0x40", "--vid", "043e"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if args.Addr != 0x5d5928 || args.Len != 0x40 || args.VID != 0x043e {
		t.Errorf("parsed %#x %#x %#x, want 0x5d5928 0x40 0x43e", args.Addr, args.Len, args.VID)
	}

	if _, err := parser.Parse([]string{"0", "64"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if args.Len != 64 {
		t.Errorf("Len = %d, want 64", args.Len)
	}

	for _, bad := range [][]string{
		{"zz", "1"},
		{"0", "1", "--vid", "10000"},
	} {
		if _, err := parser.Parse(bad); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", bad)
		}
	}
}

func TestNewApp(t *testing.T) {
	dir := t.TempDir()
	g := &Globals{DataDir: dir, Generation: "bridge", Simulate: true}
	a, err := newApp(context.Background(), g)
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	if a.settings.Generation != "bridge" {
		t.Errorf("Generation = %q, want bridge", a.settings.Generation)
	}
	if a.profile.AtomicRead == nil {
		t.Error("simulated app has no atomic patches")
	}

	ctrl, err := a.patched()
	if err != nil {
		t.Fatalf("patched failed: %v", err)
	}
	if st := ctrl.Status(); !st.Deployed || st.Generation != "bridge" {
		t.Errorf("status = %+v, want deployed over bridge", st)
	}
	a.close()

	if _, err := newApp(context.Background(), &Globals{Generation: "usb4"}); err == nil {
		t.Error("newApp accepted an unknown generation")
	}
	if _, err := newApp(context.Background(), &Globals{Profile: filepath.Join(dir, "missing.json")}); err == nil {
		t.Error("newApp accepted a missing profile")
	}
}

func TestDumpCmd(t *testing.T) {
	a, err := newApp(context.Background(), &Globals{Simulate: true})
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()

	out := filepath.Join(t.TempDir(), "info.bin")
	cmd := &dumpCmd{Address: a.profile.SoundAddr(), Length: 32, Format: "bin", Output: out}
	if err := cmd.Run(a); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 32 {
		t.Errorf("dump length = %d, want 32", len(data))
	}

	if err := (&dumpCmd{Length: 1, Format: "pdf"}).Run(a); err == nil {
		t.Error("pdf dump without output succeeded")
	}
}

func TestPatched_ResetsOnFailure(t *testing.T) {
	a, err := newApp(context.Background(), &Globals{Simulate: true})
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()
	a.settings.DrainTimeoutMs = 0
	a.settings.ChunkDelayMs = 0
	a.settings.RetryDelayMs = 0
	a.profile.VerifyExpected = 0xdeadbeef

	ctrl, err := a.open()
	if err != nil {
		t.Fatal(err)
	}
	ctrl.Engine().Attempts = 2

	_, err = a.patched()
	var verr *patch.VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want VerificationError", err)
	}
	if got := a.sim.Stats().Resets; got != 1 {
		t.Errorf("Resets = %d, want 1", got)
	}
	if ctrl.Status().Deployed {
		t.Error("Deployed = true after failed deployment")
	}
}

func TestLogMiddleware(t *testing.T) {
	h := logMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}
