package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/sstallion/go-hid"
)

// Globals are the flags every command shares. Unset device flags fall back to
// the stored settings.
type Globals struct {
	LogLevel   string `help:"Log level (debug, info, warn, error)." default:"info" env:"MONPATCH_LOG_LEVEL"`
	DataDir    string `help:"Directory holding settings.json. Settings are not persisted when empty." type:"path" env:"MONPATCH_DATA_DIR"`
	VID        uint16 `help:"USB vendor ID of the monitor hub." type:"hex" env:"MONPATCH_VID"`
	PID        uint16 `help:"USB product ID of the monitor hub." type:"hex" env:"MONPATCH_PID"`
	Device     string `help:"HID device path, overrides VID/PID lookup." env:"MONPATCH_DEVICE"`
	Generation string `help:"Bridge framing: legacy or bridge." env:"MONPATCH_GENERATION"`
	Profile    string `help:"Firmware profile JSON. The built-in 28MQ780 profile is used when empty." type:"existingfile" env:"MONPATCH_PROFILE"`
	Simulate   bool   `help:"Talk to an in-process simulated monitor instead of USB." env:"MONPATCH_SIMULATE"`
}

var cli struct {
	Globals

	List      listCmd      `cmd:"" help:"List matching HID devices."`
	Info      infoCmd      `cmd:"" help:"Show the monitor identity and session state."`
	Patch     patchCmd     `cmd:"" help:"Reset the monitor and deploy the firmware patches."`
	Split     splitCmd     `cmd:"" help:"Read or change the split-screen layout."`
	SwapAudio swapAudioCmd `cmd:"" name:"swap-audio" help:"Move audio output to the other pane."`
	SwapInput swapInputCmd `cmd:"" name:"swap-input" help:"Swap the primary and secondary inputs."`
	Input     inputCmd     `cmd:"" help:"Switch the primary pane to an input."`
	Reset     resetCmd     `cmd:"" help:"Reset the monitor. RAM patches are lost."`
	Dump      dumpCmd      `cmd:"" help:"Read controller memory."`
	Serve     serveCmd     `cmd:"" help:"Run the HTTP control API."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("monpatch"),
		kong.Description("Patch and control LG DualUp monitors over DDC/CI."),
		kong.UsageOnError(),
		kong.NamedMapper("num", numMapper{}),
		kong.NamedMapper("hex", numMapper{base: 16}),
	)

	logLevel := parseLogLevel(cli.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !cli.Simulate {
		if err := hid.Init(); err != nil {
			kctx.FatalIfErrorf(err)
		}
		defer hid.Exit()
	}

	a, err := newApp(ctx, &cli.Globals)
	kctx.FatalIfErrorf(err)
	defer a.close()

	err = kctx.Run(a)
	kctx.FatalIfErrorf(err)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
