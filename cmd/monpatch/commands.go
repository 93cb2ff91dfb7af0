package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/mzyy94/monpatch/internal/ddc"
	"github.com/mzyy94/monpatch/internal/report"
)

type listCmd struct{}

func (c *listCmd) Run(a *app) error {
	devs, err := ddc.Enumerate(a.settings.VendorID, a.settings.ProductID)
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		fmt.Printf("no devices with ID %04x:%04x\n", a.settings.VendorID, a.settings.ProductID)
		return nil
	}
	for _, d := range devs {
		fmt.Printf("%s: ID %04x:%04x %s %s\n", d.Path, d.VendorID, d.ProductID, d.Manufacturer, d.Product)
		fmt.Printf("\tSerial       %s\n", d.Serial)
		fmt.Printf("\tInterface    %d\n", d.Interface)
	}
	return nil
}

type infoCmd struct{}

func (c *infoCmd) Run(a *app) error {
	ctrl, err := a.open()
	if err != nil {
		return err
	}
	id, err := ctrl.Identify()
	if err != nil {
		return err
	}
	st := ctrl.Status()
	fmt.Printf("Model        %s\n", id.Model)
	fmt.Printf("Firmware     % x\n", id.Firmware)
	fmt.Printf("Supported    %t\n", id.Model == a.profile.Model && string(id.Firmware) == string(a.profile.Firmware))
	fmt.Printf("Generation   %s\n", st.Generation)
	fmt.Printf("Session      %s\n", st.Session)
	return nil
}

type patchCmd struct {
	NoReset bool `help:"Deploy over the running firmware without resetting the monitor first."`
}

func (c *patchCmd) Run(a *app) error {
	if c.NoReset {
		ctrl, err := a.patched()
		if err != nil {
			return err
		}
		fmt.Printf("patched (%s memory access)\n", ctrl.Status().MemoryMode)
		return nil
	}
	ctrl, err := a.open()
	if err != nil {
		return err
	}
	if err := ctrl.Start(a.ctx); err != nil {
		return err
	}
	fmt.Printf("patched (%s memory access)\n", ctrl.Status().MemoryMode)
	return nil
}

type splitCmd struct {
	Get splitGetCmd `cmd:"" help:"Print the current layout."`
	Set splitSetCmd `cmd:"" help:"Select a layout (0 none, 1 left/right, 2 top/bottom, 14 keep audio)."`
}

type splitGetCmd struct{}

func (c *splitGetCmd) Run(a *app) error {
	ctrl, err := a.controller()
	if err != nil {
		return err
	}
	mode, err := ctrl.GetSplitMode()
	if err != nil {
		return err
	}
	fmt.Println(mode)
	return nil
}

type splitSetCmd struct {
	Mode int `arg:"" help:"Layout 0-14."`
}

func (c *splitSetCmd) Run(a *app) error {
	ctrl, err := a.controller()
	if err != nil {
		return err
	}
	if err := ctrl.SetSplitMode(c.Mode); err != nil {
		return err
	}
	return a.store.RememberSplit(c.Mode)
}

type swapAudioCmd struct{}

func (c *swapAudioCmd) Run(a *app) error {
	ctrl, err := a.patched()
	if err != nil {
		return err
	}
	src, err := ctrl.SwapAudioSource()
	if err != nil {
		return err
	}
	fmt.Printf("audio source %d\n", src)
	return nil
}

type swapInputCmd struct{}

func (c *swapInputCmd) Run(a *app) error {
	ctrl, err := a.patched()
	if err != nil {
		return err
	}
	return ctrl.SwapPrimarySecondaryInput()
}

type inputCmd struct {
	Index byte `arg:"" help:"Input index: 0 HDMI1, 1 HDMI2, 2 DisplayPort, 3 USB-C." type:"num"`
}

func (c *inputCmd) Run(a *app) error {
	ctrl, err := a.controller()
	if err != nil {
		return err
	}
	return ctrl.SetPrimaryInput(c.Index)
}

type resetCmd struct{}

func (c *resetCmd) Run(a *app) error {
	ctrl, err := a.controller()
	if err != nil {
		return err
	}
	return ctrl.Reset()
}

type dumpCmd struct {
	Address uint32 `arg:"" help:"Start address (hex)." type:"hex"`
	Length  int    `arg:"" help:"Number of bytes." type:"num"`
	Format  string `help:"Output format." enum:"hex,bin,pdf" default:"hex" short:"f"`
	Output  string `help:"Output file. Standard output when empty." short:"o" type:"path"`
	Compare string `help:"Binary dump of the same region to compare against." type:"existingfile"`
}

func (c *dumpCmd) Run(a *app) error {
	if c.Format == "pdf" && c.Output == "" {
		return fmt.Errorf("pdf output needs --output")
	}
	ctrl, err := a.patched()
	if err != nil {
		return err
	}

	progress := func(int) {}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar := progressbar.NewOptions(c.Length,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("Reading"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		)
		progress = func(done int) { bar.Set(done) }
	}
	data, err := ctrl.DumpMemory(a.ctx, c.Address, c.Length, progress)
	if err != nil {
		return err
	}

	if c.Compare != "" {
		old, err := os.ReadFile(c.Compare)
		if err != nil {
			return err
		}
		for _, ch := range report.Diff(old, data) {
			fmt.Fprintf(os.Stderr, "0x%08x: % x -> % x\n", c.Address+uint32(ch.Offset), ch.Old, ch.New)
		}
	}

	title := fmt.Sprintf("%s memory 0x%08x", a.profile.Model, c.Address)
	switch c.Format {
	case "pdf":
		return report.WritePDF(c.Output, title, c.Address, data)
	case "bin":
		if c.Output == "" {
			_, err := os.Stdout.Write(data)
			return err
		}
		return os.WriteFile(c.Output, data, 0644)
	}
	if c.Output == "" {
		return report.HexDump(os.Stdout, c.Address, data)
	}
	f, err := os.Create(c.Output)
	if err != nil {
		return err
	}
	defer f.Close()
	return report.HexDump(f, c.Address, data)
}
