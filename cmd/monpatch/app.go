package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mzyy94/monpatch/internal/config"
	"github.com/mzyy94/monpatch/internal/ddc"
	"github.com/mzyy94/monpatch/internal/monitor"
	"github.com/mzyy94/monpatch/internal/simdev"
)

// app carries what commands share: resolved settings, the profile and, once
// a command asks for it, the controller.
type app struct {
	ctx      context.Context
	store    *config.Store
	settings config.Settings
	profile  *config.Profile
	simulate bool

	sess  *ddc.Session
	sim   *simdev.Device
	ctrl  *monitor.Controller
	gated bool
}

func newApp(ctx context.Context, g *Globals) (*app, error) {
	store := config.NewMemoryStore()
	if g.DataDir != "" {
		var err error
		if store, err = config.NewStore(g.DataDir); err != nil {
			return nil, fmt.Errorf("settings: %w", err)
		}
	}

	s := store.Get()
	if g.VID != 0 {
		s.VendorID = g.VID
	}
	if g.PID != 0 {
		s.ProductID = g.PID
	}
	if g.Device != "" {
		s.DevicePath = g.Device
	}
	if g.Generation != "" {
		s.Generation = g.Generation
	}
	if g.Profile != "" {
		s.ProfilePath = g.Profile
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}

	var profile *config.Profile
	switch {
	case s.ProfilePath != "":
		p, err := config.LoadProfile(s.ProfilePath)
		if err != nil {
			return nil, fmt.Errorf("profile: %w", err)
		}
		profile = p
	case g.Simulate:
		profile = simdev.AtomicProfile()
	default:
		profile = config.DefaultProfile()
	}

	return &app{
		ctx:      ctx,
		store:    store,
		settings: s,
		profile:  profile,
		simulate: g.Simulate,
	}, nil
}

// open returns the controller without checking what it is connected to.
func (a *app) open() (*monitor.Controller, error) {
	if a.ctrl != nil {
		return a.ctrl, nil
	}

	var open ddc.Opener
	if a.simulate {
		a.sim = simdev.ForProfile(a.profile)
		open = a.sim.Opener()
		slog.Info("using simulated monitor", "model", a.profile.Model)
	} else {
		open = ddc.HIDOpener(a.settings.VendorID, a.settings.ProductID, a.settings.DevicePath)
	}

	slog.Debug("opening device", "vid", fmt.Sprintf("%04x", a.settings.VendorID), "pid", fmt.Sprintf("%04x", a.settings.ProductID), "path", a.settings.DevicePath)
	sess, err := ddc.NewSession(open, a.settings.Timing())
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	gen, _ := ddc.ParseGeneration(a.settings.Generation)

	a.sess = sess
	a.ctrl = monitor.New(sess, gen, a.profile)
	return a.ctrl, nil
}

// controller returns a controller that passed the identity gate.
func (a *app) controller() (*monitor.Controller, error) {
	ctrl, err := a.open()
	if err != nil {
		return nil, err
	}
	if !a.gated {
		if _, err := ctrl.CheckIdentity(); err != nil {
			return nil, err
		}
		a.gated = true
	}
	return ctrl, nil
}

// patched returns a controller whose patches are in place. Deployment is
// idempotent, so commands run it every time. A failed deployment leaves the
// monitor reset.
func (a *app) patched() (*monitor.Controller, error) {
	ctrl, err := a.controller()
	if err != nil {
		return nil, err
	}
	if err := ctrl.Deploy(a.ctx); err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	return ctrl, nil
}

func (a *app) close() {
	if a.sess != nil {
		a.sess.Close()
	}
}
