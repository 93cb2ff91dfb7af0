package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
	"golang.org/x/sync/errgroup"

	"github.com/mzyy94/monpatch/internal/monitor"
	"github.com/mzyy94/monpatch/internal/webui"
)

type serveCmd struct {
	Port    int    `help:"HTTP listen port. Stored settings apply when zero." env:"MONPATCH_LISTEN_PORT"`
	Name    string `help:"mDNS instance name. Defaults to the host name." env:"MONPATCH_NAME"`
	NoMDNS  bool   `name:"no-mdns" help:"Do not advertise the API over mDNS."`
	NoReset bool   `help:"Deploy over the running firmware without resetting the monitor first."`
}

func (c *serveCmd) Run(a *app) error {
	port := c.Port
	if port == 0 {
		port = a.settings.ListenPort
	}

	var ctrl *monitor.Controller
	var err error
	if c.NoReset {
		ctrl, err = a.patched()
	} else if ctrl, err = a.open(); err == nil {
		err = ctrl.Start(a.ctx)
	}
	if err != nil {
		return err
	}
	slog.Info("patches deployed", "memory", ctrl.Status().MemoryMode)

	if last := a.settings.LastSplit; last != nil {
		if err := ctrl.SetSplitMode(*last); err != nil {
			slog.Warn("restoring split failed", "mode", *last, "err", err)
		} else {
			slog.Info("split restored", "mode", *last)
		}
	}

	hb := ctrl.StartHeartbeat(a.ctx, time.Duration(a.settings.HeartbeatSec)*time.Second)
	defer hb.Stop()

	if !c.NoMDNS {
		name := c.Name
		if name == "" {
			name, _ = os.Hostname()
		}
		mdnsServer, err := zeroconf.Register(name, "_monpatch._tcp", "local.", port,
			[]string{"txtvers=1", "model=" + a.profile.Model, "path=/api"}, nil)
		if err != nil {
			return fmt.Errorf("mDNS registration: %w", err)
		}
		defer mdnsServer.Shutdown()
		slog.Info("mDNS registered", "name", name, "service", "_monpatch._tcp")
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: logMiddleware(webui.NewHandler(ctrl, a.store)),
	}

	g, ctx := errgroup.WithContext(a.ctx)
	g.Go(func() error {
		slog.Info("control API starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("shutdown complete")
	return err
}

// responseRecorder captures the status code for logging.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		slog.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}
