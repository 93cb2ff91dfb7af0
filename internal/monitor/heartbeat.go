package monitor

import (
	"context"
	"log/slog"
	"time"
)

// DefaultHeartbeatInterval is used when StartHeartbeat gets a zero interval.
const DefaultHeartbeatInterval = time.Second

// HeartbeatRunner polls the controller periodically so a dropped transport
// is noticed and recovered while the user is idle.
type HeartbeatRunner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartHeartbeat issues one Heartbeat every interval until ctx is done or
// Stop is called. Failures are logged and do not stop the loop.
func (c *Controller) StartHeartbeat(ctx context.Context, interval time.Duration) *HeartbeatRunner {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		slog.Info("heartbeat started", "interval", interval)
		for {
			select {
			case <-ctx.Done():
				slog.Info("heartbeat stopped")
				return
			case <-ticker.C:
			}
			if err := c.Heartbeat(); err != nil {
				slog.Warn("heartbeat failed", "err", err)
			}
		}
	}()

	return &HeartbeatRunner{cancel: cancel, done: done}
}

// Stop stops the heartbeat and waits for it to exit.
func (h *HeartbeatRunner) Stop() {
	h.cancel()
	<-h.done
}
