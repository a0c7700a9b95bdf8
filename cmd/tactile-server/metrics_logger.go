package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-tactile-server/internal/metrics"
)

// startMetricsLogger periodically logs the local counter snapshot, for
// setups without a Prometheus scraper. It is a no-op when interval <= 0.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				logSnapshot(l, metrics.Snap())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logSnapshot(l *slog.Logger, snap metrics.Snapshot) {
	l.Info("metrics_snapshot",
		slog.Group("decoder",
			"rx_bytes", snap.RxBytes,
			"packages", snap.Packages,
			"frames", snap.Frames,
			"malformed", snap.Malformed,
			"gaps", snap.Gaps,
			"skipped", snap.Skipped,
		),
		slog.Group("queue",
			"depth", snap.QueueDepth,
			"drops", snap.QueueDrops,
		),
		slog.Group("tcp",
			"clients", snap.HubClients,
			"tx", snap.TCPTx,
			"rx", snap.TCPRx,
			"hub_drops", snap.HubDrops,
			"hub_kicks", snap.HubKicks,
		),
		"commands_tx", snap.CommandsTx,
		"reconnects", snap.Reconnects,
		"errors", snap.Errors,
	)
}
