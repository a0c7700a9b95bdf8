package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/kstaniek/go-tactile-server/internal/tactile"
)

const mdnsServiceType = "_tactile._tcp"

// mdnsRegister is a hook for tests.
var mdnsRegister = zeroconf.Register

// startMDNS registers the frame service via mDNS and returns a cleanup
// function. It is safe to call even if disabled (no-op).
func startMDNS(ctx context.Context, cfg *appConfig, shape tactile.Shape, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	instance := mdnsInstance(cfg)
	meta := []string{
		"backend=" + cfg.backend,
		"rows=" + strconv.Itoa(shape.Rows),
		"cols=" + strconv.Itoa(shape.Cols),
		"bpp=" + strconv.Itoa(shape.BytesPerPoint),
		"version=" + version,
		"commit=" + commit,
	}
	svc, err := mdnsRegister(instance, mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}

func mdnsInstance(cfg *appConfig) string {
	if cfg.mdnsName != "" {
		return cfg.mdnsName
	}
	host, _ := os.Hostname()
	return fmt.Sprintf("tactile-server-%s", host)
}
