package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-tactile-server/internal/acquisition"
	"github.com/kstaniek/go-tactile-server/internal/metrics"
	"github.com/kstaniek/go-tactile-server/internal/server"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("tactile-server %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l, logCloser := setupLogger(cfg)
	defer func() { _ = logCloser.Close() }()
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	shape, err := loadShape(cfg)
	if err != nil {
		l.Error("shape_error", "error", err)
		return
	}
	sensor, err := acquisition.NewSensor(shape,
		acquisition.WithQueueCapacity(cfg.queueCap),
		acquisition.WithReadSize(cfg.readSize),
		acquisition.WithTxQueue(cfg.txQueue),
		acquisition.WithLogger(l),
	)
	if err != nil {
		l.Error("sensor_init_error", "error", err)
		return
	}
	open, err := newOpener(cfg, shape)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return
	}
	h := initHub(cfg, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	sup := &supervisor{sensor: sensor, open: open, hub: h, l: l, min: cfg.reconnectMin, max: cfg.reconnectMax}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sup.run(ctx)
	}()

	srv := server.NewServer(
		server.WithHub(h),
		server.WithSend(sensor.Send),
		server.WithReadOnly(cfg.readOnly),
		server.WithLogger(l),
		server.WithMaxClients(cfg.maxClients),
		server.WithHandshakeTimeout(cfg.handshakeTO),
		server.WithReadDeadline(cfg.clientReadTO),
	)
	srv.SetListenAddr(cfg.listenAddr)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	// Start mDNS advertisement once the listener is bound.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		port := listenPort(srv.Addr())
		cleanupMDNS, err := startMDNS(ctx, cfg, shape, port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg), "port", port)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	// Ready when the listener is bound and a sensor transport is attached.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil && sensor.Connected()
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	cancel()
	if err := stopServer(srv, shutdownTimeout); err != nil {
		l.Warn("tcp_shutdown_error", "error", err)
	}
	wg.Wait()
}

// shutdownTimeout bounds how long client goroutines get to drain on exit.
const shutdownTimeout = 2 * time.Second

// stopServer closes the listener and all clients and waits for their IO
// goroutines, logging the connection summary.
func stopServer(srv *server.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// listenPort extracts the port from a bound host:port address, 0 if unknown.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}
