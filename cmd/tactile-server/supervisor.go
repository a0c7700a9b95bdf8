package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kstaniek/go-tactile-server/internal/acquisition"
	"github.com/kstaniek/go-tactile-server/internal/hub"
	"github.com/kstaniek/go-tactile-server/internal/metrics"
)

// sleepFn allows tests to intercept backoff sleeps. It returns false when ctx
// ended first.
var sleepFn = func(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// supervisor keeps the sensor connected and forwards decoded frames to the
// hub. A lost transport is reopened with exponential backoff; the backoff
// resets once a connection delivered at least one frame.
type supervisor struct {
	sensor *acquisition.Sensor
	open   opener
	hub    *hub.Hub
	l      *slog.Logger
	min    time.Duration
	max    time.Duration
}

func (s *supervisor) run(ctx context.Context) {
	backoff := s.min
	for ctx.Err() == nil {
		tr, desc, err := s.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.IncError(metrics.ErrConnect)
			s.l.Warn("transport_open_error", "error", err, "backoff", backoff)
			if !sleepFn(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, s.max)
			continue
		}
		if err := s.sensor.Connect(ctx, tr); err != nil {
			_ = tr.Close()
			s.l.Error("sensor_connect_error", "transport", desc, "error", err)
			return
		}
		s.l.Info("transport_open", "transport", desc, "session", s.sensor.Session())
		delivered, err := s.pump(ctx)
		_ = s.sensor.Disconnect()
		if ctx.Err() != nil {
			return
		}
		metrics.IncReconnect()
		if delivered > 0 {
			backoff = s.min
		}
		s.l.Warn("transport_lost", "transport", desc, "error", err, "frames", delivered, "backoff", backoff)
		if !sleepFn(ctx, backoff) {
			return
		}
		backoff = min(backoff*2, s.max)
	}
}

// pump drains the sensor into the hub until the producer stops or ctx ends.
// It returns the number of frames forwarded and the latched transport error.
func (s *supervisor) pump(ctx context.Context) (int, error) {
	done := s.sensor.Done()
	n := 0
	for {
		drained, err := s.drain()
		n += drained
		if err != nil {
			return n, err
		}
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-s.sensor.Notify():
		case <-done:
			drained, err := s.drain()
			n += drained
			if err == nil {
				err = errors.New("acquisition stopped")
			}
			return n, err
		}
	}
}

// drain forwards every queued frame. Frames decoded before a transport error
// are still forwarded.
func (s *supervisor) drain() (int, error) {
	n := 0
	var latched error
	for {
		f, ok, err := s.sensor.Get()
		if err != nil {
			latched = err
			continue
		}
		if !ok {
			return n, latched
		}
		s.hub.Broadcast(f)
		n++
	}
}
