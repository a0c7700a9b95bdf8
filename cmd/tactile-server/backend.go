package main

import (
	"context"
	"fmt"

	"github.com/kstaniek/go-tactile-server/internal/serial"
	"github.com/kstaniek/go-tactile-server/internal/tactile"
	"github.com/kstaniek/go-tactile-server/internal/transport"
	"github.com/kstaniek/go-tactile-server/internal/usbcdc"
)

// opener opens the configured sensor transport and describes it for logs.
// The supervisor calls it again after every connection loss.
type opener func(ctx context.Context) (transport.Transport, string, error)

// Hooks for tests (overridden in unit tests).
var (
	openSerialPort = serial.Open
	openUSBPort    = usbcdc.Open
)

// newOpener selects the backend. It returns an error instead of exiting the
// process to allow graceful handling by the caller.
func newOpener(cfg *appConfig, shape tactile.Shape) (opener, error) {
	switch cfg.backend {
	case "serial":
		return func(context.Context) (transport.Transport, string, error) {
			tr, err := openSerialPort(serial.Config{Name: cfg.serialDev, Baud: cfg.baud, ReadTimeout: cfg.serialReadTO})
			if err != nil {
				return nil, "", err
			}
			return tr, "serial:" + cfg.serialDev, nil
		}, nil
	case "usb":
		return func(context.Context) (transport.Transport, string, error) {
			tr, path, err := openUSBPort(usbcdc.Config{
				Path:        cfg.usbPath,
				VID:         cfg.usbVID,
				PID:         cfg.usbPID,
				Serial:      cfg.usbSerial,
				Baud:        cfg.baud,
				ReadTimeout: cfg.serialReadTO,
			})
			if err != nil {
				return nil, "", err
			}
			return tr, "usb:" + path, nil
		}, nil
	case "socketcan":
		return socketCANOpener(cfg), nil
	case "sim":
		interval, err := simInterval(cfg.simRate)
		if err != nil {
			return nil, err
		}
		return func(context.Context) (transport.Transport, string, error) {
			tr, err := newSimTransport(shape, interval)
			if err != nil {
				return nil, "", err
			}
			return tr, "sim", nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (use serial|usb|socketcan|sim)", cfg.backend)
	}
}
