// Package usbcdc opens tactile sensors that enumerate as USB CDC-ACM
// devices, either by device path or by USB vendor/product id.
package usbcdc

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/kstaniek/go-tactile-server/internal/transport"
)

// DefaultReadTimeout bounds each Read; go.bug.st/serial returns (0, nil)
// when it expires, which is the idle read of the Transport contract.
const DefaultReadTimeout = 50 * time.Millisecond

// ErrNotFound is returned when no attached device matches the selector.
var ErrNotFound = errors.New("usbcdc: no matching device")

// Config selects and configures the device. Path wins over VID/PID.
type Config struct {
	Path        string
	VID         string // hex, e.g. "0483"
	PID         string
	Serial      string // optional USB serial number filter
	Baud        int
	ReadTimeout time.Duration
}

// Port is the subset of serial.Port used here.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Test hooks.
var (
	openPort  = func(path string, mode *serial.Mode) (Port, error) { return serial.Open(path, mode) }
	listPorts = enumerator.GetDetailedPortsList
)

// Open resolves the device and returns it as a Transport. Stale input left in
// the driver buffer is discarded so decoding starts on fresh bytes.
func Open(cfg Config) (transport.Transport, string, error) {
	path := cfg.Path
	if path == "" {
		var err error
		if path, err = Find(cfg.VID, cfg.PID, cfg.Serial); err != nil {
			return nil, "", err
		}
	}
	if cfg.Baud <= 0 {
		cfg.Baud = 115200
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	p, err := openPort(path, &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, "", fmt.Errorf("usbcdc open %s: %w", path, err)
	}
	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = p.Close()
		return nil, "", fmt.Errorf("usbcdc set timeout %s: %w", path, err)
	}
	_ = p.ResetInputBuffer()
	return p, path, nil
}

// Find returns the device path of the first USB port matching vid/pid (and
// serial number when non-empty). Comparison is case-insensitive.
func Find(vid, pid, serialNo string) (string, error) {
	if vid == "" || pid == "" {
		return "", fmt.Errorf("%w: vid and pid required", ErrNotFound)
	}
	ports, err := listPorts()
	if err != nil {
		return "", fmt.Errorf("usbcdc enumerate: %w", err)
	}
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		if !strings.EqualFold(p.VID, vid) || !strings.EqualFold(p.PID, pid) {
			continue
		}
		if serialNo != "" && p.SerialNumber != serialNo {
			continue
		}
		return p.Name, nil
	}
	return "", fmt.Errorf("%w: %s:%s", ErrNotFound, vid, pid)
}
