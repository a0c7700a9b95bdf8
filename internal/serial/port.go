package serial

import (
	"errors"
	"fmt"
	"time"

	"github.com/tarm/serial"

	"github.com/kstaniek/go-tactile-server/internal/transport"
)

// DefaultReadTimeout bounds each Read so the acquisition loop can observe
// cancellation between reads.
const DefaultReadTimeout = 50 * time.Millisecond

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Config selects the UART a sensor is attached to.
type Config struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration
}

var errNoDevice = errors.New("serial: device name required")

// openPort is swapped in tests.
var openPort = func(c *serial.Config) (Port, error) { return serial.OpenPort(c) }

// Open opens the UART and returns it as a Transport. tarm/serial reports an
// expired read timeout as io.EOF; it is mapped to an idle read.
func Open(cfg Config) (transport.Transport, error) {
	if cfg.Name == "" {
		return nil, errNoDevice
	}
	if cfg.Baud <= 0 {
		return nil, fmt.Errorf("serial: invalid baud %d", cfg.Baud)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	p, err := openPort(&serial.Config{Name: cfg.Name, Baud: cfg.Baud, ReadTimeout: cfg.ReadTimeout})
	if err != nil {
		return nil, fmt.Errorf("serial open %s: %w", cfg.Name, err)
	}
	return transport.IdleOnEOF(p), nil
}
