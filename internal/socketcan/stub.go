//go:build !linux

package socketcan

import (
	"errors"
	"time"

	"github.com/kstaniek/go-tactile-server/internal/can"
)

var errUnsupported = errors.New("socketcan: only supported on linux")

type Device struct{}

func Open(string, time.Duration) (*Device, error) { return nil, errUnsupported }

func (*Device) Close() error               { return errUnsupported }
func (*Device) ReadFrame(*can.Frame) error { return errUnsupported }
func (*Device) WriteFrame(can.Frame) error { return errUnsupported }
