//go:build linux

package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-tactile-server/internal/can"
)

// Device is a raw AF_CAN socket bound to one interface.
type Device struct {
	fd int
}

// Open binds a raw CAN socket on iface. Reads return ErrTimeout after
// readTimeout without traffic; zero blocks indefinitely.
func Open(iface string, readTimeout time.Duration) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	if readTimeout > 0 {
		tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("SO_RCVTIMEO: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one classic CAN frame from the raw CAN socket.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [unix.CAN_MTU]byte // classic CAN MTU = 16 bytes
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return ErrTimeout
		}
		return err
	}
	if n != unix.CAN_MTU {
		return fmt.Errorf("short read: %d", n)
	}

	// struct can_frame (linux/can.h):
	//   can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
	//   can_dlc u8    [4]
	//   pad     3B    [5:8]
	//   data    [8]   [8:16]
	//
	// The kernel fills fields in host byte order (little-endian on the
	// supported targets).
	id := binary.LittleEndian.Uint32(buf[0:4])
	dlc := min(int(buf[4]), can.MaxLen)

	fr.CANID = id
	fr.Len = uint8(dlc)
	copy(fr.Data[:], buf[8:8+dlc])
	return nil
}

// WriteFrame writes one classic CAN frame to the raw CAN socket.
func (d *Device) WriteFrame(fr can.Frame) error {
	var buf [unix.CAN_MTU]byte
	binary.LittleEndian.PutUint32(buf[0:4], fr.CANID)
	buf[4] = fr.Len
	copy(buf[8:], fr.Payload())
	_, err := unix.Write(d.fd, buf[:])
	return err
}
