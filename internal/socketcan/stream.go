package socketcan

import (
	"errors"

	"github.com/kstaniek/go-tactile-server/internal/can"
)

// Dev is the frame-level device a Stream reads from.
// Implemented by *Device in production and by fakes in tests.
type Dev interface {
	ReadFrame(*can.Frame) error
	WriteFrame(can.Frame) error
	Close() error
}

// ErrTimeout is returned by Dev.ReadFrame when the receive timeout expired.
var ErrTimeout = errors.New("socketcan: read timeout")

// Filter selects which CAN ids carry sensor bytes and which id commands are
// sent with. Ids are compared without EFF/RTR/ERR flag bits.
type Filter struct {
	RxID     uint32
	TxID     uint32
	Extended bool
}

// Stream turns a sequence of CAN frames into the byte stream the tactile
// decoder consumes. Frames with other ids, RTR and error frames are ignored.
type Stream struct {
	dev     Dev
	filter  Filter
	pending []byte
	fr      can.Frame
}

// NewStream wraps dev.
func NewStream(dev Dev, f Filter) *Stream { return &Stream{dev: dev, filter: f} }

func (s *Stream) match(fr *can.Frame) bool {
	if fr.CANID&(can.CAN_RTR_FLAG|can.CAN_ERR_FLAG) != 0 {
		return false
	}
	if fr.Extended() != s.filter.Extended {
		return false
	}
	rx := can.Frame{CANID: s.filter.RxID}
	if s.filter.Extended {
		rx.CANID |= can.CAN_EFF_FLAG
	}
	return fr.ID() == rx.ID()
}

// Read returns buffered payload bytes, or reads frames until a matching one
// arrives. A receive timeout yields (0, nil).
func (s *Stream) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		if err := s.dev.ReadFrame(&s.fr); err != nil {
			if errors.Is(err, ErrTimeout) {
				return 0, nil
			}
			return 0, err
		}
		if !s.match(&s.fr) || s.fr.Len == 0 {
			continue
		}
		s.pending = append(s.pending[:0], s.fr.Payload()...)
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Write sends p as consecutive 8-byte classic frames on the tx id.
func (s *Stream) Write(p []byte) (int, error) {
	id := s.filter.TxID & can.CAN_SFF_MASK
	if s.filter.Extended {
		id = s.filter.TxID&can.CAN_EFF_MASK | can.CAN_EFF_FLAG
	}
	written := 0
	for len(p) > 0 {
		var fr can.Frame
		fr.CANID = id
		n := copy(fr.Data[:], p)
		fr.Len = uint8(n)
		if err := s.dev.WriteFrame(fr); err != nil {
			return written, err
		}
		written += n
		p = p[n:]
	}
	return written, nil
}

// Close closes the underlying device.
func (s *Stream) Close() error { return s.dev.Close() }
