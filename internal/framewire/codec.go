// Package framewire is the TCP encoding of the frame service: finished
// tactile frames flow to clients, control commands flow back.
//
// Every message is [type u8][length u32 BE][body]. A frame body is
//
//	frame_id u8 | seq u64 | ts_unix_nano i64 | rows u16 | cols u16 | bpp u8 | planes
//
// with bpp planes of rows*cols bytes each. A command body is the raw command.
package framewire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kstaniek/go-tactile-server/internal/metrics"
	"github.com/kstaniek/go-tactile-server/internal/tactile"
)

// Message types.
const (
	TypeFrame   byte = 0x01
	TypeCommand byte = 0x02
)

const (
	headerLen    = 5
	frameMetaLen = 1 + 8 + 8 + 2 + 2 + 1
	// MaxCommandLen bounds a single control command.
	MaxCommandLen = 1024
	// MaxBodyLen bounds any message body (two planes of 256 rows x 32768 cols).
	MaxBodyLen = frameMetaLen + 2*tactile.MaxRows*32768
)

var (
	// ErrInvalidLength is returned for a body length that does not fit its type.
	ErrInvalidLength = errors.New("framewire: invalid length")
	// ErrTruncated is returned when the reader ends mid-message.
	ErrTruncated = errors.New("framewire: truncated message")
	// ErrUnknownType is returned for an unrecognized message type.
	ErrUnknownType = errors.New("framewire: unknown message type")
)

// Message is one decoded message; only the field matching Type is set.
type Message struct {
	Type    byte
	Frame   tactile.Frame
	Command []byte
}

// Codec encodes/decodes frame service messages. Stateless and safe for
// concurrent use. MaxBody caps accepted body sizes (zero means MaxBodyLen);
// the server sets it to MaxCommandLen so clients cannot force large reads.
type Codec struct {
	MaxBody int
}

func (c Codec) maxBody() uint32 {
	if c.MaxBody > 0 && c.MaxBody < MaxBodyLen {
		return uint32(c.MaxBody)
	}
	return MaxBodyLen
}

// FrameLen returns the encoded size of f including the message header.
func FrameLen(f tactile.Frame) int {
	n := headerLen + frameMetaLen
	for _, p := range f.Planes {
		n += len(p)
	}
	return n
}

// AppendFrame appends the frame message for f to dst.
func (Codec) AppendFrame(dst []byte, f tactile.Frame) []byte {
	body := FrameLen(f) - headerLen
	dst = append(dst, TypeFrame)
	dst = binary.BigEndian.AppendUint32(dst, uint32(body))
	dst = append(dst, f.FrameID)
	dst = binary.BigEndian.AppendUint64(dst, f.Seq)
	var ts int64
	if !f.Timestamp.IsZero() {
		ts = f.Timestamp.UnixNano()
	}
	dst = binary.BigEndian.AppendUint64(dst, uint64(ts))
	dst = binary.BigEndian.AppendUint16(dst, uint16(f.Rows))
	dst = binary.BigEndian.AppendUint16(dst, uint16(f.Cols))
	dst = append(dst, byte(len(f.Planes)))
	for _, p := range f.Planes {
		dst = append(dst, p...)
	}
	return dst
}

// AppendCommand appends a command message to dst.
func (Codec) AppendCommand(dst, cmd []byte) ([]byte, error) {
	if len(cmd) == 0 || len(cmd) > MaxCommandLen {
		return dst, fmt.Errorf("%w: command %d bytes", ErrInvalidLength, len(cmd))
	}
	dst = append(dst, TypeCommand)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(cmd)))
	return append(dst, cmd...), nil
}

// EncodeTo writes frames to w as consecutive frame messages and returns the
// number of bytes written.
func (c Codec) EncodeTo(w io.Writer, frames []tactile.Frame) (int, error) {
	size := 0
	for _, f := range frames {
		size += FrameLen(f)
	}
	buf := make([]byte, 0, size)
	for _, f := range frames {
		buf = c.AppendFrame(buf, f)
	}
	n, err := w.Write(buf)
	if err != nil {
		return n, fmt.Errorf("framewire encode: %w", err)
	}
	return n, nil
}

// Decode reads exactly one message from r. It returns io.EOF only at a clean
// message boundary.
func (c Codec) Decode(r io.Reader) (Message, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return Message{}, fmt.Errorf("framewire header: %w", ErrTruncated)
		}
		return Message{}, err
	}
	typ := hdr[0]
	n := binary.BigEndian.Uint32(hdr[1:])
	switch typ {
	case TypeCommand:
		if n == 0 || n > MaxCommandLen {
			metrics.IncMalformed()
			return Message{}, fmt.Errorf("%w: command %d bytes", ErrInvalidLength, n)
		}
	case TypeFrame:
		if n < frameMetaLen {
			metrics.IncMalformed()
			return Message{}, fmt.Errorf("%w: frame %d bytes", ErrInvalidLength, n)
		}
	default:
		metrics.IncMalformed()
		return Message{}, fmt.Errorf("%w: 0x%02X", ErrUnknownType, typ)
	}
	if n > c.maxBody() {
		metrics.IncMalformed()
		return Message{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidLength, n, c.maxBody())
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			metrics.IncMalformed()
			return Message{}, fmt.Errorf("framewire body: %w", ErrTruncated)
		}
		return Message{}, fmt.Errorf("framewire body: %w", err)
	}
	if typ == TypeCommand {
		return Message{Type: typ, Command: body}, nil
	}
	f, err := decodeFrame(body)
	if err != nil {
		metrics.IncMalformed()
		return Message{}, err
	}
	return Message{Type: typ, Frame: f}, nil
}

func decodeFrame(b []byte) (tactile.Frame, error) {
	var f tactile.Frame
	f.FrameID = b[0]
	f.Seq = binary.BigEndian.Uint64(b[1:9])
	if ts := int64(binary.BigEndian.Uint64(b[9:17])); ts != 0 {
		f.Timestamp = time.Unix(0, ts)
	}
	f.Rows = int(binary.BigEndian.Uint16(b[17:19]))
	f.Cols = int(binary.BigEndian.Uint16(b[19:21]))
	bpp := int(b[21])
	plane := f.Rows * f.Cols
	if bpp < 1 || bpp > 2 || plane == 0 || len(b)-frameMetaLen != bpp*plane {
		return tactile.Frame{}, fmt.Errorf("%w: %dx%d bpp %d in %d bytes", ErrInvalidLength, f.Rows, f.Cols, bpp, len(b))
	}
	data := b[frameMetaLen:]
	f.Planes = make([][]byte, bpp)
	for i := range f.Planes {
		f.Planes[i] = data[i*plane : (i+1)*plane : (i+1)*plane]
	}
	return f, nil
}

// DecodeN decodes up to max messages (if max>0) or until error (if max<=0)
// invoking fn for each. It returns the number decoded and the terminal error.
func (c Codec) DecodeN(r io.Reader, max int, fn func(Message)) (int, error) {
	var n int
	for max <= 0 || n < max {
		m, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		fn(m)
		n++
	}
	return n, nil
}
