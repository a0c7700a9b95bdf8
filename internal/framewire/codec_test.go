package framewire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/kstaniek/go-tactile-server/internal/tactile"
)

func mkFrame(id uint8, rows, cols, bpp int) tactile.Frame {
	f := tactile.Frame{
		FrameID:   id,
		Seq:       uint64(id) * 10,
		Timestamp: time.Unix(1700000000, int64(id)*1000),
		Rows:      rows,
		Cols:      cols,
		Planes:    make([][]byte, bpp),
	}
	for b := range f.Planes {
		f.Planes[b] = make([]byte, rows*cols)
		for i := range f.Planes[b] {
			f.Planes[b][i] = byte(i*3 + b + int(id))
		}
	}
	return f
}

func equalFrames(t *testing.T, got, want tactile.Frame) {
	t.Helper()
	if got.FrameID != want.FrameID || got.Seq != want.Seq || got.Rows != want.Rows || got.Cols != want.Cols {
		t.Fatalf("meta mismatch: got %+v want %+v", got, want)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Fatalf("timestamp %v want %v", got.Timestamp, want.Timestamp)
	}
	if len(got.Planes) != len(want.Planes) {
		t.Fatalf("planes %d want %d", len(got.Planes), len(want.Planes))
	}
	for i := range got.Planes {
		if !bytes.Equal(got.Planes[i], want.Planes[i]) {
			t.Fatalf("plane %d differs", i)
		}
	}
}

func TestEncodeDecodeFrames(t *testing.T) {
	c := Codec{}
	in := []tactile.Frame{mkFrame(1, 4, 5, 1), mkFrame(2, 16, 16, 2), mkFrame(255, 1, 1, 2)}
	var buf bytes.Buffer
	n, err := c.EncodeTo(&buf, in)
	if err != nil {
		t.Fatal(err)
	}
	if n != buf.Len() || n != FrameLen(in[0])+FrameLen(in[1])+FrameLen(in[2]) {
		t.Fatalf("bytes written %d, buffer %d", n, buf.Len())
	}
	var got []tactile.Frame
	cnt, err := c.DecodeN(&buf, 0, func(m Message) {
		if m.Type != TypeFrame {
			t.Fatalf("unexpected type %d", m.Type)
		}
		got = append(got, m.Frame)
	})
	if !errors.Is(err, io.EOF) || cnt != len(in) {
		t.Fatalf("decoded %d err=%v", cnt, err)
	}
	for i := range in {
		equalFrames(t, got[i], in[i])
	}
}

func TestFrameHeaderLayout(t *testing.T) {
	f := mkFrame(7, 2, 3, 1)
	wire := Codec{}.AppendFrame(nil, f)
	if wire[0] != TypeFrame {
		t.Fatalf("type byte %d", wire[0])
	}
	if got := binary.BigEndian.Uint32(wire[1:5]); int(got) != len(wire)-5 {
		t.Fatalf("length %d, body %d", got, len(wire)-5)
	}
	if wire[5] != 7 || binary.BigEndian.Uint16(wire[22:24]) != 2 || binary.BigEndian.Uint16(wire[24:26]) != 3 || wire[26] != 1 {
		t.Fatalf("header % X", wire[:27])
	}
}

func TestZeroTimestampRoundTrip(t *testing.T) {
	f := mkFrame(3, 2, 2, 1)
	f.Timestamp = time.Time{}
	m, err := Codec{}.Decode(bytes.NewReader(Codec{}.AppendFrame(nil, f)))
	if err != nil {
		t.Fatal(err)
	}
	if !m.Frame.Timestamp.IsZero() {
		t.Fatalf("expected zero timestamp, got %v", m.Frame.Timestamp)
	}
}

func TestCommandRoundTrip(t *testing.T) {
	c := Codec{MaxBody: MaxCommandLen}
	wire, err := c.AppendCommand(nil, []byte{0x55, 0xAA, 0x01})
	if err != nil {
		t.Fatal(err)
	}
	wire, _ = c.AppendCommand(wire, []byte{0x02})
	r := bytes.NewReader(wire)
	var cmds [][]byte
	if _, err := c.DecodeN(r, 0, func(m Message) { cmds = append(cmds, m.Command) }); !errors.Is(err, io.EOF) {
		t.Fatalf("unexpected err %v", err)
	}
	if len(cmds) != 2 || !bytes.Equal(cmds[0], []byte{0x55, 0xAA, 0x01}) || !bytes.Equal(cmds[1], []byte{0x02}) {
		t.Fatalf("commands %v", cmds)
	}
}

func TestAppendCommandBounds(t *testing.T) {
	c := Codec{}
	if _, err := c.AppendCommand(nil, nil); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("empty command: %v", err)
	}
	if _, err := c.AppendCommand(nil, make([]byte, MaxCommandLen+1)); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("oversized command: %v", err)
	}
}

func hdr(typ byte, n uint32) []byte {
	b := []byte{typ}
	return binary.BigEndian.AppendUint32(b, n)
}

func TestDecodeErrors(t *testing.T) {
	frame := Codec{}.AppendFrame(nil, mkFrame(1, 2, 2, 2))
	badBpp := append([]byte(nil), frame...)
	badBpp[26] = 3
	short := append([]byte(nil), frame...)
	binary.BigEndian.PutUint32(short[1:5], uint32(len(frame)-6))
	short = short[:len(short)-1]

	tests := []struct {
		name string
		in   []byte
		max  int
		want error
	}{
		{"empty", nil, 0, io.EOF},
		{"partial_header", []byte{TypeFrame, 0}, 0, ErrTruncated},
		{"unknown_type", append(hdr(0x7F, 1), 0), 0, ErrUnknownType},
		{"zero_command", hdr(TypeCommand, 0), 0, ErrInvalidLength},
		{"huge_command", hdr(TypeCommand, MaxCommandLen+1), 0, ErrInvalidLength},
		{"tiny_frame", append(hdr(TypeFrame, 3), 1, 2, 3), 0, ErrInvalidLength},
		{"frame_over_limit", frame, len(frame) - headerLen - 1, ErrInvalidLength},
		{"truncated_body", frame[:len(frame)-1], 0, ErrTruncated},
		{"bad_bpp", badBpp, 0, ErrInvalidLength},
		{"plane_mismatch", short, 0, ErrInvalidLength},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := Codec{MaxBody: tc.max}
			_, err := c.Decode(bytes.NewReader(tc.in))
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
		})
	}
}

func TestDecodeNMax(t *testing.T) {
	c := Codec{}
	var wire []byte
	for i := 0; i < 5; i++ {
		wire, _ = c.AppendCommand(wire, []byte{byte(i)})
	}
	r := bytes.NewReader(wire)
	n, err := c.DecodeN(r, 3, func(Message) {})
	if n != 3 || err != nil {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if r.Len() != 2*6 {
		t.Fatalf("remaining %d", r.Len())
	}
}
