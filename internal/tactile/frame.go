package tactile

import "time"

// Frame is one complete sensor reading. Planes[b] holds byte b of every
// point in logical row-major order. A Frame handed out by a Decoder is owned
// by the receiver; the decoder never touches it again.
type Frame struct {
	Planes    [][]byte
	Timestamp time.Time
	FrameID   uint8
	Seq       uint64 // decoder-local count of finished frames, starting at 1
	Rows      int
	Cols      int
}

// At returns the value of the point at (row, col). With two byte planes the
// first wire byte is the high byte.
func (f Frame) At(row, col int) uint16 {
	i := row*f.Cols + col
	var v uint16
	for _, p := range f.Planes {
		v = v<<8 | uint16(p[i])
	}
	return v
}

// Values returns every point composed as by At, row-major.
func (f Frame) Values() []uint16 {
	out := make([]uint16, f.Rows*f.Cols)
	for i := range out {
		var v uint16
		for _, p := range f.Planes {
			v = v<<8 | uint16(p[i])
		}
		out[i] = v
	}
	return out
}

// Clone returns a deep copy of f.
func (f Frame) Clone() Frame {
	g := f
	g.Planes = make([][]byte, len(f.Planes))
	for i, p := range f.Planes {
		g.Planes[i] = append([]byte(nil), p...)
	}
	return g
}
