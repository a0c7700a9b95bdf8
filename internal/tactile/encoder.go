package tactile

import "fmt"

// Encoder builds wire packages for a shape. Sensors only ever send; the
// encoder exists for simulators, replay tooling and tests.
type Encoder struct {
	shape   Shape
	variant byte
}

// NewEncoder returns an Encoder that stamps variant into the third header byte.
func NewEncoder(shape Shape, variant byte) (*Encoder, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return &Encoder{shape: shape.Clone(), variant: variant}, nil
}

// AppendPackage appends one package with a trailing CRC to dst.
func (e *Encoder) AppendPackage(dst []byte, frameID, packageID uint8, payload []byte) []byte {
	start := len(dst)
	dst = append(dst, Marker, Marker, e.variant, byte(e.shape.PackageSize()), frameID, packageID)
	dst = append(dst, payload...)
	crc := Checksum(dst[start:])
	return append(dst, byte(crc>>8), byte(crc))
}

// AppendFrame appends all packages of a frame given as logical planes. It
// applies the folding tables in reverse so a Decoder reproduces planes.
func (e *Encoder) AppendFrame(dst []byte, frameID uint8, planes [][]byte) ([]byte, error) {
	s := e.shape
	if len(planes) != s.BytesPerPoint {
		return dst, fmt.Errorf("%w: %d planes, want %d", ErrInvalidShape, len(planes), s.BytesPerPoint)
	}
	for i, p := range planes {
		if len(p) != s.Points() {
			return dst, fmt.Errorf("%w: plane %d has %d points, want %d", ErrInvalidShape, i, len(p), s.Points())
		}
	}
	payload := make([]byte, s.PayloadLen())
	for pkg := 0; pkg < s.Rows; pkg++ {
		base := s.rowOf(pkg) * s.Cols
		for c := 0; c < s.Cols; c++ {
			src := base + s.colOf(c)
			for b := 0; b < s.BytesPerPoint; b++ {
				payload[c*s.BytesPerPoint+b] = planes[b][src]
			}
		}
		dst = e.AppendPackage(dst, frameID, uint8(pkg), payload)
	}
	return dst, nil
}
