package tactile

// Assembler owns the frame being prepared and scatters package payloads into
// it according to the shape's folding tables.
type Assembler struct {
	shape  Shape
	planes [][]byte
}

// NewAssembler allocates a zeroed preparing buffer for shape.
func NewAssembler(shape Shape) *Assembler {
	a := &Assembler{shape: shape}
	a.planes = a.alloc()
	return a
}

func (a *Assembler) alloc() [][]byte {
	planes := make([][]byte, a.shape.BytesPerPoint)
	for i := range planes {
		planes[i] = make([]byte, a.shape.Points())
	}
	return planes
}

// Write stores one package payload. Point c occupies payload bytes
// [c*bpp, c*bpp+bpp); byte b lands in plane b at the folded row and column.
func (a *Assembler) Write(packageID uint8, payload []byte) {
	bpp := a.shape.BytesPerPoint
	base := a.shape.rowOf(int(packageID)) * a.shape.Cols
	for c := 0; c < a.shape.Cols; c++ {
		dst := base + a.shape.colOf(c)
		for b := 0; b < bpp; b++ {
			a.planes[b][dst] = payload[c*bpp+b]
		}
	}
}

// IsComplete reports whether packageID is the last package of a frame.
func (a *Assembler) IsComplete(packageID uint8) bool {
	return int(packageID) == a.shape.Rows-1
}

// TakeFinished hands over the preparing buffer and starts a fresh one.
func (a *Assembler) TakeFinished() [][]byte {
	done := a.planes
	a.planes = a.alloc()
	return done
}

// Abort zeroes the preparing buffer in place.
func (a *Assembler) Abort() {
	for _, p := range a.planes {
		clear(p)
	}
}
