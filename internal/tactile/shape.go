package tactile

import (
	"errors"
	"fmt"
)

// Wire layout constants shared by every sensor variant.
const (
	Marker     = 0xAA
	HeaderLen  = 6 // marker, marker, variant id, length, frame id, package id
	CRCLen     = 2
	MaxRows    = 256
	frameIDOff = 4
	pkgIDOff   = 5
)

// ErrInvalidShape is returned when a Shape cannot describe a decodable frame.
var ErrInvalidShape = errors.New("tactile: invalid shape")

// Shape describes the sensor geometry. It is fixed for the lifetime of a
// Decoder. Each package carries one wire row of Cols points.
//
// RowFolding maps a wire package id to a logical row and ColFolding maps a
// wire point index to a logical column. Nil tables mean identity.
type Shape struct {
	Rows          int   `yaml:"rows"`
	Cols          int   `yaml:"cols"`
	BytesPerPoint int   `yaml:"bytes_per_point"`
	RowFolding    []int `yaml:"row_folding"`
	ColFolding    []int `yaml:"col_folding"`
}

// PayloadLen is the number of payload bytes in one package.
func (s Shape) PayloadLen() int { return s.Cols * s.BytesPerPoint }

// PackageSize is the full on-wire size of one package.
func (s Shape) PackageSize() int { return HeaderLen + s.PayloadLen() + CRCLen }

// Points is the number of points in one frame plane.
func (s Shape) Points() int { return s.Rows * s.Cols }

// Validate checks ranges and that both folding tables are permutations.
func (s Shape) Validate() error {
	if s.Rows <= 0 || s.Rows > MaxRows {
		return fmt.Errorf("%w: rows must be 1..%d (got %d)", ErrInvalidShape, MaxRows, s.Rows)
	}
	if s.Cols <= 0 {
		return fmt.Errorf("%w: cols must be > 0 (got %d)", ErrInvalidShape, s.Cols)
	}
	if s.BytesPerPoint != 1 && s.BytesPerPoint != 2 {
		return fmt.Errorf("%w: bytes_per_point must be 1 or 2 (got %d)", ErrInvalidShape, s.BytesPerPoint)
	}
	if err := checkPermutation("row_folding", s.RowFolding, s.Rows); err != nil {
		return err
	}
	return checkPermutation("col_folding", s.ColFolding, s.Cols)
}

func checkPermutation(name string, tbl []int, n int) error {
	if tbl == nil {
		return nil
	}
	if len(tbl) != n {
		return fmt.Errorf("%w: %s has %d entries, want %d", ErrInvalidShape, name, len(tbl), n)
	}
	seen := make([]bool, n)
	for i, v := range tbl {
		if v < 0 || v >= n {
			return fmt.Errorf("%w: %s[%d]=%d out of range", ErrInvalidShape, name, i, v)
		}
		if seen[v] {
			return fmt.Errorf("%w: %s maps %d twice", ErrInvalidShape, name, v)
		}
		seen[v] = true
	}
	return nil
}

// rowOf returns the logical row for a wire package id.
func (s Shape) rowOf(pkg int) int {
	if s.RowFolding == nil {
		return pkg
	}
	return s.RowFolding[pkg]
}

// colOf returns the logical column for a wire point index.
func (s Shape) colOf(c int) int {
	if s.ColFolding == nil {
		return c
	}
	return s.ColFolding[c]
}

// Clone returns a copy with private folding tables so later edits by the
// caller cannot reach a running decoder.
func (s Shape) Clone() Shape {
	out := s
	if s.RowFolding != nil {
		out.RowFolding = append([]int(nil), s.RowFolding...)
	}
	if s.ColFolding != nil {
		out.ColFolding = append([]int(nil), s.ColFolding...)
	}
	return out
}
