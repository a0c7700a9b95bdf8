package main

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kstaniek/go-tactile-server/internal/tactile"
)

// loadShape returns the sensor geometry from -shape-file when set, otherwise
// from -rows/-cols/-bpp with identity folding.
//
// Example file:
//
//	rows: 4
//	cols: 3
//	bytes_per_point: 2
//	row_folding: [0, 2, 1, 3]
func loadShape(cfg *appConfig) (tactile.Shape, error) {
	if cfg.shapeFile == "" {
		s := tactile.Shape{Rows: cfg.rows, Cols: cfg.cols, BytesPerPoint: cfg.bpp}
		return s, s.Validate()
	}
	raw, err := os.ReadFile(cfg.shapeFile)
	if err != nil {
		return tactile.Shape{}, fmt.Errorf("read shape file: %w", err)
	}
	return parseShape(raw)
}

func parseShape(raw []byte) (tactile.Shape, error) {
	var s tactile.Shape
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return tactile.Shape{}, fmt.Errorf("parse shape file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return tactile.Shape{}, err
	}
	return s, nil
}
