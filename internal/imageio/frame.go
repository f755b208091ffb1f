// Package imageio decodes the two raw detector frame encodings used by
// the acquisition software: TIFF (16-bit grayscale, uncompressed) and the
// Merlin "MIB" raw-binary layout (ASCII preamble plus a binary payload).
// Both decoders are hand-rolled on top of encoding/binary rather than a
// third-party image codec, in the same spirit as the teacher's own
// record decoders: a small, fully-owned binary layout does not need an
// external dependency to parse.
package imageio

import (
	"fmt"

	"github.com/raweld/raweld/internal/geom"
)

// Frame is a single decoded detector exposure: a 2D array of unsigned
// 16-bit samples, shape Rows x Cols, row-major.
type Frame struct {
	Rows, Cols int
	Pix        []uint16
}

// NewFrame allocates a zero-filled Frame of the given shape.
func NewFrame(rows, cols int) *Frame {
	return &Frame{Rows: rows, Cols: cols, Pix: make([]uint16, rows*cols)}
}

// At returns the sample at row y, column x.
func (f *Frame) At(y, x int) uint16 {
	return f.Pix[y*f.Cols+x]
}

// Set assigns the sample at row y, column x.
func (f *Frame) Set(y, x int, v uint16) {
	f.Pix[y*f.Cols+x] = v
}

// SameShape reports whether two frames share Rows and Cols.
func (f *Frame) SameShape(o *Frame) bool {
	return f.Rows == o.Rows && f.Cols == o.Cols
}

// ToImage converts the frame into a float64 geom.Image for use by the
// center finder, angular averager and scan combiner.
func (f *Frame) ToImage() *geom.Image {
	img := geom.NewImage(f.Rows, f.Cols)
	for i, v := range f.Pix {
		img.Data[i] = float64(v)
	}
	return img
}

// Cube is a stack of frames sharing one shape, indexed (row, col, slice).
type Cube struct {
	Rows, Cols, N int
	Pix           []uint16
}

// NewCube allocates a zero-filled Cube of the given shape.
func NewCube(rows, cols, n int) *Cube {
	return &Cube{Rows: rows, Cols: cols, N: n, Pix: make([]uint16, rows*cols*n)}
}

// At returns the sample at row y, column x, slice k.
func (c *Cube) At(y, x, k int) uint16 {
	return c.Pix[(y*c.Cols+x)*c.N+k]
}

// Set assigns the sample at row y, column x, slice k.
func (c *Cube) Set(y, x, k int, v uint16) {
	c.Pix[(y*c.Cols+x)*c.N+k] = v
}

// Slice extracts slice k as a standalone Frame.
func (c *Cube) Slice(k int) *Frame {
	f := NewFrame(c.Rows, c.Cols)
	for y := 0; y < c.Rows; y++ {
		for x := 0; x < c.Cols; x++ {
			f.Set(y, x, c.At(y, x, k))
		}
	}
	return f
}

// CastTo16Bits saturates a float64 image down to an unsigned 16-bit
// Frame, clamping to [0, 65535].
func CastTo16Bits(img *geom.Image) *Frame {
	f := NewFrame(img.Rows, img.Cols)
	for i, v := range img.Data {
		switch {
		case v <= 0:
			f.Pix[i] = 0
		case v >= 65535:
			f.Pix[i] = 65535
		default:
			f.Pix[i] = uint16(v)
		}
	}
	return f
}

func checkShapeMatch(a, b *Frame) error {
	if !a.SameShape(b) {
		return fmt.Errorf("imageio: shape mismatch %dx%d vs %dx%d", a.Rows, a.Cols, b.Rows, b.Cols)
	}
	return nil
}
