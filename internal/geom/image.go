// Package geom implements the geometry and masking primitives shared by
// the center finder, angular averager and scan combiner: a rectangular
// beam-block mask, integer pixel shifting with edge-masking, and
// ring/sector pixel enumerators.
//
// The source's masked-array abstraction (values and a validity bitmap
// carried together) is translated here into an explicit pair: Image
// carries the data buffer, Mask carries the parallel boolean validity
// buffer. Every reducer that walks an Image is expected to consult the
// Mask rather than relying on sentinel values baked into Data.
package geom

// Image is a row-major 2D buffer of float64 samples, shape Rows x Cols.
type Image struct {
	Rows, Cols int
	Data       []float64
}

// NewImage allocates a zero-filled Image of the given shape.
func NewImage(rows, cols int) *Image {
	return &Image{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// At returns the sample at row y, column x.
func (img *Image) At(y, x int) float64 {
	return img.Data[y*img.Cols+x]
}

// Set assigns the sample at row y, column x.
func (img *Image) Set(y, x int, v float64) {
	img.Data[y*img.Cols+x] = v
}

// Point is a 2D coordinate in image space. X indexes columns, Y indexes
// rows, matching the coordinate convention of the beam-block rectangle.
type Point struct {
	X, Y float64
}

// Mask is a row-major parallel validity buffer for an Image of the same
// shape. True means the corresponding pixel is valid.
type Mask struct {
	Rows, Cols int
	Valid      []bool
}

// NewMask allocates a Mask of the given shape with every pixel valid.
func NewMask(rows, cols int) *Mask {
	m := &Mask{Rows: rows, Cols: cols, Valid: make([]bool, rows*cols)}
	for i := range m.Valid {
		m.Valid[i] = true
	}
	return m
}

// At reports whether the pixel at row y, column x is valid.
func (m *Mask) At(y, x int) bool {
	return m.Valid[y*m.Cols+x]
}

// Set assigns the validity of the pixel at row y, column x.
func (m *Mask) Set(y, x int, valid bool) {
	m.Valid[y*m.Cols+x] = valid
}

// Clone returns an independent copy of the mask.
func (m *Mask) Clone() *Mask {
	out := &Mask{Rows: m.Rows, Cols: m.Cols, Valid: make([]bool, len(m.Valid))}
	copy(out.Valid, m.Valid)
	return out
}
