package geom

import "fmt"

// Rect is the beam-block rectangle. X indexes columns, Y indexes rows;
// pixels with X1 <= x < X2 and Y1 <= y < Y2 are inside the block.
type Rect struct {
	X1, X2, Y1, Y2 int
}

// Empty reports whether the rectangle encloses no pixels, as used for a
// single-crystal dataset with no beam-block applied.
func (r Rect) Empty() bool {
	return r.X2 <= r.X1 || r.Y2 <= r.Y1
}

// Contains reports whether pixel (x, y) falls inside the rectangle.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X1 && x < r.X2 && y >= r.Y1 && y < r.Y2
}

// Validate checks the beam-block invariant: 0 <= x1 < x2 <= width and
// 0 <= y1 < y2 <= height. An empty rectangle (x1==x2==y1==y2==0) is
// always valid and disables masking.
func (r Rect) Validate(width, height int) error {
	if r.X1 == 0 && r.X2 == 0 && r.Y1 == 0 && r.Y2 == 0 {
		return nil
	}
	if !(0 <= r.X1 && r.X1 < r.X2 && r.X2 <= width) {
		return fmt.Errorf("beam-block rect: invalid x range [%d,%d) for width %d", r.X1, r.X2, width)
	}
	if !(0 <= r.Y1 && r.Y1 < r.Y2 && r.Y2 <= height) {
		return fmt.Errorf("beam-block rect: invalid y range [%d,%d) for height %d", r.Y1, r.Y2, height)
	}
	return nil
}

// BeamBlockMask builds a Mask of the given shape with pixels inside rect
// marked invalid and every other pixel valid.
func BeamBlockMask(rows, cols int, rect Rect) *Mask {
	m := NewMask(rows, cols)
	if rect.Empty() {
		return m
	}
	for y := rect.Y1; y < rect.Y2 && y < rows; y++ {
		for x := rect.X1; x < rect.X2 && x < cols; x++ {
			m.Set(y, x, false)
		}
	}
	return m
}

// ApplyBeamBlock marks the rectangle invalid on an existing mask in
// place, leaving pixels outside the rectangle untouched.
func ApplyBeamBlock(m *Mask, rect Rect) {
	if rect.Empty() {
		return
	}
	for y := rect.Y1; y < rect.Y2 && y < m.Rows; y++ {
		for x := rect.X1; x < rect.X2 && x < m.Cols; x++ {
			m.Set(y, x, false)
		}
	}
}
