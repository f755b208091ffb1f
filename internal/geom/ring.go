package geom

import "math"

// RingPixel is a single pixel coordinate together with its continuous
// radial distance from the ring's center, as emitted by Ring.
type RingPixel struct {
	X, Y int
	Rho  float64
}

// Ring enumerates every pixel (x, y) within an H x W image whose distance
// from center falls in [rMin, rMax], calling yield for each. Enumeration
// stops early if yield returns false.
func Ring(rows, cols int, center Point, rMin, rMax float64, yield func(RingPixel) bool) {
	y0 := int(math.Floor(center.Y - rMax))
	y1 := int(math.Ceil(center.Y + rMax))
	x0 := int(math.Floor(center.X - rMax))
	x1 := int(math.Ceil(center.X + rMax))

	if y0 < 0 {
		y0 = 0
	}
	if x0 < 0 {
		x0 = 0
	}
	if y1 >= rows {
		y1 = rows - 1
	}
	if x1 >= cols {
		x1 = cols - 1
	}

	for y := y0; y <= y1; y++ {
		dy := float64(y) - center.Y
		for x := x0; x <= x1; x++ {
			dx := float64(x) - center.X
			rho := math.Sqrt(dx*dx + dy*dy)
			if rho < rMin || rho > rMax {
				continue
			}
			if !yield(RingPixel{X: x, Y: y, Rho: rho}) {
				return
			}
		}
	}
}

// Sector enumerates pixels within the ring [rMin, rMax] whose angle
// (measured counter-clockwise from the positive x axis, in radians)
// falls within [angleMin, angleMax].
func Sector(rows, cols int, center Point, rMin, rMax, angleMin, angleMax float64, yield func(RingPixel) bool) {
	Ring(rows, cols, center, rMin, rMax, func(p RingPixel) bool {
		theta := math.Atan2(float64(p.Y)-center.Y, float64(p.X)-center.X)
		if theta < angleMin || theta > angleMax {
			return true
		}
		return yield(p)
	})
}
