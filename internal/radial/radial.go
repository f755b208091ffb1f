// Package radial computes the angular (azimuthal) average of a 2D
// diffraction image around a known center, producing the powder-pattern
// intensity profile as a function of radius.
package radial

import (
	"math"
	"sort"

	"github.com/raweld/raweld/internal/geom"
)

// Average computes the angular average of img around center, excluding
// any pixel that falls inside beamBlock. Radii are bounded to
// min(rows, cols)/2 so every bin corresponds to a full annulus rather
// than a corner-only partial arc. It returns parallel slices of integer
// radius, mean intensity, and standard error of the mean, with the
// smallest and largest present radius bins dropped (edge effects) and
// any zero-count radius omitted entirely.
func Average(img *geom.Image, center geom.Point, beamBlock geom.Rect) (radii []int, intensity, errs []float64, err error) {
	sums := make(map[int]float64)
	sumSq := make(map[int]float64)
	counts := make(map[int]int)

	maxRadius := img.Rows
	if img.Cols < maxRadius {
		maxRadius = img.Cols
	}
	maxRadius /= 2

	for y := 0; y < img.Rows; y++ {
		for x := 0; x < img.Cols; x++ {
			if beamBlock.Contains(x, y) {
				continue
			}
			dx := float64(x) - center.X
			dy := float64(y) - center.Y
			rho := math.Sqrt(dx*dx + dy*dy)
			k := int(math.Round(rho))
			if k >= maxRadius {
				continue
			}

			v := img.At(y, x)
			sums[k] += v
			sumSq[k] += v * v
			counts[k]++
		}
	}

	present := make([]int, 0, len(counts))
	for k, n := range counts {
		if n > 0 {
			present = append(present, k)
		}
	}
	sort.Ints(present)

	if len(present) <= 2 {
		return nil, nil, nil, nil
	}
	present = present[1 : len(present)-1]

	radii = make([]int, 0, len(present))
	intensity = make([]float64, 0, len(present))
	errs = make([]float64, 0, len(present))

	for _, k := range present {
		n := counts[k]
		if n == 0 {
			continue
		}
		nf := float64(n)
		mean := sums[k] / nf
		variance := sumSq[k]/nf - mean*mean
		if variance < 0 {
			variance = 0
		}
		stderr := math.Sqrt(variance) / math.Sqrt(nf)

		radii = append(radii, k)
		intensity = append(intensity, mean)
		errs = append(errs, stderr)
	}

	return radii, intensity, errs, nil
}
