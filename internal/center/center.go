// Package center implements the drift-correction center finder: given a
// starting guess and an expected ring radius, it searches a small window
// of candidate centers and returns the one whose narrow ring is most
// circularly symmetric.
package center

import (
	"fmt"
	"math"

	"github.com/raweld/raweld/internal/errs"
	"github.com/raweld/raweld/internal/geom"
)

// Options configures a center search. Window and RingWidth follow the
// spec's defaults of 10 and 5 pixels respectively when left at zero.
type Options struct {
	Window    float64
	RingWidth float64
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = 10
	}
	if o.RingWidth <= 0 {
		o.RingWidth = 5
	}
	return o
}

// Find searches for the center of a ring of the given radius near guess.
// When the required crop window fits entirely within the image, the
// search is performed against a cropped sub-image (the fast path);
// otherwise it falls back to FindFull.
func Find(img *geom.Image, guess geom.Point, radius float64, opts Options) (geom.Point, error) {
	opts = opts.withDefaults()

	side := int(math.Ceil(2 * (radius + opts.RingWidth + opts.Window)))
	half := side / 2

	x0 := int(guess.X) - half
	x1 := int(guess.X) + half
	y0 := int(guess.Y) - half
	y1 := int(guess.Y) + half

	if x0 < 0 || y0 < 0 || x1 >= img.Cols || y1 >= img.Rows {
		return FindFull(img, guess, radius, opts)
	}

	cropRows := y1 - y0 + 1
	cropCols := x1 - x0 + 1
	crop := geom.NewImage(cropRows, cropCols)
	for y := 0; y < cropRows; y++ {
		for x := 0; x < cropCols; x++ {
			crop.Set(y, x, img.At(y0+y, x0+x))
		}
	}

	localGuess := geom.Point{X: guess.X - float64(x0), Y: guess.Y - float64(y0)}
	found, err := search(crop, localGuess, radius, opts)
	if err != nil {
		return geom.Point{}, err
	}

	return geom.Point{X: found.X + float64(x0), Y: found.Y + float64(y0)}, nil
}

// FindFull performs the center search directly against the full image,
// without cropping. Used for small images, tests, or when the crop
// window would exceed the image bounds.
func FindFull(img *geom.Image, guess geom.Point, radius float64, opts Options) (geom.Point, error) {
	opts = opts.withDefaults()
	return search(img, guess, radius, opts)
}

// search enumerates every candidate center guess+(i,j) for i, j in
// [-window, window] and returns the one minimizing the ring's symmetry
// score. Ties are broken by smallest |i|+|j|, then smallest i, then
// smallest j, so the unshifted guess (i=0, j=0) wins every tie it is
// part of.
func search(img *geom.Image, guess geom.Point, radius float64, opts Options) (geom.Point, error) {
	w := int(opts.Window)
	rMin := radius - opts.RingWidth/2
	rMax := radius + opts.RingWidth/2
	if rMin < 0 {
		rMin = 0
	}

	var (
		found      bool
		bestScore  float64
		bestI      int
		bestJ      int
		bestCenter geom.Point
	)

	for i := -w; i <= w; i++ {
		for j := -w; j <= w; j++ {
			c := geom.Point{X: guess.X + float64(i), Y: guess.Y + float64(j)}
			score, n := symmetryScore(img, c, rMin, rMax)
			if n == 0 {
				continue
			}

			better := !found
			if found {
				switch {
				case score < bestScore:
					better = true
				case score == bestScore:
					curKey := abs(i) + abs(j)
					bestKey := abs(bestI) + abs(bestJ)
					switch {
					case curKey < bestKey:
						better = true
					case curKey == bestKey && i < bestI:
						better = true
					case curKey == bestKey && i == bestI && j < bestJ:
						better = true
					}
				}
			}

			if better {
				found = true
				bestScore = score
				bestI, bestJ = i, j
				bestCenter = c
			}
		}
	}

	if !found {
		return geom.Point{}, fmt.Errorf("%w: no valid pixels in search region", errs.ErrCenterNotFound)
	}

	return bestCenter, nil
}

// symmetryScore groups every pixel on the ring [rMin, rMax] around center
// by integer radius round(ρ) and sums each pixel's absolute deviation
// from the mean of its own radius group. Lower is more symmetric; a
// pattern that is circular about center scores 0. Returns the pixel
// count so callers can detect an empty ring.
func symmetryScore(img *geom.Image, center geom.Point, rMin, rMax float64) (score float64, n int) {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	var pixels []geom.RingPixel

	geom.Ring(img.Rows, img.Cols, center, rMin, rMax, func(p geom.RingPixel) bool {
		k := int(math.Round(p.Rho))
		sums[k] += img.At(p.Y, p.X)
		counts[k]++
		pixels = append(pixels, p)
		return true
	})

	for _, p := range pixels {
		k := int(math.Round(p.Rho))
		score += math.Abs(img.At(p.Y, p.X) - sums[k]/float64(counts[k]))
	}

	return score, len(pixels)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
