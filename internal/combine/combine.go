// Package combine assembles the per-time-delay scan stack: background
// subtraction, optional center-drift correction, median-absolute-
// deviation outlier rejection across scans, per-scan intensity
// normalization, and the final weighted mean.
package combine

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/raweld/raweld/internal/center"
	"github.com/raweld/raweld/internal/corpus"
	"github.com/raweld/raweld/internal/errs"
	"github.com/raweld/raweld/internal/geom"
	"github.com/raweld/raweld/internal/imageio"
)

// Options configures one delay's combination pass.
type Options struct {
	// CC enables per-frame center-drift correction.
	CC bool
	// Center and Radius locate the expected ring for drift correction.
	Center geom.Point
	Radius float64
	// WindowSize and RingWidth are forwarded to the center finder.
	WindowSize, RingWidth float64
}

// Stats reports the effective scan count that survived combination, for
// the driver to decide whether a delay is valid.
type Stats struct {
	ScansUsed, ScansMissing int
}

// Combine produces the background-subtracted, outlier-masked, weighted
// mean H×W image for one time delay, following the spec's MAD-based
// reduction over the scan axis. It fails with ErrNoFramesForDelay only
// when no scan survives: every frame is missing or, with CC enabled,
// fails center correction.
func Combine(c *corpus.Corpus, timedelay float64, background *imageio.Frame, beamBlock geom.Rect, opts Options, logger *slog.Logger) (*geom.Image, Stats, error) {
	if logger == nil {
		logger = slog.Default()
	}

	scans := c.Scans()
	images := make([]*geom.Image, 0, len(scans))
	masks := make([]*geom.Mask, 0, len(scans))

	missing := 0

	for _, s := range scans {
		frame, err := c.RawData(timedelay, s)
		if err != nil {
			logger.Warn("raw frame missing, skipping scan", "timedelay", timedelay, "scan", s, "error", err)
			missing++
			continue
		}

		img := frame.ToImage()
		subtractBackground(img, background)

		mask := geom.BeamBlockMask(img.Rows, img.Cols, beamBlock)

		if opts.CC {
			found, err := center.Find(img, opts.Center, opts.Radius, center.Options{Window: opts.WindowSize, RingWidth: opts.RingWidth})
			if err != nil {
				logger.Warn("center correction failed, skipping scan", "timedelay", timedelay, "scan", s, "error", err)
				missing++
				continue
			}
			di := int(math.Round(opts.Center.Y - found.Y))
			dj := int(math.Round(opts.Center.X - found.X))
			img, mask = shiftAndCombineMask(img, mask, di, dj)
		}

		images = append(images, img)
		masks = append(masks, mask)
	}

	if len(images) == 0 {
		return nil, Stats{ScansUsed: 0, ScansMissing: missing}, fmt.Errorf("%w: timedelay %.2f", errs.ErrNoFramesForDelay, timedelay)
	}

	maskOutliers(images, masks)
	weights := intensityWeights(images, masks)

	out := weightedMean(images, masks, weights)

	return out, Stats{ScansUsed: len(images), ScansMissing: missing}, nil
}

func subtractBackground(img *geom.Image, background *imageio.Frame) {
	if background == nil {
		return
	}
	for i := range img.Data {
		img.Data[i] -= float64(background.Pix[i])
	}
}

func shiftAndCombineMask(img *geom.Image, mask *geom.Mask, di, dj int) (*geom.Image, *geom.Mask) {
	shifted, shiftMask := geom.Shift(img, mask, di, dj)
	return shifted, shiftMask
}

// maskOutliers applies the median-absolute-deviation rule independently
// at every pixel position across the scan axis: deviations more than 3
// scaled MADs from the median are masked invalid. When the MAD is zero,
// a value equal to the median (0/0 = NaN) is treated as zero deviation
// and stays valid, while any other value has infinite deviation and is
// masked.
func maskOutliers(images []*geom.Image, masks []*geom.Mask) {
	n := len(images)
	if n == 0 {
		return
	}
	rows, cols := images[0].Rows, images[0].Cols

	values := make([]float64, 0, n)
	absdev := make([]float64, 0, n)

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			values = values[:0]
			for s := 0; s < n; s++ {
				if masks[s].At(y, x) {
					values = append(values, images[s].At(y, x))
				}
			}
			if len(values) == 0 {
				continue
			}

			med := median(values)

			absdev = absdev[:0]
			for _, v := range values {
				absdev = append(absdev, math.Abs(v-med))
			}
			mad := 1.4826 * median(absdev)

			for s := 0; s < n; s++ {
				if !masks[s].At(y, x) {
					continue
				}
				v := images[s].At(y, x)
				dev := math.Abs(v-med) / mad
				if math.IsNaN(dev) {
					dev = 0
				}
				if dev > 3 {
					masks[s].Set(y, x, false)
				}
			}
		}
	}
}

// median returns the middle value of an odd-length sample and the mean
// of the two middle values of an even-length one. The Empirical 0.5
// quantile is the middle value (odd length) or the lower middle value
// (even length).
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	lower := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	if len(sorted)%2 == 1 {
		return lower
	}
	return (lower + sorted[len(sorted)/2]) / 2
}

// intensityWeights computes, per scan slice, the weighted-average weight
// 1/w_s where w_s = I_s / mean(I) and I_s is the scan's total valid
// intensity in float32, per the spec's normalization step.
func intensityWeights(images []*geom.Image, masks []*geom.Mask) []float64 {
	n := len(images)
	totals := make([]float32, n)

	for s := 0; s < n; s++ {
		var sum float32
		for y := 0; y < images[s].Rows; y++ {
			for x := 0; x < images[s].Cols; x++ {
				if masks[s].At(y, x) {
					sum += float32(images[s].At(y, x))
				}
			}
		}
		totals[s] = sum
	}

	var mean float32
	for _, t := range totals {
		mean += t
	}
	if n > 0 {
		mean /= float32(n)
	}

	weights := make([]float64, n)
	for s, t := range totals {
		w := t / mean
		if w == 0 || math.IsNaN(float64(w)) {
			weights[s] = 0
			continue
		}
		weights[s] = 1 / float64(w)
	}
	return weights
}

// weightedMean reduces the scan stack to a single H×W image, weighting
// each valid contribution at a pixel by its scan's intensity weight.
// A pixel masked invalid on every scan is filled with 0.
func weightedMean(images []*geom.Image, masks []*geom.Mask, weights []float64) *geom.Image {
	rows, cols := images[0].Rows, images[0].Cols
	out := geom.NewImage(rows, cols)

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			var num, denom float64
			for s := range images {
				if !masks[s].At(y, x) {
					continue
				}
				w := weights[s]
				num += images[s].At(y, x) * w
				denom += w
			}
			if denom > 0 {
				out.Set(y, x, num/denom)
			}
		}
	}

	return out
}
