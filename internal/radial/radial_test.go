package radial

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raweld/raweld/internal/geom"
)

func TestAverageConstantImageIsFlat(t *testing.T) {
	img := geom.NewImage(64, 64)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(y, x, 5)
		}
	}

	radii, intensity, errs, err := Average(img, geom.Point{X: 32, Y: 32}, geom.Rect{})
	require.NoError(t, err)
	require.NotEmpty(t, radii)
	require.Len(t, intensity, len(radii))
	require.Len(t, errs, len(radii))

	for i := range intensity {
		require.InDelta(t, 5.0, intensity[i], 1e-9)
		require.InDelta(t, 0.0, errs[i], 1e-9)
	}
}

func TestAverageDropsFirstAndLastRadiusBin(t *testing.T) {
	img := geom.NewImage(64, 64)
	radii, _, _, err := Average(img, geom.Point{X: 32, Y: 32}, geom.Rect{})
	require.NoError(t, err)
	require.NotContains(t, radii, 0, "radius 0 is the single center pixel and should be dropped as the minimum edge bin")
}

func TestAverageExcludesBeamBlock(t *testing.T) {
	img := geom.NewImage(64, 64)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(y, x, 1)
		}
	}
	// Spike a large value at the exact center; it must be excluded by the
	// beam-block rectangle and not contaminate the radius-0 bin.
	img.Set(32, 32, 1e6)
	block := geom.Rect{X1: 30, X2: 34, Y1: 30, Y2: 34}

	radii, intensity, _, err := Average(img, geom.Point{X: 32, Y: 32}, block)
	require.NoError(t, err)
	for i, r := range radii {
		require.Less(t, r, 32)
		require.InDelta(t, 1.0, intensity[i], 1e-6)
	}
}

func TestAverageRingWithBeamBlockMatchesSeedFixture(t *testing.T) {
	// Mirrors the original implementation's test_ring_with_beamblock
	// fixture: a 256x256 ring at radius 25, centered in the image, with
	// a beam-block square fully covering the innermost 8 radius bins.
	// That leaves 120 distinct non-empty radius bins (min(rows,cols)/2
	// == 128 possible radii, minus the 8 wholly beam-blocked ones), and
	// dropping the smallest and largest present bins leaves 118.
	const size = 256
	img := geom.NewImage(size, size)
	cx, cy := 128.0, 128.0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			rho := math.Sqrt(dx*dx + dy*dy)
			if rho > 24 && rho < 26 {
				img.Set(y, x, 1)
			}
		}
	}
	block := geom.Rect{X1: 120, X2: 136, Y1: 120, Y2: 136}

	radii, intensity, errs, err := Average(img, geom.Point{X: cx, Y: cy}, block)
	require.NoError(t, err)
	require.Len(t, radii, 118)
	require.Len(t, intensity, 118)
	require.Len(t, errs, 118)

	peak := 0
	for i, v := range intensity {
		if v > intensity[peak] {
			peak = i
		}
		_ = v
	}
	require.Equal(t, 25, radii[peak])
}

func TestAverageOnSparseImageMayBeEmpty(t *testing.T) {
	img := geom.NewImage(2, 2)
	radii, intensity, errs, err := Average(img, geom.Point{X: 0, Y: 0}, geom.Rect{})
	require.NoError(t, err)
	require.Equal(t, len(radii), len(intensity))
	require.Equal(t, len(radii), len(errs))
}
