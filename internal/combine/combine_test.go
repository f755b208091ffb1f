package combine

import (
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raweld/raweld/internal/corpus"
	"github.com/raweld/raweld/internal/geom"
	"github.com/raweld/raweld/internal/imageio"
)

func flatImage(rows, cols int, v float64) *geom.Image {
	img := geom.NewImage(rows, cols)
	for i := range img.Data {
		img.Data[i] = v
	}
	return img
}

func TestMaskOutliersMasksSpikedPixel(t *testing.T) {
	values := []float64{100, 101, 99, 102, 98}
	images := make([]*geom.Image, len(values))
	masks := make([]*geom.Mask, len(values))
	for i, v := range values {
		images[i] = flatImage(1, 1, v)
		masks[i] = geom.NewMask(1, 1)
	}

	sorted := append([]float64(nil), values...)
	med := median(sorted)
	absdev := make([]float64, len(values))
	for i, v := range values {
		absdev[i] = v - med
		if absdev[i] < 0 {
			absdev[i] = -absdev[i]
		}
	}
	mad := 1.4826 * median(absdev)

	// Spike the first scan far enough to exceed 3 scaled MADs.
	images[0].Set(0, 0, med+100*mad)

	maskOutliers(images, masks)

	require.False(t, masks[0].At(0, 0), "spiked scan should be masked invalid")
	for i := 1; i < len(values); i++ {
		require.True(t, masks[i].At(0, 0), "unspiked scan %d should remain valid", i)
	}
}

func TestMaskOutliersKeepsBothScansOfATwoScanDifference(t *testing.T) {
	// Two scans with a plain per-pixel difference (no spike) must both
	// survive: the median over an even-length sample averages the two
	// middle values rather than picking one, so neither scan reads as
	// infinitely deviant.
	images := []*geom.Image{flatImage(1, 1, 10), flatImage(1, 1, 14)}
	masks := []*geom.Mask{geom.NewMask(1, 1), geom.NewMask(1, 1)}

	maskOutliers(images, masks)

	require.True(t, masks[0].At(0, 0))
	require.True(t, masks[1].At(0, 0))
}

func TestWeightedMeanFillsZeroWhenAllMasked(t *testing.T) {
	images := []*geom.Image{flatImage(2, 2, 7), flatImage(2, 2, 9)}
	masks := []*geom.Mask{geom.NewMask(2, 2), geom.NewMask(2, 2)}
	masks[0].Set(0, 0, false)
	masks[1].Set(0, 0, false)

	out := weightedMean(images, masks, []float64{1, 1})
	require.Equal(t, 0.0, out.At(0, 0))
	require.Equal(t, 8.0, out.At(0, 1))
}

func writeFlatFrame(t *testing.T, path string, rows, cols int, v uint16) {
	t.Helper()
	f := imageio.NewFrame(rows, cols)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	require.NoError(t, imageio.WriteTIFF(path, f))
}

func TestCombineTinySyntheticCorpus(t *testing.T) {
	dir := t.TempDir()
	for _, td := range []string{"-1.00", "+0.00", "+1.00"} {
		for _, scan := range []int{1, 2} {
			name := fmt.Sprintf("data.timedelay.%s.nscan.%02d.pumpon.tif", td, scan)
			writeFlatFrame(t, filepath.Join(dir, name), 16, 16, 1)
		}
	}

	c, err := corpus.Open(dir)
	require.NoError(t, err)

	for _, td := range []float64{-1.0, 0.0, 1.0} {
		out, stats, err := Combine(c, td, nil, geom.Rect{}, Options{}, nil)
		require.NoError(t, err)
		require.Equal(t, 2, stats.ScansUsed)
		for _, v := range out.Data {
			require.InDelta(t, 1.0, v, 1e-9)
		}
	}
}

func TestCombineTwoScansWithDistinctValuesAreBothUsed(t *testing.T) {
	dir := t.TempDir()
	writeFlatFrame(t, filepath.Join(dir, "data.timedelay.+0.00.nscan.01.pumpon.tif"), 4, 4, 10)
	writeFlatFrame(t, filepath.Join(dir, "data.timedelay.+0.00.nscan.02.pumpon.tif"), 4, 4, 14)

	c, err := corpus.Open(dir)
	require.NoError(t, err)

	out, stats, err := Combine(c, 0.0, nil, geom.Rect{}, Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, stats.ScansUsed, "a plain scan-to-scan difference must not be masked as an outlier")
	for _, v := range out.Data {
		require.False(t, math.IsInf(v, 0), "outlier rejection must not blow up a plain two-scan difference")
		require.Greater(t, v, 10.0)
		require.Less(t, v, 14.0)
	}
}

func TestCombineFailsWithNoFramesForDelay(t *testing.T) {
	dir := t.TempDir()
	c, err := corpus.Open(dir)
	require.NoError(t, err)

	_, _, err = Combine(c, 0.0, nil, geom.Rect{}, Options{}, nil)
	require.Error(t, err)
}
