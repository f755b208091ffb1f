package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raweld/raweld/internal/corpus"
	"github.com/raweld/raweld/internal/geom"
	"github.com/raweld/raweld/internal/imageio"
	"github.com/raweld/raweld/internal/store"
)

func writeFlatFrame(t *testing.T, path string, rows, cols int, v uint16) {
	t.Helper()
	f := imageio.NewFrame(rows, cols)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	require.NoError(t, imageio.WriteTIFF(path, f))
}

// seedFullReductionCorpus builds the spec's own full-reduction seed
// scenario: two scans, one missing frame at (t=0.0, scan=2), flat pixel
// values so the expected reduced frame is exactly background-subtracted.
func seedFullReductionCorpus(t *testing.T) *corpus.Corpus {
	t.Helper()
	dir := t.TempDir()

	const dataVal, bgVal uint16 = 5, 2

	for _, td := range []string{"-1.00", "+0.00", "+1.00"} {
		for _, scan := range []int{1, 2} {
			if td == "+0.00" && scan == 2 {
				continue // the spec's deliberately missing frame
			}
			name := fmt.Sprintf("data.timedelay.%s.nscan.%02d.pumpon.tif", td, scan)
			writeFlatFrame(t, filepath.Join(dir, name), 8, 8, dataVal)
		}
		for _, scan := range []int{1, 2} {
			name := fmt.Sprintf("data.nscan.%02d.pumpoff.tif", scan)
			writeFlatFrame(t, filepath.Join(dir, name), 8, 8, dataVal)
		}
	}

	writeFlatFrame(t, filepath.Join(dir, "background.bg1.pumpon.tif"), 8, 8, bgVal)
	writeFlatFrame(t, filepath.Join(dir, "background.bg1.pumpoff.tif"), 8, 8, bgVal)

	c, err := corpus.Open(dir)
	require.NoError(t, err)
	return c
}

func TestProcessFullReductionProgressSequence(t *testing.T) {
	c := seedFullReductionCorpus(t)

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	var progressed []int
	outPath := filepath.Join(t.TempDir(), "dataset.raweld")

	name, err := Process(
		context.Background(),
		c,
		outPath,
		geom.Point{X: 4, Y: 4},
		2,
		geom.Rect{},
		SampleSingleCrystal,
		store.CompressionNone,
		func(p int) { progressed = append(progressed, p) },
		false,
		0, 0,
		WithLogger(logger),
		WithWorkers(1),
	)
	require.NoError(t, err)
	require.Equal(t, outPath, name)
	require.Equal(t, []int{0, 33, 66, 100}, progressed)
	require.Contains(t, logBuf.String(), "raw frame missing, skipping scan")

	s, err := store.Open(outPath, store.OpenRead)
	require.NoError(t, err)
	defer s.Close()

	meta, err := s.ReadMeta()
	require.NoError(t, err)
	require.False(t, meta.Incomplete)
	require.Empty(t, meta.InvalidDelays)

	for _, delay := range []string{"-1.00", "+0.00", "+1.00"} {
		img, err := s.ReadIntensity(delay, 8, 8)
		require.NoError(t, err)
		for _, v := range img.Data {
			require.InDelta(t, 3.0, v, 1e-6)
		}
	}
}

func TestProcessWritesPowderAverages(t *testing.T) {
	c := seedFullReductionCorpus(t)

	outPath := filepath.Join(t.TempDir(), "dataset.raweld")
	_, err := Process(
		context.Background(),
		c,
		outPath,
		geom.Point{X: 4, Y: 4},
		2,
		geom.Rect{},
		SamplePowder,
		store.CompressionLZF,
		nil,
		false,
		0, 0,
		WithWorkers(2),
	)
	require.NoError(t, err)

	s, err := store.Open(outPath, store.OpenRead)
	require.NoError(t, err)
	defer s.Close()

	meta, err := s.ReadMeta()
	require.NoError(t, err)
	require.Equal(t, "powder", meta.SampleType)

	// The angular average drops the smallest and largest radius bins, so
	// only a few radii survive on an 8x8 frame; presence of the array is
	// enough to confirm the powder pass ran.
	for _, delay := range []string{"-1.00", "+0.00", "+1.00"} {
		require.DirExists(t, filepath.Join(outPath, "powder", delay))
	}
}
