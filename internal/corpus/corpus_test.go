package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raweld/raweld/internal/imageio"
)

func writeFlatFrame(t *testing.T, path string, rows, cols int, v uint16) {
	t.Helper()
	f := imageio.NewFrame(rows, cols)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	require.NoError(t, imageio.WriteTIFF(path, f))
}

// seedTinySyntheticCorpus builds the scenario from the spec's seed test
// list: delays -1.0, 0.0, 1.0, scans 1, 2, 16x16 frames all equal to 1,
// no background files, no tagfile.
func seedTinySyntheticCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	for _, td := range []string{"-1.00", "+0.00", "+1.00"} {
		for _, scan := range []int{1, 2} {
			name := fmt.Sprintf("data.timedelay.%s.nscan.%02d.pumpon.tif", td, scan)
			writeFlatFrame(t, filepath.Join(dir, name), 16, 16, 1)
		}
	}
	return dir
}

func TestOpenIndexesTinySyntheticCorpus(t *testing.T) {
	dir := seedTinySyntheticCorpus(t)

	c, err := Open(dir)
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, []string{"-1.00", "+0.00", "+1.00"}, c.TimePoints())
	require.Equal(t, []int{1, 2}, c.Scans())
	require.Empty(t, c.PumpOnBackgroundFiles())
	require.Empty(t, c.PumpOffBackgroundFiles())
}

func TestRawDataRoundTrip(t *testing.T) {
	dir := seedTinySyntheticCorpus(t)
	c, err := Open(dir)
	require.NoError(t, err)

	frame, err := c.RawData(0.0, 1)
	require.NoError(t, err)
	require.Equal(t, 16, frame.Rows)
	require.Equal(t, uint16(1), frame.Pix[0])
}

func TestRawDataMissingFrame(t *testing.T) {
	dir := seedTinySyntheticCorpus(t)
	c, err := Open(dir)
	require.NoError(t, err)

	_, err = c.RawData(5.0, 9)
	require.Error(t, err)
}

func TestAcquisitionDateFromDirName(t *testing.T) {
	dir := t.TempDir()
	datedDir := filepath.Join(dir, "2016.10.18.11.10.VO2_vb_16.2mJ")
	require.NoError(t, os.Mkdir(datedDir, 0o755))

	c, err := Open(datedDir)
	require.NoError(t, err)
	require.Equal(t, "2016.10.18.11.10", c.AcquisitionDate())
}

func TestAcquisitionDateDefaultsWhenUnmatched(t *testing.T) {
	dir := t.TempDir()
	plainDir := filepath.Join(dir, "no_date_here")
	require.NoError(t, os.Mkdir(plainDir, 0o755))

	c, err := Open(plainDir)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0.0", c.AcquisitionDate())
}

func TestTagfileParsing(t *testing.T) {
	dir := t.TempDir()
	tagfile := "Acquisition date = 2016.10.18.11.10\nFluence = 16.2\nCurrent = 0.5\nExposure = 3s\nEnergy = 90\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tagfile.txt"), []byte(tagfile), 0o644))

	c, err := Open(dir)
	require.NoError(t, err)
	require.InDelta(t, 16.2, c.Fluence(), 1e-9)
	require.InDelta(t, 0.5, c.Current(), 1e-9)
	require.InDelta(t, 3.0, c.Exposure(), 1e-9)
	require.InDelta(t, 90.0, c.Energy(), 1e-9)
}

func TestTagfileMissingFieldDefaultsToZero(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tagfile.txt"), []byte("Fluence = BLANK\n"), 0o644))

	c, err := Open(dir)
	require.NoError(t, err)
	require.Equal(t, 0.0, c.Fluence())
	require.Equal(t, 0.0, c.Energy())
	require.NotEmpty(t, c.Warnings())
}
