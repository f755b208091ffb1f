package imageio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTIFFRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.tif")

	in := NewFrame(16, 16)
	for i := range in.Pix {
		in.Pix[i] = uint16(i)
	}

	require.NoError(t, WriteTIFF(path, in))

	out, err := ReadTIFF(path)
	require.NoError(t, err)
	require.Equal(t, in.Rows, out.Rows)
	require.Equal(t, in.Cols, out.Cols)
	require.Equal(t, in.Pix, out.Pix)
}

func TestReadDispatchesByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.tiff")

	in := NewFrame(4, 4)
	require.NoError(t, WriteTIFF(path, in))

	out, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, 4, out.Rows)
}

func TestReadImageNotFound(t *testing.T) {
	_, err := Read("/nonexistent/frame.tif")
	require.Error(t, err)
}
