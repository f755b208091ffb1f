package imageio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeMIBFixture(t *testing.T, path string, rows, cols, n int) {
	t.Helper()

	header := "MQ1,1,384,1,256,256,U16,padding"
	buf := make([]byte, 384)
	copy(buf, header)

	var payload bytes.Buffer
	for k := 0; k < n; k++ {
		for i := 0; i < rows*cols; i++ {
			var v [2]byte
			binary.BigEndian.PutUint16(v[:], uint16(i%65536))
			payload.Write(v[:])
		}
	}

	full := append(buf, payload.Bytes()...)
	require.NoError(t, os.WriteFile(path, full, 0o644))
}

func TestMIBHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.mib")
	writeMIBFixture(t, path, 256, 256, 1)

	hdr, err := ReadMIBHeader(path)
	require.NoError(t, err)
	require.Equal(t, "MQ1", hdr.ID)
	require.Equal(t, 1, hdr.SeqNum)
	require.Equal(t, 384, hdr.Offset)
	require.Equal(t, 1, hdr.NChips)
	require.Equal(t, [2]int{256, 256}, hdr.Shape)
	require.Equal(t, 16, hdr.BitDepth)
	require.True(t, hdr.BigEndian)
}

func TestMIBReadSingleFrame(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.mib")
	writeMIBFixture(t, path, 256, 256, 1)

	frame, cube, err := MIBRead(path)
	require.NoError(t, err)
	require.Nil(t, cube)
	require.Equal(t, 256, frame.Rows)
	require.Equal(t, 256, frame.Cols)
}

func TestMIBReadMultiFrame(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test_multi.mib")
	writeMIBFixture(t, path, 256, 256, 500)

	frame, cube, err := MIBRead(path)
	require.NoError(t, err)
	require.Nil(t, frame)
	require.Equal(t, 256, cube.Rows)
	require.Equal(t, 256, cube.Cols)
	require.Equal(t, 500, cube.N)
}

func TestIMIBFrames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test_multi.mib")
	writeMIBFixture(t, path, 256, 256, 3)

	count := 0
	for frame, err := range IMIBFrames(path) {
		require.NoError(t, err)
		require.Equal(t, 256, frame.Rows)
		count++
	}
	require.Equal(t, 3, count)
}
