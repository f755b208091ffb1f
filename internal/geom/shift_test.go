package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func onesImage(rows, cols int) *Image {
	img := NewImage(rows, cols)
	for i := range img.Data {
		img.Data[i] = 1
	}
	return img
}

func TestShiftIdentity(t *testing.T) {
	img := onesImage(256, 256)
	mask := NewMask(256, 256)

	out, outMask := Shift(img, mask, 0, 0)

	require.Equal(t, img.Data, out.Data)
	for _, v := range outMask.Valid {
		assert.True(t, v)
	}
}

func TestShiftOutOfBounds(t *testing.T) {
	img := onesImage(256, 256)
	mask := NewMask(256, 256)

	_, outMask := Shift(img, mask, 300, 0)
	for _, v := range outMask.Valid {
		assert.False(t, v)
	}

	_, outMask2 := Shift(img, mask, 0, -451)
	for _, v := range outMask2.Valid {
		assert.False(t, v)
	}
}

func TestShiftPreservesShape(t *testing.T) {
	img := onesImage(256, 256)
	mask := NewMask(256, 256)

	out, outMask := Shift(img, mask, 1, 23)
	assert.Equal(t, img.Rows, out.Rows)
	assert.Equal(t, img.Cols, out.Cols)
	assert.Equal(t, img.Rows, outMask.Rows)
	assert.Equal(t, img.Cols, outMask.Cols)
}

func TestBeamBlockExclusion(t *testing.T) {
	rect := Rect{X1: 10, X2: 20, Y1: 5, Y2: 15}
	mask := BeamBlockMask(32, 32, rect)

	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			inside := rect.Contains(x, y)
			assert.Equal(t, !inside, mask.At(y, x), "pixel (%d,%d)", x, y)
		}
	}
}
