package center

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raweld/raweld/internal/geom"
)

// crispRing renders an exact (unblurred) ring of given radius at center
// with value 10 on the ring and 0 elsewhere, so that the true center is
// the unique zero-deviation candidate.
func crispRing(rows, cols int, cx, cy, radius float64) *geom.Image {
	img := geom.NewImage(rows, cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			rho := math.Sqrt(dx*dx + dy*dy)
			if math.Abs(rho-radius) < 0.5 {
				img.Set(y, x, 10)
			}
		}
	}
	return img
}

func TestCenterIdempotence(t *testing.T) {
	img := crispRing(256, 256, 132, 155, 25)

	found, err := Find(img, geom.Point{X: 132, Y: 155}, 25, Options{})
	require.NoError(t, err)
	require.Equal(t, 132.0, found.X)
	require.Equal(t, 155.0, found.Y)
}

func TestCenterIdempotenceFull(t *testing.T) {
	img := crispRing(256, 256, 132, 155, 25)

	found, err := FindFull(img, geom.Point{X: 132, Y: 155}, 25, Options{})
	require.NoError(t, err)
	require.Equal(t, 132.0, found.X)
	require.Equal(t, 155.0, found.Y)
}

func TestFindFullLocatesAsymmetricGuess(t *testing.T) {
	// Mirrors the original implementation's test_find_center_full fixture:
	// a radius-50 ring truly centered at (258, 254), searched from the
	// off-center guess (255, 251).
	img := crispRing(512, 512, 258, 254, 50)

	found, err := FindFull(img, geom.Point{X: 255, Y: 251}, 50, Options{})
	require.NoError(t, err)
	require.Equal(t, 258.0, found.X)
	require.Equal(t, 254.0, found.Y)
}

func TestFindCenterNotFoundOnEmptyImage(t *testing.T) {
	img := geom.NewImage(8, 8)

	_, err := FindFull(img, geom.Point{X: 4, Y: 4}, 50, Options{Window: 1, RingWidth: 1})
	require.Error(t, err)
}

func TestFindUsesCroppedFastPathWhenInBounds(t *testing.T) {
	img := crispRing(2048, 2048, 1024, 1024, 50)

	found, err := Find(img, geom.Point{X: 1023, Y: 1027}, 50, Options{})
	require.NoError(t, err)
	require.Equal(t, 1024.0, found.X)
	require.Equal(t, 1024.0, found.Y)
}
