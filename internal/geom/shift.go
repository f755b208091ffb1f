package geom

// Shift translates an Image by (di, dj) pixels: di rows, dj columns.
// The returned Image shares the input's shape. Output pixel (y, x) takes
// its value from input pixel (y-di, x-dj); pixels whose source position
// falls outside the input become invalid in the returned Mask. If the
// shift magnitude meets or exceeds the image dimension on either axis,
// every output pixel is invalid.
func Shift(img *Image, srcMask *Mask, di, dj int) (*Image, *Mask) {
	out := NewImage(img.Rows, img.Cols)
	outMask := NewMask(img.Rows, img.Cols)

	if abs(di) >= img.Rows || abs(dj) >= img.Cols {
		for i := range outMask.Valid {
			outMask.Valid[i] = false
		}
		return out, outMask
	}

	for y := 0; y < img.Rows; y++ {
		sy := y - di
		if sy < 0 || sy >= img.Rows {
			for x := 0; x < img.Cols; x++ {
				outMask.Set(y, x, false)
			}
			continue
		}
		for x := 0; x < img.Cols; x++ {
			sx := x - dj
			if sx < 0 || sx >= img.Cols {
				outMask.Set(y, x, false)
				continue
			}
			out.Set(y, x, img.At(sy, sx))
			if srcMask != nil {
				outMask.Set(y, x, srcMask.At(sy, sx))
			}
		}
	}

	return out, outMask
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
