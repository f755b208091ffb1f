package imageio

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/raweld/raweld/internal/errs"
)

// Read decodes a frame from disk, dispatching on file extension between
// TIFF and MIB layouts.
func Read(path string) (*Frame, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return ReadTIFF(path)
	case ".mib":
		frame, cube, err := MIBRead(path)
		if err != nil {
			return nil, err
		}
		if frame != nil {
			return frame, nil
		}
		return cube.Slice(0), nil
	default:
		return nil, fmt.Errorf("%w: unrecognised frame extension %q", errs.ErrDecode, filepath.Ext(path))
	}
}

// AverageTIFF returns the elementwise mean of every file in dir matching
// glob, optionally subtracting background from each frame before
// averaging. It fails with ErrImageNotFound if no files match.
func AverageTIFF(dir, glob string, background *Frame) (*Frame, error) {
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return nil, fmt.Errorf("%w: bad glob %q: %v", errs.ErrDecode, glob, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no files matching %q in %s", errs.ErrImageNotFound, glob, dir)
	}

	var sum []float64
	var rows, cols int

	for i, path := range matches {
		f, err := ReadTIFF(path)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			rows, cols = f.Rows, f.Cols
			sum = make([]float64, rows*cols)
		} else if f.Rows != rows || f.Cols != cols {
			return nil, fmt.Errorf("%w: inconsistent shapes averaging %q", errs.ErrDecode, glob)
		}

		for j, v := range f.Pix {
			val := float64(v)
			if background != nil {
				val -= float64(background.Pix[j])
			}
			sum[j] += val
		}
	}

	n := float64(len(matches))
	out := NewFrame(rows, cols)
	for i, v := range sum {
		avg := v / n
		if avg < 0 {
			avg = 0
		}
		if avg > 65535 {
			avg = 65535
		}
		out.Pix[i] = uint16(avg)
	}
	return out, nil
}
