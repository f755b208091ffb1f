// Package store persists the processed diffraction dataset as a
// directory of TileDB dense arrays: one array per time-delay intensity
// image, the pump-on/pump-off backgrounds, the pump-off picture cube,
// per-delay powder triples, all registered as members of a TileDB Group
// whose metadata carries the dataset's global attributes.
package store

import (
	"errors"
	"fmt"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/raweld/raweld/internal/errs"
)

// Compression selects the attribute filter pipeline applied to every
// array in the store. It mirrors the spec's `--compress lzf|none` flag;
// TileDB has no native "lzf" filter, so lzf maps to Zstandard, the
// nearest available general-purpose compressor.
type Compression string

const (
	CompressionLZF  Compression = "lzf"
	CompressionNone Compression = "none"
)

// ArrayOpen opens an existing TileDB array in the given query mode.
func ArrayOpen(ctx *tiledb.Context, uri string, mode tiledb.QueryType) (*tiledb.Array, error) {
	array, err := tiledb.NewArray(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStore, err)
	}

	if err := array.Open(mode); err != nil {
		array.Free()
		return nil, fmt.Errorf("%w: opening %s: %v", errs.ErrStore, uri, err)
	}

	return array, nil
}

// AddFilters sequentially appends compression filters to a filter list.
func AddFilters(list *tiledb.FilterList, filters ...*tiledb.Filter) error {
	for _, f := range filters {
		if err := list.AddFilter(f); err != nil {
			return errors.Join(errs.ErrStore, err)
		}
	}
	return nil
}

// AttachFilters sets the same filter list on every given attribute.
func AttachFilters(list *tiledb.FilterList, attrs ...*tiledb.Attribute) error {
	for _, a := range attrs {
		if err := a.SetFilterList(list); err != nil {
			return errors.Join(errs.ErrStore, err)
		}
	}
	return nil
}

// ZstdFilter builds the Zstandard compression filter at the given level.
func ZstdFilter(ctx *tiledb.Context, level int32) (*tiledb.Filter, error) {
	return levelFilter(ctx, tiledb.TILEDB_FILTER_ZSTD, tiledb.TILEDB_COMPRESSION_LEVEL, level)
}

// GzipFilter builds the deflate compression filter at the given level.
func GzipFilter(ctx *tiledb.Context, level int32) (*tiledb.Filter, error) {
	return levelFilter(ctx, tiledb.TILEDB_FILTER_GZIP, tiledb.TILEDB_COMPRESSION_LEVEL, level)
}

// Lz4Filter builds the LZ4 compression filter at the given level.
func Lz4Filter(ctx *tiledb.Context, level int32) (*tiledb.Filter, error) {
	return levelFilter(ctx, tiledb.TILEDB_FILTER_LZ4, tiledb.TILEDB_COMPRESSION_LEVEL, level)
}

// RleFilter builds the run-length-encoding filter; level is ignored by
// TileDB internally but accepted for a uniform constructor signature.
func RleFilter(ctx *tiledb.Context, level int32) (*tiledb.Filter, error) {
	return levelFilter(ctx, tiledb.TILEDB_FILTER_RLE, tiledb.TILEDB_COMPRESSION_LEVEL, level)
}

// Bzip2Filter builds the Burrows-Wheeler compression filter.
func Bzip2Filter(ctx *tiledb.Context, level int32) (*tiledb.Filter, error) {
	return levelFilter(ctx, tiledb.TILEDB_FILTER_BZIP2, tiledb.TILEDB_COMPRESSION_LEVEL, level)
}

// BitWidthReductionFilter builds the bit-width-reduction filter with the
// given window size.
func BitWidthReductionFilter(ctx *tiledb.Context, window int32) (*tiledb.Filter, error) {
	return levelFilter(ctx, tiledb.TILEDB_FILTER_BIT_WIDTH_REDUCTION, tiledb.TILEDB_BIT_WIDTH_MAX_WINDOW, window)
}

// ByteshuffleFilter builds the byte-shuffle filter.
func ByteshuffleFilter(ctx *tiledb.Context) (*tiledb.Filter, error) {
	filt, err := tiledb.NewFilter(ctx, tiledb.TILEDB_FILTER_BYTESHUFFLE)
	if err != nil {
		return nil, errors.Join(errs.ErrStore, err)
	}
	return filt, nil
}

// BitshuffleFilter builds the bit-shuffle filter.
func BitshuffleFilter(ctx *tiledb.Context) (*tiledb.Filter, error) {
	filt, err := tiledb.NewFilter(ctx, tiledb.TILEDB_FILTER_BITSHUFFLE)
	if err != nil {
		return nil, errors.Join(errs.ErrStore, err)
	}
	return filt, nil
}

func levelFilter(ctx *tiledb.Context, kind tiledb.FilterType, opt tiledb.FilterOption, value int32) (*tiledb.Filter, error) {
	filt, err := tiledb.NewFilter(ctx, kind)
	if err != nil {
		return nil, errors.Join(errs.ErrStore, err)
	}
	if err := filt.SetOption(opt, value); err != nil {
		filt.Free()
		return nil, errors.Join(errs.ErrStore, err)
	}
	return filt, nil
}

// filterListFor builds the attribute filter pipeline for the requested
// compression setting. CompressionNone yields an empty pipeline, writing
// arrays contiguous and uncompressed; CompressionLZF attaches Zstandard
// at level 16 (the teacher's own default compression level choice).
func filterListFor(ctx *tiledb.Context, c Compression) (*tiledb.FilterList, error) {
	list, err := tiledb.NewFilterList(ctx)
	if err != nil {
		return nil, errors.Join(errs.ErrStore, err)
	}

	if c == CompressionNone {
		return list, nil
	}

	zstd, err := ZstdFilter(ctx, 16)
	if err != nil {
		list.Free()
		return nil, err
	}
	defer zstd.Free()

	if err := AddFilters(list, zstd); err != nil {
		list.Free()
		return nil, err
	}

	return list, nil
}
