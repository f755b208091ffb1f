package imageio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/raweld/raweld/internal/errs"
)

// tiffTag numbers relevant to an uncompressed 16-bit grayscale frame.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
)

type ifdEntry struct {
	tag        uint16
	typ        uint16
	count      uint32
	valueBytes [4]byte
}

func (e ifdEntry) asUint(order binary.ByteOrder) uint32 {
	switch e.typ {
	case 3: // SHORT
		return uint32(order.Uint16(e.valueBytes[:2]))
	case 4: // LONG
		return order.Uint32(e.valueBytes[:4])
	default:
		return order.Uint32(e.valueBytes[:4])
	}
}

// ReadTIFF decodes an uncompressed, single-image, 16-bit grayscale TIFF
// file into a Frame. Compressed or multi-sample TIFFs are rejected with
// ErrDecode, since the acquisition software never produces them.
func ReadTIFF(path string) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errs.ErrImageNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrImageNotFound, path, err)
	}
	return decodeTIFF(data)
}

func decodeTIFF(data []byte) (*Frame, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: tiff too short", errs.ErrDecode)
	}

	var order binary.ByteOrder
	switch string(data[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad tiff byte-order marker", errs.ErrDecode)
	}

	magic := order.Uint16(data[2:4])
	if magic != 42 {
		return nil, fmt.Errorf("%w: bad tiff magic number", errs.ErrDecode)
	}

	ifdOffset := order.Uint32(data[4:8])
	if int(ifdOffset)+2 > len(data) {
		return nil, fmt.Errorf("%w: ifd offset out of range", errs.ErrDecode)
	}

	nEntries := order.Uint16(data[ifdOffset : ifdOffset+2])
	entries := make(map[uint16]ifdEntry, nEntries)

	pos := int(ifdOffset) + 2
	for i := 0; i < int(nEntries); i++ {
		if pos+12 > len(data) {
			return nil, fmt.Errorf("%w: truncated ifd", errs.ErrDecode)
		}
		var e ifdEntry
		e.tag = order.Uint16(data[pos : pos+2])
		e.typ = order.Uint16(data[pos+2 : pos+4])
		e.count = order.Uint32(data[pos+4 : pos+8])
		copy(e.valueBytes[:], data[pos+8:pos+12])
		entries[e.tag] = e
		pos += 12
	}

	widthEntry, ok := entries[tagImageWidth]
	if !ok {
		return nil, fmt.Errorf("%w: missing ImageWidth tag", errs.ErrDecode)
	}
	lengthEntry, ok := entries[tagImageLength]
	if !ok {
		return nil, fmt.Errorf("%w: missing ImageLength tag", errs.ErrDecode)
	}
	width := int(widthEntry.asUint(order))
	height := int(lengthEntry.asUint(order))

	if bps, ok := entries[tagBitsPerSample]; ok && bps.asUint(order) != 16 {
		return nil, fmt.Errorf("%w: unsupported BitsPerSample %d", errs.ErrDecode, bps.asUint(order))
	}
	if comp, ok := entries[tagCompression]; ok && comp.asUint(order) != 1 {
		return nil, fmt.Errorf("%w: compressed tiff not supported", errs.ErrDecode)
	}
	if spp, ok := entries[tagSamplesPerPixel]; ok && spp.asUint(order) != 1 {
		return nil, fmt.Errorf("%w: multi-sample tiff not supported", errs.ErrDecode)
	}

	stripOffEntry, ok := entries[tagStripOffsets]
	if !ok {
		return nil, fmt.Errorf("%w: missing StripOffsets tag", errs.ErrDecode)
	}
	stripOffset := stripOffEntry.asUint(order)

	rowsPerStrip := height
	if rps, ok := entries[tagRowsPerStrip]; ok {
		rowsPerStrip = int(rps.asUint(order))
	}
	if rowsPerStrip <= 0 || rowsPerStrip > height {
		rowsPerStrip = height
	}

	frame := NewFrame(height, width)
	need := int(stripOffset) + width*height*2
	if need > len(data) {
		return nil, fmt.Errorf("%w: strip data truncated", errs.ErrDecode)
	}

	raw := data[stripOffset : stripOffset+uint32(width*height*2)]
	for i := 0; i < width*height; i++ {
		frame.Pix[i] = order.Uint16(raw[i*2 : i*2+2])
	}

	return frame, nil
}

// WriteTIFF encodes a Frame as an uncompressed, single-strip, big-endian
// 16-bit grayscale TIFF file. Provided for round-trip testing and for
// the GUI's export-to-TIFF workflow.
func WriteTIFF(path string, f *Frame) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStore, err)
	}
	defer out.Close()

	return EncodeTIFF(out, f)
}

// EncodeTIFF writes a Frame as big-endian uncompressed 16-bit grayscale
// TIFF to w.
func EncodeTIFF(w io.Writer, f *Frame) error {
	order := binary.BigEndian

	const nTags = 8
	ifdOffset := uint32(8)
	stripOffset := ifdOffset + 2 + nTags*12 + 4

	header := make([]byte, 8)
	copy(header[0:2], "MM")
	order.PutUint16(header[2:4], 42)
	order.PutUint32(header[4:8], ifdOffset)
	if _, err := w.Write(header); err != nil {
		return err
	}

	buf := make([]byte, 2+nTags*12+4)
	order.PutUint16(buf[0:2], nTags)

	putEntry := func(i int, tag, typ uint16, count uint32, value uint32) {
		off := 2 + i*12
		order.PutUint16(buf[off:off+2], tag)
		order.PutUint16(buf[off+2:off+4], typ)
		order.PutUint32(buf[off+4:off+8], count)
		order.PutUint32(buf[off+8:off+12], value)
	}

	putEntry(0, tagImageWidth, 4, 1, uint32(f.Cols))
	putEntry(1, tagImageLength, 4, 1, uint32(f.Rows))
	putEntry(2, tagBitsPerSample, 3, 1, 16)
	putEntry(3, tagCompression, 3, 1, 1)
	putEntry(4, 262 /* PhotometricInterpretation */, 3, 1, 1)
	putEntry(5, tagStripOffsets, 4, 1, stripOffset)
	putEntry(6, tagSamplesPerPixel, 3, 1, 1)
	putEntry(7, tagRowsPerStrip, 4, 1, uint32(f.Rows))

	if _, err := w.Write(buf); err != nil {
		return err
	}

	pix := make([]byte, len(f.Pix)*2)
	for i, v := range f.Pix {
		order.PutUint16(pix[i*2:i*2+2], v)
	}
	_, err := w.Write(pix)
	return err
}
