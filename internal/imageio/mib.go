package imageio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/raweld/raweld/internal/errs"
)

// MIBHeader is the parsed ASCII preamble of a Merlin "MIB" raw-binary
// detector file.
type MIBHeader struct {
	ID      string
	SeqNum  int
	Offset  int
	NChips  int
	Shape   [2]int // rows, cols
	BigEndian bool
	BitDepth  int
}

const mibHeaderPrefixLen = 4096

// ReadMIBHeader parses the comma-separated ASCII preamble of an MIB file.
// The preamble is read as a prefix of the file; the declared Offset
// field marks where the binary payload begins.
func ReadMIBHeader(path string) (MIBHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return MIBHeader{}, fmt.Errorf("%w: %s", errs.ErrImageNotFound, path)
		}
		return MIBHeader{}, fmt.Errorf("%w: %s: %v", errs.ErrImageNotFound, path, err)
	}
	defer f.Close()

	prefix := make([]byte, mibHeaderPrefixLen)
	n, err := io.ReadFull(f, prefix)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return MIBHeader{}, fmt.Errorf("%w: reading mib header: %v", errs.ErrDecode, err)
	}
	prefix = prefix[:n]

	return parseMIBHeader(prefix)
}

func parseMIBHeader(prefix []byte) (MIBHeader, error) {
	fields := strings.SplitN(string(prefix), ",", 8)
	if len(fields) < 7 {
		return MIBHeader{}, fmt.Errorf("%w: mib header has too few tokens", errs.ErrDecode)
	}

	hdr := MIBHeader{ID: strings.TrimSpace(fields[0])}

	seq, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return MIBHeader{}, fmt.Errorf("%w: mib seq_num: %v", errs.ErrDecode, err)
	}
	hdr.SeqNum = seq

	offset, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return MIBHeader{}, fmt.Errorf("%w: mib offset: %v", errs.ErrDecode, err)
	}
	hdr.Offset = offset

	nchips, err := strconv.Atoi(strings.TrimSpace(fields[3]))
	if err != nil {
		return MIBHeader{}, fmt.Errorf("%w: mib nchips: %v", errs.ErrDecode, err)
	}
	hdr.NChips = nchips

	width, err := strconv.Atoi(strings.TrimSpace(fields[4]))
	if err != nil {
		return MIBHeader{}, fmt.Errorf("%w: mib width: %v", errs.ErrDecode, err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(fields[5]))
	if err != nil {
		return MIBHeader{}, fmt.Errorf("%w: mib height: %v", errs.ErrDecode, err)
	}
	hdr.Shape = [2]int{height, width}

	dtype := strings.TrimSpace(fields[6])
	bits, beType, err := parseMIBDtype(dtype)
	if err != nil {
		return MIBHeader{}, err
	}
	hdr.BitDepth = bits
	hdr.BigEndian = beType

	return hdr, nil
}

// parseMIBDtype interprets a token such as "U16" as an unsigned integer
// of the given bit width, always declared big-endian per the MIB spec.
func parseMIBDtype(token string) (bits int, bigEndian bool, err error) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if len(token) < 2 || token[0] != 'U' {
		return 0, false, fmt.Errorf("%w: unsupported mib dtype %q", errs.ErrDecode, token)
	}
	bits, err = strconv.Atoi(token[1:])
	if err != nil {
		return 0, false, fmt.Errorf("%w: unsupported mib dtype %q", errs.ErrDecode, token)
	}
	return bits, true, nil
}

// MIBRead eagerly decodes an MIB file. If the payload contains a single
// frame, a Frame is returned; if it contains more than one, a Cube is
// returned holding every frame.
func MIBRead(path string) (frame *Frame, cube *Cube, err error) {
	hdr, err := ReadMIBHeader(path)
	if err != nil {
		return nil, nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", errs.ErrImageNotFound, path)
	}

	rows, cols := hdr.Shape[0], hdr.Shape[1]
	bytesPerSample := hdr.BitDepth / 8
	frameBytes := rows * cols * bytesPerSample
	if frameBytes <= 0 {
		return nil, nil, fmt.Errorf("%w: mib frame size is zero", errs.ErrDecode)
	}

	payload := info.Size() - int64(hdr.Offset)
	if payload <= 0 || payload%int64(frameBytes) != 0 {
		return nil, nil, fmt.Errorf("%w: mib payload size %d is not a multiple of frame size %d", errs.ErrDecode, payload, frameBytes)
	}
	n := int(payload / int64(frameBytes))

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", errs.ErrImageNotFound, path)
	}
	defer f.Close()

	if _, err := f.Seek(int64(hdr.Offset), io.SeekStart); err != nil {
		return nil, nil, fmt.Errorf("%w: seeking to mib payload: %v", errs.ErrDecode, err)
	}

	order := byteOrderFor(hdr)

	if n == 1 {
		frame = NewFrame(rows, cols)
		if err := readMIBSamples(f, order, frame.Pix); err != nil {
			return nil, nil, err
		}
		return frame, nil, nil
	}

	cube = NewCube(rows, cols, n)
	buf := make([]uint16, rows*cols)
	for k := 0; k < n; k++ {
		if err := readMIBSamples(f, order, buf); err != nil {
			return nil, nil, err
		}
		for i, v := range buf {
			y, x := i/cols, i%cols
			cube.Set(y, x, k, v)
		}
	}
	return nil, cube, nil
}

func byteOrderFor(hdr MIBHeader) binary.ByteOrder {
	if hdr.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func readMIBSamples(r io.Reader, order binary.ByteOrder, out []uint16) error {
	raw := make([]byte, len(out)*2)
	if _, err := io.ReadFull(r, raw); err != nil {
		return fmt.Errorf("%w: reading mib payload: %v", errs.ErrDecode, err)
	}
	for i := range out {
		out[i] = order.Uint16(raw[i*2 : i*2+2])
	}
	return nil
}

// IMIBFrames returns a lazy sequence over the frames contained in an MIB
// file, decoding one frame at a time without buffering the full payload.
// It is a Go range-over-func iterator: for frame, err := range
// IMIBFrames(path) { ... }.
func IMIBFrames(path string) func(yield func(*Frame, error) bool) {
	return func(yield func(*Frame, error) bool) {
		hdr, err := ReadMIBHeader(path)
		if err != nil {
			yield(nil, err)
			return
		}

		f, err := os.Open(path)
		if err != nil {
			yield(nil, fmt.Errorf("%w: %s", errs.ErrImageNotFound, path))
			return
		}
		defer f.Close()

		if _, err := f.Seek(int64(hdr.Offset), io.SeekStart); err != nil {
			yield(nil, fmt.Errorf("%w: seeking to mib payload: %v", errs.ErrDecode, err))
			return
		}

		order := byteOrderFor(hdr)
		rows, cols := hdr.Shape[0], hdr.Shape[1]
		reader := bufio.NewReaderSize(f, rows*cols*2)

		for {
			if _, err := reader.Peek(1); err == io.EOF {
				return
			}
			frame := NewFrame(rows, cols)
			if err := readMIBSamples(reader, order, frame.Pix); err != nil {
				yield(nil, err)
				return
			}
			if !yield(frame, nil) {
				return
			}
		}
	}
}
