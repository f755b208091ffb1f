// Package pipeline drives one end-to-end reduction run: it opens a fresh
// processed-dataset store, writes the pump-off picture cube and averaged
// backgrounds, combines and persists every time delay, and — for powder
// samples — writes the angular-average triples once every 2D frame has
// been committed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strconv"

	"github.com/alitto/pond"
	"github.com/google/uuid"

	"github.com/raweld/raweld/internal/combine"
	"github.com/raweld/raweld/internal/corpus"
	"github.com/raweld/raweld/internal/errs"
	"github.com/raweld/raweld/internal/geom"
	"github.com/raweld/raweld/internal/imageio"
	"github.com/raweld/raweld/internal/radial"
	"github.com/raweld/raweld/internal/store"
)

// SampleType selects the post-processing applied after every 2D delay
// frame has been written.
type SampleType string

const (
	SamplePowder        SampleType = "powder"
	SampleSingleCrystal SampleType = "single-crystal"
)

// Option configures ambient concerns of a Process run that the
// positional signature below deliberately keeps out of: logging and
// worker-pool sizing.
type Option func(*settings)

type settings struct {
	logger  *slog.Logger
	workers int
}

// WithLogger injects a structured logger for per-delay warnings. The
// default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithWorkers bounds the number of delays combined concurrently. The
// default is one worker per logical CPU, matching the teacher's
// convert_gsf_list sizing; callers on memory-constrained systems should
// pass 1.
func WithWorkers(n int) Option {
	return func(s *settings) { s.workers = n }
}

// delayResult is the concurrently-computed output of combining one time
// delay, collected before any serialized store write happens.
type delayResult struct {
	delay string
	img   *geom.Image
	stats combine.Stats
	err   error
}

// Process runs the full reduction: pump-off cube, backgrounds, every
// time delay's combined frame (computed concurrently across a bounded
// pool, but written to the store strictly in sorted-delay order), and —
// for powder samples — the angular-average pass. It returns the store's
// filename on success.
//
// Store writes and progress-callback invocations are never concurrent:
// the worker pool only parallelizes the CPU-bound combine step.
func Process(
	ctx context.Context,
	c *corpus.Corpus,
	filename string,
	center geom.Point,
	radius float64,
	beamBlock geom.Rect,
	sampleType SampleType,
	compression store.Compression,
	progress func(int),
	cc bool,
	windowSize, ringWidth float64,
	opts ...Option,
) (string, error) {
	cfg := settings{logger: slog.Default(), workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if progress == nil {
		progress = func(int) {}
	}

	s, err := store.Create(filename, compression)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrStore, err)
	}
	defer s.Close()

	resolution, err := firstFrameShape(c)
	if err != nil {
		return "", fmt.Errorf("%w: determining frame resolution: %v", errs.ErrStore, err)
	}

	pumponBg, err := averageBackground(c.PumpOnBackgroundFiles(), resolution[0], resolution[1])
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrStore, err)
	}
	pumpoffBg, err := averageBackground(c.PumpOffBackgroundFiles(), resolution[0], resolution[1])
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrStore, err)
	}

	if err := s.WriteBackground("background_pumpon", pumponBg); err != nil {
		return "", err
	}
	if err := s.WriteBackground("background_pumpoff", pumpoffBg); err != nil {
		return "", err
	}

	if err := writePumpoffCube(s, c, pumpoffBg, resolution); err != nil {
		return "", err
	}

	meta := store.Meta{
		Resolution:      resolution,
		Center:          [2]float64{center.X, center.Y},
		BeamBlock:       [4]int{beamBlock.X1, beamBlock.X2, beamBlock.Y1, beamBlock.Y2},
		Fluence:         c.Fluence(),
		Current:         c.Current(),
		Exposure:        c.Exposure(),
		Energy:          c.Energy(),
		NScans:          len(c.Scans()),
		TimePoints:      c.TimePoints(),
		AcquisitionDate: c.AcquisitionDate(),
		SampleType:      string(sampleType),
		RunID:           uuid.NewString(),
	}
	if err := s.WriteMeta(meta); err != nil {
		return "", err
	}

	invalid, err := processDelays(ctx, s, c, pumponBg, beamBlock, combine.Options{
		CC:         cc,
		Center:     center,
		Radius:     radius,
		WindowSize: windowSize,
		RingWidth:  ringWidth,
	}, cfg, progress)
	if err != nil {
		if errors.Is(err, errs.ErrCancelled) {
			_ = s.SetIncomplete()
		}
		return "", err
	}

	meta.InvalidDelays = invalid
	if err := s.WriteMeta(meta); err != nil {
		return "", err
	}

	if sampleType == SamplePowder {
		if err := writePowder(s, c, center, beamBlock, resolution, invalid); err != nil {
			return "", err
		}
	}

	progress(100)
	return filename, nil
}

// processDelays fans the per-delay combine step out across a bounded
// pond pool, then serializes the store writes and progress callback in
// sorted-delay order, per the non-reentrant progress contract.
func processDelays(
	ctx context.Context,
	s *store.Store,
	c *corpus.Corpus,
	background *imageio.Frame,
	beamBlock geom.Rect,
	opts combine.Options,
	cfg settings,
	progress func(int),
) ([]string, error) {
	delays := c.TimePoints()
	n := len(delays)
	results := make([]delayResult, n)

	pool := pond.New(cfg.workers, 0, pond.MinWorkers(cfg.workers), pond.Context(ctx))

	for i, delay := range delays {
		i, delay := i, delay
		pool.Submit(func() {
			value, err := strconv.ParseFloat(delay, 64)
			if err != nil {
				results[i] = delayResult{delay: delay, err: fmt.Errorf("%w: unparsable time delay %q", errs.ErrCorpusMalformed, delay)}
				return
			}
			img, stats, err := combine.Combine(c, value, background, beamBlock, opts, cfg.logger)
			results[i] = delayResult{delay: delay, img: img, stats: stats, err: err}
		})
	}
	pool.StopAndWait()

	var invalid []string

	for i, delay := range delays {
		select {
		case <-ctx.Done():
			return invalid, fmt.Errorf("%w: cancelled before delay %s", errs.ErrCancelled, delay)
		default:
		}

		res := results[i]
		if res.err != nil {
			cfg.logger.Warn("time delay has no surviving scans, writing NaN placeholder", "timedelay", delay, "error", res.err)
			invalid = append(invalid, delay)
			if err := s.WriteIntensity(delay, nanImage(s)); err != nil {
				return invalid, err
			}
		} else {
			if err := s.WriteIntensity(delay, res.img); err != nil {
				return invalid, err
			}
		}

		progress(int(math.Floor(100 * float64(i) / float64(len(delays)))))
	}

	return invalid, nil
}

// nanImage builds a resolution-matched, all-NaN placeholder frame for a
// delay that failed to combine entirely.
func nanImage(s *store.Store) *geom.Image {
	meta, err := s.ReadMeta()
	if err != nil {
		// Fall back to a 1x1 placeholder; Meta is always written before
		// any delay is processed, so this path is unreachable in practice.
		img := geom.NewImage(1, 1)
		img.Data[0] = math.NaN()
		return img
	}
	img := geom.NewImage(meta.Resolution[0], meta.Resolution[1])
	for i := range img.Data {
		img.Data[i] = math.NaN()
	}
	return img
}

func writePowder(s *store.Store, c *corpus.Corpus, center geom.Point, beamBlock geom.Rect, resolution [2]int, invalid []string) error {
	invalidSet := make(map[string]bool, len(invalid))
	for _, d := range invalid {
		invalidSet[d] = true
	}

	for _, delay := range c.TimePoints() {
		if invalidSet[delay] {
			continue
		}

		img, err := s.ReadIntensity(delay, resolution[0], resolution[1])
		if err != nil {
			return err
		}

		radii, intensity, errsOut, err := radial.Average(img, center, beamBlock)
		if err != nil {
			return err
		}
		if radii == nil {
			continue
		}

		if err := s.WritePowder(delay, radii, intensity, errsOut); err != nil {
			return err
		}
	}

	return nil
}

func writePumpoffCube(s *store.Store, c *corpus.Corpus, background *imageio.Frame, resolution [2]int) error {
	scans := c.Scans()
	cube := imageio.NewCube(resolution[0], resolution[1], len(scans))

	for k, scan := range scans {
		frame, err := c.PumpOffRawData(scan)
		if err != nil {
			continue
		}
		for i := 0; i < resolution[0]*resolution[1]; i++ {
			y, x := i/resolution[1], i%resolution[1]
			v := int32(frame.At(y, x)) - int32(background.At(y, x))
			if v < 0 {
				v = 0
			}
			cube.Set(y, x, k, uint16(v))
		}
	}

	return s.WritePumpoffCube(cube)
}

// averageBackground averages the given background files, returning an
// all-zero frame if none were found (per the "empty H×W zeros if none
// found" contract).
func averageBackground(paths []string, rows, cols int) (*imageio.Frame, error) {
	if len(paths) == 0 {
		return imageio.NewFrame(rows, cols), nil
	}

	sum := make([]float64, rows*cols)
	for _, path := range paths {
		f, err := imageio.Read(path)
		if err != nil {
			return nil, err
		}
		for i, v := range f.Pix {
			sum[i] += float64(v)
		}
	}

	n := float64(len(paths))
	out := imageio.NewFrame(rows, cols)
	for i, v := range sum {
		avg := v / n
		if avg > 65535 {
			avg = 65535
		}
		out.Pix[i] = uint16(avg)
	}
	return out, nil
}

// firstFrameShape locates the first raw frame available (by ascending
// delay, then scan) to determine the corpus's H×W resolution.
func firstFrameShape(c *corpus.Corpus) ([2]int, error) {
	delays := c.TimePoints()
	scans := append([]int(nil), c.Scans()...)
	sort.Ints(scans)

	for _, delay := range delays {
		value, err := strconv.ParseFloat(delay, 64)
		if err != nil {
			continue
		}
		for _, scan := range scans {
			if f, err := c.RawData(value, scan); err == nil {
				return [2]int{f.Rows, f.Cols}, nil
			}
		}
	}

	for _, scan := range scans {
		if f, err := c.PumpOffRawData(scan); err == nil {
			return [2]int{f.Rows, f.Cols}, nil
		}
	}

	return [2]int{}, fmt.Errorf("%w: no raw frames found in corpus", errs.ErrImageNotFound)
}
