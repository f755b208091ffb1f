package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/alitto/pond"
	"github.com/urfave/cli/v2"

	"github.com/raweld/raweld/internal/corpus"
	"github.com/raweld/raweld/internal/errs"
	"github.com/raweld/raweld/internal/geom"
	"github.com/raweld/raweld/internal/pipeline"
	"github.com/raweld/raweld/internal/store"
)

const (
	exitOK        = 0
	exitBadArgs   = 2
	exitRawIOErr  = 3
	exitStoreErr  = 4
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "raweld",
		Usage: "reduce ultrafast electron diffraction raw detector frames into a processed dataset",
		// Run returns exit-coded errors instead of exiting; main maps them
		// to the process exit code.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			reduceCommand(),
			infoCommand(),
			reduceBatchCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Println(err)
		os.Exit(exitCodeFor(err))
	}
}

func reduceCommand() *cli.Command {
	return &cli.Command{
		Name:      "reduce",
		Usage:     "reduce one raw acquisition directory into a processed dataset",
		ArgsUsage: "<raw-dir> <out-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "center", Usage: "beam center as X,Y", Required: true},
			&cli.StringFlag{Name: "beam-block", Usage: "beam-block rectangle as x1,x2,y1,y2", Required: true},
			&cli.StringFlag{Name: "sample-type", Usage: "powder|single-crystal", Value: string(pipeline.SampleSingleCrystal)},
			&cli.BoolFlag{Name: "cc", Usage: "enable per-frame center-drift correction"},
			&cli.Float64Flag{Name: "radius", Usage: "expected ring radius for center-drift correction", Value: 50},
			&cli.Float64Flag{Name: "window", Usage: "center-finder search window size", Value: 20},
			&cli.Float64Flag{Name: "ring", Usage: "center-finder ring width", Value: 5},
			&cli.StringFlag{Name: "compress", Usage: "lzf|none", Value: string(store.CompressionLZF)},
			&cli.IntFlag{Name: "workers", Usage: "bounded worker pool size", Value: runtime.NumCPU()},
		},
		Action: func(cCtx *cli.Context) error {
			if cCtx.NArg() != 2 {
				return cli.Exit("reduce requires <raw-dir> and <out-file>", exitBadArgs)
			}
			rawDir, outFile := cCtx.Args().Get(0), cCtx.Args().Get(1)

			center, err := parsePoint(cCtx.String("center"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("bad --center: %v", err), exitBadArgs)
			}
			beamBlock, err := parseRect(cCtx.String("beam-block"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("bad --beam-block: %v", err), exitBadArgs)
			}
			sampleType := pipeline.SampleType(cCtx.String("sample-type"))
			if sampleType != pipeline.SamplePowder && sampleType != pipeline.SampleSingleCrystal {
				return cli.Exit("bad --sample-type: must be powder or single-crystal", exitBadArgs)
			}
			compression := store.Compression(cCtx.String("compress"))
			if compression != store.CompressionLZF && compression != store.CompressionNone {
				return cli.Exit("bad --compress: must be lzf or none", exitBadArgs)
			}

			c, err := corpus.Open(rawDir)
			if err != nil {
				return cli.Exit(err.Error(), exitRawIOErr)
			}
			for _, w := range c.Warnings() {
				slog.Warn(w)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			progress := func(p int) { fmt.Fprintf(cCtx.App.Writer, "progress: %d%%\n", p) }

			_, err = pipeline.Process(ctx, c, outFile, center, cCtx.Float64("radius"), beamBlock, sampleType, compression,
				progress, cCtx.Bool("cc"), cCtx.Float64("window"), cCtx.Float64("ring"),
				pipeline.WithWorkers(cCtx.Int("workers")))
			if err != nil {
				return cli.Exit(err.Error(), exitCodeFor(err))
			}
			return nil
		},
	}
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "print a processed dataset's metadata as indented JSON",
		ArgsUsage: "<out-file>",
		Action: func(cCtx *cli.Context) error {
			if cCtx.NArg() != 1 {
				return cli.Exit("info requires <out-file>", exitBadArgs)
			}
			s, err := store.Open(cCtx.Args().Get(0), store.OpenRead)
			if err != nil {
				return cli.Exit(err.Error(), exitStoreErr)
			}
			defer s.Close()

			meta, err := s.ReadMeta()
			if err != nil {
				return cli.Exit(err.Error(), exitStoreErr)
			}

			jsn, err := json.MarshalIndent(meta, "", "    ")
			if err != nil {
				return cli.Exit(err.Error(), exitStoreErr)
			}
			fmt.Fprintln(cCtx.App.Writer, string(jsn))
			return nil
		},
	}
}

func reduceBatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "reduce-batch",
		Usage:     "reduce every raw acquisition directory found under a directory",
		ArgsUsage: "<dir-of-raw-dirs> <out-dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "center", Required: true},
			&cli.StringFlag{Name: "beam-block", Required: true},
			&cli.StringFlag{Name: "sample-type", Value: string(pipeline.SampleSingleCrystal)},
			&cli.BoolFlag{Name: "cc"},
			&cli.Float64Flag{Name: "radius", Value: 50},
			&cli.Float64Flag{Name: "window", Value: 20},
			&cli.Float64Flag{Name: "ring", Value: 5},
			&cli.StringFlag{Name: "compress", Value: string(store.CompressionLZF)},
			&cli.IntFlag{Name: "workers", Value: runtime.NumCPU() * 2},
		},
		Action: func(cCtx *cli.Context) error {
			if cCtx.NArg() != 2 {
				return cli.Exit("reduce-batch requires <dir-of-raw-dirs> and <out-dir>", exitBadArgs)
			}
			rootDir, outDir := cCtx.Args().Get(0), cCtx.Args().Get(1)

			center, err := parsePoint(cCtx.String("center"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("bad --center: %v", err), exitBadArgs)
			}
			beamBlock, err := parseRect(cCtx.String("beam-block"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("bad --beam-block: %v", err), exitBadArgs)
			}
			sampleType := pipeline.SampleType(cCtx.String("sample-type"))
			compression := store.Compression(cCtx.String("compress"))

			entries, err := os.ReadDir(rootDir)
			if err != nil {
				return cli.Exit(err.Error(), exitRawIOErr)
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return cli.Exit(err.Error(), exitStoreErr)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			n := cCtx.Int("workers")
			pool := pond.New(n, 0, pond.MinWorkers(n), pond.Context(ctx))
			defer pool.StopAndWait()

			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				name := e.Name()
				pool.Submit(func() {
					rawDir := filepath.Join(rootDir, name)
					outFile := filepath.Join(outDir, name+".raweld")

					c, err := corpus.Open(rawDir)
					if err != nil {
						slog.Error("skipping raw directory", "dir", rawDir, "error", err)
						return
					}

					if _, err := pipeline.Process(ctx, c, outFile, center, cCtx.Float64("radius"), beamBlock, sampleType, compression,
						nil, cCtx.Bool("cc"), cCtx.Float64("window"), cCtx.Float64("ring")); err != nil {
						slog.Error("reduction failed", "dir", rawDir, "error", err)
					}
				})
			}

			return nil
		},
	}
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errs.ErrImageNotFound), errors.Is(err, errs.ErrDecode), errors.Is(err, errs.ErrCorpusMalformed):
		return exitRawIOErr
	case errors.Is(err, errs.ErrStore), errors.Is(err, errs.ErrCancelled):
		return exitStoreErr
	default:
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		return exitBadArgs
	}
}

func parsePoint(s string) (geom.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return geom.Point{}, fmt.Errorf("expected X,Y, got %q", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geom.Point{}, err
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geom.Point{}, err
	}
	return geom.Point{X: x, Y: y}, nil
}

func parseRect(s string) (geom.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geom.Rect{}, fmt.Errorf("expected x1,x2,y1,y2, got %q", s)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return geom.Rect{}, err
		}
		vals[i] = v
	}
	return geom.Rect{X1: vals[0], X2: vals[1], Y1: vals[2], Y2: vals[3]}, nil
}
