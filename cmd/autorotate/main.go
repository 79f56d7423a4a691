// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Command autorotate rotates JPEG files in place according to their EXIF orientation.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/bep/autorotate"
)

type config struct {
	opts    autorotate.Options
	workers int
	dryRun  bool
	verbose bool
}

type outcome struct {
	filename string
	result   autorotate.Result
	err      error
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("autorotate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: autorotate [flags] file...\n")
		fs.PrintDefaults()
	}

	var cfg config
	fs.IntVar(&cfg.opts.Quality, "quality", 100, "JPEG quality used when the image must be re-encoded (1-100)")
	fs.BoolVar(&cfg.opts.RequireLossless, "lossless", false, "fail instead of re-encoding images that cannot be rotated losslessly")
	fs.IntVar(&cfg.workers, "j", runtime.GOMAXPROCS(0), "number of files to process in parallel")
	fs.BoolVar(&cfg.dryRun, "dry-run", false, "do not write any files")
	fs.BoolVar(&cfg.verbose, "v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	failed := 0
	for _, o := range process(fs.Args(), cfg, logger) {
		if o.err != nil {
			failed++
			switch autorotate.KindOf(o.err) {
			case autorotate.CorrectOrientation, autorotate.NoOrientation:
				fmt.Fprintf(stdout, "%s: Skipped (%s)\n", o.filename, o.err)
			default:
				fmt.Fprintf(stdout, "%s: Failed (%s)\n", o.filename, o.err)
			}
			continue
		}
		fmt.Fprintf(stdout, "%s: Processed (Orientation was %d)\n", o.filename, o.result.Orientation)
	}
	if failed > 0 {
		return 1
	}
	return 0
}

// process rotates the files using a pool of cfg.workers goroutines.
// The outcomes are returned in the order of filenames.
func process(filenames []string, cfg config, logger *slog.Logger) []outcome {
	workers := max(1, min(cfg.workers, len(filenames)))
	outcomes := make([]outcome, len(filenames))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = processFile(filenames[i], cfg, logger)
			}
		}()
	}
	for i := range filenames {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

func processFile(filename string, cfg config, logger *slog.Logger) outcome {
	log := logger.With("file", filename)
	opts := cfg.opts
	opts.Warnf = func(format string, args ...any) {
		log.Warn(fmt.Sprintf(format, args...))
	}

	res, err := autorotate.RotatePath(filename, opts)
	if err != nil {
		log.Debug("rotate failed", "kind", autorotate.KindOf(err), "error", err)
		return outcome{filename: filename, err: err}
	}
	log.Debug("rotated", "orientation", int(res.Orientation), "width", res.Width, "height", res.Height, "lossless", res.Lossless)

	if cfg.verbose {
		logTags(log, res.Data)
	}

	if cfg.dryRun {
		return outcome{filename: filename, result: res}
	}
	if err := autorotate.WriteFile(filename, res.Data); err != nil {
		return outcome{filename: filename, err: err}
	}
	return outcome{filename: filename, result: res}
}

var rewrittenTags = []struct {
	dir autorotate.IFD
	tag uint16
}{
	{autorotate.IFD0, autorotate.TagOrientation},
	{autorotate.IFDExif, autorotate.TagPixelXDimension},
	{autorotate.IFDExif, autorotate.TagPixelYDimension},
}

func logTags(log *slog.Logger, data []byte) {
	tree, err := autorotate.ParseExif(data)
	if err != nil {
		log.Debug("re-read EXIF", "error", err)
		return
	}
	for _, t := range rewrittenTags {
		if v, found := tree.Get(t.dir, t.tag); found {
			log.Debug("tag", "ifd", t.dir.String(), "name", autorotate.TagName(t.dir, t.tag), "value", v.String())
		}
	}
}
