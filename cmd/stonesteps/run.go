package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"stonesteps/pkg/fitsdata"
	"stonesteps/pkg/photometry"
	"stonesteps/pkg/store"
)

// fileFunc processes one input file, filling in run.
type fileFunc func(ctx context.Context, path string, run *store.Run, log *slog.Logger) error

// processFiles runs fn over files in order. A failed file does not stop the
// batch; cancellation does. The errors of all files are joined.
func processFiles(ctx context.Context, files []string, fn fileFunc) error {
	var bar *progressbar.ProgressBar
	if len(files) > 1 {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("Processing"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
	}

	var errs []error
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		run := store.NewRun(path)
		log := logger.With("run", run.ID.String())

		start := time.Now()
		err := fn(ctx, path, run, log)
		if err != nil {
			run.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			log.Error("processing failed", "file", path, "err", err)
		} else {
			log.Debug("processed", "file", path, "elapsed", time.Since(start))
		}

		if db != nil {
			if err := db.InsertRun(context.WithoutCancel(ctx), run); err != nil {
				log.Warn("could not record run", "file", path, "err", err)
			}
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	return errors.Join(errs...)
}

// recordTables copies the extraction statistics of d into run.
func recordTables(run *store.Run, d *fitsdata.Data) {
	if t := d.Table(photometry.LowThresholdTable); t != nil {
		run.LowCount = len(t.Rows)
	}
	if t := d.Table(photometry.HighThresholdTable); t != nil {
		run.HighCount = len(t.Rows)
	}
	if v, ok := d.Header.GetDouble("RHALF"); ok {
		run.RHalf = v
	}
	if v, ok := d.Header.GetDouble("ELONG"); ok {
		run.Elong = v
	}
	run.Steps = d.Header.GetString("PIPESTEP")
}
