// Package orchestrator drives an extraction run: it resolves which copy of
// each file to restore, spreads segments over workers and gathers failures.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/zstash/internal/coordinator"
	"github.com/brensch/zstash/internal/db"
	"github.com/brensch/zstash/internal/extractor"
	"github.com/brensch/zstash/internal/partition"
)

// Options configures an extraction run.
type Options struct {
	// Workers above 1 spreads segments over that many goroutines.
	Workers   int
	KeepFiles bool
	// Extractor is the template for every worker's extractor. Logger and
	// Observer are set per worker.
	Extractor extractor.Options
	Logger    *slog.Logger
	// Progress, if set, is called after every completed segment.
	Progress func(coordinator.Progress)
	// RunID tags every log line of the run. A random id is used when empty.
	RunID string
}

// Run resolves duplicate names in records, extracts (or only checks) what is
// left and returns every record that failed. A failing record or segment never
// stops the run; the error is only set when the run itself could not finish.
func Run(ctx context.Context, opts Options, records []db.Record) ([]db.Record, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger = logger.With(slog.String("run_id", runID))

	resolved := Resolve(records)
	segs := partition.Segments(resolved)
	var total int64
	for _, s := range segs {
		total += s.Bytes
	}
	logger.Info("Resolved files to retrieve.",
		slog.Int("matched", len(records)),
		slog.Int("files", len(resolved)),
		slog.Int("segments", len(segs)),
		slog.String("size", humanize.Bytes(uint64(total))),
	)
	if len(resolved) == 0 {
		return nil, nil
	}

	start := time.Now()
	var (
		failures []db.Record
		err      error
	)
	if opts.Workers <= 1 {
		failures = runSequential(ctx, opts, logger, resolved, segs)
	} else {
		failures, err = runParallel(ctx, opts, logger, resolved, segs)
	}
	logger.Info("Extraction run finished.",
		slog.Int("failures", len(failures)),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)
	return failures, err
}

func runSequential(ctx context.Context, opts Options, logger *slog.Logger, records []db.Record, segs []partition.Segment) []db.Record {
	eo := opts.Extractor
	eo.Logger = logger
	if opts.Progress != nil {
		eo.Observer = newProgressObserver(segs, opts.Progress)
	}
	return extractor.New(eo).Extract(ctx, records, opts.KeepFiles)
}

func runParallel(ctx context.Context, opts Options, logger *slog.Logger, records []db.Record, segs []partition.Segment) ([]db.Record, error) {
	for _, a := range partition.Plan(records, opts.Workers) {
		logger.Debug("Assigned segments to worker.",
			slog.Int("worker", a.Worker),
			slog.Int("segments", len(a.Archives)),
			slog.String("size", humanize.Bytes(uint64(a.Bytes))),
		)
	}
	parts := partition.Partition(records, opts.Workers)

	var copts []coordinator.Option
	if opts.Progress != nil {
		copts = append(copts, coordinator.WithProgress(opts.Progress))
	}
	coord := coordinator.New(logger.Handler(), copts...)
	coord.Expect(segs)

	var handles []*coordinator.Worker
	g, gctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		if len(part) == 0 {
			continue
		}
		w := coord.NewWorker(i)
		handles = append(handles, w)
		g.Go(func() error {
			eo := opts.Extractor
			eo.Logger = w.Logger()
			eo.Observer = w
			// Failures reach the coordinator through the observer.
			extractor.New(eo).Extract(gctx, part, opts.KeepFiles)
			return nil
		})
	}
	logger.Info("Started extraction workers.", slog.Int("workers", len(handles)))

	err := g.Wait()
	for _, w := range handles {
		w.Close()
	}
	failures := coord.Close()
	if err != nil {
		return failures, fmt.Errorf("extraction workers: %w", err)
	}
	return failures, nil
}
