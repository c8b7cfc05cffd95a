package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/brensch/zstash/internal/app"
	"github.com/brensch/zstash/internal/config"
	"github.com/brensch/zstash/internal/coordinator"
	"github.com/brensch/zstash/internal/db"
	"github.com/brensch/zstash/internal/extractor"
	"github.com/brensch/zstash/internal/orchestrator"
	"github.com/brensch/zstash/internal/remote"
	"github.com/brensch/zstash/internal/report"
)

var errHPSSRequired = errors.New("--hpss argument is required when local copy of database is unavailable")

// addRetrieveFlags registers the flags shared by extract and check.
func addRetrieveFlags(cmd *cobra.Command) {
	def := config.Default()
	f := cmd.Flags()
	f.Int("workers", def.Workers, "Number of parallel extraction workers")
	f.Bool("keep", false, "Keep archive segments fetched from the remote tier in the cache")
	f.Bool("progress", false, "Show a live progress view instead of log output on the terminal")
	f.String("failure-report", "", "Write failed files to this parquet file")
	f.String("retry-from", "", "Retry the files listed in a failure report written by --failure-report")
	f.Int("block-size", def.BlockSize, "Read size in bytes while streaming archive members")
	f.Duration("time-tolerance", def.TimeTolerance, "Modification time difference under which an existing file is not extracted again")
}

// openIndex opens the local index, fetching it from the remote tier first
// when it is missing and a remote was given on the command line.
func openIndex(ctx context.Context, cfg config.Config, logger *slog.Logger) (*db.Index, error) {
	logger.Debug("Opening index database.", slog.String("path", cfg.IndexPath()))
	idx, err := db.Open(ctx, cfg.IndexPath())
	if err == nil || !errors.Is(err, db.ErrIndexMissing) {
		return idx, err
	}
	if cfg.HPSS == "" {
		logger.Error(errHPSSRequired.Error())
		return nil, errHPSSRequired
	}

	fetcher, err := remote.New(ctx, cfg.HPSS)
	if err != nil {
		return nil, fmt.Errorf("configure remote %s: %w", cfg.HPSS, err)
	}
	logger.Info("Fetching index database from remote.", slog.String("hpss", cfg.HPSS))
	if err := fetcher.Fetch(ctx, cfg.IndexFile, cfg.IndexPath()); err != nil {
		return nil, fmt.Errorf("fetch index database: %w", err)
	}
	return db.Open(ctx, cfg.IndexPath())
}

// archiveSettings reads what the archival run recorded in the index.
func archiveSettings(ctx context.Context, idx *db.Index) (config.ArchiveSettings, error) {
	raw, err := idx.Settings(ctx, config.ArchiveKeys)
	if err != nil {
		return config.ArchiveSettings{}, err
	}
	return config.ParseArchiveSettings(raw)
}

// runRetrieve is the body of extract (keepFiles) and check.
func runRetrieve(ctx context.Context, patterns []string, keepFiles bool) error {
	logger := getLogger()
	cfg := getConfig()
	command := "check"
	if keepFiles {
		command = "extract"
	}

	if cfg.RetryFrom != "" {
		rows, err := report.ReadParquet(cfg.RetryFrom)
		if err != nil {
			return err
		}
		if len(rows) == 0 && len(patterns) == 0 {
			logger.Info("Failure report lists no files, nothing to retry.", slog.String("path", cfg.RetryFrom))
			return nil
		}
		patterns = append(patterns, report.Patterns(rows)...)
		logger.Info("Retrying files from failure report.", slog.String("path", cfg.RetryFrom), slog.Int("files", len(rows)))
	}

	idx, err := openIndex(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		logger.Debug("Closing index database.")
		if err := idx.Close(); err != nil {
			logger.Warn("Failed to close index database.", "error", err)
		}
	}()

	settings, err := archiveSettings(ctx, idx)
	if err != nil {
		return fmt.Errorf("read archive settings: %w", err)
	}
	hpss := config.ResolveHPSS(cfg.HPSS, settings)
	keepSegments := cfg.Keep || settings.Keep
	logger.Debug("Running zstash "+command+".",
		slog.String("path", settings.Path),
		slog.String("hpss", hpss),
		slog.String("max_size", humanize.Bytes(uint64(max(settings.MaxSize, 0)))),
		slog.Bool("keep", keepSegments),
	)

	fetcher, err := remote.New(ctx, hpss)
	if err != nil {
		return fmt.Errorf("configure remote %s: %w", hpss, err)
	}

	matches, err := orchestrator.Match(ctx, idx, patterns)
	if err != nil {
		return err
	}
	logger.Info("Matched files in index.", slog.Int("count", len(matches)))

	runID := uuid.NewString()
	opts := orchestrator.Options{
		Workers:   cfg.Workers,
		KeepFiles: keepFiles,
		Extractor: extractor.Options{
			CacheDir:     cfg.CacheDir,
			BlockSize:    cfg.BlockSize,
			Tolerance:    cfg.TimeTolerance,
			KeepSegments: keepSegments,
			Fetcher:      fetcher,
		},
		Logger: logger,
		RunID:  runID,
	}

	var failures []db.Record
	if cfg.Progress {
		failures, err = runWithProgress(ctx, command, opts, matches, logger)
	} else {
		failures, err = orchestrator.Run(ctx, opts, matches)
	}
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		return nil
	}

	summary := report.Summarize(failures)
	summary.Log(logger)
	if cfg.FailureReport != "" {
		if err := summary.WriteParquet(cfg.FailureReport, runID); err != nil {
			logger.Error("Failed to write failure report.", slog.String("path", cfg.FailureReport), "error", err)
		} else {
			logger.Info("Wrote failure report.", slog.String("path", cfg.FailureReport))
		}
	}
	return fmt.Errorf("%s: %d files failed in %d archives", command, len(summary.Files), len(summary.Archives))
}

// runWithProgress runs the extraction in the background while a bubbletea
// program renders segment progress. Quitting the view does not stop the run.
func runWithProgress(ctx context.Context, title string, opts orchestrator.Options, matches []db.Record, logger *slog.Logger) ([]db.Record, error) {
	p := tea.NewProgram(app.NewAppModel(title))
	opts.Progress = func(pr coordinator.Progress) { p.Send(app.NewProgress(pr)) }

	var (
		failures []db.Record
		runErr   error
	)
	done := make(chan struct{})
	start := time.Now()
	go func() {
		defer close(done)
		failures, runErr = orchestrator.Run(ctx, opts, matches)
		p.Send(app.NewFinished(len(failures), start, runErr))
	}()

	if _, err := p.Run(); err != nil {
		logger.Warn("Progress view stopped.", "error", err)
	}
	<-done
	return failures, runErr
}
