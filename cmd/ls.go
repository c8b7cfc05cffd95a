package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/brensch/zstash/internal/config"
	"github.com/brensch/zstash/internal/db"
	"github.com/brensch/zstash/internal/orchestrator"
	"github.com/brensch/zstash/internal/partition"
	"github.com/brensch/zstash/internal/remote"
)

var (
	lsLong     bool
	lsSegments bool
)

// lsCmd lists what the index holds for the given patterns.
var lsCmd = &cobra.Command{
	Use:   "ls [files...]",
	Short: "List archived files",
	Long: `Lists the files in the index whose name or archive segment matches one of
the given glob patterns. Use --long for all index columns, or --segments to list
the archive segments holding the matches and whether they are in the local
cache or on the remote tier.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := getLogger()
		cfg := getConfig()

		idx, err := openIndex(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer idx.Close()

		matches, err := orchestrator.Match(ctx, idx, args)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		switch {
		case lsSegments:
			settings, err := archiveSettings(ctx, idx)
			if err != nil {
				return fmt.Errorf("read archive settings: %w", err)
			}
			fetcher, err := remote.New(ctx, config.ResolveHPSS(cfg.HPSS, settings))
			if err != nil {
				return err
			}
			return listSegments(ctx, out, cfg.CacheDir, fetcher, matches, logger)
		case lsLong:
			return listLong(out, matches)
		}
		for _, m := range matches {
			fmt.Fprintln(out, m.Name)
		}
		return nil
	},
}

func listLong(w io.Writer, matches []db.Record) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "NAME", "SIZE", "MTIME", "MD5", "TAR", "OFFSET")
	for _, m := range matches {
		t.Row(
			strconv.FormatInt(m.ID, 10),
			m.Name,
			strconv.FormatInt(m.Size, 10),
			m.ModTime.Format(time.DateTime),
			m.Checksum,
			m.Archive,
			strconv.FormatInt(m.Offset, 10),
		)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// Segment states reported by ls --segments.
const (
	segmentCached  = "cached"
	segmentRemote  = "remote"
	segmentMissing = "missing"
)

// segmentStates reports for every segment whether it is in the cache, only
// on the remote tier, or nowhere to be found.
func segmentStates(ctx context.Context, cacheDir string, fetcher remote.Fetcher, segs []partition.Segment) (map[string]string, error) {
	onRemote := make(map[string]bool)
	names, err := fetcher.List(ctx, "*.tar")
	switch {
	case errors.Is(err, remote.ErrNoRemote):
	case err != nil:
		return nil, fmt.Errorf("list remote segments: %w", err)
	}
	for _, n := range names {
		onRemote[n] = true
	}

	states := make(map[string]string, len(segs))
	for _, s := range segs {
		switch _, err := os.Stat(filepath.Join(cacheDir, s.Archive)); {
		case err == nil:
			states[s.Archive] = segmentCached
		case onRemote[s.Archive]:
			states[s.Archive] = segmentRemote
		default:
			states[s.Archive] = segmentMissing
		}
	}
	return states, nil
}

func listSegments(ctx context.Context, w io.Writer, cacheDir string, fetcher remote.Fetcher, matches []db.Record, logger *slog.Logger) error {
	resolved := orchestrator.Resolve(matches)
	segs := partition.Segments(resolved)
	states, err := segmentStates(ctx, cacheDir, fetcher, segs)
	if err != nil {
		return err
	}
	logger.Debug("Listed segments.", slog.Int("segments", len(segs)))

	// Listed by name rather than by the size order used for scheduling.
	byName := make(map[string]partition.Segment, len(segs))
	for _, s := range segs {
		byName[s.Archive] = s
	}
	counts := make(map[string]int)
	var order []string
	for _, r := range resolved {
		if counts[r.Archive] == 0 {
			order = append(order, r.Archive)
		}
		counts[r.Archive]++
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TAR", "FILES", "SIZE", "STATE")
	for _, a := range order {
		t.Row(a, strconv.Itoa(counts[a]), humanize.Bytes(uint64(byName[a].Bytes)), states[a])
	}
	_, err = fmt.Fprintln(w, t.Render())
	return err
}

func init() {
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "Show every index column")
	lsCmd.Flags().BoolVar(&lsSegments, "segments", false, "List archive segments and their cache state instead of files")
}
