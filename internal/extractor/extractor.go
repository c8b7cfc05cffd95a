package extractor

import (
	"archive/tar"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/brensch/zstash/internal/config"
	"github.com/brensch/zstash/internal/db"
	"github.com/brensch/zstash/internal/remote"
)

// Observer is notified while Extract runs. Worker handles use it to group
// output per segment and to publish failures as soon as they happen.
type Observer interface {
	SegmentStarted(archive string)
	SegmentFinished(archive string)
	RecordFailed(rec db.Record)
}

// Options configures an Extractor.
type Options struct {
	CacheDir  string
	BlockSize int
	Tolerance time.Duration
	// KeepSegments retains segments fetched during this run in the cache.
	KeepSegments bool
	Fetcher      remote.Fetcher
	Logger       *slog.Logger
	Observer     Observer
}

// Extractor pulls index records out of their archive segments. It is not safe
// for concurrent use; every worker owns its own Extractor.
type Extractor struct {
	cacheDir     string
	keepSegments bool
	fetcher      remote.Fetcher
	checker      IntegrityChecker
	logger       *slog.Logger
	observer     Observer
	buf          []byte
}

// New creates an Extractor. Zero values fall back to the package defaults.
func New(opts Options) *Extractor {
	if opts.BlockSize <= 0 {
		opts.BlockSize = config.DefaultBlockSize
	}
	if opts.CacheDir == "" {
		opts.CacheDir = config.DefaultCacheDir
	}
	if opts.Fetcher == nil {
		opts.Fetcher = remote.None{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Extractor{
		cacheDir:     opts.CacheDir,
		keepSegments: opts.KeepSegments,
		fetcher:      opts.Fetcher,
		checker:      IntegrityChecker{Tolerance: opts.Tolerance},
		logger:       opts.Logger,
		observer:     opts.Observer,
		buf:          make([]byte, opts.BlockSize),
	}
}

// Extract processes records, which must be ordered by (Archive, Offset).
// With keepFiles false members are only streamed and checksummed. The
// returned records are the ones that failed checksum verification or could
// not be processed at all.
func (e *Extractor) Extract(ctx context.Context, records []db.Record, keepFiles bool) []db.Record {
	var failures []db.Record
	fail := func(rec db.Record) {
		failures = append(failures, rec)
		if e.observer != nil {
			e.observer.RecordFailed(rec)
		}
	}

	for start := 0; start < len(records); {
		end := start + 1
		for end < len(records) && records[end].Archive == records[start].Archive {
			end++
		}
		e.extractSegment(ctx, records[start:end], keepFiles, fail)
		start = end
	}
	return failures
}

// extractSegment handles the consecutive records of one archive segment.
func (e *Extractor) extractSegment(ctx context.Context, recs []db.Record, keepFiles bool, fail func(db.Record)) {
	archive := recs[0].Archive
	l := e.logger.With(slog.String("archive", archive))
	if e.observer != nil {
		e.observer.SegmentStarted(archive)
		defer e.observer.SegmentFinished(archive)
	}

	path := filepath.Join(e.cacheDir, archive)
	fetched := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		l.Info("Fetching archive segment from remote.", slog.String("dest", path))
		start := time.Now()
		if err := e.fetcher.Fetch(ctx, archive, path); err != nil {
			l.Error("Failed to fetch archive segment, all of its files are marked failed.",
				"error", err, slog.Int("files", len(recs)))
			for _, rec := range recs {
				fail(rec)
			}
			return
		}
		fetched = true
		l.Debug("Fetched archive segment.", slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	}

	l.Info("Opening tar archive.", slog.String("path", path))
	f, err := os.Open(path)
	if err != nil {
		l.Error("Failed to open archive segment, all of its files are marked failed.", "error", err)
		for _, rec := range recs {
			fail(rec)
		}
		return
	}

	var streamed int64
	for _, rec := range recs {
		ok, err := e.extractRecord(f, rec, keepFiles, l)
		if err != nil {
			l.Error("Failed retrieving file.", slog.String("name", rec.Name), slog.Int64("offset", rec.Offset), "error", err)
			fail(rec)
			continue
		}
		if !ok {
			fail(rec)
			continue
		}
		streamed += rec.Size
	}

	l.Debug("Closing tar archive.", slog.String("streamed", humanize.Bytes(uint64(streamed))))
	if err := f.Close(); err != nil {
		l.Warn("Failed to close archive segment.", "error", err)
	}
	if fetched && !e.keepSegments {
		if err := os.Remove(path); err != nil {
			l.Warn("Failed to remove fetched segment from cache.", "error", err)
		} else {
			l.Debug("Removed fetched segment from cache.")
		}
	}
}

// extractRecord seeks to rec's header and handles the member found there.
// ok is false when the content checksum did not match the index.
func (e *Extractor) extractRecord(f *os.File, rec db.Record, keepFiles bool, l *slog.Logger) (ok bool, err error) {
	if keepFiles {
		l.Info("Extracting file.", slog.String("name", rec.Name))
	} else {
		l.Info("Checking file.", slog.String("name", rec.Name))
	}

	write := keepFiles
	if keepFiles && !e.checker.ShouldExtract(rec) {
		l.Info("Not extracting file, it already exists on disk with the same size and modification date.",
			slog.String("name", rec.Name))
		write = false
	}

	if _, err := f.Seek(rec.Offset, io.SeekStart); err != nil {
		return false, fmt.Errorf("seek to offset %d: %w", rec.Offset, err)
	}
	tr := tar.NewReader(f)
	hdr, err := tr.Next()
	if err != nil {
		return false, fmt.Errorf("read tar header at offset %d: %w", rec.Offset, err)
	}

	if !isRegular(hdr) {
		if write {
			if err := e.extractSpecial(hdr, l); err != nil {
				return false, err
			}
		}
		return true, nil
	}

	digest, err := e.streamRegular(tr, hdr.Name, write)
	if err != nil {
		return false, err
	}

	if write {
		if err := restoreMetadata(hdr, hdr.Name); err != nil {
			return false, err
		}
		fi, err := os.Stat(hdr.Name)
		if err != nil {
			return false, fmt.Errorf("stat extracted file: %w", err)
		}
		if fi.Size() != rec.Size {
			l.Error("Size mismatch for file.", slog.String("name", hdr.Name),
				slog.Int64("size_extracted", fi.Size()), slog.Int64("size_expected", rec.Size))
		}
	}

	if !strings.EqualFold(digest, rec.Checksum) {
		l.Error("MD5 mismatch for file.", slog.String("name", hdr.Name),
			slog.String("md5_extracted", digest), slog.String("md5_expected", rec.Checksum))
		return false, nil
	}
	l.Debug("Valid md5.", slog.String("name", hdr.Name), slog.String("md5", digest))
	return true, nil
}

// isRegular reports whether hdr's content is file data. Contiguous and GNU
// sparse members are streamed like regular files.
func isRegular(hdr *tar.Header) bool {
	switch hdr.Typeflag {
	case tar.TypeReg, tar.TypeCont, tar.TypeGNUSparse:
		return true
	}
	return false
}

// streamRegular reads the member content block by block into an md5 hash and,
// when write is set, into a file at name. It returns the hex digest.
func (e *Extractor) streamRegular(r io.Reader, name string, write bool) (digest string, err error) {
	h := md5.New()
	var w io.Writer = h

	if write {
		if dir := filepath.Dir(name); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("create parent dir %s: %w", dir, err)
			}
		}
		out, cerr := os.Create(name)
		if cerr != nil {
			return "", fmt.Errorf("create %s: %w", name, cerr)
		}
		defer func() {
			if cerr := out.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close %s: %w", name, cerr)
			}
		}()
		w = io.MultiWriter(h, out)
	}

	// The struct wrapper hides any WriterTo so every read uses the block buffer.
	if _, err := io.CopyBuffer(w, struct{ io.Reader }{r}, e.buf); err != nil {
		return "", fmt.Errorf("stream %s: %w", name, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// extractSpecial materializes directories, links and fifos.
func (e *Extractor) extractSpecial(hdr *tar.Header, l *slog.Logger) error {
	name := hdr.Name
	if dir := filepath.Dir(strings.TrimSuffix(name, "/")); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create parent dir %s: %w", dir, err)
		}
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(name, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", name, err)
		}
		return restoreMetadata(hdr, name)

	case tar.TypeSymlink:
		if err := removeExisting(name); err != nil {
			return err
		}
		if err := os.Symlink(hdr.Linkname, name); err != nil {
			return fmt.Errorf("symlink %s -> %s: %w", name, hdr.Linkname, err)
		}
		if os.Geteuid() == 0 {
			if err := os.Lchown(name, hdr.Uid, hdr.Gid); err != nil {
				return fmt.Errorf("lchown %s: %w", name, err)
			}
		}
		// Creating the link does not carry its own mtime over.
		if err := setSymlinkTime(name, hdr.ModTime); err != nil {
			l.Warn("Could not restore symlink modification time.", slog.String("name", name), "error", err)
		}
		return nil

	case tar.TypeLink:
		if err := removeExisting(name); err != nil {
			return err
		}
		if err := os.Link(hdr.Linkname, name); err != nil {
			return fmt.Errorf("hard link %s -> %s: %w", name, hdr.Linkname, err)
		}
		return nil

	case tar.TypeFifo:
		if err := removeExisting(name); err != nil {
			return err
		}
		if err := mkfifo(name, uint32(hdr.Mode)&0o7777); err != nil {
			return fmt.Errorf("mkfifo %s: %w", name, err)
		}
		return restoreMetadata(hdr, name)

	default:
		return fmt.Errorf("unsupported tar entry type %q for %s", hdr.Typeflag, name)
	}
}

func removeExisting(name string) error {
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove existing %s: %w", name, err)
	}
	return nil
}

// restoreMetadata applies owner (root only), mode and mtime from the header.
func restoreMetadata(hdr *tar.Header, name string) error {
	if os.Geteuid() == 0 {
		if err := os.Chown(name, hdr.Uid, hdr.Gid); err != nil {
			return fmt.Errorf("chown %s: %w", name, err)
		}
	}
	mode := hdr.FileInfo().Mode() & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)
	if err := os.Chmod(name, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Chtimes(name, hdr.ModTime, hdr.ModTime); err != nil {
		return fmt.Errorf("set mtime on %s: %w", name, err)
	}
	return nil
}
