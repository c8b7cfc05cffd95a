// Package remote fetches archive segments from the storage tier behind the
// local cache. Every backend writes into a temporary file next to the
// destination and renames it into place only once the transfer completed,
// so an interrupted fetch never leaves a file that looks complete.
package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrNotFound means the requested object does not exist on the remote tier.
	ErrNotFound = errors.New("object not found on remote")
	// ErrNoRemote means the archive was created without a remote tier.
	ErrNoRemote = errors.New("no remote storage configured")
)

// Fetcher copies named objects from the remote tier into local files.
type Fetcher interface {
	// Fetch copies the object called name to the local path dest.
	Fetch(ctx context.Context, name, dest string) error
	// List returns the object names under the base path matching pattern.
	List(ctx context.Context, pattern string) ([]string, error)
}

// New picks a backend from the remote base path:
// "none" (or empty) for no remote, s3://bucket/prefix, http(s)://host/path,
// or anything else as a local/mounted directory.
func New(ctx context.Context, base string) (Fetcher, error) {
	switch {
	case base == "" || strings.EqualFold(base, "none"):
		return None{}, nil
	case strings.HasPrefix(base, "s3://"):
		return NewS3(ctx, base)
	case strings.HasPrefix(base, "http://"), strings.HasPrefix(base, "https://"):
		return NewHTTP(base, nil)
	default:
		return NewDir(base), nil
	}
}

// None is the backend for archives that were never copied to a remote tier.
type None struct{}

func (None) Fetch(_ context.Context, name, _ string) error {
	return fmt.Errorf("fetch %s: %w", name, ErrNoRemote)
}

func (None) List(context.Context, string) ([]string, error) {
	return nil, ErrNoRemote
}

// writeAtomic streams fill into a temp file in dest's directory and renames it
// to dest on success. The temp file is removed on any failure.
func writeAtomic(dest string, fill func(f *os.File) error) (err error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = fill(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("rename into %s: %w", dest, err)
	}
	return nil
}

// filterNames keeps the names matching pattern, sorted. An empty pattern keeps all.
func filterNames(names []string, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}
	var out []string
	for _, n := range names {
		if ok, _ := doublestar.Match(pattern, n); ok {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}
