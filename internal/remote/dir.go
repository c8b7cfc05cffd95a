package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Dir fetches from a local or mounted directory.
type Dir struct {
	base string
}

// NewDir returns a fetcher rooted at base.
func NewDir(base string) *Dir {
	return &Dir{base: base}
}

func (d *Dir) path(name string) string {
	return filepath.Join(d.base, filepath.FromSlash(name))
}

// Fetch copies base/name to dest.
func (d *Dir) Fetch(ctx context.Context, name, dest string) error {
	src, err := os.Open(d.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("fetch %s from %s: %w", name, d.base, ErrNotFound)
		}
		return fmt.Errorf("open %s: %w", d.path(name), err)
	}
	defer src.Close()

	return writeAtomic(dest, func(w *os.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := io.Copy(w, src); err != nil {
			return fmt.Errorf("copy %s: %w", name, err)
		}
		return nil
	})
}

// List returns the regular files directly under base matching pattern.
func (d *Dir) List(_ context.Context, pattern string) ([]string, error) {
	entries, err := os.ReadDir(d.base)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.base, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return filterNames(names, pattern)
}
