// Package testhelpers builds archive segments and index records for tests.
package testhelpers

import (
	"archive/tar"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brensch/zstash/internal/db"
)

// Member describes one entry to place in a fixture segment.
type Member struct {
	Name     string
	Body     string
	Typeflag byte // defaults to tar.TypeReg
	Linkname string
	Mode     int64
	ModTime  time.Time
}

// ModTime is the default member mtime, whole seconds so it survives tar.
var ModTime = time.Date(2023, 11, 14, 9, 30, 0, 0, time.UTC)

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// MD5 returns the hex md5 of s.
func MD5(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// WriteSegment writes a tar segment called archive into dir and returns one
// index record per member, carrying the member's real header offset.
func WriteSegment(t testing.TB, dir, archive string, members []Member) []db.Record {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	f, err := os.Create(filepath.Join(dir, archive))
	require.NoError(t, err)
	defer f.Close()

	cw := &countingWriter{w: f}
	tw := tar.NewWriter(cw)
	var recs []db.Record
	for _, m := range members {
		// Flush pads the previous member so cw.n is the next header's offset.
		require.NoError(t, tw.Flush())
		offset := cw.n

		typ := m.Typeflag
		if typ == 0 {
			typ = tar.TypeReg
		}
		mode := m.Mode
		if mode == 0 {
			mode = 0o644
			if typ == tar.TypeDir {
				mode = 0o755
			}
		}
		mtime := m.ModTime
		if mtime.IsZero() {
			mtime = ModTime
		}
		hdr := &tar.Header{
			Typeflag: typ,
			Name:     m.Name,
			Linkname: m.Linkname,
			Mode:     mode,
			ModTime:  mtime,
		}
		if typ == tar.TypeReg || m.Body != "" {
			hdr.Size = int64(len(m.Body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Size > 0 {
			_, err := io.WriteString(tw, m.Body)
			require.NoError(t, err)
		}
		recs = append(recs, db.Record{
			ID:       int64(len(recs) + 1),
			Name:     m.Name,
			Size:     hdr.Size,
			ModTime:  mtime,
			Checksum: MD5(m.Body),
			Archive:  archive,
			Offset:   offset,
		})
	}
	require.NoError(t, tw.Close())
	return recs
}
