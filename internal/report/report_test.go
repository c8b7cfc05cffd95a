package report

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/zstash/internal/db"
	"github.com/brensch/zstash/internal/testhelpers"
)

var failures = []db.Record{
	{Name: "b.txt", Archive: "000002.tar", Offset: 512, Size: 3, Checksum: "bb"},
	{Name: "a.txt", Archive: "000001.tar", Offset: 0, Size: 1, Checksum: "aa"},
	{Name: "c.txt", Archive: "000002.tar", Offset: 0, Size: 7, Checksum: "cc",
		ModTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
}

func TestSummarize(t *testing.T) {
	s := Summarize(failures)
	require.Len(t, s.Files, 3)
	assert.Equal(t, "a.txt", s.Files[0].Name)
	assert.Equal(t, "c.txt", s.Files[1].Name)
	assert.Equal(t, "b.txt", s.Files[2].Name)
	assert.Equal(t, []string{"000001.tar", "000002.tar"}, s.Archives)

	assert.Empty(t, Summarize(nil).Archives)
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	Summarize(nil).Log(logger)
	assert.Zero(t, buf.Len())

	Summarize(failures).Log(logger)
	out := buf.String()
	assert.Contains(t, out, `msg="a.txt in 000001.tar"`)
	assert.Contains(t, out, `msg="The following tar archives had errors."`)
	assert.Equal(t, 7, strings.Count(out, "level=ERROR"))
}

func TestWriteParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.parquet")
	require.NoError(t, Summarize(failures).WriteParquet(path, "run-1"))

	rows, err := ReadParquet(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "a.txt", rows[0].Name)
	assert.Equal(t, "run-1", rows[0].RunID)
	assert.Equal(t, Row{
		Name:     "c.txt",
		Archive:  "000002.tar",
		Offset:   0,
		Size:     7,
		MTime:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(),
		Checksum: "cc",
		RunID:    "run-1",
	}, rows[1])
}

func TestPatternsEscapeGlobs(t *testing.T) {
	rows := []Row{{Name: "plain.txt"}, {Name: "odd[1]*?.txt"}, {Name: "plain.txt"}, {Name: `back\slash{x}.txt`}}
	assert.Equal(t, []string{"plain.txt", "odd[[]1][*][?].txt", `back\\slash{x}.txt`}, Patterns(rows))
}

func TestPatternsMatchExactlyInIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	names := []string{"brace{x.txt", `back\slash.txt`, "backslash.txt", "a[1].txt", "a1.txt", "star*.txt", "starry.txt"}
	var recs []db.Record
	for i, name := range names {
		recs = append(recs, db.Record{Name: name, Size: 1, ModTime: time.Unix(0, 0).UTC(), Checksum: "d", Archive: "000000.tar", Offset: int64(i) * 512})
	}
	testhelpers.WriteIndex(t, path, recs, nil)

	ix, err := db.Open(ctx, path)
	require.NoError(t, err)
	defer ix.Close()

	for _, name := range []string{"brace{x.txt", `back\slash.txt`, "a[1].txt", "star*.txt"} {
		patterns := Patterns([]Row{{Name: name}})
		require.Len(t, patterns, 1)
		got, err := ix.Query(ctx, patterns[0])
		require.NoError(t, err, name)
		require.Len(t, got, 1, name)
		assert.Equal(t, name, got[0].Name)
	}
}

func TestReadParquetMissingFile(t *testing.T) {
	_, err := ReadParquet(filepath.Join(t.TempDir(), "nope.parquet"))
	assert.Error(t, err)
}
