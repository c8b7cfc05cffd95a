package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPicksBackend(t *testing.T) {
	ctx := context.Background()

	f, err := New(ctx, "none")
	require.NoError(t, err)
	assert.IsType(t, None{}, f)

	f, err = New(ctx, "")
	require.NoError(t, err)
	assert.IsType(t, None{}, f)

	f, err = New(ctx, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &Dir{}, f)

	f, err = New(ctx, "https://example.com/archive")
	require.NoError(t, err)
	assert.IsType(t, &HTTP{}, f)
}

func TestNoneAlwaysFails(t *testing.T) {
	err := None{}.Fetch(context.Background(), "000000.tar", filepath.Join(t.TempDir(), "000000.tar"))
	require.ErrorIs(t, err, ErrNoRemote)
}

func TestDirFetch(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "000000.tar"), []byte("segment"), 0o644))

	cache := filepath.Join(t.TempDir(), "zstash")
	dest := filepath.Join(cache, "000000.tar")
	d := NewDir(base)
	require.NoError(t, d.Fetch(context.Background(), "000000.tar", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "segment", string(data))

	entries, err := os.ReadDir(cache)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files may be left behind")
}

func TestDirFetchMissing(t *testing.T) {
	cache := t.TempDir()
	dest := filepath.Join(cache, "000009.tar")
	err := NewDir(t.TempDir()).Fetch(context.Background(), "000009.tar", dest)
	require.ErrorIs(t, err, ErrNotFound)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDirList(t *testing.T) {
	base := t.TempDir()
	for _, n := range []string{"000001.tar", "000000.tar", "index.db"} {
		require.NoError(t, os.WriteFile(filepath.Join(base, n), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(base, "sub.tar"), 0o755))

	names, err := NewDir(base).List(context.Background(), "*.tar")
	require.NoError(t, err)
	assert.Equal(t, []string{"000000.tar", "000001.tar"}, names)
}

func TestHTTPFetchAndList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/archive/":
			fmt.Fprint(w, `<html><body>
<a href="?C=N;O=D">Name</a>
<a href="../">Parent</a>
<a href="000000.tar">000000.tar</a>
<a href="/archive/000001.tar">000001.tar</a>
<a href="index.db">index.db</a>
</body></html>`)
		case "/archive/000000.tar":
			fmt.Fprint(w, "tar bytes")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h, err := NewHTTP(srv.URL+"/archive", srv.Client())
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "000000.tar")
	require.NoError(t, h.Fetch(context.Background(), "000000.tar", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "tar bytes", string(data))

	missing := filepath.Join(t.TempDir(), "000005.tar")
	err = h.Fetch(context.Background(), "000005.tar", missing)
	require.ErrorIs(t, err, ErrNotFound)
	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr))

	names, err := h.List(context.Background(), "*.tar")
	require.NoError(t, err)
	assert.Equal(t, []string{"000000.tar", "000001.tar"}, names)
}

func TestParseS3URL(t *testing.T) {
	bucket, prefix, err := parseS3URL("s3://archive-bucket/runs/2024/")
	require.NoError(t, err)
	assert.Equal(t, "archive-bucket", bucket)
	assert.Equal(t, "runs/2024", prefix)

	c := &S3{bucket: bucket, prefix: prefix}
	assert.Equal(t, "runs/2024/000000.tar", c.key("000000.tar"))

	_, _, err = parseS3URL("s3:///nobucket")
	require.Error(t, err)
}
