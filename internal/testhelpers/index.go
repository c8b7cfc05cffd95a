package testhelpers

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brensch/zstash/internal/db"
)

// WriteIndex creates an index database file at path holding records and the
// given config values.
func WriteIndex(t testing.TB, path string, records []db.Record, settings map[string]string) {
	t.Helper()
	conn, err := sql.Open("duckdb", path)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, db.InitializeSchema(conn))

	for _, r := range records {
		_, err := conn.Exec(
			`INSERT INTO files (name, size, mtime, md5, tar, "offset") VALUES (?, ?, ?, ?, ?, ?);`,
			r.Name, r.Size, r.ModTime, r.Checksum, r.Archive, r.Offset)
		require.NoError(t, err)
	}
	for k, v := range settings {
		_, err := conn.Exec(`INSERT INTO config (arg, value) VALUES (?, ?);`, k, v)
		require.NoError(t, err)
	}
}
