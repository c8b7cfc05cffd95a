package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
)

// ErrIndexMissing is returned when the index database file does not exist locally.
var ErrIndexMissing = errors.New("index database not found")

// Record is one archived file instance as stored in the index.
type Record struct {
	ID       int64
	Name     string
	Size     int64
	ModTime  time.Time
	Checksum string // md5, hex encoded
	Archive  string // segment file name, e.g. 00002a.tar
	Offset   int64  // start of the member's tar header within Archive
}

// Schema SQL
const schemaSequenceSQL = `CREATE SEQUENCE IF NOT EXISTS files_id_seq;`
const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS files (
    id       BIGINT PRIMARY KEY DEFAULT nextval('files_id_seq'),
    name     VARCHAR NOT NULL,
    size     BIGINT NOT NULL,
    mtime    TIMESTAMP NOT NULL,
    md5      VARCHAR,
    tar      VARCHAR NOT NULL,
    "offset" BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_name ON files (name);
CREATE INDEX IF NOT EXISTS idx_files_tar ON files (tar);
CREATE TABLE IF NOT EXISTS config (
    arg   VARCHAR PRIMARY KEY,
    value VARCHAR
);
`

// InitializeSchema creates the sequence and tables in the correct order.
func InitializeSchema(conn *sql.DB) error {
	_, err := conn.Exec(schemaSequenceSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute sequence setup: %w", err)
	}
	_, err = conn.Exec(schemaTableSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute table/index setup: %w", err)
	}
	return nil
}

// Index is a read-only view of the archive index.
type Index struct {
	conn *sql.DB
}

// Open connects to the index database at path. Unlike sql.Open it fails with
// ErrIndexMissing when the file does not exist, since DuckDB would otherwise
// silently create an empty database.
func Open(ctx context.Context, path string) (*Index, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrIndexMissing, path)
			}
			return nil, fmt.Errorf("stat index %s: %w", path, err)
		}
	}
	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb database (%s): %w", path, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping duckdb database (%s): %w", path, err)
	}
	return &Index{conn: conn}, nil
}

// Close releases the underlying connection.
func (ix *Index) Close() error {
	return ix.conn.Close()
}

// Query returns every record whose name or containing segment matches the glob pattern.
func (ix *Index) Query(ctx context.Context, pattern string) ([]Record, error) {
	if !validGlob(pattern) {
		return nil, fmt.Errorf("invalid file pattern %q", pattern)
	}
	query := `
        SELECT id, name, size, mtime, md5, tar, "offset"
        FROM files
        WHERE name GLOB ? OR tar GLOB ?;
    `
	rows, err := ix.conn.QueryContext(ctx, query, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("query files matching %q: %w", pattern, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var md5 sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.Size, &r.ModTime, &md5, &r.Archive, &r.Offset); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		r.Checksum = md5.String
		r.ModTime = r.ModTime.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file rows: %w", err)
	}
	return out, nil
}

// validGlob reports whether pattern is well formed for DuckDB's GLOB: a
// backslash must escape something and every bracket must be closed. A ']'
// right after '[' or '[!' is a literal, not the closing bracket. Braces have
// no meaning in GLOB.
func validGlob(pattern string) bool {
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			if i++; i == len(pattern) {
				return false
			}
		case '[':
			i++
			if i < len(pattern) && pattern[i] == '!' {
				i++
			}
			start := i
			for i < len(pattern) && (pattern[i] != ']' || i == start) {
				i++
			}
			if i == len(pattern) {
				return false
			}
		}
	}
	return true
}

// Settings reads the given keys from the config table. Keys that are absent
// are simply missing from the returned map.
func (ix *Index) Settings(ctx context.Context, keys []string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	for _, key := range keys {
		var v sql.NullString
		err := ix.conn.QueryRowContext(ctx, `SELECT value FROM config WHERE arg = ?;`, key).Scan(&v)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("read config %q: %w", key, err)
		}
		values[key] = v.String
	}
	return values, nil
}
