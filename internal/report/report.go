// Package report summarizes the records that failed an extraction run.
package report

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/zstash/internal/db"
)

// Summary lists failed records and the distinct segments they came from.
type Summary struct {
	Files    []db.Record
	Archives []string
}

// Summarize sorts failures by location and collects their segments.
func Summarize(failures []db.Record) Summary {
	files := slices.Clone(failures)
	slices.SortFunc(files, func(a, b db.Record) int {
		return cmp.Or(
			cmp.Compare(a.Archive, b.Archive),
			cmp.Compare(a.Offset, b.Offset),
			cmp.Compare(a.Name, b.Name),
		)
	})
	var archives []string
	for _, f := range files {
		if len(archives) == 0 || archives[len(archives)-1] != f.Archive {
			archives = append(archives, f.Archive)
		}
	}
	return Summary{Files: files, Archives: archives}
}

// Log writes the summary at error level. Nothing is logged for an empty
// summary.
func (s Summary) Log(logger *slog.Logger) {
	if len(s.Files) == 0 {
		return
	}
	logger.Error("Encountered an error for files.", slog.Int("count", len(s.Files)))
	for _, f := range s.Files {
		logger.Error(fmt.Sprintf("%s in %s", f.Name, f.Archive))
	}
	logger.Error("The following tar archives had errors.", slog.Int("count", len(s.Archives)))
	for _, a := range s.Archives {
		logger.Error(a)
	}
}

// Row is one failed record as stored in the parquet report.
type Row struct {
	Name     string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Archive  string `parquet:"name=archive, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Offset   int64  `parquet:"name=offset, type=INT64"`
	Size     int64  `parquet:"name=size, type=INT64"`
	MTime    int64  `parquet:"name=mtime, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Checksum string `parquet:"name=md5, type=BYTE_ARRAY, convertedtype=UTF8"`
	RunID    string `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
}

// WriteParquet writes the summary's records to a parquet file at path.
func (s Summary) WriteParquet(path, runID string) (err error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create report file %s: %w", path, err)
	}
	defer func() {
		if cerr := fw.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close report file %s: %w", path, cerr)
		}
	}()

	pw, err := writer.NewParquetWriter(fw, new(Row), 1)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, f := range s.Files {
		row := Row{
			Name:     f.Name,
			Archive:  f.Archive,
			Offset:   f.Offset,
			Size:     f.Size,
			MTime:    f.ModTime.UnixMilli(),
			Checksum: f.Checksum,
			RunID:    runID,
		}
		if err := pw.Write(row); err != nil {
			return fmt.Errorf("write report row for %s: %w", f.Name, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish parquet report: %w", err)
	}
	return nil
}

// ReadParquet loads the rows of a report written by WriteParquet.
func ReadParquet(path string) (rows []Row, err error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open report file %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(Row), 1)
	if err != nil {
		return nil, fmt.Errorf("create parquet reader for %s: %w", path, err)
	}
	defer pr.ReadStop()

	rows = make([]Row, pr.GetNumRows())
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("read report rows: %w", err)
	}
	return rows, nil
}

// globEscaper quotes the characters DuckDB's GLOB treats specially.
var globEscaper = strings.NewReplacer(`\`, `\\`, "*", "[*]", "?", "[?]", "[", "[[]")

// Patterns turns report rows back into index patterns that match exactly the
// failed file names.
func Patterns(rows []Row) []string {
	seen := make(map[string]bool, len(rows))
	var out []string
	for _, r := range rows {
		if seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		out = append(out, globEscaper.Replace(r.Name))
	}
	return out
}
