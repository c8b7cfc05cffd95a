package extractor

import (
	"os"
	"time"

	"github.com/brensch/zstash/internal/db"
)

// IntegrityChecker decides whether an existing local file already matches
// its index record closely enough to skip extraction.
type IntegrityChecker struct {
	// Tolerance absorbs the sub-second precision the index does not store.
	Tolerance time.Duration
}

// ShouldExtract reports whether rec has to be written to disk. It only
// inspects the filesystem: a missing file must be extracted, an existing one
// only when its size or modification time differs from the record.
func (c IntegrityChecker) ShouldExtract(rec db.Record) bool {
	fi, err := os.Stat(rec.Name)
	if err != nil {
		return true
	}
	if fi.Size() != rec.Size {
		return true
	}
	diff := fi.ModTime().Sub(rec.ModTime)
	if diff < 0 {
		diff = -diff
	}
	return diff >= c.Tolerance
}
