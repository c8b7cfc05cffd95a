package orchestrator

import (
	"cmp"
	"slices"

	"github.com/brensch/zstash/internal/db"
)

// Resolve keeps one record per file name and puts the survivors in
// extraction order.
//
// When a name was archived more than once, the record with the greatest
// (Archive, Offset) wins, since segments are written in that order. The result
// is sorted by (Archive, Offset) so each segment is read front to back.
func Resolve(records []db.Record) []db.Record {
	if len(records) == 0 {
		return nil
	}
	sorted := slices.Clone(records)
	slices.SortFunc(sorted, func(a, b db.Record) int {
		return cmp.Or(
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.Archive, b.Archive),
			cmp.Compare(a.Offset, b.Offset),
		)
	})

	out := sorted[:0]
	for i, rec := range sorted {
		if i+1 < len(sorted) && sorted[i+1].Name == rec.Name {
			continue
		}
		out = append(out, rec)
	}

	slices.SortFunc(out, byLocation)
	return out
}

func byLocation(a, b db.Record) int {
	return cmp.Or(
		cmp.Compare(a.Archive, b.Archive),
		cmp.Compare(a.Offset, b.Offset),
	)
}
