package orchestrator

import (
	"github.com/brensch/zstash/internal/coordinator"
	"github.com/brensch/zstash/internal/db"
	"github.com/brensch/zstash/internal/partition"
)

// progressObserver publishes coordinator-style progress for a single-worker
// run, where no coordinator is involved.
type progressObserver struct {
	fn     func(coordinator.Progress)
	seq    map[string]int
	bytes  map[string]int64
	total  int64
	done   int
	doneB  int64
	failed int
}

func newProgressObserver(segs []partition.Segment, fn func(coordinator.Progress)) *progressObserver {
	o := &progressObserver{
		fn:    fn,
		seq:   make(map[string]int, len(segs)),
		bytes: make(map[string]int64, len(segs)),
	}
	for i, s := range segs {
		o.seq[s.Archive] = i
		o.bytes[s.Archive] = s.Bytes
		o.total += s.Bytes
	}
	return o
}

func (o *progressObserver) SegmentStarted(string) {}

func (o *progressObserver) SegmentFinished(archive string) {
	o.done++
	o.doneB += o.bytes[archive]
	o.fn(coordinator.Progress{
		Archive:    archive,
		Seq:        o.seq[archive],
		Done:       o.done,
		Expected:   len(o.seq),
		Bytes:      o.doneB,
		TotalBytes: o.total,
		Failed:     o.failed,
	})
}

func (o *progressObserver) RecordFailed(db.Record) { o.failed++ }
