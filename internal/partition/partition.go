// Package partition spreads archive segments over extraction workers so that
// each worker gets a similar number of bytes to stream.
package partition

import (
	"container/heap"
	"sort"

	"github.com/brensch/zstash/internal/db"
)

// Assignment is the set of segments given to one worker.
type Assignment struct {
	Worker   int
	Archives []string // in the order they were assigned
	Bytes    int64
}

// Segment is one distinct archive and the summed size of its records.
type Segment struct {
	Archive string
	Bytes   int64
}

// Segments returns every distinct archive in records, smallest first. This is
// the order segments are handed out to workers. Archives of equal size keep
// their first-appearance order.
func Segments(records []db.Record) []Segment {
	idx := make(map[string]int)
	var segs []Segment
	for _, rec := range records {
		i, ok := idx[rec.Archive]
		if !ok {
			i = len(segs)
			idx[rec.Archive] = i
			segs = append(segs, Segment{Archive: rec.Archive})
		}
		segs[i].Bytes += rec.Size
	}
	// Ascending, not largest first. Changing this changes every assignment.
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Bytes < segs[j].Bytes })
	return segs
}

type worker struct {
	load int64
	idx  int
}

// loadHeap is a min-heap of workers keyed by load, then index.
type loadHeap []worker

func (h loadHeap) Len() int { return len(h) }

func (h loadHeap) Less(i, j int) bool {
	if h[i].load != h[j].load {
		return h[i].load < h[j].load
	}
	return h[i].idx < h[j].idx
}

func (h loadHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *loadHeap) Push(x any) { *h = append(*h, x.(worker)) }

func (h *loadHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	*h = old[:n-1]
	return w
}

// Plan assigns every archive to a worker with the least-loaded greedy
// heuristic. workers is clamped to the number of distinct archives, so the
// result never holds more assignments than there are segments.
func Plan(records []db.Record, workers int) []Assignment {
	segs := Segments(records)
	if len(segs) == 0 {
		return nil
	}
	workers = min(max(workers, 1), len(segs))

	plan := make([]Assignment, workers)
	h := make(loadHeap, workers)
	for i := range workers {
		plan[i].Worker = i
		h[i] = worker{idx: i}
	}
	heap.Init(&h)

	for _, s := range segs {
		w := heap.Pop(&h).(worker)
		plan[w.idx].Archives = append(plan[w.idx].Archives, s.Archive)
		plan[w.idx].Bytes += s.Bytes
		w.load += s.Bytes
		heap.Push(&h, w)
	}
	return plan
}

// Partition splits records into one list per worker. Records of one archive
// always land in the same list, and every list keeps the input order.
// Workers that received no archive get an empty list.
func Partition(records []db.Record, workers int) [][]db.Record {
	plan := Plan(records, workers)
	if len(plan) == 0 {
		return nil
	}
	owner := make(map[string]int)
	for _, a := range plan {
		for _, archive := range a.Archives {
			owner[archive] = a.Worker
		}
	}
	out := make([][]db.Record, len(plan))
	for i := range out {
		out[i] = []db.Record{}
	}
	for _, rec := range records {
		w := owner[rec.Archive]
		out[w] = append(out[w], rec)
	}
	return out
}
