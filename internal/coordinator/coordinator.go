// Package coordinator keeps the output of concurrent extraction workers
// readable. Each worker buffers its log records per archive segment and hands
// the finished unit to a single coordinator goroutine, which writes it to the
// real handler in one piece. The coordinator goroutine also owns the failure
// list, so workers only ever talk to it over channels.
package coordinator

import (
	"context"
	"log/slog"

	"github.com/brensch/zstash/internal/db"
	"github.com/brensch/zstash/internal/partition"
)

// OutputUnit is the buffered output of one worker for one segment. Seq is the
// segment's position in the expected order, or -1 for output that belongs to
// no expected segment.
type OutputUnit struct {
	Archive string
	Worker  int
	Seq     int
	entries []entry
}

// Progress is published each time a segment completes.
type Progress struct {
	Archive    string
	Worker     int
	Seq        int
	Done       int
	Expected   int
	Bytes      int64
	TotalBytes int64
	Failed     int
}

// Status is a snapshot of the coordinator's view of the run.
type Status struct {
	Expected int
	Done     int
	Failed   int
	// Current maps worker id to the segment it is working on.
	Current map[int]string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithProgress registers fn to be called from the coordinator goroutine after
// every completed segment. fn must not block for long.
func WithProgress(fn func(Progress)) Option {
	return func(c *Coordinator) { c.progress = fn }
}

type event struct {
	status  chan Status
	expect  []partition.Segment
	started *startedEvent
	unit    *OutputUnit
	failed  *db.Record
}

type startedEvent struct {
	worker  int
	archive string
}

// Coordinator is the shared output and failure sink of an extraction run.
type Coordinator struct {
	sink     slog.Handler
	progress func(Progress)

	events chan event
	done   chan struct{}

	// Owned by the run goroutine until done is closed.
	seq      map[string]int
	bytes    map[string]int64
	total    int64
	finished map[string]bool
	current  map[int]string
	doneN    int
	doneB    int64
	failures []db.Record
}

// New starts a coordinator writing worker output to sink.
func New(sink slog.Handler, opts ...Option) *Coordinator {
	c := &Coordinator{
		sink:     sink,
		events:   make(chan event, 64),
		done:     make(chan struct{}),
		seq:      make(map[string]int),
		bytes:    make(map[string]int64),
		finished: make(map[string]bool),
		current:  make(map[int]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	return c
}

// Expect registers the segments of the run in submission order.
func (c *Coordinator) Expect(segs []partition.Segment) {
	c.events <- event{expect: segs}
}

// NewWorker returns a handle for worker id. The handle is used by exactly one
// goroutine.
func (c *Coordinator) NewWorker(id int) *Worker {
	buf := &buffer{}
	return &Worker{
		id:     id,
		c:      c,
		buf:    buf,
		logger: slog.New(&captureHandler{sink: c.sink, buf: buf}),
	}
}

// Status returns the state of the run once every event sent before the call
// has been handled. After Close it returns the final state. Status must not be
// called concurrently with Close.
func (c *Coordinator) Status() Status {
	select {
	case <-c.done:
		return c.snapshot()
	default:
	}
	reply := make(chan Status, 1)
	c.events <- event{status: reply}
	return <-reply
}

// Close waits until every pending unit has been written and returns all
// failures reported by workers, in no particular order. Workers must not be
// used after Close.
func (c *Coordinator) Close() []db.Record {
	close(c.events)
	<-c.done
	return c.failures
}

func (c *Coordinator) run() {
	defer close(c.done)
	for ev := range c.events {
		c.handle(ev)
	}
}

func (c *Coordinator) handle(ev event) {
	switch {
	case ev.status != nil:
		ev.status <- c.snapshot()

	case ev.expect != nil:
		for _, s := range ev.expect {
			if _, ok := c.seq[s.Archive]; ok {
				continue
			}
			c.seq[s.Archive] = len(c.seq)
			c.bytes[s.Archive] = s.Bytes
			c.total += s.Bytes
		}

	case ev.started != nil:
		c.current[ev.started.worker] = ev.started.archive

	case ev.failed != nil:
		c.failures = append(c.failures, *ev.failed)

	case ev.unit != nil:
		u := ev.unit
		u.Seq = -1
		if s, ok := c.seq[u.Archive]; ok {
			u.Seq = s
		}
		c.flush(u)
		if u.Archive == "" {
			return
		}
		if c.current[u.Worker] == u.Archive {
			delete(c.current, u.Worker)
		}
		if _, ok := c.seq[u.Archive]; ok && !c.finished[u.Archive] {
			c.finished[u.Archive] = true
			c.doneN++
			c.doneB += c.bytes[u.Archive]
		}
		if c.progress != nil {
			c.progress(Progress{
				Archive:    u.Archive,
				Worker:     u.Worker,
				Seq:        u.Seq,
				Done:       c.doneN,
				Expected:   len(c.seq),
				Bytes:      c.doneB,
				TotalBytes: c.total,
				Failed:     len(c.failures),
			})
		}
	}
}

// flush writes a unit's records back to back. Only the run goroutine writes
// to the sink, so units never interleave.
func (c *Coordinator) flush(u *OutputUnit) {
	if len(u.entries) == 0 {
		return
	}
	sink := c.sink.WithAttrs([]slog.Attr{slog.Int("worker", u.Worker), slog.Int("seq", u.Seq)})
	for _, e := range u.entries {
		// A failing sink has nowhere left to report to.
		_ = replay(context.Background(), sink, e)
	}
}

func (c *Coordinator) snapshot() Status {
	cur := make(map[int]string, len(c.current))
	for k, v := range c.current {
		cur[k] = v
	}
	return Status{
		Expected: len(c.seq),
		Done:     c.doneN,
		Failed:   len(c.failures),
		Current:  cur,
	}
}

// Worker is one worker's handle on the coordinator. It satisfies
// extractor.Observer.
type Worker struct {
	id      int
	c       *Coordinator
	buf     *buffer
	logger  *slog.Logger
	archive string
}

// Logger returns the worker's logger. Records logged through it are held
// until the current segment finishes.
func (w *Worker) Logger() *slog.Logger { return w.logger }

// SegmentStarted marks archive as the segment the worker is on. Output
// buffered before this point is flushed as its own unit.
func (w *Worker) SegmentStarted(archive string) {
	w.send(w.archive)
	w.archive = archive
	w.c.events <- event{started: &startedEvent{worker: w.id, archive: archive}}
}

// SegmentFinished hands the segment's buffered output to the coordinator.
func (w *Worker) SegmentFinished(archive string) {
	w.send(archive)
	w.archive = ""
}

// RecordFailed adds rec to the shared failure list.
func (w *Worker) RecordFailed(rec db.Record) {
	w.c.events <- event{failed: &rec}
}

// Close force-flushes anything still buffered.
func (w *Worker) Close() {
	w.send(w.archive)
	w.archive = ""
}

func (w *Worker) send(archive string) {
	entries := w.buf.take()
	if len(entries) == 0 && archive == "" {
		return
	}
	w.c.events <- event{unit: &OutputUnit{Archive: archive, Worker: w.id, entries: entries}}
}
