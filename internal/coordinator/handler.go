package coordinator

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// entry is one captured log record plus the WithAttrs/WithGroup calls that
// were made on the logger that produced it.
type entry struct {
	ops []op
	rec slog.Record
}

type op struct {
	group string
	attrs []slog.Attr
}

// buffer holds the entries of the unit a worker is currently building.
type buffer struct {
	mu      sync.Mutex
	entries []entry
}

func (b *buffer) add(e entry) {
	b.mu.Lock()
	b.entries = append(b.entries, e)
	b.mu.Unlock()
}

func (b *buffer) take() []entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.entries
	b.entries = nil
	return out
}

// captureHandler is the slog.Handler behind a worker's logger. It never writes
// anywhere itself; records wait in the worker's buffer until the coordinator
// replays them into the real handler.
type captureHandler struct {
	sink slog.Handler
	buf  *buffer
	ops  []op
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.sink.Enabled(ctx, level)
}

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.buf.add(entry{ops: h.ops, rec: r.Clone()})
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(op{attrs: slices.Clone(attrs)})
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(op{group: name})
}

func (h *captureHandler) with(o op) *captureHandler {
	return &captureHandler{
		sink: h.sink,
		buf:  h.buf,
		ops:  append(slices.Clip(h.ops), o),
	}
}

// replay writes e to sink as if it had been logged there directly.
func replay(ctx context.Context, sink slog.Handler, e entry) error {
	h := sink
	for _, o := range e.ops {
		if o.group != "" {
			h = h.WithGroup(o.group)
		} else {
			h = h.WithAttrs(o.attrs)
		}
	}
	return h.Handle(ctx, e.rec)
}
