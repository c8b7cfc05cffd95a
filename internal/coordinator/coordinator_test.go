package coordinator

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/zstash/internal/db"
	"github.com/brensch/zstash/internal/partition"
)

func jsonSink(buf *bytes.Buffer) slog.Handler {
	return slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestSegmentOutputIsContiguous(t *testing.T) {
	var buf bytes.Buffer
	c := New(jsonSink(&buf))

	const workers, perWorker, perSegment = 4, 5, 25
	var segs []partition.Segment
	for w := range workers {
		for s := range perWorker {
			segs = append(segs, partition.Segment{Archive: fmt.Sprintf("%02d-%02d.tar", w, s), Bytes: 10})
		}
	}
	c.Expect(segs)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wk := c.NewWorker(w)
			defer wk.Close()
			for s := range perWorker {
				archive := fmt.Sprintf("%02d-%02d.tar", w, s)
				wk.SegmentStarted(archive)
				l := wk.Logger().With(slog.String("archive", archive))
				for i := range perSegment {
					l.Info("Extracting file.", slog.Int("i", i))
				}
				wk.SegmentFinished(archive)
			}
		}()
	}
	wg.Wait()
	require.Empty(t, c.Close())

	got := lines(t, &buf)
	require.Len(t, got, workers*perWorker*perSegment)

	// Every archive must appear as exactly one run of lines.
	seen := make(map[string]bool)
	prev := ""
	for _, m := range got {
		archive := m["archive"].(string)
		if archive != prev {
			assert.False(t, seen[archive], "output for %s was split", archive)
			seen[archive] = true
			prev = archive
		}
		assert.Contains(t, m, "worker")
		assert.Contains(t, m, "seq")
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestUnitCarriesSubmissionPosition(t *testing.T) {
	var buf bytes.Buffer
	c := New(jsonSink(&buf))
	c.Expect([]partition.Segment{{Archive: "a.tar"}, {Archive: "b.tar"}})

	wk := c.NewWorker(3)
	wk.SegmentStarted("b.tar")
	wk.Logger().Info("In b.")
	wk.SegmentFinished("b.tar")
	wk.Logger().Info("Stray.")
	wk.Close()
	c.Close()

	got := lines(t, &buf)
	require.Len(t, got, 2)
	assert.Equal(t, "In b.", got[0]["msg"])
	assert.EqualValues(t, 1, got[0]["seq"])
	assert.EqualValues(t, 3, got[0]["worker"])
	assert.Equal(t, "Stray.", got[1]["msg"])
	assert.EqualValues(t, -1, got[1]["seq"])
}

func TestFailuresAreUnionOfWorkers(t *testing.T) {
	c := New(slog.DiscardHandler)

	var wg sync.WaitGroup
	var want []db.Record
	for w := range 3 {
		recs := []db.Record{
			{Name: fmt.Sprintf("w%d-a", w), Archive: fmt.Sprintf("%d.tar", w)},
			{Name: fmt.Sprintf("w%d-b", w), Archive: fmt.Sprintf("%d.tar", w)},
		}
		want = append(want, recs...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			wk := c.NewWorker(w)
			defer wk.Close()
			for _, r := range recs {
				wk.RecordFailed(r)
			}
		}()
	}
	wg.Wait()
	assert.ElementsMatch(t, want, c.Close())
}

func TestCloseFlushesUnfinishedSegment(t *testing.T) {
	var buf bytes.Buffer
	c := New(jsonSink(&buf))
	wk := c.NewWorker(0)
	wk.SegmentStarted("x.tar")
	wk.Logger().Warn("Half way.")
	assert.Zero(t, buf.Len(), "output must stay buffered until the segment ends")

	wk.Close()
	c.Close()
	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "Half way.", got[0]["msg"])
}

func TestGroupsAndAttrsSurviveReplay(t *testing.T) {
	var buf bytes.Buffer
	c := New(jsonSink(&buf))
	wk := c.NewWorker(0)
	wk.SegmentStarted("x.tar")
	wk.Logger().With(slog.String("archive", "x.tar")).WithGroup("file").Info("Valid md5.", slog.String("name", "a.txt"))
	wk.SegmentFinished("x.tar")
	c.Close()

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "x.tar", got[0]["archive"])
	assert.Equal(t, map[string]any{"name": "a.txt"}, got[0]["file"])
}

func TestLevelFollowsSink(t *testing.T) {
	var buf bytes.Buffer
	c := New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	wk := c.NewWorker(0)
	wk.SegmentStarted("x.tar")
	wk.Logger().Info("Hidden.")
	wk.Logger().Error("Shown.")
	wk.SegmentFinished("x.tar")
	c.Close()

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "Shown.", got[0]["msg"])
}

func TestStatusAndProgress(t *testing.T) {
	var progress []Progress
	c := New(slog.DiscardHandler, WithProgress(func(p Progress) { progress = append(progress, p) }))
	c.Expect([]partition.Segment{
		{Archive: "a.tar", Bytes: 100},
		{Archive: "b.tar", Bytes: 300},
	})

	wk := c.NewWorker(1)
	wk.SegmentStarted("a.tar")
	st := c.Status()
	assert.Equal(t, 2, st.Expected)
	assert.Equal(t, 0, st.Done)
	assert.Equal(t, map[int]string{1: "a.tar"}, st.Current)

	wk.RecordFailed(db.Record{Name: "f", Archive: "a.tar"})
	wk.SegmentFinished("a.tar")
	st = c.Status()
	assert.Equal(t, 1, st.Done)
	assert.Equal(t, 1, st.Failed)
	assert.Empty(t, st.Current)

	wk.SegmentStarted("b.tar")
	wk.SegmentFinished("b.tar")
	wk.Close()
	c.Close()

	assert.Equal(t, 2, c.Status().Done)
	require.Len(t, progress, 2)
	assert.Equal(t, Progress{Archive: "a.tar", Worker: 1, Seq: 0, Done: 1, Expected: 2, Bytes: 100, TotalBytes: 400, Failed: 1}, progress[0])
	assert.Equal(t, Progress{Archive: "b.tar", Worker: 1, Seq: 1, Done: 2, Expected: 2, Bytes: 400, TotalBytes: 400, Failed: 1}, progress[1])
}
