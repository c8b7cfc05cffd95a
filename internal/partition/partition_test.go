package partition

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/zstash/internal/db"
)

func rec(name, archive string, offset, size int64) db.Record {
	return db.Record{Name: name, Archive: archive, Offset: offset, Size: size}
}

func TestPartitionEmpty(t *testing.T) {
	assert.Empty(t, Partition(nil, 4))
	assert.Empty(t, Plan(nil, 4))
}

func TestPartitionClampsWorkers(t *testing.T) {
	records := []db.Record{
		rec("a", "000000.tar", 0, 10),
		rec("b", "000001.tar", 0, 10),
		rec("c", "000002.tar", 0, 10),
	}
	parts := Partition(records, 8)
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.Len(t, p, 1)
	}

	parts = Partition(records, 0)
	require.Len(t, parts, 1)
	assert.Equal(t, records, parts[0])
}

func TestPlanAssignsSmallestFirst(t *testing.T) {
	records := []db.Record{
		rec("a1", "A", 0, 6),
		rec("a2", "A", 512, 4),
		rec("b", "B", 0, 1),
		rec("c", "C", 0, 5),
		rec("d", "D", 0, 7),
	}
	assert.Equal(t, []Segment{
		{Archive: "B", Bytes: 1},
		{Archive: "C", Bytes: 5},
		{Archive: "D", Bytes: 7},
		{Archive: "A", Bytes: 10},
	}, Segments(records))

	plan := Plan(records, 2)
	assert.Equal(t, []Assignment{
		{Worker: 0, Archives: []string{"B", "D"}, Bytes: 8},
		{Worker: 1, Archives: []string{"C", "A"}, Bytes: 15},
	}, plan)

	parts := Partition(records, 2)
	require.Len(t, parts, 2)
	assert.Equal(t, []db.Record{records[2], records[4]}, parts[0])
	assert.Equal(t, []db.Record{records[0], records[1], records[3]}, parts[1])
}

func TestPlanEqualCostsKeepFirstAppearance(t *testing.T) {
	records := []db.Record{
		rec("z", "Z", 0, 3),
		rec("y", "Y", 0, 3),
		rec("x", "X", 0, 3),
	}
	segs := Segments(records)
	require.Len(t, segs, 3)
	assert.Equal(t, "Z", segs[0].Archive)
	assert.Equal(t, "Y", segs[1].Archive)
	assert.Equal(t, "X", segs[2].Archive)
}

func TestPartitionCoversInputDisjointly(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for _, workers := range []int{1, 2, 3, 5, 16} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			var records []db.Record
			archives := 9
			for i := range 60 {
				archive := fmt.Sprintf("%06x.tar", rng.IntN(archives))
				records = append(records, rec(fmt.Sprintf("f%d", i), archive, int64(i)*512, rng.Int64N(1<<20)))
			}
			distinct := len(Segments(records))

			parts := Partition(records, workers)
			require.Len(t, parts, min(workers, distinct))

			seen := make(map[string]int)
			total := 0
			for w, part := range parts {
				assert.NotEmpty(t, part)
				last := -1
				for _, r := range part {
					if owner, ok := seen[r.Archive]; ok {
						assert.Equal(t, w, owner, "archive %s split across workers", r.Archive)
					}
					seen[r.Archive] = w

					// Input order is preserved within a worker.
					pos := int(r.Offset / 512)
					assert.Greater(t, pos, last)
					last = pos
				}
				total += len(part)
			}
			assert.Equal(t, len(records), total)
			assert.Len(t, seen, distinct)
		})
	}
}

func TestPlanGreedyBound(t *testing.T) {
	cases := map[string][]int64{
		"one giant":      {1 << 30, 1, 1, 1, 1, 1, 1, 1},
		"uniform":        {100, 100, 100, 100, 100, 100, 100},
		"small then big": {1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 100, 100},
		"two giants":     {5, 5, 5, 5, 1000, 1000},
		"with empties":   {0, 0, 0, 50, 60, 70},
	}
	for name, sizes := range cases {
		for _, workers := range []int{2, 3, 4} {
			t.Run(fmt.Sprintf("%s/%d", name, workers), func(t *testing.T) {
				var records []db.Record
				var total, largest int64
				for i, s := range sizes {
					records = append(records, rec(fmt.Sprintf("f%d", i), fmt.Sprintf("%06d.tar", i), 0, s))
					total += s
					largest = max(largest, s)
				}
				plan := Plan(records, workers)
				avg := total / int64(len(plan))

				var sum int64
				for _, a := range plan {
					assert.LessOrEqual(t, a.Bytes, largest+avg)
					sum += a.Bytes
				}
				assert.Equal(t, total, sum)
			})
		}
	}
}
