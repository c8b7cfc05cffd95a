package orchestrator

import (
	"context"
	"fmt"

	"github.com/brensch/zstash/internal/db"
)

// Querier looks up index records whose name or archive matches a glob.
type Querier interface {
	Query(ctx context.Context, pattern string) ([]db.Record, error)
}

// Match runs one query per pattern and concatenates the results. With no
// patterns every record matches.
func Match(ctx context.Context, q Querier, patterns []string) ([]db.Record, error) {
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	var matches []db.Record
	for _, p := range patterns {
		recs, err := q.Query(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("query index for %q: %w", p, err)
		}
		matches = append(matches, recs...)
	}
	return matches, nil
}
