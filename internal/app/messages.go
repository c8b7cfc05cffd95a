package app

import (
	"fmt"
	"time"

	"github.com/brensch/zstash/internal/coordinator"
)

// ProgressMsg reports one completed segment.
type ProgressMsg struct {
	coordinator.Progress
}

// FinishedMsg signals the end of the extraction run.
type FinishedMsg struct {
	Failures int
	Err      error
	Elapsed  time.Duration
}

func NewProgress(p coordinator.Progress) ProgressMsg {
	return ProgressMsg{Progress: p}
}

func NewFinished(failures int, start time.Time, err error) FinishedMsg {
	return FinishedMsg{Failures: failures, Err: err, Elapsed: time.Since(start)}
}

func (p ProgressMsg) String() string {
	return fmt.Sprintf("Progress %s: %d/%d", p.Archive, p.Done, p.Expected)
}

func (f FinishedMsg) String() string {
	return fmt.Sprintf("Finished: %d failures", f.Failures)
}
