package turnstile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cadwell/turnstile/internal/atomicfile"
)

// Report summarizes a run: final lane counters, protocol violations, and
// the total number of executed commands. It is the artifact a surrounding
// test suite inspects after the harness shuts down.
type Report struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Executed   int64        `json:"executed"`
	Lanes      []LaneStatus `json:"lanes"`
	Violations []Violation  `json:"violations"`
}

// Report builds the run report from live state.
func (a *App) Report(ctx context.Context) (*Report, error) {
	lanes, err := a.LaneStatuses(ctx)
	if err != nil {
		return nil, err
	}
	executed, err := a.journal.count()
	if err != nil {
		return nil, err
	}
	violations := a.violations.all()
	if violations == nil {
		violations = []Violation{}
	}
	return &Report{
		RunID:      a.runID,
		StartedAt:  a.startedAt,
		FinishedAt: time.Now().UTC(),
		Executed:   executed,
		Lanes:      lanes,
		Violations: violations,
	}, nil
}

// WriteReport writes the run report to path. The file is replaced
// atomically so a reader never observes a partial report.
func (a *App) WriteReport(ctx context.Context, path string) error {
	rep, err := a.Report(ctx)
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(path, append(data, '\n'), 0o644)
}
