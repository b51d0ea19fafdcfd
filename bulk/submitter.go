// Package bulk submits synthetic client records to Plannr one at a time, pacing the
// requests, and aggregates the outcomes into a report.
//
// Submission is strictly serial. A failed record is recorded and the run continues;
// nothing is retried and records created before a failure or cancellation are left in
// place.
package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/rorycl/crmkit/apiclients/plannr"
)

// Creator creates a client record. It is satisfied by *plannr.Client.
type Creator interface {
	CreateClient(ctx context.Context, record plannr.ClientRecord) (plannr.Created, error)
}

// Progress receives notice of each submission as the run proceeds.
type Progress interface {
	// Attempt is called before record n of total is submitted.
	Attempt(n, total int, record plannr.ClientRecord)
	// Outcome is called with the result of each submission.
	Outcome(res Result)
	// Checkpoint is called every ProgressEvery submissions with the running summary.
	Checkpoint(done, total int, s Summary)
}

type nopProgress struct{}

func (nopProgress) Attempt(int, int, plannr.ClientRecord) {}
func (nopProgress) Outcome(Result)                       {}
func (nopProgress) Checkpoint(int, int, Summary)         {}

// Submitter submits records through Creator, waiting Delay after every request.
type Submitter struct {
	Creator       Creator
	Delay         time.Duration
	Advisor       string
	ProgressEvery int
	Progress      Progress
	Logger        *slog.Logger

	// Sleep waits for d or until ctx is done. It defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now defaults to time.Now.
	Now func() time.Time
}

// sleep waits for d, returning early with the context error if ctx is done first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run submits records in order and returns the report of the run. Run does not fail:
// each failed submission is recorded in the report. If ctx is cancelled, no further
// records are submitted and the report, marked as cancelled, covers only the attempted
// records.
func (s *Submitter) Run(ctx context.Context, records []plannr.ClientRecord) *Report {

	progress := s.Progress
	if progress == nil {
		progress = nopProgress{}
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	wait := s.Sleep
	if wait == nil {
		wait = sleep
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}

	distribution := map[string]int{}
	for _, r := range records {
		distribution[r.Status]++
	}

	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: now(),
		Advisor:   s.Advisor,
		Results:   make([]Result, 0, len(records)),
	}
	logger.Info("bulk run started", "run_id", report.RunID, "records", len(records), "delay", s.Delay)

	total := len(records)
	for i, record := range records {
		n := i + 1
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}

		progress.Attempt(n, total, record)
		created, err := s.Creator.CreateClient(ctx, record)
		res := newResult(n, record, created, err)
		report.Results = append(report.Results, res)
		progress.Outcome(res)

		if err != nil {
			logger.Warn(fmt.Sprintf("client %d/%d %s: %v", n, total, res.Summary.Name, err), "kind", res.Kind.String())
		} else {
			logger.Debug(fmt.Sprintf("client %d/%d %s created", n, total, res.Summary.Name), "id", res.CreatedID)
		}

		if s.ProgressEvery > 0 && n%s.ProgressEvery == 0 {
			progress.Checkpoint(n, total, Summarize(report.Results, distribution))
		}

		if err := wait(ctx, s.Delay); err != nil && n < total {
			report.Cancelled = true
			break
		}
	}

	report.FinishedAt = now()
	report.Summary = Summarize(report.Results, distribution)
	if report.Cancelled {
		logger.Warn("bulk run cancelled", "attempted", report.Summary.Attempted, "remaining", total-report.Summary.Attempted)
	}
	logger.Info(
		"bulk run finished",
		"run_id", report.RunID,
		"attempted", report.Summary.Attempted,
		"succeeded", report.Summary.Succeeded,
		"failed", report.Summary.Failed,
	)
	return report
}
