package bulk

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rorycl/crmkit/apiclients/plannr"
)

// Outcome is the result of one submission.
type Outcome string

// Submission outcomes.
const (
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// RecordSummary identifies a submitted record in progress output and reports.
type RecordSummary struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Status string `json:"status"`
}

// Result is the outcome of one attempted submission.
type Result struct {
	Number     int                 `json:"client_number"`
	Summary    RecordSummary       `json:"client"`
	Outcome    Outcome             `json:"outcome"`
	CreatedID  string              `json:"created_id,omitempty"`
	StatusCode int                 `json:"status_code,omitempty"`
	Kind       plannr.Kind         `json:"error_kind,omitempty"`
	Error      string              `json:"error,omitempty"`
	Response   string              `json:"response_text,omitempty"`
	Record     plannr.ClientRecord `json:"client_data"`
}

// Succeeded reports whether the submission succeeded.
func (r Result) Succeeded() bool {
	return r.Outcome == Success
}

// newResult classifies the outcome of submitting record number n.
func newResult(n int, record plannr.ClientRecord, created plannr.Created, err error) Result {
	res := Result{
		Number: n,
		Summary: RecordSummary{
			Name:   record.FullName(),
			Email:  record.Email,
			Status: record.Status,
		},
		Record: record,
	}
	if err == nil {
		res.Outcome = Success
		res.CreatedID = created.ID
		res.StatusCode = created.StatusCode
		return res
	}
	res.Outcome = Failure
	res.Kind = plannr.KindOf(err)
	res.Error = err.Error()
	var apiErr *plannr.APIError
	if errors.As(err, &apiErr) {
		res.StatusCode = apiErr.StatusCode
		res.Response = apiErr.Body
	}
	return res
}

// Summary aggregates the results of a run.
type Summary struct {
	Attempted         int            `json:"total_attempted"`
	Succeeded         int            `json:"successful"`
	Failed            int            `json:"failed"`
	SuccessRate       float64        `json:"success_rate"`
	SucceededByStatus map[string]int `json:"successful_by_status"`
	Distribution      map[string]int `json:"target_distribution"`
}

// Summarize tallies results against the target status distribution. SuccessRate is
// the fraction of attempted submissions which succeeded, or zero if none were
// attempted.
func Summarize(results []Result, distribution map[string]int) Summary {
	s := Summary{
		Attempted:         len(results),
		SucceededByStatus: map[string]int{},
		Distribution:      distribution,
	}
	if s.Distribution == nil {
		s.Distribution = map[string]int{}
	}
	for _, r := range results {
		if r.Succeeded() {
			s.Succeeded++
			s.SucceededByStatus[r.Summary.Status]++
			continue
		}
		s.Failed++
	}
	if s.Attempted > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.Attempted)
	}
	return s
}

// Report is the persisted record of a bulk creation run.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Advisor    string    `json:"advisor"`
	Cancelled  bool      `json:"cancelled"`
	Summary    Summary   `json:"summary"`
	Results    []Result  `json:"results"`
}

// WriteReport writes the report to path as indented JSON. The file is written to a
// temporary file in the same directory and renamed into place, so an existing report
// is not left truncated by a failed write.
func (r *Report) WriteReport(path string) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode report: %w", err)
	}
	b = append(b, '\n')

	f, err := os.CreateTemp(filepath.Dir(path), ".report-*.json")
	if err != nil {
		return fmt.Errorf("could not create report file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op after rename

	if err := f.Chmod(0o644); err != nil {
		_ = f.Close()
		return fmt.Errorf("could not set report permissions: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return fmt.Errorf("could not write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("could not write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("could not write report to %q: %w", path, err)
	}
	return nil
}
