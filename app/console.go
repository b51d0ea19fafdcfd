package app

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/rorycl/crmkit/apiclients/plannr"
	"github.com/rorycl/crmkit/bulk"
	"github.com/rorycl/crmkit/seed"
)

// maxResponseEcho limits the response body printed for a failed submission.
const maxResponseEcho = 200

// console prints progress of a seeding run for a person watching the terminal. It
// implements bulk.Progress.
type console struct {
	w       io.Writer
	ok      *color.Color
	fail    *color.Color
	heading *color.Color
	muted   *color.Color
}

func newConsole(w io.Writer) *console {
	return &console{
		w:       w,
		ok:      color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		heading: color.New(color.FgCyan, color.Bold),
		muted:   color.New(color.Faint),
	}
}

func (c *console) rule(ch string) {
	fmt.Fprintln(c.w, strings.Repeat(ch, 60))
}

// Attempt fulfils bulk.Progress.
func (c *console) Attempt(n, total int, record plannr.ClientRecord) {
	fmt.Fprintf(c.w, "Creating client %d/%d with status: %s\n", n, total, record.Status)
}

// Outcome fulfils bulk.Progress.
func (c *console) Outcome(res bulk.Result) {
	if res.Succeeded() {
		c.ok.Fprintf(c.w, "✅ Successfully created: %s", res.Summary.Name)
		if res.CreatedID != "" {
			c.muted.Fprintf(c.w, " (%s)", res.CreatedID)
		}
		fmt.Fprintln(c.w)
		return
	}
	c.fail.Fprintf(c.w, "❌ Failed to create client: %s\n", res.Error)
	if res.StatusCode != 0 {
		fmt.Fprintf(c.w, "   Status Code: %d\n", res.StatusCode)
	}
	if res.Response != "" {
		fmt.Fprintf(c.w, "   Response: %s\n", truncateResponse(res.Response, maxResponseEcho))
	}
}

// truncateResponse shortens body to at most limit bytes without splitting a
// multi-byte character, marking the cut with an ellipsis.
func truncateResponse(body string, limit int) string {
	if len(body) <= limit {
		return body
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}

// Checkpoint fulfils bulk.Progress.
func (c *console) Checkpoint(done, total int, s bulk.Summary) {
	fmt.Fprintf(c.w, "Progress: %d/%d clients processed\n", done, total)
	fmt.Fprintf(c.w, "Success: %d, Failed: %d\n", s.Succeeded, s.Failed)
	c.rule("-")
}

// plan prints the target distribution before a run.
func (c *console) plan(count int, advisor string, distribution map[seed.Status]int) {
	fmt.Fprintf(c.w, "Creating %d clients with advisor %q\n", count, advisor)
	parts := make([]string, 0, len(seed.Statuses))
	for _, s := range seed.Statuses {
		parts = append(parts, fmt.Sprintf("%s=%d", s, distribution[s]))
	}
	fmt.Fprintf(c.w, "Status distribution: %s\n", strings.Join(parts, " "))
	c.rule("-")
}

// summary prints the final summary of a run.
func (c *console) summary(r *bulk.Report) {
	s := r.Summary
	fmt.Fprintln(c.w)
	c.rule("=")
	c.heading.Fprintln(c.w, "SUMMARY")
	c.rule("=")
	if r.Cancelled {
		c.fail.Fprintln(c.w, "Run cancelled before all clients were submitted")
	}
	fmt.Fprintf(c.w, "Total clients processed: %d\n", s.Attempted)
	c.ok.Fprintf(c.w, "Successfully created: %d\n", s.Succeeded)
	if s.Failed > 0 {
		c.fail.Fprintf(c.w, "Failed: %d\n", s.Failed)
	} else {
		fmt.Fprintf(c.w, "Failed: %d\n", s.Failed)
	}
	fmt.Fprintf(c.w, "Success rate: %.1f%%\n", s.SuccessRate*100)

	fmt.Fprintln(c.w, "\nStatus Distribution:")
	for _, st := range seed.Statuses {
		fmt.Fprintf(c.w, "  %-9s %3d target, %3d created\n", st, s.Distribution[string(st)], s.SucceededByStatus[string(st)])
	}
}
