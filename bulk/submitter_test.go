package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rorycl/crmkit/apiclients/plannr"
	"github.com/rorycl/crmkit/seed"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeCreator returns the result of fn for each call, numbering calls from 1.
type fakeCreator struct {
	calls int
	fn    func(n int, record plannr.ClientRecord) (plannr.Created, error)
}

func (f *fakeCreator) CreateClient(ctx context.Context, record plannr.ClientRecord) (plannr.Created, error) {
	f.calls++
	return f.fn(f.calls, record)
}

// recordingProgress records the callbacks made to it.
type recordingProgress struct {
	attempts    []int
	outcomes    []Outcome
	checkpoints []Summary
}

func (p *recordingProgress) Attempt(n, total int, record plannr.ClientRecord) {
	p.attempts = append(p.attempts, n)
}
func (p *recordingProgress) Outcome(res Result) { p.outcomes = append(p.outcomes, res.Outcome) }
func (p *recordingProgress) Checkpoint(done, total int, s Summary) {
	p.checkpoints = append(p.checkpoints, s)
}

// sleepRecorder replaces the submitter's timer.
type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func generate(t *testing.T, count int) []plannr.ClientRecord {
	t.Helper()
	g := seed.NewGenerator(rand.NewSource(3))
	statuses, err := seed.Distribute(count, g.Shuffle)
	if err != nil {
		t.Fatal(err)
	}
	return g.GenerateAll(statuses)
}

func TestRunAllSucceed(t *testing.T) {
	records := generate(t, 100)
	creator := &fakeCreator{fn: func(n int, _ plannr.ClientRecord) (plannr.Created, error) {
		return plannr.Created{ID: fmt.Sprintf("cli-%03d", n), StatusCode: 201}, nil
	}}
	sleeper := &sleepRecorder{}
	progress := &recordingProgress{}

	s := &Submitter{
		Creator:       creator,
		Delay:         100 * time.Millisecond,
		Advisor:       "parashuram joshi",
		ProgressEvery: 10,
		Progress:      progress,
		Logger:        discard,
		Sleep:         sleeper.sleep,
	}
	report := s.Run(context.Background(), records)

	want := Summary{
		Attempted:         100,
		Succeeded:         100,
		Failed:            0,
		SuccessRate:       1,
		SucceededByStatus: map[string]int{"active": 25, "deceased": 25, "archived": 25, "inactive": 25},
		Distribution:      map[string]int{"active": 25, "deceased": 25, "archived": 25, "inactive": 25},
	}
	if diff := cmp.Diff(want, report.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if got := len(report.Results); got != 100 {
		t.Fatalf("got %d results want 100", got)
	}
	for i, r := range report.Results {
		if r.Number != i+1 {
			t.Errorf("result %d numbered %d", i, r.Number)
		}
		if r.Summary.Status != records[i].Status {
			t.Errorf("result %d: status %q want %q", i, r.Summary.Status, records[i].Status)
		}
	}
	if got, want := report.Results[41].CreatedID, "cli-042"; got != want {
		t.Errorf("got created id %q want %q", got, want)
	}
	if report.Cancelled {
		t.Error("report unexpectedly cancelled")
	}

	// The delay follows every request.
	if got := len(sleeper.delays); got != 100 {
		t.Errorf("got %d delays want 100", got)
	}
	for _, d := range sleeper.delays {
		if d != 100*time.Millisecond {
			t.Fatalf("got delay %s", d)
		}
	}

	if got := len(progress.attempts); got != 100 {
		t.Errorf("got %d attempts", got)
	}
	if got := len(progress.checkpoints); got != 10 {
		t.Errorf("got %d checkpoints want 10", got)
	}
	if got := progress.checkpoints[2].Attempted; got != 30 {
		t.Errorf("third checkpoint attempted %d want 30", got)
	}
}

func TestRunMixedOutcomes(t *testing.T) {
	records := generate(t, 20)
	creator := &fakeCreator{fn: func(n int, _ plannr.ClientRecord) (plannr.Created, error) {
		switch {
		case n%5 == 0:
			return plannr.Created{}, &plannr.APIError{StatusCode: 400, Message: "Bad request: email is invalid", Body: `{"message":"email is invalid"}`}
		case n == 7:
			return plannr.Created{}, &plannr.APIError{StatusCode: 503, Message: "HTTP 503: unavailable", Body: "unavailable"}
		case n == 11:
			return plannr.Created{}, errors.New("connection reset by peer")
		}
		return plannr.Created{ID: fmt.Sprint(n), StatusCode: 201}, nil
	}}
	sleeper := &sleepRecorder{}

	s := &Submitter{Creator: creator, Logger: discard, Sleep: sleeper.sleep}
	report := s.Run(context.Background(), records)

	sum := report.Summary
	if sum.Attempted != 20 || sum.Failed != 6 || sum.Succeeded != 14 {
		t.Fatalf("got attempted %d succeeded %d failed %d", sum.Attempted, sum.Succeeded, sum.Failed)
	}
	if sum.Succeeded+sum.Failed != sum.Attempted {
		t.Error("succeeded + failed != attempted")
	}
	if got, want := sum.SuccessRate, 14.0/20.0; got != want {
		t.Errorf("got success rate %v want %v", got, want)
	}
	if got := len(sleeper.delays); got != 20 {
		t.Errorf("got %d delays want 20 regardless of outcome", got)
	}

	tests := []struct {
		n      int
		status int
		kind   plannr.Kind
		err    string
		body   string
	}{
		{5, 400, plannr.KindClient, "Bad request: email is invalid", `{"message":"email is invalid"}`},
		{7, 503, plannr.KindServer, "HTTP 503: unavailable", "unavailable"},
		{11, 0, plannr.KindTransport, "connection reset by peer", ""},
	}
	for _, tt := range tests {
		r := report.Results[tt.n-1]
		if r.Outcome != Failure || r.StatusCode != tt.status || r.Kind != tt.kind || r.Error != tt.err || r.Response != tt.body {
			t.Errorf("result %d: got %+v", tt.n, r)
		}
	}
	if r := report.Results[5]; !r.Succeeded() || r.Kind != plannr.KindNone {
		t.Errorf("result 6: got %+v", r)
	}
}

// TestRunClientErrorResponse runs the submitter against a Plannr client and a server
// rejecting the second record.
func TestRunClientErrorResponse(t *testing.T) {
	records := generate(t, 4)
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/client" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if calls == 2 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"The email field must be unique."}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"_id":"cli-%d"}`, calls)
	}))
	defer server.Close()

	client, err := plannr.NewClient(
		context.Background(),
		server.URL,
		"test-token",
		plannr.WithHTTPClient(server.Client()),
		plannr.WithLogger(discard),
		plannr.WithMinInterval(0),
	)
	if err != nil {
		t.Fatal(err)
	}

	s := &Submitter{Creator: client, Logger: discard, Sleep: (&sleepRecorder{}).sleep}
	report := s.Run(context.Background(), records)

	if calls != 4 {
		t.Errorf("got %d requests want 4", calls)
	}
	failed := report.Results[1]
	if failed.Outcome != Failure || failed.StatusCode != 400 || failed.Kind != plannr.KindClient {
		t.Errorf("got %+v", failed)
	}
	if got, want := failed.Error, "Bad request: The email field must be unique."; got != want {
		t.Errorf("got error %q want %q", got, want)
	}
	if got, want := failed.Response, `{"message":"The email field must be unique."}`; got != want {
		t.Errorf("got response %q want %q", got, want)
	}
	if got := report.Results[3].CreatedID; got != "cli-4" {
		t.Errorf("got created id %q want cli-4", got)
	}
	if report.Summary.Failed != 1 || report.Summary.Succeeded != 3 {
		t.Errorf("got summary %+v", report.Summary)
	}
}

func TestRunCancelled(t *testing.T) {
	records := generate(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	creator := &fakeCreator{fn: func(n int, _ plannr.ClientRecord) (plannr.Created, error) {
		if n == 3 {
			cancel()
		}
		return plannr.Created{ID: fmt.Sprint(n), StatusCode: 201}, nil
	}}
	s := &Submitter{Creator: creator, Logger: discard, Sleep: (&sleepRecorder{}).sleep}
	report := s.Run(ctx, records)

	if !report.Cancelled {
		t.Error("expected a cancelled report")
	}
	if got := len(report.Results); got != 3 {
		t.Errorf("got %d results want 3", got)
	}
	if creator.calls != 3 {
		t.Errorf("got %d calls want 3", creator.calls)
	}
	if report.Summary.Attempted != 3 || report.Summary.Succeeded != 3 {
		t.Errorf("got summary %+v", report.Summary)
	}
	// The target distribution still describes the full run.
	var target int
	for _, n := range report.Summary.Distribution {
		target += n
	}
	if target != 8 {
		t.Errorf("got target distribution total %d want 8", target)
	}
}

func TestSleep(t *testing.T) {
	if err := sleep(context.Background(), 0); err != nil {
		t.Errorf("zero sleep: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleep(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled sleep did not return promptly")
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, nil)
	if s.Attempted != 0 || s.SuccessRate != 0 || s.Distribution == nil || s.SucceededByStatus == nil {
		t.Errorf("got %+v", s)
	}
}

func TestWriteReport(t *testing.T) {
	records := generate(t, 4)
	creator := &fakeCreator{fn: func(n int, _ plannr.ClientRecord) (plannr.Created, error) {
		if n == 4 {
			return plannr.Created{}, &plannr.APIError{StatusCode: 403, Message: "Permission denied: Insufficient permissions"}
		}
		return plannr.Created{ID: fmt.Sprint(n), StatusCode: 201}, nil
	}}
	fixed := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	s := &Submitter{
		Creator: creator,
		Advisor: "parashuram joshi",
		Logger:  discard,
		Sleep:   (&sleepRecorder{}).sleep,
		Now:     func() time.Time { return fixed },
	}
	report := s.Run(context.Background(), records)

	dir := t.TempDir()
	path := filepath.Join(dir, "client_creation_results.json")
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := report.WriteReport(path); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		RunID     string `json:"run_id"`
		StartedAt string `json:"started_at"`
		Advisor   string `json:"advisor"`
		Summary   struct {
			Attempted   int     `json:"total_attempted"`
			Succeeded   int     `json:"successful"`
			Failed      int     `json:"failed"`
			SuccessRate float64 `json:"success_rate"`
		} `json:"summary"`
		Results []map[string]any `json:"results"`
	}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("report is not valid json: %v", err)
	}
	if got.RunID != report.RunID || got.Advisor != "parashuram joshi" || got.StartedAt != "2025-03-01T09:30:00Z" {
		t.Errorf("got header %q %q %q", got.RunID, got.Advisor, got.StartedAt)
	}
	if got.Summary.Attempted != 4 || got.Summary.Succeeded != 3 || got.Summary.Failed != 1 || got.Summary.SuccessRate != 0.75 {
		t.Errorf("got summary %+v", got.Summary)
	}
	if len(got.Results) != 4 {
		t.Fatalf("got %d results", len(got.Results))
	}
	if kind := got.Results[3]["error_kind"]; kind != "client_error" {
		t.Errorf("got error kind %v", kind)
	}
	if _, ok := got.Results[0]["error_kind"]; ok {
		t.Error("successful result carries an error kind")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}

	if err := report.WriteReport(filepath.Join(dir, "missing", "report.json")); err == nil {
		t.Error("expected an error writing to a missing directory")
	}
}
