package app

import (
	"bytes"
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
	"strings"
	"sync/atomic"
	"testing"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/fatih/color"

	"github.com/rorycl/crmkit/config"
	"github.com/rorycl/crmkit/db"
)

// newTestApp returns an App writing to a buffer, reading answers from input and
// logging nowhere.
func newTestApp(t *testing.T, input string) (*App, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true
	t.Setenv(config.EnvAPIToken, "")
	t.Setenv(config.EnvBaseURL, "")

	charm := charmlog.New(io.Discard)
	out := &bytes.Buffer{}
	return &App{
		charm:      charm,
		logger:     slog.New(charm),
		out:        out,
		in:         strings.NewReader(input),
		envFile:    filepath.Join(t.TempDir(), "missing.env"),
		seedSource: rand.NewSource(11),
		sleep:      func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}, out
}

// writeConfig writes a configuration file to a temporary directory.
func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// setupCRMDatabase creates a sqlite CRM database holding a contact and an account.
func setupCRMDatabase(t *testing.T) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "crm.db")
	conn, err := db.NewConnection(db.DriverSQLite, dsn, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := conn.InitSchema(db.SQLEmbeddedFS, "sql/schema.sql"); err != nil {
		t.Fatal(err)
	}
	_, err = conn.Exec(`
		INSERT INTO crm_contact (id, first_name, last_name) VALUES (1, 'Jane', 'Garcia');
		INSERT INTO crm_account (id, name, primary_contact_id) VALUES (1, 'Garcia Trust', 1);`)
	if err != nil {
		t.Fatal(err)
	}
	return dsn
}

func TestPurge(t *testing.T) {
	dsn := setupCRMDatabase(t)
	cfgPath := writeConfig(t, fmt.Sprintf("database:\n  driver: sqlite\n  dsn: %s\n", dsn))
	ctx := context.Background()

	// Dry run reports counts only.
	a, out := newTestApp(t, "")
	if err := a.Purge(ctx, cfgPath, PurgeOptions{DryRun: true}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "2 rows in 15 tables") {
		t.Errorf("unexpected dry run output:\n%s", out)
	}

	// Declining the prompt leaves the data in place.
	a, out = newTestApp(t, "no\n")
	if err := a.Purge(ctx, cfgPath, PurgeOptions{}); !errors.Is(err, ErrAborted) {
		t.Fatalf("got %v want ErrAborted", err)
	}
	if !strings.Contains(out.String(), "Are you sure") {
		t.Errorf("no confirmation prompt in output:\n%s", out)
	}

	a, out = newTestApp(t, "yes\n")
	if err := a.Purge(ctx, cfgPath, PurgeOptions{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Deleted 2 rows from 15 tables") {
		t.Errorf("unexpected purge output:\n%s", out)
	}

	// Purging the empty tables again needs no confirmation and deletes nothing.
	a, out = newTestApp(t, "")
	if err := a.Purge(ctx, cfgPath, PurgeOptions{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Deleted 0 rows from 15 tables") {
		t.Errorf("unexpected second purge output:\n%s", out)
	}
}

func TestPurgeInitSchemaAndCheck(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "empty.db")
	cfgPath := writeConfig(t, fmt.Sprintf("database:\n  driver: sqlite\n  dsn: %s\n", dsn))

	a, out := newTestApp(t, "")
	err := a.Purge(context.Background(), cfgPath, PurgeOptions{InitSchema: true, Check: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Delete order of 15 tables verified against 19 foreign keys") {
		t.Errorf("unexpected check output:\n%s", out)
	}
}

func TestPurgeConfigErrors(t *testing.T) {
	a, _ := newTestApp(t, "")
	cfgPath := writeConfig(t, "database:\n  driver: oracle\n  dsn: x\n")
	if err := a.Purge(context.Background(), cfgPath, PurgeOptions{Yes: true}); err == nil {
		t.Error("expected a driver error")
	}
	if err := a.Purge(context.Background(), "does-not-exist.yaml", PurgeOptions{}); err == nil {
		t.Error("expected a missing config error")
	}
}

func TestPurgePrintSQL(t *testing.T) {
	a, out := newTestApp(t, "")
	// No configuration is needed to print the script.
	if err := a.Purge(context.Background(), "", PurgeOptions{PrintSQL: true}); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), db.PurgeScript(db.DeleteOrder()); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestExportSQL(t *testing.T) {
	a, out := newTestApp(t, "")
	dir := t.TempDir()
	if err := a.ExportSQL(dir); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"purge.sql", "schema.sql"} {
		if _, err := os.Stat(filepath.Join(dir, "sql", f)); err != nil {
			t.Errorf("%s not exported: %v", f, err)
		}
	}
	if lines := strings.Count(out.String(), "\n"); lines != 2 {
		t.Errorf("got %d lines of output:\n%s", lines, out)
	}
}

// plannrServer serves the client creation endpoint, rejecting the requests numbered
// in reject.
func plannrServer(t *testing.T, reject map[int64]bool) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	calls := &atomic.Int64{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/client", func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer real-token" {
			t.Errorf("got authorization %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		if reject[n] {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"The email field must be unique."}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"_id":"cli-%d"}`, n)
	})
	mux.HandleFunc("GET /firms/current", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"_id":"firm-1","name":"Joshi Wealth"}`))
	})
	mux.HandleFunc("GET /api/usage", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"requests_this_minute":3,"limit":200}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, calls
}

func seedConfig(baseURL, token, results string, count int) string {
	return fmt.Sprintf(`plannr:
  base_url: %s
  api_token: %s
  min_request_interval: 1ms
seed:
  count: %d
  request_delay: 1ms
  results_file: %s
  progress_every: 4
`, baseURL, token, count, results)
}

func TestSeed(t *testing.T) {
	server, calls := plannrServer(t, map[int64]bool{3: true})
	results := filepath.Join(t.TempDir(), "results.json")
	cfgPath := writeConfig(t, seedConfig(server.URL, "real-token", results, 8))

	a, out := newTestApp(t, "")
	if err := a.Seed(context.Background(), cfgPath, SeedOptions{}); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 8 {
		t.Errorf("got %d requests want 8", got)
	}

	output := out.String()
	for _, want := range []string{
		`Creating 8 clients with advisor "parashuram joshi"`,
		"Status distribution: active=2 deceased=2 archived=2 inactive=2",
		"❌ Failed to create client: Bad request: The email field must be unique.",
		"   Status Code: 400",
		"Progress: 4/8 clients processed",
		"Success rate: 87.5%",
		"Results exported to: " + results,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}

	b, err := os.ReadFile(results)
	if err != nil {
		t.Fatal(err)
	}
	var report struct {
		Summary struct {
			Attempted int            `json:"total_attempted"`
			Succeeded int            `json:"successful"`
			Failed    int            `json:"failed"`
			Target    map[string]int `json:"target_distribution"`
		} `json:"summary"`
		Results []struct {
			Outcome string `json:"outcome"`
			Error   string `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(b, &report); err != nil {
		t.Fatal(err)
	}
	if s := report.Summary; s.Attempted != 8 || s.Succeeded != 7 || s.Failed != 1 {
		t.Errorf("got summary %+v", s)
	}
	for _, st := range []string{"active", "deceased", "archived", "inactive"} {
		if report.Summary.Target[st] != 2 {
			t.Errorf("target for %s: got %d want 2", st, report.Summary.Target[st])
		}
	}
	if r := report.Results[2]; r.Outcome != "failure" || r.Error != "Bad request: The email field must be unique." {
		t.Errorf("got third result %+v", r)
	}
}

func TestSeedRejectedBeforeSubmission(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		count   int
		wantErr error
	}{
		{"count not divisible by four", "real-token", 10, config.ErrCountNotDivisible},
		{"placeholder token", "YOUR_PLANNR_CRM_API_KEY", 8, config.ErrPlaceholderToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, calls := plannrServer(t, nil)
			results := filepath.Join(t.TempDir(), "results.json")
			cfgPath := writeConfig(t, seedConfig(server.URL, tt.token, results, tt.count))

			a, out := newTestApp(t, "")
			err := a.Seed(context.Background(), cfgPath, SeedOptions{})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v want %v", err, tt.wantErr)
			}
			if got := calls.Load(); got != 0 {
				t.Errorf("got %d requests want none", got)
			}
			if out.Len() != 0 {
				t.Errorf("unexpected output:\n%s", out)
			}
			if _, err := os.Stat(results); !os.IsNotExist(err) {
				t.Error("results file written for a rejected run")
			}
		})
	}
}

func TestSeedOptionsOverrideConfig(t *testing.T) {
	server, calls := plannrServer(t, nil)
	results := filepath.Join(t.TempDir(), "results.json")
	cfgPath := writeConfig(t, seedConfig(server.URL, "real-token", results, 100))

	out := filepath.Join(t.TempDir(), "override.json")
	delay := time.Duration(0)
	a, _ := newTestApp(t, "")
	if err := a.Seed(context.Background(), cfgPath, SeedOptions{Count: 4, Delay: &delay, Out: out}); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 4 {
		t.Errorf("got %d requests want 4", got)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("override results file not written: %v", err)
	}
	if _, err := os.Stat(results); !os.IsNotExist(err) {
		t.Error("configured results file written despite override")
	}
}

func TestSeedDryRun(t *testing.T) {
	// A dry run needs no token.
	cfgPath := writeConfig(t, seedConfig("https://api.plannrcrm.com", "", "unused.json", 12))
	a, out := newTestApp(t, "")
	if err := a.Seed(context.Background(), cfgPath, SeedOptions{DryRun: true}); err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(out.String(), "@"); got != 12 {
		t.Errorf("got %d records listed want 12:\n%s", got, out)
	}
}

func TestPing(t *testing.T) {
	server, _ := plannrServer(t, nil)
	cfgPath := writeConfig(t, seedConfig(server.URL, "real-token", "unused.json", 4))

	a, out := newTestApp(t, "")
	if err := a.Ping(context.Background(), cfgPath); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`firm "Joshi Wealth" (firm-1)`, `"limit": 200`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
