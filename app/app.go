// Package app is the central orchestrator for the crmkit commands. It coordinates the
// configuration, the CRM database, the synthetic record generator and the Plannr API
// client.
package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/rorycl/crmkit/apiclients/plannr"
	"github.com/rorycl/crmkit/bulk"
	"github.com/rorycl/crmkit/config"
	"github.com/rorycl/crmkit/db"
	"github.com/rorycl/crmkit/internal/mounts"
	"github.com/rorycl/crmkit/seed"
)

// ErrAborted reports that the user declined to confirm a purge.
var ErrAborted = errors.New("purge aborted: confirmation not given")

// DefaultEnvFile is the dotenv file read before the configuration.
const DefaultEnvFile = ".env"

// App implements the command actions.
type App struct {
	charm   *charmlog.Logger
	logger  *slog.Logger
	out     io.Writer
	in      io.Reader
	envFile string

	// seedSource seeds the record generator; nil seeds from the clock.
	seedSource rand.Source
	// sleep replaces the pause between submissions; nil uses a timer.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates and returns a new App instance logging to stderr.
func New() *App {
	charm := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           charmlog.InfoLevel,
	})
	return &App{
		charm:   charm,
		logger:  slog.New(charm),
		out:     os.Stdout,
		in:      os.Stdin,
		envFile: DefaultEnvFile,
	}
}

// SetVerbose switches debug logging on or off.
func (a *App) SetVerbose(verbose bool) {
	if verbose {
		a.charm.SetLevel(charmlog.DebugLevel)
		return
	}
	a.charm.SetLevel(charmlog.InfoLevel)
}

// loadConfig reads the dotenv file, if any, and then the configuration file.
func (a *App) loadConfig(cfgPath string) (*config.Config, error) {
	if err := config.LoadEnv(a.envFile); err != nil {
		return nil, err
	}
	return config.Load(cfgPath)
}

// PurgeOptions are the settings for the purge command.
type PurgeOptions struct {
	DryRun     bool   // report row counts only
	Yes        bool   // skip the confirmation prompt
	Check      bool   // verify the delete order against the database foreign keys
	PrintSQL   bool   // print the purge script and exit
	InitSchema bool   // create the modelled tables before purging
	SQLDir     string // directory overriding the embedded sql files
}

// Purge deletes all rows from the CRM tables in dependency order in one transaction.
func (a *App) Purge(ctx context.Context, cfgPath string, opts PurgeOptions) error {

	tables := db.DeleteOrder()
	if opts.PrintSQL {
		_, err := fmt.Fprint(a.out, db.PurgeScript(tables))
		return err
	}

	cfg, err := a.loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateDatabase(); err != nil {
		return err
	}

	conn, err := db.NewConnection(cfg.Database.Driver, cfg.Database.DSN, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer conn.Close()

	if opts.InitSchema {
		sqlFS, err := mounts.NewFileMount("sql", db.SQLEmbeddedFS, opts.SQLDir)
		if err != nil {
			return fmt.Errorf("could not mount sql files: %w", err)
		}
		a.logger.Debug(sqlFS.String())
		if err := conn.InitSchema(sqlFS, "schema.sql"); err != nil {
			return err
		}
		a.logger.Info("schema initialised")
	}

	if opts.Check {
		return a.checkOrder(ctx, conn, tables)
	}

	counts, err := conn.RowCounts(ctx, tables)
	if err != nil {
		return err
	}
	var total int64
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for i, t := range tables {
		fmt.Fprintf(tw, "%2d\t%s\t%d\n", i+1, t, counts[t])
		total += counts[t]
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d rows in %d tables\n", total, len(tables))

	if opts.DryRun {
		return nil
	}
	if total > 0 && !opts.Yes {
		prompt := fmt.Sprintf(
			"Are you sure you want to delete ALL %d rows from the %s database? This action cannot be undone. (yes/no): ",
			total, conn.Driver(),
		)
		if !a.confirm(prompt) {
			return ErrAborted
		}
	}

	result, err := conn.Purge(ctx, tables)
	if err != nil {
		return fmt.Errorf("purge rolled back: %w", err)
	}
	fmt.Fprintf(a.out, "Deleted %d rows from %d tables\n", result.Total, len(result.Tables))
	return nil
}

// checkOrder verifies the delete order against the database foreign keys, printing a
// corrected order if the check fails.
func (a *App) checkOrder(ctx context.Context, conn *db.DB, tables []string) error {
	fks, err := conn.ForeignKeys(ctx, tables)
	if err != nil {
		return err
	}
	if err := db.CheckDeleteOrder(tables, fks); err != nil {
		if sorted, sortErr := db.SortForDelete(tables, fks); sortErr == nil {
			fmt.Fprintf(a.out, "A valid delete order is:\n  %s\n", strings.Join(sorted, "\n  "))
		}
		return err
	}
	fmt.Fprintf(a.out, "Delete order of %d tables verified against %d foreign keys\n", len(tables), len(fks))
	return nil
}

// ExportSQL writes the embedded sql files to dir/sql for editing. The exported
// directory can be passed back with the purge --sql-dir flag.
func (a *App) ExportSQL(dir string) error {
	sqlFS, err := mounts.NewFileMount("sql", db.SQLEmbeddedFS, "")
	if err != nil {
		return err
	}
	written, err := sqlFS.Materialize(dir)
	if err != nil {
		return fmt.Errorf("could not export sql files: %w", err)
	}
	files, err := sqlFS.Files()
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintln(a.out, filepath.Join(written, filepath.FromSlash(f)))
	}
	return nil
}

// confirm prompts for and reads a yes or no answer.
func (a *App) confirm(prompt string) bool {
	fmt.Fprint(a.out, prompt)
	scanner := bufio.NewScanner(a.in)
	if !scanner.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(scanner.Text()), "yes")
}

// SeedOptions are the settings for the seed command. Zero values fall back to the
// configuration file.
type SeedOptions struct {
	Count  int
	Delay  *time.Duration
	Out    string
	DryRun bool
}

// Seed generates synthetic clients with an even status distribution and creates them
// in Plannr one at a time, writing a report of the outcomes.
func (a *App) Seed(ctx context.Context, cfgPath string, opts SeedOptions) error {

	cfg, err := a.loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if opts.Count != 0 {
		cfg.Seed.Count = opts.Count
	}
	if opts.Delay != nil {
		cfg.Seed.RequestDelay = *opts.Delay
	}
	if opts.Out != "" {
		cfg.Seed.ResultsFile = opts.Out
	}

	// All configuration is checked before any record is generated or submitted.
	if err := cfg.ValidateSeed(); err != nil {
		return err
	}
	if !opts.DryRun {
		if err := cfg.ValidatePlannr(); err != nil {
			return err
		}
	}

	g := seed.NewGenerator(a.seedSource)
	g.Advisor = cfg.Seed.Advisor
	statuses, err := seed.Distribute(cfg.Seed.Count, g.Shuffle)
	if err != nil {
		return err
	}
	records := g.GenerateAll(statuses)

	con := newConsole(a.out)
	con.plan(len(records), cfg.Seed.Advisor, seed.Tally(statuses))

	if opts.DryRun {
		for i, r := range records {
			fmt.Fprintf(a.out, "%3d. %-10s %s <%s>\n", i+1, r.Status, r.FullName(), r.Email)
		}
		return nil
	}

	client, err := a.plannrClient(ctx, cfg)
	if err != nil {
		return err
	}

	submitter := &bulk.Submitter{
		Creator:       client,
		Delay:         cfg.Seed.RequestDelay,
		Advisor:       cfg.Seed.Advisor,
		ProgressEvery: cfg.Seed.ProgressEvery,
		Progress:      con,
		Logger:        a.logger,
		Sleep:         a.sleep,
	}
	report := submitter.Run(ctx, records)
	con.summary(report)

	if err := report.WriteReport(cfg.Seed.ResultsFile); err != nil {
		a.logger.Error(fmt.Sprintf("Seed: results not saved: %v", err))
		return err
	}
	fmt.Fprintf(a.out, "\nResults exported to: %s\n", cfg.Seed.ResultsFile)

	if report.Cancelled {
		return fmt.Errorf("seeding cancelled after %d of %d clients", report.Summary.Attempted, len(records))
	}
	return nil
}

// plannrClient validates the Plannr settings and returns a client.
func (a *App) plannrClient(ctx context.Context, cfg *config.Config) (*plannr.Client, error) {
	if err := cfg.ValidatePlannr(); err != nil {
		return nil, err
	}
	client, err := plannr.NewClient(
		ctx,
		cfg.Plannr.BaseURL,
		cfg.Plannr.APIToken,
		plannr.WithLogger(a.logger),
		plannr.WithClientPath(cfg.Plannr.ClientPath),
		plannr.WithMinInterval(cfg.Plannr.MinRequestInterval),
		plannr.WithTimeout(cfg.Plannr.RequestTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plannr client: %w", err)
	}
	return client, nil
}

// Ping reports the firm the token belongs to and the current API usage.
func (a *App) Ping(ctx context.Context, cfgPath string) error {
	cfg, err := a.loadConfig(cfgPath)
	if err != nil {
		return err
	}
	client, err := a.plannrClient(ctx, cfg)
	if err != nil {
		return err
	}

	firm, err := client.FirmInfo(ctx)
	if err != nil {
		return fmt.Errorf("firm info: %w", err)
	}
	fmt.Fprintf(a.out, "Connected to %s as firm %q (%s)\n", cfg.Plannr.BaseURL, firm.Name(), firm.ID())

	usage, err := client.APIUsage(ctx)
	if err != nil {
		return fmt.Errorf("api usage: %w", err)
	}
	fmt.Fprintln(a.out, "API usage:")
	return printJSON(a.out, usage)
}

// ListAccounts prints a page of accounts.
func (a *App) ListAccounts(ctx context.Context, cfgPath string, opts plannr.ListOptions) error {
	cfg, err := a.loadConfig(cfgPath)
	if err != nil {
		return err
	}
	client, err := a.plannrClient(ctx, cfg)
	if err != nil {
		return err
	}
	accounts, err := client.List(ctx, plannr.Accounts, &opts)
	if err != nil {
		return err
	}
	printObjects(a.out, accounts)
	a.logger.Debug(fmt.Sprintf("ListAccounts: %d accounts", len(accounts)))
	return nil
}

// BulkUpsertAccounts creates or updates the accounts held as a JSON array in file.
func (a *App) BulkUpsertAccounts(ctx context.Context, cfgPath, file string) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("could not read accounts file: %w", err)
	}
	var accounts []plannr.Object
	if err := json.Unmarshal(b, &accounts); err != nil {
		return fmt.Errorf("accounts file %s is not a JSON array of objects: %w", file, err)
	}

	cfg, err := a.loadConfig(cfgPath)
	if err != nil {
		return err
	}
	client, err := a.plannrClient(ctx, cfg)
	if err != nil {
		return err
	}
	result, err := client.BulkUpsertAccounts(ctx, accounts)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Upserted %d accounts\n", len(accounts))
	return printJSON(a.out, result)
}

// Search prints the records matching query.
func (a *App) Search(ctx context.Context, cfgPath, query, modelType string, limit int) error {
	cfg, err := a.loadConfig(cfgPath)
	if err != nil {
		return err
	}
	client, err := a.plannrClient(ctx, cfg)
	if err != nil {
		return err
	}
	results, err := client.Search(ctx, query, modelType, limit)
	if err != nil {
		return err
	}
	printObjects(a.out, results)
	return nil
}

func printObjects(w io.Writer, objs []plannr.Object) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, o := range objs {
		fmt.Fprintf(tw, "%s\t%s\n", o.ID(), o.Name())
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d records\n", len(objs))
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
