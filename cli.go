package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/rorycl/crmkit/apiclients/plannr"
	"github.com/rorycl/crmkit/app"
)

// Applicator defines the interface for the core application logic.
// This allows the CLI to be tested independently of the main app implementation.
type Applicator interface {
	SetVerbose(verbose bool)
	Purge(ctx context.Context, cfgPath string, opts app.PurgeOptions) error
	ExportSQL(dir string) error
	Seed(ctx context.Context, cfgPath string, opts app.SeedOptions) error
	Ping(ctx context.Context, cfgPath string) error
	ListAccounts(ctx context.Context, cfgPath string, opts plannr.ListOptions) error
	BulkUpsertAccounts(ctx context.Context, cfgPath, file string) error
	Search(ctx context.Context, cfgPath, query, modelType string, limit int) error
}

// BuildCLI creates the full CLI command structure for the application.
// It injects the core application logic (the Applicator) into the command actions.
func BuildCLI(a Applicator) *cli.Command {

	purgeCmd := &cli.Command{
		Name:  "purge",
		Usage: "Delete all CRM data in foreign key order in a single transaction",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Aliases: []string{"n"}, Usage: "report row counts without deleting"},
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
			&cli.BoolFlag{Name: "check", Usage: "verify the delete order against the database foreign keys"},
			&cli.BoolFlag{Name: "print-sql", Usage: "print the purge sql script and exit"},
			&cli.BoolFlag{Name: "init-schema", Usage: "create the CRM tables if they do not exist"},
			&cli.StringFlag{Name: "sql-dir", Usage: "directory of sql files to use instead of the built-in files"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return a.Purge(ctx, c.String("config"), app.PurgeOptions{
				DryRun:     c.Bool("dry-run"),
				Yes:        c.Bool("yes"),
				Check:      c.Bool("check"),
				PrintSQL:   c.Bool("print-sql"),
				InitSchema: c.Bool("init-schema"),
				SQLDir:     c.String("sql-dir"),
			})
		},
	}

	sqlCmd := &cli.Command{
		Name:  "sql",
		Usage: "Work with the built-in sql files",
		Commands: []*cli.Command{
			{
				Name:      "export",
				Usage:     "Write the built-in sql files to DIR/sql for editing",
				ArgsUsage: "DIR",
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() != 1 {
						return errors.New("export needs a single directory argument")
					}
					return a.ExportSQL(c.Args().First())
				},
			},
		},
	}

	seedCmd := &cli.Command{
		Name:  "seed",
		Usage: "Create synthetic clients in Plannr with an even status distribution",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Usage: "number of clients to create, a multiple of 4"},
			&cli.StringFlag{Name: "delay", Usage: "pause after each request (e.g., '100ms')"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "path of the results report"},
			&cli.BoolFlag{Name: "dry-run", Aliases: []string{"n"}, Usage: "generate and list clients without calling the API"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			opts := app.SeedOptions{
				Count:  int(c.Int("count")),
				Out:    c.String("out"),
				DryRun: c.Bool("dry-run"),
			}
			if c.IsSet("delay") {
				d, err := parseDelay(c.String("delay"))
				if err != nil {
					return err
				}
				opts.Delay = &d
			}
			return a.Seed(ctx, c.String("config"), opts)
		},
	}

	pingCmd := &cli.Command{
		Name:  "ping",
		Usage: "Check the API token by fetching the firm details and API usage",
		Action: func(ctx context.Context, c *cli.Command) error {
			return a.Ping(ctx, c.String("config"))
		},
	}

	accountsCmd := &cli.Command{
		Name:  "accounts",
		Usage: "List or bulk upsert Plannr accounts",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List a page of accounts",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 100, Usage: "page size, at most 2000"},
					&cli.IntFlag{Name: "offset", Usage: "records to skip"},
					&cli.StringFlag{Name: "sort", Usage: "sort field"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return a.ListAccounts(ctx, c.String("config"), plannr.ListOptions{
						Limit:  int(c.Int("limit")),
						Offset: int(c.Int("offset")),
						Sort:   c.String("sort"),
					})
				},
			},
			{
				Name:      "bulk-upsert",
				Usage:     "Create or update up to 5000 accounts from a JSON array file",
				ArgsUsage: "FILE",
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() != 1 {
						return errors.New("bulk-upsert needs a single file argument")
					}
					return a.BulkUpsertAccounts(ctx, c.String("config"), c.Args().First())
				},
			},
		},
	}

	searchCmd := &cli.Command{
		Name:      "search",
		Usage:     "Search Plannr records",
		ArgsUsage: "QUERY",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "restrict results to a model type"},
			&cli.IntFlag{Name: "limit", Value: 50, Usage: "maximum number of results"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return errors.New("search needs a single query argument")
			}
			return a.Search(ctx, c.String("config"), c.Args().First(), c.String("type"), int(c.Int("limit")))
		},
	}

	// Assemble the root command.
	rootCmd := &cli.Command{
		Name:  "crmkit",
		Usage: "Maintenance tools for a Plannr CRM deployment",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to the configuration file",
			},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log debug output"},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			a.SetVerbose(c.Bool("verbose"))
			return ctx, nil
		},
		Commands: []*cli.Command{purgeCmd, sqlCmd, seedCmd, pingCmd, accountsCmd, searchCmd},
	}

	return rootCmd
}

// parseDelay parses a non-negative duration.
func parseDelay(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --delay duration format: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("--delay must not be negative, got %s", s)
	}
	return d, nil
}
