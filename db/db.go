// Package db provides the database component of the crmkit project.
//
// The package clears the CRM application tables in foreign key dependency order inside a
// single transaction. sqlite is the default backend and the one used in tests, but the
// purge also runs against the postgres and mysql deployments of the CRM application, so
// statements are built with squirrel rather than held as dialect specific sql files.
//
// The modelled schema is held in the `sql` directory and can be run on the sqlite
// command line, as can the purge script rendered by PurgeScript.
package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	sq "github.com/Masterminds/squirrel" // sql builder
	_ "github.com/go-sql-driver/mysql"   // mysql driver
	_ "github.com/jackc/pgx/v5/stdlib"   // postgres driver, registered as "pgx"
	"github.com/jmoiron/sqlx"            // helper library
	_ "modernc.org/sqlite"               // pure go sqlite driver
)

// SQLEmbeddedFS holds the modelled schema and the reference purge script.
//
//go:embed sql
var SQLEmbeddedFS embed.FS

// Supported database drivers, as named in the configuration file.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// sqlDriverName maps a configured driver to the registered database/sql driver.
var sqlDriverName = map[string]string{
	DriverSQLite:   "sqlite",
	DriverPostgres: "pgx",
	DriverMySQL:    "mysql",
}

// DB provides a wrapper around the sqlx.DB connection for application-specific db
// operations.
type DB struct {
	*sqlx.DB
	driver string
	qb     sq.StatementBuilderType
	logger *slog.Logger
	level  *slog.LevelVar
}

// NewConnection opens a connection to the database described by driver and dsn. A nil
// logger is replaced by a text logger on stderr at warning level.
func NewConnection(driver, dsn string, logger *slog.Logger) (*DB, error) {

	sqlDriver, ok := sqlDriverName[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if dsn == "" {
		return nil, errors.New("no database dsn provided")
	}

	if driver == DriverSQLite {
		var err error
		dsn, err = sqliteDataSource(dsn)
		if err != nil {
			return nil, err
		}
	}

	dbx, err := sqlx.Open(sqlDriver, dsn)
	if err != nil {
		return nil, err
	}

	// A single connection keeps sqlite in-memory databases and pragmas consistent
	// across statements.
	if driver == DriverSQLite {
		dbx.SetMaxOpenConns(1)
	}

	if err := dbx.Ping(); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("could not connect to %s database: %w", driver, err)
	}

	level := new(slog.LevelVar)
	if logger == nil {
		level.Set(slog.LevelWarn)
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	return &DB{
		DB:     dbx,
		driver: driver,
		qb:     sq.StatementBuilder.PlaceholderFormat(placeholderFormat(driver)),
		logger: logger,
		level:  level,
	}, nil
}

// placeholderFormat returns the bind parameter style of driver.
func placeholderFormat(driver string) sq.PlaceholderFormat {
	if driver == DriverPostgres {
		return sq.Dollar
	}
	return sq.Question
}

// sqliteDataSource enables foreign key enforcement for sqlite connections.
func sqliteDataSource(dsn string) (string, error) {

	// for in-memory test databases, check the necessary cached setting is used.
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		if !strings.Contains(dsn, "cache=shared") {
			return "", fmt.Errorf("in-memory connection %q should contain 'cache=shared'", dsn)
		}
	}
	if strings.Contains(dsn, "foreign_keys") {
		return dsn, nil
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)", nil
}

// Driver returns the configured driver name.
func (db *DB) Driver() string {
	return db.driver
}

// SetLogLevel sets the level of the default logger. It has no effect on a logger
// supplied to NewConnection.
func (db *DB) SetLogLevel(level slog.Level) {
	db.level.Set(level)
}

// InitSchema creates the necessary tables if they don't already exist. The schema file
// can be run idempotently.
func (db *DB) InitSchema(fileFS fs.FS, filePath string) error {

	schema, err := fs.ReadFile(fileFS, filePath)
	if err != nil {
		return fmt.Errorf("could not read schema file at %q: %w", filePath, err)
	}

	_, err = db.ExecContext(context.Background(), string(schema))
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}
