package db

import (
	"context"
	"fmt"
	"strings"
)

// TableDeletion records the rows deleted from one table.
type TableDeletion struct {
	Table string
	Rows  int64
}

// PurgeResult reports a committed purge, with tables in the order they were deleted.
type PurgeResult struct {
	Tables []TableDeletion
	Total  int64
}

// Purge deletes every row from tables, in the order given, inside a single
// transaction. Any failure rolls back all deletions made so far and is returned naming
// the failing table. Purging empty tables succeeds with a zero total.
func (db *DB) Purge(ctx context.Context, tables []string) (PurgeResult, error) {

	if err := checkIdentifiers(tables); err != nil {
		return PurgeResult{}, err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("purge: could not begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	var result PurgeResult
	for _, table := range tables {
		query, args, err := db.qb.Delete(table).ToSql()
		if err != nil {
			return PurgeResult{}, fmt.Errorf("purge %s: could not build statement: %w", table, err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			db.logger.Error("purge failed, rolling back", "table", table, "error", err)
			return PurgeResult{}, fmt.Errorf("purge %s: %w", table, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return PurgeResult{}, fmt.Errorf("purge %s: could not read rows affected: %w", table, err)
		}
		db.logger.Debug("table purged", "table", table, "rows", rows)
		result.Tables = append(result.Tables, TableDeletion{Table: table, Rows: rows})
		result.Total += rows
	}

	if err := tx.Commit(); err != nil {
		return PurgeResult{}, fmt.Errorf("purge: commit failed: %w", err)
	}
	db.logger.Info("purge committed", "tables", len(tables), "rows", result.Total)
	return result, nil
}

// RowCounts returns the number of rows in each of tables.
func (db *DB) RowCounts(ctx context.Context, tables []string) (map[string]int64, error) {

	if err := checkIdentifiers(tables); err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		query, args, err := db.qb.Select("COUNT(*)").From(table).ToSql()
		if err != nil {
			return nil, fmt.Errorf("count %s: could not build statement: %w", table, err)
		}
		var n int64
		if err := db.QueryRowxContext(ctx, query, args...).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// PurgeScript renders the purge of tables as a runnable sql script.
func PurgeScript(tables []string) string {
	var b strings.Builder
	b.WriteString("-- Delete all CRM data in foreign key dependency order.\n")
	b.WriteString("BEGIN;\n")
	for _, t := range tables {
		fmt.Fprintf(&b, "DELETE FROM %s;\n", t)
	}
	b.WriteString("COMMIT;\n")
	return b.String()
}
