package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ErrDeleteOrder reports a delete order in which a table is deleted before a table
// that references it.
var ErrDeleteOrder = errors.New("delete order violates foreign key dependencies")

// deleteOrder lists the CRM application tables so that every table precedes each of
// the tables it references. Integration and notification tables come first, the core
// contact table last.
var deleteOrder = []string{
	"integrations_crmcredential",
	"integrations_syncconflict",
	"integrations_syncrecord",
	"integrations_externalidentifier",
	"notifications_notification",
	"crm_email",
	"crm_meetingattendee",
	"crm_meetingnote",
	"crm_meeting",
	"crm_task",
	"crm_accountadvisor",
	"crm_accountcontact",
	"crm_contactlink",
	"crm_account",
	"crm_contact",
}

// DeleteOrder returns a copy of the fixed table delete order.
func DeleteOrder() []string {
	return slices.Clone(deleteOrder)
}

// ForeignKey is a reference from Table to References.
type ForeignKey struct {
	Table      string `db:"table_name"`
	References string `db:"referenced_table"`
}

// String describes the foreign key.
func (fk ForeignKey) String() string {
	return fk.Table + " -> " + fk.References
}

// validIdentifier restricts table names to plain sql identifiers, since they are
// interpolated into statements.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdentifiers(tables []string) error {
	seen := map[string]bool{}
	for _, t := range tables {
		if !validIdentifier.MatchString(t) {
			return fmt.Errorf("invalid table name %q", t)
		}
		if seen[t] {
			return fmt.Errorf("table %q listed more than once", t)
		}
		seen[t] = true
	}
	return nil
}

// CheckDeleteOrder verifies that every referencing table in order precedes the tables
// it references, and that no table outside order references a table in it. Self
// references are ignored. All violations are reported together, wrapping
// ErrDeleteOrder.
func CheckDeleteOrder(order []string, fks []ForeignKey) error {

	position := make(map[string]int, len(order))
	for i, t := range order {
		position[t] = i
	}

	var problems []string
	seen := map[ForeignKey]bool{}
	for _, fk := range fks {
		if fk.Table == fk.References || seen[fk] {
			continue
		}
		seen[fk] = true
		parent, parentListed := position[fk.References]
		if !parentListed {
			continue
		}
		child, childListed := position[fk.Table]
		switch {
		case !childListed:
			problems = append(problems, fmt.Sprintf("%s references %s but is not deleted", fk.Table, fk.References))
		case child > parent:
			problems = append(problems, fmt.Sprintf("%s must be deleted before %s", fk.Table, fk.References))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w:\n- %s", ErrDeleteOrder, strings.Join(problems, "\n- "))
}

// SortForDelete orders tables so that every table precedes the tables it references.
// Tables keep their relative input order where the foreign keys allow it. A reference
// cycle other than a self reference is an error.
func SortForDelete(tables []string, fks []ForeignKey) ([]string, error) {

	listed := map[string]bool{}
	for _, t := range tables {
		listed[t] = true
	}

	// referencedBy maps a table to the listed tables referencing it; these must be
	// deleted first.
	referencedBy := map[string][]string{}
	for _, fk := range fks {
		if fk.Table == fk.References || !listed[fk.Table] || !listed[fk.References] {
			continue
		}
		if !slices.Contains(referencedBy[fk.References], fk.Table) {
			referencedBy[fk.References] = append(referencedBy[fk.References], fk.Table)
		}
	}

	visited := make(map[string]bool)
	temp := make(map[string]bool)
	var order []string

	var visit func(string) error
	visit = func(table string) error {
		if temp[table] {
			return fmt.Errorf("circular dependency detected involving table: %s", table)
		}
		if visited[table] {
			return nil
		}
		temp[table] = true
		for _, child := range referencedBy[table] {
			if err := visit(child); err != nil {
				return err
			}
		}
		temp[table] = false
		visited[table] = true
		order = append(order, table)
		return nil
	}

	for _, t := range tables {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// ForeignKeys reads the foreign keys of the connected database which involve any of
// tables.
func (db *DB) ForeignKeys(ctx context.Context, tables []string) ([]ForeignKey, error) {

	var query string
	switch db.driver {
	case DriverSQLite:
		query = `SELECT DISTINCT m.name AS table_name, p."table" AS referenced_table
			FROM sqlite_master m
			JOIN pragma_foreign_key_list(m.name) p
			WHERE m.type = 'table'
			ORDER BY 1, 2`
	case DriverPostgres:
		query = `SELECT DISTINCT tc.table_name AS table_name, ccu.table_name AS referenced_table
			FROM information_schema.table_constraints tc
			JOIN information_schema.constraint_column_usage ccu
			  ON tc.constraint_name = ccu.constraint_name
			 AND tc.table_schema = ccu.table_schema
			WHERE tc.constraint_type = 'FOREIGN KEY'
			  AND tc.table_schema = current_schema()
			ORDER BY 1, 2`
	case DriverMySQL:
		query = `SELECT DISTINCT TABLE_NAME AS table_name, REFERENCED_TABLE_NAME AS referenced_table
			FROM information_schema.KEY_COLUMN_USAGE
			WHERE REFERENCED_TABLE_NAME IS NOT NULL
			  AND TABLE_SCHEMA = DATABASE()
			ORDER BY 1, 2`
	default:
		return nil, fmt.Errorf("foreign keys: unsupported driver %q", db.driver)
	}

	var all []ForeignKey
	if err := db.SelectContext(ctx, &all, query); err != nil {
		return nil, fmt.Errorf("could not read foreign keys: %w", err)
	}

	wanted := map[string]bool{}
	for _, t := range tables {
		wanted[t] = true
	}
	var fks []ForeignKey
	for _, fk := range all {
		if wanted[fk.Table] || wanted[fk.References] {
			fks = append(fks, fk)
		}
	}
	db.logger.Debug("foreign keys read", "driver", db.driver, "total", len(all), "relevant", len(fks))
	return fks, nil
}
