package models

import (
	"fmt"
	"strings"
)

// RosterSchema selects the CSV column layout a deployment accepts
type RosterSchema string

const (
	// SchemaBasic is the minimal id/name roster
	SchemaBasic RosterSchema = "basic"
	// SchemaExtended is the institutional roster keyed by student number
	SchemaExtended RosterSchema = "extended"
)

// Check-in columns that may be appended to either schema
const (
	ColumnCheckIn     = "check_in"
	ColumnCheckedInAt = "checked_in_at"
)

var (
	basicColumns    = []string{"id", "name"}
	extendedColumns = []string{"nim", "name", "address", "phone_number", "email", "major", "study_program", "generation", "status"}
)

// CheckInColumns returns the optional trailing check-in columns
func CheckInColumns() []string {
	return []string{ColumnCheckIn, ColumnCheckedInAt}
}

// ParseRosterSchema parses a configured schema name
func ParseRosterSchema(s string) (RosterSchema, error) {
	switch RosterSchema(strings.ToLower(strings.TrimSpace(s))) {
	case SchemaBasic:
		return SchemaBasic, nil
	case SchemaExtended:
		return SchemaExtended, nil
	default:
		return "", fmt.Errorf("unknown roster schema %q (want basic or extended)", s)
	}
}

// Columns returns the required columns in header order
func (s RosterSchema) Columns() []string {
	if s == SchemaExtended {
		return append([]string(nil), extendedColumns...)
	}
	return append([]string(nil), basicColumns...)
}

// ExportColumns returns the full export header, check-in columns included
func (s RosterSchema) ExportColumns() []string {
	return append(s.Columns(), CheckInColumns()...)
}

// KeyColumn returns the column holding the participant id
func (s RosterSchema) KeyColumn() string {
	return s.Columns()[0]
}

// AttributeColumns returns the descriptive columns stored as attributes
func (s RosterSchema) AttributeColumns() []string {
	return s.Columns()[2:]
}

// DefaultPolicy returns the reconciliation policy historically paired with the schema
func (s RosterSchema) DefaultPolicy() ImportPolicy {
	if s == SchemaExtended {
		return PolicyInsertOnly
	}
	return PolicyUpsert
}

// ImportPolicy decides how an import batch is merged into the store
type ImportPolicy string

const (
	// PolicyUpsert replaces or inserts every row keyed on id
	PolicyUpsert ImportPolicy = "upsert"
	// PolicyInsertOnly inserts new ids and skips existing ones
	PolicyInsertOnly ImportPolicy = "insert_only"
)

// ParseImportPolicy parses a configured policy name
func ParseImportPolicy(s string) (ImportPolicy, error) {
	switch ImportPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyUpsert:
		return PolicyUpsert, nil
	case PolicyInsertOnly, "insert-only":
		return PolicyInsertOnly, nil
	default:
		return "", fmt.Errorf("unknown import policy %q (want upsert or insert_only)", s)
	}
}
