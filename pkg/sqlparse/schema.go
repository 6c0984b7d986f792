package sqlparse

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Schema maps table names to their columns and declared types, e.g.
// {"orders": {"id": "INT", "amount": "NUMERIC"}}. Used for qualification
// and data-type lookup; all matching is case-insensitive.
type Schema map[string]map[string]string

// ParseSchema decodes a JSON schema document.
func ParseSchema(data []byte) (Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid schema JSON: %w", err)
	}
	return s, nil
}

// Columns returns the sorted column names of a table, or nil when the table
// is not in the schema.
func (s Schema) Columns(table string) []string {
	cols := s.table(table)
	if cols == nil {
		return nil
	}
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Type returns the declared type of table.column. An empty table matches
// any table that declares the column.
func (s Schema) Type(table, column string) (string, bool) {
	if table != "" {
		cols := s.table(table)
		if cols == nil {
			return "", false
		}
		return lookupColumn(cols, column)
	}
	for _, cols := range s {
		if typ, ok := lookupColumn(cols, column); ok {
			return typ, true
		}
	}
	return "", false
}

// HasColumn reports whether table declares column.
func (s Schema) HasColumn(table, column string) bool {
	_, ok := s.Type(table, column)
	return ok && table != ""
}

func (s Schema) table(name string) map[string]string {
	if cols, ok := s[name]; ok {
		return cols
	}
	for tbl, cols := range s {
		if strings.EqualFold(tbl, name) {
			return cols
		}
	}
	return nil
}

func lookupColumn(cols map[string]string, column string) (string, bool) {
	if typ, ok := cols[column]; ok {
		return typ, true
	}
	for name, typ := range cols {
		if strings.EqualFold(name, column) {
			return typ, true
		}
	}
	return "", false
}
