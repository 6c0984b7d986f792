// Package lineage builds column-level dependency graphs for SQL queries and
// answers forward (trace-to-source) and reverse (impact) lineage questions
// over them.
package lineage

import "fmt"

// SourceColumnNotFoundError is the negative result of an impact analysis:
// the requested source column feeds nothing in the query. It carries a
// bounded list of known source references as a hint.
type SourceColumnNotFoundError struct {
	SourceColumn     string
	AvailableSources []string
}

func (e *SourceColumnNotFoundError) Error() string {
	return fmt.Sprintf("source column %q not found in query", e.SourceColumn)
}

// ColumnNotFoundError is the negative result of a lineage trace: the column
// exists neither in the final output nor in any CTE.
type ColumnNotFoundError struct {
	Column          string
	AvailableOutput []string
	AvailableCTEs   []string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column %q not found in output or any CTE", e.Column)
}

// InvalidModeCombinationError rejects option combinations that cannot
// produce a meaningful result, before any analysis work is done.
type InvalidModeCombinationError struct {
	Reason string
}

func (e *InvalidModeCombinationError) Error() string {
	return fmt.Sprintf("invalid mode combination: %s", e.Reason)
}
