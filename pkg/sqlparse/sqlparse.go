// Package sqlparse wraps the pg_query parser with the small parse, render,
// qualify, and traversal surface the lineage engine needs. The grammar is
// Postgres-based, so only Postgres-family dialect names are accepted.
package sqlparse

import (
	"errors"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Dialect identifiers accepted by Parse. Redshift is Postgres-derived and
// close enough to the Postgres grammar for static lineage analysis.
const (
	DialectDefault  = "redshift"
	DialectPostgres = "postgres"
	DialectRedshift = "redshift"
)

// ErrUnsupportedDialect is returned for dialects outside the Postgres family.
var ErrUnsupportedDialect = errors.New("unsupported dialect")

// ParseError reports SQL that could not be parsed under the given dialect.
type ParseError struct {
	Dialect string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error (dialect %s): %v", e.Dialect, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Query is a parsed SQL statement together with the raw text it came from.
type Query struct {
	Raw     string
	Dialect string
	Result  *pg_query.ParseResult
}

// NormalizeDialect validates a dialect name and maps it to its canonical
// form. An empty name selects the default dialect.
func NormalizeDialect(dialect string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case "":
		return DialectDefault, nil
	case "redshift":
		return DialectRedshift, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("%w: %q (supported: postgres, redshift)", ErrUnsupportedDialect, dialect)
	}
}

// Parse parses a single SQL statement. Malformed input yields a *ParseError.
func Parse(sql, dialect string) (*Query, error) {
	d, err := NormalizeDialect(dialect)
	if err != nil {
		return nil, err
	}

	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, &ParseError{Dialect: d, Err: err}
	}
	if len(result.Stmts) == 0 {
		return nil, &ParseError{Dialect: d, Err: errors.New("no statements found")}
	}

	return &Query{Raw: sql, Dialect: d, Result: result}, nil
}

// Statement returns the first statement node of the parse tree.
func (q *Query) Statement() *pg_query.Node {
	if q == nil || q.Result == nil || len(q.Result.Stmts) == 0 {
		return nil
	}
	return q.Result.Stmts[0].Stmt
}

// Select returns the principal SELECT of the statement: the statement
// itself, or the source SELECT of a CREATE TABLE AS / INSERT ... SELECT.
// Returns nil when the statement carries no SELECT.
func (q *Query) Select() *pg_query.SelectStmt {
	stmt := q.Statement()
	if stmt == nil {
		return nil
	}
	if sel := stmt.GetSelectStmt(); sel != nil {
		return sel
	}
	if ctas := stmt.GetCreateTableAsStmt(); ctas != nil && ctas.Query != nil {
		return ctas.Query.GetSelectStmt()
	}
	if ins := stmt.GetInsertStmt(); ins != nil {
		return insertSourceSelect(ins)
	}
	return nil
}

// insertSourceSelect returns the source SELECT of an INSERT ... SELECT.
// pg_query also parses INSERT ... VALUES into an inner SelectStmt whose rows
// live in ValuesLists; that pseudo-SELECT has no select list and is not a
// source query.
func insertSourceSelect(ins *pg_query.InsertStmt) *pg_query.SelectStmt {
	if ins.SelectStmt == nil {
		return nil
	}
	sel := ins.SelectStmt.GetSelectStmt()
	if sel == nil || len(sel.ValuesLists) > 0 {
		return nil
	}
	return sel
}

// Kind classifies the statement for reporting purposes.
func (q *Query) Kind() string {
	stmt := q.Statement()
	switch {
	case stmt == nil:
		return "UNKNOWN"
	case stmt.GetSelectStmt() != nil:
		if stmt.GetSelectStmt().Op != pg_query.SetOperation_SETOP_NONE {
			return "UNION"
		}
		return "SELECT"
	case stmt.GetCreateTableAsStmt() != nil:
		return "CREATE_TABLE_AS_SELECT"
	case stmt.GetInsertStmt() != nil:
		if insertSourceSelect(stmt.GetInsertStmt()) != nil {
			return "INSERT_SELECT"
		}
		return "INSERT"
	default:
		return "UNSUPPORTED"
	}
}

// TargetTable returns the table a CTAS or INSERT statement writes to.
func (q *Query) TargetTable() string {
	stmt := q.Statement()
	if stmt == nil {
		return ""
	}
	if ctas := stmt.GetCreateTableAsStmt(); ctas != nil && ctas.Into != nil && ctas.Into.Rel != nil {
		return ctas.Into.Rel.Relname
	}
	if ins := stmt.GetInsertStmt(); ins != nil && ins.Relation != nil {
		return ins.Relation.Relname
	}
	return ""
}

// Version returns the protobuf AST version of the parse result, needed when
// synthesizing trees for deparse.
func (q *Query) Version() int32 {
	if q == nil || q.Result == nil {
		return 0
	}
	return q.Result.Version
}
