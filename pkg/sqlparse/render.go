package sqlparse

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Render serializes the whole parse tree back to SQL.
func Render(q *Query) (string, error) {
	sql, err := pg_query.Deparse(q.Result)
	if err != nil {
		return "", fmt.Errorf("deparse: %w", err)
	}
	return sql, nil
}

// RenderExpr serializes a single expression back to SQL text. The deparser
// only accepts whole statements, so the expression is wrapped in a
// one-column SELECT and the prefix stripped afterwards. version must be the
// AST version of the parse result the expression came from.
func RenderExpr(expr *pg_query.Node, version int32) (string, error) {
	if expr == nil {
		return "", nil
	}
	wrapper := &pg_query.ParseResult{
		Version: version,
		Stmts: []*pg_query.RawStmt{{
			Stmt: &pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: &pg_query.SelectStmt{
				TargetList: []*pg_query.Node{{Node: &pg_query.Node_ResTarget{ResTarget: &pg_query.ResTarget{
					Val: expr,
				}}}},
				Op:          pg_query.SetOperation_SETOP_NONE,
				LimitOption: pg_query.LimitOption_LIMIT_OPTION_DEFAULT,
			}}},
		}},
	}
	sql, err := pg_query.Deparse(wrapper)
	if err != nil {
		return "", fmt.Errorf("deparse expression: %w", err)
	}
	return strings.TrimPrefix(sql, "SELECT "), nil
}

// RenderTarget serializes a SELECT-list entry, including its AS alias.
func RenderTarget(rt *pg_query.ResTarget, version int32) (string, error) {
	if rt == nil {
		return "", nil
	}
	expr, err := RenderExpr(rt.Val, version)
	if err != nil {
		return "", err
	}
	if rt.Name != "" {
		return fmt.Sprintf("%s AS %s", expr, rt.Name), nil
	}
	return expr, nil
}
