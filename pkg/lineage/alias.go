package lineage

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/leapstack-labs/sqllineage/pkg/sqlparse"
)

// AliasMap maps lower-cased output column names of one SELECT list to the
// expression that defines them, with any AS wrapper already removed. Used
// only during extraction to resolve self-referencing aliases.
type AliasMap map[string]*pg_query.Node

// BuildAliasMap builds the alias map for one SELECT list. Entries without
// an explicit alias are keyed by their inferred column name.
func BuildAliasMap(targets []*pg_query.Node) AliasMap {
	m := make(AliasMap, len(targets))
	for i, target := range targets {
		rt := target.GetResTarget()
		if rt == nil {
			continue
		}
		m[strings.ToLower(columnName(rt, i))] = rt.Val
	}
	return m
}

// columnName names a SELECT-list entry: the explicit alias when present,
// otherwise a name inferred from the expression shape.
func columnName(rt *pg_query.ResTarget, position int) string {
	if rt.Name != "" {
		return rt.Name
	}
	return inferName(rt.Val, position)
}

func inferName(expr *pg_query.Node, position int) string {
	switch n := expr.GetNode().(type) {
	case *pg_query.Node_ColumnRef:
		if _, col, star := sqlparse.ColumnRefParts(n.ColumnRef); col != "" && !star {
			return col
		} else if star {
			return "*"
		}
	case *pg_query.Node_FuncCall:
		if name := sqlparse.FuncName(n.FuncCall); name != "" {
			return name
		}
	case *pg_query.Node_TypeCast:
		return inferName(n.TypeCast.Arg, position)
	case *pg_query.Node_CollateClause:
		return inferName(n.CollateClause.Arg, position)
	case *pg_query.Node_SubLink:
		return "subquery"
	case *pg_query.Node_CoalesceExpr:
		return "coalesce"
	case *pg_query.Node_CaseExpr:
		return "case"
	}
	return fmt.Sprintf("column_%d", position+1)
}
