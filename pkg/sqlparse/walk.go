package sqlparse

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Walk visits node and every descendant in document order, calling fn for
// each. Node kinds outside the closed set below are treated as leaves.
func Walk(node *pg_query.Node, fn func(*pg_query.Node)) {
	if node == nil {
		return
	}
	fn(node)

	walkAll := func(nodes []*pg_query.Node) {
		for _, n := range nodes {
			Walk(n, fn)
		}
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		walkSelectChildren(n.SelectStmt, fn)
	case *pg_query.Node_ResTarget:
		Walk(n.ResTarget.Val, fn)
	case *pg_query.Node_AExpr:
		Walk(n.AExpr.Lexpr, fn)
		Walk(n.AExpr.Rexpr, fn)
	case *pg_query.Node_BoolExpr:
		walkAll(n.BoolExpr.Args)
	case *pg_query.Node_FuncCall:
		walkAll(n.FuncCall.Args)
		walkAll(n.FuncCall.AggOrder)
		Walk(n.FuncCall.AggFilter, fn)
		if n.FuncCall.Over != nil {
			walkAll(n.FuncCall.Over.PartitionClause)
			walkAll(n.FuncCall.Over.OrderClause)
		}
	case *pg_query.Node_TypeCast:
		Walk(n.TypeCast.Arg, fn)
	case *pg_query.Node_CaseExpr:
		Walk(n.CaseExpr.Arg, fn)
		walkAll(n.CaseExpr.Args)
		Walk(n.CaseExpr.Defresult, fn)
	case *pg_query.Node_CaseWhen:
		Walk(n.CaseWhen.Expr, fn)
		Walk(n.CaseWhen.Result, fn)
	case *pg_query.Node_CoalesceExpr:
		walkAll(n.CoalesceExpr.Args)
	case *pg_query.Node_MinMaxExpr:
		walkAll(n.MinMaxExpr.Args)
	case *pg_query.Node_NullTest:
		Walk(n.NullTest.Arg, fn)
	case *pg_query.Node_BooleanTest:
		Walk(n.BooleanTest.Arg, fn)
	case *pg_query.Node_SubLink:
		Walk(n.SubLink.Testexpr, fn)
		Walk(n.SubLink.Subselect, fn)
	case *pg_query.Node_RangeSubselect:
		Walk(n.RangeSubselect.Subquery, fn)
	case *pg_query.Node_JoinExpr:
		Walk(n.JoinExpr.Larg, fn)
		Walk(n.JoinExpr.Rarg, fn)
		Walk(n.JoinExpr.Quals, fn)
	case *pg_query.Node_SortBy:
		Walk(n.SortBy.Node, fn)
	case *pg_query.Node_WithClause:
		walkAll(n.WithClause.Ctes)
	case *pg_query.Node_CommonTableExpr:
		Walk(n.CommonTableExpr.Ctequery, fn)
	case *pg_query.Node_List:
		walkAll(n.List.Items)
	case *pg_query.Node_AIndirection:
		Walk(n.AIndirection.Arg, fn)
	case *pg_query.Node_RowExpr:
		walkAll(n.RowExpr.Args)
	case *pg_query.Node_AArrayExpr:
		walkAll(n.AArrayExpr.Elements)
	case *pg_query.Node_GroupingSet:
		walkAll(n.GroupingSet.Content)
	case *pg_query.Node_NamedArgExpr:
		Walk(n.NamedArgExpr.Arg, fn)
	case *pg_query.Node_CollateClause:
		Walk(n.CollateClause.Arg, fn)
	case *pg_query.Node_CreateTableAsStmt:
		// The CTAS target relation is not walked; only sources are of
		// interest to lineage.
		Walk(n.CreateTableAsStmt.Query, fn)
	case *pg_query.Node_InsertStmt:
		Walk(n.InsertStmt.SelectStmt, fn)
	case *pg_query.Node_RangeVar, *pg_query.Node_ColumnRef, *pg_query.Node_AConst,
		*pg_query.Node_ParamRef, *pg_query.Node_String_, *pg_query.Node_AStar,
		*pg_query.Node_SqlvalueFunction:
		// leaves
	}
}

func walkSelectChildren(sel *pg_query.SelectStmt, fn func(*pg_query.Node)) {
	if sel == nil {
		return
	}
	if sel.WithClause != nil {
		for _, cte := range sel.WithClause.Ctes {
			Walk(cte, fn)
		}
	}
	if sel.Larg != nil {
		walkSelectChildren(sel.Larg, fn)
	}
	if sel.Rarg != nil {
		walkSelectChildren(sel.Rarg, fn)
	}
	for _, lists := range [][]*pg_query.Node{
		sel.DistinctClause, sel.TargetList, sel.FromClause,
		sel.GroupClause, sel.SortClause,
	} {
		for _, n := range lists {
			Walk(n, fn)
		}
	}
	Walk(sel.WhereClause, fn)
	Walk(sel.HavingClause, fn)
	Walk(sel.LimitCount, fn)
	Walk(sel.LimitOffset, fn)
}

// WalkSelect is Walk for a SELECT statement that is not wrapped in a Node.
func WalkSelect(sel *pg_query.SelectStmt, fn func(*pg_query.Node)) {
	walkSelectChildren(sel, fn)
}

// ColumnRefs collects every column reference in the subtree, in document
// order, descending into subqueries.
func ColumnRefs(node *pg_query.Node) []*pg_query.ColumnRef {
	var refs []*pg_query.ColumnRef
	Walk(node, func(n *pg_query.Node) {
		if cr := n.GetColumnRef(); cr != nil {
			refs = append(refs, cr)
		}
	})
	return refs
}

// ColumnRefParts splits a column reference into its qualifier and column
// name. star is true for t.* and bare * references.
func ColumnRefParts(ref *pg_query.ColumnRef) (table, column string, star bool) {
	if ref == nil || len(ref.Fields) == 0 {
		return "", "", false
	}
	last := ref.Fields[len(ref.Fields)-1]
	if last.GetAStar() != nil {
		star = true
		column = "*"
	} else if s := last.GetString_(); s != nil {
		column = s.Sval
	}
	if len(ref.Fields) > 1 {
		if s := ref.Fields[len(ref.Fields)-2].GetString_(); s != nil {
			table = s.Sval
		}
	}
	return table, column, star
}

// Tables collects every physical table reference in the subtree.
func Tables(node *pg_query.Node) []*pg_query.RangeVar {
	var tables []*pg_query.RangeVar
	Walk(node, func(n *pg_query.Node) {
		if rv := n.GetRangeVar(); rv != nil {
			tables = append(tables, rv)
		}
	})
	return tables
}

// TablesInSelect collects physical table references in a SELECT statement.
func TablesInSelect(sel *pg_query.SelectStmt) []*pg_query.RangeVar {
	var tables []*pg_query.RangeVar
	WalkSelect(sel, func(n *pg_query.Node) {
		if rv := n.GetRangeVar(); rv != nil {
			tables = append(tables, rv)
		}
	})
	return tables
}

// CTEs returns every common table expression in the statement, outermost
// first, in document order.
func CTEs(q *Query) []*pg_query.CommonTableExpr {
	var ctes []*pg_query.CommonTableExpr
	Walk(q.Statement(), func(n *pg_query.Node) {
		if cte := n.GetCommonTableExpr(); cte != nil {
			ctes = append(ctes, cte)
		}
	})
	return ctes
}

// EffectiveTableName returns the name a relation is referenced by in its
// scope: the alias when present, the relation name otherwise.
func EffectiveTableName(rv *pg_query.RangeVar) string {
	if rv == nil {
		return ""
	}
	if rv.Alias != nil && rv.Alias.Aliasname != "" {
		return rv.Alias.Aliasname
	}
	return rv.Relname
}

// FuncName returns the unqualified, lower-cased name of a function call.
// Schema prefixes such as pg_catalog are dropped.
func FuncName(fc *pg_query.FuncCall) string {
	if fc == nil || len(fc.Funcname) == 0 {
		return ""
	}
	last := fc.Funcname[len(fc.Funcname)-1]
	if s := last.GetString_(); s != nil {
		return strings.ToLower(s.Sval)
	}
	return ""
}
