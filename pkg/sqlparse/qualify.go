package sqlparse

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"
)

// QualifyError reports a failed qualification pass. Callers are expected to
// treat it as recoverable and continue with the unqualified tree.
type QualifyError struct {
	Err error
}

func (e *QualifyError) Error() string { return fmt.Sprintf("qualify: %v", e.Err) }

func (e *QualifyError) Unwrap() error { return e.Err }

// Qualify returns a copy of the query with unqualified column references
// rewritten to table-qualified form wherever the owning relation can be
// determined statically: either the schema names exactly one in-scope
// relation declaring the column, or the scope holds a single relation.
// References that match a SELECT-list alias are left untouched so that
// alias self-resolution still sees them. Best effort only; ambiguous
// references stay unqualified.
func Qualify(q *Query, schema Schema) (*Query, error) {
	cloned, ok := proto.Clone(q.Result).(*pg_query.ParseResult)
	if !ok {
		return q, &QualifyError{Err: fmt.Errorf("clone parse result")}
	}
	out := &Query{Raw: q.Raw, Dialect: q.Dialect, Result: cloned}
	sel := out.Select()
	if sel == nil {
		return out, nil
	}

	qf := &qualifier{schema: schema, cteColumns: make(map[string][]string)}
	for _, cte := range CTEs(out) {
		if body := cte.Ctequery.GetSelectStmt(); body != nil {
			qf.cteColumns[strings.ToLower(cte.Ctename)] = selectOutputNames(body)
		}
	}
	qf.qualifySelect(sel)
	return out, nil
}

type qualifier struct {
	schema     Schema
	cteColumns map[string][]string
}

type scopeRelation struct {
	name    string   // effective reference name, lower-cased
	columns []string // known columns, lower-cased; empty when unknown
}

func (qf *qualifier) qualifySelect(sel *pg_query.SelectStmt) {
	if sel == nil {
		return
	}
	if sel.WithClause != nil {
		for _, cteNode := range sel.WithClause.Ctes {
			if cte := cteNode.GetCommonTableExpr(); cte != nil {
				qf.qualifySelect(cte.Ctequery.GetSelectStmt())
			}
		}
	}
	if sel.Op != pg_query.SetOperation_SETOP_NONE {
		qf.qualifySelect(sel.Larg)
		qf.qualifySelect(sel.Rarg)
		return
	}

	var relations []scopeRelation
	for _, item := range sel.FromClause {
		relations = qf.collectRelations(item, relations)
	}

	aliases := make(map[string]struct{})
	for _, target := range sel.TargetList {
		if rt := target.GetResTarget(); rt != nil && rt.Name != "" {
			aliases[strings.ToLower(rt.Name)] = struct{}{}
		}
	}

	rewrite := func(n *pg_query.Node) {
		ref := n.GetColumnRef()
		if ref == nil || len(ref.Fields) != 1 {
			return
		}
		s := ref.Fields[0].GetString_()
		if s == nil {
			return
		}
		name := strings.ToLower(s.Sval)
		if _, isAlias := aliases[name]; isAlias {
			return
		}
		owner, ok := resolveOwner(relations, name)
		if !ok {
			return
		}
		qual := &pg_query.Node{Node: &pg_query.Node_String_{String_: &pg_query.String{Sval: owner}}}
		ref.Fields = append([]*pg_query.Node{qual}, ref.Fields...)
	}

	for _, lists := range [][]*pg_query.Node{
		sel.TargetList, sel.GroupClause, sel.SortClause, sel.DistinctClause,
	} {
		for _, n := range lists {
			qf.walkShallow(n, rewrite)
		}
	}
	qf.walkShallow(sel.WhereClause, rewrite)
	qf.walkShallow(sel.HavingClause, rewrite)
	for _, item := range sel.FromClause {
		qf.walkJoinQuals(item, rewrite)
	}
}

// collectRelations gathers the relations visible in one FROM item,
// recursing through joins and qualifying derived tables on the way.
func (qf *qualifier) collectRelations(item *pg_query.Node, acc []scopeRelation) []scopeRelation {
	switch {
	case item == nil:
		return acc
	case item.GetRangeVar() != nil:
		rv := item.GetRangeVar()
		rel := scopeRelation{name: strings.ToLower(EffectiveTableName(rv))}
		base := strings.ToLower(rv.Relname)
		if cols, ok := qf.cteColumns[base]; ok {
			rel.columns = cols
		} else if qf.schema != nil {
			for _, col := range qf.schema.Columns(rv.Relname) {
				rel.columns = append(rel.columns, strings.ToLower(col))
			}
		}
		return append(acc, rel)
	case item.GetRangeSubselect() != nil:
		rs := item.GetRangeSubselect()
		sub := rs.Subquery.GetSelectStmt()
		qf.qualifySelect(sub)
		rel := scopeRelation{columns: selectOutputNames(sub)}
		if rs.Alias != nil {
			rel.name = strings.ToLower(rs.Alias.Aliasname)
		}
		if rel.name == "" {
			return acc
		}
		return append(acc, rel)
	case item.GetJoinExpr() != nil:
		je := item.GetJoinExpr()
		acc = qf.collectRelations(je.Larg, acc)
		acc = qf.collectRelations(je.Rarg, acc)
		return acc
	default:
		return acc
	}
}

func (qf *qualifier) walkJoinQuals(item *pg_query.Node, fn func(*pg_query.Node)) {
	je := item.GetJoinExpr()
	if je == nil {
		return
	}
	qf.walkShallow(je.Quals, fn)
	qf.walkJoinQuals(je.Larg, fn)
	qf.walkJoinQuals(je.Rarg, fn)
}

// walkShallow walks an expression without crossing into nested SELECT
// scopes; those are qualified separately with their own scope.
func (qf *qualifier) walkShallow(node *pg_query.Node, fn func(*pg_query.Node)) {
	if node == nil {
		return
	}
	each := func(nodes []*pg_query.Node) {
		for _, n := range nodes {
			qf.walkShallow(n, fn)
		}
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_SubLink:
		qf.walkShallow(n.SubLink.Testexpr, fn)
		qf.qualifySelect(n.SubLink.Subselect.GetSelectStmt())
	case *pg_query.Node_SelectStmt:
		qf.qualifySelect(n.SelectStmt)
	case *pg_query.Node_RangeSubselect:
		qf.qualifySelect(n.RangeSubselect.Subquery.GetSelectStmt())
	case *pg_query.Node_ResTarget:
		qf.walkShallow(n.ResTarget.Val, fn)
	case *pg_query.Node_AExpr:
		qf.walkShallow(n.AExpr.Lexpr, fn)
		qf.walkShallow(n.AExpr.Rexpr, fn)
	case *pg_query.Node_BoolExpr:
		each(n.BoolExpr.Args)
	case *pg_query.Node_FuncCall:
		each(n.FuncCall.Args)
		each(n.FuncCall.AggOrder)
		qf.walkShallow(n.FuncCall.AggFilter, fn)
		if n.FuncCall.Over != nil {
			each(n.FuncCall.Over.PartitionClause)
			each(n.FuncCall.Over.OrderClause)
		}
	case *pg_query.Node_TypeCast:
		qf.walkShallow(n.TypeCast.Arg, fn)
	case *pg_query.Node_CaseExpr:
		qf.walkShallow(n.CaseExpr.Arg, fn)
		each(n.CaseExpr.Args)
		qf.walkShallow(n.CaseExpr.Defresult, fn)
	case *pg_query.Node_CaseWhen:
		qf.walkShallow(n.CaseWhen.Expr, fn)
		qf.walkShallow(n.CaseWhen.Result, fn)
	case *pg_query.Node_CoalesceExpr:
		each(n.CoalesceExpr.Args)
	case *pg_query.Node_MinMaxExpr:
		each(n.MinMaxExpr.Args)
	case *pg_query.Node_NullTest:
		qf.walkShallow(n.NullTest.Arg, fn)
	case *pg_query.Node_BooleanTest:
		qf.walkShallow(n.BooleanTest.Arg, fn)
	case *pg_query.Node_SortBy:
		qf.walkShallow(n.SortBy.Node, fn)
	case *pg_query.Node_List:
		each(n.List.Items)
	case *pg_query.Node_AIndirection:
		qf.walkShallow(n.AIndirection.Arg, fn)
	case *pg_query.Node_RowExpr:
		each(n.RowExpr.Args)
	case *pg_query.Node_AArrayExpr:
		each(n.AArrayExpr.Elements)
	case *pg_query.Node_GroupingSet:
		each(n.GroupingSet.Content)
	case *pg_query.Node_NamedArgExpr:
		qf.walkShallow(n.NamedArgExpr.Arg, fn)
	case *pg_query.Node_CollateClause:
		qf.walkShallow(n.CollateClause.Arg, fn)
	default:
		fn(node)
	}
}

func resolveOwner(relations []scopeRelation, column string) (string, bool) {
	var owner string
	matches := 0
	for _, rel := range relations {
		for _, col := range rel.columns {
			if col == column {
				owner = rel.name
				matches++
				break
			}
		}
	}
	if matches == 1 {
		return owner, true
	}
	if matches == 0 && len(relations) == 1 && relations[0].name != "" {
		return relations[0].name, true
	}
	return "", false
}

// selectOutputNames lists the lower-cased output column names of a SELECT,
// walking into the left branch of set operations.
func selectOutputNames(sel *pg_query.SelectStmt) []string {
	if sel == nil {
		return nil
	}
	for sel.Op != pg_query.SetOperation_SETOP_NONE && sel.Larg != nil {
		sel = sel.Larg
	}
	var names []string
	for _, target := range sel.TargetList {
		rt := target.GetResTarget()
		if rt == nil {
			continue
		}
		if rt.Name != "" {
			names = append(names, strings.ToLower(rt.Name))
			continue
		}
		if _, col, star := ColumnRefParts(rt.Val.GetColumnRef()); col != "" && !star {
			names = append(names, strings.ToLower(col))
		}
	}
	return names
}
