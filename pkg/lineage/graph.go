package lineage

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/leapstack-labs/sqllineage/pkg/sqlparse"
)

// Location classifies where a graph node's column is produced.
type Location string

// Locations of produced columns.
const (
	LocationCTE      Location = "cte"
	LocationOutput   Location = "output"
	LocationSubquery Location = "subquery"
)

// Node is one produced column in the dependency graph.
type Node struct {
	Sources        []string `json:"sources"`
	Location       Location `json:"location"`
	CTEName        string   `json:"cte_name,omitempty"`
	OutputPosition int      `json:"output_position,omitempty"`
	ColumnName     string   `json:"column_name"`
	Expression     string   `json:"expression"`
}

// Graph holds one node per produced column across every CTE, UNION branch,
// inline subquery, and the final output. Keys are "<relation>.<column>",
// lower-cased. Derived lists the relation names that are CTEs or
// subqueries, which impact analysis re-expands during traversal.
type Graph struct {
	Nodes   map[string]*Node
	Derived map[string]struct{}
}

// IsDerivedRelation reports whether a relation name refers to a CTE or
// subquery, including the _left/_right branch names of a derived relation's
// set operations.
func (g *Graph) IsDerivedRelation(relation string) bool {
	for {
		if _, ok := g.Derived[relation]; ok {
			return true
		}
		trimmed := strings.TrimSuffix(strings.TrimSuffix(relation, "_left"), "_right")
		if trimmed == relation {
			return false
		}
		relation = trimmed
	}
}

// builder threads graph construction state, including the subquery naming
// counter, so that multiple builds can run concurrently.
type builder struct {
	graph      *Graph
	maxExprLen int
	version    int32
	subqSeq    int
}

// BuildDependencyGraph builds the column dependency graph for a parsed
// query. CTEs are processed in document order, then the final output; UNION
// branches become separately named relations suffixed _left/_right; inline
// subqueries in FROM clauses become relations named by their alias or a
// generated subqN name. maxExprLength > 0 truncates stored expressions.
func BuildDependencyGraph(q *sqlparse.Query, maxExprLength int) *Graph {
	b := &builder{
		graph: &Graph{
			Nodes:   make(map[string]*Node),
			Derived: make(map[string]struct{}),
		},
		maxExprLen: maxExprLength,
		version:    q.Version(),
	}

	ctes := sqlparse.CTEs(q)
	for _, cte := range ctes {
		b.graph.Derived[strings.ToLower(cte.Ctename)] = struct{}{}
	}
	for _, cte := range ctes {
		if body := cte.Ctequery.GetSelectStmt(); body != nil {
			b.processRelation(body, LocationCTE, strings.ToLower(cte.Ctename))
		}
	}
	if sel := q.Select(); sel != nil {
		b.processRelation(sel, LocationOutput, "output")
	}
	return b.graph
}

func (b *builder) processRelation(sel *pg_query.SelectStmt, location Location, name string) {
	if sel == nil {
		return
	}
	// Set operations contribute dependencies from both branches, addressed
	// as distinct relations.
	if sel.Op != pg_query.SetOperation_SETOP_NONE {
		b.processRelation(sel.Larg, location, name+"_left")
		b.processRelation(sel.Rarg, location, name+"_right")
		return
	}

	tableAliases := b.collectTableAliases(sel)
	aliasMap := BuildAliasMap(sel.TargetList)
	ex := &extractor{aliases: aliasMap, tableAliases: tableAliases}

	for i, target := range sel.TargetList {
		rt := target.GetResTarget()
		if rt == nil {
			continue
		}
		colName := strings.ToLower(columnName(rt, i))
		node := &Node{
			Sources:    ex.Sources(rt.Val),
			Location:   location,
			ColumnName: colName,
			Expression: truncateExpr(b.renderTarget(rt), b.maxExprLen),
		}
		switch location {
		case LocationCTE, LocationSubquery:
			node.CTEName = name
		case LocationOutput:
			node.OutputPosition = i + 1
		}
		b.graph.Nodes[name+"."+colName] = node
	}
}

// collectTableAliases maps every relation reference in scope to its base
// name. Inline subqueries in the FROM clause are registered as derived
// relations of their own and processed before the enclosing relation's
// columns, so forward references through the alias map resolve.
func (b *builder) collectTableAliases(sel *pg_query.SelectStmt) map[string]string {
	mapping := make(map[string]string)

	sqlparse.WalkSelect(sel, func(n *pg_query.Node) {
		if rv := n.GetRangeVar(); rv != nil {
			alias := strings.ToLower(sqlparse.EffectiveTableName(rv))
			if alias != "" {
				mapping[alias] = strings.ToLower(rv.Relname)
			}
		}
	})
	for _, item := range sel.FromClause {
		b.discoverSubqueries(item, mapping)
	}
	return mapping
}

// discoverSubqueries registers the inline subqueries of one FROM item.
// Nested subqueries inside a discovered one are left to that relation's own
// processing pass.
func (b *builder) discoverSubqueries(item *pg_query.Node, mapping map[string]string) {
	switch {
	case item == nil:
		return
	case item.GetRangeSubselect() != nil:
		rs := item.GetRangeSubselect()
		sub := rs.Subquery.GetSelectStmt()
		if sub == nil {
			return
		}
		subName := ""
		if rs.Alias != nil {
			subName = strings.ToLower(rs.Alias.Aliasname)
		}
		if subName == "" {
			subName = b.nextSubqueryName()
		}
		b.graph.Derived[subName] = struct{}{}
		b.processRelation(sub, LocationSubquery, subName)
		mapping[subName] = subName
	case item.GetJoinExpr() != nil:
		je := item.GetJoinExpr()
		b.discoverSubqueries(je.Larg, mapping)
		b.discoverSubqueries(je.Rarg, mapping)
	}
}

func (b *builder) nextSubqueryName() string {
	b.subqSeq++
	return fmt.Sprintf("subq%d", b.subqSeq)
}

func (b *builder) renderTarget(rt *pg_query.ResTarget) string {
	expr, err := sqlparse.RenderTarget(rt, b.version)
	if err != nil {
		return ""
	}
	return expr
}

// truncateExpr caps an expression string at max runes, appending an
// ellipsis marker when it was cut. max <= 0 disables truncation.
func truncateExpr(expr string, max int) string {
	if max <= 0 {
		return expr
	}
	runes := []rune(expr)
	if len(runes) <= max {
		return expr
	}
	return string(runes[:max]) + "..."
}
