package lineage

import (
	"math"
	"sort"
	"strings"

	"github.com/leapstack-labs/sqllineage/pkg/sqlparse"
)

// TraceOptions configure a forward lineage trace.
type TraceOptions struct {
	Dialect       string
	Schema        sqlparse.Schema
	MaxExprLength int
	// Depth bounds the number of hops through CTEs; zero or negative
	// means unlimited.
	Depth int
}

// TraceNode is one vertex in a flattened lineage tree. Type is "table" for
// terminal base-table references, "subquery" for inline subquery columns,
// and "derived" for CTE and output columns.
type TraceNode struct {
	Depth      int    `json:"depth"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Expression string `json:"expression,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
}

// TraceEdge points from the less-derived node to the more-derived one.
type TraceEdge struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// CTEMatch reports a CTE (or a UNION branch of one) that produces the
// traced column.
type CTEMatch struct {
	CTEName    string   `json:"cte_name"`
	Branch     string   `json:"branch,omitempty"`
	Sources    []string `json:"sources"`
	Expression string   `json:"expression,omitempty"`
}

// LineageHop is one step of the multi-hop walk from a CTE column toward
// base tables.
type LineageHop struct {
	Relation string   `json:"relation"`
	Column   string   `json:"column"`
	Sources  []string `json:"sources"`
}

// TraceResult is the outcome of a successful lineage trace. Nodes, Edges,
// and SourceTables are set when the column is in the final output; FoundIn
// and FullLineage when it only exists inside CTEs.
type TraceResult struct {
	Column        string       `json:"column"`
	InFinalOutput bool         `json:"in_final_output"`
	Nodes         []TraceNode  `json:"nodes,omitempty"`
	Edges         []TraceEdge  `json:"edges,omitempty"`
	SourceTables  []string     `json:"source_tables,omitempty"`
	UnionBranches []CTEMatch   `json:"union_branches,omitempty"`
	FoundIn       []CTEMatch   `json:"found_in,omitempty"`
	AvailableCTEs []string     `json:"available_ctes,omitempty"`
	FullLineage   []LineageHop `json:"full_lineage,omitempty"`
}

// TraceColumnLineage traces a column to its sources. Columns present in the
// final output yield a flattened node/edge lineage tree; columns defined
// only inside CTEs yield the defining CTEs plus a recursive multi-hop walk
// toward base tables. Returns a *sqlparse.ParseError for malformed SQL and
// a *ColumnNotFoundError when the column exists nowhere in the query.
func TraceColumnLineage(sql, column string, opts TraceOptions) (*TraceResult, error) {
	q, err := sqlparse.Parse(sql, opts.Dialect)
	if err != nil {
		return nil, err
	}
	if qualified, qerr := sqlparse.Qualify(q, opts.Schema); qerr == nil {
		q = qualified
	}

	graph := BuildDependencyGraph(q, opts.MaxExprLength)
	target := strings.ToLower(column)
	maxDepth := normalizeDepth(opts.Depth)

	var declaredCTEs []string
	seenCTE := make(map[string]struct{})
	for _, cte := range sqlparse.CTEs(q) {
		name := strings.ToLower(cte.Ctename)
		if _, ok := seenCTE[name]; !ok {
			seenCTE[name] = struct{}{}
			declaredCTEs = append(declaredCTEs, name)
		}
	}

	if roots := outputRoots(graph, target); len(roots) > 0 {
		result := &TraceResult{Column: column, InFinalOutput: true}
		result.Nodes, result.Edges, result.SourceTables = flattenLineage(graph, roots, maxDepth)
		// Branch locations for columns produced by set operations; the CTE
		// path below reports branches through FoundIn instead.
		result.UnionBranches = FindColumnInUnion(graph, target)
		return result, nil
	}

	matches := cteMatches(graph, target)
	if len(matches) > 0 {
		return &TraceResult{
			Column:        column,
			InFinalOutput: false,
			FoundIn:       matches,
			AvailableCTEs: declaredCTEs,
			FullLineage:   walkLineage(graph, matches, target, maxDepth),
		}, nil
	}

	return nil, &ColumnNotFoundError{
		Column:          column,
		AvailableOutput: outputColumnNames(graph),
		AvailableCTEs:   declaredCTEs,
	}
}

func normalizeDepth(depth int) int {
	if depth <= 0 {
		return math.MaxInt
	}
	return depth
}

// outputRoots returns the graph keys producing the target column in the
// final output, including UNION branch relations.
func outputRoots(graph *Graph, target string) []string {
	var roots []string
	for id, node := range graph.Nodes {
		if node.Location != LocationOutput || node.ColumnName != target {
			continue
		}
		roots = append(roots, id)
	}
	sort.Strings(roots)
	return roots
}

// flattenLineage runs a breadth-first walk from the output roots down
// through derived relations, deduplicating nodes by identity and recording
// child-to-parent edges.
func flattenLineage(graph *Graph, roots []string, maxDepth int) ([]TraceNode, []TraceEdge, []string) {
	nodes := []TraceNode{}
	edges := []TraceEdge{}
	index := make(map[string]int)
	tables := make(map[string]struct{})

	type queued struct {
		id    string
		depth int
	}

	addNode := func(id string, depth int) int {
		if idx, ok := index[id]; ok {
			return idx
		}
		tn := TraceNode{Depth: depth, Name: id}
		if node, ok := graph.Nodes[id]; ok {
			tn.Expression = node.Expression
			if node.Location == LocationSubquery {
				tn.Type = "subquery"
			} else {
				tn.Type = "derived"
			}
		} else {
			tn.Type = "table"
			table, col, _ := strings.Cut(id, ".")
			tn.Table = table
			tn.Column = col
			if table != "unknown" {
				tables[table] = struct{}{}
			}
		}
		index[id] = len(nodes)
		nodes = append(nodes, tn)
		return index[id]
	}

	queue := make([]queued, 0, len(roots))
	enqueued := make(map[string]struct{})
	for _, root := range roots {
		addNode(root, 0)
		queue = append(queue, queued{id: root, depth: 0})
		enqueued[root] = struct{}{}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		node, ok := graph.Nodes[current.id]
		if !ok || current.depth >= maxDepth {
			continue
		}
		parentIdx := index[current.id]
		for _, source := range node.Sources {
			childIdx := addNode(source, current.depth+1)
			edges = append(edges, TraceEdge{From: childIdx, To: parentIdx})
			if _, produced := graph.Nodes[source]; produced {
				if _, ok := enqueued[source]; !ok {
					enqueued[source] = struct{}{}
					queue = append(queue, queued{id: source, depth: current.depth + 1})
				}
			}
		}
	}

	sourceTables := make([]string, 0, len(tables))
	for table := range tables {
		sourceTables = append(sourceTables, table)
	}
	sort.Strings(sourceTables)
	return nodes, edges, sourceTables
}

// cteMatches finds the derived relations producing the target column.
// UNION branches report the branch side alongside the base CTE name.
func cteMatches(graph *Graph, target string) []CTEMatch {
	ids := make([]string, 0, len(graph.Nodes))
	for id := range graph.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var matches []CTEMatch
	for _, id := range ids {
		node := graph.Nodes[id]
		if node.ColumnName != target {
			continue
		}
		if node.Location != LocationCTE && node.Location != LocationSubquery {
			continue
		}
		name, branch := splitBranch(node.CTEName)
		matches = append(matches, CTEMatch{
			CTEName:    name,
			Branch:     branch,
			Sources:    node.Sources,
			Expression: node.Expression,
		})
	}
	return matches
}

// splitBranch strips UNION branch suffixes from a relation name, returning
// the base name and a branch label such as "left" or "right_left".
func splitBranch(relation string) (string, string) {
	var parts []string
	for {
		switch {
		case strings.HasSuffix(relation, "_left"):
			relation = strings.TrimSuffix(relation, "_left")
			parts = append([]string{"left"}, parts...)
		case strings.HasSuffix(relation, "_right"):
			relation = strings.TrimSuffix(relation, "_right")
			parts = append([]string{"right"}, parts...)
		default:
			return relation, strings.Join(parts, "_")
		}
	}
}

// walkLineage performs the recursive multi-hop resolution from the matched
// CTE columns toward base tables. Sources naming another derived relation
// continue the walk; everything else is a terminal leaf. The visited set
// guards against mutually referencing CTEs, and maxDepth bounds the hops.
func walkLineage(graph *Graph, matches []CTEMatch, target string, maxDepth int) []LineageHop {
	type queued struct {
		id    string
		depth int
	}

	var queue []queued
	visited := make(map[string]struct{})
	for _, match := range matches {
		relation := match.CTEName
		if match.Branch != "" {
			relation = relation + "_" + match.Branch
		}
		id := relation + "." + target
		if _, ok := graph.Nodes[id]; !ok {
			id = match.CTEName + "." + target
		}
		if _, ok := visited[id]; !ok {
			visited[id] = struct{}{}
			queue = append(queue, queued{id: id, depth: 0})
		}
	}

	hops := []LineageHop{}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		node, ok := graph.Nodes[current.id]
		if !ok {
			continue
		}
		relation, column, _ := strings.Cut(current.id, ".")
		hops = append(hops, LineageHop{
			Relation: relation,
			Column:   column,
			Sources:  node.Sources,
		})
		if current.depth+1 >= maxDepth {
			continue
		}
		for _, source := range node.Sources {
			srcRelation, _, ok := strings.Cut(source, ".")
			if !ok || !graph.IsDerivedRelation(srcRelation) {
				continue
			}
			if _, produced := graph.Nodes[source]; !produced {
				continue
			}
			if _, seen := visited[source]; !seen {
				visited[source] = struct{}{}
				queue = append(queue, queued{id: source, depth: current.depth + 1})
			}
		}
	}
	return hops
}

// outputColumnNames lists the final output's column names ordered by
// position, with UNION branch duplicates collapsed.
func outputColumnNames(graph *Graph) []string {
	type positioned struct {
		name     string
		position int
	}
	var cols []positioned
	seen := make(map[string]struct{})
	for _, node := range graph.Nodes {
		if node.Location != LocationOutput {
			continue
		}
		if _, ok := seen[node.ColumnName]; ok {
			continue
		}
		seen[node.ColumnName] = struct{}{}
		cols = append(cols, positioned{name: node.ColumnName, position: node.OutputPosition})
	}
	sort.Slice(cols, func(i, j int) bool {
		if cols[i].position != cols[j].position {
			return cols[i].position < cols[j].position
		}
		return cols[i].name < cols[j].name
	})
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.name
	}
	return names
}

// FindColumnInUnion reports where a column is produced across the branches
// of set operations, labeling each location with its branch side.
func FindColumnInUnion(graph *Graph, column string) []CTEMatch {
	target := strings.ToLower(column)
	ids := make([]string, 0, len(graph.Nodes))
	for id := range graph.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var locations []CTEMatch
	for _, id := range ids {
		node := graph.Nodes[id]
		if node.ColumnName != target {
			continue
		}
		relation := node.CTEName
		if node.Location == LocationOutput {
			relation, _, _ = strings.Cut(id, ".")
		}
		name, branch := splitBranch(relation)
		if branch == "" {
			continue
		}
		locations = append(locations, CTEMatch{
			CTEName:    name,
			Branch:     branch,
			Sources:    node.Sources,
			Expression: node.Expression,
		})
	}
	return locations
}
