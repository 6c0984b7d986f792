package lineage

import (
	"regexp"
	"sort"
	"strings"

	"github.com/leapstack-labs/sqllineage/pkg/sqlparse"
)

// ImpactOptions configure a reverse-lineage analysis.
type ImpactOptions struct {
	Dialect            string
	Schema             sqlparse.Schema
	MaxExprLength      int
	MaxSources         int
	SummaryOnly        bool
	IncludeLineNumbers bool
	IncludeGraph       bool
}

// ImpactSummary counts the columns affected by a source-column change.
type ImpactSummary struct {
	OutputColumnsAffected int `json:"output_columns_affected"`
	CTEColumnsAffected    int `json:"cte_columns_affected"`
	TotalAffected         int `json:"total_affected"`
}

// ImpactedOutputColumn is one affected final-output column.
type ImpactedOutputColumn struct {
	Column     string `json:"column"`
	Position   int    `json:"position"`
	Expression string `json:"expression,omitempty"`
	LineHint   int    `json:"line_hint,omitempty"`
}

// ImpactedCTEColumn is one affected column inside a CTE or subquery.
type ImpactedCTEColumn struct {
	CTE        string `json:"cte"`
	Column     string `json:"column"`
	Expression string `json:"expression,omitempty"`
	LineHint   int    `json:"line_hint,omitempty"`
}

// ImpactResult is the outcome of a successful impact analysis.
type ImpactResult struct {
	SourceColumn     string                 `json:"source_column"`
	Summary          ImpactSummary          `json:"impact_summary"`
	OutputColumns    []ImpactedOutputColumn `json:"impacted_output_columns"`
	CTEColumns       []ImpactedCTEColumn    `json:"impacted_cte_columns"`
	AvailableSources []string               `json:"available_source_columns,omitempty"`
	LineNumbers      map[string]int         `json:"line_numbers,omitempty"`
	Graph            *GraphExport           `json:"graph,omitempty"`
}

// maxSourceHints bounds the available-sources list attached to a
// SourceColumnNotFoundError.
const maxSourceHints = 20

// AnalyzeImpact finds every column transitively affected by a change to
// sourceColumn. The specifier is either "table.column" or a bare column
// name; bare names match any source with that column part. A failed
// qualification pass degrades to the unqualified tree. Returns a
// *sqlparse.ParseError for malformed SQL and a *SourceColumnNotFoundError
// when the source feeds nothing.
func AnalyzeImpact(sql, sourceColumn string, opts ImpactOptions) (*ImpactResult, error) {
	q, err := sqlparse.Parse(sql, opts.Dialect)
	if err != nil {
		return nil, err
	}
	if qualified, qerr := sqlparse.Qualify(q, opts.Schema); qerr == nil {
		q = qualified
	}

	graph := BuildDependencyGraph(q, opts.MaxExprLength)
	index := BuildReverseIndex(graph)

	impacted, err := findImpacted(sourceColumn, graph, index)
	if err != nil {
		return nil, err
	}

	result := categorize(impacted, graph)
	result.SourceColumn = sourceColumn

	allSources := index.Sources()
	if opts.MaxSources > 0 && len(allSources) > opts.MaxSources {
		allSources = allSources[:opts.MaxSources]
	}
	result.AvailableSources = allSources

	if opts.IncludeLineNumbers {
		result.LineNumbers = findLineNumbers(sql, cteNames(graph))
		finalLine := result.LineNumbers["final_select"]
		for i := range result.OutputColumns {
			result.OutputColumns[i].LineHint = finalLine
		}
		for i := range result.CTEColumns {
			result.CTEColumns[i].LineHint = result.LineNumbers["cte:"+result.CTEColumns[i].CTE]
		}
	}
	if opts.SummaryOnly {
		for i := range result.OutputColumns {
			result.OutputColumns[i].Expression = ""
		}
		for i := range result.CTEColumns {
			result.CTEColumns[i].Expression = ""
		}
	}
	if opts.IncludeGraph {
		result.Graph = ExportGraph(graph)
	}
	return result, nil
}

// findImpacted runs the BFS over the reverse index. Dependents living in a
// derived relation are re-enqueued as new seeds, both under their own
// qualified name and under unknown.<column>, to catch references produced
// without a resolvable table.
func findImpacted(sourceColumn string, graph *Graph, index ReverseIndex) (map[string]struct{}, error) {
	source := strings.ToLower(sourceColumn)

	var queue []string
	if !strings.Contains(source, ".") {
		for _, key := range index.Sources() {
			if strings.HasSuffix(key, "."+source) {
				queue = append(queue, key)
			}
		}
		if len(queue) == 0 {
			return nil, &SourceColumnNotFoundError{
				SourceColumn:     sourceColumn,
				AvailableSources: truncateList(index.Sources(), maxSourceHints),
			}
		}
	} else {
		queue = []string{source}
	}

	impacted := make(map[string]struct{})
	visited := make(map[string]struct{})

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, ok := visited[current]; ok {
			continue
		}
		visited[current] = struct{}{}

		for _, dep := range index.Dependents(current) {
			impacted[dep] = struct{}{}
			relation, column, ok := strings.Cut(dep, ".")
			if !ok || !graph.IsDerivedRelation(relation) {
				continue
			}
			for _, seed := range []string{dep, "unknown." + column} {
				if _, ok := visited[seed]; !ok {
					queue = append(queue, seed)
				}
			}
		}
	}
	return impacted, nil
}

func categorize(impacted map[string]struct{}, graph *Graph) *ImpactResult {
	result := &ImpactResult{
		OutputColumns: []ImpactedOutputColumn{},
		CTEColumns:    []ImpactedCTEColumn{},
	}

	ids := make([]string, 0, len(impacted))
	for id := range impacted {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		node, ok := graph.Nodes[id]
		if !ok {
			continue
		}
		switch node.Location {
		case LocationOutput:
			result.OutputColumns = append(result.OutputColumns, ImpactedOutputColumn{
				Column:     node.ColumnName,
				Position:   node.OutputPosition,
				Expression: node.Expression,
			})
		case LocationCTE, LocationSubquery:
			result.CTEColumns = append(result.CTEColumns, ImpactedCTEColumn{
				CTE:        node.CTEName,
				Column:     node.ColumnName,
				Expression: node.Expression,
			})
		}
	}
	sort.SliceStable(result.OutputColumns, func(i, j int) bool {
		return result.OutputColumns[i].Position < result.OutputColumns[j].Position
	})

	result.Summary = ImpactSummary{
		OutputColumnsAffected: len(result.OutputColumns),
		CTEColumnsAffected:    len(result.CTEColumns),
		TotalAffected:         len(impacted),
	}
	return result
}

func cteNames(graph *Graph) []string {
	names := make([]string, 0, len(graph.Derived))
	for name := range graph.Derived {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func truncateList(list []string, max int) []string {
	if len(list) > max {
		return list[:max]
	}
	return list
}

// findLineNumbers locates CTE definitions and the final SELECT in the raw
// SQL text. This is a textual heuristic, not parser position tracking; it
// can mis-locate constructs in unusually formatted SQL. Keys are
// "cte:<name>" and "final_select", values are 1-based line numbers.
func findLineNumbers(sql string, cteNames []string) map[string]int {
	lines := strings.Split(sql, "\n")
	info := make(map[string]int)

	patterns := make(map[string]*regexp.Regexp, len(cteNames))
	for _, name := range cteNames {
		patterns[name] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\s+AS\s*[\(\n]`)
	}

	inWithClause := false
	for i, line := range lines {
		lineNo := i + 1
		upper := strings.ToUpper(strings.TrimSpace(line))

		if strings.HasPrefix(upper, "WITH ") || upper == "WITH" {
			inWithClause = true
		}

		for _, name := range cteNames {
			if _, found := info["cte:"+name]; found {
				continue
			}
			if patterns[name].MatchString(line) {
				info["cte:"+name] = lineNo
				break
			}
		}

		if _, found := info["final_select"]; !found {
			if strings.HasPrefix(upper, "SELECT ") || upper == "SELECT" {
				if !inWithClause || (len(cteNames) > 0 && countCTELines(info) >= len(cteNames)) {
					info["final_select"] = lineNo
					inWithClause = false
				}
			}
		}
	}
	return info
}

func countCTELines(info map[string]int) int {
	count := 0
	for key := range info {
		if strings.HasPrefix(key, "cte:") {
			count++
		}
	}
	return count
}

// GraphExport is a plain node/edge rendering of the dependency graph for
// visualization. Kind is the node's location tag, or "source" for terminal
// references that no relation in the query produces.
type GraphExport struct {
	Nodes []GraphExportNode `json:"nodes"`
	Edges []GraphExportEdge `json:"edges"`
}

// GraphExportNode is one vertex of the exported graph.
type GraphExportNode struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Column string `json:"column,omitempty"`
	Label  string `json:"label"`
}

// GraphExportEdge is one source -> dependent edge of the exported graph.
type GraphExportEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// ExportGraph flattens the graph into node and edge lists with
// deterministic ordering.
func ExportGraph(g *Graph) *GraphExport {
	export := &GraphExport{Nodes: []GraphExportNode{}, Edges: []GraphExportEdge{}}

	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	terminals := make(map[string]struct{})
	for _, id := range ids {
		node := g.Nodes[id]
		label := node.Expression
		if label == "" {
			label = id
		}
		export.Nodes = append(export.Nodes, GraphExportNode{
			ID:     id,
			Kind:   string(node.Location),
			Column: node.ColumnName,
			Label:  label,
		})
		for _, source := range node.Sources {
			if _, produced := g.Nodes[source]; !produced {
				terminals[source] = struct{}{}
			}
			export.Edges = append(export.Edges, GraphExportEdge{Source: source, Target: id})
		}
	}

	terminalIDs := make([]string, 0, len(terminals))
	for id := range terminals {
		terminalIDs = append(terminalIDs, id)
	}
	sort.Strings(terminalIDs)
	for _, id := range terminalIDs {
		export.Nodes = append(export.Nodes, GraphExportNode{ID: id, Kind: "source", Label: id})
	}
	return export
}
