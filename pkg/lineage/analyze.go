package lineage

import (
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/leapstack-labs/sqllineage/pkg/sqlparse"
)

// Transformation kinds assigned to analyzed columns.
const (
	TransformPassthrough = "passthrough"
	TransformRenamed     = "renamed"
	TransformAggregated  = "aggregated"
	TransformWindow      = "window_function"
	TransformDerived     = "derived"
)

// AggregationInfo describes the aggregate behind a column. Direct
// aggregates carry the function name and its input columns; expressions
// that merely contain aggregates report Function "DERIVED" plus the
// aggregates found inside.
type AggregationInfo struct {
	Function     string   `json:"function"`
	InputColumns []string `json:"input_columns,omitempty"`
	Contains     []string `json:"contains,omitempty"`
}

// ColumnAnalysis is the per-column breakdown of a select list.
type ColumnAnalysis struct {
	Name           string           `json:"name"`
	Expression     string           `json:"expression"`
	Transformation string           `json:"transformation"`
	Sources        []string         `json:"sources"`
	DataType       string           `json:"data_type"`
	Aggregation    *AggregationInfo `json:"aggregation,omitempty"`
	GroupedBy      []string         `json:"grouped_by,omitempty"`
}

// JoinInfo is one join of the FROM clause.
type JoinInfo struct {
	Type      string `json:"type"`
	Left      string `json:"left"`
	Right     string `json:"right"`
	Condition string `json:"condition,omitempty"`
}

// FilterInfo is one WHERE or HAVING predicate.
type FilterInfo struct {
	Clause    string `json:"clause"`
	Condition string `json:"condition"`
}

// OrderByInfo is one ORDER BY key with its direction.
type OrderByInfo struct {
	Expression string `json:"expression"`
	Direction  string `json:"direction"`
}

// WindowFunctionInfo describes a window function in the select list.
type WindowFunctionInfo struct {
	Column      string   `json:"column"`
	Function    string   `json:"function"`
	PartitionBy []string `json:"partition_by,omitempty"`
	OrderBy     []string `json:"order_by,omitempty"`
}

// CTEAnalysis summarizes one CTE of the query.
type CTEAnalysis struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	References []string `json:"references"`
}

// AnalysisResult is the structural breakdown of a query.
type AnalysisResult struct {
	QueryType       string               `json:"query_type"`
	TargetTable     string               `json:"target_table,omitempty"`
	Tables          []string             `json:"tables"`
	CTEs            []CTEAnalysis        `json:"ctes"`
	Columns         []ColumnAnalysis     `json:"columns"`
	Joins           []JoinInfo           `json:"joins"`
	Filters         []FilterInfo         `json:"filters"`
	GroupBy         []string             `json:"group_by"`
	OrderBy         []OrderByInfo        `json:"order_by"`
	WindowFunctions []WindowFunctionInfo `json:"window_functions"`
	HasDistinct     bool                 `json:"has_distinct"`
	HasLimit        bool                 `json:"has_limit"`
}

// AnalyzeOptions configure structural analysis.
type AnalyzeOptions struct {
	Dialect string
	Schema  sqlparse.Schema
}

var aggregateFunctions = map[string]struct{}{
	"sum":   {},
	"avg":   {},
	"count": {},
	"min":   {},
	"max":   {},
}

// AnalyzeQuery breaks a query down into its structural parts: referenced
// tables, CTEs, per-column transformations with inferred data types, joins,
// filters, grouping, and ordering. Analysis targets the principal SELECT;
// CTAS and INSERT ... SELECT record their target table.
func AnalyzeQuery(sql string, opts AnalyzeOptions) (*AnalysisResult, error) {
	q, err := sqlparse.Parse(sql, opts.Dialect)
	if err != nil {
		return nil, err
	}
	if qualified, qerr := sqlparse.Qualify(q, opts.Schema); qerr == nil {
		q = qualified
	}

	result := &AnalysisResult{
		QueryType:       q.Kind(),
		TargetTable:     q.TargetTable(),
		Tables:          []string{},
		CTEs:            []CTEAnalysis{},
		Columns:         []ColumnAnalysis{},
		Joins:           []JoinInfo{},
		Filters:         []FilterInfo{},
		GroupBy:         []string{},
		OrderBy:         []OrderByInfo{},
		WindowFunctions: []WindowFunctionInfo{},
	}

	cteNames := make(map[string]struct{})
	for _, cte := range sqlparse.CTEs(q) {
		name := strings.ToLower(cte.Ctename)
		cteNames[name] = struct{}{}
		result.CTEs = append(result.CTEs, CTEAnalysis{
			Name:       name,
			Columns:    cteOutputColumns(cte),
			References: relationReferences(cte.Ctequery, nil),
		})
	}

	sel := q.Select()
	if sel == nil {
		return result, nil
	}
	version := q.Version()

	if stmt := q.Statement(); stmt != nil {
		result.Tables = relationReferences(stmt, cteNames)
	}

	result.HasDistinct = len(sel.DistinctClause) > 0
	result.HasLimit = sel.LimitCount != nil

	groupBy := renderNodes(sel.GroupClause, version)
	result.GroupBy = groupBy

	ex := &extractor{
		aliases:      BuildAliasMap(sel.TargetList),
		tableAliases: tableAliasMapping(sel),
	}

	for i, target := range sel.TargetList {
		rt := target.GetResTarget()
		if rt == nil {
			continue
		}
		expr, _ := sqlparse.RenderExpr(rt.Val, version)
		col := ColumnAnalysis{
			Name:           strings.ToLower(columnName(rt, i)),
			Expression:     expr,
			Transformation: classifyTransformation(rt),
			Sources:        ex.Sources(rt.Val),
			DataType:       inferDataType(rt.Val, opts.Schema),
		}
		if info := extractAggregationInfo(rt.Val); info != nil {
			col.Aggregation = info
			col.GroupedBy = groupBy
		}
		if wf := windowFunctionInfo(col.Name, rt.Val, version); wf != nil {
			result.WindowFunctions = append(result.WindowFunctions, *wf)
		}
		result.Columns = append(result.Columns, col)
	}

	for _, item := range sel.FromClause {
		collectJoins(item, version, &result.Joins)
	}
	if sel.WhereClause != nil {
		if cond, err := sqlparse.RenderExpr(sel.WhereClause, version); err == nil {
			result.Filters = append(result.Filters, FilterInfo{Clause: "where", Condition: cond})
		}
	}
	if sel.HavingClause != nil {
		if cond, err := sqlparse.RenderExpr(sel.HavingClause, version); err == nil {
			result.Filters = append(result.Filters, FilterInfo{Clause: "having", Condition: cond})
		}
	}
	for _, sb := range sel.SortClause {
		sortBy := sb.GetSortBy()
		if sortBy == nil {
			continue
		}
		expr, err := sqlparse.RenderExpr(sortBy.Node, version)
		if err != nil {
			continue
		}
		result.OrderBy = append(result.OrderBy, OrderByInfo{
			Expression: expr,
			Direction:  sortDirection(sortBy.SortbyDir),
		})
	}
	return result, nil
}

// BuildCTEDependencies maps each CTE to the relations its body reads,
// covering both base tables and earlier CTEs.
func BuildCTEDependencies(sql, dialect string) (map[string][]string, error) {
	q, err := sqlparse.Parse(sql, dialect)
	if err != nil {
		return nil, err
	}
	deps := make(map[string][]string)
	for _, cte := range sqlparse.CTEs(q) {
		deps[strings.ToLower(cte.Ctename)] = relationReferences(cte.Ctequery, nil)
	}
	return deps, nil
}

// classifyTransformation tags how a select-list entry relates to its
// inputs. Bare column references pass through, aliased ones are renames,
// aggregate calls and window functions are tagged as such, and anything
// else is a derived expression.
func classifyTransformation(rt *pg_query.ResTarget) string {
	if rt.Val == nil {
		return TransformDerived
	}
	if ref := rt.Val.GetColumnRef(); ref != nil {
		if rt.Name == "" {
			return TransformPassthrough
		}
		return TransformRenamed
	}
	if fc := rt.Val.GetFuncCall(); fc != nil {
		if fc.Over != nil {
			return TransformWindow
		}
		if _, ok := aggregateFunctions[sqlparse.FuncName(fc)]; ok {
			return TransformAggregated
		}
	}
	return TransformDerived
}

// extractAggregationInfo returns aggregate metadata for an expression, or
// nil when it contains no aggregates. COUNT(*) reports input columns ["*"].
func extractAggregationInfo(expr *pg_query.Node) *AggregationInfo {
	if expr == nil {
		return nil
	}
	if fc := expr.GetFuncCall(); fc != nil && fc.Over == nil {
		name := sqlparse.FuncName(fc)
		if _, ok := aggregateFunctions[name]; ok {
			info := &AggregationInfo{Function: strings.ToUpper(name)}
			if name == "count" && (fc.AggStar || len(fc.Args) == 0) {
				info.InputColumns = []string{"*"}
			} else {
				for _, arg := range fc.Args {
					info.InputColumns = append(info.InputColumns, columnRefNames(arg)...)
				}
			}
			return info
		}
	}

	var contains []string
	seen := make(map[string]struct{})
	sqlparse.Walk(expr, func(n *pg_query.Node) {
		fc := n.GetFuncCall()
		if fc == nil || fc.Over != nil {
			return
		}
		name := sqlparse.FuncName(fc)
		if _, ok := aggregateFunctions[name]; !ok {
			return
		}
		upper := strings.ToUpper(name)
		if _, dup := seen[upper]; !dup {
			seen[upper] = struct{}{}
			contains = append(contains, upper)
		}
	})
	if len(contains) == 0 {
		return nil
	}
	return &AggregationInfo{Function: "DERIVED", Contains: contains}
}

// inferDataType guesses the SQL type an expression yields. Casts win, known
// functions map to fixed types, comparisons and boolean logic are BOOLEAN,
// arithmetic is NUMERIC, and bare column references consult the schema.
// "INHERITED" marks expressions that keep their input's type.
func inferDataType(expr *pg_query.Node, schema sqlparse.Schema) string {
	if expr == nil {
		return "UNKNOWN"
	}
	switch n := expr.Node.(type) {
	case *pg_query.Node_TypeCast:
		names := n.TypeCast.TypeName.GetNames()
		if len(names) > 0 {
			return strings.ToUpper(names[len(names)-1].GetString_().GetSval())
		}
		return "UNKNOWN"
	case *pg_query.Node_FuncCall:
		return funcReturnType(sqlparse.FuncName(n.FuncCall))
	case *pg_query.Node_AExpr:
		return aexprType(n.AExpr)
	case *pg_query.Node_BoolExpr, *pg_query.Node_NullTest, *pg_query.Node_BooleanTest:
		return "BOOLEAN"
	case *pg_query.Node_CaseExpr:
		return caseType(n.CaseExpr)
	case *pg_query.Node_CoalesceExpr:
		return "INHERITED"
	case *pg_query.Node_ColumnRef:
		table, column, star := sqlparse.ColumnRefParts(n.ColumnRef)
		if star || column == "" {
			return "UNKNOWN"
		}
		if typ, ok := schema.Type(table, column); ok {
			return strings.ToUpper(typ)
		}
		return "UNKNOWN"
	case *pg_query.Node_AConst:
		return constType(n.AConst)
	}
	return "UNKNOWN"
}

func funcReturnType(name string) string {
	switch name {
	case "count", "row_number", "rank", "dense_rank":
		return "BIGINT"
	case "sum":
		return "NUMERIC"
	case "avg":
		return "DOUBLE"
	case "min", "max", "coalesce", "nvl":
		return "INHERITED"
	case "upper", "lower", "trim", "btrim", "ltrim", "rtrim", "concat", "substring", "substr", "replace":
		return "VARCHAR"
	case "current_date", "current_timestamp", "now", "date_trunc":
		return "TIMESTAMP"
	case "extract", "date_part", "datediff":
		return "INTEGER"
	}
	return "UNKNOWN"
}

func aexprType(ae *pg_query.A_Expr) string {
	if ae.Kind != pg_query.A_Expr_Kind_AEXPR_OP {
		return "BOOLEAN"
	}
	op := ""
	if len(ae.Name) > 0 {
		op = ae.Name[0].GetString_().GetSval()
	}
	switch op {
	case "+", "-", "*", "/", "%":
		return "NUMERIC"
	}
	return "BOOLEAN"
}

// caseType looks at the first THEN branch only.
func caseType(ce *pg_query.CaseExpr) string {
	for _, arm := range ce.Args {
		when := arm.GetCaseWhen()
		if when == nil || when.Result == nil {
			continue
		}
		if ac := when.Result.GetAConst(); ac != nil {
			return constType(ac)
		}
		return "CONDITIONAL"
	}
	return "CONDITIONAL"
}

func constType(ac *pg_query.A_Const) string {
	switch {
	case ac.GetSval() != nil:
		return "VARCHAR"
	case ac.GetIval() != nil:
		return "INTEGER"
	case ac.GetFval() != nil:
		return "DECIMAL"
	case ac.GetBoolval() != nil:
		return "BOOLEAN"
	}
	return "UNKNOWN"
}

func windowFunctionInfo(column string, expr *pg_query.Node, version int32) *WindowFunctionInfo {
	fc := expr.GetFuncCall()
	if fc == nil || fc.Over == nil {
		return nil
	}
	return &WindowFunctionInfo{
		Column:      column,
		Function:    strings.ToUpper(sqlparse.FuncName(fc)),
		PartitionBy: renderNodes(fc.Over.PartitionClause, version),
		OrderBy:     renderNodes(fc.Over.OrderClause, version),
	}
}

func collectJoins(item *pg_query.Node, version int32, joins *[]JoinInfo) {
	je := item.GetJoinExpr()
	if je == nil {
		return
	}
	collectJoins(je.Larg, version, joins)
	collectJoins(je.Rarg, version, joins)

	info := JoinInfo{
		Type:  joinTypeName(je.Jointype),
		Left:  fromItemName(je.Larg),
		Right: fromItemName(je.Rarg),
	}
	if je.Quals != nil {
		if cond, err := sqlparse.RenderExpr(je.Quals, version); err == nil {
			info.Condition = cond
		}
	}
	*joins = append(*joins, info)
}

func joinTypeName(jt pg_query.JoinType) string {
	switch jt {
	case pg_query.JoinType_JOIN_LEFT:
		return "LEFT"
	case pg_query.JoinType_JOIN_RIGHT:
		return "RIGHT"
	case pg_query.JoinType_JOIN_FULL:
		return "FULL"
	default:
		return "INNER"
	}
}

func fromItemName(item *pg_query.Node) string {
	switch {
	case item == nil:
		return ""
	case item.GetRangeVar() != nil:
		return strings.ToLower(sqlparse.EffectiveTableName(item.GetRangeVar()))
	case item.GetRangeSubselect() != nil:
		rs := item.GetRangeSubselect()
		if rs.Alias != nil {
			return strings.ToLower(rs.Alias.Aliasname)
		}
		return "subquery"
	case item.GetJoinExpr() != nil:
		return fromItemName(item.GetJoinExpr().Larg)
	}
	return ""
}

// relationReferences lists the relation names a subtree reads, sorted and
// deduplicated. When excluding is nil, CTE references are kept.
func relationReferences(node *pg_query.Node, excluding map[string]struct{}) []string {
	seen := make(map[string]struct{})
	for _, rv := range sqlparse.Tables(node) {
		name := strings.ToLower(rv.Relname)
		if name == "" {
			continue
		}
		if _, skip := excluding[name]; skip {
			continue
		}
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func cteOutputColumns(cte *pg_query.CommonTableExpr) []string {
	if len(cte.Aliascolnames) > 0 {
		cols := make([]string, 0, len(cte.Aliascolnames))
		for _, n := range cte.Aliascolnames {
			cols = append(cols, strings.ToLower(n.GetString_().GetSval()))
		}
		return cols
	}
	body := cte.Ctequery.GetSelectStmt()
	if body == nil {
		return nil
	}
	for body.Op != pg_query.SetOperation_SETOP_NONE && body.Larg != nil {
		body = body.Larg
	}
	var cols []string
	for i, target := range body.TargetList {
		rt := target.GetResTarget()
		if rt == nil {
			continue
		}
		cols = append(cols, strings.ToLower(columnName(rt, i)))
	}
	return cols
}

func tableAliasMapping(sel *pg_query.SelectStmt) map[string]string {
	mapping := make(map[string]string)
	sqlparse.WalkSelect(sel, func(n *pg_query.Node) {
		if rv := n.GetRangeVar(); rv != nil {
			alias := strings.ToLower(sqlparse.EffectiveTableName(rv))
			if alias != "" {
				mapping[alias] = strings.ToLower(rv.Relname)
			}
		}
	})
	return mapping
}

func sortDirection(dir pg_query.SortByDir) string {
	if dir == pg_query.SortByDir_SORTBY_DESC {
		return "DESC"
	}
	return "ASC"
}

// renderNodes serializes a clause's expressions, unwrapping ORDER BY keys.
func renderNodes(nodes []*pg_query.Node, version int32) []string {
	out := []string{}
	for _, n := range nodes {
		if sb := n.GetSortBy(); sb != nil {
			n = sb.Node
		}
		if expr, err := sqlparse.RenderExpr(n, version); err == nil {
			out = append(out, expr)
		}
	}
	return out
}

func columnRefNames(node *pg_query.Node) []string {
	var cols []string
	for _, ref := range sqlparse.ColumnRefs(node) {
		_, column, star := sqlparse.ColumnRefParts(ref)
		if star || column == "" {
			continue
		}
		cols = append(cols, strings.ToLower(column))
	}
	return cols
}
