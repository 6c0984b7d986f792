package lineage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqllineage/pkg/sqlparse"
)

func findAnalyzedColumn(t *testing.T, result *AnalysisResult, name string) ColumnAnalysis {
	t.Helper()
	for _, col := range result.Columns {
		if col.Name == name {
			return col
		}
	}
	t.Fatalf("column %q not in analysis result", name)
	return ColumnAnalysis{}
}

func TestAnalyzeQuery_Transformations(t *testing.T) {
	sql := `SELECT id,
amount AS amt,
sum(amount) AS total,
count(*) AS cnt,
row_number() OVER (ORDER BY id) AS rn,
amount * 2 AS double_amt
FROM orders
GROUP BY id`

	schema := sqlparse.Schema{"orders": {"id": "integer", "amount": "numeric"}}
	result, err := AnalyzeQuery(sql, AnalyzeOptions{Schema: schema})
	require.NoError(t, err)

	assert.Equal(t, "SELECT", result.QueryType)
	assert.Equal(t, []string{"orders"}, result.Tables)

	tests := []struct {
		column    string
		transform string
		dataType  string
	}{
		{column: "id", transform: TransformPassthrough, dataType: "INTEGER"},
		{column: "amt", transform: TransformRenamed, dataType: "NUMERIC"},
		{column: "total", transform: TransformAggregated, dataType: "NUMERIC"},
		{column: "cnt", transform: TransformAggregated, dataType: "BIGINT"},
		{column: "rn", transform: TransformWindow, dataType: "BIGINT"},
		{column: "double_amt", transform: TransformDerived, dataType: "NUMERIC"},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			col := findAnalyzedColumn(t, result, tt.column)
			assert.Equal(t, tt.transform, col.Transformation)
			assert.Equal(t, tt.dataType, col.DataType)
		})
	}

	total := findAnalyzedColumn(t, result, "total")
	require.NotNil(t, total.Aggregation)
	assert.Equal(t, "SUM", total.Aggregation.Function)
	assert.Equal(t, []string{"amount"}, total.Aggregation.InputColumns)
	assert.NotEmpty(t, total.GroupedBy)

	cnt := findAnalyzedColumn(t, result, "cnt")
	require.NotNil(t, cnt.Aggregation)
	assert.Equal(t, "COUNT", cnt.Aggregation.Function)
	assert.Equal(t, []string{"*"}, cnt.Aggregation.InputColumns)

	plain := findAnalyzedColumn(t, result, "id")
	assert.Nil(t, plain.Aggregation)

	require.Len(t, result.WindowFunctions, 1)
	assert.Equal(t, "rn", result.WindowFunctions[0].Column)
	assert.Equal(t, "ROW_NUMBER", result.WindowFunctions[0].Function)
	assert.NotEmpty(t, result.WindowFunctions[0].OrderBy)
}

func TestAnalyzeQuery_DerivedAggregation(t *testing.T) {
	sql := `SELECT sum(amount) / count(*) AS avg_amount FROM orders`

	result, err := AnalyzeQuery(sql, AnalyzeOptions{})
	require.NoError(t, err)

	col := findAnalyzedColumn(t, result, "avg_amount")
	assert.Equal(t, TransformDerived, col.Transformation)
	require.NotNil(t, col.Aggregation)
	assert.Equal(t, "DERIVED", col.Aggregation.Function)
	assert.Contains(t, col.Aggregation.Contains, "SUM")
	assert.Contains(t, col.Aggregation.Contains, "COUNT")
}

func TestAnalyzeQuery_DataTypeInference(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		col  string
		want string
	}{
		{name: "cast", sql: `SELECT amount::text AS c FROM t`, col: "c", want: "TEXT"},
		{name: "upper", sql: `SELECT upper(name) AS c FROM t`, col: "c", want: "VARCHAR"},
		{name: "avg", sql: `SELECT avg(x) AS c FROM t`, col: "c", want: "DOUBLE"},
		{name: "min inherits", sql: `SELECT min(x) AS c FROM t`, col: "c", want: "INHERITED"},
		{name: "coalesce inherits", sql: `SELECT coalesce(x, y) AS c FROM t`, col: "c", want: "INHERITED"},
		{name: "comparison", sql: `SELECT x > 1 AS c FROM t`, col: "c", want: "BOOLEAN"},
		{name: "null test", sql: `SELECT x IS NOT NULL AS c FROM t`, col: "c", want: "BOOLEAN"},
		{name: "string constant", sql: `SELECT 'a' AS c FROM t`, col: "c", want: "VARCHAR"},
		{name: "integer constant", sql: `SELECT 42 AS c FROM t`, col: "c", want: "INTEGER"},
		{name: "decimal constant", sql: `SELECT 4.2 AS c FROM t`, col: "c", want: "DECIMAL"},
		{name: "unknown column", sql: `SELECT x AS c FROM t`, col: "c", want: "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := AnalyzeQuery(tt.sql, AnalyzeOptions{})
			require.NoError(t, err)
			col := findAnalyzedColumn(t, result, tt.col)
			assert.Equal(t, tt.want, col.DataType)
		})
	}
}

func TestAnalyzeQuery_CaseDataType(t *testing.T) {
	result, err := AnalyzeQuery(`SELECT CASE WHEN x > 0 THEN 'pos' ELSE 'neg' END AS c FROM t`, AnalyzeOptions{})
	require.NoError(t, err)
	col := findAnalyzedColumn(t, result, "c")
	assert.Equal(t, "VARCHAR", col.DataType)
}

func TestAnalyzeQuery_Joins(t *testing.T) {
	sql := `SELECT * FROM a JOIN b ON a.x = b.x LEFT JOIN c ON b.y = c.y`

	result, err := AnalyzeQuery(sql, AnalyzeOptions{})
	require.NoError(t, err)

	require.Len(t, result.Joins, 2)
	assert.Equal(t, "INNER", result.Joins[0].Type)
	assert.Equal(t, "a", result.Joins[0].Left)
	assert.Equal(t, "b", result.Joins[0].Right)
	assert.NotEmpty(t, result.Joins[0].Condition)
	assert.Equal(t, "LEFT", result.Joins[1].Type)
	assert.Equal(t, "c", result.Joins[1].Right)
}

func TestAnalyzeQuery_FiltersAndOrdering(t *testing.T) {
	sql := `SELECT status, count(*) AS n FROM orders
WHERE amount > 100
GROUP BY status
HAVING count(*) > 5
ORDER BY n DESC`

	result, err := AnalyzeQuery(sql, AnalyzeOptions{})
	require.NoError(t, err)

	require.Len(t, result.Filters, 2)
	assert.Equal(t, "where", result.Filters[0].Clause)
	assert.Contains(t, result.Filters[0].Condition, "100")
	assert.Equal(t, "having", result.Filters[1].Clause)

	require.Len(t, result.OrderBy, 1)
	assert.Equal(t, "DESC", result.OrderBy[0].Direction)
	assert.NotEmpty(t, result.GroupBy)
}

func TestAnalyzeQuery_CTAS(t *testing.T) {
	sql := `CREATE TABLE report AS SELECT id FROM orders`

	result, err := AnalyzeQuery(sql, AnalyzeOptions{})
	require.NoError(t, err)

	assert.Equal(t, "CREATE_TABLE_AS_SELECT", result.QueryType)
	assert.Equal(t, "report", result.TargetTable)
	require.Len(t, result.Columns, 1)
	assert.Equal(t, "id", result.Columns[0].Name)
}

func TestAnalyzeQuery_CTEInventory(t *testing.T) {
	sql := `WITH base AS (SELECT id, amount FROM orders),
enriched AS (SELECT b.id, b.amount, u.name FROM base b JOIN users u ON b.id = u.id)
SELECT id, name FROM enriched`

	result, err := AnalyzeQuery(sql, AnalyzeOptions{})
	require.NoError(t, err)

	require.Len(t, result.CTEs, 2)
	assert.Equal(t, "base", result.CTEs[0].Name)
	assert.Equal(t, []string{"id", "amount"}, result.CTEs[0].Columns)
	assert.Equal(t, []string{"orders"}, result.CTEs[0].References)
	assert.Equal(t, "enriched", result.CTEs[1].Name)
	assert.Contains(t, result.CTEs[1].References, "base")
	assert.Contains(t, result.CTEs[1].References, "users")

	// Tables excludes CTE self-references.
	assert.NotContains(t, result.Tables, "base")
	assert.NotContains(t, result.Tables, "enriched")
	assert.Contains(t, result.Tables, "orders")
	assert.Contains(t, result.Tables, "users")
}

func TestBuildCTEDependencies(t *testing.T) {
	sql := `WITH a AS (SELECT x FROM t1), b AS (SELECT x FROM a JOIN t2 ON true)
SELECT x FROM b`

	deps, err := BuildCTEDependencies(sql, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"t1"}, deps["a"])
	assert.Equal(t, []string{"a", "t2"}, deps["b"])
}

func TestListCTEs(t *testing.T) {
	sql := `WITH totals AS (SELECT region, sum(amount) AS total FROM sales GROUP BY region)
SELECT region, total AS regional_total FROM totals`

	result, err := ListCTEs(sql, "")
	require.NoError(t, err)

	require.Len(t, result.CTEs, 1)
	assert.Equal(t, "totals", result.CTEs[0].Name)
	assert.Equal(t, []string{"region", "total"}, result.CTEs[0].Columns)
	assert.Equal(t, []string{"sales"}, result.CTEs[0].References)
	assert.Equal(t, []string{"region", "regional_total"}, result.FinalOutputColumns)
}

func TestExtractTables(t *testing.T) {
	sql := `WITH recent AS (SELECT * FROM public.orders o WHERE o.created_at > now())
SELECT r.id, c.name FROM recent r JOIN customers c ON r.customer_id = c.id`

	refs, err := ExtractTables(sql, "")
	require.NoError(t, err)

	require.Len(t, refs, 2)
	assert.Equal(t, "customers", refs[0].Name)
	assert.Equal(t, "c", refs[0].Alias)
	assert.Equal(t, "customers", refs[0].QualifiedName)
	assert.Equal(t, "orders", refs[1].Name)
	assert.Equal(t, "public", refs[1].Schema)
	assert.Equal(t, "public.orders", refs[1].QualifiedName)
	assert.Equal(t, "o", refs[1].Alias)
}
