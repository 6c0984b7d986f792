package lineage

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/leapstack-labs/sqllineage/pkg/sqlparse"
)

// CTEListResult inventories a query's CTEs in declaration order.
type CTEListResult struct {
	CTEs               []CTEAnalysis `json:"ctes"`
	FinalOutputColumns []string      `json:"final_output_columns"`
}

// ListCTEs lists every CTE with its output columns and the relations its
// body reads, plus the columns of the final select.
func ListCTEs(sql, dialect string) (*CTEListResult, error) {
	q, err := sqlparse.Parse(sql, dialect)
	if err != nil {
		return nil, err
	}

	result := &CTEListResult{
		CTEs:               []CTEAnalysis{},
		FinalOutputColumns: []string{},
	}
	for _, cte := range sqlparse.CTEs(q) {
		result.CTEs = append(result.CTEs, CTEAnalysis{
			Name:       strings.ToLower(cte.Ctename),
			Columns:    cteOutputColumns(cte),
			References: relationReferences(cte.Ctequery, nil),
		})
	}
	if sel := q.Select(); sel != nil {
		result.FinalOutputColumns = selectColumnNames(sel)
	}
	return result, nil
}

// selectColumnNames reads the output column names of a select, following
// the left branch of set operations.
func selectColumnNames(sel *pg_query.SelectStmt) []string {
	for sel != nil && sel.Op != pg_query.SetOperation_SETOP_NONE {
		sel = sel.Larg
	}
	if sel == nil {
		return nil
	}
	cols := []string{}
	for i, target := range sel.TargetList {
		rt := target.GetResTarget()
		if rt == nil {
			continue
		}
		cols = append(cols, strings.ToLower(columnName(rt, i)))
	}
	return cols
}
