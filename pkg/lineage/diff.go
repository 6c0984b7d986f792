package lineage

import "sort"

// ColumnChange records an impacted column whose producing expression
// differs between the old and new query.
type ColumnChange struct {
	Column        string `json:"column"`
	OldExpression string `json:"old_expression"`
	NewExpression string `json:"new_expression"`
}

// DiffResult compares the impact of the same source column across two
// revisions of a query.
type DiffResult struct {
	SourceColumn  string                 `json:"source_column"`
	OldSummary    ImpactSummary          `json:"old_summary"`
	NewSummary    ImpactSummary          `json:"new_summary"`
	AddedOutput   []ImpactedOutputColumn `json:"added_output_columns"`
	RemovedOutput []ImpactedOutputColumn `json:"removed_output_columns"`
	ChangedOutput []ColumnChange         `json:"changed_output_columns"`
	AddedCTE      []ImpactedCTEColumn    `json:"added_cte_columns"`
	RemovedCTE    []ImpactedCTEColumn    `json:"removed_cte_columns"`
	ChangedCTE    []ColumnChange         `json:"changed_cte_columns"`
}

// DiffImpact runs two independent impact analyses of sourceColumn, one per
// query revision, and reports added, removed, and changed columns. Change
// detection compares full expression text, so summary-only and expression
// truncation are rejected up front.
func DiffImpact(oldSQL, newSQL, sourceColumn string, opts ImpactOptions) (*DiffResult, error) {
	if opts.SummaryOnly {
		return nil, &InvalidModeCombinationError{
			Reason: "diff requires full expressions; drop summary-only",
		}
	}
	if opts.MaxExprLength > 0 {
		return nil, &InvalidModeCombinationError{
			Reason: "diff requires full expressions; drop the expression length limit",
		}
	}
	opts.IncludeGraph = false
	opts.IncludeLineNumbers = false

	oldResult, err := AnalyzeImpact(oldSQL, sourceColumn, opts)
	if err != nil {
		return nil, err
	}
	newResult, err := AnalyzeImpact(newSQL, sourceColumn, opts)
	if err != nil {
		return nil, err
	}

	diff := &DiffResult{
		SourceColumn:  sourceColumn,
		OldSummary:    oldResult.Summary,
		NewSummary:    newResult.Summary,
		AddedOutput:   []ImpactedOutputColumn{},
		RemovedOutput: []ImpactedOutputColumn{},
		ChangedOutput: []ColumnChange{},
		AddedCTE:      []ImpactedCTEColumn{},
		RemovedCTE:    []ImpactedCTEColumn{},
		ChangedCTE:    []ColumnChange{},
	}

	oldOutput := make(map[string]ImpactedOutputColumn, len(oldResult.OutputColumns))
	for _, col := range oldResult.OutputColumns {
		oldOutput[col.Column] = col
	}
	for _, col := range newResult.OutputColumns {
		old, ok := oldOutput[col.Column]
		switch {
		case !ok:
			diff.AddedOutput = append(diff.AddedOutput, col)
		case old.Expression != col.Expression:
			diff.ChangedOutput = append(diff.ChangedOutput, ColumnChange{
				Column:        col.Column,
				OldExpression: old.Expression,
				NewExpression: col.Expression,
			})
		}
		delete(oldOutput, col.Column)
	}
	for _, col := range oldOutput {
		diff.RemovedOutput = append(diff.RemovedOutput, col)
	}
	sort.Slice(diff.RemovedOutput, func(i, j int) bool {
		return diff.RemovedOutput[i].Position < diff.RemovedOutput[j].Position
	})

	oldCTE := make(map[string]ImpactedCTEColumn, len(oldResult.CTEColumns))
	for _, col := range oldResult.CTEColumns {
		oldCTE[col.CTE+"."+col.Column] = col
	}
	for _, col := range newResult.CTEColumns {
		key := col.CTE + "." + col.Column
		old, ok := oldCTE[key]
		switch {
		case !ok:
			diff.AddedCTE = append(diff.AddedCTE, col)
		case old.Expression != col.Expression:
			diff.ChangedCTE = append(diff.ChangedCTE, ColumnChange{
				Column:        key,
				OldExpression: old.Expression,
				NewExpression: col.Expression,
			})
		}
		delete(oldCTE, key)
	}
	for _, col := range oldCTE {
		diff.RemovedCTE = append(diff.RemovedCTE, col)
	}
	sort.Slice(diff.RemovedCTE, func(i, j int) bool {
		if diff.RemovedCTE[i].CTE != diff.RemovedCTE[j].CTE {
			return diff.RemovedCTE[i].CTE < diff.RemovedCTE[j].CTE
		}
		return diff.RemovedCTE[i].Column < diff.RemovedCTE[j].Column
	})

	return diff, nil
}
