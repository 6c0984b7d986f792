package lineage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffImpact_RejectsIncompatibleModes(t *testing.T) {
	sql := `SELECT amount FROM orders`

	tests := []struct {
		name string
		opts ImpactOptions
	}{
		{name: "summary only", opts: ImpactOptions{SummaryOnly: true}},
		{name: "expression truncation", opts: ImpactOptions{MaxExprLength: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DiffImpact(sql, sql, "orders.amount", tt.opts)
			require.Error(t, err)
			var invalid *InvalidModeCombinationError
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestDiffImpact_AddedAndRemoved(t *testing.T) {
	oldSQL := `SELECT amount AS total, amount AS gone FROM orders`
	newSQL := `SELECT amount AS total, amount AS added FROM orders`

	diff, err := DiffImpact(oldSQL, newSQL, "orders.amount", ImpactOptions{})
	require.NoError(t, err)

	assert.Equal(t, "orders.amount", diff.SourceColumn)
	assert.Equal(t, 2, diff.OldSummary.OutputColumnsAffected)
	assert.Equal(t, 2, diff.NewSummary.OutputColumnsAffected)

	require.Len(t, diff.AddedOutput, 1)
	assert.Equal(t, "added", diff.AddedOutput[0].Column)
	require.Len(t, diff.RemovedOutput, 1)
	assert.Equal(t, "gone", diff.RemovedOutput[0].Column)
	assert.Empty(t, diff.ChangedOutput)
}

func TestDiffImpact_ChangedExpression(t *testing.T) {
	oldSQL := `WITH c AS (SELECT amount AS amt FROM orders) SELECT amt FROM c`
	newSQL := `WITH c AS (SELECT amount * 2 AS amt FROM orders) SELECT amt FROM c`

	diff, err := DiffImpact(oldSQL, newSQL, "orders.amount", ImpactOptions{})
	require.NoError(t, err)

	require.Len(t, diff.ChangedCTE, 1)
	assert.Equal(t, "c.amt", diff.ChangedCTE[0].Column)
	assert.NotEqual(t, diff.ChangedCTE[0].OldExpression, diff.ChangedCTE[0].NewExpression)
	assert.Empty(t, diff.AddedCTE)
	assert.Empty(t, diff.RemovedCTE)
}

func TestDiffImpact_Unchanged(t *testing.T) {
	sql := `SELECT amount AS total FROM orders`

	diff, err := DiffImpact(sql, sql, "orders.amount", ImpactOptions{})
	require.NoError(t, err)

	assert.Empty(t, diff.AddedOutput)
	assert.Empty(t, diff.RemovedOutput)
	assert.Empty(t, diff.ChangedOutput)
	assert.Equal(t, diff.OldSummary, diff.NewSummary)
}
