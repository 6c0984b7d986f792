package lineage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const renamedChainSQL = `WITH step1 AS (SELECT amount AS amt FROM orders),
step2 AS (SELECT amt AS amt2 FROM step1)
SELECT amt2 AS final_amt FROM step2`

func TestTraceColumnLineage_FinalOutput(t *testing.T) {
	result, err := TraceColumnLineage(renamedChainSQL, "final_amt", TraceOptions{})
	require.NoError(t, err)

	assert.True(t, result.InFinalOutput)
	assert.Equal(t, "final_amt", result.Column)
	assert.Equal(t, []string{"orders"}, result.SourceTables)

	names := make(map[string]string)
	for _, node := range result.Nodes {
		names[node.Name] = node.Type
	}
	assert.Equal(t, "derived", names["output.final_amt"])
	assert.Equal(t, "derived", names["step2.amt2"])
	assert.Equal(t, "derived", names["step1.amt"])
	assert.Equal(t, "table", names["orders.amount"])
	assert.Len(t, result.Edges, 3)

	// Edges run from the less-derived node toward the output.
	for _, edge := range result.Edges {
		assert.Greater(t, result.Nodes[edge.From].Depth, result.Nodes[edge.To].Depth)
	}
}

func TestTraceColumnLineage_SelfReference(t *testing.T) {
	sql := `SELECT a.amount, a.amount * 2 AS doubled, doubled + 10 AS final FROM orders a`

	result, err := TraceColumnLineage(sql, "final", TraceOptions{})
	require.NoError(t, err)

	assert.True(t, result.InFinalOutput)
	assert.Contains(t, result.SourceTables, "orders")
}

func TestTraceColumnLineage_CTEColumn(t *testing.T) {
	result, err := TraceColumnLineage(renamedChainSQL, "amt2", TraceOptions{})
	require.NoError(t, err)

	assert.False(t, result.InFinalOutput)
	require.Len(t, result.FoundIn, 1)
	assert.Equal(t, "step2", result.FoundIn[0].CTEName)
	assert.Contains(t, result.FoundIn[0].Sources, "step1.amt")
	assert.Equal(t, []string{"step1", "step2"}, result.AvailableCTEs)

	require.Len(t, result.FullLineage, 2)
	assert.Equal(t, "step2", result.FullLineage[0].Relation)
	assert.Equal(t, "amt2", result.FullLineage[0].Column)
	assert.Equal(t, "step1", result.FullLineage[1].Relation)
	assert.Equal(t, "amt", result.FullLineage[1].Column)
}

func TestTraceColumnLineage_DepthLimits(t *testing.T) {
	tests := []struct {
		name     string
		depth    int
		wantHops int
	}{
		{name: "depth 1", depth: 1, wantHops: 1},
		{name: "depth 2", depth: 2, wantHops: 2},
		{name: "zero is unlimited", depth: 0, wantHops: 2},
		{name: "negative is unlimited", depth: -5, wantHops: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := TraceColumnLineage(renamedChainSQL, "amt2", TraceOptions{Depth: tt.depth})
			require.NoError(t, err)
			assert.Len(t, result.FullLineage, tt.wantHops)
		})
	}
}

func TestTraceColumnLineage_NotFound(t *testing.T) {
	_, err := TraceColumnLineage(renamedChainSQL, "missing_col", TraceOptions{})
	require.Error(t, err)

	var notFound *ColumnNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing_col", notFound.Column)
	assert.Contains(t, notFound.AvailableOutput, "final_amt")
	assert.Equal(t, []string{"step1", "step2"}, notFound.AvailableCTEs)
}

func TestTraceColumnLineage_UnionOutput(t *testing.T) {
	sql := `SELECT id FROM t1 UNION SELECT id FROM t2`

	result, err := TraceColumnLineage(sql, "id", TraceOptions{})
	require.NoError(t, err)

	assert.True(t, result.InFinalOutput)
	assert.Contains(t, result.SourceTables, "t1")
	assert.Contains(t, result.SourceTables, "t2")

	require.Len(t, result.UnionBranches, 2)
	branches := []string{result.UnionBranches[0].Branch, result.UnionBranches[1].Branch}
	assert.Contains(t, branches, "left")
	assert.Contains(t, branches, "right")
	for _, branch := range result.UnionBranches {
		assert.Equal(t, "output", branch.CTEName)
	}
}

func TestTraceColumnLineage_MutualCTEsTerminate(t *testing.T) {
	// Forward references between CTEs cannot form a true cycle in SQL, but
	// the walk must still terminate on repeated relation.column keys.
	sql := `WITH a AS (SELECT x FROM t), b AS (SELECT x FROM a)
SELECT x AS y FROM b`

	result, err := TraceColumnLineage(sql, "x", TraceOptions{})
	require.NoError(t, err)
	assert.False(t, result.InFinalOutput)
	assert.NotEmpty(t, result.FoundIn)
	assert.NotEmpty(t, result.FullLineage)
}

func TestFindColumnInUnion(t *testing.T) {
	sql := `WITH combined AS (SELECT id FROM t1 UNION SELECT id FROM t2)
SELECT id AS out_id FROM combined`

	g := BuildDependencyGraph(mustParse(t, sql), 0)
	locations := FindColumnInUnion(g, "id")

	require.Len(t, locations, 2)
	branches := []string{locations[0].Branch, locations[1].Branch}
	assert.Contains(t, branches, "left")
	assert.Contains(t, branches, "right")
	for _, loc := range locations {
		assert.Equal(t, "combined", loc.CTEName)
	}
}
