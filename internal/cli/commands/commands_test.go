package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqllineage/internal/cli/config"
)

// executeCommand runs a command with args and captures stdout and stderr.
func executeCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	SetConfig(&config.Config{
		Dialect:      config.DefaultDialect,
		OutputFormat: config.DefaultOutput,
		MaxSources:   config.DefaultMaxSources,
	})
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := executeCommand(t, NewVersionCommand("1.2.3"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "sqllineage v1.2.3")
}

func TestImpactCommand_JSON(t *testing.T) {
	sql := `WITH step1 AS (SELECT amount * 2 AS doubled FROM orders) SELECT doubled FROM step1`

	stdout, _, err := executeCommand(t, NewImpactCommand(), sql, "orders.amount", "--format", "json")
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, "orders.amount", result["source_column"])

	summary, ok := result["impact_summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), summary["total_affected"])
}

func TestImpactCommand_Text(t *testing.T) {
	sql := `SELECT amount AS total FROM orders`

	stdout, _, err := executeCommand(t, NewImpactCommand(), sql, "orders.amount")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Impact of orders.amount")
	assert.Contains(t, stdout, "total")
}

func TestImpactCommand_UnknownSource(t *testing.T) {
	_, stderr, err := executeCommand(t, NewImpactCommand(), `SELECT id FROM orders`, "missing")
	require.Error(t, err)
	assert.Contains(t, stderr, "Available source columns")
}

func TestImpactCommand_Diff(t *testing.T) {
	oldSQL := `SELECT amount AS total FROM orders`
	newSQL := `SELECT amount AS total, amount AS extra FROM orders`

	stdout, _, err := executeCommand(t, NewImpactCommand(),
		newSQL, "orders.amount", "--diff-against", oldSQL, "--format", "json")
	require.NoError(t, err)

	var diff map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &diff))
	added, ok := diff["added_output_columns"].([]any)
	require.True(t, ok)
	require.Len(t, added, 1)
}

func TestTraceCommand_Text(t *testing.T) {
	sql := `WITH calc AS (SELECT amount * 2 AS doubled FROM orders) SELECT doubled AS final FROM calc`

	stdout, _, err := executeCommand(t, NewTraceCommand(), sql, "doubled")
	require.NoError(t, err)
	assert.Contains(t, stdout, "CTE: calc")
	assert.Contains(t, stdout, "Expression:")
}

func TestTraceCommand_NotFound(t *testing.T) {
	_, stderr, err := executeCommand(t, NewTraceCommand(), `SELECT id FROM orders`, "missing")
	require.Error(t, err)
	assert.Contains(t, stderr, "Available columns")
}

func TestTablesCommand_JSON(t *testing.T) {
	sql := `SELECT * FROM public.orders o JOIN users u ON o.user_id = u.id`

	stdout, _, err := executeCommand(t, NewTablesCommand(), sql, "--format", "json")
	require.NoError(t, err)

	var refs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &refs))
	require.Len(t, refs, 2)
}

func TestCTEsCommand_Diagram(t *testing.T) {
	sql := `WITH a AS (SELECT x FROM t1), b AS (SELECT x FROM a) SELECT x FROM b`

	stdout, _, err := executeCommand(t, NewCTEsCommand(), sql, "--format", "diagram")
	require.NoError(t, err)
	assert.Contains(t, stdout, "flowchart TD")
	assert.Contains(t, stdout, "t1 --> a")
	assert.Contains(t, stdout, "a --> b")
	assert.Contains(t, stdout, "b --> output")
}

func TestAnalyzeCommand_JSON(t *testing.T) {
	sql := `SELECT sum(amount) AS total FROM orders GROUP BY region`

	stdout, _, err := executeCommand(t, NewAnalyzeCommand(), sql, "--format", "json")
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, "SELECT", result["query_type"])
}

func TestQualifyCommand(t *testing.T) {
	stdout, _, err := executeCommand(t, NewQualifyCommand(), `SELECT id FROM orders`)
	require.NoError(t, err)
	assert.Contains(t, stdout, "orders.id")
}

func TestReadQueryArg_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "query.sql")
	require.NoError(t, os.WriteFile(path, []byte(`SELECT id FROM orders`), 0o644))

	stdout, _, err := executeCommand(t, NewTablesCommand(), "@"+path, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, stdout, "orders")
}

func TestReadQueryArg_MissingFile(t *testing.T) {
	_, _, err := executeCommand(t, NewTablesCommand(), "@does-not-exist.sql")
	require.Error(t, err)
}

func TestParseErrorHint(t *testing.T) {
	_, stderr, err := executeCommand(t, NewAnalyzeCommand(), `SELEC nope`)
	require.Error(t, err)
	assert.Contains(t, stderr, "Check the SQL syntax")
}
