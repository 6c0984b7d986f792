package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqllineage/pkg/lineage"
)

// AnalyzeOptions holds options for the analyze command.
type AnalyzeOptions struct {
	Format string
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand() *cobra.Command {
	opts := &AnalyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <sql|@file>",
		Short: "Break a query down into its structural parts",
		Long: `Analyze a query's structure: referenced tables and CTEs, per-column
transformations (passthrough, renamed, aggregated, window function,
derived) with inferred data types, joins, filters, grouping, and
ordering.`,
		Example: `  # Analyze an inline query
  sqllineage analyze "SELECT sum(amount) AS total FROM orders"

  # Analyze a file, markdown table output
  sqllineage analyze @query.sql --format markdown`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "", "Output format (tree|json|markdown)")

	return cmd
}

func runAnalyze(cmd *cobra.Command, queryArg string, opts *AnalyzeOptions) error {
	cfg := getConfig()

	sql, err := readQueryArg(cmd, queryArg)
	if err != nil {
		return err
	}
	schema, err := loadSchema(cfg)
	if err != nil {
		return err
	}

	result, err := lineage.AnalyzeQuery(sql, lineage.AnalyzeOptions{
		Dialect: cfg.Dialect,
		Schema:  schema,
	})
	if err != nil {
		return reportError(cmd, err)
	}

	format := opts.Format
	if format == "" {
		format = outputFormat(cmd, cfg)
	}
	switch format {
	case "json":
		return renderJSON(cmd.OutOrStdout(), result)
	case "md", "markdown":
		renderAnalysisTable(cmd.OutOrStdout(), result, true)
	default:
		renderAnalysisTable(cmd.OutOrStdout(), result, false)
	}
	return nil
}

func renderAnalysisTable(w io.Writer, result *lineage.AnalysisResult, markdown bool) {
	fmt.Fprintf(w, "Query type: %s\n", result.QueryType)
	if result.TargetTable != "" {
		fmt.Fprintf(w, "Target table: %s\n", result.TargetTable)
	}
	if len(result.Tables) > 0 {
		fmt.Fprintf(w, "Tables: %s\n", strings.Join(result.Tables, ", "))
	}
	if len(result.CTEs) > 0 {
		names := make([]string, len(result.CTEs))
		for i, cte := range result.CTEs {
			names[i] = cte.Name
		}
		fmt.Fprintf(w, "CTEs: %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintln(w)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Column", "Transformation", "Type", "Sources"})
	for _, col := range result.Columns {
		t.AppendRow(table.Row{
			col.Name,
			describeTransformation(col),
			col.DataType,
			strings.Join(col.Sources, ", "),
		})
	}
	if markdown {
		t.RenderMarkdown()
	} else {
		t.Render()
	}

	if len(result.Joins) > 0 {
		fmt.Fprintf(w, "\nJoins:\n")
		for _, join := range result.Joins {
			line := fmt.Sprintf("  %s %s JOIN %s", join.Left, join.Type, join.Right)
			if join.Condition != "" {
				line += " ON " + join.Condition
			}
			fmt.Fprintln(w, line)
		}
	}
	for _, filter := range result.Filters {
		fmt.Fprintf(w, "\n%s: %s\n", strings.ToUpper(filter.Clause), filter.Condition)
	}
	if len(result.GroupBy) > 0 {
		fmt.Fprintf(w, "\nGroup by: %s\n", strings.Join(result.GroupBy, ", "))
	}
	if len(result.OrderBy) > 0 {
		keys := make([]string, len(result.OrderBy))
		for i, ob := range result.OrderBy {
			keys[i] = ob.Expression + " " + ob.Direction
		}
		fmt.Fprintf(w, "\nOrder by: %s\n", strings.Join(keys, ", "))
	}
}

func describeTransformation(col lineage.ColumnAnalysis) string {
	if col.Aggregation == nil {
		return col.Transformation
	}
	if col.Aggregation.Function == "DERIVED" {
		return fmt.Sprintf("%s (contains %s)", col.Transformation, strings.Join(col.Aggregation.Contains, ", "))
	}
	return fmt.Sprintf("%s (%s)", col.Transformation, col.Aggregation.Function)
}
