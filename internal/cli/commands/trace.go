package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqllineage/pkg/lineage"
)

// TraceOptions holds options for the trace command.
type TraceOptions struct {
	Format string
	Depth  int
}

// NewTraceCommand creates the trace command.
func NewTraceCommand() *cobra.Command {
	opts := &TraceOptions{}

	cmd := &cobra.Command{
		Use:   "trace <sql|@file> <column>",
		Short: "Trace a column back to its source tables",
		Long: `Trace where a column's data comes from. Columns in the final output
yield a full lineage tree down to base tables; columns defined only
inside a CTE report the defining CTEs and a hop-by-hop walk toward
base tables.`,
		Example: `  # Trace an output column
  sqllineage trace @query.sql total_amount

  # Limit the walk to two hops
  sqllineage trace @query.sql total_amount --depth 2

  # JSON output
  sqllineage trace @query.sql total_amount --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, args[0], args[1], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "", "Output format (tree|json)")
	cmd.Flags().IntVar(&opts.Depth, "depth", 0, "Max hops through CTEs (0 = unlimited)")

	return cmd
}

func runTrace(cmd *cobra.Command, queryArg, column string, opts *TraceOptions) error {
	cfg := getConfig()

	sql, err := readQueryArg(cmd, queryArg)
	if err != nil {
		return err
	}
	schema, err := loadSchema(cfg)
	if err != nil {
		return err
	}

	result, err := lineage.TraceColumnLineage(sql, column, lineage.TraceOptions{
		Dialect:       cfg.Dialect,
		Schema:        schema,
		MaxExprLength: cfg.MaxExprLength,
		Depth:         opts.Depth,
	})
	if err != nil {
		return reportError(cmd, err)
	}

	format := opts.Format
	if format == "" {
		format = outputFormat(cmd, cfg)
	}
	if format == "json" {
		return renderJSON(cmd.OutOrStdout(), result)
	}
	renderTraceText(cmd, result)
	return nil
}

func renderTraceText(cmd *cobra.Command, result *lineage.TraceResult) {
	w := cmd.OutOrStdout()

	if result.InFinalOutput {
		fmt.Fprintf(w, "Lineage of %s (final output)\n\n", result.Column)
		for _, node := range result.Nodes {
			indent := strings.Repeat("  ", node.Depth)
			switch node.Type {
			case "table":
				fmt.Fprintf(w, "%s- %s.%s [table]\n", indent, node.Table, node.Column)
			default:
				line := fmt.Sprintf("%s- %s [%s]", indent, node.Name, node.Type)
				if node.Expression != "" {
					line += "\n" + indent + "  Expression: " + node.Expression
				}
				fmt.Fprintln(w, line)
			}
		}
		if len(result.UnionBranches) > 0 {
			fmt.Fprintf(w, "\nUnion branches:\n")
			for _, branch := range result.UnionBranches {
				fmt.Fprintf(w, "  %s (%s): %s\n", branch.CTEName, branch.Branch, strings.Join(branch.Sources, ", "))
			}
		}
		if len(result.SourceTables) > 0 {
			fmt.Fprintf(w, "\nSource tables: %s\n", strings.Join(result.SourceTables, ", "))
		}
		return
	}

	fmt.Fprintf(w, "Column %s is not in the final output.\n\n", result.Column)
	for _, match := range result.FoundIn {
		name := match.CTEName
		if match.Branch != "" {
			name += " (" + match.Branch + " branch)"
		}
		fmt.Fprintf(w, "CTE: %s\n", name)
		if match.Expression != "" {
			fmt.Fprintf(w, "  Expression: %s\n", match.Expression)
		}
		if len(match.Sources) > 0 {
			fmt.Fprintf(w, "  Sources: %s\n", strings.Join(match.Sources, ", "))
		}
	}
	if len(result.FullLineage) > 0 {
		fmt.Fprintf(w, "\nLineage walk:\n")
		for i, hop := range result.FullLineage {
			fmt.Fprintf(w, "  %d. %s.%s <- %s\n", i+1, hop.Relation, hop.Column, strings.Join(hop.Sources, ", "))
		}
	}
	if len(result.AvailableCTEs) > 0 {
		fmt.Fprintf(w, "\nAvailable CTEs: %s\n", strings.Join(result.AvailableCTEs, ", "))
	}
}
