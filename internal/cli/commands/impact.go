package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqllineage/internal/cli/config"
	"github.com/leapstack-labs/sqllineage/pkg/lineage"
)

// ImpactOptions holds options for the impact command.
type ImpactOptions struct {
	Format             string
	SummaryOnly        bool
	IncludeLineNumbers bool
	IncludeGraph       bool
	DiffAgainst        string
}

// NewImpactCommand creates the impact command.
func NewImpactCommand() *cobra.Command {
	opts := &ImpactOptions{}

	cmd := &cobra.Command{
		Use:   "impact <sql|@file> <source-column>",
		Short: "Find every column affected by a source column",
		Long: `Compute the transitive downstream impact of changing a source column:
which final-output columns and intermediate CTE columns depend on it,
directly or through other CTEs.

The source column is either "table.column" or a bare column name; bare
names match any source with that column.`,
		Example: `  # Impact of orders.amount on a query file
  sqllineage impact @query.sql orders.amount

  # Bare column name, JSON output
  sqllineage impact @query.sql amount --format json

  # Counts only
  sqllineage impact @query.sql orders.amount --summary-only

  # Compare two revisions of a query
  sqllineage impact @new.sql orders.amount --diff-against @old.sql`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImpact(cmd, args[0], args[1], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "", "Output format (tree|json)")
	cmd.Flags().BoolVar(&opts.SummaryOnly, "summary-only", false, "Report counts without expressions")
	cmd.Flags().BoolVar(&opts.IncludeLineNumbers, "include-line-numbers", false, "Attach heuristic line hints")
	cmd.Flags().BoolVar(&opts.IncludeGraph, "include-graph", false, "Attach the full dependency graph")
	cmd.Flags().StringVar(&opts.DiffAgainst, "diff-against", "", "Old query (sql or @file) to diff the impact against")

	return cmd
}

func runImpact(cmd *cobra.Command, queryArg, sourceColumn string, opts *ImpactOptions) error {
	cfg := getConfig()

	sql, err := readQueryArg(cmd, queryArg)
	if err != nil {
		return err
	}
	schema, err := loadSchema(cfg)
	if err != nil {
		return err
	}

	analysisOpts := lineage.ImpactOptions{
		Dialect:            cfg.Dialect,
		Schema:             schema,
		MaxExprLength:      cfg.MaxExprLength,
		MaxSources:         cfg.MaxSources,
		SummaryOnly:        opts.SummaryOnly,
		IncludeLineNumbers: opts.IncludeLineNumbers,
		IncludeGraph:       opts.IncludeGraph,
	}

	if opts.DiffAgainst != "" {
		oldSQL, err := readQueryArg(cmd, opts.DiffAgainst)
		if err != nil {
			return err
		}
		diff, err := lineage.DiffImpact(oldSQL, sql, sourceColumn, analysisOpts)
		if err != nil {
			return reportError(cmd, err)
		}
		if format := impactFormat(cmd, opts); format == "json" {
			return renderJSON(cmd.OutOrStdout(), diff)
		}
		renderDiffText(cmd, diff)
		return nil
	}

	result, err := lineage.AnalyzeImpact(sql, sourceColumn, analysisOpts)
	if err != nil {
		return reportError(cmd, err)
	}

	if format := impactFormat(cmd, opts); format == "json" {
		return renderJSON(cmd.OutOrStdout(), result)
	}
	renderImpactText(cmd, result, opts)
	return nil
}

func impactFormat(cmd *cobra.Command, opts *ImpactOptions) string {
	if opts.Format != "" {
		return opts.Format
	}
	cfg := getConfig()
	if cfg.OutputFormat != "" {
		return cfg.OutputFormat
	}
	return config.DefaultOutput
}

func renderImpactText(cmd *cobra.Command, result *lineage.ImpactResult, opts *ImpactOptions) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Impact of %s\n\n", result.SourceColumn)
	fmt.Fprintf(w, "Summary: %d output column(s), %d CTE column(s), %d total\n",
		result.Summary.OutputColumnsAffected,
		result.Summary.CTEColumnsAffected,
		result.Summary.TotalAffected)

	if len(result.OutputColumns) > 0 {
		fmt.Fprintf(w, "\nImpacted output columns:\n")
		for _, col := range result.OutputColumns {
			line := fmt.Sprintf("  %d. %s", col.Position, col.Column)
			if col.Expression != "" {
				line += " <- " + col.Expression
			}
			if col.LineHint > 0 {
				line += fmt.Sprintf(" (line %d)", col.LineHint)
			}
			fmt.Fprintln(w, line)
		}
	}
	if len(result.CTEColumns) > 0 {
		fmt.Fprintf(w, "\nImpacted CTE columns:\n")
		for _, col := range result.CTEColumns {
			line := fmt.Sprintf("  %s.%s", col.CTE, col.Column)
			if col.Expression != "" {
				line += " <- " + col.Expression
			}
			if col.LineHint > 0 {
				line += fmt.Sprintf(" (line %d)", col.LineHint)
			}
			fmt.Fprintln(w, line)
		}
	}
	if !opts.SummaryOnly && len(result.AvailableSources) > 0 {
		fmt.Fprintf(w, "\nAvailable source columns: %s\n", strings.Join(result.AvailableSources, ", "))
	}
}

func renderDiffText(cmd *cobra.Command, diff *lineage.DiffResult) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Impact diff for %s\n\n", diff.SourceColumn)
	fmt.Fprintf(w, "Old: %d affected, New: %d affected\n",
		diff.OldSummary.TotalAffected, diff.NewSummary.TotalAffected)

	for _, col := range diff.AddedOutput {
		fmt.Fprintf(w, "  + output %s\n", col.Column)
	}
	for _, col := range diff.RemovedOutput {
		fmt.Fprintf(w, "  - output %s\n", col.Column)
	}
	for _, change := range diff.ChangedOutput {
		fmt.Fprintf(w, "  ~ output %s: %s -> %s\n", change.Column, change.OldExpression, change.NewExpression)
	}
	for _, col := range diff.AddedCTE {
		fmt.Fprintf(w, "  + cte %s.%s\n", col.CTE, col.Column)
	}
	for _, col := range diff.RemovedCTE {
		fmt.Fprintf(w, "  - cte %s.%s\n", col.CTE, col.Column)
	}
	for _, change := range diff.ChangedCTE {
		fmt.Fprintf(w, "  ~ cte %s: %s -> %s\n", change.Column, change.OldExpression, change.NewExpression)
	}

	if len(diff.AddedOutput)+len(diff.RemovedOutput)+len(diff.ChangedOutput)+
		len(diff.AddedCTE)+len(diff.RemovedCTE)+len(diff.ChangedCTE) == 0 {
		fmt.Fprintln(w, "No impact changes between the two revisions.")
	}
}
