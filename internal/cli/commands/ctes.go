package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqllineage/pkg/lineage"
)

// CTEsOptions holds options for the ctes command.
type CTEsOptions struct {
	Format string
}

// NewCTEsCommand creates the ctes command.
func NewCTEsCommand() *cobra.Command {
	opts := &CTEsOptions{}

	cmd := &cobra.Command{
		Use:   "ctes <sql|@file>",
		Short: "List a query's CTEs and their dependencies",
		Long: `List every common table expression with its output columns and the
relations it reads, plus the final select's columns. The diagram format
emits a Mermaid flowchart of the CTE dependency graph.`,
		Example: `  # List CTEs
  sqllineage ctes @query.sql

  # Mermaid dependency diagram
  sqllineage ctes @query.sql --format diagram`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCTEs(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "", "Output format (tree|json|diagram|summary)")

	return cmd
}

func runCTEs(cmd *cobra.Command, queryArg string, opts *CTEsOptions) error {
	cfg := getConfig()

	sql, err := readQueryArg(cmd, queryArg)
	if err != nil {
		return err
	}

	result, err := lineage.ListCTEs(sql, cfg.Dialect)
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
	case "diagram":
		deps, err := lineage.BuildCTEDependencies(sql, cfg.Dialect)
		if err != nil {
			return reportError(cmd, err)
		}
		fmt.Fprint(cmd.OutOrStdout(), mermaidCTEDiagram(result, deps))
	case "summary":
		fmt.Fprintf(cmd.OutOrStdout(), "%d CTE(s), %d final output column(s)\n",
			len(result.CTEs), len(result.FinalOutputColumns))
		for _, cte := range result.CTEs {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d column(s), reads %s\n",
				cte.Name, len(cte.Columns), strings.Join(cte.References, ", "))
		}
	default:
		renderCTEsText(cmd, result)
	}
	return nil
}

func renderCTEsText(cmd *cobra.Command, result *lineage.CTEListResult) {
	w := cmd.OutOrStdout()
	for _, cte := range result.CTEs {
		fmt.Fprintf(w, "CTE: %s\n", cte.Name)
		fmt.Fprintf(w, "  Columns: %s\n", strings.Join(cte.Columns, ", "))
		if len(cte.References) > 0 {
			fmt.Fprintf(w, "  Reads: %s\n", strings.Join(cte.References, ", "))
		}
	}
	if len(result.FinalOutputColumns) > 0 {
		fmt.Fprintf(w, "Final output: %s\n", strings.Join(result.FinalOutputColumns, ", "))
	}
}

// mermaidCTEDiagram renders the CTE dependency graph as a Mermaid
// flowchart. Base tables are drawn as cylinders, CTEs as boxes.
func mermaidCTEDiagram(result *lineage.CTEListResult, deps map[string][]string) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	cteNames := make(map[string]struct{}, len(result.CTEs))
	for _, cte := range result.CTEs {
		cteNames[cte.Name] = struct{}{}
	}

	tables := make(map[string]struct{})
	for _, refs := range deps {
		for _, ref := range refs {
			if _, isCTE := cteNames[ref]; !isCTE {
				tables[ref] = struct{}{}
			}
		}
	}
	tableNames := make([]string, 0, len(tables))
	for name := range tables {
		tableNames = append(tableNames, name)
	}
	sort.Strings(tableNames)
	for _, name := range tableNames {
		fmt.Fprintf(&b, "    %s[(%s)]\n", name, name)
	}

	for _, cte := range result.CTEs {
		fmt.Fprintf(&b, "    %s[%s]\n", cte.Name, cte.Name)
	}
	b.WriteString("    output{{output}}\n")

	for _, cte := range result.CTEs {
		for _, ref := range deps[cte.Name] {
			fmt.Fprintf(&b, "    %s --> %s\n", ref, cte.Name)
		}
	}
	// Every CTE nothing else reads feeds the final select.
	readBy := make(map[string]struct{})
	for _, refs := range deps {
		for _, ref := range refs {
			readBy[ref] = struct{}{}
		}
	}
	for _, cte := range result.CTEs {
		if _, read := readBy[cte.Name]; !read {
			fmt.Fprintf(&b, "    %s --> output\n", cte.Name)
		}
	}
	return b.String()
}
