package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqllineage/pkg/lineage"
)

// TablesOptions holds options for the tables command.
type TablesOptions struct {
	Format string
}

// NewTablesCommand creates the tables command.
func NewTablesCommand() *cobra.Command {
	opts := &TablesOptions{}

	cmd := &cobra.Command{
		Use:   "tables <sql|@file>",
		Short: "List the base tables a query references",
		Long: `List every physical table the query reads or writes, with schema
qualifiers and aliases. CTE references are excluded.`,
		Example: `  sqllineage tables "SELECT * FROM public.orders o JOIN users u ON o.user_id = u.id"
  sqllineage tables @query.sql --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTables(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "", "Output format (tree|json|markdown)")

	return cmd
}

func runTables(cmd *cobra.Command, queryArg string, opts *TablesOptions) error {
	cfg := getConfig()

	sql, err := readQueryArg(cmd, queryArg)
	if err != nil {
		return err
	}

	refs, err := lineage.ExtractTables(sql, cfg.Dialect)
	if err != nil {
		return reportError(cmd, err)
	}

	format := opts.Format
	if format == "" {
		format = outputFormat(cmd, cfg)
	}
	if format == "json" {
		return renderJSON(cmd.OutOrStdout(), refs)
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Table", "Schema", "Alias"})
	for _, ref := range refs {
		t.AppendRow(table.Row{ref.Name, ref.Schema, ref.Alias})
	}
	if format == "md" || format == "markdown" {
		t.RenderMarkdown()
	} else {
		t.Render()
	}
	return nil
}
