package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqllineage/pkg/sqlparse"
)

// NewQualifyCommand creates the qualify command.
func NewQualifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qualify <sql|@file>",
		Short: "Rewrite unqualified column references to table.column form",
		Long: `Qualify every column reference whose owning table can be determined,
either from a schema file (--schema) or because only one relation is in
scope. Ambiguous references are left unchanged.`,
		Example: `  sqllineage qualify "SELECT id, amount FROM orders"
  sqllineage qualify @query.sql --schema schema.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQualify(cmd, args[0])
		},
	}
	return cmd
}

func runQualify(cmd *cobra.Command, queryArg string) error {
	cfg := getConfig()

	sql, err := readQueryArg(cmd, queryArg)
	if err != nil {
		return err
	}
	schema, err := loadSchema(cfg)
	if err != nil {
		return err
	}

	q, err := sqlparse.Parse(sql, cfg.Dialect)
	if err != nil {
		return reportError(cmd, err)
	}
	qualified, err := sqlparse.Qualify(q, schema)
	if err != nil {
		// Qualification is best effort; fall back to the parsed tree.
		qualified = q
	}
	rendered, err := sqlparse.Render(qualified)
	if err != nil {
		return reportError(cmd, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return nil
}
