// Package commands implements the sqllineage subcommands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/sqllineage/internal/cli/config"
	"github.com/leapstack-labs/sqllineage/pkg/lineage"
	"github.com/leapstack-labs/sqllineage/pkg/sqlparse"
)

// currentConfig is set by the root command before any subcommand runs.
var currentConfig *config.Config

// SetConfig stores the loaded configuration for subcommands.
func SetConfig(cfg *config.Config) {
	currentConfig = cfg
}

func getConfig() *config.Config {
	if currentConfig != nil {
		return currentConfig
	}
	return &config.Config{
		Dialect:      config.DefaultDialect,
		OutputFormat: config.DefaultOutput,
		MaxSources:   config.DefaultMaxSources,
	}
}

// readQueryArg resolves a SQL argument: "@path" reads the file, "-" reads
// stdin, anything else is taken as inline SQL.
func readQueryArg(cmd *cobra.Command, arg string) (string, error) {
	switch {
	case strings.HasPrefix(arg, "@"):
		data, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return "", fmt.Errorf("failed to read query file: %w", err)
		}
		return string(data), nil
	case arg == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read query from stdin: %w", err)
		}
		return string(data), nil
	default:
		return arg, nil
	}
}

// loadSchema reads the configured JSON schema file, if any.
func loadSchema(cfg *config.Config) (sqlparse.Schema, error) {
	if cfg.SchemaFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(cfg.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	schema, err := sqlparse.ParseSchema(data)
	if err != nil {
		return nil, err
	}
	return schema, nil
}

// outputFormat resolves the effective format for a command: the command's
// own --format flag wins over the global output setting.
func outputFormat(cmd *cobra.Command, cfg *config.Config) string {
	if f, err := cmd.Flags().GetString("format"); err == nil && f != "" {
		return f
	}
	if cfg.OutputFormat != "" {
		return cfg.OutputFormat
	}
	return config.DefaultOutput
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// errorHint maps analysis errors to an actionable one-line hint.
func errorHint(err error) string {
	var parseErr *sqlparse.ParseError
	var srcNotFound *lineage.SourceColumnNotFoundError
	var colNotFound *lineage.ColumnNotFoundError
	var invalidMode *lineage.InvalidModeCombinationError
	switch {
	case errors.As(err, &parseErr):
		return "Check the SQL syntax and the --dialect setting."
	case errors.As(err, &srcNotFound):
		if len(srcNotFound.AvailableSources) > 0 {
			return "Available source columns: " + strings.Join(srcNotFound.AvailableSources, ", ")
		}
		return "The query references no resolvable source columns."
	case errors.As(err, &colNotFound):
		var hints []string
		if len(colNotFound.AvailableOutput) > 0 {
			hints = append(hints, "output columns: "+strings.Join(colNotFound.AvailableOutput, ", "))
		}
		if len(colNotFound.AvailableCTEs) > 0 {
			hints = append(hints, "CTEs: "+strings.Join(colNotFound.AvailableCTEs, ", "))
		}
		if len(hints) > 0 {
			return "Available columns: " + strings.Join(hints, "; ")
		}
		return "The query produces no columns to trace."
	case errors.As(err, &invalidMode):
		return "Drop the conflicting flag and rerun."
	case errors.Is(err, sqlparse.ErrUnsupportedDialect):
		return "Supported dialects: postgres, redshift."
	}
	return ""
}

// reportError prints the hint for an analysis error and returns the error
// for the root command to surface.
func reportError(cmd *cobra.Command, err error) error {
	if hint := errorHint(err); hint != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Hint: %s\n", hint)
	}
	return err
}
