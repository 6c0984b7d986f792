// Package config provides configuration management for the sqllineage CLI.
//
// Configuration is layered: built-in defaults, then an optional
// sqllineage.yaml file, then SQLLINEAGE_-prefixed environment variables,
// then explicitly set command-line flags.
package config

// Config holds all CLI configuration options.
type Config struct {
	Dialect       string `koanf:"dialect"`
	OutputFormat  string `koanf:"output"`
	SchemaFile    string `koanf:"schema"`
	MaxExprLength int    `koanf:"max_expr_length"`
	MaxSources    int    `koanf:"max_sources"`
	Verbose       bool   `koanf:"verbose"`
}

// Default configuration values.
const (
	DefaultDialect    = "redshift"
	DefaultOutput     = "tree"
	DefaultMaxSources = 20
)
