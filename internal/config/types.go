// Package config loads configuration from files, env vars, and flags, and validates it.
package config

import (
	"time"

	"graphql-cypher/internal/naming"
)

// Config holds the application configuration.
type Config struct {
	Neo4j         Neo4jConfig         `mapstructure:"neo4j"`
	Compiler      CompilerConfig      `mapstructure:"compiler"`
	Naming        naming.Config       `mapstructure:"naming"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// Neo4jConfig holds database connection parameters.
type Neo4jConfig struct {
	URI                          string              `mapstructure:"uri"`
	User                         string              `mapstructure:"user"`
	Password                     string              `mapstructure:"password"`
	PasswordFile                 string              `mapstructure:"password_file"`
	PasswordPrompt               bool                `mapstructure:"password_prompt"`
	Database                     string              `mapstructure:"database"`
	MaxConnectionPoolSize        int                 `mapstructure:"max_connection_pool_size"`
	ConnectionAcquisitionTimeout time.Duration       `mapstructure:"connection_acquisition_timeout"`
	Impersonation                ImpersonationConfig `mapstructure:"impersonation"`
}

// ImpersonationConfig runs statements as a database user named by a claim.
type ImpersonationConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Claim        string   `mapstructure:"claim"`
	AllowedUsers []string `mapstructure:"allowed_users"`
	Validate     bool     `mapstructure:"validate"`
}

// CompilerConfig bounds and tunes compilation.
type CompilerConfig struct {
	SchemaFile    string `mapstructure:"schema_file"`
	MaxDepth      int    `mapstructure:"max_depth"`
	MaxCreateRows int    `mapstructure:"max_create_rows"`
	DefaultLimit  int    `mapstructure:"default_limit"`
	MaxLimit      int    `mapstructure:"max_limit"`
	BatchCreate   bool   `mapstructure:"batch_create"`
	RolesClaim    string `mapstructure:"roles_claim"`
	Parallelism   int    `mapstructure:"parallelism"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`  // debug, info, warn, error
	Format         string `mapstructure:"format"` // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"`
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string        `mapstructure:"service_name"`
	ServiceVersion   string        `mapstructure:"service_version"`
	Environment      string        `mapstructure:"environment"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	TracingEnabled   bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	Logging          LoggingConfig `mapstructure:"logging"`

	// OTLP applies to every exported signal unless overridden below.
	OTLP   OTLPConfig  `mapstructure:"otlp"`
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
}

// TracesOTLP returns the effective OTLP config for traces.
func (c *ObservabilityConfig) TracesOTLP() OTLPConfig {
	if c.Traces != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Traces)
	}
	return c.OTLP
}

// LogsOTLP returns the effective OTLP config for logs.
func (c *ObservabilityConfig) LogsOTLP() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

// mergeOTLPConfigs lays the set fields of override over base. Insecure always
// comes from the override since false cannot be told apart from unset.
func mergeOTLPConfigs(base, override OTLPConfig) OTLPConfig {
	result := base
	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		result.Protocol = override.Protocol
	}
	result.Insecure = override.Insecure
	if override.TLSCertFile != "" {
		result.TLSCertFile = override.TLSCertFile
	}
	if override.TLSClientCertFile != "" {
		result.TLSClientCertFile = override.TLSClientCertFile
	}
	if override.TLSClientKeyFile != "" {
		result.TLSClientKeyFile = override.TLSClientKeyFile
	}
	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}
	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.Compression != "" {
		result.Compression = override.Compression
	}
	return result
}
