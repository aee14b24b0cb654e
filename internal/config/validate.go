package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"graphql-cypher/internal/naming"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) fail(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) warn(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Neo4j.validate(result)
	c.Compiler.validate(result)
	validateNamingConfig(result, c.Naming)
	c.Observability.validate(result)
	return result
}

var validURISchemes = map[string]bool{
	"neo4j": true, "neo4j+s": true, "neo4j+ssc": true,
	"bolt": true, "bolt+s": true, "bolt+ssc": true,
}

func (n *Neo4jConfig) validate(result *ValidationResult) {
	parsed, err := url.Parse(n.URI)
	switch {
	case n.URI == "":
		result.fail("neo4j.uri", "uri is required", "e.g. neo4j://localhost:7687")
	case err != nil:
		result.fail("neo4j.uri", fmt.Sprintf("invalid uri %q: %v", n.URI, err), "")
	case !validURISchemes[parsed.Scheme]:
		result.fail("neo4j.uri", fmt.Sprintf("unsupported scheme %q", parsed.Scheme), "valid schemes are: neo4j, neo4j+s, neo4j+ssc, bolt, bolt+s, bolt+ssc")
	case parsed.Host == "":
		result.fail("neo4j.uri", fmt.Sprintf("uri %q has no host", n.URI), "")
	}

	if n.MaxConnectionPoolSize < 0 {
		result.fail("neo4j.max_connection_pool_size", "max_connection_pool_size cannot be negative", "")
	}
	if n.ConnectionAcquisitionTimeout < 0 {
		result.fail("neo4j.connection_acquisition_timeout", "connection_acquisition_timeout cannot be negative", "")
	}
	if n.Password != "" && n.User == "" {
		result.warn("neo4j.user", "password set without a user", "set neo4j.user or drop the password to connect without auth")
	}

	if n.Impersonation.Enabled {
		if strings.TrimSpace(n.Impersonation.Claim) == "" {
			result.fail("neo4j.impersonation.claim", "claim is required when impersonation is enabled", "")
		}
		if n.Impersonation.Validate && len(n.Impersonation.AllowedUsers) == 0 {
			result.fail("neo4j.impersonation.allowed_users", "validation enabled but no allowed users configured",
				"set neo4j.impersonation.allowed_users or disable neo4j.impersonation.validate")
		}
		if !n.Impersonation.Validate {
			result.warn("neo4j.impersonation.validate", "any claimed user may be impersonated",
				"enable validation with an allowlist in production")
		}
	}
}

func (c *CompilerConfig) validate(result *ValidationResult) {
	if strings.TrimSpace(c.SchemaFile) == "" {
		result.fail("compiler.schema_file", "schema_file is required", "")
	}
	for field, value := range map[string]int{
		"compiler.max_depth":       c.MaxDepth,
		"compiler.max_create_rows": c.MaxCreateRows,
		"compiler.default_limit":   c.DefaultLimit,
		"compiler.max_limit":       c.MaxLimit,
	} {
		if value < 0 {
			result.fail(field, fmt.Sprintf("%s cannot be negative", field[strings.IndexByte(field, '.')+1:]), "use 0 to disable the limit")
		}
	}
	if c.MaxLimit > 0 && c.DefaultLimit > c.MaxLimit {
		result.fail("compiler.default_limit", fmt.Sprintf("default_limit %d exceeds max_limit %d", c.DefaultLimit, c.MaxLimit), "")
	}
	if c.Parallelism < 1 {
		result.fail("compiler.parallelism", "parallelism must be at least 1", "")
	}
	if c.MaxDepth == 0 {
		result.warn("compiler.max_depth", "nesting depth is unlimited", "set compiler.max_depth to bound generated statements")
	}
}

func validateNamingConfig(result *ValidationResult, cfg naming.Config) {
	for singular, plural := range cfg.PluralOverrides {
		if strings.TrimSpace(singular) == "" || strings.TrimSpace(plural) == "" {
			result.fail("naming.plural_overrides", "override keys and values cannot be empty", "")
		}
	}
	for typeName, field := range cfg.RootFields {
		if strings.TrimSpace(typeName) == "" || strings.TrimSpace(field) == "" {
			result.fail("naming.root_fields", "override keys and values cannot be empty", "")
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.fail("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level), "valid values are: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.fail("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format), "valid values are: json, text")
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.fail("observability.trace_sample_ratio", fmt.Sprintf("trace_sample_ratio %v is outside [0, 1]", o.TraceSampleRatio), "")
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.fail(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol), "valid values are: grpc, http/protobuf")
	}
	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.fail(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint), "use host:port or a full URL")
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.fail(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression), "valid values are: none, gzip")
	}
	if (o.TLSClientCertFile == "") != (o.TLSClientKeyFile == "") {
		result.fail(prefix+".tls_client_cert_file", "client certificate and key must be set together", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
