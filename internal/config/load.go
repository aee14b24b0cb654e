package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix prefixes every environment variable, e.g. GQLCYPHER_NEO4J_URI.
const EnvPrefix = "GQLCYPHER"

// stdin and passwordPrompt are replaced in tests.
var (
	stdin          io.Reader = os.Stdin
	passwordPrompt           = promptPassword
)

// Load loads configuration from multiple sources with the following precedence:
// 1. Explicit overrides (v.Set) – used only for password file and prompt
// 2. Flags in fs that were set
// 3. Environment variables
// 4. Config file
// 5. Default values
//
// fs may be nil; flags are read only when DefineFlags registered them.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	cfgPath := ""
	if fs != nil {
		cfgPath, _ = fs.GetString("config")
	}
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("graphql-cypher")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/graphql-cypher/")
		v.AddConfigPath("$HOME/.graphql-cypher")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Canonical keys are dotted snake_case: neo4j.max_connection_pool_size
	// reads GQLCYPHER_NEO4J_MAX_CONNECTION_POOL_SIZE.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		bindChangedFlags(v, fs)
	}

	if v.GetString("neo4j.password") == "" && v.GetString("neo4j.password_file") != "" {
		pwd, err := readPasswordFile(v.GetString("neo4j.password_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read neo4j password file: %w", err)
		}
		v.Set("neo4j.password", pwd)
	}
	if v.GetString("neo4j.password") == "" && v.GetBool("neo4j.password_prompt") {
		pwd, err := passwordPrompt()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("neo4j.password", pwd)
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// bindChangedFlags copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		// Command flags such as --config carry no dot and are not config keys.
		if !strings.Contains(f.Name, ".") {
			return
		}
		switch f.Value.Type() {
		case "string":
			val, _ := fs.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := fs.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := fs.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := fs.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// DefineFlags registers every config flag on fs using canonical snake_case keys.
func DefineFlags(fs *pflag.FlagSet) {
	fs.String("neo4j.uri", "", "Neo4j connection URI (neo4j://host:7687)")
	fs.String("neo4j.user", "", "Neo4j user")
	fs.String("neo4j.password", "", "Neo4j password")
	fs.String("neo4j.password_file", "", "Path to file containing the Neo4j password (use @- for stdin)")
	fs.Bool("neo4j.password_prompt", false, "Prompt for the Neo4j password securely")
	fs.String("neo4j.database", "", "Neo4j database name (empty for the server default)")
	fs.Int("neo4j.max_connection_pool_size", 0, "Maximum connections in the driver pool")
	fs.Duration("neo4j.connection_acquisition_timeout", 0, "Max time to wait for a pooled connection")
	fs.Bool("neo4j.impersonation.enabled", false, "Run statements as the user named by a claim")
	fs.String("neo4j.impersonation.claim", "", "Claim holding the database user to impersonate")
	fs.StringSlice("neo4j.impersonation.allowed_users", nil, "Users that may be impersonated (comma-separated or repeated)")
	fs.Bool("neo4j.impersonation.validate", false, "Reject users outside allowed_users")

	fs.String("compiler.schema_file", "", "Path to the type definition YAML")
	fs.Int("compiler.max_depth", 0, "Maximum nesting depth of selections and nested operations (0 = unlimited)")
	fs.Int("compiler.max_create_rows", 0, "Maximum rows in one create (0 = unlimited)")
	fs.Int("compiler.default_limit", 0, "Limit applied to root reads without one (0 = none)")
	fs.Int("compiler.max_limit", 0, "Maximum limit a read may request (0 = unlimited)")
	fs.Bool("compiler.batch_create", false, "Compile homogeneous creates with UNWIND")
	fs.String("compiler.roles_claim", "", "Claim path holding the caller's roles")
	fs.Int("compiler.parallelism", 0, "Intent files compiled concurrently")

	fs.String("observability.service_name", "", "Service name for observability")
	fs.String("observability.service_version", "", "Service version for observability")
	fs.String("observability.environment", "", "Environment name (dev, staging, prod)")
	fs.Bool("observability.metrics_enabled", false, "Enable metrics collection")
	fs.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	fs.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
	fs.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("observability.logging.format", "", "Log format (json, text)")
	fs.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
	fs.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
	fs.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	fs.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	fs.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")

	fs.StringP("config", "c", "", "Config file path")
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.password_file", "")
	v.SetDefault("neo4j.password_prompt", false)
	v.SetDefault("neo4j.database", "")
	v.SetDefault("neo4j.max_connection_pool_size", 100)
	v.SetDefault("neo4j.connection_acquisition_timeout", time.Minute)
	v.SetDefault("neo4j.impersonation.enabled", false)
	v.SetDefault("neo4j.impersonation.claim", "db_user")
	v.SetDefault("neo4j.impersonation.allowed_users", []string{})
	v.SetDefault("neo4j.impersonation.validate", true)

	v.SetDefault("compiler.schema_file", "schema.yaml")
	v.SetDefault("compiler.max_depth", 8)
	v.SetDefault("compiler.max_create_rows", 1000)
	v.SetDefault("compiler.default_limit", 0)
	v.SetDefault("compiler.max_limit", 0)
	v.SetDefault("compiler.batch_create", true)
	v.SetDefault("compiler.roles_claim", "roles")
	v.SetDefault("compiler.parallelism", 4)

	v.SetDefault("naming.plural_overrides", map[string]string{})
	v.SetDefault("naming.root_fields", map[string]string{})

	v.SetDefault("observability.service_name", "graphql-cypher")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "text")
	v.SetDefault("observability.logging.exports_enabled", false)
	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.headers", map[string]string{})
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
}

// promptPassword prompts the user for a password without echoing to terminal.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter Neo4j password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

func readPasswordFile(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "@-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}

		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}

		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
