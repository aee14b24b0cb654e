// Package cli implements the graphql-cypher command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"graphql-cypher/internal/authz"
	"graphql-cypher/internal/config"
	"graphql-cypher/internal/logging"

	"github.com/spf13/cobra"
)

// rootOptions carries build information to the subcommands.
type rootOptions struct {
	version string
	commit  string
}

// NewRootCommand creates the root command. Config flags are persistent so
// every subcommand accepts them.
func NewRootCommand(version, commit string) *cobra.Command {
	opts := &rootOptions{version: version, commit: commit}

	cmd := &cobra.Command{
		Use:   "graphql-cypher",
		Short: "Compile GraphQL query intents into parameterized Cypher",
		Long: `graphql-cypher compiles read and mutation intents over a declared graph
model into a single parameterized Cypher statement each, and can run the
result against Neo4j.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.DefineFlags(cmd.PersistentFlags())

	cmd.AddCommand(newCompileCommand(opts))
	cmd.AddCommand(newExecuteCommand(opts))
	cmd.AddCommand(newSchemaCommand(opts))
	cmd.AddCommand(newTokenCommand())
	cmd.AddCommand(newVersionCommand(opts))

	return cmd
}

// setup loads and validates configuration and builds the app. The returned
// context carries the app logger.
func (o *rootOptions) setup(cmd *cobra.Command) (context.Context, *app, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = o.version
	}

	bootstrap := logging.NewLogger(logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	result := cfg.Validate()
	for _, warn := range result.Warnings {
		bootstrap.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if result.HasErrors() {
		for _, e := range result.Errors {
			bootstrap.Error("configuration error",
				slog.String("field", e.Field),
				slog.String("message", e.Message),
				slog.String("hint", e.Hint),
			)
		}
		return nil, nil, fmt.Errorf("configuration validation failed: %s", result.Error())
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	return logging.WithLogger(ctx, a.logger), a, nil
}

// withToken attaches the claims of a bearer token to ctx. An empty token
// leaves the request unauthenticated.
func withToken(ctx context.Context, token string) (context.Context, error) {
	if token == "" {
		return ctx, nil
	}
	claims, err := authz.ParseUnverified(token)
	if err != nil {
		return nil, err
	}
	return authz.WithClaims(ctx, claims), nil
}

func newVersionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "graphql-cypher %s (%s)\n", opts.version, opts.commit)
			return err
		},
	}
}
