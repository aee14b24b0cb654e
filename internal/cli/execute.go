package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"graphql-cypher/internal/authz"
	"graphql-cypher/internal/config"
	"graphql-cypher/internal/dbexec"
	"graphql-cypher/internal/logging"

	"github.com/spf13/cobra"
)

// executed is the outcome of one statement run against the database.
type executed struct {
	Source        string           `json:"source"`
	Key           string           `json:"key,omitempty"`
	CompilationID string           `json:"compilationId"`
	Records       []map[string]any `json:"records"`
	Counters      dbexec.Counters  `json:"counters"`
}

// openExecutor connects to Neo4j. Tests replace it with a fake executor.
var openExecutor = func(ctx context.Context, cfg *config.Config) (dbexec.QueryExecutor, func(context.Context) error, error) {
	driver, err := dbexec.OpenDriver(ctx, dbexec.DriverConfig{
		URI:                          cfg.Neo4j.URI,
		User:                         cfg.Neo4j.User,
		Password:                     cfg.Neo4j.Password,
		MaxConnectionPoolSize:        cfg.Neo4j.MaxConnectionPoolSize,
		ConnectionAcquisitionTimeout: cfg.Neo4j.ConnectionAcquisitionTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	execCfg := dbexec.ExecutorConfig{
		Driver:   driver,
		Database: cfg.Neo4j.Database,
	}
	if imp := cfg.Neo4j.Impersonation; imp.Enabled {
		execCfg.UserFromCtx = userFromClaim(imp.Claim)
		execCfg.AllowedUsers = imp.AllowedUsers
		execCfg.ValidateUser = imp.Validate
	}
	return dbexec.NewNeo4jExecutor(execCfg), driver.Close, nil
}

// userFromClaim reads the database user to impersonate from a string claim.
func userFromClaim(claim string) func(context.Context) (string, bool) {
	return func(ctx context.Context) (string, bool) {
		claims, ok := authz.ClaimsFromContext(ctx)
		if !ok {
			return "", false
		}
		user, ok := claims[claim].(string)
		return user, ok && user != ""
	}
}

type executeOptions struct {
	*rootOptions
	token         string
	operationName string
}

func newExecuteCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &executeOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "execute <intent-file>",
		Short: "Compile an intent file and run it against Neo4j",
		Long: `Compile one intent file and run each resulting statement in a read or
write transaction. Records and write counters are printed as JSON. A failed
authorization or cardinality guard aborts the transaction and is reported
as an error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token whose claims drive authorization and impersonation")
	cmd.Flags().StringVar(&opts.operationName, "operation-name", "", "operation to run from multi-operation GraphQL documents")

	return cmd
}

func runExecute(cmd *cobra.Command, opts *executeOptions, path string) (err error) {
	ctx, a, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(context.Background()); err == nil {
			err = cerr
		}
	}()

	ctx, err = withToken(ctx, opts.token)
	if err != nil {
		return err
	}

	stmts, err := a.compileFiles(ctx, []string{path}, cmd.InOrStdin(), opts.operationName)
	if err != nil {
		return err
	}

	executor, closeExecutor, err := openExecutor(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeExecutor(context.Background()); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close neo4j driver: %w", cerr)
		}
	}()

	results := make([]executed, 0, len(stmts))
	for _, stmt := range stmts {
		res, err := a.execute(ctx, executor, stmt)
		if err != nil {
			if stmt.Key != "" {
				return fmt.Errorf("%s: %s: %w", stmt.Source, stmt.Key, err)
			}
			return fmt.Errorf("%s: %w", stmt.Source, err)
		}
		results = append(results, executed{
			Source:        stmt.Source,
			Key:           stmt.Key,
			CompilationID: stmt.CompilationID,
			Records:       res.Records,
			Counters:      res.Counters,
		})
	}
	return writeJSON(cmd.OutOrStdout(), results)
}

func (a *app) execute(ctx context.Context, executor dbexec.QueryExecutor, stmt statement) (*dbexec.Result, error) {
	ctx = logging.WithCompilationIDContext(ctx, stmt.CompilationID)
	mode := dbexec.ModeFor(stmt.Operation)

	start := time.Now()
	res, err := executor.Execute(ctx, mode, dbexec.Statement{Cypher: stmt.Cypher, Params: stmt.Params})
	records := 0
	if res != nil {
		records = len(res.Records)
	}
	if a.metrics != nil {
		a.metrics.RecordExecute(ctx, mode, time.Since(start), records, err)
	}
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info("statement executed",
		slog.String("operation", string(stmt.Operation)),
		slog.Int("records", records),
		slog.Int("nodes_created", res.Counters.NodesCreated),
		slog.Int("nodes_deleted", res.Counters.NodesDeleted),
	)
	return res, nil
}

func newSchemaCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Validate the type definitions and list the root query fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			_, a, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(context.Background()); err == nil {
					err = cerr
				}
			}()

			out := cmd.OutOrStdout()
			for _, name := range a.converter.RootFields() {
				if _, err := fmt.Fprintln(out, name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
