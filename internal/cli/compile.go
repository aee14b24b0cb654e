package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"graphql-cypher/internal/gqlselect"
	"graphql-cypher/internal/intent"
	"graphql-cypher/internal/logging"
	"graphql-cypher/internal/translate"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// statement is one compiled root operation.
type statement struct {
	Source        string           `json:"source"`
	Key           string           `json:"key,omitempty"`
	CompilationID string           `json:"compilationId"`
	Operation     intent.Operation `json:"operation"`
	Cypher        string           `json:"cypher"`
	Params        map[string]any   `json:"params"`
	Batched       bool             `json:"batched,omitempty"`
}

type compileOptions struct {
	*rootOptions
	token         string
	output        string
	operationName string
	printMetrics  bool
}

func newCompileCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &compileOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <intent-file>...",
		Short: "Compile intent files to Cypher",
		Long: `Compile YAML intent files to parameterized Cypher and print the statements
as JSON. A file may hold a structured intent or a GraphQL query under the
"graphql" key. Use "-" to read one file from stdin. Files are compiled
concurrently, bounded by compiler.parallelism.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token whose claims drive authorization")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write statements to this file instead of stdout")
	cmd.Flags().StringVar(&opts.operationName, "operation-name", "", "operation to compile from multi-operation GraphQL documents")
	cmd.Flags().BoolVar(&opts.printMetrics, "print-metrics", false, "print compile metrics to stderr in Prometheus text format")

	return cmd
}

func runCompile(cmd *cobra.Command, opts *compileOptions, paths []string) (err error) {
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

	stmts, err := a.compileFiles(ctx, paths, cmd.InOrStdin(), opts.operationName)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := writeJSON(out, stmts); err != nil {
		return err
	}

	if opts.printMetrics {
		return a.writeMetrics(cmd.ErrOrStderr())
	}
	return nil
}

// compileFiles compiles every path concurrently and returns the statements
// in argument order. The first failure cancels the rest.
func (a *app) compileFiles(ctx context.Context, paths []string, stdin io.Reader, operationName string) ([]statement, error) {
	results := make([][]statement, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Compiler.Parallelism)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r := stdin
			if path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			stmts, err := a.compileSource(ctx, path, r, operationName)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = stmts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []statement
	for _, stmts := range results {
		all = append(all, stmts...)
	}
	return all, nil
}

// compileSource decodes one intent document and compiles it. A GraphQL
// document yields one statement per root field.
func (a *app) compileSource(ctx context.Context, source string, r io.Reader, operationName string) ([]statement, error) {
	doc, err := intent.Decode(r)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ctx = logging.WithCompilationIDContext(ctx, id)
	logger := logging.FromContext(ctx).WithFields(slog.String("source", source))

	if doc.GraphQL == "" {
		res, err := a.translator.Compile(ctx, doc)
		if err != nil {
			return nil, err
		}
		logger.Debug("intent compiled", slog.String("operation", string(doc.Operation)))
		return []statement{newStatement(source, "", id, doc.Operation, res)}, nil
	}

	gdoc, err := gqlselect.Parse(gqlselect.Request{
		Query:         doc.GraphQL,
		OperationName: operationName,
		Variables:     doc.Variables,
	})
	if err != nil {
		return nil, err
	}
	roots, err := a.converter.Convert(gdoc)
	if err != nil {
		return nil, err
	}
	logger.Debug("graphql document converted",
		slog.String("operation_name", gdoc.Name),
		slog.String("document_hash", gdoc.Hash),
		slog.Int("depth", gdoc.Depth),
		slog.Int("roots", len(roots)),
	)

	stmts := make([]statement, 0, len(roots))
	for _, root := range roots {
		var res translate.Result
		switch root.Operation {
		case intent.OperationAggregate:
			res, err = a.translator.CompileAggregate(ctx, root.Aggregate)
		default:
			res, err = a.translator.CompileRead(ctx, root.Read)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", root.Key, err)
		}
		stmts = append(stmts, newStatement(source, root.Key, id, root.Operation, res))
	}
	return stmts, nil
}

func newStatement(source, key, id string, op intent.Operation, res translate.Result) statement {
	if op == "" {
		op = intent.OperationRead
	}
	return statement{
		Source:        source,
		Key:           key,
		CompilationID: id,
		Operation:     op,
		Cypher:        res.Cypher,
		Params:        res.Params,
		Batched:       res.Batched,
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
