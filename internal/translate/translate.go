// Package translate compiles query intents into parameterized Cypher.
//
// Each compilation walks an intent tree once, building a cypher syntax tree
// whose variables are named only when the tree is rendered. Compilations share
// no mutable state and may run concurrently on one Translator.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"graphql-cypher/internal/authz"
	"graphql-cypher/internal/cypher"
	"graphql-cypher/internal/intent"
	"graphql-cypher/internal/logging"
	"graphql-cypher/internal/naming"
	"graphql-cypher/internal/schema"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrInvalidIntent reports a malformed intent, filter or input.
	ErrInvalidIntent = intent.ErrInvalidIntent
	// ErrUnknownType reports a type name missing from the metadata.
	ErrUnknownType = schema.ErrUnknownType
	// ErrLimitExceeded reports an intent over a configured limit.
	ErrLimitExceeded = errors.New("limit exceeded")
)

// Guard codes raised by apoc.util.validate when a compiled check fails.
const (
	ForbiddenCode   = "graphql-cypher/FORBIDDEN"
	CardinalityCode = "graphql-cypher/RELATIONSHIP-CARDINALITY"
)

const createPrefix = "create_"

// Metadata is the type model a Translator compiles against.
type Metadata interface {
	intent.TypeResolver
	Node(name string) (*schema.Node, bool)
}

// Limits bounds the intents a Translator accepts. Zero disables a limit.
type Limits struct {
	MaxDepth      int
	MaxCreateRows int
	// DefaultLimit applies to root reads that set no limit.
	DefaultLimit int
	MaxLimit     int
}

// Recorder receives compilation measurements.
type Recorder interface {
	RecordCompile(ctx context.Context, operation string, duration time.Duration, params int, err error)
	RecordCreateStrategy(ctx context.Context, batched bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordCompile(context.Context, string, time.Duration, int, error) {}
func (nopRecorder) RecordCreateStrategy(context.Context, bool)                       {}

// Option configures a Translator.
type Option func(*options)

type options struct {
	limits      Limits
	batchCreate bool
	resolver    authz.Resolver
	recorder    Recorder
	namer       *naming.Namer
}

// WithLimits sets the compilation limits.
func WithLimits(limits Limits) Option {
	return func(o *options) {
		o.limits = limits
	}
}

// WithBatchCreate toggles the UNWIND strategy for homogeneous creates.
func WithBatchCreate(enabled bool) Option {
	return func(o *options) {
		o.batchCreate = enabled
	}
}

// WithResolver sets the authorization resolver.
func WithResolver(resolver authz.Resolver) Option {
	return func(o *options) {
		if resolver != nil {
			o.resolver = resolver
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(o *options) {
		if recorder != nil {
			o.recorder = recorder
		}
	}
}

// WithNamer sets the namer used to resolve derived field names.
func WithNamer(namer *naming.Namer) Option {
	return func(o *options) {
		if namer != nil {
			o.namer = namer
		}
	}
}

// Translator compiles intents against one metadata model.
type Translator struct {
	meta Metadata
	opts options
}

// New creates a Translator.
func New(meta Metadata, opts ...Option) *Translator {
	o := options{
		batchCreate: true,
		resolver:    authz.NewResolver(meta, ""),
		recorder:    nopRecorder{},
		namer:       naming.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Translator{meta: meta, opts: o}
}

// Result is a compiled statement.
type Result struct {
	Cypher string
	Params map[string]any
	// Order lists parameter names in order of first reference.
	Order []string
	// Batched reports whether a create used the UNWIND strategy.
	Batched bool
}

// CompileRead compiles a read. Claims attached to ctx drive authorization.
func (t *Translator) CompileRead(ctx context.Context, req intent.Read) (Result, error) {
	return t.run(ctx, intent.OperationRead, req.Type, "", func(c *compiler) (cypher.Clause, error) {
		return c.read(req)
	})
}

// CompileAggregate compiles a root aggregation.
func (t *Translator) CompileAggregate(ctx context.Context, req intent.Aggregate) (Result, error) {
	return t.run(ctx, intent.OperationAggregate, req.Type, "", func(c *compiler) (cypher.Clause, error) {
		return c.aggregate(req)
	})
}

// CompileCreate compiles a create of one node per input row.
func (t *Translator) CompileCreate(ctx context.Context, req intent.Create) (Result, error) {
	return t.run(ctx, intent.OperationCreate, req.Type, createPrefix, func(c *compiler) (cypher.Clause, error) {
		return c.create(req)
	})
}

// CompileUpdate compiles an update of every node matching the filter.
func (t *Translator) CompileUpdate(ctx context.Context, req intent.Update) (Result, error) {
	return t.run(ctx, intent.OperationUpdate, req.Type, "", func(c *compiler) (cypher.Clause, error) {
		return c.update(req)
	})
}

// CompileDelete compiles a delete of every node matching the filter.
func (t *Translator) CompileDelete(ctx context.Context, req intent.Delete) (Result, error) {
	return t.run(ctx, intent.OperationDelete, req.Type, "", func(c *compiler) (cypher.Clause, error) {
		return c.delete(req)
	})
}

// Compile dispatches a decoded document on its operation.
func (t *Translator) Compile(ctx context.Context, doc *intent.Document) (Result, error) {
	if doc.GraphQL != "" {
		return Result{}, fmt.Errorf("%w: graphql documents must be converted to a read first", ErrInvalidIntent)
	}
	switch doc.Operation {
	case intent.OperationRead, "":
		return t.CompileRead(ctx, doc.ReadIntent())
	case intent.OperationAggregate:
		return t.CompileAggregate(ctx, doc.AggregateIntent())
	case intent.OperationCreate:
		return t.CompileCreate(ctx, doc.CreateIntent())
	case intent.OperationUpdate:
		return t.CompileUpdate(ctx, doc.UpdateIntent())
	case intent.OperationDelete:
		return t.CompileDelete(ctx, doc.DeleteIntent())
	default:
		return Result{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidIntent, doc.Operation)
	}
}

var tracer = otel.Tracer("graphql-cypher/translate")

func (t *Translator) run(ctx context.Context, op intent.Operation, typeName, prefix string, build func(*compiler) (cypher.Clause, error)) (Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "translate."+string(op), trace.WithAttributes(
		attribute.String("cypher.operation", string(op)),
		attribute.String("cypher.type", typeName),
	))
	defer span.End()

	claims, _ := authz.ClaimsFromContext(ctx)
	c := &compiler{ctx: ctx, t: t, meta: t.meta, claims: claims}
	clause, err := build(c)

	var res Result
	if err == nil {
		built := cypher.Build(clause, cypher.WithPrefix(prefix))
		res = Result{Cypher: built.Cypher, Params: built.Params, Order: built.Order, Batched: c.batched}
	}

	duration := time.Since(start)
	t.opts.recorder.RecordCompile(ctx, string(op), duration, len(res.Params), err)
	logger := logging.FromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Debug("compilation failed",
			slog.String("operation", string(op)),
			slog.String("type", typeName),
			slog.String("error", err.Error()),
		)
		return Result{}, err
	}
	span.SetAttributes(attribute.Int("cypher.parameters", len(res.Params)))
	logger.Debug("compiled intent",
		slog.String("operation", string(op)),
		slog.String("type", typeName),
		slog.Int("parameters", len(res.Params)),
		slog.Bool("batched", res.Batched),
		slog.Duration("duration", duration),
	)
	return res, nil
}
