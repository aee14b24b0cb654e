package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"graphql-cypher/internal/dbexec"
	"graphql-cypher/internal/translate"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for compiler and executor metrics.
const MeterName = "graphql-cypher"

// CompileMetrics records compilation and execution measurements. It
// satisfies translate.Recorder.
type CompileMetrics struct {
	compileCounter  metric.Int64Counter
	compileDuration metric.Float64Histogram
	compileParams   metric.Int64Histogram
	createStrategy  metric.Int64Counter
	executeCounter  metric.Int64Counter
	executeDuration metric.Float64Histogram
	executeRecords  metric.Int64Histogram
}

var _ translate.Recorder = (*CompileMetrics)(nil)

// InitCompileMetrics creates the instruments on the global meter provider.
func InitCompileMetrics() (*CompileMetrics, error) {
	return NewCompileMetrics(otel.Meter(MeterName))
}

// NewCompileMetrics creates the instruments on meter.
func NewCompileMetrics(meter metric.Meter) (*CompileMetrics, error) {
	compileCounter, err := meter.Int64Counter(
		"cypher.compile.total",
		metric.WithDescription("Total number of compiled intents"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compile counter: %w", err)
	}

	compileDuration, err := meter.Float64Histogram(
		"cypher.compile.duration",
		metric.WithDescription("Duration of intent compilation in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compile duration histogram: %w", err)
	}

	compileParams, err := meter.Int64Histogram(
		"cypher.compile.parameters",
		metric.WithDescription("Number of parameters in compiled statements"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create parameter histogram: %w", err)
	}

	createStrategy, err := meter.Int64Counter(
		"cypher.create.strategy",
		metric.WithDescription("Create compilations by strategy (batched or fallback)"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create strategy counter: %w", err)
	}

	executeCounter, err := meter.Int64Counter(
		"cypher.execute.total",
		metric.WithDescription("Total number of executed statements"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execute counter: %w", err)
	}

	executeDuration, err := meter.Float64Histogram(
		"cypher.execute.duration",
		metric.WithDescription("Duration of statement execution in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execute duration histogram: %w", err)
	}

	executeRecords, err := meter.Int64Histogram(
		"cypher.execute.records",
		metric.WithDescription("Number of records returned per statement"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create records histogram: %w", err)
	}

	return &CompileMetrics{
		compileCounter:  compileCounter,
		compileDuration: compileDuration,
		compileParams:   compileParams,
		createStrategy:  createStrategy,
		executeCounter:  executeCounter,
		executeDuration: executeDuration,
		executeRecords:  executeRecords,
	}, nil
}

// RecordCompile records one compilation of the given operation kind.
func (m *CompileMetrics) RecordCompile(ctx context.Context, operation string, duration time.Duration, params int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", compileOutcome(err)),
	)
	m.compileCounter.Add(ctx, 1, attrs)
	m.compileDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err == nil {
		m.compileParams.Record(ctx, int64(params), metric.WithAttributes(attribute.String("operation", operation)))
	}
}

// RecordCreateStrategy counts creates compiled as one UNWIND statement
// against those compiled row by row.
func (m *CompileMetrics) RecordCreateStrategy(ctx context.Context, batched bool) {
	strategy := "fallback"
	if batched {
		strategy = "batched"
	}
	m.createStrategy.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RecordExecute records one statement run against the database.
func (m *CompileMetrics) RecordExecute(ctx context.Context, mode dbexec.Mode, duration time.Duration, records int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("mode", mode.String()),
		attribute.String("outcome", executeOutcome(err)),
	)
	m.executeCounter.Add(ctx, 1, attrs)
	m.executeDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err == nil {
		m.executeRecords.Record(ctx, int64(records), metric.WithAttributes(attribute.String("mode", mode.String())))
	}
}

func compileOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, translate.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, translate.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, translate.ErrInvalidIntent):
		return "invalid_intent"
	default:
		return "error"
	}
}

func executeOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, dbexec.ErrForbidden):
		return "forbidden"
	case errors.Is(err, dbexec.ErrRelationshipCardinality):
		return "cardinality"
	case errors.Is(err, dbexec.ErrUserNotAllowed):
		return "user_not_allowed"
	default:
		return "error"
	}
}
