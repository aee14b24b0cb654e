package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"graphql-cypher/internal/authz"
	"graphql-cypher/internal/config"
	"graphql-cypher/internal/gqlselect"
	"graphql-cypher/internal/logging"
	"graphql-cypher/internal/naming"
	"graphql-cypher/internal/observability"
	"graphql-cypher/internal/schema"
	"graphql-cypher/internal/translate"

	"github.com/prometheus/common/expfmt"
	"go.opentelemetry.io/otel/sdk/log"
)

// app holds the components a command runs with.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	schema     *schema.Schema
	translator *translate.Translator
	converter  *gqlselect.Converter

	metrics *observability.CompileMetrics
	meters  *observability.MeterProvider
	tracer  *observability.TracerProvider
	logs    *observability.LoggerProvider
}

func telemetryConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
		},
	}
}

// newApp initializes telemetry, loads the type definitions, and builds the
// translator. Logs go to stderr so stdout carries only command output.
func newApp(ctx context.Context, cfg *config.Config, stderr io.Writer) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	var exportProvider *log.LoggerProvider
	if cfg.Observability.Logging.ExportsEnabled {
		a.logs, err = observability.InitLoggerProvider(ctx, telemetryConfig(cfg, cfg.Observability.LogsOTLP()))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize log export: %w", err)
		}
		exportProvider = a.logs.Provider()
	}
	a.logger = logging.NewLogger(logging.Config{
		Level:          cfg.Observability.Logging.Level,
		Format:         cfg.Observability.Logging.Format,
		Output:         stderr,
		LoggerProvider: exportProvider,
	})

	if cfg.Observability.TracingEnabled {
		a.tracer, err = observability.InitTracerProvider(ctx, telemetryConfig(cfg, cfg.Observability.TracesOTLP()))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	opts := []translate.Option{
		translate.WithLimits(translate.Limits{
			MaxDepth:      cfg.Compiler.MaxDepth,
			MaxCreateRows: cfg.Compiler.MaxCreateRows,
			DefaultLimit:  cfg.Compiler.DefaultLimit,
			MaxLimit:      cfg.Compiler.MaxLimit,
		}),
		translate.WithBatchCreate(cfg.Compiler.BatchCreate),
	}
	if cfg.Observability.MetricsEnabled {
		a.meters, err = observability.InitMeterProvider(telemetryConfig(cfg, cfg.Observability.OTLP))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		a.metrics, err = observability.NewCompileMetrics(a.meters.Meter(observability.MeterName))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize compile metrics: %w", err)
		}
		opts = append(opts, translate.WithRecorder(a.metrics))
	}

	a.schema, err = schema.LoadFile(cfg.Compiler.SchemaFile)
	if err != nil {
		return nil, err
	}
	namer := naming.New(cfg.Naming)
	opts = append(opts,
		translate.WithResolver(authz.NewResolver(a.schema, cfg.Compiler.RolesClaim)),
		translate.WithNamer(namer),
	)
	a.translator = translate.New(a.schema, opts...)
	a.converter = gqlselect.NewConverter(a.schema, namer)

	a.logger.Debug("type definitions loaded",
		slog.String("file", cfg.Compiler.SchemaFile),
		slog.Int("nodes", len(a.schema.Nodes)),
	)
	return a, nil
}

// close shuts telemetry down in reverse order of initialization.
func (a *app) close(ctx context.Context) error {
	logger := slog.Default()
	if a.logger != nil {
		logger = a.logger.Logger
	}
	var errs []error
	if a.meters != nil {
		errs = append(errs, a.meters.Shutdown(ctx, logger))
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(ctx, logger))
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Shutdown(ctx, logger))
	}
	return errors.Join(errs...)
}

// writeMetrics writes the collected metrics in the Prometheus text format.
func (a *app) writeMetrics(w io.Writer) error {
	if a.meters == nil {
		return errors.New("metrics are disabled (set observability.metrics_enabled)")
	}
	families, err := a.meters.Gatherer().Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return err
		}
	}
	return nil
}
