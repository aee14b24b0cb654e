package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInitMeterProvider(t *testing.T) {
	cfg := Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "test",
	}

	mp, err := InitMeterProvider(cfg)
	require.NoError(t, err, "Should initialize meter provider without error")
	require.NotNil(t, mp, "Meter provider should not be nil")
	require.NotNil(t, mp.provider, "Provider should not be nil")
	require.NotNil(t, mp.exporter, "Exporter should not be nil")

	// Clean up
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	err = mp.Shutdown(context.Background(), logger)
	assert.NoError(t, err, "Should shutdown without error")
}

func TestNewResource(t *testing.T) {
	res, err := newResource(Config{ServiceName: "graphql-cypher", ServiceVersion: "1.2.3", Environment: "test"})
	require.NoError(t, err)

	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "graphql-cypher", attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
	assert.Equal(t, "test", attrs["deployment.environment"])
}

func TestParseOTLPProtocol(t *testing.T) {
	tests := []struct {
		in      string
		want    otlpProtocol
		wantErr bool
	}{
		{"", otlpProtocolGRPC, false},
		{"GRPC", otlpProtocolGRPC, false},
		{"http", otlpProtocolHTTP, false},
		{" http/protobuf ", otlpProtocolHTTP, false},
		{"udp", "", true},
	}
	for _, tt := range tests {
		got, err := parseOTLPProtocol(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestBuildExporterOptions(t *testing.T) {
	cfg := OTLPExporterConfig{
		Endpoint:    "collector:4317",
		Insecure:    true,
		Headers:     map[string]string{"x-api-key": "k"},
		Timeout:     3 * time.Second,
		Compression: "gzip",
	}

	grpcTrace, err := buildTracerExporterOptions(cfg)
	require.NoError(t, err)
	assert.Len(t, grpcTrace, 5)

	grpcLog, err := buildLoggerExporterOptions(cfg)
	require.NoError(t, err)
	assert.Len(t, grpcLog, 5)

	cfg.Endpoint = "https://collector:4318/v1/traces"
	cfg.Compression = "none"
	httpTrace, err := buildHTTPTracerExporterOptions(cfg)
	require.NoError(t, err)
	assert.Len(t, httpTrace, 4)

	httpLog, err := buildHTTPLoggerExporterOptions(cfg)
	require.NoError(t, err)
	assert.Len(t, httpLog, 4)
}

func TestBuildExporterOptions_TLSErrorPropagates(t *testing.T) {
	cfg := OTLPExporterConfig{Endpoint: "collector:4317", TLSCertFile: "/nonexistent/ca.pem"}

	_, err := buildTracerExporterOptions(cfg)
	assert.ErrorContains(t, err, "failed to read OTLP TLS CA file")
	_, err = buildHTTPLoggerExporterOptions(cfg)
	assert.ErrorContains(t, err, "failed to read OTLP TLS CA file")
}

func TestInitTracerProvider_RejectsUnknownProtocol(t *testing.T) {
	_, err := InitTracerProvider(context.Background(), Config{OTLPConfig: OTLPExporterConfig{Protocol: "udp"}})
	assert.ErrorContains(t, err, "unsupported OTLP protocol")

	_, err = InitLoggerProvider(context.Background(), Config{OTLPConfig: OTLPExporterConfig{Protocol: "udp"}})
	assert.ErrorContains(t, err, "unsupported OTLP protocol")
}

func TestInitLoggerProvider_HTTP(t *testing.T) {
	lp, err := InitLoggerProvider(context.Background(), Config{
		ServiceName: "test-service",
		OTLPConfig:  OTLPExporterConfig{Endpoint: "localhost:4318", Protocol: "http/protobuf", Insecure: true},
	})
	require.NoError(t, err)
	require.NotNil(t, lp.Provider())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.NoError(t, lp.Shutdown(context.Background(), logger))
}

func TestBuildTLSConfig_FileNotFound(t *testing.T) {
	// Missing CA file should surface a clear error.
	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSCertFile: "/nonexistent/ca.pem",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read OTLP TLS CA file")
}

func TestBuildTLSConfig_InvalidCertFormat(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/ca.pem"

	// Write a non-PEM payload to trigger parse failure.
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSCertFile: path,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse OTLP TLS CA file")
}

func TestBuildTLSConfig_MissingClientKeyPair(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/client.crt"

	// Only set the cert path to ensure missing key is rejected.
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSClientCertFile: path,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTLP TLS client cert and key must both be set")
}

func TestTraceSamplerForRatio_Boundaries(t *testing.T) {
	never := traceSamplerForRatio(0)
	always := traceSamplerForRatio(1)

	decisionNever := never.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{1},
		Name:          "test",
	}).Decision
	assert.Equal(t, sdktrace.Drop, decisionNever)

	decisionAlways := always.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{2},
		Name:          "test",
	}).Decision
	assert.Equal(t, sdktrace.RecordAndSample, decisionAlways)
}

func TestTraceSamplerForRatio_ParentAwareMidRange(t *testing.T) {
	sampler := traceSamplerForRatio(0.5)

	parentSampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{3},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
	decisionSampledParent := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parentSampled,
		TraceID:       trace.TraceID{4},
		Name:          "child",
	}).Decision
	assert.Equal(t, sdktrace.RecordAndSample, decisionSampledParent)

	parentNotSampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{5},
		SpanID:  trace.SpanID{2},
		Remote:  true,
	}))
	decisionUnsampledParent := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parentNotSampled,
		TraceID:       trace.TraceID{6},
		Name:          "child",
	}).Decision
	assert.Equal(t, sdktrace.Drop, decisionUnsampledParent)
}
