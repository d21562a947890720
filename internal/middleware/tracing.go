package middleware

import (
	"context"
	"net/url"
	"time"

	"github.com/natours/api/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/natours/api"

// InitTracing installs the OTLP tracer provider and returns its shutdown.
// With tracing disabled the global no-op provider stays in place.
func InitTracing(cfg *config.ObservabilityConfig, version, environment string, logger *logrus.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.TracingEnabled {
		logger.Info("Tracing is disabled")
		return noop, nil
	}

	ctx := context.Background()
	exporter, err := otlptracehttp.New(ctx, exporterOptions(cfg.OTLPEndpoint)...)
	if err != nil {
		return noop, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", "natours-api"),
		attribute.String("service.version", version),
		attribute.String("deployment.environment", environment),
	))
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	logger.WithFields(logrus.Fields{
		"endpoint":    cfg.OTLPEndpoint,
		"sample_rate": cfg.SampleRate,
	}).Info("Tracing enabled")
	return tp.Shutdown, nil
}

// exporterOptions accepts a bare host:port or a URL. Plain http and bare
// hosts export without TLS.
func exporterOptions(endpoint string) []otlptracehttp.Option {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure()}
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(u.Host)}
	if u.Path != "" && u.Path != "/" {
		opts = append(opts, otlptracehttp.WithURLPath(u.Path))
	}
	if u.Scheme != "https" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

// StartSpan starts a span on the current global tracer provider.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, opts...)
}

// TraceID is the id of the request's span, or the request id when the
// request is not sampled.
func TraceID(c *fiber.Ctx) string {
	if sc := trace.SpanFromContext(c.UserContext()).SpanContext(); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return c.GetRespHeader(fiber.HeaderXRequestID)
}
