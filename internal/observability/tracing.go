package observability

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/eapp/internal/config"
	"github.com/pitabwire/eapp/model"
)

const tracerName = "github.com/pitabwire/eapp"

// Span attribute keys.
var (
	AttrProductID         = attribute.Key("eapp.product_id")
	AttrDefinitionVersion = attribute.Key("eapp.definition_version")
	AttrApplicationID     = attribute.Key("eapp.application_id")
	AttrSubmissionID      = attribute.Key("eapp.submission_id")
	AttrProducerID        = attribute.Key("eapp.producer_id")
	AttrErrorCount        = attribute.Key("eapp.error_count")
	AttrIdempotentReplay  = attribute.Key("eapp.idempotent_replay")
	AttrSchemaVersion     = attribute.Key("eapp.schema_version")
)

// InitTracing installs the global tracer provider and W3C propagators. The
// returned function flushes buffered spans; with tracing disabled it does
// nothing.
func InitTracing(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := exporterFor(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(serviceAttributes(cfg, serviceName, serviceVersion)...))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(providerOptions(res, newSampler(cfg), exp)...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return provider.Shutdown, nil
}

func providerOptions(res *resource.Resource, sampler sdktrace.Sampler, exp sdktrace.SpanExporter) []sdktrace.TracerProviderOption {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res), sdktrace.WithSampler(sampler)}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return opts
}

func serviceAttributes(cfg config.TracingConfig, name, version string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(version),
		AttrSchemaVersion.String(model.SchemaVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	return attrs
}

// exporterFor returns a nil exporter for "none": spans are created and
// propagated but never shipped.
func exporterFor(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp", "":
		if cfg.Endpoint == "" {
			return otlptracegrpc.New(ctx)
		}
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint))
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stdout))
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported exporter %q (want otlp, stdout or none)", cfg.Exporter)
}

// samplingRatio clamps the configured rate to (0, 1], defaulting to 10%.
func samplingRatio(rate float64) float64 {
	if rate <= 0 {
		return 0.1
	}
	return min(rate, 1)
}

// newSampler follows the caller's sampling decision and samples new traces
// at the configured ratio.
func newSampler(cfg config.TracingConfig) sdktrace.Sampler {
	root := sdktrace.AlwaysSample()
	if ratio := samplingRatio(cfg.SamplingRate); ratio < 1 {
		root = sdktrace.TraceIDRatioBased(ratio)
	}
	return sdktrace.ParentBased(root)
}

func tracer() trace.Tracer { return otel.Tracer(tracerName) }

// StartSpan starts an internal span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpanWithError marks span failed when err is set, then ends it.
func EndSpanWithError(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceIDFromContext returns the active trace id, or "" outside a span.
func TraceIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// SpanIDFromContext returns the active span id, or "" outside a span.
func SpanIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasSpanID() {
		return sc.SpanID().String()
	}
	return ""
}

// SubmissionAttributes describes one application in flight.
func SubmissionAttributes(productID string, sctx model.SubmissionContext) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrProductID.String(productID),
		AttrApplicationID.String(sctx.ApplicationID),
	}
	if sctx.ProducerID != "" {
		attrs = append(attrs, AttrProducerID.String(sctx.ProducerID))
	}
	return attrs
}

// TracingMiddleware starts a server span per request, continuing any W3C
// traceparent the caller sent. Once routing is done the span takes the chi
// route pattern as its name.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer().Start(
			ExtractTraceContext(r.Context(), propagation.HeaderCarrier(r.Header)),
			r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method), semconv.URLPath(r.URL.Path)),
		)
		defer span.End()
		InjectTraceHeaders(ctx, propagation.HeaderCarrier(w.Header()))

		rec := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(ctx)
		next.ServeHTTP(rec, r)

		route := routePattern(r)
		span.SetName(r.Method + " " + route)
		span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))
		if route != r.URL.Path {
			span.SetAttributes(semconv.HTTPRoute(route))
		}
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}

// InjectTraceHeaders writes the trace context of ctx into carrier, such as
// the record headers of a published event.
func InjectTraceHeaders(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractTraceContext returns ctx continued from the trace context in carrier.
func ExtractTraceContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
