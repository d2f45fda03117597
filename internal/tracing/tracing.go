// Package tracing wires OpenTelemetry span export for the API and
// execution paths. Callers go through the small wrappers here instead
// of importing the upstream packages; with no provider installed every
// span is a no-op.
package tracing

import (
	"context"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/me/slotq"

var (
	installOnce sync.Once
	installErr  error
	provider    *sdktrace.TracerProvider
)

// Init installs the global tracer provider with a stdout span
// exporter. An empty outputFile exports to os.Stdout. Only the first
// call installs a provider; later calls return the first result.
func Init(serviceName, outputFile string) error {
	installOnce.Do(func() {
		var w io.Writer = os.Stdout
		if outputFile != "" {
			f, err := os.Create(outputFile)
			if err != nil {
				installErr = err
				return
			}
			w = f
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			installErr = err
			return
		}
		res, err := resource.New(context.Background(),
			resource.WithAttributes(attribute.String("service.name", serviceName)))
		if err != nil {
			installErr = err
			return
		}
		provider = sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
	})
	return installErr
}

// Shutdown flushes and stops the installed provider. Calling it when
// Init never ran is a no-op.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

// Span wraps an OpenTelemetry span so callers stay decoupled from the
// upstream API.
type Span struct {
	span trace.Span
}

// Start opens an internal span as a child of whatever span ctx
// carries.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	return ctx, &Span{span: span}
}

// StartServer opens a server-kind span for an inbound request.
func StartServer(ctx context.Context, name string) (context.Context, *Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer))
	return ctx, &Span{span: span}
}

// Annotate attaches a string attribute to the span.
func (s *Span) Annotate(key, value string) *Span {
	if s == nil {
		return s
	}
	s.span.SetAttributes(attribute.String(key, value))
	return s
}

// AnnotateInt attaches an integer attribute to the span.
func (s *Span) AnnotateInt(key string, value int64) *Span {
	if s == nil {
		return s
	}
	s.span.SetAttributes(attribute.Int64(key, value))
	return s
}

// End closes the span, recording err as its status when non-nil.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
