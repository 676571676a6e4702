// Package otel sets up OpenTelemetry tracing.
package otel

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config for the exporter.
type Config struct {
	Servicename string
	// Endpoint is the OTLP gRPC collector address. Tracing is off when empty.
	Endpoint string
	Insecure bool
	Logger   logr.Logger
}

// Init installs a global tracer provider exporting to c.Endpoint. The
// returned function flushes and stops the exporter.
func Init(ctx context.Context, c Config) (context.Context, func(), error) {
	log := c.Logger.WithName("otel")
	if c.Endpoint == "" {
		log.V(1).Info("no otel endpoint configured, tracing disabled")
		return ctx, func() {}, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.Endpoint)}
	if c.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return ctx, func() {}, err
	}

	res := resource.NewSchemaless(attribute.String("service.name", c.Servicename))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Error(err, "otel error")
	}))
	log.Info("otel tracing enabled", "endpoint", c.Endpoint, "insecure", c.Insecure)

	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error(err, "otel shutdown")
		}
	}
	return ctx, shutdown, nil
}
