// Package instrumentation provides OpenTelemetry meters and tracers for the
// authorization server. When disabled it hands out no-op providers so
// instrumented code paths carry zero overhead.
package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scopePrefix = "github.com/loamlabs/project-oauth/"

// Config holds instrumentation configuration.
type Config struct {
	// ServiceName identifies the service in telemetry resources.
	ServiceName string

	// ServiceVersion is the deployed version.
	ServiceVersion string

	// Enabled controls whether real providers are used. When false every
	// meter and tracer is a no-op.
	Enabled bool

	// LogClientIPs controls whether client addresses appear in telemetry
	// attributes. Disable for jurisdictions that treat IPs as PII.
	LogClientIPs bool

	// Resource overrides the default resource attributes.
	Resource *resource.Resource
}

// Instrumentation owns the telemetry providers and the shared metric
// instruments.
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates an instrumentation instance.
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = "project-oauth"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "unknown"
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:         config,
		resource:       res,
		meterProvider:  noop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}
	return inst, nil
}

// Shutdown flushes and stops all registered providers.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})
	return shutdownErr
}

// Meter returns a named meter for a scope such as "http", "server", or
// "storage".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for a scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the shared metric instruments.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider.
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// ShouldLogClientIPs reports whether client addresses may appear in
// telemetry.
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}
