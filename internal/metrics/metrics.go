// Package metrics instruments the gateway with OpenTelemetry metrics,
// exported in Prometheus text format, mirroring the tracing package's
// OTel-native setup rather than hand-rolled counters.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Collector holds the gateway's metric instruments. All methods are safe
// for concurrent use, per the underlying OTel instrument guarantees.
type Collector struct {
	requestsTotal         metric.Int64Counter
	stageLatency          metric.Float64Histogram
	providerRequestsTotal metric.Int64Counter
	circuitState          metric.Int64Gauge
	rateLimitRejections   metric.Int64Counter
	authFailures          metric.Int64Counter
	activeJobs            metric.Int64Gauge
}

// Init wires an OTel MeterProvider with a Prometheus exporter and returns a
// Collector bound to it, the Prometheus scrape handler, and a shutdown
// func. serviceName labels every exported series via the exporter's
// default target_info metric.
func Init(serviceName string) (collector *Collector, handler http.Handler, shutdown func(context.Context) error, err error) {
	exporter, err := otelprometheus.New()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(serviceName)

	c, err := newCollector(meter)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating instruments: %w", err)
	}

	return c, promhttp.Handler(), provider.Shutdown, nil
}

func newCollector(meter metric.Meter) (*Collector, error) {
	requestsTotal, err := meter.Int64Counter("gateway_requests_total",
		metric.WithDescription("Total HTTP requests handled, by route and status."))
	if err != nil {
		return nil, err
	}

	stageLatency, err := meter.Float64Histogram("gateway_stage_duration_seconds",
		metric.WithDescription("Orchestrator stage invocation latency in seconds."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	providerRequestsTotal, err := meter.Int64Counter("gateway_provider_requests_total",
		metric.WithDescription("Total upstream provider requests, by provider and outcome."))
	if err != nil {
		return nil, err
	}

	circuitState, err := meter.Int64Gauge("gateway_provider_circuit_state",
		metric.WithDescription("Circuit breaker state per provider (0=closed, 1=open, 2=half-open)."))
	if err != nil {
		return nil, err
	}

	rateLimitRejections, err := meter.Int64Counter("gateway_rate_limit_rejections_total",
		metric.WithDescription("Total requests rejected by the rate limiter, by scope."))
	if err != nil {
		return nil, err
	}

	authFailures, err := meter.Int64Counter("gateway_auth_failures_total",
		metric.WithDescription("Total bearer token verification failures."))
	if err != nil {
		return nil, err
	}

	activeJobs, err := meter.Int64Gauge("gateway_active_jobs",
		metric.WithDescription("Number of async jobs not yet in a terminal state."))
	if err != nil {
		return nil, err
	}

	return &Collector{
		requestsTotal:         requestsTotal,
		stageLatency:          stageLatency,
		providerRequestsTotal: providerRequestsTotal,
		circuitState:          circuitState,
		rateLimitRejections:   rateLimitRejections,
		authFailures:          authFailures,
		activeJobs:            activeJobs,
	}, nil
}

// RecordRequest records one completed HTTP request.
func (c *Collector) RecordRequest(ctx context.Context, route string, status int) {
	c.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		routeAttr(route), statusAttr(status),
	))
}

// RecordStageLatency records one orchestrator stage's wall-clock duration.
func (c *Collector) RecordStageLatency(ctx context.Context, stage string, d time.Duration) {
	c.stageLatency.Record(ctx, d.Seconds(), metric.WithAttributes(stageAttr(stage)))
}

// RecordProviderRequest records one outbound provider call's outcome.
func (c *Collector) RecordProviderRequest(ctx context.Context, provider, outcome string) {
	c.providerRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		providerAttr(provider), outcomeAttr(outcome),
	))
}

// SetCircuitState records a provider's current circuit breaker state.
func (c *Collector) SetCircuitState(ctx context.Context, provider string, state int) {
	c.circuitState.Record(ctx, int64(state), metric.WithAttributes(providerAttr(provider)))
}

// RecordRateLimitRejection records one rate-limited request.
func (c *Collector) RecordRateLimitRejection(ctx context.Context, scope string) {
	c.rateLimitRejections.Add(ctx, 1, metric.WithAttributes(scopeAttr(scope)))
}

// RecordAuthFailure records one failed bearer token verification.
func (c *Collector) RecordAuthFailure(ctx context.Context) {
	c.authFailures.Add(ctx, 1)
}

// SetActiveJobs records the current count of non-terminal async jobs.
func (c *Collector) SetActiveJobs(ctx context.Context, n int64) {
	c.activeJobs.Record(ctx, n)
}
