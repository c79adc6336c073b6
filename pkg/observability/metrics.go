package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	globalMetrics Metrics = noopMetrics{}
	metricsMu     sync.RWMutex
)

// Metrics records engine measurements. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordTurn(ctx context.Context, duration time.Duration, rounds int, truncated bool, err error)
	RecordToolInvocation(ctx context.Context, tool, status string, duration time.Duration)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordRetrieval(ctx context.Context, duration time.Duration, hits int, err error)
	RecordClassification(ctx context.Context, policy string, tools int, fallback bool)
	RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration)
}

type PrometheusMetrics struct {
	turnDuration metric.Float64Histogram
	turnsTotal   metric.Int64Counter
	roundsTotal  metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	retrievalDuration metric.Float64Histogram
	retrievalEmpty    metric.Int64Counter

	classifications metric.Int64Counter

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
}

// InitMetrics builds an OpenTelemetry meter provider exporting to reg.
func InitMetrics(reg promclient.Registerer) (*PrometheusMetrics, *sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(DefaultServiceName)

	m := &PrometheusMetrics{}
	b := builder{meter: meter}

	m.turnDuration = b.histogram("sahayak_turn_duration_seconds", "Orchestrated turn duration in seconds")
	m.turnsTotal = b.counter("sahayak_turns_total", "Total orchestrated turns")
	m.roundsTotal = b.counter("sahayak_rounds_total", "Total reasoning rounds that dispatched tools")
	m.toolDuration = b.histogram("sahayak_tool_duration_seconds", "Tool invocation duration in seconds")
	m.toolCalls = b.counter("sahayak_tool_invocations_total", "Total tool invocations")
	m.llmDuration = b.histogram("sahayak_llm_request_duration_seconds", "Completion request duration in seconds")
	m.llmInputTokens = b.counter("sahayak_llm_tokens_input_total", "Total prompt tokens")
	m.llmOutputTokens = b.counter("sahayak_llm_tokens_output_total", "Total completion tokens")
	m.llmErrors = b.counter("sahayak_llm_errors_total", "Total completion errors")
	m.retrievalDuration = b.histogram("sahayak_retrieval_duration_seconds", "Knowledge retrieval duration in seconds")
	m.retrievalEmpty = b.counter("sahayak_retrieval_empty_total", "Retrievals returning no passages")
	m.classifications = b.counter("sahayak_classifications_total", "Tool classification decisions")
	m.httpDuration = b.histogram("sahayak_http_request_duration_seconds", "HTTP request duration in seconds")
	m.httpRequests = b.counter("sahayak_http_requests_total", "Total HTTP requests")

	if b.err != nil {
		return nil, nil, b.err
	}
	return m, provider, nil
}

// builder keeps the first instrument creation error.
type builder struct {
	meter metric.Meter
	err   error
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return c
}

func (b *builder) histogram(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return h
}

func (m *PrometheusMetrics) RecordTurn(ctx context.Context, duration time.Duration, rounds int, truncated bool, err error) {
	attrs := metric.WithAttributes(
		attribute.Bool("truncated", truncated),
		attribute.Bool("error", err != nil),
	)
	m.turnDuration.Record(ctx, duration.Seconds(), attrs)
	m.turnsTotal.Add(ctx, 1, attrs)
	if rounds > 0 {
		m.roundsTotal.Add(ctx, int64(rounds))
	}
}

func (m *PrometheusMetrics) RecordToolInvocation(ctx context.Context, tool, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCalls.Add(ctx, 1, attrs)
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordRetrieval(ctx context.Context, duration time.Duration, hits int, err error) {
	m.retrievalDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("error", err != nil)))
	if hits == 0 {
		m.retrievalEmpty.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordClassification(ctx context.Context, policy string, tools int, fallback bool) {
	m.classifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy", policy),
		attribute.Bool("fallback", fallback),
		attribute.Bool("none", tools == 0),
	))
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)
}

// SetGlobalMetrics installs m as the process-wide recorder. nil restores
// the no-op recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if m == nil {
		m = noopMetrics{}
	}
	globalMetrics = m
}

// GetGlobalMetrics never returns nil.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

type noopMetrics struct{}

func (noopMetrics) RecordTurn(context.Context, time.Duration, int, bool, error) {}
func (noopMetrics) RecordToolInvocation(context.Context, string, string, time.Duration) {}
func (noopMetrics) RecordLLMCall(context.Context, string, time.Duration, int, int, error) {}
func (noopMetrics) RecordRetrieval(context.Context, time.Duration, int, error) {}
func (noopMetrics) RecordClassification(context.Context, string, int, bool) {}
func (noopMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration) {}

// NoopMetrics returns a recorder that discards everything.
func NoopMetrics() Metrics { return noopMetrics{} }
