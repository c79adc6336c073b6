package observability

import (
	"context"
	"net/http"
	"sync"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/sahayak/pkg/config"
)

// Manager owns the tracer and meter providers for the process lifetime.
type Manager struct {
	config config.ObservabilityConfig

	mu             sync.RWMutex
	tracerProvider trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *promclient.Registry
	metrics        Metrics
}

func NewManager(cfg config.ObservabilityConfig) *Manager {
	return &Manager{config: cfg, metrics: noopMetrics{}}
}

// Initialize installs the global tracer and, when enabled, the global
// metrics recorder.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := InitTracer(ctx, m.config.Tracing)
	if err != nil {
		return err
	}
	m.tracerProvider = tp

	if m.config.Metrics.Enabled {
		reg := promclient.NewRegistry()
		metrics, mp, err := InitMetrics(reg)
		if err != nil {
			return err
		}
		m.registry = reg
		m.meterProvider = mp
		m.metrics = metrics
	}

	SetGlobalMetrics(m.metrics)
	return nil
}

func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// Handler serves the Prometheus exposition format, or nil when metrics are
// disabled.
func (m *Manager) Handler() http.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes pending spans and metrics.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	SetGlobalMetrics(nil)
	if m.meterProvider != nil {
		if err := m.meterProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if spt, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		return spt.Shutdown(ctx)
	}
	return nil
}
