package monitoring

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Module couples the health probes with the runtime job and realtime state
// behind the summary endpoint. Prometheus collectors live in pkg/metrics and
// register with the default registry.
type Module struct {
	gatherer prometheus.Gatherer
	stats    *statStore
	health   *HealthManager
}

// Option customises a Module.
type Option func(*Module)

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(m *Module) {
		if g != nil {
			m.gatherer = g
		}
	}
}

// NewModule constructs a monitoring module.
func NewModule(opts ...Option) *Module {
	module := &Module{
		gatherer: prometheus.DefaultGatherer,
		stats:    newStatStore(),
		health:   NewHealthManager(),
	}
	for _, opt := range opts {
		opt(module)
	}
	return module
}

// Handler returns an http.Handler serving Prometheus metrics.
func (m *Module) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Health exposes the health manager responsible for liveness and readiness probes.
func (m *Module) Health() *HealthManager {
	if m == nil {
		return nil
	}
	return m.health
}

// Snapshot returns the summary of this module's runtime state.
func (m *Module) Snapshot() Summary {
	if m == nil || m.stats == nil {
		return emptySummary()
	}
	return m.stats.summary()
}

var globalModule atomic.Pointer[Module]

// SetModule configures the process-wide monitoring module used by instrumentation helpers.
func SetModule(module *Module) {
	if module == nil {
		return
	}
	globalModule.Store(module)
}

// CurrentModule returns the process-wide monitoring module, or nil when unset.
func CurrentModule() *Module {
	return globalModule.Load()
}
