package observability

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DomainMetrics tracks ingestion-specific series via prometheus/client_golang,
// registered on their own registry rather than threaded through Metrics'
// hand-rolled exposition: the teacher's Metrics predates any registry-based
// client and new counters are easier to add correctly (label validation,
// HELP/TYPE consistency) through the real client than by hand. Both are
// served by the same metrics server (StartServer mounts these at
// path+"/domain", beside the legacy handler at path), so this is additive,
// not a replacement.
type DomainMetrics struct {
	registry *prometheus.Registry

	IngestRunsTotal               *prometheus.CounterVec
	CircuitBreakerState           *prometheus.GaugeVec
	RatelimitTokensAvailable      *prometheus.GaugeVec
	CheckpointConsecutiveFailures *prometheus.GaugeVec

	handler http.Handler
	logger  *slog.Logger
}

// NewDomainMetrics builds and registers every domain series on a private
// registry (not prometheus.DefaultRegisterer, so tests can construct more
// than one instance without a "duplicate metrics collector" panic).
func NewDomainMetrics(logger *slog.Logger) *DomainMetrics {
	registry := prometheus.NewRegistry()

	dm := &DomainMetrics{
		registry: registry,
		IngestRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaforge_ingest_runs_total",
			Help: "Completed incremental scan runs by outcome status.",
		}, []string{"status"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mediaforge_circuit_breaker_state",
			Help: "Circuit breaker state per source (0=closed, 0.5=half-open, 1=open).",
		}, []string{"source"}),
		RatelimitTokensAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mediaforge_ratelimit_tokens_available",
			Help: "Token bucket tokens currently available per source.",
		}, []string{"source"}),
		CheckpointConsecutiveFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mediaforge_checkpoint_consecutive_failures",
			Help: "Consecutive scan failures recorded on a thread's checkpoint.",
		}, []string{"thread"}),
		logger: logger.With("component", "domain_metrics"),
	}

	registry.MustRegister(
		dm.IngestRunsTotal,
		dm.CircuitBreakerState,
		dm.RatelimitTokensAvailable,
		dm.CheckpointConsecutiveFailures,
	)
	dm.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return dm
}

// BreakerStateValue maps a breaker state name to the gauge's numeric
// encoding. Unknown names report -1 so a labeling bug is visible in the
// series rather than silently reading as "closed".
func BreakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half_open":
		return 0.5
	case "open":
		return 1
	default:
		return -1
	}
}

// ServeHTTP exposes the domain registry in Prometheus text format.
func (dm *DomainMetrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	dm.handler.ServeHTTP(w, r)
}
