package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors shared across the process.
type Metrics struct {
	registry *prometheus.Registry

	// DeltasApplied counts provider delta batches by outcome.
	DeltasApplied *prometheus.CounterVec
	// EventsUpserted counts canonical event writes by kind (created/updated/enriched/takeover/dropped/deleted).
	EventsUpserted *prometheus.CounterVec
	// FeedRefreshes counts feed refresh attempts by classification.
	FeedRefreshes *prometheus.CounterVec
	// MirrorIntents counts outbound mirror intents by operation and outcome.
	MirrorIntents *prometheus.CounterVec
	// PartitionOpDuration observes the latency of store partition operations.
	PartitionOpDuration *prometheus.HistogramVec
	// ProofDocuments counts rendered proof documents by format.
	ProofDocuments *prometheus.CounterVec
	// HTTPRequests counts API requests by route and status class.
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates a metrics set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		DeltasApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tminus",
			Subsystem: "store",
			Name:      "deltas_applied_total",
			Help:      "Provider delta batches applied, by outcome.",
		}, []string{"outcome"}),
		EventsUpserted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tminus",
			Subsystem: "store",
			Name:      "events_upserted_total",
			Help:      "Canonical event writes, by kind.",
		}, []string{"kind"}),
		FeedRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tminus",
			Subsystem: "feeds",
			Name:      "refreshes_total",
			Help:      "Feed refresh attempts, by classification.",
		}, []string{"classification"}),
		MirrorIntents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tminus",
			Subsystem: "mirror",
			Name:      "intents_total",
			Help:      "Outbound mirror intents, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		PartitionOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tminus",
			Subsystem: "store",
			Name:      "partition_op_duration_seconds",
			Help:      "Latency of serialized partition operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		ProofDocuments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tminus",
			Subsystem: "governance",
			Name:      "proof_documents_total",
			Help:      "Rendered proof documents, by format.",
		}, []string{"format"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tminus",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "API requests, by route and status class.",
		}, []string{"route", "status"}),
	}
}

// Handler returns an http.Handler exposing the registry in the Prometheus
// text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
