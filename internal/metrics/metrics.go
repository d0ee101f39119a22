package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LookupResult captures how the pre-dispatch cache consultation ended.
type LookupResult string

const (
	// LookupHit indicates a fresh entry was served.
	LookupHit LookupResult = "hit"
	// LookupConditional indicates a 304 was served for a matching If-Modified-Since.
	LookupConditional LookupResult = "conditional"
	// LookupStale indicates an expired entry was served while another request regenerates.
	LookupStale LookupResult = "stale"
	// LookupExpired indicates an expired entry was dropped and the request passed through.
	LookupExpired LookupResult = "expired"
	// LookupMiss indicates no entry was present.
	LookupMiss LookupResult = "miss"
	// LookupBypass indicates the request was never eligible (method, no backend).
	LookupBypass LookupResult = "bypass"
	// LookupError indicates the backend lookup failed.
	LookupError LookupResult = "error"
)

// StoreResult captures the outcome of the post-finalize store decision.
type StoreResult string

const (
	// StoreStored indicates the page was persisted.
	StoreStored StoreResult = "stored"
	// StoreSkipped indicates the response did not qualify for caching.
	StoreSkipped StoreResult = "skipped"
	// StoreError indicates the backend write failed.
	StoreError StoreResult = "error"
)

// Recorder publishes Prometheus metrics for page-cache activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	pageLookups   *prometheus.CounterVec
	pageStores    *prometheus.CounterVec
	pageLatency   *prometheus.HistogramVec
	invalidations prometheus.Counter
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	pageLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cachefront",
		Subsystem: "pagecache",
		Name:      "lookups_total",
		Help:      "Pre-dispatch page cache consultations by result.",
	}, []string{"result"})

	pageStores := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cachefront",
		Subsystem: "pagecache",
		Name:      "stores_total",
		Help:      "Post-finalize page cache store decisions by result.",
	}, []string{"result"})

	pageLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cachefront",
		Subsystem: "pagecache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for page cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"operation", "result"})

	invalidations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cachefront",
		Subsystem: "pagecache",
		Name:      "invalidated_pages_total",
		Help:      "Pages removed through pattern invalidation.",
	})

	reg.MustRegister(pageLookups, pageStores, pageLatency, invalidations)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:      reg,
		handler:       handler,
		pageLookups:   pageLookups,
		pageStores:    pageStores,
		pageLatency:   pageLatency,
		invalidations: invalidations,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveLookup records the result and latency of one pre-dispatch consultation.
func (r *Recorder) ObserveLookup(result LookupResult, duration time.Duration) {
	if r == nil {
		return
	}
	label := normalizeLabel(string(result))
	r.pageLookups.WithLabelValues(label).Inc()
	r.pageLatency.WithLabelValues("lookup", label).Observe(duration.Seconds())
}

// ObserveStore records the result and latency of one store decision.
func (r *Recorder) ObserveStore(result StoreResult, duration time.Duration) {
	if r == nil {
		return
	}
	label := normalizeLabel(string(result))
	r.pageStores.WithLabelValues(label).Inc()
	r.pageLatency.WithLabelValues("store", label).Observe(duration.Seconds())
}

// ObserveInvalidation records how many pages a ClearCachedPage call removed.
func (r *Recorder) ObserveInvalidation(removed int) {
	if r == nil || removed <= 0 {
		return
	}
	r.invalidations.Add(float64(removed))
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
