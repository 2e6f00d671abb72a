package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	ItemsScrapedTotal prometheus.Counter
	RetriesTotal      *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	UnitsTotal        *prometheus.CounterVec
	CacheLookupsTotal *prometheus.CounterVec
	PhaseDuration     *prometheus.HistogramVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_items_scraped_total",
			Help: "Total number of products enriched with their details.",
		},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts by unit of work.",
		},
		[]string{"unit"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	units := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_units_total",
			Help: "Terminal outcomes of pages and products.",
		},
		[]string{"unit", "outcome"},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_link_cache_lookups_total",
			Help: "Link cache lookups by result.",
		},
		[]string{"result"},
	)
	phaseDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_phase_duration_seconds",
			Help:    "Wall time of the listing and detail phases per category.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"phase"},
	)

	registry.MustRegister(requests, requestDuration, itemsScraped, retries, errorsTotal, units, cacheLookups, phaseDuration)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		ItemsScrapedTotal: itemsScraped,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		UnitsTotal:        units,
		CacheLookupsTotal: cacheLookups,
		PhaseDuration:     phaseDuration,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncItems increments the items scraped counter.
func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.Inc()
}

// IncRetries increments the retries counter for a unit label.
func (m *Metrics) IncRetries(unit string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(unit).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncUnit records the terminal outcome of a page or product.
func (m *Metrics) IncUnit(unit, outcome string) {
	if m == nil {
		return
	}
	m.UnitsTotal.WithLabelValues(unit, outcome).Inc()
}

// IncCacheLookup records a link cache hit or miss.
func (m *Metrics) IncCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObservePhase records how long one phase of a category took.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}
