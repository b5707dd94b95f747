package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"threatprint/internal/domain/models"
)

// Metrics holds the process instrumentation. One instance per process,
// created at startup and shared by the HTTP layer.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	IngestRecords *prometheus.CounterVec
	QueryDuration prometheus.Histogram
}

// New creates and registers the instrument set
func New(appName string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: appName,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: appName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		IngestRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: appName,
			Name:      "ingest_records_total",
			Help:      "Ingested records by source and outcome.",
		}, []string{"source", "outcome"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: appName,
			Name:      "correlation_query_duration_seconds",
			Help:      "Correlation query latency.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
	}
	registry.MustRegister(m.HTTPRequests, m.HTTPDuration, m.IngestRecords, m.QueryDuration)
	return m
}

// RegisterEngine exposes the engine's introspection stats as gauges. The
// callback runs on every scrape.
func (m *Metrics) RegisterEngine(appName string, stats func() models.Stats) {
	m.registry.MustRegister(&engineCollector{
		stats: stats,
		indicators: prometheus.NewDesc(
			prometheus.BuildFQName(appName, "", "indicators"),
			"Indicators currently stored.", nil, nil),
		collisions: prometheus.NewDesc(
			prometheus.BuildFQName(appName, "", "fingerprint_collisions_total"),
			"Full fingerprint collisions observed since start.", nil, nil),
		memory: prometheus.NewDesc(
			prometheus.BuildFQName(appName, "", "heap_bytes"),
			"Heap bytes in use.", nil, nil),
		queries: prometheus.NewDesc(
			prometheus.BuildFQName(appName, "", "queries_total"),
			"Correlation queries served since start.", nil, nil),
	})
}

// Handler serves the scrape endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveIngest records a finished ingest report
func (m *Metrics) ObserveIngest(report models.IngestReport) {
	m.IngestRecords.WithLabelValues(report.Source, "created").Add(float64(report.IndicatorsCreated))
	m.IngestRecords.WithLabelValues(report.Source, "updated").Add(float64(report.IndicatorsUpdated))
	m.IngestRecords.WithLabelValues(report.Source, "suppressed").Add(float64(report.DuplicatesSuppressed))
	m.IngestRecords.WithLabelValues(report.Source, "dropped").Add(float64(report.RecordsDropped))
}

// engineCollector reads engine stats on scrape
type engineCollector struct {
	stats func() models.Stats

	indicators *prometheus.Desc
	collisions *prometheus.Desc
	memory     *prometheus.Desc
	queries    *prometheus.Desc
}

func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.indicators
	ch <- c.collisions
	ch <- c.memory
	ch <- c.queries
}

func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.indicators, prometheus.GaugeValue, float64(s.IndicatorCount))
	ch <- prometheus.MustNewConstMetric(c.collisions, prometheus.CounterValue, float64(s.FingerprintCollisions))
	ch <- prometheus.MustNewConstMetric(c.memory, prometheus.GaugeValue, float64(s.MemoryBytes))
	ch <- prometheus.MustNewConstMetric(c.queries, prometheus.CounterValue, float64(s.QueriesSinceStart))
}
