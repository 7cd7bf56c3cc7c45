package ingest

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the ingest listener.
type Metrics struct {
	Requests          *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	RecordsReceived   prometheus.Counter
	RecordsRejected   prometheus.Counter
	ActiveConnections prometheus.Gauge
}

// NewMetrics creates and registers the ingest metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spool_ingest_requests_total",
			Help: "Ingest requests by route and status code",
		}, []string{"route", "code"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spool_ingest_request_duration_seconds",
			Help:    "Duration of ingest request handling",
			Buckets: prometheus.DefBuckets,
		}),
		RecordsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spool_ingest_records_received_total",
			Help: "Records accepted over HTTP",
		}),
		RecordsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spool_ingest_records_rejected_total",
			Help: "Records refused over HTTP (invalid or oversized)",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spool_ingest_active_requests",
			Help: "Ingest requests currently being handled",
		}),
	}
	reg.MustRegister(
		m.Requests,
		m.RequestDuration,
		m.RecordsReceived,
		m.RecordsRejected,
		m.ActiveConnections,
	)
	return m
}
