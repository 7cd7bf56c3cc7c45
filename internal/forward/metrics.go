package forward

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus metrics for one Dispatcher.
type Metrics struct {
	RecordsEnqueued  prometheus.Counter
	RecordsRejected  *prometheus.CounterVec
	RecordsEvicted   prometheus.Counter
	RecordsDelivered prometheus.Counter
	Backpressure     prometheus.Counter
	Flushes          *prometheus.CounterVec
	FlushDuration    prometheus.Histogram
	BatchBytes       prometheus.Histogram
	QueueSize        prometheus.Gauge
	Redactions       *prometheus.CounterVec
}

// NewMetrics creates and registers all dispatcher metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spool_records_enqueued_total",
			Help: "Total records admitted to the queue",
		}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spool_records_rejected_total",
			Help: "Total records rejected before admission",
		}, []string{"reason"}),
		RecordsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spool_records_evicted_total",
			Help: "Total records dropped because the queue was full",
		}),
		RecordsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spool_records_delivered_total",
			Help: "Total records uploaded and removed from the queue",
		}),
		Backpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spool_backpressure_events_total",
			Help: "Total enqueue calls refused because the request buffer was full",
		}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spool_flushes_total",
			Help: "Total flush attempts by outcome",
		}, []string{"outcome"}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spool_flush_duration_seconds",
			Help:    "Duration of flushes that reached the transport",
			Buckets: prometheus.DefBuckets,
		}),
		BatchBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spool_batch_bytes",
			Help:    "Size of uploaded batch envelopes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		QueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spool_queue_size",
			Help: "Current number of queued records",
		}),
		Redactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spool_redactions_total",
			Help: "Total PII redactions applied to incoming records",
		}, []string{"pattern"}),
	}
	reg.MustRegister(
		m.RecordsEnqueued,
		m.RecordsRejected,
		m.RecordsEvicted,
		m.RecordsDelivered,
		m.Backpressure,
		m.Flushes,
		m.FlushDuration,
		m.BatchBytes,
		m.QueueSize,
		m.Redactions,
	)
	return m
}

// CountRedaction is a record.Redactor hit callback.
func (m *Metrics) CountRedaction(pattern string) {
	m.Redactions.WithLabelValues(pattern).Inc()
}
