package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for the inbound message pipeline.
type PipelineMetrics struct {
	webhookTotal    *prometheus.CounterVec
	webhookLatency  *prometheus.HistogramVec
	queueDropped    prometheus.Counter
	queueDepth      prometheus.Gauge
	extractionTotal *prometheus.CounterVec
	leadTotal       *prometheus.CounterVec
	sendRetryTotal  prometheus.Counter
	sendTotal       *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avito",
			Subsystem: "webhook",
			Name:      "inbound_total",
			Help:      "Total inbound Avito webhooks",
		}, []string{"event_type", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "avito",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of webhook acceptance",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avito",
			Subsystem: "queue",
			Name:      "dropped_total",
			Help:      "Events dropped because the processing queue was full",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "avito",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Events currently buffered across queue shards",
		}),
		extractionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avito",
			Subsystem: "extraction",
			Name:      "total",
			Help:      "Extraction attempts by field and outcome",
		}, []string{"field", "outcome"}),
		leadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avito",
			Subsystem: "leads",
			Name:      "upsert_total",
			Help:      "Lead upsert attempts by result",
		}, []string{"result"}),
		sendRetryTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avito",
			Subsystem: "sender",
			Name:      "retry_total",
			Help:      "Reply send retries",
		}),
		sendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avito",
			Subsystem: "sender",
			Name:      "send_total",
			Help:      "Reply send outcomes",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.webhookTotal,
		m.webhookLatency,
		m.queueDropped,
		m.queueDepth,
		m.extractionTotal,
		m.leadTotal,
		m.sendRetryTotal,
		m.sendTotal,
	)
	return m
}

func (m *PipelineMetrics) ObserveWebhook(eventType, status string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(eventType, status).Inc()
}

func (m *PipelineMetrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}

func (m *PipelineMetrics) ObserveQueueDrop() {
	if m == nil {
		return
	}
	m.queueDropped.Inc()
}

func (m *PipelineMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *PipelineMetrics) ObserveExtraction(field, outcome string) {
	if m == nil {
		return
	}
	m.extractionTotal.WithLabelValues(field, outcome).Inc()
}

func (m *PipelineMetrics) ObserveLeadUpsert(result string) {
	if m == nil {
		return
	}
	m.leadTotal.WithLabelValues(result).Inc()
}

func (m *PipelineMetrics) ObserveSendRetry() {
	if m == nil {
		return
	}
	m.sendRetryTotal.Inc()
}

func (m *PipelineMetrics) ObserveSend(status string) {
	if m == nil {
		return
	}
	m.sendTotal.WithLabelValues(status).Inc()
}
