package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPipelineMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)
	m.ObserveWebhook("message.new", "accepted")
	m.ObserveWebhookLatency("message.new", 0.02)
	m.ObserveQueueDrop()
	m.SetQueueDepth(7)
	m.ObserveExtraction("name", "applied")
	m.ObserveLeadUpsert("created")
	m.ObserveSendRetry()
	m.ObserveSend("delivered")
}

func TestPipelineMetricsNilSafe(t *testing.T) {
	var m *PipelineMetrics
	m.ObserveWebhook("event", "status")
	m.ObserveWebhookLatency("event", 0.1)
	m.ObserveQueueDrop()
	m.SetQueueDepth(0)
	m.ObserveExtraction("phone", "skipped")
	m.ObserveLeadUpsert("failed")
	m.ObserveSendRetry()
	m.ObserveSend("failed")
}
