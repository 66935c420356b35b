// Package observability exposes the daemon's Prometheus instruments.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the daemon.
// Each Metrics owns its registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	Notifications  *prometheus.CounterVec
	Speech         *prometheus.CounterVec
	HelperRestarts prometheus.Counter
	HelperMessages *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
	SpeechLatency  prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications compiled, by outcome.",
		}, []string{"outcome"}),
		Speech: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_total",
			Help:      "Utterances handed to the speech backend, by result.",
		}, []string{"result"}),
		HelperRestarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "helper_restarts_total",
			Help:      "Helper process restarts after abnormal exit.",
		}),
		HelperMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "helper_messages_total",
			Help:      "Messages received from notification sources, by type.",
		}, []string{"type"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speech_queue_depth",
			Help:      "Utterances waiting for the speech backend.",
		}),
		SpeechLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speech_latency_ms",
			Help:      "Time spent in the speech backend per utterance in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}),
	}
}

// Nop returns metrics bound to a private registry that nothing scrapes.
func Nop() *Metrics {
	return NewMetrics("tospeak")
}

func (m *Metrics) ObserveSpeechLatency(d time.Duration) {
	m.SpeechLatency.Observe(float64(d.Milliseconds()))
}

// Handler serves this instance's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
