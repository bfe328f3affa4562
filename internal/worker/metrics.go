package worker

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "golisten_worker"

// metrics are registered per server so tests can run several side by side.
type metrics struct {
	registry      *prometheus.Registry
	transcribed   *prometheus.CounterVec
	duration      prometheus.Histogram
	inFlight      prometheus.Gauge
	requestsTotal *prometheus.CounterVec
}

func newMetrics(provider string) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		transcribed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "transcriptions_total",
			Help:        "Transcriptions served, by result kind.",
			ConstLabels: prometheus.Labels{"provider": provider},
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "transcription_duration_seconds",
			Help:        "Time spent inside the provider.",
			ConstLabels: prometheus.Labels{"provider": provider},
			Buckets:     []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transcriptions_in_flight",
			Help:      "Requests waiting for or holding the provider.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests handled.",
		}, []string{"path", "status"}),
	}
	m.registry.MustRegister(m.transcribed, m.duration, m.inFlight, m.requestsTotal)
	return m
}

func (m *metrics) observe(kind string, took time.Duration) {
	if kind == "" {
		kind = "ok"
	}
	m.transcribed.WithLabelValues(kind).Inc()
	m.duration.Observe(took.Seconds())
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
