package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	StageLatency     *prometheus.HistogramVec
	ModelFallbacks   *prometheus.CounterVec
	WorkerRestarts   prometheus.Counter
	UnusableSpeech   prometheus.Counter
	EventSubscribers prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Conversation requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Per-stage pipeline latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000, 30000},
		}, []string{"stage"}),
		ModelFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_fallbacks_total",
			Help:      "Model candidate failures that advanced the fallback chain.",
		}, []string{"model"}),
		WorkerRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_worker_restarts_total",
			Help:      "Times the resident speech worker was relaunched after exiting.",
		}),
		UnusableSpeech: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unusable_transcripts_total",
			Help:      "Voice requests rejected because no usable speech was recognized.",
		}),
		EventSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Connected stage-event stream subscribers.",
		}),
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageLatency.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
