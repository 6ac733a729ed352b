package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry dedicado exposto em /metrics.
	Registry = prometheus.NewRegistry()

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "apime_http_requests_total", Help: "Total de requisições HTTP."},
		[]string{"method", "path", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "apime_http_request_duration_seconds", Help: "Duração das requisições HTTP.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// WebhookAttempts conta tentativas por tipo de evento e resultado (delivered|failed).
	WebhookAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "apime_webhook_attempts_total", Help: "Tentativas de entrega de webhook."},
		[]string{"event_type", "outcome"},
	)
	// WebhookExhausted conta eventos descartados após esgotar as tentativas.
	WebhookExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "apime_webhook_exhausted_total", Help: "Eventos que esgotaram as tentativas de entrega."},
		[]string{"event_type"},
	)
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "apime_webhook_attempt_latency_ms", Help: "Latência de cada tentativa de entrega em ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000}},
		[]string{"event_type", "outcome"},
	)
	WebhookEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "apime_webhook_enqueued_total", Help: "Eventos aceitos na fila de webhook."},
		[]string{"event_type"},
	)
	WebhookDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "apime_webhook_dropped_total", Help: "Eventos descartados antes da fila."},
		[]string{"reason"},
	)

	InstanceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "apime_instance_transitions_total", Help: "Transições de estado de instâncias."},
		[]string{"to"},
	)
	Instances = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "apime_instances", Help: "Instâncias registradas."},
	)
)

var regOnce sync.Once

// Register registra os coletores no Registry; seguro para chamadas repetidas.
func Register() {
	regOnce.Do(func() {
		Registry.MustRegister(
			HTTPRequests,
			HTTPDuration,
			WebhookAttempts,
			WebhookExhausted,
			WebhookLatency,
			WebhookEnqueued,
			WebhookDropped,
			InstanceTransitions,
			Instances,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
