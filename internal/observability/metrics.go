package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Per-client latency statistics from the performance watcher.
	RequestsDev = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_requests_dev_milliseconds",
			Help: "Mean plus one standard deviation of per-client average request durations",
		},
	)
	RequestsMinAvg = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_requests_min_avg_milliseconds",
			Help: "Smallest per-client average request duration",
		},
	)
	RequestsMaxAvg = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_requests_max_avg_milliseconds",
			Help: "Largest per-client average request duration",
		},
	)
	RequestsAvg = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_requests_avg_milliseconds",
			Help: "Mean of per-client average request durations",
		},
	)

	QueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_queue_size",
			Help: "Current number of items in a bridge queue",
		},
		[]string{"queue"},
	)
	APIClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_api_clients",
			Help: "Number of live upstream API clients",
		},
	)
	Workers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_workers",
			Help: "Number of live workers per pool",
		},
		[]string{"pool"},
	)

	ItemsHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_items_handled_total",
			Help: "Total number of resource items by terminal outcome",
		},
		[]string{"outcome"},
	)
	ClientsDroppedCookiesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_clients_dropped_cookies_total",
			Help: "Total number of API client session rotations",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(RequestsDev)
	prometheus.MustRegister(RequestsMinAvg)
	prometheus.MustRegister(RequestsMaxAvg)
	prometheus.MustRegister(RequestsAvg)
	prometheus.MustRegister(QueueSize)
	prometheus.MustRegister(APIClients)
	prometheus.MustRegister(Workers)
	prometheus.MustRegister(ItemsHandledTotal)
	prometheus.MustRegister(ClientsDroppedCookiesTotal)
}

// HandleItem records a terminal outcome for one resource item.
func HandleItem(outcome string) {
	ItemsHandledTotal.WithLabelValues(outcome).Inc()
}

// OpsRouter builds the operational HTTP surface: health and Prometheus scrape
// endpoints, rate limited per client IP.
func OpsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(httprate.LimitByIP(60, time.Minute))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
