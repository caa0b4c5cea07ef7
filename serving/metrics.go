package serving

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the prediction service.
type Metrics struct {
	Requests    *prometheus.CounterVec   // requests by route and status code
	Failures    *prometheus.CounterVec   // failed requests by route and reason
	Latency     *prometheus.HistogramVec // handler latency by route
	Predictions prometheus.Counter       // records scored
	BatchSize   prometheus.Histogram     // records per /predict_bulk call
	CacheHits   prometheus.Counter       // single predictions served from the cache
	CacheMisses prometheus.Counter
	Ready       prometheus.Gauge // 1 when the model is serving
}

// NewMetrics registers the collectors with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "failrisk_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "code"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "failrisk_prediction_failures_total",
			Help: "Total number of rejected or failed prediction requests",
		}, []string{"route", "reason"}),
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "failrisk_http_request_duration_seconds",
			Help:    "HTTP handler latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"route"}),
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "failrisk_predictions_total",
			Help: "Total number of records scored",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "failrisk_bulk_batch_size",
			Help:    "Number of records per bulk prediction request",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "failrisk_prediction_cache_hits_total",
			Help: "Single-record predictions answered from the cache",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "failrisk_prediction_cache_misses_total",
			Help: "Single-record predictions that ran the model",
		}),
		Ready: factory.NewGauge(prometheus.GaugeOpts{
			Name: "failrisk_model_ready",
			Help: "1 when the prediction pipeline is serving",
		}),
	}
}
