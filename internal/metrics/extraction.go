package metrics

import "github.com/prometheus/client_golang/prometheus"

// Vision model and extraction Prometheus metrics.
var (
	ModelRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guestid",
			Name:      "model_requests_total",
			Help:      "Total number of vision model requests",
		},
		[]string{"provider", "model", "pass", "status"},
	)

	ModelRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guestid",
			Name:      "model_request_duration_seconds",
			Help:      "Vision model request duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"provider", "model", "pass"},
	)

	ModelTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guestid",
			Name:      "model_tokens_total",
			Help:      "Total vision model tokens consumed",
		},
		[]string{"provider", "model", "type"},
	)

	ModelErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guestid",
			Name:      "model_errors_total",
			Help:      "Total vision model errors",
		},
		[]string{"provider", "model", "error_type"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guestid",
			Name:      "retry_attempts_total",
			Help:      "Failed model attempts by error class",
		},
		[]string{"class"}, // "fatal" / "rate_limited" / "transient"
	)

	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guestid",
			Name:      "admissions_total",
			Help:      "Per-organization admission decisions",
		},
		[]string{"result"}, // "admitted" / "rejected"
	)

	ExtractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guestid",
			Name:      "extractions_total",
			Help:      "Extraction runs by document type and outcome",
		},
		[]string{"document_type", "status"},
	)

	ExtractionPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guestid",
			Name:      "extraction_passes_total",
			Help:      "Extraction passes by outcome",
		},
		[]string{"pass", "status"},
	)

	FieldsFlaggedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guestid",
			Name:      "fields_flagged_total",
			Help:      "Fields marked for manual verification",
		},
		[]string{"document_type"},
	)

	OverallConfidence = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guestid",
			Name:      "overall_confidence",
			Help:      "Overall confidence of successful extractions",
			Buckets:   []float64{10, 25, 50, 70, 85, 90, 95, 99},
		},
		[]string{"document_type"},
	)
)

var extractionMetricsRegistered bool

// RegisterExtractionMetrics registers Prometheus extraction metrics. Must be called once from main.
func RegisterExtractionMetrics() {
	if extractionMetricsRegistered {
		return
	}
	prometheus.MustRegister(ModelRequestsTotal)
	prometheus.MustRegister(ModelRequestDuration)
	prometheus.MustRegister(ModelTokensTotal)
	prometheus.MustRegister(ModelErrorsTotal)
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(AdmissionsTotal)
	prometheus.MustRegister(ExtractionsTotal)
	prometheus.MustRegister(ExtractionPassesTotal)
	prometheus.MustRegister(FieldsFlaggedTotal)
	prometheus.MustRegister(OverallConfidence)
	extractionMetricsRegistered = true
}
