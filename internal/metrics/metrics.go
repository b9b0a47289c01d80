package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the API and worker services
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rues_http_requests_total",
			Help: "Total number of HTTP requests by route, method and status code",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rues_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	TransactionsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rues_transactions_created_total",
			Help: "Total number of transactions enqueued",
		},
	)

	TransactionsClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rues_transactions_claimed_total",
			Help: "Total number of transactions moved to PROCESANDO",
		},
		[]string{"source"},
	)

	StatusUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rues_status_updates_total",
			Help: "Total number of status updates by target status",
		},
		[]string{"status"},
	)

	KeyValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rues_api_key_validations_total",
			Help: "Total number of API key checks by result",
		},
		[]string{"result"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rues_events_published_total",
			Help: "Total number of transaction events published by result",
		},
		[]string{"result"},
	)

	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rues_processing_duration_seconds",
			Help:    "Duration of worker processing by outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

// Label values
const (
	SourceAPI    = "api"
	SourceEvent  = "event"
	SourcePoller = "poller"

	ResultOK     = "ok"
	ResultFailed = "failed"
	ResultStatic = "static"
	ResultIssued = "issued"
	ResultDenied = "denied"

	OutcomeProcessed = "processed"
	OutcomeError     = "error"
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(TransactionsCreatedTotal)
		prometheus.MustRegister(TransactionsClaimedTotal)
		prometheus.MustRegister(StatusUpdatesTotal)
		prometheus.MustRegister(KeyValidationsTotal)
		prometheus.MustRegister(EventsPublishedTotal)
		prometheus.MustRegister(ProcessingDuration)
	})
}
