package metric

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "agentpayy"

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of API requests processed",
		},
		[]string{"method", "endpoint"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"type"},
	)

	taskTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Escrow task state transitions by resulting status",
		},
		[]string{"status"},
	)

	refundSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_sweep_total",
			Help:      "Completed refund sweeps",
		},
	)

	paymentValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_validations_total",
			Help:      "Payment validations by outcome",
		},
		[]string{"result"},
	)

	paymentsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_recorded_total",
			Help:      "On-chain payments written to the ledger",
		},
		[]string{"network"},
	)
)

type Config struct {
	Port int `default:"4014"`
}

// Server exposes /metrics on its own listener.
type Server struct {
	conf *Config
	srv  *http.Server
}

func New(conf *Config) *Server {
	if conf == nil {
		conf = &Config{}
		envconfig.MustProcess("metric", conf)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		conf: conf,
		srv: &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", conf.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start blocks serving metrics until Stop is called.
func (s *Server) Start() error {
	log.Info().Int("port", s.conf.Port).Msg("metrics server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// RecordRequest records a request metric
func RecordRequest(method, endpoint string) {
	requestsTotal.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestDuration records the duration of a request
func RecordRequestDuration(method, endpoint string, duration time.Duration) {
	requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}

func RecordTaskTransition(status string) {
	taskTransitions.WithLabelValues(status).Inc()
}

func RecordRefundSweep() {
	refundSweeps.Inc()
}

func RecordValidation(result string) {
	paymentValidations.WithLabelValues(result).Inc()
}

func RecordPayment(network string) {
	paymentsRecorded.WithLabelValues(network).Inc()
}
