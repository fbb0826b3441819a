package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// validatorCalls counts single-document validations by provider and verdict
	validatorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refcheck_validator_calls_total",
		Help: "Single-document validations by provider and verdict",
	}, []string{"provider", "verdict"})

	// validatorDuration tracks backend latency per validation
	validatorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "refcheck_validator_duration_seconds",
		Help:    "Single-document validation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s to ~2m
	}, []string{"provider"})

	// statementOutcomes counts final per-statement verdicts
	statementOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refcheck_statement_outcomes_total",
		Help: "Final verdicts per unique statement",
	}, []string{"verdict"})

	// cacheLookups counts verdict and document cache lookups
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refcheck_cache_lookups_total",
		Help: "Cache lookups by cache and result",
	}, []string{"cache", "result"})

	// documentsPrepared counts reference documents prepared for prompting
	documentsPrepared = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refcheck_documents_prepared_total",
		Help: "Reference documents prepared by extraction method",
	}, []string{"method"})
)

// ObserveValidation records one single-document validation
func ObserveValidation(provider, verdict string, d time.Duration) {
	validatorCalls.WithLabelValues(provider, verdict).Inc()
	validatorDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// ObserveStatement records the final verdict of one unique statement
func ObserveStatement(verdict string) {
	statementOutcomes.WithLabelValues(verdict).Inc()
}

// ObserveCache records a cache hit or miss
func ObserveCache(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(cache, result).Inc()
}

// ObserveDocument records a prepared reference document
func ObserveDocument(method string) {
	documentsPrepared.WithLabelValues(method).Inc()
}

// MetricsServer exposes /metrics over HTTP
type MetricsServer struct {
	srv *http.Server
	ln  net.Listener
}

// StartMetricsServer listens on addr and serves the default registry
func StartMetricsServer(addr string) (*MetricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s := &MetricsServer{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server stopped: %v\n", err)
		}
	}()
	return s, nil
}

// Addr returns the bound address
func (s *MetricsServer) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
