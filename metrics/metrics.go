// Package metrics exposes Prometheus counters for the randomness API and a
// standalone metrics HTTP server, kept off the main listener so scrapes are
// never rate limited or gated.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "randomness_requests_total",
		Help: "Randomness requests by operation and outcome.",
	}, []string{"operation", "outcome"})

	PaymentDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_denials_total",
		Help: "Payment gate denials by reason.",
	}, []string{"reason"})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limited_total",
		Help: "Requests rejected by the rate limiter, by scope.",
	}, []string{"scope"})

	ReplayStoreDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replay_store_degraded",
		Help: "1 while the durable replay store is unreachable and only the in-memory fallback is active.",
	})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlements_total",
		Help: "Deferred payment settlements by outcome.",
	}, []string{"outcome"})

	CommitmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commitments_total",
		Help: "Commitment publications by outcome.",
	}, []string{"outcome"})
)

// MetricsServer serves the Prometheus registry over HTTP.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr. The namespace argument is
// kept for call-site symmetry with the request counters' naming.
func New(namespace, addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}, nil
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
