// Package metrics exposes the Prometheus collectors of the registry server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/world-registry/common"
)

// Registry holds every collector of this package.
var Registry = prometheus.NewRegistry()

var (
	// IdentityBootstraps counts identity bootstrap outcomes by path (fresh, stable, regenerated).
	IdentityBootstraps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_bootstrap_total",
		Help: "Identity bootstrap runs by path taken.",
	}, []string{"path"})

	// ProtocolRegistrations counts registrar outcomes (already_present, registered, failed).
	ProtocolRegistrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "protocol_registration_total",
		Help: "Protocol registrar outcomes.",
	}, []string{"outcome"})

	// StoreOperationDuration observes store boundary latency per store and operation.
	StoreOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "store_operation_duration_seconds",
		Help:    "Latency of protocol store operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"store", "op", "result"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prometheus.WrapRegistererWithPrefix(common.PackageName+"_", Registry).MustRegister(
		IdentityBootstraps,
		ProtocolRegistrations,
		StoreOperationDuration,
	)
}

// ObserveStoreOp records the duration of a store operation started at start.
func ObserveStoreOp(store, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StoreOperationDuration.WithLabelValues(store, op, result).Observe(time.Since(start).Seconds())
}

type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server exposing Registry on addr.
func New(addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
